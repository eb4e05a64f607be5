/*
Copyright IBM Corp All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package operations

import (
	"encoding/json"
	"net/http"
	"runtime"

	"github.com/pkg/errors"
)

// VersionInfo is the build information served on /version.
type VersionInfo struct {
	Version   string `json:"Version,omitempty"`
	CommitSHA string `json:"CommitSHA,omitempty"`
	GoVersion string `json:"GoVersion,omitempty"`
}

// NewVersionInfo describes the running binary.
func NewVersionInfo(version, commitSHA string) *VersionInfo {
	return &VersionInfo{
		Version:   version,
		CommitSHA: commitSHA,
		GoVersion: runtime.Version(),
	}
}

// VersionInfoHandler serves GET requests with the version information. Error
// responses carry the ID of the request that caused them.
type VersionInfoHandler struct {
	Logger      Logger
	VersionInfo *VersionInfo
}

type versionErrorResponse struct {
	Error     string `json:"Error"`
	RequestID string `json:"RequestID"`
}

func (h *VersionInfoHandler) ServeHTTP(resp http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		reqID := RequestID(req.Context())
		h.Logger.Debugw("Rejected version request", "method", req.Method, "request_id", reqID)
		h.write(resp, http.StatusBadRequest, &versionErrorResponse{
			Error:     errors.Errorf("invalid request method: %s", req.Method).Error(),
			RequestID: reqID,
		})
		return
	}
	h.write(resp, http.StatusOK, h.VersionInfo)
}

func (h *VersionInfoHandler) write(resp http.ResponseWriter, code int, payload interface{}) {
	js, err := json.Marshal(payload)
	if err != nil {
		h.Logger.Errorf("Failed encoding version response: %s", err)
		resp.WriteHeader(http.StatusInternalServerError)
		return
	}
	resp.Header().Set("Content-Type", "application/json")
	resp.WriteHeader(code)
	resp.Write(js)
}
