/*
Copyright IBM Corp All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package operations_test

import (
	"net/http"
	"net/http/httptest"
	"runtime"

	"github.com/hyperledger/fabric-chaincode-cid/common/flogging"
	"github.com/hyperledger/fabric-chaincode-cid/internal/operations"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Version", func() {
	var versionInfoHandler *operations.VersionInfoHandler

	BeforeEach(func() {
		versionInfoHandler = &operations.VersionInfoHandler{
			Logger:      flogging.MustGetLogger("test"),
			VersionInfo: operations.NewVersionInfo("latest", "abc123"),
		}
	})

	It("describes the running binary", func() {
		info := operations.NewVersionInfo("latest", "abc123")
		Expect(info.GoVersion).To(Equal(runtime.Version()))
	})

	It("returns 200 if the method is GET", func() {
		resp := httptest.NewRecorder()
		versionInfoHandler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/version", nil))
		Expect(resp.Result().StatusCode).To(Equal(http.StatusOK))
		Expect(resp.Result().Header.Get("Content-Type")).To(Equal("application/json"))
		Expect(resp.Body).To(MatchJSON(`{"Version": "latest", "CommitSHA": "abc123", "GoVersion": "` + runtime.Version() + `"}`))
	})

	It("returns 400 when an unsupported method is used", func() {
		resp := httptest.NewRecorder()
		versionInfoHandler.ServeHTTP(resp, httptest.NewRequest(http.MethodPut, "/version", nil))
		Expect(resp.Result().StatusCode).To(Equal(http.StatusBadRequest))
		Expect(resp.Body).To(MatchJSON(`{"Error": "invalid request method: PUT", "RequestID": "unknown"}`))
	})
})
