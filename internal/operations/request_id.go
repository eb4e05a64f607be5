/*
Copyright IBM Corp All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package operations

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
)

var requestIDKey = requestIDKeyType{}

type requestIDKeyType struct{}

// RequestID returns the ID of the request carried by ctx, or "unknown".
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDKey).(string); ok {
		return reqID
	}
	return "unknown"
}

// withRequestID is a mux middleware that propagates the X-Request-Id header,
// generating one when the client did not send it.
func (s *System) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		reqID := req.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = generateID()
			req.Header.Set("X-Request-Id", reqID)
		}

		ctx := context.WithValue(req.Context(), requestIDKey, reqID)
		req = req.WithContext(ctx)

		w.Header().Add("X-Request-Id", reqID)
		s.logger.Debugw("Operations request", "method", req.Method, "path", req.URL.Path, "request_id", reqID)

		next.ServeHTTP(w, req)
	})
}

func generateID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}
