/*
Copyright IBM Corp All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package operations_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/hyperledger/fabric-chaincode-cid/common/metrics"
	"github.com/hyperledger/fabric-chaincode-cid/common/metrics/disabled"
	"github.com/hyperledger/fabric-chaincode-cid/common/metrics/prometheus"
	"github.com/hyperledger/fabric-chaincode-cid/internal/operations"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/tedsuo/ifrit"
)

type healthChecker func(context.Context) error

func (h healthChecker) HealthCheck(ctx context.Context) error { return h(ctx) }

var _ = Describe("System", func() {
	var (
		options operations.Options
		system  *operations.System
		client  *http.Client
	)

	BeforeEach(func() {
		options = operations.Options{
			ListenAddress:      "127.0.0.1:0",
			HealthCheckTimeout: time.Second,
			Metrics:            operations.MetricsOptions{Provider: "prometheus"},
			Version:            "1.2.3",
		}
		client = &http.Client{Timeout: 5 * time.Second}
	})

	JustBeforeEach(func() {
		system = operations.NewSystem(options)
	})

	AfterEach(func() {
		if system != nil {
			system.Stop()
		}
	})

	get := func(path string) (*http.Response, string) {
		resp, err := client.Get(fmt.Sprintf("http://%s%s", system.Addr(), path))
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return resp, string(body)
	}

	It("serves the health of registered components", func() {
		Expect(system.Start()).To(Succeed())
		Expect(system.Addr()).NotTo(Equal("127.0.0.1:0"))

		resp, body := get("/healthz")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body).To(ContainSubstring(`"status":"OK"`))
		Expect(resp.Header.Get("X-Request-Id")).NotTo(BeEmpty())

		err := system.RegisterChecker("chaincode", healthChecker(func(context.Context) error {
			return fmt.Errorf("not connected")
		}))
		Expect(err).NotTo(HaveOccurred())
		err = system.RegisterChecker("chaincode", healthChecker(func(context.Context) error { return nil }))
		Expect(err).To(MatchError("health checker for 'chaincode' is already registered"))

		resp, body = get("/healthz")
		Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
		Expect(body).To(ContainSubstring(`"failed_checks":[{"component":"chaincode","reason":"not connected"}]`))
	})

	It("echoes the request ID", func() {
		Expect(system.Start()).To(Succeed())

		req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("http://%s/version", system.Addr()), nil)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("X-Request-Id", "request-1")
		resp, err := client.Do(req)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.Header.Get("X-Request-Id")).To(Equal("request-1"))
	})

	It("serves and updates the logging spec", func() {
		Expect(system.Start()).To(Succeed())

		resp, body := get("/logspec")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body).To(ContainSubstring(`"spec"`))

		req, err := http.NewRequest(http.MethodPut, fmt.Sprintf("http://%s/logspec", system.Addr()), strings.NewReader(`{"spec": "bad=spec=value"}`))
		Expect(err).NotTo(HaveOccurred())
		resp, err = client.Do(req)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("serves the version", func() {
		Expect(system.Start()).To(Succeed())

		resp, body := get("/version")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body).To(MatchJSON(fmt.Sprintf(`{"CommitSHA": "development build", "Version": "1.2.3", "GoVersion": %q}`, runtime.Version())))
	})

	It("reports the request ID of rejected version requests", func() {
		Expect(system.Start()).To(Succeed())

		req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("http://%s/version", system.Addr()), nil)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("X-Request-Id", "request-2")
		resp, err := client.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		Expect(body).To(MatchJSON(`{"Error": "invalid request method: POST", "RequestID": "request-2"}`))
	})

	Context("when the metrics provider is prometheus", func() {
		It("exposes meters created through the system", func() {
			Expect(system.Provider).To(BeAssignableToTypeOf(&prometheus.Provider{}))

			counter := system.NewCounter(metrics.CounterOpts{
				Namespace:  "abac",
				Name:       "invocations_total",
				Help:       "test",
				LabelNames: []string{"function"},
			})
			counter.With("function", "whoami").Add(1)
			Expect(system.Start()).To(Succeed())

			resp, body := get("/metrics")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).To(ContainSubstring(`abac_invocations_total{function="whoami"} 1`))
			Expect(body).To(ContainSubstring(`abac_version{version="1.2.3"} 1`))
			Expect(body).To(ContainSubstring(`go_goroutines`))
		})
	})

	Context("when the metrics provider is disabled", func() {
		BeforeEach(func() {
			options.Metrics.Provider = "disabled"
		})

		It("does not serve metrics", func() {
			Expect(system.Provider).To(Equal(&disabled.Provider{}))
			Expect(system.Start()).To(Succeed())

			resp, _ := get("/metrics")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Context("when the metrics provider is unknown", func() {
		BeforeEach(func() {
			options.Metrics.Provider = "statsd"
		})

		It("disables metrics", func() {
			Expect(system.Provider).To(Equal(&disabled.Provider{}))
		})
	})

	Context("when the listen address is in use", func() {
		It("fails to start", func() {
			Expect(system.Start()).To(Succeed())

			options.ListenAddress = system.Addr()
			other := operations.NewSystem(options)
			Expect(other.Start()).NotTo(Succeed())
		})
	})

	It("runs as an ifrit process", func() {
		process := ifrit.Invoke(system)
		Eventually(process.Ready()).Should(BeClosed())

		resp, _ := get("/healthz")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		process.Signal(syscall.SIGTERM)
		Eventually(process.Wait()).Should(Receive(BeNil()))
		system = nil
	})

	It("returns the start error from Run", func() {
		Expect(system.Start()).To(Succeed())
		options.ListenAddress = system.Addr()
		other := operations.NewSystem(options)

		err := other.Run(make(chan os.Signal), make(chan struct{}))
		Expect(err).To(HaveOccurred())
	})
})
