/*
Copyright IBM Corp All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package operations

import (
	"context"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/hyperledger/fabric-chaincode-cid/common/flogging"
	"github.com/hyperledger/fabric-chaincode-cid/common/flogging/httpadmin"
	"github.com/hyperledger/fabric-chaincode-cid/common/metadata"
	"github.com/hyperledger/fabric-chaincode-cid/common/metrics"
	"github.com/hyperledger/fabric-chaincode-cid/common/metrics/disabled"
	"github.com/hyperledger/fabric-chaincode-cid/common/metrics/prometheus"
	"github.com/hyperledger/fabric-lib-go/healthz"
	"github.com/pkg/errors"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Logger interface {
	Debugw(msg string, kvPairs ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

type MetricsOptions struct {
	// Provider is "prometheus" or "disabled".
	Provider string
}

type Options struct {
	Logger             Logger
	ListenAddress      string
	HealthCheckTimeout time.Duration
	Metrics            MetricsOptions
	Version            string
}

// System serves the operational endpoints of the process: /healthz,
// /logspec, /version and, with the prometheus provider, /metrics.
type System struct {
	metrics.Provider

	logger        Logger
	options       Options
	router        *mux.Router
	httpServer    *http.Server
	healthHandler *healthz.HealthHandler
	versionGauge  metrics.Gauge

	mutex sync.Mutex
	addr  string
}

func NewSystem(o Options) *System {
	logger := o.Logger
	if logger == nil {
		logger = flogging.MustGetLogger("operations.runner")
	}
	if o.Version == "" {
		o.Version = metadata.Version
	}

	system := &System{
		logger:  logger,
		options: o,
		router:  mux.NewRouter(),
	}
	system.router.Use(system.withRequestID)
	system.httpServer = &http.Server{
		Addr:         o.ListenAddress,
		Handler:      system.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}

	system.initializeHealthCheckHandler()
	system.initializeLoggingHandler()
	system.initializeMetricsProvider()
	system.initializeVersionInfoHandler()

	return system
}

// Run implements ifrit.Runner.
func (s *System) Run(signals <-chan os.Signal, ready chan<- struct{}) error {
	err := s.Start()
	if err != nil {
		return err
	}

	close(ready)

	<-signals
	return s.Stop()
}

func (s *System) Start() error {
	listener, err := net.Listen("tcp", s.options.ListenAddress)
	if err != nil {
		return err
	}

	s.mutex.Lock()
	s.addr = listener.Addr().String()
	s.mutex.Unlock()

	s.versionGauge.With("version", s.options.Version).Set(1)

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("Operations server stopped: %s", err)
		}
	}()

	return nil
}

func (s *System) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(ctx)
}

// Addr returns the address the system listens on once started.
func (s *System) Addr() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.addr
}

// RegisterChecker adds a health checker for component. The error for a
// duplicate component replaces healthz.AlreadyRegisteredError, whose Error
// method recurses without end.
func (s *System) RegisterChecker(component string, checker healthz.HealthChecker) error {
	err := s.healthHandler.RegisterChecker(component, checker)
	if _, ok := err.(healthz.AlreadyRegisteredError); ok {
		return errors.Errorf("health checker for '%s' is already registered", component)
	}
	return err
}

// RegisterHandler routes requests for path to handler. Handlers must be
// registered before Start.
func (s *System) RegisterHandler(path string, handler http.Handler) {
	s.router.Handle(path, handler)
}

func (s *System) initializeMetricsProvider() {
	providerType := s.options.Metrics.Provider
	switch providerType {
	case "prometheus":
		registry := prom.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		s.Provider = &prometheus.Provider{Registerer: registry}
		s.RegisterHandler("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	default:
		if providerType != "disabled" {
			s.logger.Warnf("Unknown provider type: %s; metrics disabled", providerType)
		}
		s.Provider = &disabled.Provider{}
	}

	s.versionGauge = s.Provider.NewGauge(versionOpts)
}

func (s *System) initializeLoggingHandler() {
	s.RegisterHandler("/logspec", httpadmin.NewSpecHandler())
}

func (s *System) initializeHealthCheckHandler() {
	s.healthHandler = healthz.NewHealthHandler()
	if s.options.HealthCheckTimeout > 0 {
		s.healthHandler.SetTimeout(s.options.HealthCheckTimeout)
	}
	s.RegisterHandler("/healthz", s.healthHandler)
}

func (s *System) initializeVersionInfoHandler() {
	versionInfo := &VersionInfoHandler{
		Logger:      s.logger,
		VersionInfo: NewVersionInfo(s.options.Version, metadata.CommitSHA),
	}
	s.RegisterHandler("/version", versionInfo)
}
