/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package node

import (
	"context"
	"os"
	"sync"
	"syscall"

	"github.com/hyperledger/fabric-chaincode-cid/common/flogging"
	"github.com/hyperledger/fabric-chaincode-cid/common/metadata"
	"github.com/hyperledger/fabric-chaincode-cid/internal/abac"
	"github.com/hyperledger/fabric-chaincode-cid/internal/abac/config"
	"github.com/hyperledger/fabric-chaincode-cid/internal/operations"
	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tedsuo/ifrit"
	"github.com/tedsuo/ifrit/grouper"
	"github.com/tedsuo/ifrit/sigmon"
	"google.golang.org/grpc/keepalive"
)

var logger = flogging.MustGetLogger("abac.node")

func StartCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Starts the abac chaincode.",
		Long:  `Starts the abac chaincode and its operations endpoint.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return errors.New("trailing args detected")
			}
			// Parsing of the command line is done so silence cmd usage
			cmd.SilenceUsage = true
			return serve(configFile)
		},
	}
	addFlags(cmd.Flags(), &configFile)
	return cmd
}

func addFlags(flags *pflag.FlagSet, configFile *string) {
	flags.StringVarP(configFile, "config", "c", "", "path of the configuration file; abac.yaml is searched in $ABAC_CFG_PATH, . and /etc/hyperledger/abac when unset")
}

func serve(configFile string) error {
	c, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if err := flogging.Global.Apply(flogging.Config{
		Format:  c.Logging.Format,
		LogSpec: c.Logging.Spec,
		Writer:  os.Stderr,
	}); err != nil {
		return errors.WithMessage(err, "invalid logging configuration")
	}

	opsSystem := operations.NewSystem(operations.Options{
		Logger:             flogging.MustGetLogger("operations.runner"),
		ListenAddress:      c.Operations.ListenAddress,
		HealthCheckTimeout: c.Operations.HealthCheckTimeout,
		Metrics:            operations.MetricsOptions{Provider: c.Metrics.Provider},
		Version:            metadata.Version,
	})

	cc, err := abac.New(c.Policies, c.Admins, opsSystem.Provider)
	if err != nil {
		return err
	}

	runner := NewChaincodeRunner(c.Chaincode, cc)
	if err := opsSystem.RegisterChecker("chaincode", runner); err != nil {
		return err
	}

	members := grouper.Members{
		{Name: "operations", Runner: opsSystem},
		{Name: "chaincode", Runner: runner},
	}
	group := grouper.NewOrdered(syscall.SIGTERM, members)

	logger.Infof("Starting abac chaincode %s, version %s", c.Chaincode.ID, metadata.Version)
	process := ifrit.Invoke(sigmon.New(group, syscall.SIGTERM, syscall.SIGINT))
	return <-process.Wait()
}

// ChaincodeRunner runs the chaincode as an ifrit member. The shim offers no
// way to stop a running chaincode, so a signal only releases the runner.
type ChaincodeRunner struct {
	start func() error

	mutex  sync.Mutex
	exited bool
	err    error
}

// NewChaincodeRunner runs cc as a chaincode server on c.Address, or launched
// by the peer when no address is configured.
func NewChaincodeRunner(c config.Chaincode, cc shim.Chaincode) *ChaincodeRunner {
	if c.Address == "" {
		return &ChaincodeRunner{start: func() error { return shim.Start(cc) }}
	}

	server := &shim.ChaincodeServer{
		CCID:    c.ID,
		Address: c.Address,
		CC:      cc,
		TLSProps: shim.TLSProperties{
			Disabled:      !c.TLS.Enabled,
			Key:           []byte(c.TLS.Key),
			Cert:          []byte(c.TLS.Cert),
			ClientCACerts: []byte(c.TLS.ClientCACert),
		},
	}
	if c.KeepAlive.Interval != 0 || c.KeepAlive.Timeout != 0 {
		server.KaOpts = &keepalive.ServerParameters{
			Time:    c.KeepAlive.Interval,
			Timeout: c.KeepAlive.Timeout,
		}
	}
	return &ChaincodeRunner{start: server.Start}
}

func (r *ChaincodeRunner) Run(signals <-chan os.Signal, ready chan<- struct{}) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.start()
	}()
	close(ready)

	select {
	case err := <-errCh:
		r.mutex.Lock()
		r.exited, r.err = true, err
		r.mutex.Unlock()
		if err == nil {
			return errors.New("chaincode exited")
		}
		return errors.WithMessage(err, "chaincode exited")
	case <-signals:
		return nil
	}
}

// HealthCheck fails once the chaincode has exited.
func (r *ChaincodeRunner) HealthCheck(ctx context.Context) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if !r.exited {
		return nil
	}
	if r.err != nil {
		return errors.WithMessage(r.err, "chaincode exited")
	}
	return errors.New("chaincode exited")
}
