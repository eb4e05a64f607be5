/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package config loads the configuration of the abac chaincode from an
// optional YAML file and ABAC_ prefixed environment variables.
package config

import (
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/hyperledger/fabric-chaincode-cid/common/flogging"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

var logger = flogging.MustGetLogger("abac.config")

// Config is the configuration of the abac chaincode process.
type Config struct {
	Chaincode  Chaincode
	Logging    Logging
	Operations Operations
	Metrics    Metrics
	// Policies maps function names to policy expressions.
	Policies map[string]string
	// Admins lists the MSP IDs whose identities bypass all policies.
	Admins []string
}

type Chaincode struct {
	// ID is the chaincode package ID the peer knows the chaincode server by.
	ID string
	// Address is the listen address of the chaincode server. When empty, the
	// chaincode is launched by the peer and connects to it.
	Address   string
	TLS       TLS
	KeepAlive KeepAlive
}

// KeepAlive configures gRPC keepalive of the chaincode server. Zero values
// keep the shim defaults.
type KeepAlive struct {
	Interval time.Duration
	Timeout  time.Duration
}

// TLS holds PEM encoded material. Each value may also be given as
// {file: <path>} to read it from a file.
type TLS struct {
	Enabled      bool
	Key          string
	Cert         string
	ClientCACert string
}

type Logging struct {
	Spec   string
	Format string
}

type Operations struct {
	ListenAddress      string
	HealthCheckTimeout time.Duration
}

type Metrics struct {
	Provider string
}

// ConfigPaths returns the paths searched for abac.yaml: ABAC_CFG_PATH when
// set, then the working directory and /etc/hyperledger/abac.
func ConfigPaths() []string {
	var paths []string
	if p := os.Getenv("ABAC_CFG_PATH"); p != "" {
		paths = append(paths, p)
	}
	return append(paths, ".", "/etc/hyperledger/abac")
}

var defaults = map[string]interface{}{
	"chaincode.id":                  "",
	"chaincode.address":             "",
	"chaincode.tls.enabled":         false,
	"chaincode.tls.key":             "",
	"chaincode.tls.cert":            "",
	"chaincode.tls.clientcacert":    "",
	"chaincode.keepalive.interval":  "0s",
	"chaincode.keepalive.timeout":   "0s",
	"logging.spec":                  "",
	"logging.format":                "",
	"operations.listenaddress":      "127.0.0.1:9443",
	"operations.healthchecktimeout": "30s",
	"metrics.provider":              "prometheus",
	"admins":                        []string{},
}

// Load reads the configuration. When configFile is empty, abac.yaml is
// searched in ConfigPaths and a missing file is not an error.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ABAC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	// policies has no scalar default for AutomaticEnv to find
	if err := v.BindEnv("policies"); err != nil {
		return nil, errors.Wrap(err, "failed to bind policies to the environment")
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", configFile)
		}
	} else {
		v.SetConfigName("abac")
		for _, p := range ConfigPaths() {
			v.AddConfigPath(p)
		}
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errors.Wrap(err, "failed to read config file")
			}
		}
	}
	if used := v.ConfigFileUsed(); used != "" {
		logger.Infof("Loaded configuration from %s", used)
	}

	c := &Config{}
	err := v.Unmarshal(c, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		bracketListDecodeHook,
		yamlStringToMapDecodeHook,
		mapstructure.StringToSliceHookFunc(","),
		stringFromFileDecodeHook,
	)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode configuration")
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	switch c.Metrics.Provider {
	case "prometheus", "disabled":
	default:
		return errors.Errorf("invalid metrics provider '%s': must be prometheus or disabled", c.Metrics.Provider)
	}
	if c.Chaincode.Address != "" && c.Chaincode.ID == "" {
		return errors.New("chaincode.id is required when chaincode.address is set")
	}
	if c.Chaincode.TLS.Enabled && (c.Chaincode.TLS.Key == "" || c.Chaincode.TLS.Cert == "") {
		return errors.New("chaincode.tls.key and chaincode.tls.cert are required when TLS is enabled")
	}
	if c.Chaincode.KeepAlive.Interval < 0 || c.Chaincode.KeepAlive.Timeout < 0 {
		return errors.New("chaincode.keepalive durations must not be negative")
	}
	if c.Operations.HealthCheckTimeout <= 0 {
		return errors.Errorf("invalid operations.healthchecktimeout %s", c.Operations.HealthCheckTimeout)
	}
	for i, admin := range c.Admins {
		c.Admins[i] = strings.TrimSpace(admin)
	}
	return nil
}

// bracketListDecodeHook parses strings of the format "[thing1, thing2]" into
// string slices. Whitespace around elements is removed.
func bracketListDecodeHook(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
	if f.Kind() != reflect.String || t.Kind() != reflect.Slice {
		return data, nil
	}

	raw := data.(string)
	l := len(raw)
	if l > 1 && raw[0] == '[' && raw[l-1] == ']' {
		if strings.TrimSpace(raw[1:l-1]) == "" {
			return []string{}, nil
		}
		slice := strings.Split(raw[1:l-1], ",")
		for i, v := range slice {
			slice[i] = strings.TrimSpace(v)
		}
		return slice, nil
	}

	return data, nil
}

// yamlStringToMapDecodeHook parses a string of minified YAML, such as
// "{put: mspid == 'Org1MSP'}", into a map.
func yamlStringToMapDecodeHook(f reflect.Kind, t reflect.Kind, data interface{}) (interface{}, error) {
	if f != reflect.String || t != reflect.Map {
		return data, nil
	}

	raw := data.(string)
	m := map[string]string{}
	if strings.TrimSpace(raw) == "" {
		return m, nil
	}
	if err := yaml.UnmarshalStrict([]byte(raw), &m); err != nil {
		return nil, errors.Wrapf(err, "failed to parse '%s' as a YAML map", raw)
	}
	return m, nil
}

// stringFromFileDecodeHook replaces {file: <path>} with the contents of the
// file when a string is expected.
func stringFromFileDecodeHook(f reflect.Kind, t reflect.Kind, data interface{}) (interface{}, error) {
	if t != reflect.String || f != reflect.Map {
		return data, nil
	}
	d, ok := data.(map[string]interface{})
	if !ok {
		return data, nil
	}
	fileName, ok := d["file"]
	if !ok {
		fileName, ok = d["File"]
	}
	switch {
	case ok && fileName != nil:
		name, isString := fileName.(string)
		if !isString {
			return nil, errors.Errorf("value of file must be a string, not %T", fileName)
		}
		contents, err := os.ReadFile(name)
		if err != nil {
			return data, errors.Wrapf(err, "failed to read %s", name)
		}
		return string(contents), nil
	case ok:
		return nil, errors.New("value of file was nil")
	}
	return data, nil
}
