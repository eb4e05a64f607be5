/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package abac is a chaincode that guards a key/value store with policies
// over the identity of the invoker, resolved from its certificate.
package abac

import (
	"encoding/json"
	"fmt"
	"sort"

	"code.cloudfoundry.org/clock"
	"github.com/hyperledger/fabric-chaincode-cid/common/flogging"
	"github.com/hyperledger/fabric-chaincode-cid/common/metrics"
	"github.com/hyperledger/fabric-chaincode-cid/pkg/cid"
	"github.com/hyperledger/fabric-chaincode-go/shim"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
)

var logger = flogging.MustGetLogger("abac")

type handler func(stub shim.ChaincodeStubInterface, id *cid.ClientIdentity, args []string) pb.Response

// Chaincode implements shim.Chaincode.
type Chaincode struct {
	functions map[string]handler
	policies  map[string]*Policy
	admins    map[string]bool
	metrics   *Metrics
	clock     clock.Clock
}

// An Option configures the chaincode.
type Option func(*Chaincode)

// WithClock sets the clock used to time identity resolution.
func WithClock(c clock.Clock) Option {
	return func(cc *Chaincode) { cc.clock = c }
}

// New creates the chaincode. Policies map function names to expressions; a
// function without a policy is open to every identity the chaincode can
// resolve. Identities of the admin MSPs bypass all policies.
func New(policies map[string]string, admins []string, provider metrics.Provider, opts ...Option) (*Chaincode, error) {
	cc := &Chaincode{
		policies: map[string]*Policy{},
		admins:   map[string]bool{},
		metrics:  NewMetrics(provider),
		clock:    clock.NewClock(),
	}
	for _, opt := range opts {
		opt(cc)
	}
	cc.functions = map[string]handler{
		"whoami": cc.whoami,
		"put":    cc.put,
		"get":    cc.get,
		"del":    cc.del,
		"attr":   cc.attr,
	}

	for fn, expression := range policies {
		if _, ok := cc.functions[fn]; !ok {
			return nil, errors.Errorf("policy defined for unknown function '%s'", fn)
		}
		p, err := NewPolicy(expression)
		if err != nil {
			return nil, errors.WithMessagef(err, "policy for function '%s'", fn)
		}
		cc.policies[fn] = p
	}
	for _, mspID := range admins {
		cc.admins[mspID] = true
	}

	return cc, nil
}

// Functions returns the names of the functions the chaincode serves.
func (cc *Chaincode) Functions() []string {
	var names []string
	for fn := range cc.functions {
		names = append(names, fn)
	}
	sort.Strings(names)
	return names
}

func (cc *Chaincode) Init(stub shim.ChaincodeStubInterface) pb.Response {
	return shim.Success(nil)
}

func (cc *Chaincode) Invoke(stub shim.ChaincodeStubInterface) pb.Response {
	fn, args := stub.GetFunctionAndParameters()
	h, ok := cc.functions[fn]
	if !ok {
		return shim.Error(fmt.Sprintf("unknown function '%s'", fn))
	}
	cc.metrics.Invocations.With("function", fn).Add(1)

	start := cc.clock.Now()
	id, err := cid.New(stub)
	cc.metrics.IdentityResolution.Observe(cc.clock.Since(start).Seconds())
	if err != nil {
		kind := failureKind(err)
		cc.metrics.IdentityFailures.With("kind", kind).Add(1)
		logger.Warnw("Failed resolving invoker identity", "function", fn, "txid", stub.GetTxID(), "kind", kind, "error", err)
		return shim.Error(err.Error())
	}

	if err := cc.authorize(fn, id); err != nil {
		cc.metrics.AccessDenied.With("function", fn).Add(1)
		logger.Infow("Access denied", "function", fn, "txid", stub.GetTxID(), "mspid", id.GetMSPID(), "id", id.GetID(), "error", err)
		return shim.Error(err.Error())
	}

	return h(stub, id, args)
}

func (cc *Chaincode) authorize(fn string, id *cid.ClientIdentity) error {
	if cc.admins[id.GetMSPID()] {
		return nil
	}
	p, ok := cc.policies[fn]
	if !ok {
		return nil
	}
	satisfied, err := p.Evaluate(id)
	if err != nil {
		return errors.WithMessagef(err, "access denied to '%s'", fn)
	}
	if !satisfied {
		return errors.Errorf("access denied to '%s': identity %s of MSP %s does not satisfy '%s'", fn, id.GetID(), id.GetMSPID(), p)
	}
	return nil
}

// failureKind names the reason the identity of the invoker could not be
// resolved.
func failureKind(err error) string {
	var formatErr *cid.CertificateFormatError
	var parseErr *cid.CertificateParseError
	var attrErr *cid.AttributeDecodeError
	switch {
	case errors.As(err, &formatErr):
		return "format"
	case errors.As(err, &parseErr):
		return "parse"
	case errors.As(err, &attrErr):
		return "attributes"
	default:
		return "creator"
	}
}

// Identity is the JSON view of the invoker returned by whoami.
type Identity struct {
	MSPID      string            `json:"mspid"`
	ID         string            `json:"id"`
	Attributes map[string]string `json:"attrs"`
}

func (cc *Chaincode) whoami(stub shim.ChaincodeStubInterface, id *cid.ClientIdentity, args []string) pb.Response {
	payload, err := json.Marshal(&Identity{
		MSPID:      id.GetMSPID(),
		ID:         id.GetID(),
		Attributes: id.Attributes(),
	})
	if err != nil {
		return shim.Error(err.Error())
	}
	return shim.Success(payload)
}

func (cc *Chaincode) put(stub shim.ChaincodeStubInterface, id *cid.ClientIdentity, args []string) pb.Response {
	if len(args) != 2 {
		return shim.Error("put requires a key and a value")
	}
	if err := stub.PutState(args[0], []byte(args[1])); err != nil {
		return shim.Error(fmt.Sprintf("failed to put '%s': %s", args[0], err))
	}
	logger.Debugw("Put state", "key", args[0], "id", id.GetID())
	return shim.Success(nil)
}

func (cc *Chaincode) get(stub shim.ChaincodeStubInterface, id *cid.ClientIdentity, args []string) pb.Response {
	if len(args) != 1 {
		return shim.Error("get requires a key")
	}
	value, err := stub.GetState(args[0])
	if err != nil {
		return shim.Error(fmt.Sprintf("failed to get '%s': %s", args[0], err))
	}
	if value == nil {
		return shim.Error(fmt.Sprintf("key '%s' not found", args[0]))
	}
	return shim.Success(value)
}

func (cc *Chaincode) del(stub shim.ChaincodeStubInterface, id *cid.ClientIdentity, args []string) pb.Response {
	if len(args) != 1 {
		return shim.Error("del requires a key")
	}
	if err := stub.DelState(args[0]); err != nil {
		return shim.Error(fmt.Sprintf("failed to delete '%s': %s", args[0], err))
	}
	logger.Debugw("Deleted state", "key", args[0], "id", id.GetID())
	return shim.Success(nil)
}

func (cc *Chaincode) attr(stub shim.ChaincodeStubInterface, id *cid.ClientIdentity, args []string) pb.Response {
	if len(args) != 1 {
		return shim.Error("attr requires an attribute name")
	}
	value, ok := id.GetAttributeValue(args[0])
	if !ok {
		return shim.Error(fmt.Sprintf("attribute '%s' not found", args[0]))
	}
	return shim.Success([]byte(value))
}
