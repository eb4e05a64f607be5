/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package abac

import (
	"github.com/Knetic/govaluate"
	"github.com/hyperledger/fabric-chaincode-cid/pkg/cid"
	"github.com/pkg/errors"
)

// A Policy is a boolean expression over the identity of the invoker. The
// expression may refer to "mspid", "id" and to any attribute by name; names
// that are not valid identifiers are written in brackets, as in
// "[hf.Type] == 'client'". An attribute the invoker does not carry is nil.
type Policy struct {
	expression string
	evaluable  *govaluate.EvaluableExpression
}

// NewPolicy compiles an expression.
func NewPolicy(expression string) (*Policy, error) {
	evaluable, err := govaluate.NewEvaluableExpression(expression)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid policy expression '%s'", expression)
	}
	return &Policy{expression: expression, evaluable: evaluable}, nil
}

func (p *Policy) String() string {
	return p.expression
}

// Evaluate reports whether the identity satisfies the policy. An expression
// that does not yield a boolean is an error.
func (p *Policy) Evaluate(id *cid.ClientIdentity) (bool, error) {
	result, err := p.evaluable.Eval(identityParameters{id: id})
	if err != nil {
		return false, errors.Wrapf(err, "failed evaluating policy '%s'", p.expression)
	}
	satisfied, ok := result.(bool)
	if !ok {
		return false, errors.Errorf("policy '%s' evaluated to %v, not a boolean", p.expression, result)
	}
	return satisfied, nil
}

type identityParameters struct {
	id *cid.ClientIdentity
}

// Get implements govaluate.Parameters. "mspid" and "id" take precedence over
// attributes of the same name.
func (p identityParameters) Get(name string) (interface{}, error) {
	switch name {
	case "mspid":
		return p.id.GetMSPID(), nil
	case "id":
		return p.id.GetID(), nil
	}
	if value, ok := p.id.GetAttributeValue(name); ok {
		return value, nil
	}
	return nil, nil
}
