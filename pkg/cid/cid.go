/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package cid resolves the identity of the client invoking a chaincode
// transaction from its X509 certificate: the canonical ID, the MSP ID and
// the attributes embedded in the certificate by the issuing CA.
package cid

import (
	"crypto/x509"
	"fmt"

	"github.com/golang/protobuf/proto"
	"github.com/hyperledger/fabric-chaincode-cid/common/flogging"
	"github.com/hyperledger/fabric-chaincode-cid/pkg/attrmgr"
	"github.com/hyperledger/fabric-protos-go/msp"
	"github.com/pkg/errors"
)

var logger = flogging.MustGetLogger("cid")

// GetID returns the ID associated with the invoking identity.
func GetID(stub ChaincodeStubInterface) (string, error) {
	c, err := New(stub)
	if err != nil {
		return "", err
	}
	return c.GetID(), nil
}

// GetMSPID returns the ID of the MSP associated with the identity that
// submitted the transaction
func GetMSPID(stub ChaincodeStubInterface) (string, error) {
	c, err := New(stub)
	if err != nil {
		return "", err
	}
	return c.GetMSPID(), nil
}

// GetAttributeValue returns value of the specified attribute
func GetAttributeValue(stub ChaincodeStubInterface, attrName string) (value string, found bool, err error) {
	c, err := New(stub)
	if err != nil {
		return "", false, err
	}
	value, found = c.GetAttributeValue(attrName)
	return value, found, nil
}

// AssertAttributeValue checks if an attribute value equals the specified value
func AssertAttributeValue(stub ChaincodeStubInterface, attrName, attrValue string) (bool, error) {
	c, err := New(stub)
	if err != nil {
		return false, err
	}
	return c.AssertAttributeValue(attrName, attrValue), nil
}

// GetX509Certificate returns the X509 certificate associated with the client
func GetX509Certificate(stub ChaincodeStubInterface) (*x509.Certificate, error) {
	c, err := New(stub)
	if err != nil {
		return nil, err
	}
	return c.GetX509Certificate(), nil
}

// ClientIdentity is the identity of the invoker of one transaction. It is
// immutable once constructed.
type ClientIdentity struct {
	mspID string
	id    string
	cert  *ParsedCertificate
	attrs *attrmgr.Attributes
}

// New unmarshals the creator of the transaction as a serialized identity and
// resolves it.
func New(stub ChaincodeStubInterface) (*ClientIdentity, error) {
	creator, err := stub.GetCreator()
	if err != nil {
		return nil, errors.WithMessage(err, "failed to get transaction invoker's identity from the chaincode stub")
	}
	if creator == nil {
		return nil, errors.New("failed to get transaction invoker's identity from the chaincode stub: creator is nil")
	}
	sid := &msp.SerializedIdentity{}
	if err := proto.Unmarshal(creator, sid); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal transaction invoker's identity")
	}
	return NewFromCreator(sid)
}

// NewFromCreator resolves an identity that has already been split into its
// MSP ID and identity bytes.
func NewFromCreator(creator Creator) (*ClientIdentity, error) {
	return NewClientIdentity(creator.GetMspid(), creator.GetIdBytes())
}

// NewClientIdentity resolves the identity of an invoker from the ID of its MSP
// and its PEM encoded certificate. The identity bytes are copied.
//
// The returned error is a *CertificateFormatError, *CertificateParseError or
// *AttributeDecodeError.
func NewClientIdentity(mspID string, idBytes []byte) (*ClientIdentity, error) {
	raw := append([]byte(nil), idBytes...)

	body, err := loadCertificateBody(raw)
	if err != nil {
		logger.Debugf("Identity bytes of invoker from MSP %s are not a PEM certificate", mspID)
		return nil, err
	}
	cert, err := decodeCertificate(body, raw)
	if err != nil {
		logger.Debugf("Failed decoding certificate of invoker from MSP %s: %s", mspID, err)
		return nil, err
	}
	attrs, err := attrmgr.New().GetAttributesFromExtensions(cert.Extensions)
	if err != nil {
		logger.Debugf("Failed decoding attributes of invoker from MSP %s: %s", mspID, err)
		return nil, &AttributeDecodeError{Err: err}
	}

	c := &ClientIdentity{
		mspID: mspID,
		// The "x509::" prefix marks an X509 identity; subject and issuer DNs
		// identify the certificate and survive its renewal.
		id:    fmt.Sprintf("x509::%s::%s", cert.Subject, cert.Issuer),
		cert:  cert,
		attrs: attrs,
	}
	logger.Debugw("Resolved client identity", "mspid", mspID, "id", c.id, "attributes", len(attrs.Attrs))
	return c, nil
}

// GetID returns the ID of the invoking identity:
// "x509::<subject DN>::<issuer DN>".
func (c *ClientIdentity) GetID() string {
	return c.id
}

// GetMSPID returns the ID of the MSP associated with the identity that
// submitted the transaction
func (c *ClientIdentity) GetMSPID() string {
	return c.mspID
}

// GetIDBytes returns a copy of the identity bytes the identity was built from.
func (c *ClientIdentity) GetIDBytes() []byte {
	return append([]byte(nil), c.cert.Raw...)
}

// GetAttributeValue returns the value of the named attribute and whether the
// attribute was found.
func (c *ClientIdentity) GetAttributeValue(attrName string) (value string, found bool) {
	value, found, _ = c.attrs.Value(attrName)
	return value, found
}

// AssertAttributeValue reports whether the named attribute is present and
// its value is exactly attrValue.
func (c *ClientIdentity) AssertAttributeValue(attrName, attrValue string) bool {
	val, ok := c.GetAttributeValue(attrName)
	return ok && val == attrValue
}

// HasAttribute reports whether the named attribute is present.
func (c *ClientIdentity) HasAttribute(attrName string) bool {
	return c.attrs.Contains(attrName)
}

// Attributes returns a copy of all attributes of the identity. The map is
// empty when the certificate carries none.
func (c *ClientIdentity) Attributes() map[string]string {
	attrs := make(map[string]string, len(c.attrs.Attrs))
	for k, v := range c.attrs.Attrs {
		attrs[k] = v
	}
	return attrs
}

// GetX509Certificate returns the X509 certificate associated with the client.
func (c *ClientIdentity) GetX509Certificate() *x509.Certificate {
	return c.cert.x509Cert
}

// Certificate returns the parsed certificate.
func (c *ClientIdentity) Certificate() *ParsedCertificate {
	return c.cert
}
