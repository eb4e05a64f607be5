/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

/*
 * The attrmgr package contains utilities for managing attributes.
 * Attributes are added to an X509 certificate as an extension.
 */

package attrmgr

import (
	"bytes"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/json"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/pkg/errors"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

var (
	// AttrOID is the ASN.1 object identifier for an attribute extension in an
	// X509 certificate
	AttrOID = asn1.ObjectIdentifier{1, 2, 3, 4, 5, 6, 7, 8, 1}
	// AttrOIDString is the string version of AttrOID
	AttrOIDString = "1.2.3.4.5.6.7.8.1"
)

// Attribute is a name/value pair
type Attribute interface {
	// GetName returns the name of the attribute
	GetName() string
	// GetValue returns the value of the attribute
	GetValue() string
}

// AttributeRequest is a request for an attribute
type AttributeRequest interface {
	// GetName returns the name of an attribute
	GetName() string
	// IsRequired returns true if the attribute is required
	IsRequired() bool
}

// New constructs an attribute manager
func New() *Mgr { return &Mgr{} }

// Mgr is the attribute manager and is the main object for this package
type Mgr struct{}

// ProcessAttributeRequestsForCert adds attributes to a certificate template
// given attribute requests and attributes.
func (mgr *Mgr) ProcessAttributeRequestsForCert(requests []AttributeRequest, attributes []Attribute, cert *x509.Certificate) error {
	attrs, err := mgr.ProcessAttributeRequests(requests, attributes)
	if err != nil {
		return err
	}
	return mgr.AddAttributesToCert(attrs, cert)
}

// ProcessAttributeRequests takes an array of attribute requests and an identity's attributes
// and returns an Attributes object containing the requested attributes.
func (mgr *Mgr) ProcessAttributeRequests(requests []AttributeRequest, attributes []Attribute) (*Attributes, error) {
	attrsMap := map[string]string{}
	attrs := &Attributes{Attrs: attrsMap}
	missingRequiredAttrs := []string{}
	for _, req := range requests {
		name := req.GetName()
		attr := getAttrByName(name, attributes)
		if attr == nil {
			if req.IsRequired() {
				missingRequiredAttrs = append(missingRequiredAttrs, name)
			}
			continue
		}
		attrsMap[name] = attr.GetValue()
	}
	if len(missingRequiredAttrs) > 0 {
		return nil, errors.Errorf("The following required attributes are missing: %+v",
			missingRequiredAttrs)
	}
	return attrs, nil
}

// AddAttributesToCert adds public attribute info to the extra extensions of an
// X509 certificate template, so that x509.CreateCertificate embeds them.
func (mgr *Mgr) AddAttributesToCert(attrs *Attributes, cert *x509.Certificate) error {
	buf, err := json.Marshal(attrs)
	if err != nil {
		return errors.Wrap(err, "Failed to marshal attributes")
	}
	ext := pkix.Extension{
		Id:       AttrOID,
		Critical: false,
		Value:    buf,
	}
	cert.ExtraExtensions = append(cert.ExtraExtensions, ext)
	return nil
}

// GetAttributesFromCert gets the attributes from a parsed certificate. The
// extension value of a parsed certificate is already stripped of its OCTET
// STRING header.
func (mgr *Mgr) GetAttributesFromCert(cert *x509.Certificate) (*Attributes, error) {
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(AttrOID) {
			return decodeAttributes(ext.Value)
		}
	}
	return &Attributes{Attrs: map[string]string{}}, nil
}

// GetAttributesFromExtensions gets the attributes from a map of dotted object
// identifiers to DER encoded extension values (the OCTET STRING element,
// header included). A missing attribute extension yields empty attributes.
func (mgr *Mgr) GetAttributesFromExtensions(extensions map[string][]byte) (*Attributes, error) {
	raw, ok := extensions[AttrOIDString]
	if !ok {
		return &Attributes{Attrs: map[string]string{}}, nil
	}
	payload, err := unwrapPayload(raw)
	if err != nil {
		return nil, err
	}
	return decodeAttributes(payload)
}

// unwrapPayload strips the DER OCTET STRING header (tag, length) from the
// extension value. Nothing may follow the OCTET STRING.
func unwrapPayload(raw []byte) ([]byte, error) {
	input := cryptobyte.String(raw)
	var payload cryptobyte.String
	if !input.ReadASN1(&payload, cbasn1.OCTET_STRING) {
		return nil, errors.New("attribute extension is not a DER OCTET STRING")
	}
	if !input.Empty() {
		return nil, errors.Errorf("attribute extension has %d trailing bytes", len(input))
	}
	return payload, nil
}

func decodeAttributes(buf []byte) (*Attributes, error) {
	// The payload must be a UTF-8 JSON object: encoding/json would replace
	// invalid bytes with U+FFFD and decode null into an empty set.
	if !utf8.Valid(buf) {
		return nil, errors.New("Failed to unmarshal attributes from certificate: payload is not valid UTF-8")
	}
	if trimmed := bytes.TrimSpace(buf); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errors.New("Failed to unmarshal attributes from certificate: payload is not a JSON object")
	}
	var raw struct {
		Attrs json.RawMessage `json:"attrs"`
	}
	if err := json.Unmarshal(buf, &raw); err != nil {
		return nil, errors.Wrap(err, "Failed to unmarshal attributes from certificate")
	}
	values := map[string]json.RawMessage{}
	if raw.Attrs != nil {
		if bytes.Equal(bytes.TrimSpace(raw.Attrs), []byte("null")) {
			return nil, errors.New("Failed to unmarshal attributes from certificate: attrs is null")
		}
		if err := json.Unmarshal(raw.Attrs, &values); err != nil {
			return nil, errors.Wrap(err, "Failed to unmarshal attributes from certificate")
		}
	}
	attrs := &Attributes{Attrs: make(map[string]string, len(values))}
	for name, value := range values {
		s, err := coerce(value)
		if err != nil {
			return nil, errors.WithMessagef(err, "Failed to decode value of attribute '%s'", name)
		}
		attrs.Attrs[name] = s
	}
	return attrs, nil
}

// coerce renders a JSON value as a string. Strings are taken verbatim, every
// other value keeps its compact JSON text.
func coerce(value json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return "", err
	}
	return compact.String(), nil
}

// Attributes contains attribute names and values
type Attributes struct {
	Attrs map[string]string `json:"attrs"`
}

// Names returns the names of the attributes, sorted
func (a *Attributes) Names() []string {
	names := make([]string, 0, len(a.Attrs))
	for name := range a.Attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Contains returns true if the named attribute is found
func (a *Attributes) Contains(name string) bool {
	_, ok := a.Attrs[name]
	return ok
}

// Value returns an attribute's value
func (a *Attributes) Value(name string) (string, bool, error) {
	attr, ok := a.Attrs[name]
	return attr, ok, nil
}

// True returns nil if the value of attribute 'name' is true;
// otherwise, an appropriate error is returned.
func (a *Attributes) True(name string) error {
	val, ok, err := a.Value(name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("Attribute '%s' was not found", name)
	}
	if val != "true" {
		return fmt.Errorf("Attribute '%s' is not true", name)
	}
	return nil
}

// Get attribute 'name' from 'attrs', or nil if not found
func getAttrByName(name string, attrs []Attribute) Attribute {
	for _, attr := range attrs {
		if attr.GetName() == name {
			return attr
		}
	}
	return nil
}
