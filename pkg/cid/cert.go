/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cid

import (
	"bytes"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"

	"github.com/pkg/errors"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// ParsedCertificate holds what is derived from the invoker's certificate. It
// must be treated as read-only.
type ParsedCertificate struct {
	Subject DN
	Issuer  DN
	// Extensions maps dotted object identifiers to the DER encoded
	// extnValue of each extension, OCTET STRING header included.
	Extensions map[string][]byte
	// Raw holds the identity bytes exactly as supplied.
	Raw []byte

	x509Cert *x509.Certificate
}

// decodeCertificate decodes the base64 body found between the PEM markers.
func decodeCertificate(body []byte, raw []byte) (*ParsedCertificate, error) {
	der, err := base64.StdEncoding.DecodeString(string(stripSpace(body)))
	if err != nil {
		return nil, &CertificateParseError{Err: errors.Wrap(err, "invalid base64 certificate body")}
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, &CertificateParseError{Err: err}
	}
	exts, err := rawExtensions(cert.RawTBSCertificate)
	if err != nil {
		return nil, &CertificateParseError{Err: err}
	}
	return &ParsedCertificate{
		Subject:    newDN(cert.Subject),
		Issuer:     newDN(cert.Issuer),
		Extensions: exts,
		Raw:        raw,
		x509Cert:   cert,
	}, nil
}

func stripSpace(b []byte) []byte {
	return bytes.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, b)
}

// rawExtensions walks a DER TBSCertificate and returns the extnValue element
// of every extension keyed by its dotted object identifier.
//
//	TBSCertificate ::= SEQUENCE {
//	    version         [0]  EXPLICIT Version DEFAULT v1,
//	    serialNumber         CertificateSerialNumber,
//	    signature            AlgorithmIdentifier,
//	    issuer               Name,
//	    validity             Validity,
//	    subject              Name,
//	    subjectPublicKeyInfo SubjectPublicKeyInfo,
//	    issuerUniqueID  [1]  IMPLICIT UniqueIdentifier OPTIONAL,
//	    subjectUniqueID [2]  IMPLICIT UniqueIdentifier OPTIONAL,
//	    extensions      [3]  EXPLICIT Extensions OPTIONAL }
func rawExtensions(tbs []byte) (map[string][]byte, error) {
	exts := map[string][]byte{}

	input := cryptobyte.String(tbs)
	var body cryptobyte.String
	if !input.ReadASN1(&body, cbasn1.SEQUENCE) {
		return nil, errors.New("malformed tbs certificate")
	}
	if !body.SkipOptionalASN1(cbasn1.Tag(0).Constructed().ContextSpecific()) {
		return nil, errors.New("malformed version")
	}
	for _, field := range []struct {
		name string
		tag  cbasn1.Tag
	}{
		{"serial number", cbasn1.INTEGER},
		{"signature algorithm", cbasn1.SEQUENCE},
		{"issuer", cbasn1.SEQUENCE},
		{"validity", cbasn1.SEQUENCE},
		{"subject", cbasn1.SEQUENCE},
		{"public key info", cbasn1.SEQUENCE},
	} {
		if !body.SkipASN1(field.tag) {
			return nil, errors.Errorf("malformed %s", field.name)
		}
	}
	if !body.SkipOptionalASN1(cbasn1.Tag(1).ContextSpecific()) {
		return nil, errors.New("malformed issuer unique id")
	}
	if !body.SkipOptionalASN1(cbasn1.Tag(2).ContextSpecific()) {
		return nil, errors.New("malformed subject unique id")
	}

	var wrapped cryptobyte.String
	var present bool
	if !body.ReadOptionalASN1(&wrapped, &present, cbasn1.Tag(3).Constructed().ContextSpecific()) {
		return nil, errors.New("malformed extensions")
	}
	if !present {
		return exts, nil
	}
	var list cryptobyte.String
	if !wrapped.ReadASN1(&list, cbasn1.SEQUENCE) {
		return nil, errors.New("malformed extensions")
	}
	for !list.Empty() {
		var ext cryptobyte.String
		if !list.ReadASN1(&ext, cbasn1.SEQUENCE) {
			return nil, errors.New("malformed extension")
		}
		var oid asn1.ObjectIdentifier
		if !ext.ReadASN1ObjectIdentifier(&oid) {
			return nil, errors.New("malformed extension oid")
		}
		if !ext.SkipOptionalASN1(cbasn1.BOOLEAN) {
			return nil, errors.New("malformed extension critical field")
		}
		var value cryptobyte.String
		if !ext.ReadASN1Element(&value, cbasn1.OCTET_STRING) {
			return nil, errors.Errorf("malformed value of extension %s", oid)
		}
		exts[oid.String()] = []byte(value)
	}
	return exts, nil
}
