/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cid

// CertificateFormatError is returned when the identity bytes do not contain a
// PEM begin-certificate marker followed by an end-certificate marker.
type CertificateFormatError struct{}

func (e *CertificateFormatError) Error() string {
	return "failed to find start line or end line of the certificate"
}

// CertificateParseError is returned when the certificate body between the PEM
// markers is not a well-formed X509 certificate.
type CertificateParseError struct {
	Err error
}

func (e *CertificateParseError) Error() string {
	return "failed to parse certificate: " + e.Err.Error()
}

func (e *CertificateParseError) Unwrap() error { return e.Err }

// AttributeDecodeError is returned when the certificate carries the attribute
// extension but its payload cannot be decoded.
type AttributeDecodeError struct {
	Err error
}

func (e *AttributeDecodeError) Error() string {
	return "failed to get attributes from the transaction invoker's certificate: " + e.Err.Error()
}

func (e *AttributeDecodeError) Unwrap() error { return e.Err }
