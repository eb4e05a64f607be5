/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cid

import "bytes"

var (
	pemBeginCertificate = []byte("-----BEGIN CERTIFICATE-----")
	pemEndCertificate   = []byte("-----END CERTIFICATE-----")
)

// loadCertificateBody returns the armored text between the first
// begin-certificate marker and the end-certificate marker that follows it.
// The markers need not sit on lines of their own: certificates collapsed onto
// a single line are accepted. The price is that a marker embedded in other
// text, as in "xx-----BEGIN CERTIFICATE-----", is matched too. Requiring the
// marker to start a line would reject the single-line certificates issued by
// existing clients.
func loadCertificateBody(idBytes []byte) ([]byte, error) {
	begin := bytes.Index(idBytes, pemBeginCertificate)
	if begin < 0 {
		return nil, &CertificateFormatError{}
	}
	body := idBytes[begin+len(pemBeginCertificate):]
	end := bytes.Index(body, pemEndCertificate)
	if end < 0 {
		return nil, &CertificateFormatError{}
	}
	return body[:end], nil
}
