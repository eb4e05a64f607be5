/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cid

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"strings"
)

var (
	oidCountry            = asn1.ObjectIdentifier{2, 5, 4, 6}
	oidOrganization       = asn1.ObjectIdentifier{2, 5, 4, 10}
	oidLocality           = asn1.ObjectIdentifier{2, 5, 4, 7}
	oidProvince           = asn1.ObjectIdentifier{2, 5, 4, 8}
	oidCommonName         = asn1.ObjectIdentifier{2, 5, 4, 3}
	oidOrganizationalUnit = asn1.ObjectIdentifier{2, 5, 4, 11}
)

// canonicalDNOrder is the fixed order in which attribute types appear in a
// rendered DN, whatever their order in the certificate.
var canonicalDNOrder = []struct {
	name string
	oid  asn1.ObjectIdentifier
}{
	{"CN", oidCommonName},
	{"O", oidOrganization},
	{"L", oidLocality},
	{"ST", oidProvince},
	{"C", oidCountry},
}

// DN is a distinguished name kept as every attribute type and value pair of
// the certificate, in encoding order.
type DN []pkix.AttributeTypeAndValue

func newDN(name pkix.Name) DN {
	dn := make(DN, len(name.Names))
	copy(dn, name.Names)
	return dn
}

// String renders the DN as comma separated type=value pairs for CN, O, L, ST
// and C, in that order. Absent types are omitted and no escaping is applied.
// When a type repeats, its first value is used.
func (dn DN) String() string {
	parts := make([]string, 0, len(canonicalDNOrder))
	for _, t := range canonicalDNOrder {
		values := dn.Values(t.oid)
		if len(values) == 0 {
			continue
		}
		parts = append(parts, t.name+"="+values[0])
	}
	return strings.Join(parts, ",")
}

// Values returns every value of the given attribute type, in encoding order.
func (dn DN) Values(oid asn1.ObjectIdentifier) []string {
	var values []string
	for _, atv := range dn {
		if atv.Type.Equal(oid) {
			values = append(values, fmt.Sprint(atv.Value))
		}
	}
	return values
}

// OrganizationalUnits returns the OU values of the DN.
func (dn DN) OrganizationalUnits() []string {
	return dn.Values(oidOrganizationalUnit)
}
