/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package operations

import "github.com/hyperledger/fabric-chaincode-cid/common/metrics"

var versionOpts = metrics.GaugeOpts{
	Namespace:  "abac",
	Name:       "version",
	Help:       "The active version of the abac chaincode.",
	LabelNames: []string{"version"},
}
