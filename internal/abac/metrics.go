/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package abac

import "github.com/hyperledger/fabric-chaincode-cid/common/metrics"

var (
	invocationsOpts = metrics.CounterOpts{
		Namespace:  "abac",
		Name:       "invocations_total",
		Help:       "The number of chaincode invocations, by function.",
		LabelNames: []string{"function"},
	}
	accessDeniedOpts = metrics.CounterOpts{
		Namespace:  "abac",
		Name:       "access_denied_total",
		Help:       "The number of invocations rejected by the access policy of the function.",
		LabelNames: []string{"function"},
	}
	identityFailuresOpts = metrics.CounterOpts{
		Namespace:  "abac",
		Name:       "identity_failures_total",
		Help:       "The number of invocations whose invoker identity could not be resolved, by kind of failure.",
		LabelNames: []string{"kind"},
	}
	identityResolutionOpts = metrics.HistogramOpts{
		Namespace: "abac",
		Name:      "identity_resolution_seconds",
		Help:      "The time to resolve the identity of the invoker from its certificate.",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}
)

type Metrics struct {
	Invocations        metrics.Counter
	AccessDenied       metrics.Counter
	IdentityFailures   metrics.Counter
	IdentityResolution metrics.Histogram
}

func NewMetrics(p metrics.Provider) *Metrics {
	return &Metrics{
		Invocations:        p.NewCounter(invocationsOpts),
		AccessDenied:       p.NewCounter(accessDeniedOpts),
		IdentityFailures:   p.NewCounter(identityFailuresOpts),
		IdentityResolution: p.NewHistogram(identityResolutionOpts),
	}
}
