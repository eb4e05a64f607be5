/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package abac_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/golang/protobuf/proto"
	"github.com/hyperledger/fabric-chaincode-cid/common/metrics"
	"github.com/hyperledger/fabric-chaincode-cid/common/metrics/disabled"
	"github.com/hyperledger/fabric-chaincode-cid/internal/abac"
	"github.com/hyperledger/fabric-chaincode-cid/pkg/attrmgr"
	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-chaincode-go/shimtest"
	"github.com/hyperledger/fabric-protos-go/msp"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	. "github.com/onsi/gomega"
)

func TestWhoami(t *testing.T) {
	gt := NewGomegaWithT(t)
	cc, err := abac.New(nil, nil, &disabled.Provider{})
	gt.Expect(err).NotTo(HaveOccurred())
	stub := shimtest.NewMockStub("abac", cc)

	alice := newCreator(t, "Org1MSP", "alice", map[string]string{"hf.Type": "client", "role": "writer"})
	resp := invoke(stub, cc, alice, "whoami")
	gt.Expect(resp.Status).To(Equal(int32(shim.OK)), resp.Message)

	var identity abac.Identity
	gt.Expect(json.Unmarshal(resp.Payload, &identity)).To(Succeed())
	gt.Expect(identity).To(Equal(abac.Identity{
		MSPID:      "Org1MSP",
		ID:         "x509::CN=alice,O=org1.example.com::CN=alice,O=org1.example.com",
		Attributes: map[string]string{"hf.Type": "client", "role": "writer"},
	}))

	bob := newCreator(t, "Org2MSP", "bob", nil)
	resp = invoke(stub, cc, bob, "whoami")
	gt.Expect(resp.Status).To(Equal(int32(shim.OK)), resp.Message)
	gt.Expect(resp.Payload).To(MatchJSON(`{"mspid":"Org2MSP","id":"x509::CN=bob,O=org1.example.com::CN=bob,O=org1.example.com","attrs":{}}`))
}

func TestStateFunctions(t *testing.T) {
	gt := NewGomegaWithT(t)
	cc, err := abac.New(nil, nil, &disabled.Provider{})
	gt.Expect(err).NotTo(HaveOccurred())
	stub := shimtest.NewMockStub("abac", cc)
	alice := newCreator(t, "Org1MSP", "alice", nil)

	resp := invoke(stub, cc, alice, "put", "asset1", "blue")
	gt.Expect(resp.Status).To(Equal(int32(shim.OK)), resp.Message)
	gt.Expect(stub.State).To(HaveKeyWithValue("asset1", []byte("blue")))

	resp = invoke(stub, cc, alice, "get", "asset1")
	gt.Expect(resp.Status).To(Equal(int32(shim.OK)), resp.Message)
	gt.Expect(resp.Payload).To(Equal([]byte("blue")))

	resp = invoke(stub, cc, alice, "del", "asset1")
	gt.Expect(resp.Status).To(Equal(int32(shim.OK)), resp.Message)
	gt.Expect(stub.State).NotTo(HaveKey("asset1"))

	resp = invoke(stub, cc, alice, "get", "asset1")
	gt.Expect(resp.Status).To(Equal(int32(shim.ERROR)))
	gt.Expect(resp.Message).To(Equal("key 'asset1' not found"))

	for fn, args := range map[string][]string{
		"put":  {"asset1"},
		"get":  {},
		"del":  {"a", "b"},
		"attr": {},
	} {
		resp = invoke(stub, cc, alice, fn, args...)
		gt.Expect(resp.Status).To(Equal(int32(shim.ERROR)), fn)
		gt.Expect(resp.Message).To(HavePrefix(fn + " requires"))
	}
}

func TestAttr(t *testing.T) {
	gt := NewGomegaWithT(t)
	cc, err := abac.New(nil, nil, &disabled.Provider{})
	gt.Expect(err).NotTo(HaveOccurred())
	stub := shimtest.NewMockStub("abac", cc)
	alice := newCreator(t, "Org1MSP", "alice", map[string]string{"hf.EnrollmentID": "alice", "empty": ""})

	resp := invoke(stub, cc, alice, "attr", "hf.EnrollmentID")
	gt.Expect(resp.Status).To(Equal(int32(shim.OK)), resp.Message)
	gt.Expect(string(resp.Payload)).To(Equal("alice"))

	resp = invoke(stub, cc, alice, "attr", "empty")
	gt.Expect(resp.Status).To(Equal(int32(shim.OK)), resp.Message)
	gt.Expect(resp.Payload).To(BeEmpty())

	resp = invoke(stub, cc, alice, "attr", "missing")
	gt.Expect(resp.Status).To(Equal(int32(shim.ERROR)))
	gt.Expect(resp.Message).To(Equal("attribute 'missing' not found"))
}

func TestPolicies(t *testing.T) {
	gt := NewGomegaWithT(t)
	recorder := newRecorder()
	cc, err := abac.New(map[string]string{
		"put":  "[hf.Type] == 'client' && role == 'writer'",
		"del":  "mspid == 'Org1MSP'",
		"attr": "role",
	}, []string{"AdminMSP"}, recorder, abac.WithClock(fakeclock.NewFakeClock(time.Now())))
	gt.Expect(err).NotTo(HaveOccurred())
	stub := shimtest.NewMockStub("abac", cc)

	writer := newCreator(t, "Org1MSP", "writer", map[string]string{"hf.Type": "client", "role": "writer"})
	reader := newCreator(t, "Org2MSP", "reader", map[string]string{"hf.Type": "client"})
	admin := newCreator(t, "AdminMSP", "admin", nil)

	resp := invoke(stub, cc, writer, "put", "k", "v")
	gt.Expect(resp.Status).To(Equal(int32(shim.OK)), resp.Message)

	resp = invoke(stub, cc, reader, "put", "k", "w")
	gt.Expect(resp.Status).To(Equal(int32(shim.ERROR)))
	gt.Expect(resp.Message).To(Equal("access denied to 'put': identity x509::CN=reader,O=org1.example.com::CN=reader,O=org1.example.com of MSP Org2MSP does not satisfy '[hf.Type] == 'client' && role == 'writer''"))
	gt.Expect(stub.State).To(HaveKeyWithValue("k", []byte("v")))

	// functions without a policy are open
	resp = invoke(stub, cc, reader, "get", "k")
	gt.Expect(resp.Status).To(Equal(int32(shim.OK)), resp.Message)

	resp = invoke(stub, cc, reader, "del", "k")
	gt.Expect(resp.Status).To(Equal(int32(shim.ERROR)))

	// a policy that does not yield a boolean denies access
	resp = invoke(stub, cc, writer, "attr", "role")
	gt.Expect(resp.Status).To(Equal(int32(shim.ERROR)))
	gt.Expect(resp.Message).To(ContainSubstring("not a boolean"))

	resp = invoke(stub, cc, admin, "put", "k", "admin")
	gt.Expect(resp.Status).To(Equal(int32(shim.OK)), resp.Message)
	resp = invoke(stub, cc, admin, "attr", "role")
	gt.Expect(resp.Status).To(Equal(int32(shim.ERROR)))
	gt.Expect(resp.Message).To(Equal("attribute 'role' not found"))
	resp = invoke(stub, cc, admin, "del", "k")
	gt.Expect(resp.Status).To(Equal(int32(shim.OK)), resp.Message)

	gt.Expect(recorder.value("invocations_total", "function", "put")).To(Equal(3.0))
	gt.Expect(recorder.value("invocations_total", "function", "get")).To(Equal(1.0))
	gt.Expect(recorder.value("access_denied_total", "function", "put")).To(Equal(1.0))
	gt.Expect(recorder.value("access_denied_total", "function", "del")).To(Equal(1.0))
	gt.Expect(recorder.value("access_denied_total", "function", "attr")).To(Equal(1.0))
	gt.Expect(recorder.observations("identity_resolution_seconds")).To(Equal(8))
	gt.Expect(recorder.value("identity_resolution_seconds")).To(BeZero())
}

func TestIdentityFailures(t *testing.T) {
	gt := NewGomegaWithT(t)
	recorder := newRecorder()
	cc, err := abac.New(nil, nil, recorder)
	gt.Expect(err).NotTo(HaveOccurred())
	stub := shimtest.NewMockStub("abac", cc)

	notPEM := marshalCreator(t, "Org1MSP", []byte("not a certificate"))
	resp := invoke(stub, cc, notPEM, "whoami")
	gt.Expect(resp.Status).To(Equal(int32(shim.ERROR)))
	gt.Expect(resp.Message).To(Equal("failed to find start line or end line of the certificate"))

	garbage := marshalCreator(t, "Org1MSP", []byte("-----BEGIN CERTIFICATE-----AAAA-----END CERTIFICATE-----"))
	resp = invoke(stub, cc, garbage, "whoami")
	gt.Expect(resp.Status).To(Equal(int32(shim.ERROR)))
	gt.Expect(resp.Message).To(HavePrefix("failed to parse certificate: "))

	malformed := newCreatorWithExtension(t, "Org1MSP", "mallory", []byte("{attrs"))
	resp = invoke(stub, cc, malformed, "whoami")
	gt.Expect(resp.Status).To(Equal(int32(shim.ERROR)))
	gt.Expect(resp.Message).To(HavePrefix("failed to get attributes from the transaction invoker's certificate: "))

	resp = invoke(stub, cc, nil, "whoami")
	gt.Expect(resp.Status).To(Equal(int32(shim.ERROR)))
	gt.Expect(resp.Message).To(ContainSubstring("creator is nil"))

	gt.Expect(recorder.value("identity_failures_total", "kind", "format")).To(Equal(1.0))
	gt.Expect(recorder.value("identity_failures_total", "kind", "parse")).To(Equal(1.0))
	gt.Expect(recorder.value("identity_failures_total", "kind", "attributes")).To(Equal(1.0))
	gt.Expect(recorder.value("identity_failures_total", "kind", "creator")).To(Equal(1.0))
	gt.Expect(recorder.value("invocations_total", "function", "whoami")).To(Equal(4.0))
}

func TestUnknownFunction(t *testing.T) {
	gt := NewGomegaWithT(t)
	recorder := newRecorder()
	cc, err := abac.New(nil, nil, recorder)
	gt.Expect(err).NotTo(HaveOccurred())
	stub := shimtest.NewMockStub("abac", cc)

	resp := invoke(stub, cc, newCreator(t, "Org1MSP", "alice", nil), "transfer", "a", "b")
	gt.Expect(resp.Status).To(Equal(int32(shim.ERROR)))
	gt.Expect(resp.Message).To(Equal("unknown function 'transfer'"))
	gt.Expect(recorder.value("invocations_total", "function", "transfer")).To(BeZero())
}

func TestInit(t *testing.T) {
	gt := NewGomegaWithT(t)
	cc, err := abac.New(nil, nil, &disabled.Provider{})
	gt.Expect(err).NotTo(HaveOccurred())
	stub := shimtest.NewMockStub("abac", cc)

	resp := stub.MockInit("init", nil)
	gt.Expect(resp.Status).To(Equal(int32(shim.OK)))
	gt.Expect(cc.Functions()).To(Equal([]string{"attr", "del", "get", "put", "whoami"}))
}

func TestNewErrors(t *testing.T) {
	gt := NewGomegaWithT(t)

	_, err := abac.New(map[string]string{"transfer": "true"}, nil, &disabled.Provider{})
	gt.Expect(err).To(MatchError("policy defined for unknown function 'transfer'"))

	_, err = abac.New(map[string]string{"put": "role =="}, nil, &disabled.Provider{})
	gt.Expect(err).To(HaveOccurred())
	gt.Expect(err.Error()).To(HavePrefix("policy for function 'put': invalid policy expression 'role =='"))
}

// invocation supplies the creator and arguments of one transaction; the
// mock stub supplies the world state.
type invocation struct {
	*shimtest.MockStub
	creator  []byte
	function string
	args     []string
}

func (i *invocation) GetCreator() ([]byte, error) {
	return i.creator, nil
}

func (i *invocation) GetFunctionAndParameters() (string, []string) {
	return i.function, i.args
}

func invoke(stub *shimtest.MockStub, cc shim.Chaincode, creator []byte, fn string, args ...string) pb.Response {
	stub.MockTransactionStart("txid")
	defer stub.MockTransactionEnd("txid")
	return cc.Invoke(&invocation{MockStub: stub, creator: creator, function: fn, args: args})
}

func newCreator(t *testing.T, mspID, cn string, attrs map[string]string) []byte {
	template := &x509.Certificate{}
	if attrs != nil {
		err := attrmgr.New().AddAttributesToCert(&attrmgr.Attributes{Attrs: attrs}, template)
		if err != nil {
			t.Fatal(err)
		}
	}
	return marshalCreator(t, mspID, selfSigned(t, cn, template))
}

func newCreatorWithExtension(t *testing.T, mspID, cn string, value []byte) []byte {
	template := &x509.Certificate{
		ExtraExtensions: []pkix.Extension{{Id: attrmgr.AttrOID, Value: value}},
	}
	return marshalCreator(t, mspID, selfSigned(t, cn, template))
}

func selfSigned(t *testing.T, cn string, template *x509.Certificate) []byte {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	template.SerialNumber = big.NewInt(1)
	template.Subject = pkix.Name{CommonName: cn, Organization: []string{"org1.example.com"}}
	template.NotBefore = time.Now().Add(-time.Hour)
	template.NotAfter = time.Now().Add(time.Hour)
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func marshalCreator(t *testing.T, mspID string, idBytes []byte) []byte {
	creator, err := proto.Marshal(&msp.SerializedIdentity{Mspid: mspID, IdBytes: idBytes})
	if err != nil {
		t.Fatal(err)
	}
	return creator
}

// recorder is a metrics.Provider that keeps totals and observation counts by
// metric name and label values.
type recorder struct {
	mutex  sync.Mutex
	totals map[string]float64
	counts map[string]int
}

func newRecorder() *recorder {
	return &recorder{totals: map[string]float64{}, counts: map[string]int{}}
}

func (r *recorder) value(name string, labelValues ...string) float64 {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.totals[key(name, labelValues)]
}

func (r *recorder) observations(name string, labelValues ...string) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.counts[key(name, labelValues)]
}

func (r *recorder) NewCounter(o metrics.CounterOpts) metrics.Counter {
	return &recordingCounter{&recordingMeter{recorder: r, name: o.Name}}
}

func (r *recorder) NewGauge(o metrics.GaugeOpts) metrics.Gauge {
	return &disabled.Gauge{}
}

func (r *recorder) NewHistogram(o metrics.HistogramOpts) metrics.Histogram {
	return &recordingHistogram{&recordingMeter{recorder: r, name: o.Name}}
}

type recordingMeter struct {
	recorder    *recorder
	name        string
	labelValues []string
}

func (m *recordingMeter) with(labelValues []string) *recordingMeter {
	return &recordingMeter{
		recorder:    m.recorder,
		name:        m.name,
		labelValues: append(append([]string{}, m.labelValues...), labelValues...),
	}
}

func (m *recordingMeter) Add(delta float64) {
	m.recorder.mutex.Lock()
	m.recorder.totals[key(m.name, m.labelValues)] += delta
	m.recorder.mutex.Unlock()
}

func (m *recordingMeter) Observe(value float64) {
	m.recorder.mutex.Lock()
	m.recorder.totals[key(m.name, m.labelValues)] += value
	m.recorder.counts[key(m.name, m.labelValues)]++
	m.recorder.mutex.Unlock()
}

type recordingCounter struct{ *recordingMeter }

func (c *recordingCounter) With(labelValues ...string) metrics.Counter {
	return &recordingCounter{c.with(labelValues)}
}

type recordingHistogram struct{ *recordingMeter }

func (h *recordingHistogram) With(labelValues ...string) metrics.Histogram {
	return &recordingHistogram{h.with(labelValues)}
}

func key(name string, labelValues []string) string {
	return name + "{" + strings.Join(labelValues, ",") + "}"
}
