package contract

import (
	"crypto/x509"
	"encoding/json"
	"fmt"
	"testing"

	"ayurtrace/model"

	"github.com/hyperledger/fabric-chaincode-go/shimtest"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/stretchr/testify/require"
)

const testMSPID = "Org1MSP"

// mockClientIdentity satisfies cid.ClientIdentity for direct contract calls.
type mockClientIdentity struct {
	id    string
	msp   string
	attrs map[string]string
}

func (m *mockClientIdentity) GetID() (string, error)    { return m.id, nil }
func (m *mockClientIdentity) GetMSPID() (string, error) { return m.msp, nil }
func (m *mockClientIdentity) GetAttributeValue(attrName string) (string, bool, error) {
	v, ok := m.attrs[attrName]
	return v, ok, nil
}
func (m *mockClientIdentity) AssertAttributeValue(attrName, attrValue string) error {
	v, ok := m.attrs[attrName]
	if !ok || v != attrValue {
		return fmt.Errorf("attribute '%s' does not have value '%s'", attrName, attrValue)
	}
	return nil
}
func (m *mockClientIdentity) GetX509Certificate() (*x509.Certificate, error) { return nil, nil }

func fullIDFor(alias string) string {
	return "x509::CN=" + alias + "::O=AyurTrace,L=Bengaluru,C=IN"
}

// testEnv wires a fresh mock ledger with a bootstrapped admin. Every
// invocation runs inside its own mock transaction with a deterministic ID.
type testEnv struct {
	t    *testing.T
	stub *shimtest.MockStub
	cc   *AyurTraceSmartContract
	salt string
	seq  int
}

func newTestEnv(t *testing.T) *testEnv {
	env := &testEnv{
		t:    t,
		stub: shimtest.NewMockStub("ayurtrace", nil),
		cc:   &AyurTraceSmartContract{},
		salt: t.Name() + "-",
	}
	env.exec("admin", func(ctx *contractapi.TransactionContext) {
		require.NoError(t, env.cc.BootstrapLedger(ctx))
	})
	return env
}

func (e *testEnv) ctxFor(alias string) *contractapi.TransactionContext {
	ctx := &contractapi.TransactionContext{}
	ctx.SetStub(e.stub)
	ctx.SetClientIdentity(&mockClientIdentity{
		id:    fullIDFor(alias),
		msp:   testMSPID,
		attrs: map[string]string{"hf.EnrollmentID": alias},
	})
	return ctx
}

// exec runs fn as the named actor inside one mock transaction.
func (e *testEnv) exec(alias string, fn func(ctx *contractapi.TransactionContext)) {
	e.seq++
	txID := fmt.Sprintf("%s%04d", e.salt, e.seq)
	e.stub.MockTransactionStart(txID)
	defer e.stub.MockTransactionEnd(txID)
	fn(e.ctxFor(alias))
}

// registerActor registers an alias under the admin and assigns it a role.
func (e *testEnv) registerActor(alias, role string) {
	e.exec("admin", func(ctx *contractapi.TransactionContext) {
		require.NoError(e.t, e.cc.RegisterIdentity(ctx, fullIDFor(alias), alias, alias))
		require.NoError(e.t, e.cc.AssignRoleToIdentity(ctx, alias, role))
	})
}

func mustJSON(t *testing.T, v interface{}) string {
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return string(raw)
}

// createHarvestedBatch runs the farmer-side flow to a harvested batch.
func (e *testEnv) createHarvestedBatch(farmer, species string, weight float64, quality model.HarvestQuality) *model.FarmerBatch {
	var batch *model.FarmerBatch
	e.exec(farmer, func(ctx *contractapi.TransactionContext) {
		var err error
		batch, err = e.cc.CreateBatch(ctx, mustJSON(e.t, map[string]interface{}{
			"species":      species,
			"seedQuantity": 25,
			"plantingDate": "2025-04-01T00:00:00Z",
			"location":     map[string]interface{}{"latitude": 12.3, "longitude": 76.6, "address": "Mysore"},
		}))
		require.NoError(e.t, err)
	})
	e.exec(farmer, func(ctx *contractapi.TransactionContext) {
		require.NoError(e.t, e.cc.RecordHarvest(ctx, batch.ID, mustJSON(e.t, map[string]interface{}{
			"weight":      weight,
			"moisture":    11.5,
			"harvestDate": "2025-08-20T00:00:00Z",
			"quality":     string(quality),
		})))
	})
	e.exec(farmer, func(ctx *contractapi.TransactionContext) {
		refreshed, err := e.cc.GetFarmerBatch(ctx, batch.ID)
		require.NoError(e.t, err)
		batch = refreshed
	})
	return batch
}

// deliverAggregation creates an aggregation over the batch IDs and drives
// its transport to delivered.
func (e *testEnv) deliverAggregation(collector string, batchIDs []string, pricePerKg float64) *model.AggregationBatch {
	var aggregation *model.AggregationBatch
	e.exec(collector, func(ctx *contractapi.TransactionContext) {
		var err error
		aggregation, err = e.cc.CreateAggregation(ctx, mustJSON(e.t, batchIDs), pricePerKg, "Processing facility", "")
		require.NoError(e.t, err)
	})
	e.exec(collector, func(ctx *contractapi.TransactionContext) {
		require.NoError(e.t, e.cc.UpdateTransport(ctx, aggregation.ID, mustJSON(e.t, map[string]interface{}{
			"startTime": "2025-08-21T06:00:00Z",
			"endTime":   "2025-08-21T11:30:00Z",
		})))
	})
	e.exec(collector, func(ctx *contractapi.TransactionContext) {
		refreshed, err := e.cc.GetAggregation(ctx, aggregation.ID)
		require.NoError(e.t, err)
		aggregation = refreshed
	})
	return aggregation
}

// approveLot drives a delivered aggregation through facility intake and a
// passing lab run, returning the approved lot.
func (e *testEnv) approveLot(facility, lab, aggregationID string, receivedWeight float64) *model.ProcessingLot {
	var lot *model.ProcessingLot
	e.exec(facility, func(ctx *contractapi.TransactionContext) {
		var err error
		lot, err = e.cc.ReceiveAggregation(ctx, aggregationID, receivedWeight)
		require.NoError(e.t, err)
	})
	var sample *model.LabSample
	e.exec(facility, func(ctx *contractapi.TransactionContext) {
		var err error
		sample, err = e.cc.SendLabSample(ctx, lot.ID, lab, 1.0, "")
		require.NoError(e.t, err)
	})
	e.exec(lab, func(ctx *contractapi.TransactionContext) {
		_, err := e.cc.SubmitTestResults(ctx, sample.ID, mustJSON(e.t, map[string]interface{}{
			"moisture":          10.0,
			"dnaAuthentication": true,
			"overallResult":     "pass",
		}))
		require.NoError(e.t, err)
	})
	e.exec(facility, func(ctx *contractapi.TransactionContext) {
		refreshed, err := e.cc.GetProcessingLot(ctx, lot.ID)
		require.NoError(e.t, err)
		lot = refreshed
	})
	return lot
}
