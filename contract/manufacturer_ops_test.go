package contract

import (
	"strings"
	"testing"

	"ayurtrace/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/stretchr/testify/require"
)

func TestCreateFinalProductFreezesProvenance(t *testing.T) {
	env := newTestEnv(t)
	registerSupplyChain(env)
	env.registerActor("manufacturer-1", "manufacturer")

	// One farmer feeds two aggregations: two batches into the first, one
	// into the second. Both become approved lots.
	b1 := env.createHarvestedBatch("farmer-1", "Turmeric", 120, model.QualityPremium)
	b2 := env.createHarvestedBatch("farmer-1", "Turmeric", 80, model.QualityStandard)
	b3 := env.createHarvestedBatch("farmer-1", "Turmeric", 60, model.QualityStandard)

	agg1 := env.deliverAggregation("collector-1", []string{b1.ID, b2.ID}, 50)
	agg2 := env.deliverAggregation("collector-1", []string{b3.ID}, 50)

	lot1 := env.approveLot("facility-1", "lab-1", agg1.ID, 195)
	lot2 := env.approveLot("facility-1", "lab-1", agg2.ID, 58)

	var product *model.FinalProduct
	env.exec("manufacturer-1", func(ctx *contractapi.TransactionContext) {
		var err error
		product, err = env.cc.CreateFinalProduct(ctx,
			mustJSON(t, []string{lot1.ID, lot2.ID}), "Turmeric Capsules 500mg", 5000,
			mustJSON(t, []string{"microcrystalline cellulose"}))
		require.NoError(t, err)
	})

	require.True(t, strings.HasPrefix(product.ID, "FB-"))
	require.True(t, strings.HasPrefix(product.QRCode, "QR-FINAL-"))
	require.Equal(t, []string{lot1.ID, lot2.ID}, product.ProcessingLotIDs)
	require.Equal(t, model.ProductActive, product.Status)

	prov := product.ProvenanceChain

	// The same farmer behind all three batches collapses to one entry.
	require.Len(t, prov.Farmers, 1)
	require.Equal(t, fullIDFor("farmer-1"), prov.Farmers[0].ID)
	require.ElementsMatch(t, []string{b1.ID, b2.ID, b3.ID}, prov.Farmers[0].Batches)

	require.Len(t, prov.Collectors, 1)
	require.ElementsMatch(t, []string{agg1.ID, agg2.ID}, prov.Collectors[0].Aggregations)

	require.Len(t, prov.Facilities, 1)
	require.ElementsMatch(t, []string{lot1.ID, lot2.ID}, prov.Facilities[0].Lots)

	require.Len(t, prov.Labs, 1)
	require.Equal(t, fullIDFor("lab-1"), prov.Labs[0].ID)
	require.Len(t, prov.Labs[0].Tests, 2)

	require.Equal(t, fullIDFor("manufacturer-1"), prov.Manufacturer.ID)

	// Timeline is chronological and closes with the formulation itself.
	require.NotEmpty(t, prov.Timeline)
	for i := 1; i < len(prov.Timeline); i++ {
		require.False(t, prov.Timeline[i].Date.Before(prov.Timeline[i-1].Date))
	}
	require.Equal(t, "Final product formulated", prov.Timeline[len(prov.Timeline)-1].Event)
}

func TestCreateFinalProductRequiresApprovedLots(t *testing.T) {
	env := newTestEnv(t)
	registerSupplyChain(env)
	env.registerActor("manufacturer-1", "manufacturer")

	batch := env.createHarvestedBatch("farmer-1", "Tulsi", 50, model.QualityStandard)
	aggregation := env.deliverAggregation("collector-1", []string{batch.ID}, 40)

	var receivedLotID string
	env.exec("facility-1", func(ctx *contractapi.TransactionContext) {
		lot, err := env.cc.ReceiveAggregation(ctx, aggregation.ID, 50)
		require.NoError(t, err)
		receivedLotID = lot.ID
	})

	env.exec("manufacturer-1", func(ctx *contractapi.TransactionContext) {
		_, err := env.cc.CreateFinalProduct(ctx, mustJSON(t, []string{receivedLotID}), "Tulsi Drops", 1000, "")
		require.Error(t, err, "unapproved lots cannot be formulated")

		_, err = env.cc.CreateFinalProduct(ctx, mustJSON(t, []string{"PL-00000000-999"}), "Tulsi Drops", 1000, "")
		require.Error(t, err, "unknown lot")

		_, err = env.cc.CreateFinalProduct(ctx, mustJSON(t, []string{}), "Tulsi Drops", 1000, "")
		require.Error(t, err, "at least one lot required")

		_, err = env.cc.CreateFinalProduct(ctx, mustJSON(t, []string{receivedLotID}), "Tulsi Drops", 0, "")
		require.Error(t, err, "batchSize must be positive")
	})

	env.exec("facility-1", func(ctx *contractapi.TransactionContext) {
		_, err := env.cc.CreateFinalProduct(ctx, mustJSON(t, []string{receivedLotID}), "Tulsi Drops", 1000, "")
		require.Error(t, err, "manufacturer role required")
	})
}

func TestRecallProduct(t *testing.T) {
	env := newTestEnv(t)
	registerSupplyChain(env)
	env.registerActor("manufacturer-1", "manufacturer")
	env.registerActor("manufacturer-2", "manufacturer")

	batch := env.createHarvestedBatch("farmer-1", "Ashwagandha", 90, model.QualityPremium)
	aggregation := env.deliverAggregation("collector-1", []string{batch.ID}, 60)
	lot := env.approveLot("facility-1", "lab-1", aggregation.ID, 88)

	var productID string
	env.exec("manufacturer-1", func(ctx *contractapi.TransactionContext) {
		product, err := env.cc.CreateFinalProduct(ctx, mustJSON(t, []string{lot.ID}), "Ashwagandha Tablets", 2000, "")
		require.NoError(t, err)
		productID = product.ID
	})

	env.exec("manufacturer-2", func(ctx *contractapi.TransactionContext) {
		err := env.cc.RecallProduct(ctx, productID, "not mine")
		require.Error(t, err, "only the owning manufacturer may recall")
	})

	env.exec("manufacturer-1", func(ctx *contractapi.TransactionContext) {
		require.NoError(t, env.cc.RecallProduct(ctx, productID, "Contamination reported in market batch"))
	})
	env.exec("manufacturer-1", func(ctx *contractapi.TransactionContext) {
		product, err := env.cc.GetFinalProduct(ctx, productID)
		require.NoError(t, err)
		require.Equal(t, model.ProductRecalled, product.Status)
	})

	// Recalling again is a no-op; admins may recall products they do not own.
	env.exec("admin", func(ctx *contractapi.TransactionContext) {
		require.NoError(t, env.cc.RecallProduct(ctx, productID, "duplicate notice"))
	})
}

func TestFinalProductSerializesEmptyProvenanceSlices(t *testing.T) {
	product := &model.FinalProduct{}
	ensureFinalProductSchemaCompliance(product)

	require.NotNil(t, product.ProcessingLotIDs)
	require.NotNil(t, product.Excipients)
	require.NotNil(t, product.ProvenanceChain.Farmers)
	require.NotNil(t, product.ProvenanceChain.Collectors)
	require.NotNil(t, product.ProvenanceChain.Facilities)
	require.NotNil(t, product.ProvenanceChain.Labs)
	require.NotNil(t, product.ProvenanceChain.Timeline)
}
