package contract

import (
	"testing"

	"ayurtrace/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/stretchr/testify/require"
)

func TestGetRoleScopedViewFiltersOwnCollection(t *testing.T) {
	env := newTestEnv(t)
	registerSupplyChain(env)
	env.registerActor("farmer-2", "farmer")
	env.registerActor("collector-2", "collector")

	own := env.createHarvestedBatch("farmer-1", "Turmeric", 100, model.QualityPremium)
	other := env.createHarvestedBatch("farmer-2", "Cardamom", 50, model.QualityStandard)

	env.deliverAggregation("collector-1", []string{own.ID}, 50)

	env.exec("farmer-1", func(ctx *contractapi.TransactionContext) {
		view, err := env.cc.GetRoleScopedView(ctx, "farmer")
		require.NoError(t, err)

		// Own collection is scoped to the caller.
		require.Len(t, view.FarmerBatches, 1)
		require.Equal(t, own.ID, view.FarmerBatches[0].ID)

		// Upstream and downstream collections stay unfiltered.
		require.Len(t, view.AggregationBatches, 1)
	})

	env.exec("collector-2", func(ctx *contractapi.TransactionContext) {
		view, err := env.cc.GetRoleScopedView(ctx, "collector")
		require.NoError(t, err)

		// collector-2 owns no aggregations but still sees every batch.
		require.Empty(t, view.AggregationBatches)
		ids := []string{}
		for _, batch := range view.FarmerBatches {
			ids = append(ids, batch.ID)
		}
		require.ElementsMatch(t, []string{own.ID, other.ID}, ids)
	})

	env.exec("farmer-1", func(ctx *contractapi.TransactionContext) {
		_, err := env.cc.GetRoleScopedView(ctx, "auditor")
		require.Error(t, err)
	})

	// Holding some role is not enough; the caller must hold the role whose
	// view is requested.
	env.exec("farmer-1", func(ctx *contractapi.TransactionContext) {
		_, err := env.cc.GetRoleScopedView(ctx, "collector")
		require.Error(t, err)
		require.Contains(t, err.Error(), "does not have required role")
	})

	// Admins may inspect any role's view.
	env.exec("admin", func(ctx *contractapi.TransactionContext) {
		view, err := env.cc.GetRoleScopedView(ctx, "collector")
		require.NoError(t, err)
		require.Empty(t, view.AggregationBatches)
	})
}

func TestCandidateLists(t *testing.T) {
	env := newTestEnv(t)
	registerSupplyChain(env)
	env.registerActor("lab-2", "laboratory")

	harvested := env.createHarvestedBatch("farmer-1", "Turmeric", 100, model.QualityPremium)

	var planted *model.FarmerBatch
	env.exec("farmer-1", func(ctx *contractapi.TransactionContext) {
		var err error
		planted, err = env.cc.CreateBatch(ctx, mustJSON(t, map[string]interface{}{
			"species":      "Neem",
			"seedQuantity": 12,
			"plantingDate": "2025-06-15T00:00:00Z",
			"location":     map[string]interface{}{"latitude": 12.3, "longitude": 76.6, "address": "Mysore"},
		}))
		require.NoError(t, err)
	})

	// Only the harvested batch qualifies for collection.
	env.exec("collector-1", func(ctx *contractapi.TransactionContext) {
		lists, err := env.cc.GetHarvestedFarmerBatches(ctx)
		require.NoError(t, err)
		require.Len(t, lists, 1)
		require.Equal(t, harvested.ID, lists[0].ID)
		require.NotEqual(t, planted.ID, lists[0].ID)
	})

	aggregation := env.deliverAggregation("collector-1", []string{harvested.ID}, 50)

	env.exec("facility-1", func(ctx *contractapi.TransactionContext) {
		delivered, err := env.cc.GetDeliveredAggregations(ctx)
		require.NoError(t, err)
		require.Len(t, delivered, 1)
		require.Equal(t, aggregation.ID, delivered[0].ID)
	})

	var lotID string
	env.exec("facility-1", func(ctx *contractapi.TransactionContext) {
		lot, err := env.cc.ReceiveAggregation(ctx, aggregation.ID, 100)
		require.NoError(t, err)
		lotID = lot.ID
	})
	var sampleID string
	env.exec("facility-1", func(ctx *contractapi.TransactionContext) {
		sample, err := env.cc.SendLabSample(ctx, lotID, "lab-1", 1.0, "")
		require.NoError(t, err)
		sampleID = sample.ID
	})

	// Pending samples are scoped to the designated lab.
	env.exec("lab-1", func(ctx *contractapi.TransactionContext) {
		pending, err := env.cc.GetPendingLabSamples(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		require.Equal(t, sampleID, pending[0].ID)
	})
	env.exec("lab-2", func(ctx *contractapi.TransactionContext) {
		pending, err := env.cc.GetPendingLabSamples(ctx)
		require.NoError(t, err)
		require.Empty(t, pending)
	})

	env.exec("lab-1", func(ctx *contractapi.TransactionContext) {
		_, err := env.cc.SubmitTestResults(ctx, sampleID, mustJSON(t, map[string]interface{}{
			"moisture": 9.5, "dnaAuthentication": true, "overallResult": "pass",
		}))
		require.NoError(t, err)
	})

	env.exec("facility-1", func(ctx *contractapi.TransactionContext) {
		approved, err := env.cc.GetApprovedProcessingLots(ctx)
		require.NoError(t, err)
		require.Len(t, approved, 1)
		require.Equal(t, lotID, approved[0].ID)

		// The claimed sample left the pending list.
		pendingAfter, err := env.cc.GetPendingLabSamples(ctx)
		require.NoError(t, err)
		require.Empty(t, pendingAfter)
	})
}

func TestFinalProductQRCodeLookup(t *testing.T) {
	env := newTestEnv(t)
	registerSupplyChain(env)
	env.registerActor("manufacturer-1", "manufacturer")

	batch := env.createHarvestedBatch("farmer-1", "Turmeric", 100, model.QualityPremium)
	aggregation := env.deliverAggregation("collector-1", []string{batch.ID}, 50)
	lot := env.approveLot("facility-1", "lab-1", aggregation.ID, 98)

	var product *model.FinalProduct
	env.exec("manufacturer-1", func(ctx *contractapi.TransactionContext) {
		var err error
		product, err = env.cc.CreateFinalProduct(ctx, mustJSON(t, []string{lot.ID}), "Turmeric Capsules", 1000, "")
		require.NoError(t, err)
	})

	env.exec("manufacturer-1", func(ctx *contractapi.TransactionContext) {
		found, err := env.cc.GetFinalProductByQRCode(ctx, product.QRCode)
		require.NoError(t, err)
		require.Equal(t, product.ID, found.ID)

		_, err = env.cc.GetFinalProductByQRCode(ctx, "QR-FINAL-00000000-000")
		require.Error(t, err, "unknown QR code")
	})
}

func TestGetProvenanceExpandsChain(t *testing.T) {
	env := newTestEnv(t)
	registerSupplyChain(env)
	env.registerActor("manufacturer-1", "manufacturer")

	batch := env.createHarvestedBatch("farmer-1", "Ashwagandha", 90, model.QualityPremium)
	aggregation := env.deliverAggregation("collector-1", []string{batch.ID}, 60)
	lot := env.approveLot("facility-1", "lab-1", aggregation.ID, 88)

	var productID string
	env.exec("manufacturer-1", func(ctx *contractapi.TransactionContext) {
		product, err := env.cc.CreateFinalProduct(ctx, mustJSON(t, []string{lot.ID}), "Ashwagandha Tablets", 2000, "")
		require.NoError(t, err)
		productID = product.ID
	})

	env.exec("manufacturer-1", func(ctx *contractapi.TransactionContext) {
		bundle, err := env.cc.GetProvenance(ctx, productID)
		require.NoError(t, err)
		require.Equal(t, productID, bundle.Product.ID)

		require.Len(t, bundle.Farmers, 1)
		require.Len(t, bundle.Farmers[0].Batches, 1)
		require.Equal(t, batch.ID, bundle.Farmers[0].Batches[0].ID)
		// The expanded batch reflects current state, including the sale.
		require.Equal(t, model.BatchStatusSold, bundle.Farmers[0].Batches[0].Status)

		require.Len(t, bundle.Collectors, 1)
		require.Len(t, bundle.Collectors[0].Aggregations, 1)
		require.Equal(t, aggregation.ID, bundle.Collectors[0].Aggregations[0].ID)

		require.Len(t, bundle.Facilities, 1)
		require.Len(t, bundle.Facilities[0].Lots, 1)
		require.Equal(t, model.LotApproved, bundle.Facilities[0].Lots[0].Status)

		require.Len(t, bundle.Labs, 1)
		require.Len(t, bundle.Labs[0].Tests, 1)
		require.Equal(t, model.SampleCompleted, bundle.Labs[0].Tests[0].Status)
	})

	env.exec("manufacturer-1", func(ctx *contractapi.TransactionContext) {
		_, err := env.cc.GetProvenance(ctx, "FB-00000000-000")
		require.Error(t, err)
	})
}
