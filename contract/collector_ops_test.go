package contract

import (
	"strings"
	"testing"

	"ayurtrace/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/stretchr/testify/require"
)

func TestAggregationCartLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.registerActor("farmer-1", "farmer")
	env.registerActor("collector-1", "collector")

	b1 := env.createHarvestedBatch("farmer-1", "Turmeric", 120, model.QualityPremium)
	b2 := env.createHarvestedBatch("farmer-1", "Cardamom", 85, model.QualityStandard)

	// Only existing batches can be staged.
	env.exec("collector-1", func(ctx *contractapi.TransactionContext) {
		require.Error(t, env.cc.AddToAggregationCart(ctx, "FAR-00000000-999"))
	})

	env.exec("collector-1", func(ctx *contractapi.TransactionContext) {
		require.NoError(t, env.cc.AddToAggregationCart(ctx, b1.ID))
	})
	// Adding the same batch twice is a no-op.
	env.exec("collector-1", func(ctx *contractapi.TransactionContext) {
		require.NoError(t, env.cc.AddToAggregationCart(ctx, b1.ID))
	})
	env.exec("collector-1", func(ctx *contractapi.TransactionContext) {
		require.NoError(t, env.cc.AddToAggregationCart(ctx, b2.ID))
	})
	env.exec("collector-1", func(ctx *contractapi.TransactionContext) {
		cart, err := env.cc.GetAggregationCart(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{b1.ID, b2.ID}, cart)
	})

	env.exec("collector-1", func(ctx *contractapi.TransactionContext) {
		require.NoError(t, env.cc.RemoveFromAggregationCart(ctx, b1.ID))
	})
	// Removing an absent batch is a no-op.
	env.exec("collector-1", func(ctx *contractapi.TransactionContext) {
		require.NoError(t, env.cc.RemoveFromAggregationCart(ctx, "FAR-00000000-999"))
	})
	env.exec("collector-1", func(ctx *contractapi.TransactionContext) {
		cart, err := env.cc.GetAggregationCart(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{b2.ID}, cart)
	})

	env.exec("collector-1", func(ctx *contractapi.TransactionContext) {
		require.NoError(t, env.cc.ClearAggregationCart(ctx))
	})
	env.exec("collector-1", func(ctx *contractapi.TransactionContext) {
		cart, err := env.cc.GetAggregationCart(ctx)
		require.NoError(t, err)
		require.Empty(t, cart)
	})
}

func TestCreateAggregationRollsUpWeightAndPayments(t *testing.T) {
	env := newTestEnv(t)
	env.registerActor("farmer-1", "farmer")
	env.registerActor("collector-1", "collector")

	b1 := env.createHarvestedBatch("farmer-1", "Turmeric", 120, model.QualityPremium)
	b2 := env.createHarvestedBatch("farmer-1", "Turmeric", 80, model.QualityStandard)

	var aggregationID string
	env.exec("collector-1", func(ctx *contractapi.TransactionContext) {
		aggregation, err := env.cc.CreateAggregation(ctx, mustJSON(t, []string{b1.ID, b2.ID}), 50, "Karnataka Herbs Facility", "")
		require.NoError(t, err)
		aggregationID = aggregation.ID

		require.True(t, strings.HasPrefix(aggregation.ID, "AGG-"))
		require.Equal(t, fullIDFor("collector-1"), aggregation.CollectorID)
		require.Equal(t, []string{b1.ID, b2.ID}, aggregation.FarmerBatches)
		require.Equal(t, 200.0, aggregation.TotalWeight)
		require.Equal(t, 10000.0, aggregation.TotalValue)
		require.Equal(t, model.AggregationCollecting, aggregation.Status)
	})

	env.exec("collector-1", func(ctx *contractapi.TransactionContext) {
		for id, wantPayment := range map[string]float64{b1.ID: 6000, b2.ID: 4000} {
			batch, err := env.cc.GetFarmerBatch(ctx, id)
			require.NoError(t, err)
			require.Equal(t, model.BatchStatusSold, batch.Status)
			require.Equal(t, wantPayment, batch.PaymentAmount)
			require.Equal(t, model.PaymentPending, batch.PaymentStatus)
		}
		aggregation, err := env.cc.GetAggregation(ctx, aggregationID)
		require.NoError(t, err)
		require.Equal(t, 200.0, aggregation.TotalWeight)
	})
}

func TestCreateAggregationExcludesUnharvestedBatches(t *testing.T) {
	env := newTestEnv(t)
	env.registerActor("farmer-1", "farmer")
	env.registerActor("collector-1", "collector")

	harvested := env.createHarvestedBatch("farmer-1", "Tulsi", 60, model.QualityStandard)

	var planted *model.FarmerBatch
	env.exec("farmer-1", func(ctx *contractapi.TransactionContext) {
		var err error
		planted, err = env.cc.CreateBatch(ctx, mustJSON(t, map[string]interface{}{
			"species":      "Tulsi",
			"seedQuantity": 10,
			"plantingDate": "2025-06-01T00:00:00Z",
			"location":     map[string]interface{}{"latitude": 12.3, "longitude": 76.6, "address": "Mysore"},
		}))
		require.NoError(t, err)
	})

	env.exec("collector-1", func(ctx *contractapi.TransactionContext) {
		aggregation, err := env.cc.CreateAggregation(ctx, mustJSON(t, []string{harvested.ID, planted.ID}), 40, "", "")
		require.NoError(t, err)
		require.Equal(t, []string{harvested.ID}, aggregation.FarmerBatches)
		require.Equal(t, 60.0, aggregation.TotalWeight)
	})

	// The excluded batch is untouched.
	env.exec("farmer-1", func(ctx *contractapi.TransactionContext) {
		batch, err := env.cc.GetFarmerBatch(ctx, planted.ID)
		require.NoError(t, err)
		require.Equal(t, model.BatchStatusPlanting, batch.Status)
		require.Zero(t, batch.PaymentAmount)
	})
}

func TestCreateAggregationRejectsUnknownBatchID(t *testing.T) {
	env := newTestEnv(t)
	env.registerActor("farmer-1", "farmer")
	env.registerActor("collector-1", "collector")

	harvested := env.createHarvestedBatch("farmer-1", "Brahmi", 45, model.QualityStandard)

	env.exec("collector-1", func(ctx *contractapi.TransactionContext) {
		_, err := env.cc.CreateAggregation(ctx, mustJSON(t, []string{harvested.ID, "FAR-00000000-999"}), 40, "", "")
		require.Error(t, err)
	})

	// The known batch is untouched by the failed call.
	env.exec("farmer-1", func(ctx *contractapi.TransactionContext) {
		batch, err := env.cc.GetFarmerBatch(ctx, harvested.ID)
		require.NoError(t, err)
		require.Equal(t, model.BatchStatusHarvested, batch.Status)
	})
}

func TestCreateAggregationRequiresHarvestedMaterial(t *testing.T) {
	env := newTestEnv(t)
	env.registerActor("farmer-1", "farmer")
	env.registerActor("collector-1", "collector")

	var planted *model.FarmerBatch
	env.exec("farmer-1", func(ctx *contractapi.TransactionContext) {
		var err error
		planted, err = env.cc.CreateBatch(ctx, mustJSON(t, map[string]interface{}{
			"species":      "Neem",
			"seedQuantity": 5,
			"plantingDate": "2025-06-01T00:00:00Z",
			"location":     map[string]interface{}{"latitude": 12.3, "longitude": 76.6, "address": "Mysore"},
		}))
		require.NoError(t, err)
	})

	env.exec("collector-1", func(ctx *contractapi.TransactionContext) {
		_, err := env.cc.CreateAggregation(ctx, mustJSON(t, []string{planted.ID}), 40, "", "")
		require.Error(t, err)
	})
	env.exec("collector-1", func(ctx *contractapi.TransactionContext) {
		_, err := env.cc.CreateAggregation(ctx, mustJSON(t, []string{}), 40, "", "")
		require.Error(t, err, "empty batch list")
	})
	env.exec("farmer-1", func(ctx *contractapi.TransactionContext) {
		_, err := env.cc.CreateAggregation(ctx, mustJSON(t, []string{planted.ID}), 40, "", "")
		require.Error(t, err, "collector role required")
	})
}

func TestUpdateTransportMergesAndTracksStatus(t *testing.T) {
	env := newTestEnv(t)
	env.registerActor("farmer-1", "farmer")
	env.registerActor("collector-1", "collector")
	env.registerActor("collector-2", "collector")

	batch := env.createHarvestedBatch("farmer-1", "Turmeric", 100, model.QualityPremium)

	var aggregationID string
	env.exec("collector-1", func(ctx *contractapi.TransactionContext) {
		aggregation, err := env.cc.CreateAggregation(ctx, mustJSON(t, []string{batch.ID}), 45, "", "")
		require.NoError(t, err)
		aggregationID = aggregation.ID
	})

	env.exec("collector-1", func(ctx *contractapi.TransactionContext) {
		require.NoError(t, env.cc.UpdateTransport(ctx, aggregationID, mustJSON(t, map[string]interface{}{
			"startTime": "2025-08-21T06:00:00Z",
		})))
	})
	env.exec("collector-1", func(ctx *contractapi.TransactionContext) {
		aggregation, err := env.cc.GetAggregation(ctx, aggregationID)
		require.NoError(t, err)
		require.Equal(t, model.AggregationInTransit, aggregation.Status)
		require.NotNil(t, aggregation.TransportData)
		require.False(t, aggregation.TransportData.StartTime.IsZero())
		require.True(t, aggregation.TransportData.EndTime.IsZero())
	})

	env.exec("collector-2", func(ctx *contractapi.TransactionContext) {
		err := env.cc.UpdateTransport(ctx, aggregationID, mustJSON(t, map[string]interface{}{
			"endTime": "2025-08-21T11:00:00Z",
		}))
		require.Error(t, err, "only the owning collector may update transport")
	})

	env.exec("collector-1", func(ctx *contractapi.TransactionContext) {
		require.NoError(t, env.cc.UpdateTransport(ctx, aggregationID, mustJSON(t, map[string]interface{}{
			"endTime":       "2025-08-21T11:30:00Z",
			"deliveryPhoto": "ipfs://delivery-photo",
		})))
	})
	env.exec("collector-1", func(ctx *contractapi.TransactionContext) {
		aggregation, err := env.cc.GetAggregation(ctx, aggregationID)
		require.NoError(t, err)
		require.Equal(t, model.AggregationDelivered, aggregation.Status)
		// Earlier fields survive the partial update.
		require.False(t, aggregation.TransportData.StartTime.IsZero())
		require.Equal(t, "ipfs://delivery-photo", aggregation.TransportData.DeliveryPhoto)
	})
}

func TestAddTransportReadingAppends(t *testing.T) {
	env := newTestEnv(t)
	env.registerActor("farmer-1", "farmer")
	env.registerActor("collector-1", "collector")

	batch := env.createHarvestedBatch("farmer-1", "Cardamom", 70, model.QualityStandard)

	var aggregationID string
	env.exec("collector-1", func(ctx *contractapi.TransactionContext) {
		aggregation, err := env.cc.CreateAggregation(ctx, mustJSON(t, []string{batch.ID}), 55, "", "")
		require.NoError(t, err)
		aggregationID = aggregation.ID
	})

	env.exec("collector-1", func(ctx *contractapi.TransactionContext) {
		require.NoError(t, env.cc.AddTransportReading(ctx, aggregationID, mustJSON(t, map[string]interface{}{
			"temperature": 24.5,
			"humidity":    61.0,
			"latitude":    12.52,
			"longitude":   76.89,
			"timestamp":   "2025-08-21T07:15:00Z",
		})))
	})
	env.exec("collector-1", func(ctx *contractapi.TransactionContext) {
		require.NoError(t, env.cc.AddTransportReading(ctx, aggregationID, mustJSON(t, map[string]interface{}{
			"temperature": 25.1,
			"humidity":    60.2,
			"timestamp":   "2025-08-21T08:15:00Z",
		})))
	})

	env.exec("collector-1", func(ctx *contractapi.TransactionContext) {
		aggregation, err := env.cc.GetAggregation(ctx, aggregationID)
		require.NoError(t, err)
		require.NotNil(t, aggregation.TransportData)
		require.Len(t, aggregation.TransportData.SensorData, 2)
		// Only the reading with a GPS fix contributes a route point.
		require.Len(t, aggregation.TransportData.Route, 1)
	})

	env.exec("collector-1", func(ctx *contractapi.TransactionContext) {
		require.NoError(t, env.cc.UpdateTransport(ctx, aggregationID, mustJSON(t, map[string]interface{}{
			"endTime": "2025-08-21T11:30:00Z",
		})))
	})
	env.exec("collector-1", func(ctx *contractapi.TransactionContext) {
		err := env.cc.AddTransportReading(ctx, aggregationID, mustJSON(t, map[string]interface{}{
			"temperature": 22.0,
			"humidity":    58.0,
			"timestamp":   "2025-08-21T12:00:00Z",
		}))
		require.Error(t, err, "delivered aggregations accept no further readings")
	})
}
