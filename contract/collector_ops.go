package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ayurtrace/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Lifecycle: Collector Operations ---

// getCollectorCart fetches the calling collector's cart, returning an empty
// cart when none exists yet.
func (s *AyurTraceSmartContract) getCollectorCart(ctx contractapi.TransactionContextInterface, actor *actorInfo) (*model.CollectorCart, error) {
	cartBytes, err := s.getEntityState(ctx, collectorCartObjectType, actor.fullID)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return &model.CollectorCart{
				ObjectType:  collectorCartObjectType,
				CollectorID: actor.fullID,
				BatchIDs:    []string{},
			}, nil
		}
		return nil, err
	}
	var cart model.CollectorCart
	if err := json.Unmarshal(cartBytes, &cart); err != nil {
		return nil, fmt.Errorf("failed to unmarshal CollectorCart for '%s': %w", actor.alias, err)
	}
	if cart.BatchIDs == nil {
		cart.BatchIDs = []string{}
	}
	return &cart, nil
}

func (s *AyurTraceSmartContract) saveCollectorCart(ctx contractapi.TransactionContextInterface, cart *model.CollectorCart, now time.Time) error {
	cart.UpdatedAt = now
	if cart.BatchIDs == nil {
		cart.BatchIDs = []string{}
	}
	return s.putEntityState(ctx, collectorCartObjectType, cart.CollectorID, cart)
}

// AddToAggregationCart stages a farmer batch ID for the caller's next
// aggregation. The batch must exist; its status is only checked at
// aggregation time.
func (s *AyurTraceSmartContract) AddToAggregationCart(ctx contractapi.TransactionContextInterface, batchID string) error {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("AddToAggregationCart: failed to get actor info: %w", err)
	}
	im := NewIdentityManager(ctx)
	if err := im.RequireRole("collector"); err != nil {
		return err
	}
	if err := s.validateRequiredString(batchID, "batchID", maxStringInputLength); err != nil {
		return err
	}
	exists, err := s.entityExists(ctx, farmerBatchObjectType, batchID)
	if err != nil {
		return fmt.Errorf("AddToAggregationCart: %w", err)
	}
	if !exists {
		return fmt.Errorf("farmer batch '%s' does not exist", batchID)
	}

	cart, err := s.getCollectorCart(ctx, actor)
	if err != nil {
		return fmt.Errorf("AddToAggregationCart: %w", err)
	}
	for _, id := range cart.BatchIDs {
		if id == batchID {
			logger.Debugf("Batch '%s' already in cart of collector '%s'. No action needed.", batchID, actor.alias)
			return nil
		}
	}
	if len(cart.BatchIDs) >= maxArrayElements {
		return fmt.Errorf("aggregation cart already holds %d batches, maximum is %d", len(cart.BatchIDs), maxArrayElements)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("AddToAggregationCart: failed to get transaction timestamp: %w", err)
	}
	cart.BatchIDs = append(cart.BatchIDs, batchID)
	if err := s.saveCollectorCart(ctx, cart, now); err != nil {
		return fmt.Errorf("AddToAggregationCart: %w", err)
	}
	logger.Infof("Batch '%s' added to aggregation cart of collector '%s' (%d staged)", batchID, actor.alias, len(cart.BatchIDs))
	return nil
}

// RemoveFromAggregationCart unstages a farmer batch ID. Removing an ID that
// is not staged is a no-op.
func (s *AyurTraceSmartContract) RemoveFromAggregationCart(ctx contractapi.TransactionContextInterface, batchID string) error {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("RemoveFromAggregationCart: failed to get actor info: %w", err)
	}
	im := NewIdentityManager(ctx)
	if err := im.RequireRole("collector"); err != nil {
		return err
	}
	if err := s.validateRequiredString(batchID, "batchID", maxStringInputLength); err != nil {
		return err
	}

	cart, err := s.getCollectorCart(ctx, actor)
	if err != nil {
		return fmt.Errorf("RemoveFromAggregationCart: %w", err)
	}
	remaining := []string{}
	for _, id := range cart.BatchIDs {
		if id != batchID {
			remaining = append(remaining, id)
		}
	}
	if len(remaining) == len(cart.BatchIDs) {
		return nil
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("RemoveFromAggregationCart: failed to get transaction timestamp: %w", err)
	}
	cart.BatchIDs = remaining
	if err := s.saveCollectorCart(ctx, cart, now); err != nil {
		return fmt.Errorf("RemoveFromAggregationCart: %w", err)
	}
	logger.Infof("Batch '%s' removed from aggregation cart of collector '%s'", batchID, actor.alias)
	return nil
}

// ClearAggregationCart empties the caller's staging list.
func (s *AyurTraceSmartContract) ClearAggregationCart(ctx contractapi.TransactionContextInterface) error {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("ClearAggregationCart: failed to get actor info: %w", err)
	}
	im := NewIdentityManager(ctx)
	if err := im.RequireRole("collector"); err != nil {
		return err
	}

	cart, err := s.getCollectorCart(ctx, actor)
	if err != nil {
		return fmt.Errorf("ClearAggregationCart: %w", err)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("ClearAggregationCart: failed to get transaction timestamp: %w", err)
	}
	cart.BatchIDs = []string{}
	if err := s.saveCollectorCart(ctx, cart, now); err != nil {
		return fmt.Errorf("ClearAggregationCart: %w", err)
	}
	logger.Infof("Aggregation cart cleared by collector '%s'", actor.alias)
	return nil
}

// GetAggregationCart returns the caller's staged batch IDs.
func (s *AyurTraceSmartContract) GetAggregationCart(ctx contractapi.TransactionContextInterface) ([]string, error) {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetAggregationCart: failed to get actor info: %w", err)
	}
	im := NewIdentityManager(ctx)
	if err := im.RequireRole("collector"); err != nil {
		return nil, err
	}
	cart, err := s.getCollectorCart(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("GetAggregationCart: %w", err)
	}
	return cart.BatchIDs, nil
}

// CreateAggregation buys a set of harvested farmer batches into a new
// aggregation. Batch IDs that do not resolve are an error; batches that
// exist but are not in status 'harvested' are excluded without mutation.
// Each included batch transitions to 'sold' with a pending payment of its
// harvest weight times pricePerKg. Weight and value roll-ups are pure
// functions of the included harvests.
func (s *AyurTraceSmartContract) CreateAggregation(ctx contractapi.TransactionContextInterface,
	farmerBatchIDsJSON string, pricePerKg float64, destination, facilityID string) (*model.AggregationBatch, error) {

	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("CreateAggregation: failed to get actor info: %w", err)
	}
	im := NewIdentityManager(ctx)
	if err := im.RequireRole("collector"); err != nil {
		return nil, err
	}

	var farmerBatchIDs []string
	if err := json.Unmarshal([]byte(farmerBatchIDsJSON), &farmerBatchIDs); err != nil {
		return nil, fmt.Errorf("CreateAggregation: invalid farmerBatchIDsJSON (expected JSON array of strings): %w", err)
	}
	if len(farmerBatchIDs) == 0 {
		return nil, errors.New("CreateAggregation: farmerBatchIDs cannot be empty")
	}
	if err := s.validateStringArray(farmerBatchIDs, "farmerBatchIDs", maxArrayElements, maxStringInputLength); err != nil {
		return nil, err
	}
	if pricePerKg <= 0 {
		return nil, errors.New("CreateAggregation: pricePerKg must be positive")
	}
	if err := s.validateOptionalString(destination, "destination", maxStringInputLength); err != nil {
		return nil, err
	}
	if err := s.validateOptionalString(facilityID, "facilityID", maxStringInputLength*2); err != nil {
		return nil, err
	}

	// Resolve every referenced batch up front so an unknown ID fails the
	// whole call before any state is written.
	batches := make([]*model.FarmerBatch, 0, len(farmerBatchIDs))
	for _, batchID := range farmerBatchIDs {
		batch, err := s.getFarmerBatchByID(ctx, batchID)
		if err != nil {
			return nil, fmt.Errorf("CreateAggregation: %w", err)
		}
		batches = append(batches, batch)
	}

	included := make([]*model.FarmerBatch, 0, len(batches))
	includedIDs := []string{}
	totalWeight := 0.0
	for _, batch := range batches {
		if batch.Status != model.BatchStatusHarvested || batch.HarvestData == nil {
			logger.Infof("CreateAggregation: batch '%s' status '%s' is not harvested, excluding from aggregation", batch.ID, batch.Status)
			continue
		}
		included = append(included, batch)
		includedIDs = append(includedIDs, batch.ID)
		totalWeight += batch.HarvestData.Weight
	}
	if len(included) == 0 {
		return nil, errors.New("CreateAggregation: none of the referenced batches are in status 'harvested'")
	}
	totalValue := totalWeight * pricePerKg

	aggregationID, err := s.generateEntityID(ctx, "AGG")
	if err != nil {
		return nil, fmt.Errorf("CreateAggregation: failed to generate aggregation ID: %w", err)
	}
	exists, err := s.entityExists(ctx, aggregationObjectType, aggregationID)
	if err != nil {
		return nil, fmt.Errorf("CreateAggregation: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("aggregation with ID '%s' already exists", aggregationID)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, fmt.Errorf("CreateAggregation: failed to get transaction timestamp: %w", err)
	}

	// Transition the purchased batches before writing the aggregation so a
	// failed batch write leaves no dangling aggregation.
	for _, batch := range included {
		batch.Status = model.BatchStatusSold
		batch.PaymentAmount = batch.HarvestData.Weight * pricePerKg
		batch.PaymentStatus = model.PaymentPending
		batch.UpdatedAt = now
		ensureFarmerBatchSchemaCompliance(batch)
		if err := s.putEntityState(ctx, farmerBatchObjectType, batch.ID, batch); err != nil {
			return nil, fmt.Errorf("CreateAggregation: %w", err)
		}
	}

	aggregation := model.AggregationBatch{
		ObjectType:    aggregationObjectType,
		ID:            aggregationID,
		CollectorID:   actor.fullID,
		CollectorName: actor.alias,
		FarmerBatches: includedIDs,
		TotalWeight:   totalWeight,
		TotalValue:    totalValue,
		PricePerKg:    pricePerKg,
		Status:        model.AggregationCollecting,
		Destination:   destination,
		FacilityID:    facilityID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	ensureAggregationSchemaCompliance(&aggregation)

	if err := s.putEntityState(ctx, aggregationObjectType, aggregationID, &aggregation); err != nil {
		return nil, fmt.Errorf("CreateAggregation: %w", err)
	}

	s.emitChainEvent(ctx, "AggregationCreated", actor, map[string]interface{}{
		"aggregationId": aggregationID, "farmerBatches": includedIDs,
		"totalWeight": totalWeight, "totalValue": totalValue, "pricePerKg": pricePerKg,
	})
	logger.Infof("Aggregation '%s' created by collector '%s' with %d batches (%.2f kg, value %.2f)",
		aggregationID, actor.alias, len(includedIDs), totalWeight, totalValue)
	return &aggregation, nil
}

// UpdateTransport merges a partial transport update onto an aggregation.
// Provided fields overwrite; route and sensorData arrays are replaced whole,
// so callers send the full accumulated arrays. Status becomes 'delivered'
// once an endTime is present, otherwise 'in-transit'. Roll-up fields on the
// aggregation are never touched here.
func (s *AyurTraceSmartContract) UpdateTransport(ctx contractapi.TransactionContextInterface, aggregationID, transportDataJSON string) error {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("UpdateTransport: failed to get actor info: %w", err)
	}
	im := NewIdentityManager(ctx)
	if err := im.RequireRole("collector"); err != nil {
		return err
	}

	var tdArg struct {
		StartTimeStr  *string               `json:"startTime"`
		EndTimeStr    *string               `json:"endTime"`
		Route         []model.RoutePoint    `json:"route"`
		SensorData    []model.SensorReading `json:"sensorData"`
		DeliveryPhoto *string               `json:"deliveryPhoto"`
	}
	if err := json.Unmarshal([]byte(transportDataJSON), &tdArg); err != nil {
		return fmt.Errorf("UpdateTransport: invalid transportDataJSON: %w", err)
	}

	aggregation, err := s.getAggregationByID(ctx, aggregationID)
	if err != nil {
		return fmt.Errorf("UpdateTransport: %w", err)
	}
	mayManage, err := s.actorMayManageEntity(im, aggregation.CollectorID, actor)
	if err != nil {
		return fmt.Errorf("UpdateTransport: %w", err)
	}
	if !mayManage {
		return fmt.Errorf("unauthorized: aggregation '%s' is not owned by caller '%s'", aggregationID, actor.alias)
	}

	if aggregation.TransportData == nil {
		aggregation.TransportData = &model.TransportData{}
	}
	td := aggregation.TransportData

	if tdArg.StartTimeStr != nil {
		startTime, err := parseDateString(*tdArg.StartTimeStr, "transportData.startTime", false)
		if err != nil {
			return err
		}
		td.StartTime = startTime
	}
	if tdArg.EndTimeStr != nil {
		endTime, err := parseDateString(*tdArg.EndTimeStr, "transportData.endTime", false)
		if err != nil {
			return err
		}
		td.EndTime = endTime
	}
	if tdArg.Route != nil {
		if len(tdArg.Route) > maxArrayElements*10 {
			return fmt.Errorf("transportData.route has %d points, exceeding maximum of %d", len(tdArg.Route), maxArrayElements*10)
		}
		td.Route = tdArg.Route
	}
	if tdArg.SensorData != nil {
		if len(tdArg.SensorData) > maxArrayElements*10 {
			return fmt.Errorf("transportData.sensorData has %d readings, exceeding maximum of %d", len(tdArg.SensorData), maxArrayElements*10)
		}
		td.SensorData = tdArg.SensorData
	}
	if tdArg.DeliveryPhoto != nil {
		if err := s.validateOptionalString(*tdArg.DeliveryPhoto, "transportData.deliveryPhoto", maxStringInputLength*2); err != nil {
			return err
		}
		td.DeliveryPhoto = *tdArg.DeliveryPhoto
	}

	if td.EndTime.IsZero() {
		aggregation.Status = model.AggregationInTransit
	} else {
		aggregation.Status = model.AggregationDelivered
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("UpdateTransport: failed to get transaction timestamp: %w", err)
	}
	aggregation.UpdatedAt = now
	ensureAggregationSchemaCompliance(aggregation)

	if err := s.putEntityState(ctx, aggregationObjectType, aggregationID, aggregation); err != nil {
		return fmt.Errorf("UpdateTransport: %w", err)
	}

	s.emitChainEvent(ctx, "TransportUpdated", actor, map[string]interface{}{
		"aggregationId": aggregationID, "status": aggregation.Status,
	})
	logger.Infof("Transport updated for aggregation '%s' by collector '%s' (status: %s)", aggregationID, actor.alias, aggregation.Status)
	return nil
}

// AddTransportReading appends a single sensor reading (and optionally a GPS
// fix) to an aggregation in transit, without replacing the existing arrays.
func (s *AyurTraceSmartContract) AddTransportReading(ctx contractapi.TransactionContextInterface, aggregationID, readingJSON string) error {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("AddTransportReading: failed to get actor info: %w", err)
	}
	im := NewIdentityManager(ctx)
	if err := im.RequireRole("collector"); err != nil {
		return err
	}

	var input struct {
		Temperature float64  `json:"temperature"`
		Humidity    float64  `json:"humidity"`
		Latitude    *float64 `json:"latitude"`
		Longitude   *float64 `json:"longitude"`
		Timestamp   string   `json:"timestamp"`
	}
	if err := json.Unmarshal([]byte(readingJSON), &input); err != nil {
		return fmt.Errorf("AddTransportReading: unmarshal reading: %w", err)
	}
	ts, err := parseDateString(input.Timestamp, "timestamp", false)
	if err != nil {
		return err
	}
	if ts.IsZero() {
		ts, err = s.getCurrentTxTimestamp(ctx)
		if err != nil {
			return fmt.Errorf("AddTransportReading: failed to get tx timestamp: %w", err)
		}
	}

	aggregation, err := s.getAggregationByID(ctx, aggregationID)
	if err != nil {
		return fmt.Errorf("AddTransportReading: %w", err)
	}
	mayManage, err := s.actorMayManageEntity(im, aggregation.CollectorID, actor)
	if err != nil {
		return fmt.Errorf("AddTransportReading: %w", err)
	}
	if !mayManage {
		return fmt.Errorf("unauthorized: aggregation '%s' is not owned by caller '%s'", aggregationID, actor.alias)
	}
	if aggregation.Status == model.AggregationDelivered {
		return fmt.Errorf("aggregation '%s' is already delivered and does not accept sensor readings", aggregationID)
	}

	if aggregation.TransportData == nil {
		aggregation.TransportData = &model.TransportData{}
	}
	aggregation.TransportData.SensorData = append(aggregation.TransportData.SensorData, model.SensorReading{
		Temperature: input.Temperature,
		Humidity:    input.Humidity,
		Timestamp:   ts,
	})
	if input.Latitude != nil && input.Longitude != nil {
		point := model.GeoLocation{Latitude: *input.Latitude, Longitude: *input.Longitude}
		if err := s.validateGeoLocation(&point, "reading", false); err != nil {
			return err
		}
		aggregation.TransportData.Route = append(aggregation.TransportData.Route, model.RoutePoint{
			Latitude:  *input.Latitude,
			Longitude: *input.Longitude,
			Timestamp: ts,
		})
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("AddTransportReading: failed to get tx timestamp: %w", err)
	}
	aggregation.UpdatedAt = now
	ensureAggregationSchemaCompliance(aggregation)

	if err := s.putEntityState(ctx, aggregationObjectType, aggregationID, aggregation); err != nil {
		return fmt.Errorf("AddTransportReading: %w", err)
	}
	s.emitChainEvent(ctx, "TransportReadingAdded", actor, map[string]interface{}{
		"aggregationId": aggregationID, "timestamp": ts.Format(time.RFC3339),
	})
	return nil
}
