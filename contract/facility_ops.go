package contract

import (
	"encoding/json"
	"fmt"

	"ayurtrace/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Lifecycle: Facility Operations ---

// ReceiveAggregation books a delivered aggregation into a new processing
// lot. The received weight is weighed at the gate and may differ from the
// aggregation's roll-up total; availableWeight starts equal to it.
func (s *AyurTraceSmartContract) ReceiveAggregation(ctx contractapi.TransactionContextInterface, aggregationID string, receivedWeight float64) (*model.ProcessingLot, error) {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("ReceiveAggregation: failed to get actor info: %w", err)
	}
	im := NewIdentityManager(ctx)
	if err := im.RequireRole("facility"); err != nil {
		return nil, err
	}
	if err := s.validatePositiveWeight(receivedWeight, "receivedWeight"); err != nil {
		return nil, err
	}

	aggregation, err := s.getAggregationByID(ctx, aggregationID)
	if err != nil {
		return nil, fmt.Errorf("ReceiveAggregation: %w", err)
	}
	if aggregation.Status != model.AggregationDelivered {
		return nil, fmt.Errorf("aggregation '%s' status '%s', expected '%s'", aggregationID, aggregation.Status, model.AggregationDelivered)
	}

	lotID, err := s.generateEntityID(ctx, "PL")
	if err != nil {
		return nil, fmt.Errorf("ReceiveAggregation: failed to generate lot ID: %w", err)
	}
	exists, err := s.entityExists(ctx, processingLotObjectType, lotID)
	if err != nil {
		return nil, fmt.Errorf("ReceiveAggregation: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("processing lot with ID '%s' already exists", lotID)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, fmt.Errorf("ReceiveAggregation: failed to get transaction timestamp: %w", err)
	}

	lot := model.ProcessingLot{
		ObjectType:          processingLotObjectType,
		ID:                  lotID,
		FacilityID:          actor.fullID,
		FacilityName:        actor.alias,
		AggregationBatchIDs: []string{aggregationID},
		Species:             s.deriveAggregationSpecies(ctx, aggregation),
		TotalWeight:         aggregation.TotalWeight,
		ReceivedWeight:      receivedWeight,
		AvailableWeight:     receivedWeight,
		Status:              model.LotReceived,
		ProcessingSteps:     []model.ProcessingStep{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	ensureProcessingLotSchemaCompliance(&lot)

	if err := s.putEntityState(ctx, processingLotObjectType, lotID, &lot); err != nil {
		return nil, fmt.Errorf("ReceiveAggregation: %w", err)
	}

	s.emitChainEvent(ctx, "AggregationReceived", actor, map[string]interface{}{
		"lotId": lotID, "aggregationId": aggregationID,
		"receivedWeight": receivedWeight, "totalWeight": aggregation.TotalWeight,
	})
	logger.Infof("Aggregation '%s' received into lot '%s' (%.2f kg) by facility '%s'", aggregationID, lotID, receivedWeight, actor.alias)
	return &lot, nil
}

// deriveAggregationSpecies reads the farmer batches behind an aggregation
// and returns their common species, or "Mixed" when they differ or cannot
// be resolved.
func (s *AyurTraceSmartContract) deriveAggregationSpecies(ctx contractapi.TransactionContextInterface, aggregation *model.AggregationBatch) string {
	species := ""
	for _, batchID := range aggregation.FarmerBatches {
		batch, err := s.getFarmerBatchByID(ctx, batchID)
		if err != nil {
			logger.Warningf("deriveAggregationSpecies: could not resolve batch '%s': %v", batchID, err)
			return "Mixed"
		}
		if species == "" {
			species = batch.Species
		} else if species != batch.Species {
			return "Mixed"
		}
	}
	if species == "" {
		return "Mixed"
	}
	return species
}

// ValidatedProcessingStepData carries the parsed AddProcessingStep arguments.
type ValidatedProcessingStepData struct {
	Step        model.ProcessingStepType
	Temperature float64
	Humidity    float64
	Duration    float64
	Photos      []string
	Notes       string
}

func (s *AyurTraceSmartContract) validateProcessingStepArgs(stepDataJSON string) (*ValidatedProcessingStepData, error) {
	var psArg struct {
		Step        string   `json:"step"`
		Temperature float64  `json:"temperature"`
		Humidity    float64  `json:"humidity"`
		Duration    float64  `json:"duration"`
		Photos      []string `json:"photos"`
		Notes       string   `json:"notes"`
	}
	if err := json.Unmarshal([]byte(stepDataJSON), &psArg); err != nil {
		return nil, fmt.Errorf("invalid stepDataJSON: %w", err)
	}

	stepType := model.ProcessingStepType(psArg.Step)
	switch stepType {
	case model.StepCleaning, model.StepDrying, model.StepGrinding, model.StepPackaging:
	default:
		return nil, fmt.Errorf("stepData.step must be one of cleaning, drying, grinding, packaging; got '%s'", psArg.Step)
	}
	if psArg.Duration < 0 {
		return nil, fmt.Errorf("stepData.duration cannot be negative")
	}
	if err := s.validateStringArray(psArg.Photos, "stepData.photos", maxArrayElements, maxStringInputLength*2); err != nil {
		return nil, err
	}
	if err := s.validateOptionalString(psArg.Notes, "stepData.notes", maxDescriptionLength); err != nil {
		return nil, err
	}

	return &ValidatedProcessingStepData{
		Step:        stepType,
		Temperature: psArg.Temperature,
		Humidity:    psArg.Humidity,
		Duration:    psArg.Duration,
		Photos:      psArg.Photos,
		Notes:       psArg.Notes,
	}, nil
}

// AddProcessingStep appends a processing stage to a lot and moves it to
// status 'processing'.
func (s *AyurTraceSmartContract) AddProcessingStep(ctx contractapi.TransactionContextInterface, lotID, stepDataJSON string) (*model.ProcessingStep, error) {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("AddProcessingStep: failed to get actor info: %w", err)
	}
	im := NewIdentityManager(ctx)
	if err := im.RequireRole("facility"); err != nil {
		return nil, err
	}

	psArgs, err := s.validateProcessingStepArgs(stepDataJSON)
	if err != nil {
		return nil, fmt.Errorf("AddProcessingStep: %w", err)
	}

	lot, err := s.getProcessingLotByID(ctx, lotID)
	if err != nil {
		return nil, fmt.Errorf("AddProcessingStep: %w", err)
	}
	mayManage, err := s.actorMayManageEntity(im, lot.FacilityID, actor)
	if err != nil {
		return nil, fmt.Errorf("AddProcessingStep: %w", err)
	}
	if !mayManage {
		return nil, fmt.Errorf("unauthorized: lot '%s' is not owned by caller '%s'", lotID, actor.alias)
	}
	switch lot.Status {
	case model.LotApproved, model.LotRejected:
		return nil, fmt.Errorf("lot '%s' status '%s' no longer accepts processing steps", lotID, lot.Status)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, fmt.Errorf("AddProcessingStep: failed to get transaction timestamp: %w", err)
	}
	stepID, err := s.generateEntityID(ctx, "STEP")
	if err != nil {
		return nil, fmt.Errorf("AddProcessingStep: failed to generate step ID: %w", err)
	}

	step := model.ProcessingStep{
		ID:          stepID,
		LotID:       lotID,
		Step:        psArgs.Step,
		Temperature: psArgs.Temperature,
		Humidity:    psArgs.Humidity,
		Duration:    psArgs.Duration,
		Photos:      psArgs.Photos,
		Notes:       psArgs.Notes,
		Timestamp:   now,
	}
	if step.Photos == nil {
		step.Photos = []string{}
	}

	lot.ProcessingSteps = append(lot.ProcessingSteps, step)
	lot.Status = model.LotProcessing
	lot.UpdatedAt = now
	ensureProcessingLotSchemaCompliance(lot)

	if err := s.putEntityState(ctx, processingLotObjectType, lotID, lot); err != nil {
		return nil, fmt.Errorf("AddProcessingStep: %w", err)
	}

	s.emitChainEvent(ctx, "ProcessingStepAdded", actor, map[string]interface{}{
		"lotId": lotID, "stepId": stepID, "step": psArgs.Step,
	})
	logger.Infof("Processing step '%s' (%s) added to lot '%s' by facility '%s'", stepID, psArgs.Step, lotID, actor.alias)
	return &step, nil
}

// SendLabSample draws a sample from a lot and dispatches it to a laboratory.
// The sample weight is deducted from the lot's availableWeight and the lot
// moves to 'lab-testing'.
func (s *AyurTraceSmartContract) SendLabSample(ctx contractapi.TransactionContextInterface,
	lotID, labID string, sampleWeight float64, samplePhoto string) (*model.LabSample, error) {

	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("SendLabSample: failed to get actor info: %w", err)
	}
	im := NewIdentityManager(ctx)
	if err := im.RequireRole("facility"); err != nil {
		return nil, err
	}
	if err := s.validateRequiredString(labID, "labID", maxStringInputLength*2); err != nil {
		return nil, err
	}
	if err := s.validatePositiveWeight(sampleWeight, "sampleWeight"); err != nil {
		return nil, err
	}
	if err := s.validateOptionalString(samplePhoto, "samplePhoto", maxStringInputLength*2); err != nil {
		return nil, err
	}

	lot, err := s.getProcessingLotByID(ctx, lotID)
	if err != nil {
		return nil, fmt.Errorf("SendLabSample: %w", err)
	}
	mayManage, err := s.actorMayManageEntity(im, lot.FacilityID, actor)
	if err != nil {
		return nil, fmt.Errorf("SendLabSample: %w", err)
	}
	if !mayManage {
		return nil, fmt.Errorf("unauthorized: lot '%s' is not owned by caller '%s'", lotID, actor.alias)
	}
	if sampleWeight > lot.AvailableWeight {
		return nil, fmt.Errorf("sampleWeight %.2f exceeds lot '%s' available weight %.2f", sampleWeight, lotID, lot.AvailableWeight)
	}

	labFullID, err := im.ResolveIdentity(labID)
	if err != nil {
		return nil, fmt.Errorf("SendLabSample: failed to resolve labID '%s': %w", labID, err)
	}

	sampleID, err := s.generateEntityID(ctx, "LAB")
	if err != nil {
		return nil, fmt.Errorf("SendLabSample: failed to generate sample ID: %w", err)
	}
	exists, err := s.entityExists(ctx, labSampleObjectType, sampleID)
	if err != nil {
		return nil, fmt.Errorf("SendLabSample: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("lab sample with ID '%s' already exists", sampleID)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, fmt.Errorf("SendLabSample: failed to get transaction timestamp: %w", err)
	}

	sample := model.LabSample{
		ObjectType:      labSampleObjectType,
		ID:              sampleID,
		ProcessingLotID: lotID,
		FacilityID:      actor.fullID,
		LabID:           labFullID,
		SampleWeight:    sampleWeight,
		SamplePhoto:     samplePhoto,
		Status:          model.SamplePending,
		ReceiptPhotos:   []string{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	ensureLabSampleSchemaCompliance(&sample)

	if err := s.putEntityState(ctx, labSampleObjectType, sampleID, &sample); err != nil {
		return nil, fmt.Errorf("SendLabSample: %w", err)
	}

	lot.LabSampleID = sampleID
	lot.AvailableWeight -= sampleWeight
	lot.Status = model.LotLabTesting
	lot.UpdatedAt = now
	ensureProcessingLotSchemaCompliance(lot)
	if err := s.putEntityState(ctx, processingLotObjectType, lotID, lot); err != nil {
		return nil, fmt.Errorf("SendLabSample: %w", err)
	}

	s.emitChainEvent(ctx, "LabSampleSent", actor, map[string]interface{}{
		"sampleId": sampleID, "lotId": lotID, "labId": labFullID, "sampleWeight": sampleWeight,
	})
	logger.Infof("Lab sample '%s' (%.2f kg) sent from lot '%s' to lab '%s' by facility '%s'", sampleID, sampleWeight, lotID, labID, actor.alias)
	return &sample, nil
}
