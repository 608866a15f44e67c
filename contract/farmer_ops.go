package contract

import (
	"encoding/json"
	"fmt"
	"time"

	"ayurtrace/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Lifecycle: Farmer Operations ---

// ValidatedBatchData carries the parsed and checked CreateBatch arguments.
type ValidatedBatchData struct {
	Species      string
	SeedQuantity float64
	PlantingDate time.Time
	Location     model.GeoLocation
	Photos       []string
}

func (s *AyurTraceSmartContract) validateBatchDataArgs(batchDataJSON string) (*ValidatedBatchData, error) {
	var bdArg struct {
		Species         string             `json:"species"`
		SeedQuantity    float64            `json:"seedQuantity"`
		PlantingDateStr string             `json:"plantingDate"`
		Location        *model.GeoLocation `json:"location"`
		Photos          []string           `json:"photos"`
	}
	if err := json.Unmarshal([]byte(batchDataJSON), &bdArg); err != nil {
		return nil, fmt.Errorf("invalid batchDataJSON: %w. Ensure the JSON structure and all required fields are correct", err)
	}

	if err := s.validateRequiredString(bdArg.Species, "batchData.species", maxStringInputLength); err != nil {
		return nil, err
	}
	if bdArg.SeedQuantity <= 0 {
		return nil, fmt.Errorf("batchData.seedQuantity must be positive")
	}
	plantingDate, err := parseDateString(bdArg.PlantingDateStr, "batchData.plantingDate", true)
	if err != nil {
		return nil, err
	}
	if err := s.validateGeoLocation(bdArg.Location, "batchData.location", true); err != nil {
		return nil, err
	}
	if err := s.validateStringArray(bdArg.Photos, "batchData.photos", maxArrayElements, maxStringInputLength*2); err != nil {
		return nil, err
	}

	return &ValidatedBatchData{
		Species:      bdArg.Species,
		SeedQuantity: bdArg.SeedQuantity,
		PlantingDate: plantingDate,
		Location:     *bdArg.Location,
		Photos:       bdArg.Photos,
	}, nil
}

// CreateBatch registers a new cultivation batch for the calling farmer.
// The batch starts in status 'planting' with no care events.
func (s *AyurTraceSmartContract) CreateBatch(ctx contractapi.TransactionContextInterface, batchDataJSON string) (*model.FarmerBatch, error) {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("CreateBatch: failed to get actor info: %w", err)
	}
	im := NewIdentityManager(ctx)
	if err := im.RequireRole("farmer"); err != nil {
		return nil, err
	}

	bdArgs, err := s.validateBatchDataArgs(batchDataJSON)
	if err != nil {
		return nil, fmt.Errorf("CreateBatch: %w", err)
	}

	batchID, err := s.generateEntityID(ctx, "FAR")
	if err != nil {
		return nil, fmt.Errorf("CreateBatch: failed to generate batch ID: %w", err)
	}
	exists, err := s.entityExists(ctx, farmerBatchObjectType, batchID)
	if err != nil {
		return nil, fmt.Errorf("CreateBatch: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("farmer batch with ID '%s' already exists", batchID)
	}

	logger.Infof("Farmer '%s' (alias: '%s') creating batch '%s': %s", actor.fullID, actor.alias, batchID, bdArgs.Species)

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, fmt.Errorf("CreateBatch: failed to get transaction timestamp: %w", err)
	}

	farmerName := actor.alias
	if profile, profErr := s.getFarmerProfileForActor(ctx, actor); profErr == nil && profile != nil {
		farmerName = profile.FullName
	}

	batch := model.FarmerBatch{
		ObjectType:   farmerBatchObjectType,
		ID:           batchID,
		FarmerID:     actor.fullID,
		FarmerName:   farmerName,
		Species:      bdArgs.Species,
		SeedQuantity: bdArgs.SeedQuantity,
		PlantingDate: bdArgs.PlantingDate,
		Location:     bdArgs.Location,
		Photos:       bdArgs.Photos,
		Status:       model.BatchStatusPlanting,
		CareEvents:   []model.CareEvent{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	ensureFarmerBatchSchemaCompliance(&batch)

	if err := s.putEntityState(ctx, farmerBatchObjectType, batchID, &batch); err != nil {
		return nil, fmt.Errorf("CreateBatch: %w", err)
	}

	s.emitChainEvent(ctx, "FarmerBatchCreated", actor, map[string]interface{}{
		"batchId": batchID, "species": batch.Species, "status": batch.Status,
		"plantingDate": batch.PlantingDate,
	})
	logger.Infof("Farmer batch '%s' created successfully by farmer '%s'", batchID, actor.alias)
	return &batch, nil
}

// ValidatedCareEventData carries the parsed and checked AddCareEvent arguments.
type ValidatedCareEventData struct {
	Type      model.CareEventType
	Notes     string
	VoiceNote string
	Photos    []string
	Date      time.Time
}

func (s *AyurTraceSmartContract) validateCareEventArgs(careEventJSON string) (*ValidatedCareEventData, error) {
	var ceArg struct {
		Type      string   `json:"type"`
		Notes     string   `json:"notes"`
		VoiceNote string   `json:"voiceNote"`
		Photos    []string `json:"photos"`
		DateStr   string   `json:"date"`
	}
	if err := json.Unmarshal([]byte(careEventJSON), &ceArg); err != nil {
		return nil, fmt.Errorf("invalid careEventJSON: %w", err)
	}

	eventType := model.CareEventType(ceArg.Type)
	switch eventType {
	case model.CareWatering, model.CareFertilizing, model.CareWeeding, model.CareOther:
	default:
		return nil, fmt.Errorf("careEvent.type must be one of watering, fertilizing, weeding, other; got '%s'", ceArg.Type)
	}
	if err := s.validateOptionalString(ceArg.Notes, "careEvent.notes", maxDescriptionLength); err != nil {
		return nil, err
	}
	if err := s.validateOptionalString(ceArg.VoiceNote, "careEvent.voiceNote", maxStringInputLength*2); err != nil {
		return nil, err
	}
	if err := s.validateStringArray(ceArg.Photos, "careEvent.photos", maxArrayElements, maxStringInputLength*2); err != nil {
		return nil, err
	}
	eventDate, err := parseDateString(ceArg.DateStr, "careEvent.date", false)
	if err != nil {
		return nil, err
	}

	return &ValidatedCareEventData{
		Type:      eventType,
		Notes:     ceArg.Notes,
		VoiceNote: ceArg.VoiceNote,
		Photos:    ceArg.Photos,
		Date:      eventDate,
	}, nil
}

// AddCareEvent appends a field activity to a batch and moves it to status
// 'ongoing'. The status is set unconditionally to match the recorded field
// workflow; there is no state-machine guard here.
func (s *AyurTraceSmartContract) AddCareEvent(ctx contractapi.TransactionContextInterface, batchID, careEventJSON string) (*model.CareEvent, error) {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("AddCareEvent: failed to get actor info: %w", err)
	}
	im := NewIdentityManager(ctx)
	if err := im.RequireRole("farmer"); err != nil {
		return nil, err
	}

	ceArgs, err := s.validateCareEventArgs(careEventJSON)
	if err != nil {
		return nil, fmt.Errorf("AddCareEvent: %w", err)
	}

	batch, err := s.getFarmerBatchByID(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("AddCareEvent: %w", err)
	}
	mayManage, err := s.actorMayManageEntity(im, batch.FarmerID, actor)
	if err != nil {
		return nil, fmt.Errorf("AddCareEvent: %w", err)
	}
	if !mayManage {
		return nil, fmt.Errorf("unauthorized: batch '%s' is not owned by caller '%s'", batchID, actor.alias)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, fmt.Errorf("AddCareEvent: failed to get transaction timestamp: %w", err)
	}
	eventDate := ceArgs.Date
	if eventDate.IsZero() {
		eventDate = now
	}

	eventID, err := s.generateEntityID(ctx, "CARE")
	if err != nil {
		return nil, fmt.Errorf("AddCareEvent: failed to generate event ID: %w", err)
	}

	careEvent := model.CareEvent{
		ID:        eventID,
		BatchID:   batchID,
		Type:      ceArgs.Type,
		Notes:     ceArgs.Notes,
		VoiceNote: ceArgs.VoiceNote,
		Photos:    ceArgs.Photos,
		Date:      eventDate,
		CreatedAt: now,
	}
	if careEvent.Photos == nil {
		careEvent.Photos = []string{}
	}

	batch.CareEvents = append(batch.CareEvents, careEvent)
	batch.Status = model.BatchStatusOngoing
	batch.UpdatedAt = now
	ensureFarmerBatchSchemaCompliance(batch)

	if err := s.putEntityState(ctx, farmerBatchObjectType, batchID, batch); err != nil {
		return nil, fmt.Errorf("AddCareEvent: %w", err)
	}

	s.emitChainEvent(ctx, "CareEventAdded", actor, map[string]interface{}{
		"batchId": batchID, "careEventId": eventID, "type": ceArgs.Type, "date": eventDate,
	})
	logger.Infof("Care event '%s' (%s) added to batch '%s' by farmer '%s'", eventID, ceArgs.Type, batchID, actor.alias)
	return &careEvent, nil
}

// ValidatedHarvestData carries the parsed and checked RecordHarvest arguments.
type ValidatedHarvestData struct {
	Weight      float64
	Moisture    float64
	Photos      []string
	HarvestDate time.Time
	Quality     model.HarvestQuality
}

func (s *AyurTraceSmartContract) validateHarvestDataArgs(harvestDataJSON string) (*ValidatedHarvestData, error) {
	var hdArg struct {
		Weight         float64  `json:"weight"`
		Moisture       float64  `json:"moisture"`
		Photos         []string `json:"photos"`
		HarvestDateStr string   `json:"harvestDate"`
		Quality        string   `json:"quality"`
	}
	if err := json.Unmarshal([]byte(harvestDataJSON), &hdArg); err != nil {
		return nil, fmt.Errorf("invalid harvestDataJSON: %w", err)
	}

	if err := s.validatePositiveWeight(hdArg.Weight, "harvestData.weight"); err != nil {
		return nil, err
	}
	if hdArg.Moisture < 0 || hdArg.Moisture > 100 {
		return nil, fmt.Errorf("harvestData.moisture must be between 0 and 100")
	}
	if err := s.validateStringArray(hdArg.Photos, "harvestData.photos", maxArrayElements, maxStringInputLength*2); err != nil {
		return nil, err
	}
	harvestDate, err := parseDateString(hdArg.HarvestDateStr, "harvestData.harvestDate", true)
	if err != nil {
		return nil, err
	}
	quality := model.HarvestQuality(hdArg.Quality)
	switch quality {
	case model.QualityPremium, model.QualityStandard, model.QualityLow:
	default:
		return nil, fmt.Errorf("harvestData.quality must be one of premium, standard, low; got '%s'", hdArg.Quality)
	}

	return &ValidatedHarvestData{
		Weight:      hdArg.Weight,
		Moisture:    hdArg.Moisture,
		Photos:      hdArg.Photos,
		HarvestDate: harvestDate,
		Quality:     quality,
	}, nil
}

// RecordHarvest weighs and grades a batch, setting status 'harvested'. The
// field workflow does not require a prior care event, so any pre-sale status
// is accepted.
func (s *AyurTraceSmartContract) RecordHarvest(ctx contractapi.TransactionContextInterface, batchID, harvestDataJSON string) error {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("RecordHarvest: failed to get actor info: %w", err)
	}
	im := NewIdentityManager(ctx)
	if err := im.RequireRole("farmer"); err != nil {
		return err
	}

	hdArgs, err := s.validateHarvestDataArgs(harvestDataJSON)
	if err != nil {
		return fmt.Errorf("RecordHarvest: %w", err)
	}

	batch, err := s.getFarmerBatchByID(ctx, batchID)
	if err != nil {
		return fmt.Errorf("RecordHarvest: %w", err)
	}
	mayManage, err := s.actorMayManageEntity(im, batch.FarmerID, actor)
	if err != nil {
		return fmt.Errorf("RecordHarvest: %w", err)
	}
	if !mayManage {
		return fmt.Errorf("unauthorized: batch '%s' is not owned by caller '%s'", batchID, actor.alias)
	}
	if batch.Status == model.BatchStatusSold {
		return fmt.Errorf("batch '%s' is already sold and cannot be re-harvested", batchID)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("RecordHarvest: failed to get transaction timestamp: %w", err)
	}

	batch.HarvestData = &model.HarvestData{
		Weight:      hdArgs.Weight,
		Moisture:    hdArgs.Moisture,
		Photos:      hdArgs.Photos,
		HarvestDate: hdArgs.HarvestDate,
		Quality:     hdArgs.Quality,
	}
	batch.Status = model.BatchStatusHarvested
	batch.UpdatedAt = now
	ensureFarmerBatchSchemaCompliance(batch)

	if err := s.putEntityState(ctx, farmerBatchObjectType, batchID, batch); err != nil {
		return fmt.Errorf("RecordHarvest: %w", err)
	}

	s.emitChainEvent(ctx, "HarvestRecorded", actor, map[string]interface{}{
		"batchId": batchID, "weight": hdArgs.Weight, "quality": hdArgs.Quality,
		"harvestDate": hdArgs.HarvestDate,
	})
	logger.Infof("Harvest recorded for batch '%s' (%.2f kg, %s) by farmer '%s'", batchID, hdArgs.Weight, hdArgs.Quality, actor.alias)
	return nil
}

// AddFarmerProfile registers or replaces the calling farmer's master record.
// The profile ID defaults to the caller's alias so batch ownership and
// profile lookups stay aligned.
func (s *AyurTraceSmartContract) AddFarmerProfile(ctx contractapi.TransactionContextInterface, profileJSON string) (*model.FarmerProfile, error) {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("AddFarmerProfile: failed to get actor info: %w", err)
	}
	im := NewIdentityManager(ctx)
	if err := im.RequireRole("farmer"); err != nil {
		return nil, err
	}

	var profile model.FarmerProfile
	if err := json.Unmarshal([]byte(profileJSON), &profile); err != nil {
		return nil, fmt.Errorf("AddFarmerProfile: invalid profileJSON: %w", err)
	}
	if err := s.validateRequiredString(profile.FullName, "profile.fullName", maxStringInputLength); err != nil {
		return nil, err
	}
	for _, f := range []struct{ val, name string }{
		{profile.Mobile, "profile.mobile"},
		{profile.Email, "profile.email"},
		{profile.Location, "profile.location"},
		{profile.NMPBLicense, "profile.nmpbLicense"},
		{profile.GACPCertificate, "profile.gacpCertificate"},
		{profile.CultivationLicense, "profile.cultivationLicense"},
		{profile.PreferredLanguage, "profile.preferredLanguage"},
	} {
		if err := s.validateOptionalString(f.val, f.name, maxStringInputLength); err != nil {
			return nil, err
		}
	}

	if profile.ID == "" {
		profile.ID = actor.alias
	}
	profile.ObjectType = farmerProfileObjectType

	if err := s.putEntityState(ctx, farmerProfileObjectType, profile.ID, &profile); err != nil {
		return nil, fmt.Errorf("AddFarmerProfile: %w", err)
	}

	s.emitChainEvent(ctx, "FarmerProfileAdded", actor, map[string]interface{}{
		"profileId": profile.ID, "fullName": profile.FullName,
	})
	logger.Infof("Farmer profile '%s' saved by '%s'", profile.ID, actor.alias)
	return &profile, nil
}

// getFarmerProfileForActor fetches the calling farmer's profile, trying the
// alias then the full ID as the profile key.
func (s *AyurTraceSmartContract) getFarmerProfileForActor(ctx contractapi.TransactionContextInterface, actor *actorInfo) (*model.FarmerProfile, error) {
	for _, id := range []string{actor.alias, actor.fullID} {
		if id == "" {
			continue
		}
		profileBytes, err := s.getEntityState(ctx, farmerProfileObjectType, id)
		if err != nil {
			continue
		}
		var profile model.FarmerProfile
		if err := json.Unmarshal(profileBytes, &profile); err != nil {
			return nil, fmt.Errorf("failed to unmarshal FarmerProfile '%s': %w", id, err)
		}
		return &profile, nil
	}
	return nil, fmt.Errorf("no farmer profile found for '%s'", actor.alias)
}
