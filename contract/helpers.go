package contract

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"ayurtrace/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Core Helper Methods (used across multiple operations) ---

// getCurrentTxTimestamp retrieves the current transaction timestamp from the stub.
func (s *AyurTraceSmartContract) getCurrentTxTimestamp(ctx contractapi.TransactionContextInterface) (time.Time, error) {
	ts, err := ctx.GetStub().GetTxTimestamp()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get transaction timestamp: %w", err)
	}
	return ts.AsTime(), nil
}

// getCurrentActorInfo resolves the invoker's full ID, alias, and MSP ID.
// The alias falls back to the X.509 CN, then the enrollment ID, and finally
// a placeholder derived from the full ID.
func (s *AyurTraceSmartContract) getCurrentActorInfo(ctx contractapi.TransactionContextInterface) (*actorInfo, error) {
	im := NewIdentityManager(ctx)
	fullID, err := im.GetCurrentIdentityFullID()
	if err != nil {
		return nil, fmt.Errorf("failed to get current actor's FullID: %w", err)
	}

	var alias string
	idInfo, errGetInfo := im.GetIdentityInfo(fullID)
	if errGetInfo == nil && idInfo != nil {
		alias = idInfo.ShortName
	} else {
		logger.Debugf("Could not retrieve IdentityInfo (or alias) for actor %s: %v. Attempting fallback.", fullID, errGetInfo)

		if strings.Contains(fullID, "::CN=") {
			parts := strings.Split(fullID, "::CN=")
			if len(parts) > 1 {
				cnPart := parts[1]
				if idx := strings.Index(cnPart, "::"); idx != -1 {
					cnPart = cnPart[:idx]
				}
				alias = cnPart
				logger.Debugf("Extracted alias '%s' from fullID CN field", alias)
			}
		}

		if alias == "" {
			enrollmentID, enrollErr := im.GetCurrentEnrollmentID()
			if enrollErr == nil && enrollmentID != "" {
				alias = enrollmentID
			} else {
				logger.Warningf("Failed to get EnrollmentID for %s (EnrollErr: %v, GetInfoErr: %v). Using placeholder alias.", fullID, enrollErr, errGetInfo)
				maxAliasLen := 16
				if len(fullID) > maxAliasLen {
					alias = "unknown_" + fullID[:maxAliasLen]
				} else {
					alias = "unknown_" + fullID
				}
			}
		}
	}

	mspID, err := ctx.GetClientIdentity().GetMSPID()
	if err != nil {
		return nil, fmt.Errorf("failed to get current actor's MSPID: %w", err)
	}
	return &actorInfo{fullID: fullID, alias: alias, mspID: mspID}, nil
}

// createEntityKey creates a composite key for any tracked entity kind.
func (s *AyurTraceSmartContract) createEntityKey(ctx contractapi.TransactionContextInterface, objectType, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%s ID cannot be empty", objectType)
	}
	return ctx.GetStub().CreateCompositeKey(objectType, []string{id})
}

// generateEntityID derives a deterministic human-readable ID of the form
// PREFIX-YYYYMMDD-NNN. The date comes from the transaction timestamp (UTC)
// and the sequence from a hash of the transaction ID, so every endorser
// produces the same value.
func (s *AyurTraceSmartContract) generateEntityID(ctx contractapi.TransactionContextInterface, prefix string) (string, error) {
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return "", err
	}
	h := fnv.New32a()
	h.Write([]byte(ctx.GetStub().GetTxID() + prefix))
	seq := h.Sum32() % 1000
	return fmt.Sprintf("%s-%s-%03d", prefix, now.UTC().Format("20060102"), seq), nil
}

// --- Validation Helper Functions ---

func (s *AyurTraceSmartContract) validateRequiredString(input, field string, max int) error {
	if strings.TrimSpace(input) == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	if len(input) > max {
		return fmt.Errorf("%s exceeds max length %d", field, max)
	}
	return nil
}

func (s *AyurTraceSmartContract) validateOptionalString(input, field string, max int) error {
	if input != "" && len(input) > max {
		return fmt.Errorf("%s exceeds max length %d", field, max)
	}
	return nil
}

func (s *AyurTraceSmartContract) validateStringArray(arr []string, field string, maxItems, maxItemLen int) error {
	if arr == nil { // nil array is valid (empty)
		return nil
	}
	if len(arr) > maxItems {
		return fmt.Errorf("%s has %d items, exceeding maximum of %d", field, len(arr), maxItems)
	}
	for i, v := range arr {
		if err := s.validateOptionalString(v, fmt.Sprintf("%s[%d]", field, i), maxItemLen); err != nil {
			return err
		}
	}
	return nil
}

func (s *AyurTraceSmartContract) validateGeoLocation(gl *model.GeoLocation, field string, required bool) error {
	if gl == nil {
		if required {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
	if gl.Latitude < -90 || gl.Latitude > 90 {
		return fmt.Errorf("%s.latitude must be between -90 and 90", field)
	}
	if gl.Longitude < -180 || gl.Longitude > 180 {
		return fmt.Errorf("%s.longitude must be between -180 and 180", field)
	}
	return nil
}

func (s *AyurTraceSmartContract) validatePositiveWeight(weight float64, field string) error {
	if weight <= 0 {
		return fmt.Errorf("%s must be positive", field)
	}
	return nil
}

func parseDateString(str, field string, required bool) (time.Time, error) {
	sTrimmed := strings.TrimSpace(str)
	if sTrimmed == "" {
		if required {
			return time.Time{}, fmt.Errorf("%s is a required date field and cannot be empty", field)
		}
		return time.Time{}, nil // Return zero time if optional and empty
	}
	t, err := time.Parse(time.RFC3339, sTrimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid format for %s (expected RFC3339 'YYYY-MM-DDTHH:MM:SSZ'): %w", field, err)
	}
	return t, nil
}

// --- Ownership & Authorization Helpers ---

// actorOwnsEntity reports whether the given owner ID belongs to the current
// actor. Entities may record the owner as either a full X.509 ID or a
// registered alias, so both are accepted.
func actorOwnsEntity(ownerID string, actor *actorInfo) bool {
	if actor == nil || ownerID == "" {
		return false
	}
	return ownerID == actor.fullID || (actor.alias != "" && ownerID == actor.alias)
}

// actorMayManageEntity reports whether the current actor may mutate an
// entity recorded against ownerID. Admins may act on any entity.
func (s *AyurTraceSmartContract) actorMayManageEntity(im *IdentityManager, ownerID string, actor *actorInfo) (bool, error) {
	if actorOwnsEntity(ownerID, actor) {
		return true, nil
	}
	isCallerAdmin, err := im.IsCurrentUserAdmin()
	if err != nil {
		return false, fmt.Errorf("failed to check admin status: %w", err)
	}
	return isCallerAdmin, nil
}

// requireAdmin is a helper to check if the current caller is an admin.
func (s *AyurTraceSmartContract) requireAdmin(ctx contractapi.TransactionContextInterface, im *IdentityManager) error {
	isCallerAdmin, err := im.IsCurrentUserAdmin()
	if err != nil {
		return fmt.Errorf("failed to check admin status: %w", err)
	}
	if !isCallerAdmin {
		callerID, _ := im.GetCurrentIdentityFullID() // Best effort to get ID for logging
		return fmt.Errorf("unauthorized: caller '%s' is not an admin", callerID)
	}
	return nil
}

// --- Schema Compliance Helpers (nil slices serialize as [] not null) ---

func ensureFarmerBatchSchemaCompliance(batch *model.FarmerBatch) {
	if batch == nil {
		return
	}
	if batch.Photos == nil {
		batch.Photos = []string{}
	}
	if batch.CareEvents == nil {
		batch.CareEvents = []model.CareEvent{}
	}
	for i := range batch.CareEvents {
		if batch.CareEvents[i].Photos == nil {
			batch.CareEvents[i].Photos = []string{}
		}
	}
	if batch.HarvestData != nil && batch.HarvestData.Photos == nil {
		batch.HarvestData.Photos = []string{}
	}
}

func ensureAggregationSchemaCompliance(agg *model.AggregationBatch) {
	if agg == nil {
		return
	}
	if agg.FarmerBatches == nil {
		agg.FarmerBatches = []string{}
	}
	if agg.TransportData != nil {
		if agg.TransportData.Route == nil {
			agg.TransportData.Route = []model.RoutePoint{}
		}
		if agg.TransportData.SensorData == nil {
			agg.TransportData.SensorData = []model.SensorReading{}
		}
	}
}

func ensureProcessingLotSchemaCompliance(lot *model.ProcessingLot) {
	if lot == nil {
		return
	}
	if lot.AggregationBatchIDs == nil {
		lot.AggregationBatchIDs = []string{}
	}
	if lot.ProcessingSteps == nil {
		lot.ProcessingSteps = []model.ProcessingStep{}
	}
	for i := range lot.ProcessingSteps {
		if lot.ProcessingSteps[i].Photos == nil {
			lot.ProcessingSteps[i].Photos = []string{}
		}
	}
	if lot.TestResults != nil {
		ensureTestResultsSchemaCompliance(lot.TestResults)
	}
}

func ensureTestResultsSchemaCompliance(tr *model.TestResults) {
	if tr == nil {
		return
	}
	if tr.Pesticides.Values == nil {
		tr.Pesticides.Values = []model.ScreeningValue{}
	}
	if tr.HeavyMetals.Values == nil {
		tr.HeavyMetals.Values = []model.ScreeningValue{}
	}
	if tr.ReportPhotos == nil {
		tr.ReportPhotos = []string{}
	}
}

func ensureLabSampleSchemaCompliance(sample *model.LabSample) {
	if sample == nil {
		return
	}
	if sample.ReceiptPhotos == nil {
		sample.ReceiptPhotos = []string{}
	}
	if sample.TestResults != nil {
		ensureTestResultsSchemaCompliance(sample.TestResults)
	}
}

func ensureFinalProductSchemaCompliance(product *model.FinalProduct) {
	if product == nil {
		return
	}
	if product.ProcessingLotIDs == nil {
		product.ProcessingLotIDs = []string{}
	}
	if product.Excipients == nil {
		product.Excipients = []string{}
	}
	ensureProvenanceSchemaCompliance(&product.ProvenanceChain)
}

func ensureProvenanceSchemaCompliance(prov *model.ProvenanceData) {
	if prov == nil {
		return
	}
	if prov.Farmers == nil {
		prov.Farmers = []model.ProvenanceFarmer{}
	}
	for i := range prov.Farmers {
		if prov.Farmers[i].Batches == nil {
			prov.Farmers[i].Batches = []string{}
		}
	}
	if prov.Collectors == nil {
		prov.Collectors = []model.ProvenanceCollector{}
	}
	for i := range prov.Collectors {
		if prov.Collectors[i].Aggregations == nil {
			prov.Collectors[i].Aggregations = []string{}
		}
	}
	if prov.Facilities == nil {
		prov.Facilities = []model.ProvenanceFacility{}
	}
	for i := range prov.Facilities {
		if prov.Facilities[i].Lots == nil {
			prov.Facilities[i].Lots = []string{}
		}
	}
	if prov.Labs == nil {
		prov.Labs = []model.ProvenanceLab{}
	}
	for i := range prov.Labs {
		if prov.Labs[i].Tests == nil {
			prov.Labs[i].Tests = []string{}
		}
	}
	if prov.Timeline == nil {
		prov.Timeline = []model.TimelineEvent{}
	}
}

// --- Event Emission ---

// emitChainEvent sends a chaincode event with the given payload. Event
// failures are logged, never fatal to the transaction.
func (s *AyurTraceSmartContract) emitChainEvent(ctx contractapi.TransactionContextInterface, eventName string, actor *actorInfo, payload map[string]interface{}) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	if actor != nil {
		payload["actorFullId"] = actor.fullID
		payload["actorAlias"] = actor.alias
	}
	for k, v := range payload {
		if t, ok := v.(time.Time); ok {
			payload[k] = t.Format(time.RFC3339)
		}
	}
	eventBytes, err := json.Marshal(payload)
	if err != nil {
		logger.Warningf("emitChainEvent: Failed to marshal event payload for event '%s': %v", eventName, err)
		return
	}
	if errSet := ctx.GetStub().SetEvent(eventName, eventBytes); errSet != nil {
		logger.Warningf("emitChainEvent: Failed to set event '%s': %v", eventName, errSet)
	}
}

// --- Generic State Access ---

// putEntityState marshals an entity and writes it under its composite key.
func (s *AyurTraceSmartContract) putEntityState(ctx contractapi.TransactionContextInterface, objectType, id string, entity interface{}) error {
	key, err := s.createEntityKey(ctx, objectType, id)
	if err != nil {
		return err
	}
	entityBytes, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal %s '%s': %w", objectType, id, err)
	}
	if err := ctx.GetStub().PutState(key, entityBytes); err != nil {
		return fmt.Errorf("failed to save %s '%s': %w", objectType, id, err)
	}
	return nil
}

// getEntityState fetches an entity's raw state. Returns an error when the
// entity does not exist.
func (s *AyurTraceSmartContract) getEntityState(ctx contractapi.TransactionContextInterface, objectType, id string) ([]byte, error) {
	key, err := s.createEntityKey(ctx, objectType, id)
	if err != nil {
		return nil, err
	}
	entityBytes, err := ctx.GetStub().GetState(key)
	if err != nil {
		return nil, fmt.Errorf("ledger error retrieving %s '%s': %w", objectType, id, err)
	}
	if entityBytes == nil {
		return nil, fmt.Errorf("%s '%s' not found", objectType, id)
	}
	return entityBytes, nil
}

// entityExists checks presence without unmarshalling.
func (s *AyurTraceSmartContract) entityExists(ctx contractapi.TransactionContextInterface, objectType, id string) (bool, error) {
	key, err := s.createEntityKey(ctx, objectType, id)
	if err != nil {
		return false, err
	}
	entityBytes, err := ctx.GetStub().GetState(key)
	if err != nil {
		return false, fmt.Errorf("ledger error checking %s '%s': %w", objectType, id, err)
	}
	return entityBytes != nil, nil
}
