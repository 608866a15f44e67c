package contract

import (
	"encoding/json"
	"fmt"

	"ayurtrace/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Lifecycle: Laboratory Operations ---

// ReceiveLabSample lets the designated laboratory claim a dispatched sample,
// recording receipt notes and photos and moving it to status 'testing'.
func (s *AyurTraceSmartContract) ReceiveLabSample(ctx contractapi.TransactionContextInterface, sampleID, receiptJSON string) error {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("ReceiveLabSample: failed to get actor info: %w", err)
	}
	im := NewIdentityManager(ctx)
	if err := im.RequireRole("laboratory"); err != nil {
		return err
	}

	var input struct {
		Notes  string   `json:"notes"`
		Photos []string `json:"photos"`
	}
	if receiptJSON != "" {
		if err := json.Unmarshal([]byte(receiptJSON), &input); err != nil {
			return fmt.Errorf("ReceiveLabSample: invalid receiptJSON: %w", err)
		}
	}
	if err := s.validateOptionalString(input.Notes, "receipt.notes", maxDescriptionLength); err != nil {
		return err
	}
	if err := s.validateStringArray(input.Photos, "receipt.photos", maxArrayElements, maxStringInputLength*2); err != nil {
		return err
	}

	sample, err := s.getLabSampleByID(ctx, sampleID)
	if err != nil {
		return fmt.Errorf("ReceiveLabSample: %w", err)
	}
	if !actorOwnsEntity(sample.LabID, actor) {
		return fmt.Errorf("unauthorized: sample '%s' is not designated to lab '%s'", sampleID, actor.alias)
	}
	if sample.Status != model.SamplePending {
		return fmt.Errorf("sample '%s' status '%s', expected '%s'", sampleID, sample.Status, model.SamplePending)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("ReceiveLabSample: failed to get transaction timestamp: %w", err)
	}
	sample.Status = model.SampleTesting
	sample.Notes = input.Notes
	if input.Photos != nil {
		sample.ReceiptPhotos = input.Photos
	}
	sample.UpdatedAt = now
	ensureLabSampleSchemaCompliance(sample)

	if err := s.putEntityState(ctx, labSampleObjectType, sampleID, sample); err != nil {
		return fmt.Errorf("ReceiveLabSample: %w", err)
	}
	s.emitChainEvent(ctx, "LabSampleReceived", actor, map[string]interface{}{
		"sampleId": sampleID, "lotId": sample.ProcessingLotID,
	})
	logger.Infof("Lab sample '%s' received by lab '%s'", sampleID, actor.alias)
	return nil
}

func (s *AyurTraceSmartContract) validateTestResultsArgs(resultsJSON string) (*model.TestResults, error) {
	var trArg struct {
		Moisture          float64              `json:"moisture"`
		Pesticides        model.ScreeningPanel `json:"pesticides"`
		HeavyMetals       model.ScreeningPanel `json:"heavyMetals"`
		DNAAuthentication bool                 `json:"dnaAuthentication"`
		OverallResult     string               `json:"overallResult"`
		ReportPDF         string               `json:"reportPdf"`
		ReportPhotos      []string             `json:"reportPhotos"`
		TestedBy          string               `json:"testedBy"`
		TestDateStr       string               `json:"testDate"`
	}
	if err := json.Unmarshal([]byte(resultsJSON), &trArg); err != nil {
		return nil, fmt.Errorf("invalid resultsJSON: %w", err)
	}

	if trArg.Moisture < 0 || trArg.Moisture > 100 {
		return nil, fmt.Errorf("results.moisture must be between 0 and 100")
	}
	outcome := model.TestOutcome(trArg.OverallResult)
	switch outcome {
	case model.TestPass, model.TestFail:
	default:
		return nil, fmt.Errorf("results.overallResult must be 'pass' or 'fail'; got '%s'", trArg.OverallResult)
	}
	if len(trArg.Pesticides.Values) > maxArrayElements {
		return nil, fmt.Errorf("results.pesticides.values exceeds maximum of %d entries", maxArrayElements)
	}
	if len(trArg.HeavyMetals.Values) > maxArrayElements {
		return nil, fmt.Errorf("results.heavyMetals.values exceeds maximum of %d entries", maxArrayElements)
	}
	if err := s.validateOptionalString(trArg.ReportPDF, "results.reportPdf", maxStringInputLength*2); err != nil {
		return nil, err
	}
	if err := s.validateStringArray(trArg.ReportPhotos, "results.reportPhotos", maxArrayElements, maxStringInputLength*2); err != nil {
		return nil, err
	}
	if err := s.validateOptionalString(trArg.TestedBy, "results.testedBy", maxStringInputLength); err != nil {
		return nil, err
	}
	testDate, err := parseDateString(trArg.TestDateStr, "results.testDate", false)
	if err != nil {
		return nil, err
	}

	results := &model.TestResults{
		Moisture:          trArg.Moisture,
		Pesticides:        trArg.Pesticides,
		HeavyMetals:       trArg.HeavyMetals,
		DNAAuthentication: trArg.DNAAuthentication,
		OverallResult:     outcome,
		ReportPDF:         trArg.ReportPDF,
		ReportPhotos:      trArg.ReportPhotos,
		TestedBy:          trArg.TestedBy,
		TestDate:          testDate,
	}
	ensureTestResultsSchemaCompliance(results)
	return results, nil
}

// SubmitTestResults files a laboratory report against a sample. The sample
// completes, the owning lot is approved (grade premium) on pass or rejected
// (grade low) on fail, and exactly one active Certificate with a 365-day
// validity window is issued per passing submission.
func (s *AyurTraceSmartContract) SubmitTestResults(ctx contractapi.TransactionContextInterface, sampleID, resultsJSON string) (*model.Certificate, error) {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("SubmitTestResults: failed to get actor info: %w", err)
	}
	im := NewIdentityManager(ctx)
	if err := im.RequireRole("laboratory"); err != nil {
		return nil, err
	}

	results, err := s.validateTestResultsArgs(resultsJSON)
	if err != nil {
		return nil, fmt.Errorf("SubmitTestResults: %w", err)
	}

	sample, err := s.getLabSampleByID(ctx, sampleID)
	if err != nil {
		return nil, fmt.Errorf("SubmitTestResults: %w", err)
	}
	if !actorOwnsEntity(sample.LabID, actor) {
		return nil, fmt.Errorf("unauthorized: sample '%s' is not designated to lab '%s'", sampleID, actor.alias)
	}
	if sample.Status == model.SampleCompleted {
		return nil, fmt.Errorf("sample '%s' already has submitted results", sampleID)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, fmt.Errorf("SubmitTestResults: failed to get transaction timestamp: %w", err)
	}
	if results.TestDate.IsZero() {
		results.TestDate = now
	}
	if results.TestedBy == "" {
		results.TestedBy = actor.alias
	}

	lot, err := s.getProcessingLotByID(ctx, sample.ProcessingLotID)
	if err != nil {
		return nil, fmt.Errorf("SubmitTestResults: owning lot: %w", err)
	}

	var certificate *model.Certificate
	if results.OverallResult == model.TestPass {
		certID, err := s.generateEntityID(ctx, "CERT")
		if err != nil {
			return nil, fmt.Errorf("SubmitTestResults: failed to generate certificate ID: %w", err)
		}
		qrCode, err := s.generateEntityID(ctx, "QR")
		if err != nil {
			return nil, fmt.Errorf("SubmitTestResults: failed to generate QR code: %w", err)
		}
		exists, err := s.entityExists(ctx, certificateObjectType, certID)
		if err != nil {
			return nil, fmt.Errorf("SubmitTestResults: %w", err)
		}
		if exists {
			return nil, fmt.Errorf("certificate with ID '%s' already exists", certID)
		}
		certificate = &model.Certificate{
			ObjectType:      certificateObjectType,
			ID:              certID,
			SampleID:        sampleID,
			ProcessingLotID: sample.ProcessingLotID,
			QRCode:          qrCode,
			IssuedBy:        actor.alias,
			IssuedDate:      now,
			ValidUntil:      now.AddDate(0, 0, 365),
			Status:          model.CertificateActive,
		}
	}

	sample.TestResults = results
	sample.Status = model.SampleCompleted
	if certificate != nil {
		sample.CertificateID = certificate.ID
	}
	sample.UpdatedAt = now
	ensureLabSampleSchemaCompliance(sample)
	if err := s.putEntityState(ctx, labSampleObjectType, sampleID, sample); err != nil {
		return nil, fmt.Errorf("SubmitTestResults: %w", err)
	}

	lot.TestResults = results
	if results.OverallResult == model.TestPass {
		lot.Status = model.LotApproved
		lot.Grade = model.QualityPremium
	} else {
		lot.Status = model.LotRejected
		lot.Grade = model.QualityLow
	}
	lot.UpdatedAt = now
	ensureProcessingLotSchemaCompliance(lot)
	if err := s.putEntityState(ctx, processingLotObjectType, lot.ID, lot); err != nil {
		return nil, fmt.Errorf("SubmitTestResults: %w", err)
	}

	if certificate != nil {
		if err := s.putEntityState(ctx, certificateObjectType, certificate.ID, certificate); err != nil {
			return nil, fmt.Errorf("SubmitTestResults: %w", err)
		}
		// Index the QR code so consumer lookups resolve without a full scan.
		qrKey, err := s.createEntityKey(ctx, qrCodeIndexObjectType, certificate.QRCode)
		if err != nil {
			return nil, fmt.Errorf("SubmitTestResults: %w", err)
		}
		if err := ctx.GetStub().PutState(qrKey, []byte(certificate.ID)); err != nil {
			return nil, fmt.Errorf("SubmitTestResults: failed to index certificate QR code: %w", err)
		}
	}

	eventPayload := map[string]interface{}{
		"sampleId": sampleID, "lotId": lot.ID,
		"overallResult": results.OverallResult, "lotStatus": lot.Status, "grade": lot.Grade,
	}
	if certificate != nil {
		eventPayload["certificateId"] = certificate.ID
	}
	s.emitChainEvent(ctx, "TestResultsSubmitted", actor, eventPayload)
	logger.Infof("Test results (%s) submitted for sample '%s' by lab '%s'; lot '%s' is now %s",
		results.OverallResult, sampleID, actor.alias, lot.ID, lot.Status)
	return certificate, nil
}
