package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"ayurtrace/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Lifecycle: Manufacturer Operations ---

// buildProvenanceChain walks lots -> aggregations -> farmer batches and
// freezes the full chain-of-custody. Actors are deduplicated by ID; each
// accumulates the distinct entity IDs it contributed in order of discovery.
func (s *AyurTraceSmartContract) buildProvenanceChain(ctx contractapi.TransactionContextInterface,
	lots []*model.ProcessingLot, actor *actorInfo, manufacturerName string) (*model.ProvenanceData, error) {

	im := NewIdentityManager(ctx)
	prov := &model.ProvenanceData{
		Farmers:    []model.ProvenanceFarmer{},
		Collectors: []model.ProvenanceCollector{},
		Facilities: []model.ProvenanceFacility{},
		Labs:       []model.ProvenanceLab{},
		Manufacturer: model.ProvenanceActor{
			ID:   actor.fullID,
			Name: manufacturerName,
		},
		Timeline: []model.TimelineEvent{},
	}

	appendUnique := func(list []string, id string) []string {
		for _, existing := range list {
			if existing == id {
				return list
			}
		}
		return append(list, id)
	}

	for _, lot := range lots {
		for _, aggID := range lot.AggregationBatchIDs {
			aggregation, err := s.getAggregationByID(ctx, aggID)
			if err != nil {
				logger.Warningf("buildProvenanceChain: aggregation '%s' of lot '%s' could not be resolved: %v. Skipping.", aggID, lot.ID, err)
				continue
			}

			for _, batchID := range aggregation.FarmerBatches {
				batch, err := s.getFarmerBatchByID(ctx, batchID)
				if err != nil {
					logger.Warningf("buildProvenanceChain: farmer batch '%s' of aggregation '%s' could not be resolved: %v. Skipping.", batchID, aggID, err)
					continue
				}
				found := false
				for i := range prov.Farmers {
					if prov.Farmers[i].ID == batch.FarmerID {
						prov.Farmers[i].Batches = appendUnique(prov.Farmers[i].Batches, batchID)
						found = true
						break
					}
				}
				if !found {
					prov.Farmers = append(prov.Farmers, model.ProvenanceFarmer{
						ID: batch.FarmerID, Name: batch.FarmerName, Batches: []string{batchID},
					})
				}

				prov.Timeline = append(prov.Timeline, model.TimelineEvent{
					Event: "Batch planted", Date: batch.PlantingDate, Actor: batch.FarmerName,
					Details: map[string]interface{}{"batchId": batch.ID, "species": batch.Species},
				})
				if batch.HarvestData != nil {
					prov.Timeline = append(prov.Timeline, model.TimelineEvent{
						Event: "Harvest recorded", Date: batch.HarvestData.HarvestDate, Actor: batch.FarmerName,
						Details: map[string]interface{}{
							"batchId": batch.ID, "weight": batch.HarvestData.Weight,
							"quality": string(batch.HarvestData.Quality),
						},
					})
				}
			}

			found := false
			for i := range prov.Collectors {
				if prov.Collectors[i].ID == aggregation.CollectorID {
					prov.Collectors[i].Aggregations = appendUnique(prov.Collectors[i].Aggregations, aggID)
					found = true
					break
				}
			}
			if !found {
				prov.Collectors = append(prov.Collectors, model.ProvenanceCollector{
					ID: aggregation.CollectorID, Name: aggregation.CollectorName, Aggregations: []string{aggID},
				})
			}
			prov.Timeline = append(prov.Timeline, model.TimelineEvent{
				Event: "Aggregation created", Date: aggregation.CreatedAt, Actor: aggregation.CollectorName,
				Details: map[string]interface{}{"aggregationId": aggID, "totalWeight": aggregation.TotalWeight},
			})
		}

		found := false
		for i := range prov.Facilities {
			if prov.Facilities[i].ID == lot.FacilityID {
				prov.Facilities[i].Lots = appendUnique(prov.Facilities[i].Lots, lot.ID)
				found = true
				break
			}
		}
		if !found {
			prov.Facilities = append(prov.Facilities, model.ProvenanceFacility{
				ID: lot.FacilityID, Name: lot.FacilityName, Lots: []string{lot.ID},
			})
		}
		prov.Timeline = append(prov.Timeline, model.TimelineEvent{
			Event: "Lot received at facility", Date: lot.CreatedAt, Actor: lot.FacilityName,
			Details: map[string]interface{}{"lotId": lot.ID, "receivedWeight": lot.ReceivedWeight},
		})

		if lot.LabSampleID != "" {
			sample, err := s.getLabSampleByID(ctx, lot.LabSampleID)
			if err != nil {
				logger.Warningf("buildProvenanceChain: lab sample '%s' of lot '%s' could not be resolved: %v. Skipping.", lot.LabSampleID, lot.ID, err)
				continue
			}
			labName := "Lab"
			if labInfo, infoErr := im.GetIdentityInfo(sample.LabID); infoErr == nil && labInfo != nil && labInfo.ShortName != "" {
				labName = labInfo.ShortName
			}
			labFound := false
			for i := range prov.Labs {
				if prov.Labs[i].ID == sample.LabID {
					prov.Labs[i].Tests = appendUnique(prov.Labs[i].Tests, sample.ID)
					labFound = true
					break
				}
			}
			if !labFound {
				prov.Labs = append(prov.Labs, model.ProvenanceLab{
					ID: sample.LabID, Name: labName, Tests: []string{sample.ID},
				})
			}
			if sample.TestResults != nil {
				prov.Timeline = append(prov.Timeline, model.TimelineEvent{
					Event: "Lab test completed", Date: sample.TestResults.TestDate, Actor: labName,
					Details: map[string]interface{}{
						"sampleId": sample.ID, "lotId": lot.ID,
						"overallResult": string(sample.TestResults.OverallResult),
					},
				})
			}
		}
	}

	sort.SliceStable(prov.Timeline, func(i, j int) bool {
		return prov.Timeline[i].Date.Before(prov.Timeline[j].Date)
	})
	return prov, nil
}

// CreateFinalProduct formulates a manufactured batch from approved lots and
// freezes their provenance chain into it. Every referenced lot must exist
// and be in status 'approved'.
func (s *AyurTraceSmartContract) CreateFinalProduct(ctx contractapi.TransactionContextInterface,
	lotIDsJSON, productName string, batchSize float64, excipientsJSON string) (*model.FinalProduct, error) {

	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("CreateFinalProduct: failed to get actor info: %w", err)
	}
	im := NewIdentityManager(ctx)
	if err := im.RequireRole("manufacturer"); err != nil {
		return nil, err
	}

	var lotIDs []string
	if err := json.Unmarshal([]byte(lotIDsJSON), &lotIDs); err != nil {
		return nil, fmt.Errorf("CreateFinalProduct: invalid lotIDsJSON (expected JSON array of strings): %w", err)
	}
	if len(lotIDs) == 0 {
		return nil, errors.New("CreateFinalProduct: lotIDs cannot be empty")
	}
	if err := s.validateStringArray(lotIDs, "lotIDs", maxArrayElements, maxStringInputLength); err != nil {
		return nil, err
	}
	if err := s.validateRequiredString(productName, "productName", maxStringInputLength); err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		return nil, errors.New("CreateFinalProduct: batchSize must be positive")
	}
	var excipients []string
	if excipientsJSON != "" {
		if err := json.Unmarshal([]byte(excipientsJSON), &excipients); err != nil {
			return nil, fmt.Errorf("CreateFinalProduct: invalid excipientsJSON (expected JSON array of strings): %w", err)
		}
		if err := s.validateStringArray(excipients, "excipients", maxArrayElements, maxStringInputLength); err != nil {
			return nil, err
		}
	}

	lots := make([]*model.ProcessingLot, 0, len(lotIDs))
	for _, lotID := range lotIDs {
		lot, err := s.getProcessingLotByID(ctx, lotID)
		if err != nil {
			return nil, fmt.Errorf("CreateFinalProduct: %w", err)
		}
		if lot.Status != model.LotApproved {
			return nil, fmt.Errorf("lot '%s' status '%s' is not approved for formulation", lotID, lot.Status)
		}
		lots = append(lots, lot)
	}

	productID, err := s.generateEntityID(ctx, "FB")
	if err != nil {
		return nil, fmt.Errorf("CreateFinalProduct: failed to generate product ID: %w", err)
	}
	qrCode, err := s.generateEntityID(ctx, "QR-FINAL")
	if err != nil {
		return nil, fmt.Errorf("CreateFinalProduct: failed to generate QR code: %w", err)
	}
	exists, err := s.entityExists(ctx, finalProductObjectType, productID)
	if err != nil {
		return nil, fmt.Errorf("CreateFinalProduct: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("final product with ID '%s' already exists", productID)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, fmt.Errorf("CreateFinalProduct: failed to get transaction timestamp: %w", err)
	}

	provenance, err := s.buildProvenanceChain(ctx, lots, actor, actor.alias)
	if err != nil {
		return nil, fmt.Errorf("CreateFinalProduct: failed to build provenance chain: %w", err)
	}
	provenance.Timeline = append(provenance.Timeline, model.TimelineEvent{
		Event: "Final product formulated", Date: now, Actor: actor.alias,
		Details: map[string]interface{}{"productId": productID, "productName": productName, "batchSize": batchSize},
	})

	product := model.FinalProduct{
		ObjectType:       finalProductObjectType,
		ID:               productID,
		ManufacturerID:   actor.fullID,
		ManufacturerName: actor.alias,
		ProcessingLotIDs: lotIDs,
		ProductName:      productName,
		BatchSize:        batchSize,
		Excipients:       excipients,
		QRCode:           qrCode,
		ProvenanceChain:  *provenance,
		Status:           model.ProductActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	ensureFinalProductSchemaCompliance(&product)

	if err := s.putEntityState(ctx, finalProductObjectType, productID, &product); err != nil {
		return nil, fmt.Errorf("CreateFinalProduct: %w", err)
	}
	qrKey, err := s.createEntityKey(ctx, qrCodeIndexObjectType, qrCode)
	if err != nil {
		return nil, fmt.Errorf("CreateFinalProduct: %w", err)
	}
	if err := ctx.GetStub().PutState(qrKey, []byte(productID)); err != nil {
		return nil, fmt.Errorf("CreateFinalProduct: failed to index product QR code: %w", err)
	}

	s.emitChainEvent(ctx, "FinalProductCreated", actor, map[string]interface{}{
		"productId": productID, "productName": productName, "qrCode": qrCode,
		"processingLotIds": lotIDs, "batchSize": batchSize,
	})
	logger.Infof("Final product '%s' (%s) created from %d lots by manufacturer '%s'", productID, productName, len(lotIDs), actor.alias)
	return &product, nil
}

// RecallProduct marks a final product recalled. The transition is terminal;
// recalling an already-recalled product is a no-op.
func (s *AyurTraceSmartContract) RecallProduct(ctx contractapi.TransactionContextInterface, productID, reason string) error {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("RecallProduct: failed to get actor info: %w", err)
	}
	im := NewIdentityManager(ctx)
	if err := im.RequireRole("manufacturer"); err != nil {
		return err
	}
	if err := s.validateOptionalString(reason, "reason", maxDescriptionLength); err != nil {
		return err
	}

	product, err := s.getFinalProductByID(ctx, productID)
	if err != nil {
		return fmt.Errorf("RecallProduct: %w", err)
	}
	mayManage, err := s.actorMayManageEntity(im, product.ManufacturerID, actor)
	if err != nil {
		return fmt.Errorf("RecallProduct: %w", err)
	}
	if !mayManage {
		return fmt.Errorf("unauthorized: product '%s' is not owned by caller '%s'", productID, actor.alias)
	}
	if product.Status == model.ProductRecalled {
		logger.Infof("Product '%s' is already recalled. No action needed.", productID)
		return nil
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("RecallProduct: failed to get transaction timestamp: %w", err)
	}
	product.Status = model.ProductRecalled
	product.UpdatedAt = now
	ensureFinalProductSchemaCompliance(product)

	if err := s.putEntityState(ctx, finalProductObjectType, productID, product); err != nil {
		return fmt.Errorf("RecallProduct: %w", err)
	}
	s.emitChainEvent(ctx, "ProductRecalled", actor, map[string]interface{}{
		"productId": productID, "productName": product.ProductName, "reason": reason,
	})
	logger.Warningf("Product '%s' (%s) recalled by manufacturer '%s'. Reason: %s", productID, product.ProductName, actor.alias, reason)
	return nil
}
