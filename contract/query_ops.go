package contract

import (
	"encoding/json"
	"fmt"
	"strings"

	"ayurtrace/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Internal typed getters ---

func (s *AyurTraceSmartContract) getFarmerBatchByID(ctx contractapi.TransactionContextInterface, batchID string) (*model.FarmerBatch, error) {
	batchBytes, err := s.getEntityState(ctx, farmerBatchObjectType, batchID)
	if err != nil {
		return nil, err
	}
	var batch model.FarmerBatch
	if err := json.Unmarshal(batchBytes, &batch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal FarmerBatch '%s': %w", batchID, err)
	}
	return &batch, nil
}

func (s *AyurTraceSmartContract) getAggregationByID(ctx contractapi.TransactionContextInterface, aggregationID string) (*model.AggregationBatch, error) {
	aggBytes, err := s.getEntityState(ctx, aggregationObjectType, aggregationID)
	if err != nil {
		return nil, err
	}
	var aggregation model.AggregationBatch
	if err := json.Unmarshal(aggBytes, &aggregation); err != nil {
		return nil, fmt.Errorf("failed to unmarshal AggregationBatch '%s': %w", aggregationID, err)
	}
	return &aggregation, nil
}

func (s *AyurTraceSmartContract) getProcessingLotByID(ctx contractapi.TransactionContextInterface, lotID string) (*model.ProcessingLot, error) {
	lotBytes, err := s.getEntityState(ctx, processingLotObjectType, lotID)
	if err != nil {
		return nil, err
	}
	var lot model.ProcessingLot
	if err := json.Unmarshal(lotBytes, &lot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ProcessingLot '%s': %w", lotID, err)
	}
	return &lot, nil
}

func (s *AyurTraceSmartContract) getLabSampleByID(ctx contractapi.TransactionContextInterface, sampleID string) (*model.LabSample, error) {
	sampleBytes, err := s.getEntityState(ctx, labSampleObjectType, sampleID)
	if err != nil {
		return nil, err
	}
	var sample model.LabSample
	if err := json.Unmarshal(sampleBytes, &sample); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LabSample '%s': %w", sampleID, err)
	}
	return &sample, nil
}

func (s *AyurTraceSmartContract) getCertificateByID(ctx contractapi.TransactionContextInterface, certificateID string) (*model.Certificate, error) {
	certBytes, err := s.getEntityState(ctx, certificateObjectType, certificateID)
	if err != nil {
		return nil, err
	}
	var certificate model.Certificate
	if err := json.Unmarshal(certBytes, &certificate); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Certificate '%s': %w", certificateID, err)
	}
	return &certificate, nil
}

func (s *AyurTraceSmartContract) getFinalProductByID(ctx contractapi.TransactionContextInterface, productID string) (*model.FinalProduct, error) {
	productBytes, err := s.getEntityState(ctx, finalProductObjectType, productID)
	if err != nil {
		return nil, err
	}
	var product model.FinalProduct
	if err := json.Unmarshal(productBytes, &product); err != nil {
		return nil, fmt.Errorf("failed to unmarshal FinalProduct '%s': %w", productID, err)
	}
	return &product, nil
}

// --- Public by-ID getters ---

func (s *AyurTraceSmartContract) GetFarmerBatch(ctx contractapi.TransactionContextInterface, batchID string) (*model.FarmerBatch, error) {
	logger.Debugf("Chaincode Call: GetFarmerBatch '%s'", batchID)
	return s.getFarmerBatchByID(ctx, batchID)
}

func (s *AyurTraceSmartContract) GetAggregation(ctx contractapi.TransactionContextInterface, aggregationID string) (*model.AggregationBatch, error) {
	logger.Debugf("Chaincode Call: GetAggregation '%s'", aggregationID)
	return s.getAggregationByID(ctx, aggregationID)
}

func (s *AyurTraceSmartContract) GetProcessingLot(ctx contractapi.TransactionContextInterface, lotID string) (*model.ProcessingLot, error) {
	logger.Debugf("Chaincode Call: GetProcessingLot '%s'", lotID)
	return s.getProcessingLotByID(ctx, lotID)
}

func (s *AyurTraceSmartContract) GetLabSample(ctx contractapi.TransactionContextInterface, sampleID string) (*model.LabSample, error) {
	logger.Debugf("Chaincode Call: GetLabSample '%s'", sampleID)
	return s.getLabSampleByID(ctx, sampleID)
}

func (s *AyurTraceSmartContract) GetCertificate(ctx contractapi.TransactionContextInterface, certificateID string) (*model.Certificate, error) {
	logger.Debugf("Chaincode Call: GetCertificate '%s'", certificateID)
	return s.getCertificateByID(ctx, certificateID)
}

func (s *AyurTraceSmartContract) GetFinalProduct(ctx contractapi.TransactionContextInterface, productID string) (*model.FinalProduct, error) {
	logger.Debugf("Chaincode Call: GetFinalProduct '%s'", productID)
	return s.getFinalProductByID(ctx, productID)
}

func (s *AyurTraceSmartContract) GetFarmerProfile(ctx contractapi.TransactionContextInterface, profileID string) (*model.FarmerProfile, error) {
	logger.Debugf("Chaincode Call: GetFarmerProfile '%s'", profileID)
	profileBytes, err := s.getEntityState(ctx, farmerProfileObjectType, profileID)
	if err != nil {
		return nil, fmt.Errorf("GetFarmerProfile: %w", err)
	}
	var profile model.FarmerProfile
	if err := json.Unmarshal(profileBytes, &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal FarmerProfile '%s': %w", profileID, err)
	}
	return &profile, nil
}

// --- Collection scans ---

// forEachEntity iterates all entities of one object type, skipping records
// that fail to load rather than aborting the scan.
func (s *AyurTraceSmartContract) forEachEntity(ctx contractapi.TransactionContextInterface, objectType string, visit func(value []byte) error) error {
	resultsIterator, err := ctx.GetStub().GetStateByPartialCompositeKey(objectType, []string{})
	if err != nil {
		return fmt.Errorf("failed to get %s iterator: %w", objectType, err)
	}
	defer resultsIterator.Close()

	for resultsIterator.HasNext() {
		queryResponse, iterErr := resultsIterator.Next()
		if iterErr != nil {
			logger.Warningf("forEachEntity(%s): failed to get next record: %v. Skipping.", objectType, iterErr)
			continue
		}
		if err := visit(queryResponse.Value); err != nil {
			logger.Warningf("forEachEntity(%s): failed to process record '%s': %v. Skipping.", objectType, queryResponse.Key, err)
		}
	}
	return nil
}

func (s *AyurTraceSmartContract) listFarmerBatches(ctx contractapi.TransactionContextInterface) ([]*model.FarmerBatch, error) {
	batches := []*model.FarmerBatch{}
	err := s.forEachEntity(ctx, farmerBatchObjectType, func(value []byte) error {
		var batch model.FarmerBatch
		if err := json.Unmarshal(value, &batch); err != nil {
			return err
		}
		batches = append(batches, &batch)
		return nil
	})
	return batches, err
}

func (s *AyurTraceSmartContract) listAggregations(ctx contractapi.TransactionContextInterface) ([]*model.AggregationBatch, error) {
	aggregations := []*model.AggregationBatch{}
	err := s.forEachEntity(ctx, aggregationObjectType, func(value []byte) error {
		var aggregation model.AggregationBatch
		if err := json.Unmarshal(value, &aggregation); err != nil {
			return err
		}
		aggregations = append(aggregations, &aggregation)
		return nil
	})
	return aggregations, err
}

func (s *AyurTraceSmartContract) listProcessingLots(ctx contractapi.TransactionContextInterface) ([]*model.ProcessingLot, error) {
	lots := []*model.ProcessingLot{}
	err := s.forEachEntity(ctx, processingLotObjectType, func(value []byte) error {
		var lot model.ProcessingLot
		if err := json.Unmarshal(value, &lot); err != nil {
			return err
		}
		lots = append(lots, &lot)
		return nil
	})
	return lots, err
}

func (s *AyurTraceSmartContract) listLabSamples(ctx contractapi.TransactionContextInterface) ([]*model.LabSample, error) {
	samples := []*model.LabSample{}
	err := s.forEachEntity(ctx, labSampleObjectType, func(value []byte) error {
		var sample model.LabSample
		if err := json.Unmarshal(value, &sample); err != nil {
			return err
		}
		samples = append(samples, &sample)
		return nil
	})
	return samples, err
}

func (s *AyurTraceSmartContract) listCertificates(ctx contractapi.TransactionContextInterface) ([]*model.Certificate, error) {
	certificates := []*model.Certificate{}
	err := s.forEachEntity(ctx, certificateObjectType, func(value []byte) error {
		var certificate model.Certificate
		if err := json.Unmarshal(value, &certificate); err != nil {
			return err
		}
		certificates = append(certificates, &certificate)
		return nil
	})
	return certificates, err
}

func (s *AyurTraceSmartContract) listFinalProducts(ctx contractapi.TransactionContextInterface) ([]*model.FinalProduct, error) {
	products := []*model.FinalProduct{}
	err := s.forEachEntity(ctx, finalProductObjectType, func(value []byte) error {
		var product model.FinalProduct
		if err := json.Unmarshal(value, &product); err != nil {
			return err
		}
		products = append(products, &product)
		return nil
	})
	return products, err
}

func (s *AyurTraceSmartContract) listFarmerProfiles(ctx contractapi.TransactionContextInterface) ([]*model.FarmerProfile, error) {
	profiles := []*model.FarmerProfile{}
	err := s.forEachEntity(ctx, farmerProfileObjectType, func(value []byte) error {
		var profile model.FarmerProfile
		if err := json.Unmarshal(value, &profile); err != nil {
			return err
		}
		profiles = append(profiles, &profile)
		return nil
	})
	return profiles, err
}

// --- Candidate list views ---

// GetHarvestedFarmerBatches lists all batches ready for collection.
func (s *AyurTraceSmartContract) GetHarvestedFarmerBatches(ctx contractapi.TransactionContextInterface) ([]*model.FarmerBatch, error) {
	batches, err := s.listFarmerBatches(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetHarvestedFarmerBatches: %w", err)
	}
	harvested := []*model.FarmerBatch{}
	for _, batch := range batches {
		if batch.Status == model.BatchStatusHarvested {
			harvested = append(harvested, batch)
		}
	}
	return harvested, nil
}

// GetDeliveredAggregations lists aggregations awaiting facility intake.
func (s *AyurTraceSmartContract) GetDeliveredAggregations(ctx contractapi.TransactionContextInterface) ([]*model.AggregationBatch, error) {
	aggregations, err := s.listAggregations(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetDeliveredAggregations: %w", err)
	}
	delivered := []*model.AggregationBatch{}
	for _, aggregation := range aggregations {
		if aggregation.Status == model.AggregationDelivered {
			delivered = append(delivered, aggregation)
		}
	}
	return delivered, nil
}

// GetApprovedProcessingLots lists lots eligible for formulation.
func (s *AyurTraceSmartContract) GetApprovedProcessingLots(ctx contractapi.TransactionContextInterface) ([]*model.ProcessingLot, error) {
	lots, err := s.listProcessingLots(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetApprovedProcessingLots: %w", err)
	}
	approved := []*model.ProcessingLot{}
	for _, lot := range lots {
		if lot.Status == model.LotApproved {
			approved = append(approved, lot)
		}
	}
	return approved, nil
}

// GetPendingLabSamples lists the calling laboratory's unclaimed samples.
func (s *AyurTraceSmartContract) GetPendingLabSamples(ctx contractapi.TransactionContextInterface) ([]*model.LabSample, error) {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetPendingLabSamples: failed to get actor info: %w", err)
	}
	samples, err := s.listLabSamples(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetPendingLabSamples: %w", err)
	}
	pending := []*model.LabSample{}
	for _, sample := range samples {
		if sample.Status == model.SamplePending && actorOwnsEntity(sample.LabID, actor) {
			pending = append(pending, sample)
		}
	}
	return pending, nil
}

// GetAllCertificates lists every issued certificate.
func (s *AyurTraceSmartContract) GetAllCertificates(ctx contractapi.TransactionContextInterface) ([]*model.Certificate, error) {
	return s.listCertificates(ctx)
}

// GetFarmerProfiles lists every registered farmer master record.
func (s *AyurTraceSmartContract) GetFarmerProfiles(ctx contractapi.TransactionContextInterface) ([]*model.FarmerProfile, error) {
	return s.listFarmerProfiles(ctx)
}

// --- Role-Scoped View ---

// GetRoleScopedView projects the full collections down to what the given
// role works with: the role's own collection is filtered to entities owned
// by the caller, while collections the role consumes from upstream remain
// unfiltered. The caller must hold the requested role; admins may request
// any role's view.
func (s *AyurTraceSmartContract) GetRoleScopedView(ctx contractapi.TransactionContextInterface, role string) (*model.RoleScopedView, error) {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetRoleScopedView: failed to get actor info: %w", err)
	}
	roleLower := strings.ToLower(strings.TrimSpace(role))
	if !ValidRoles[roleLower] {
		return nil, fmt.Errorf("invalid role '%s'. Valid roles: farmer, collector, facility, laboratory, manufacturer", role)
	}
	im := NewIdentityManager(ctx)
	if err := im.RequireRole(roleLower); err != nil {
		return nil, err
	}

	batches, err := s.listFarmerBatches(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetRoleScopedView: %w", err)
	}
	aggregations, err := s.listAggregations(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetRoleScopedView: %w", err)
	}
	lots, err := s.listProcessingLots(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetRoleScopedView: %w", err)
	}
	samples, err := s.listLabSamples(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetRoleScopedView: %w", err)
	}
	certificates, err := s.listCertificates(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetRoleScopedView: %w", err)
	}
	products, err := s.listFinalProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetRoleScopedView: %w", err)
	}
	profiles, err := s.listFarmerProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetRoleScopedView: %w", err)
	}

	view := &model.RoleScopedView{
		FarmerBatches:      batches,
		AggregationBatches: aggregations,
		ProcessingLots:     lots,
		LabSamples:         samples,
		Certificates:       certificates,
		FinalProducts:      products,
		Farmers:            profiles,
	}

	switch roleLower {
	case "farmer":
		owned := []*model.FarmerBatch{}
		for _, batch := range batches {
			if actorOwnsEntity(batch.FarmerID, actor) {
				owned = append(owned, batch)
			}
		}
		view.FarmerBatches = owned
	case "collector":
		owned := []*model.AggregationBatch{}
		for _, aggregation := range aggregations {
			if actorOwnsEntity(aggregation.CollectorID, actor) {
				owned = append(owned, aggregation)
			}
		}
		view.AggregationBatches = owned
	case "facility":
		owned := []*model.ProcessingLot{}
		for _, lot := range lots {
			if actorOwnsEntity(lot.FacilityID, actor) {
				owned = append(owned, lot)
			}
		}
		view.ProcessingLots = owned
	case "laboratory":
		owned := []*model.LabSample{}
		for _, sample := range samples {
			if actorOwnsEntity(sample.LabID, actor) {
				owned = append(owned, sample)
			}
		}
		view.LabSamples = owned
	case "manufacturer":
		owned := []*model.FinalProduct{}
		for _, product := range products {
			if actorOwnsEntity(product.ManufacturerID, actor) {
				owned = append(owned, product)
			}
		}
		view.FinalProducts = owned
	}

	logger.Debugf("GetRoleScopedView(%s) for '%s': %d/%d/%d/%d/%d/%d/%d entities",
		roleLower, actor.alias, len(view.FarmerBatches), len(view.AggregationBatches), len(view.ProcessingLots),
		len(view.LabSamples), len(view.Certificates), len(view.FinalProducts), len(view.Farmers))
	return view, nil
}

// --- Consumer-facing lookups ---

// GetFinalProductByQRCode resolves a printed product QR code to its product.
func (s *AyurTraceSmartContract) GetFinalProductByQRCode(ctx contractapi.TransactionContextInterface, qrCode string) (*model.FinalProduct, error) {
	if err := s.validateRequiredString(qrCode, "qrCode", maxStringInputLength); err != nil {
		return nil, err
	}
	productIDBytes, err := s.getEntityState(ctx, qrCodeIndexObjectType, qrCode)
	if err != nil {
		return nil, fmt.Errorf("GetFinalProductByQRCode: %w", err)
	}
	return s.getFinalProductByID(ctx, string(productIDBytes))
}

// GetCertificateByQRCode resolves a certificate QR code to its certificate.
func (s *AyurTraceSmartContract) GetCertificateByQRCode(ctx contractapi.TransactionContextInterface, qrCode string) (*model.Certificate, error) {
	if err := s.validateRequiredString(qrCode, "qrCode", maxStringInputLength); err != nil {
		return nil, err
	}
	certificateIDBytes, err := s.getEntityState(ctx, qrCodeIndexObjectType, qrCode)
	if err != nil {
		return nil, fmt.Errorf("GetCertificateByQRCode: %w", err)
	}
	return s.getCertificateByID(ctx, string(certificateIDBytes))
}

// GetProvenance expands a final product's frozen provenance chain with the
// full current entities behind every referenced ID, as shown to consumers
// scanning the product.
func (s *AyurTraceSmartContract) GetProvenance(ctx contractapi.TransactionContextInterface, productID string) (*model.ProvenanceBundle, error) {
	product, err := s.getFinalProductByID(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("GetProvenance: %w", err)
	}

	bundle := &model.ProvenanceBundle{
		Product:    product,
		Farmers:    []model.ExpandedFarmerGroup{},
		Collectors: []model.ExpandedCollectorGroup{},
		Facilities: []model.ExpandedFacilityGroup{},
		Labs:       []model.ExpandedLabGroup{},
	}

	for _, farmer := range product.ProvenanceChain.Farmers {
		group := model.ExpandedFarmerGroup{ID: farmer.ID, Name: farmer.Name, Batches: []*model.FarmerBatch{}}
		for _, batchID := range farmer.Batches {
			batch, err := s.getFarmerBatchByID(ctx, batchID)
			if err != nil {
				logger.Warningf("GetProvenance: batch '%s' in chain of product '%s' could not be resolved: %v. Skipping.", batchID, productID, err)
				continue
			}
			group.Batches = append(group.Batches, batch)
		}
		bundle.Farmers = append(bundle.Farmers, group)
	}
	for _, collector := range product.ProvenanceChain.Collectors {
		group := model.ExpandedCollectorGroup{ID: collector.ID, Name: collector.Name, Aggregations: []*model.AggregationBatch{}}
		for _, aggID := range collector.Aggregations {
			aggregation, err := s.getAggregationByID(ctx, aggID)
			if err != nil {
				logger.Warningf("GetProvenance: aggregation '%s' in chain of product '%s' could not be resolved: %v. Skipping.", aggID, productID, err)
				continue
			}
			group.Aggregations = append(group.Aggregations, aggregation)
		}
		bundle.Collectors = append(bundle.Collectors, group)
	}
	for _, facility := range product.ProvenanceChain.Facilities {
		group := model.ExpandedFacilityGroup{ID: facility.ID, Name: facility.Name, Lots: []*model.ProcessingLot{}}
		for _, lotID := range facility.Lots {
			lot, err := s.getProcessingLotByID(ctx, lotID)
			if err != nil {
				logger.Warningf("GetProvenance: lot '%s' in chain of product '%s' could not be resolved: %v. Skipping.", lotID, productID, err)
				continue
			}
			group.Lots = append(group.Lots, lot)
		}
		bundle.Facilities = append(bundle.Facilities, group)
	}
	for _, lab := range product.ProvenanceChain.Labs {
		group := model.ExpandedLabGroup{ID: lab.ID, Name: lab.Name, Tests: []*model.LabSample{}}
		for _, sampleID := range lab.Tests {
			sample, err := s.getLabSampleByID(ctx, sampleID)
			if err != nil {
				logger.Warningf("GetProvenance: sample '%s' in chain of product '%s' could not be resolved: %v. Skipping.", sampleID, productID, err)
				continue
			}
			group.Tests = append(group.Tests, sample)
		}
		bundle.Labs = append(bundle.Labs, group)
	}

	return bundle, nil
}
