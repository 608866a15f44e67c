package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ayurtrace/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Lifecycle: Admin Operations ---

// BootstrapLedger initializes the ledger with a bootstrap admin identity if
// no admin exists. Uses direct state writes so it works before any identity
// records are present.
func (s *AyurTraceSmartContract) BootstrapLedger(ctx contractapi.TransactionContextInterface) error {
	logger.Info("Attempting to bootstrap ledger with initial admin...")
	im := NewIdentityManager(ctx)

	anyAdminAlreadyExists, err := im.AnyAdminExists()
	if err != nil {
		return fmt.Errorf("BootstrapLedger: failed to check if any admin exists: %w", err)
	}
	if anyAdminAlreadyExists {
		msg := "system already has admins or is bootstrapped. BootstrapLedger should not be re-run."
		logger.Info(msg)
		return errors.New(msg)
	}

	callerActorInfo, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("BootstrapLedger: failed to get caller identity for bootstrap: %w", err)
	}
	callerFullID := callerActorInfo.fullID
	bootstrapAdminAlias := callerActorInfo.alias

	now, tsErr := s.getCurrentTxTimestamp(ctx)
	if tsErr != nil {
		return fmt.Errorf("BootstrapLedger: failed to get timestamp for bootstrap writes: %w", tsErr)
	}

	bootstrapAdminInfo := model.IdentityInfo{
		ObjectType:      identityObjectType,
		FullID:          callerFullID,
		ShortName:       bootstrapAdminAlias,
		EnrollmentID:    bootstrapAdminAlias,
		OrganizationMSP: callerActorInfo.mspID,
		Roles:           []string{},
		IsAdmin:         true,
		RegisteredBy:    callerFullID,
		RegisteredAt:    now,
		LastUpdatedAt:   now,
	}
	identityKey, keyErr := im.createIdentityCompositeKey(callerFullID)
	if keyErr != nil {
		return fmt.Errorf("BootstrapLedger: failed to create identity key for bootstrap admin '%s': %w", callerFullID, keyErr)
	}
	bootstrapAdminInfoBytes, marshalErr := json.Marshal(bootstrapAdminInfo)
	if marshalErr != nil {
		return fmt.Errorf("BootstrapLedger: failed to marshal bootstrap admin IdentityInfo: %w", marshalErr)
	}
	if err := ctx.GetStub().PutState(identityKey, bootstrapAdminInfoBytes); err != nil {
		return fmt.Errorf("BootstrapLedger: failed to save bootstrap admin IdentityInfo for '%s': %w", callerFullID, err)
	}

	aliasKey, aliasKeyErr := im.createAliasCompositeKey(bootstrapAdminAlias)
	if aliasKeyErr != nil {
		return fmt.Errorf("BootstrapLedger: failed to create alias key for bootstrap admin '%s': %w", bootstrapAdminAlias, aliasKeyErr)
	}
	if err := ctx.GetStub().PutState(aliasKey, []byte(callerFullID)); err != nil {
		return fmt.Errorf("BootstrapLedger: failed to save bootstrap admin alias mapping '%s' -> '%s': %w", bootstrapAdminAlias, callerFullID, err)
	}

	adminFlagKey, flagKeyErr := im.createAdminFlagCompositeKey(callerFullID)
	if flagKeyErr != nil {
		return fmt.Errorf("BootstrapLedger: failed to create admin flag key for '%s': %w", callerFullID, flagKeyErr)
	}
	if err := ctx.GetStub().PutState(adminFlagKey, []byte("true")); err != nil {
		return fmt.Errorf("BootstrapLedger: failed to set admin flag for bootstrap admin '%s': %w", callerFullID, err)
	}

	logger.Infof("BootstrapLedger: Ledger bootstrapped successfully. Identity '%s' (alias: '%s') is now an admin.", callerFullID, bootstrapAdminAlias)
	return nil
}

// GetFullIDForAlias resolves an alias to its registered full X.509 ID.
func (s *AyurTraceSmartContract) GetFullIDForAlias(ctx contractapi.TransactionContextInterface, alias string) (string, error) {
	im := NewIdentityManager(ctx)
	return im.ResolveIdentity(alias)
}

// SeedDemoData populates three demo farmer profiles and three cultivation
// batches with fixed IDs when the respective collections are empty. Admin
// only; a second call is a no-op for any already-seeded record.
func (s *AyurTraceSmartContract) SeedDemoData(ctx contractapi.TransactionContextInterface) error {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("SeedDemoData: failed to get actor info: %w", err)
	}
	im := NewIdentityManager(ctx)
	if err := s.requireAdmin(ctx, im); err != nil {
		return fmt.Errorf("SeedDemoData: %w", err)
	}
	logger.Infof("Admin '%s' seeding demo data", actor.alias)

	profiles := []model.FarmerProfile{
		{
			ObjectType: farmerProfileObjectType, ID: "farmer-1",
			FullName: "Rajesh Kumar", Mobile: "+91 9876543210", Email: "rajesh.kumar@example.com",
			Location: "Mysore, Karnataka", NMPBLicense: "NMPB/KAR/2023/001",
			GACPCertificate: "GACP/2023/RK001", CultivationLicense: "CL/KAR/2023/001",
			PreferredLanguage: "Kannada",
		},
		{
			ObjectType: farmerProfileObjectType, ID: "farmer-2",
			FullName: "Priya Sharma", Mobile: "+91 9876543211", Email: "priya.sharma@example.com",
			Location: "Coorg, Karnataka", NMPBLicense: "NMPB/KAR/2023/002",
			GACPCertificate: "GACP/2023/PS002", CultivationLicense: "CL/KAR/2023/002",
			PreferredLanguage: "English",
		},
		{
			ObjectType: farmerProfileObjectType, ID: "farmer-3",
			FullName: "Suresh Reddy", Mobile: "+91 9876543212", Email: "suresh.reddy@example.com",
			Location: "Bangalore Rural, Karnataka", NMPBLicense: "NMPB/KAR/2023/003",
			GACPCertificate: "GACP/2023/SR003", CultivationLicense: "CL/KAR/2023/003",
			PreferredLanguage: "Telugu",
		},
	}
	for i := range profiles {
		exists, err := s.entityExists(ctx, farmerProfileObjectType, profiles[i].ID)
		if err != nil {
			return fmt.Errorf("SeedDemoData: %w", err)
		}
		if exists {
			logger.Debugf("SeedDemoData: profile '%s' already present, skipping", profiles[i].ID)
			continue
		}
		if err := s.putEntityState(ctx, farmerProfileObjectType, profiles[i].ID, &profiles[i]); err != nil {
			return fmt.Errorf("SeedDemoData: %w", err)
		}
	}

	date := func(y int, m time.Month, d, h, min int) time.Time {
		return time.Date(y, m, d, h, min, 0, 0, time.UTC)
	}
	batches := []model.FarmerBatch{
		{
			ObjectType: farmerBatchObjectType, ID: "FAR-20250910-001",
			FarmerID: "farmer-1", FarmerName: "Rajesh Kumar",
			Species: "Turmeric", SeedQuantity: 50, PlantingDate: date(2024, 6, 15, 0, 0),
			Location: model.GeoLocation{Latitude: 12.2958, Longitude: 76.6394, Address: "Mysore, Karnataka"},
			Photos:   []string{"https://picsum.photos/400/300?random=1"},
			Status:   model.BatchStatusHarvested,
			CareEvents: []model.CareEvent{{
				ID: "CARE-001", BatchID: "FAR-20250910-001", Type: model.CareWatering,
				Notes: "Regular watering completed", Photos: []string{},
				Date: date(2024, 7, 1, 0, 0), CreatedAt: date(2024, 7, 1, 10, 0),
			}},
			HarvestData: &model.HarvestData{
				Weight: 120, Moisture: 12, Photos: []string{"https://picsum.photos/400/300?random=2"},
				HarvestDate: date(2024, 9, 1, 0, 0), Quality: model.QualityPremium,
			},
			CreatedAt: date(2024, 6, 15, 8, 0), UpdatedAt: date(2024, 9, 1, 16, 0),
		},
		{
			ObjectType: farmerBatchObjectType, ID: "FAR-20250910-002",
			FarmerID: "farmer-2", FarmerName: "Priya Sharma",
			Species: "Cardamom", SeedQuantity: 30, PlantingDate: date(2024, 5, 20, 0, 0),
			Location:   model.GeoLocation{Latitude: 12.3375, Longitude: 75.7139, Address: "Coorg, Karnataka"},
			Photos:     []string{"https://picsum.photos/400/300?random=3"},
			Status:     model.BatchStatusHarvested,
			CareEvents: []model.CareEvent{},
			HarvestData: &model.HarvestData{
				Weight: 85, Moisture: 10, Photos: []string{"https://picsum.photos/400/300?random=4"},
				HarvestDate: date(2024, 8, 25, 0, 0), Quality: model.QualityStandard,
			},
			CreatedAt: date(2024, 5, 20, 9, 0), UpdatedAt: date(2024, 8, 25, 14, 0),
		},
		{
			ObjectType: farmerBatchObjectType, ID: "FAR-20250910-003",
			FarmerID: "farmer-3", FarmerName: "Suresh Reddy",
			Species: "Black Pepper", SeedQuantity: 25, PlantingDate: date(2024, 4, 10, 0, 0),
			Location: model.GeoLocation{Latitude: 13.0827, Longitude: 80.2707, Address: "Bangalore Rural, Karnataka"},
			Photos:   []string{"https://picsum.photos/400/300?random=5"},
			Status:   model.BatchStatusOngoing,
			CareEvents: []model.CareEvent{{
				ID: "CARE-002", BatchID: "FAR-20250910-003", Type: model.CareFertilizing,
				Notes: "Applied organic fertilizer", Photos: []string{},
				Date: date(2024, 6, 15, 0, 0), CreatedAt: date(2024, 6, 15, 11, 0),
			}},
			CreatedAt: date(2024, 4, 10, 7, 0), UpdatedAt: date(2024, 6, 15, 11, 0),
		},
	}
	seeded := 0
	for i := range batches {
		exists, err := s.entityExists(ctx, farmerBatchObjectType, batches[i].ID)
		if err != nil {
			return fmt.Errorf("SeedDemoData: %w", err)
		}
		if exists {
			logger.Debugf("SeedDemoData: batch '%s' already present, skipping", batches[i].ID)
			continue
		}
		ensureFarmerBatchSchemaCompliance(&batches[i])
		if err := s.putEntityState(ctx, farmerBatchObjectType, batches[i].ID, &batches[i]); err != nil {
			return fmt.Errorf("SeedDemoData: %w", err)
		}
		seeded++
	}

	s.emitChainEvent(ctx, "DemoDataSeeded", actor, map[string]interface{}{
		"profiles": len(profiles), "batchesSeeded": seeded,
	})
	logger.Infof("SeedDemoData: seeded %d demo batches and up to %d profiles", seeded, len(profiles))
	return nil
}
