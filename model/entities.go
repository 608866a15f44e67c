package model

import "time"

// BatchStatus defines the possible states of a farmer batch.
type BatchStatus string

const (
	BatchStatusPlanting  BatchStatus = "planting"  // Batch registered, crop in the ground
	BatchStatusOngoing   BatchStatus = "ongoing"   // Care events recorded
	BatchStatusHarvested BatchStatus = "harvested" // Harvest weighed and graded
	BatchStatusSold      BatchStatus = "sold"      // Picked up into an aggregation
)

// PaymentStatus tracks settlement of a sold farmer batch.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

// CareEventType enumerates the recordable field activities.
type CareEventType string

const (
	CareWatering    CareEventType = "watering"
	CareFertilizing CareEventType = "fertilizing"
	CareWeeding     CareEventType = "weeding"
	CareOther       CareEventType = "other"
)

// HarvestQuality grades harvested material and approved lots.
type HarvestQuality string

const (
	QualityPremium  HarvestQuality = "premium"
	QualityStandard HarvestQuality = "standard"
	QualityLow      HarvestQuality = "low"
)

// AggregationStatus defines the possible states of an aggregation batch.
type AggregationStatus string

const (
	AggregationCollecting AggregationStatus = "collecting"
	AggregationInTransit  AggregationStatus = "in-transit"
	AggregationDelivered  AggregationStatus = "delivered"
)

// LotStatus defines the possible states of a processing lot.
type LotStatus string

const (
	LotReceived   LotStatus = "received"
	LotProcessing LotStatus = "processing"
	LotCompleted  LotStatus = "completed"
	LotLabTesting LotStatus = "lab-testing"
	LotApproved   LotStatus = "approved"
	LotRejected   LotStatus = "rejected"
)

// ProcessingStepType enumerates the facility processing stages.
type ProcessingStepType string

const (
	StepCleaning  ProcessingStepType = "cleaning"
	StepDrying    ProcessingStepType = "drying"
	StepGrinding  ProcessingStepType = "grinding"
	StepPackaging ProcessingStepType = "packaging"
)

// SampleStatus defines the possible states of a lab sample.
type SampleStatus string

const (
	SamplePending   SampleStatus = "pending"
	SampleTesting   SampleStatus = "testing"
	SampleCompleted SampleStatus = "completed"
)

// TestOutcome is the overall verdict of a laboratory test run.
type TestOutcome string

const (
	TestPass TestOutcome = "pass"
	TestFail TestOutcome = "fail"
)

// CertificateStatus defines the possible states of a quality certificate.
type CertificateStatus string

const (
	CertificateActive  CertificateStatus = "active"
	CertificateRevoked CertificateStatus = "revoked"
)

// ProductStatus defines the possible states of a final product.
type ProductStatus string

const (
	ProductActive   ProductStatus = "active"
	ProductRecalled ProductStatus = "recalled"
)

// GeoLocation is a coordinate pair with a human-readable address.
type GeoLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`
}

// CareEvent records one field activity on a farmer batch.
type CareEvent struct {
	ID        string        `json:"id"`
	BatchID   string        `json:"batchId"`
	Type      CareEventType `json:"type"`
	Notes     string        `json:"notes"`
	VoiceNote string        `json:"voiceNote"`
	Photos    []string      `json:"photos"`
	Date      time.Time     `json:"date"`
	CreatedAt time.Time     `json:"createdAt"`
}

// HarvestData captures the weighed and graded harvest of a batch.
type HarvestData struct {
	Weight      float64        `json:"weight"`
	Moisture    float64        `json:"moisture"`
	Photos      []string       `json:"photos"`
	HarvestDate time.Time      `json:"harvestDate"`
	Quality     HarvestQuality `json:"quality"`
}

// FarmerBatch is the cultivation-side unit of traceability: one sowing by
// one farmer, carried through care events, harvest and sale.
type FarmerBatch struct {
	ObjectType    string        `json:"objectType"` // "FarmerBatch"
	ID            string        `json:"id"`
	FarmerID      string        `json:"farmerId"`
	FarmerName    string        `json:"farmerName"`
	Species       string        `json:"species"`
	SeedQuantity  float64       `json:"seedQuantity"`
	PlantingDate  time.Time     `json:"plantingDate"`
	Location      GeoLocation   `json:"location"`
	Photos        []string      `json:"photos"`
	Status        BatchStatus   `json:"status"`
	CareEvents    []CareEvent   `json:"careEvents"`
	HarvestData   *HarvestData  `json:"harvestData,omitempty"`
	PaymentAmount float64       `json:"paymentAmount,omitempty"`
	PaymentStatus PaymentStatus `json:"paymentStatus,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// RoutePoint is one GPS fix on a transport route.
type RoutePoint struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// SensorReading is one environmental measurement during transport.
type SensorReading struct {
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Timestamp   time.Time `json:"timestamp"`
}

// TransportData tracks a collector's trip to the processing facility.
type TransportData struct {
	StartTime     time.Time       `json:"startTime"`
	EndTime       time.Time       `json:"endTime"`
	Route         []RoutePoint    `json:"route"`
	SensorData    []SensorReading `json:"sensorData"`
	DeliveryPhoto string          `json:"deliveryPhoto"`
}

// AggregationBatch groups harvested farmer batches bought by one collector
// for delivery to a processing facility.
type AggregationBatch struct {
	ObjectType    string            `json:"objectType"` // "AggregationBatch"
	ID            string            `json:"id"`
	CollectorID   string            `json:"collectorId"`
	CollectorName string            `json:"collectorName"`
	FarmerBatches []string          `json:"farmerBatches"`
	TotalWeight   float64           `json:"totalWeight"`
	TotalValue    float64           `json:"totalValue"`
	PricePerKg    float64           `json:"pricePerKg"`
	Status        AggregationStatus `json:"status"`
	Destination   string            `json:"destination"`
	FacilityID    string            `json:"facilityId"`
	TransportData *TransportData    `json:"transportData,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// CollectorCart is a collector's staging list of batch IDs picked for the
// next aggregation. Entries must exist when staged; harvest status is only
// checked at aggregation time.
type CollectorCart struct {
	ObjectType  string    `json:"objectType"` // "CollectorCart"
	CollectorID string    `json:"collectorId"`
	BatchIDs    []string  `json:"batchIds"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ProcessingStep records one processing stage applied to a lot.
type ProcessingStep struct {
	ID          string             `json:"id"`
	LotID       string             `json:"lotId"`
	Step        ProcessingStepType `json:"step"`
	Temperature float64            `json:"temperature"`
	Humidity    float64            `json:"humidity"`
	Duration    float64            `json:"duration"` // minutes
	Photos      []string           `json:"photos"`
	Notes       string             `json:"notes"`
	Timestamp   time.Time          `json:"timestamp"`
}

// ProcessingLot is the facility-side unit: material received from one or
// more aggregations, processed, sampled and graded.
// AvailableWeight never exceeds ReceivedWeight; sampling consumes from it.
type ProcessingLot struct {
	ObjectType          string           `json:"objectType"` // "ProcessingLot"
	ID                  string           `json:"id"`
	FacilityID          string           `json:"facilityId"`
	FacilityName        string           `json:"facilityName"`
	AggregationBatchIDs []string         `json:"aggregationBatchIds"`
	Species             string           `json:"species"`
	TotalWeight         float64          `json:"totalWeight"`
	ReceivedWeight      float64          `json:"receivedWeight"`
	AvailableWeight     float64          `json:"availableWeight"`
	Status              LotStatus        `json:"status"`
	ProcessingSteps     []ProcessingStep `json:"processingSteps"`
	LabSampleID         string           `json:"labSampleId"`
	TestResults         *TestResults     `json:"testResults,omitempty"`
	Grade               HarvestQuality   `json:"grade,omitempty"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
}

// ScreeningValue is one analyte measurement against its regulatory limit.
type ScreeningValue struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Limit float64 `json:"limit"`
	Pass  bool    `json:"pass"`
}

// ScreeningPanel groups the analyte measurements of one screening class.
type ScreeningPanel struct {
	Detected bool             `json:"detected"`
	Values   []ScreeningValue `json:"values"`
}

// TestResults is a laboratory's full report for one sample.
type TestResults struct {
	Moisture          float64        `json:"moisture"`
	Pesticides        ScreeningPanel `json:"pesticides"`
	HeavyMetals       ScreeningPanel `json:"heavyMetals"`
	DNAAuthentication bool           `json:"dnaAuthentication"`
	OverallResult     TestOutcome    `json:"overallResult"`
	ReportPDF         string         `json:"reportPdf"`
	ReportPhotos      []string       `json:"reportPhotos"`
	TestedBy          string         `json:"testedBy"`
	TestDate          time.Time      `json:"testDate"`
}

// LabSample is the physical sample a facility sends to a laboratory.
type LabSample struct {
	ObjectType      string       `json:"objectType"` // "LabSample"
	ID              string       `json:"id"`
	ProcessingLotID string       `json:"processingLotId"`
	FacilityID      string       `json:"facilityId"`
	LabID           string       `json:"labId"`
	SampleWeight    float64      `json:"sampleWeight"`
	SamplePhoto     string       `json:"samplePhoto"`
	Status          SampleStatus `json:"status"`
	TestResults     *TestResults `json:"testResults,omitempty"`
	CertificateID   string       `json:"certificateId"`
	Notes           string       `json:"notes"`
	ReceiptPhotos   []string     `json:"receiptPhotos"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// Certificate attests a passed laboratory test for one lot.
type Certificate struct {
	ObjectType      string            `json:"objectType"` // "Certificate"
	ID              string            `json:"id"`
	SampleID        string            `json:"sampleId"`
	ProcessingLotID string            `json:"processingLotId"`
	QRCode          string            `json:"qrCode"`
	IssuedBy        string            `json:"issuedBy"`
	IssuedDate      time.Time         `json:"issuedDate"`
	ValidUntil      time.Time         `json:"validUntil"`
	Status          CertificateStatus `json:"status"`
}

// ProvenanceFarmer groups one farmer's contribution to a product.
type ProvenanceFarmer struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Batches []string `json:"batches"`
}

// ProvenanceCollector groups one collector's contribution to a product.
type ProvenanceCollector struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Aggregations []string `json:"aggregations"`
}

// ProvenanceFacility groups one facility's contribution to a product.
type ProvenanceFacility struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Lots []string `json:"lots"`
}

// ProvenanceLab groups one laboratory's tests backing a product.
type ProvenanceLab struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Tests []string `json:"tests"`
}

// ProvenanceActor identifies a single actor without accumulated entities.
type ProvenanceActor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TimelineEvent is one chronological entry in a product's provenance.
type TimelineEvent struct {
	Event   string                 `json:"event"`
	Date    time.Time              `json:"date"`
	Actor   string                 `json:"actor"`
	Details map[string]interface{} `json:"details"`
}

// ProvenanceData is the full chain-of-custody frozen into a final product
// at formulation time. Actors are deduplicated by ID; each accumulates the
// entity IDs it contributed, in order of discovery.
type ProvenanceData struct {
	Farmers      []ProvenanceFarmer    `json:"farmers"`
	Collectors   []ProvenanceCollector `json:"collectors"`
	Facilities   []ProvenanceFacility  `json:"facilities"`
	Labs         []ProvenanceLab       `json:"labs"`
	Manufacturer ProvenanceActor       `json:"manufacturer"`
	Timeline     []TimelineEvent       `json:"timeline"`
}

// FinalProduct is a manufactured batch formulated from approved lots.
type FinalProduct struct {
	ObjectType       string         `json:"objectType"` // "FinalProduct"
	ID               string         `json:"id"`
	ManufacturerID   string         `json:"manufacturerId"`
	ManufacturerName string         `json:"manufacturerName"`
	ProcessingLotIDs []string       `json:"processingLotIds"`
	ProductName      string         `json:"productName"`
	BatchSize        float64        `json:"batchSize"`
	Excipients       []string       `json:"excipients"`
	QRCode           string         `json:"qrCode"`
	ProvenanceChain  ProvenanceData `json:"provenanceChain"`
	Status           ProductStatus  `json:"status"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// FarmerProfile is the registered master record of a farmer.
type FarmerProfile struct {
	ObjectType         string `json:"objectType"` // "FarmerProfile"
	ID                 string `json:"id"`
	FullName           string `json:"fullName"`
	Mobile             string `json:"mobile"`
	Email              string `json:"email"`
	Location           string `json:"location"`
	NMPBLicense        string `json:"nmpbLicense"`
	GACPCertificate    string `json:"gacpCertificate"`
	CultivationLicense string `json:"cultivationLicense"`
	PreferredLanguage  string `json:"preferredLanguage"`
}

// RoleScopedView is the per-role projection of the ledger's collections.
type RoleScopedView struct {
	FarmerBatches      []*FarmerBatch      `json:"farmerBatches"`
	AggregationBatches []*AggregationBatch `json:"aggregationBatches"`
	ProcessingLots     []*ProcessingLot    `json:"processingLots"`
	LabSamples         []*LabSample        `json:"labSamples"`
	Certificates       []*Certificate      `json:"certificates"`
	FinalProducts      []*FinalProduct     `json:"finalProducts"`
	Farmers            []*FarmerProfile    `json:"farmers"`
}

// ExpandedFarmerGroup pairs a provenance farmer with its full batches.
type ExpandedFarmerGroup struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Batches []*FarmerBatch `json:"batches"`
}

// ExpandedCollectorGroup pairs a provenance collector with its aggregations.
type ExpandedCollectorGroup struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Aggregations []*AggregationBatch `json:"aggregations"`
}

// ExpandedFacilityGroup pairs a provenance facility with its full lots.
type ExpandedFacilityGroup struct {
	ID   string           `json:"id"`
	Name string           `json:"name"`
	Lots []*ProcessingLot `json:"lots"`
}

// ExpandedLabGroup pairs a provenance lab with its full samples.
type ExpandedLabGroup struct {
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	Tests []*LabSample `json:"tests"`
}

// ProvenanceBundle is the frozen chain of a product expanded with the full
// current entities, as returned to QR-scanning consumers.
type ProvenanceBundle struct {
	Product    *FinalProduct            `json:"product"`
	Farmers    []ExpandedFarmerGroup    `json:"farmers"`
	Collectors []ExpandedCollectorGroup `json:"collectors"`
	Facilities []ExpandedFacilityGroup  `json:"facilities"`
	Labs       []ExpandedLabGroup       `json:"labs"`
}
