package contract

import (
	"strings"
	"testing"

	"ayurtrace/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/stretchr/testify/require"
)

// registerSupplyChain sets up one actor per role.
func registerSupplyChain(env *testEnv) {
	env.registerActor("farmer-1", "farmer")
	env.registerActor("collector-1", "collector")
	env.registerActor("facility-1", "facility")
	env.registerActor("lab-1", "laboratory")
}

// dispatchSample drives a fresh lot up to a pending lab sample.
func dispatchSample(env *testEnv, species string, weight float64) (lotID, sampleID string) {
	batch := env.createHarvestedBatch("farmer-1", species, weight, model.QualityPremium)
	aggregation := env.deliverAggregation("collector-1", []string{batch.ID}, 50)

	env.exec("facility-1", func(ctx *contractapi.TransactionContext) {
		lot, err := env.cc.ReceiveAggregation(ctx, aggregation.ID, weight)
		require.NoError(env.t, err)
		lotID = lot.ID
	})
	env.exec("facility-1", func(ctx *contractapi.TransactionContext) {
		sample, err := env.cc.SendLabSample(ctx, lotID, "lab-1", 1.5, "")
		require.NoError(env.t, err)
		sampleID = sample.ID
	})
	return lotID, sampleID
}

func TestReceiveLabSampleMovesToTesting(t *testing.T) {
	env := newTestEnv(t)
	registerSupplyChain(env)
	env.registerActor("lab-2", "laboratory")

	_, sampleID := dispatchSample(env, "Turmeric", 100)

	// Only the designated lab may claim the sample.
	env.exec("lab-2", func(ctx *contractapi.TransactionContext) {
		require.Error(t, env.cc.ReceiveLabSample(ctx, sampleID, ""))
	})

	env.exec("lab-1", func(ctx *contractapi.TransactionContext) {
		require.NoError(t, env.cc.ReceiveLabSample(ctx, sampleID, mustJSON(t, map[string]interface{}{
			"notes":  "Seal intact, 1.5 kg confirmed",
			"photos": []string{"ipfs://receipt-1"},
		})))
	})

	env.exec("lab-1", func(ctx *contractapi.TransactionContext) {
		sample, err := env.cc.GetLabSample(ctx, sampleID)
		require.NoError(t, err)
		require.Equal(t, model.SampleTesting, sample.Status)
		require.Equal(t, "Seal intact, 1.5 kg confirmed", sample.Notes)
		require.Len(t, sample.ReceiptPhotos, 1)
	})

	// A claimed sample cannot be claimed again.
	env.exec("lab-1", func(ctx *contractapi.TransactionContext) {
		require.Error(t, env.cc.ReceiveLabSample(ctx, sampleID, ""))
	})
}

func TestSubmitTestResultsPassIssuesCertificate(t *testing.T) {
	env := newTestEnv(t)
	registerSupplyChain(env)

	lotID, sampleID := dispatchSample(env, "Ashwagandha", 90)

	var certificate *model.Certificate
	env.exec("lab-1", func(ctx *contractapi.TransactionContext) {
		var err error
		certificate, err = env.cc.SubmitTestResults(ctx, sampleID, mustJSON(t, map[string]interface{}{
			"moisture":          9.8,
			"dnaAuthentication": true,
			"overallResult":     "pass",
			"testedBy":          "Dr. Iyer",
		}))
		require.NoError(t, err)
	})

	require.NotNil(t, certificate)
	require.True(t, strings.HasPrefix(certificate.ID, "CERT-"))
	require.True(t, strings.HasPrefix(certificate.QRCode, "QR-"))
	require.Equal(t, sampleID, certificate.SampleID)
	require.Equal(t, lotID, certificate.ProcessingLotID)
	require.Equal(t, model.CertificateActive, certificate.Status)
	require.Equal(t, certificate.IssuedDate.AddDate(0, 0, 365), certificate.ValidUntil)

	env.exec("lab-1", func(ctx *contractapi.TransactionContext) {
		sample, err := env.cc.GetLabSample(ctx, sampleID)
		require.NoError(t, err)
		require.Equal(t, model.SampleCompleted, sample.Status)
		require.Equal(t, certificate.ID, sample.CertificateID)
		require.NotNil(t, sample.TestResults)
		require.Equal(t, "Dr. Iyer", sample.TestResults.TestedBy)

		lot, err := env.cc.GetProcessingLot(ctx, lotID)
		require.NoError(t, err)
		require.Equal(t, model.LotApproved, lot.Status)
		require.Equal(t, model.QualityPremium, lot.Grade)
	})

	// The QR code resolves straight back to the certificate.
	env.exec("lab-1", func(ctx *contractapi.TransactionContext) {
		found, err := env.cc.GetCertificateByQRCode(ctx, certificate.QRCode)
		require.NoError(t, err)
		require.Equal(t, certificate.ID, found.ID)
	})
}

func TestSubmitTestResultsFailRejectsLot(t *testing.T) {
	env := newTestEnv(t)
	registerSupplyChain(env)

	lotID, sampleID := dispatchSample(env, "Brahmi", 80)

	env.exec("lab-1", func(ctx *contractapi.TransactionContext) {
		certificate, err := env.cc.SubmitTestResults(ctx, sampleID, mustJSON(t, map[string]interface{}{
			"moisture":          14.2,
			"dnaAuthentication": false,
			"overallResult":     "fail",
			"pesticides":        map[string]interface{}{"detected": true},
		}))
		require.NoError(t, err)
		require.Nil(t, certificate, "failed tests issue no certificate")
	})

	env.exec("lab-1", func(ctx *contractapi.TransactionContext) {
		sample, err := env.cc.GetLabSample(ctx, sampleID)
		require.NoError(t, err)
		require.Equal(t, model.SampleCompleted, sample.Status)
		require.Empty(t, sample.CertificateID)

		lot, err := env.cc.GetProcessingLot(ctx, lotID)
		require.NoError(t, err)
		require.Equal(t, model.LotRejected, lot.Status)
		require.Equal(t, model.QualityLow, lot.Grade)
	})

	env.exec("lab-1", func(ctx *contractapi.TransactionContext) {
		certificates, err := env.cc.GetAllCertificates(ctx)
		require.NoError(t, err)
		require.Empty(t, certificates)
	})
}

func TestSubmitTestResultsGuards(t *testing.T) {
	env := newTestEnv(t)
	registerSupplyChain(env)
	env.registerActor("lab-2", "laboratory")

	_, sampleID := dispatchSample(env, "Tulsi", 70)

	env.exec("lab-2", func(ctx *contractapi.TransactionContext) {
		_, err := env.cc.SubmitTestResults(ctx, sampleID, mustJSON(t, map[string]interface{}{
			"moisture": 10.0, "overallResult": "pass",
		}))
		require.Error(t, err, "only the designated lab may submit")
	})

	env.exec("lab-1", func(ctx *contractapi.TransactionContext) {
		_, err := env.cc.SubmitTestResults(ctx, sampleID, mustJSON(t, map[string]interface{}{
			"moisture": 110.0, "overallResult": "pass",
		}))
		require.Error(t, err, "moisture out of range")

		_, err = env.cc.SubmitTestResults(ctx, sampleID, mustJSON(t, map[string]interface{}{
			"moisture": 10.0, "overallResult": "inconclusive",
		}))
		require.Error(t, err, "overallResult must be pass or fail")
	})

	env.exec("lab-1", func(ctx *contractapi.TransactionContext) {
		_, err := env.cc.SubmitTestResults(ctx, sampleID, mustJSON(t, map[string]interface{}{
			"moisture": 10.0, "overallResult": "fail",
		}))
		require.NoError(t, err)
	})

	// Results are final once submitted.
	env.exec("lab-1", func(ctx *contractapi.TransactionContext) {
		_, err := env.cc.SubmitTestResults(ctx, sampleID, mustJSON(t, map[string]interface{}{
			"moisture": 9.0, "overallResult": "pass",
		}))
		require.Error(t, err)
	})
}
