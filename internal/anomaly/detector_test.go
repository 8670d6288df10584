package anomaly_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/septivank/aqueduct-sync/internal/anomaly"
)

const (
	testSpikeThreshold            = 3.0
	testMinDataPointsForDetection = 3
)

func decimals(values ...int64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.NewFromInt(v)
	}
	return out
}

func TestDetectSpike_NegativeConsumption(t *testing.T) {
	detector := anomaly.NewDetector(testSpikeThreshold, testMinDataPointsForDetection)

	isAnomaly, reason := detector.DetectSpike(decimal.NewFromInt(-5), decimal.NewFromInt(20), nil)

	if !isAnomaly {
		t.Error("Expected anomaly for negative consumption")
	}

	if reason != "negative consumption" {
		t.Errorf("Expected reason 'negative consumption', got '%s'", reason)
	}
}

func TestDetectSpike_AboveInstallationAverage(t *testing.T) {
	detector := anomaly.NewDetector(testSpikeThreshold, testMinDataPointsForDetection)

	isAnomaly, reason := detector.DetectSpike(decimal.NewFromInt(95), decimal.NewFromInt(30), nil)

	if !isAnomaly {
		t.Error("Expected anomaly for sudden spike")
	}

	if reason == "" {
		t.Error("Expected reason for spike anomaly")
	}
}

func TestDetectSpike_NormalConsumption(t *testing.T) {
	detector := anomaly.NewDetector(testSpikeThreshold, testMinDataPointsForDetection)

	isAnomaly, reason := detector.DetectSpike(decimal.NewFromInt(50), decimal.NewFromInt(30), nil)

	if isAnomaly {
		t.Errorf("Expected no anomaly, but got: %s", reason)
	}
}

func TestDetectSpike_FallsBackToHistory(t *testing.T) {
	detector := anomaly.NewDetector(testSpikeThreshold, testMinDataPointsForDetection)

	isAnomaly, _ := detector.DetectSpike(decimal.NewFromInt(350), decimal.Zero, decimals(100, 105, 98, 102, 99))

	if !isAnomaly {
		t.Error("Expected anomaly against historical average")
	}
}

func TestDetectSpike_InsufficientHistory(t *testing.T) {
	detector := anomaly.NewDetector(testSpikeThreshold, testMinDataPointsForDetection)

	isAnomaly, _ := detector.DetectSpike(decimal.NewFromInt(300), decimal.Zero, decimals(100, 105))

	if isAnomaly {
		t.Error("Should not detect spike with insufficient historical data")
	}
}

func TestDetectSpike_ZeroAverage(t *testing.T) {
	detector := anomaly.NewDetector(testSpikeThreshold, testMinDataPointsForDetection)

	isAnomaly, _ := detector.DetectSpike(decimal.NewFromInt(100), decimal.Zero, decimals(0, 0, 0))

	if isAnomaly {
		t.Error("Should not detect spike when historical average is 0")
	}
}
