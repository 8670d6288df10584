package anomaly

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Detector flags consumptions that are far above an installation's usual usage
type Detector struct {
	spikeThreshold            decimal.Decimal
	minDataPointsForDetection int
}

// NewDetector creates a new anomaly detector with the specified thresholds
func NewDetector(spikeThreshold float64, minDataPointsForDetection int) *Detector {
	return &Detector{
		spikeThreshold:            decimal.NewFromFloat(spikeThreshold),
		minDataPointsForDetection: minDataPointsForDetection,
	}
}

// DetectSpike checks a consumption against the installation's rolling average.
// When the server-provided average is zero the local history is averaged instead.
// A spike is a warning for the operator, not a rejection.
func (d *Detector) DetectSpike(consumption, average decimal.Decimal, history []decimal.Decimal) (bool, string) {
	if consumption.IsNegative() {
		return true, "negative consumption"
	}

	if !average.IsPositive() {
		// Need enough historical data to compute our own average
		if len(history) < d.minDataPointsForDetection || len(history) == 0 {
			return false, ""
		}
		average = decimal.Sum(history[0], history[1:]...).Div(decimal.NewFromInt(int64(len(history))))
	}

	if average.IsPositive() && consumption.GreaterThan(d.spikeThreshold.Mul(average)) {
		return true, fmt.Sprintf("sudden spike detected: consumption %s exceeds %sx rolling average %s",
			consumption.StringFixed(2), d.spikeThreshold.String(), average.StringFixed(2))
	}

	return false, ""
}
