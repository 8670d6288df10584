package timeparser

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire format of capture dates
const DateLayout = "2006-01-02"

// ParseCaptureDate attempts to parse an operator-entered capture date with multiple formats
func ParseCaptureDate(dateStr string) (time.Time, error) {
	formats := []string{
		DateLayout,            // YYYY-MM-DD
		"02/01/2006",          // DD/MM/YYYY
		"02/01/2006 15:04:05", // DD/MM/YYYY HH:mm:ss
		time.RFC3339,          // Standard RFC3339
	}

	dateStr = strings.TrimSpace(dateStr)

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, dateStr)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse capture date '%s': %w", dateStr, lastErr)
}

// NormalizeCaptureDate returns the date as YYYY-MM-DD, defaulting to today when empty
func NormalizeCaptureDate(dateStr string, now time.Time) (string, error) {
	if strings.TrimSpace(dateStr) == "" {
		return now.Format(DateLayout), nil
	}
	t, err := ParseCaptureDate(dateStr)
	if err != nil {
		return "", err
	}
	return t.Format(DateLayout), nil
}

// IsWithinTolerance checks if two instants are at most toleranceMinutes apart
func IsWithinTolerance(a, b time.Time, toleranceMinutes int) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= time.Duration(toleranceMinutes)*time.Minute
}

// IsInFuture reports whether date lies after now by more than toleranceMinutes
func IsInFuture(date, now time.Time, toleranceMinutes int) bool {
	return date.After(now) && !IsWithinTolerance(date, now, toleranceMinutes)
}
