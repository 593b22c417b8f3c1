package config

import (
	"os"
	"strconv"
	"strings"
)

// NotarizationEnabled gates the best-effort ledger mirror. Custody operations
// never depend on it: when disabled, no outbox rows are written at all.
//
// Set via env:
// - NOTARIZATION_ENABLED=true
func NotarizationEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("NOTARIZATION_ENABLED")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// Shortage predictor tunables. The defaults come straight from the historical
// heuristics; they are env-overridable rather than hard constants.
//
// - PREDICT_DEFAULT_DAILY_USAGE (default 1): assumed units/day when a holder
//   has no sales history in the trailing window.
// - PREDICT_WINDOW_DAYS (default 30): trailing consumption window.
// - PREDICT_LOW_DATA_CONFIDENCE_CAP (default 0.7): confidence ceiling when
//   the forecast fell back to the default usage rate.
// - PREDICT_EXPIRY_WINDOW_DAYS (default 30): "expiring soon" horizon.

func PredictDefaultDailyUsage() float64 {
	return floatFromEnv("PREDICT_DEFAULT_DAILY_USAGE", 1)
}

func PredictWindowDays() int {
	return intFromEnv("PREDICT_WINDOW_DAYS", 30)
}

func PredictLowDataConfidenceCap() float64 {
	return floatFromEnv("PREDICT_LOW_DATA_CONFIDENCE_CAP", 0.7)
}

func PredictExpiryWindowDays() int {
	return intFromEnv("PREDICT_EXPIRY_WINDOW_DAYS", 30)
}

func floatFromEnv(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}
