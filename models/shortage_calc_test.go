package models

import (
	"math"
	"testing"
)

var testForecastParams = ForecastParams{
	DefaultDailyUsage:    1,
	LowDataConfidenceCap: 0.7,
}

func TestComputeForecastNoSalesHistory(t *testing.T) {
	// No trailing-window sales: the default daily usage applies and the
	// forecast is marked low-quality with capped confidence.
	got := ComputeForecast("Paracetamol", 5, DrugUsage{}, 0, 30, testForecastParams)

	if got.AvgDailyUsage != 1 {
		t.Errorf("AvgDailyUsage = %v, want 1 (default)", got.AvgDailyUsage)
	}
	if got.DaysRemaining != 5 {
		t.Errorf("DaysRemaining = %v, want 5", got.DaysRemaining)
	}
	if !got.PredictedShortage {
		t.Error("PredictedShortage = false, want true (5 days < 30 day horizon)")
	}
	if got.Severity != SeverityCritical {
		t.Errorf("Severity = %q, want %q", got.Severity, SeverityCritical)
	}
	if got.DataQuality != DataQualityLow {
		t.Errorf("DataQuality = %q, want %q", got.DataQuality, DataQualityLow)
	}
	if got.Confidence != 0.7 {
		t.Errorf("Confidence = %v, want capped at 0.7", got.Confidence)
	}
}

func TestComputeForecastNormalUsage(t *testing.T) {
	// 60 units sold across 20 distinct days = 3/day; 30 in stock = 10 days.
	got := ComputeForecast("Amoxicillin", 30, DrugUsage{TotalQuantity: 60, DistinctSaleDays: 20}, 2, 30, testForecastParams)

	if got.AvgDailyUsage != 3 {
		t.Errorf("AvgDailyUsage = %v, want 3", got.AvgDailyUsage)
	}
	if got.DaysRemaining != 10 {
		t.Errorf("DaysRemaining = %v, want 10", got.DaysRemaining)
	}
	if got.Severity != SeverityHigh {
		t.Errorf("Severity = %q, want %q", got.Severity, SeverityHigh)
	}
	if got.DataQuality != DataQualityNormal {
		t.Errorf("DataQuality = %q, want %q", got.DataQuality, DataQualityNormal)
	}
	want := 1 - 10.0/30.0
	if math.Abs(got.Confidence-want) > 1e-9 {
		t.Errorf("Confidence = %v, want %v", got.Confidence, want)
	}
	if got.ExpiringSoon != 2 {
		t.Errorf("ExpiringSoon = %d, want 2", got.ExpiringSoon)
	}
}

func TestComputeForecastDivisorFloor(t *testing.T) {
	// A positive quantity with zero recorded sale days still divides by 1.
	got := ComputeForecast("Ibuprofen", 10, DrugUsage{TotalQuantity: 4, DistinctSaleDays: 0}, 0, 30, testForecastParams)

	if got.AvgDailyUsage != 4 {
		t.Errorf("AvgDailyUsage = %v, want 4 (divisor floored at 1)", got.AvgDailyUsage)
	}
}

func TestComputeForecastZeroUsageRate(t *testing.T) {
	params := ForecastParams{DefaultDailyUsage: 0, LowDataConfidenceCap: 0.7}
	got := ComputeForecast("Cetirizine", 100, DrugUsage{}, 0, 30, params)

	if !math.IsInf(got.DaysRemaining, 1) {
		t.Errorf("DaysRemaining = %v, want +Inf when usage rate is zero", got.DaysRemaining)
	}
	if got.PredictedShortage {
		t.Error("PredictedShortage = true, want false with infinite days remaining")
	}
	if got.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0 with infinite days remaining", got.Confidence)
	}
	if got.Severity != SeverityLow {
		t.Errorf("Severity = %q, want %q", got.Severity, SeverityLow)
	}
}

func TestComputeForecastSeverityBands(t *testing.T) {
	// 1/day default usage makes currentStock equal daysRemaining.
	cases := []struct {
		stock int
		want  ShortageSeverity
	}{
		{0, SeverityCritical},
		{6, SeverityCritical},
		{7, SeverityHigh},
		{13, SeverityHigh},
		{14, SeverityMedium},
		{20, SeverityMedium},
		{21, SeverityLow},
		{45, SeverityLow},
	}
	for _, tc := range cases {
		got := ComputeForecast("X", tc.stock, DrugUsage{}, 0, 30, testForecastParams)
		if got.Severity != tc.want {
			t.Errorf("stock %d: Severity = %q, want %q", tc.stock, got.Severity, tc.want)
		}
	}
}

func TestComputeForecastConfidenceBounds(t *testing.T) {
	// Ample stock just inside the horizon: 1 - 29/30 is small but positive.
	low := ComputeForecast("X", 29, DrugUsage{TotalQuantity: 29, DistinctSaleDays: 29}, 0, 30, testForecastParams)
	if low.Confidence <= 0 || low.Confidence >= 0.1 {
		t.Errorf("Confidence = %v, want small positive value", low.Confidence)
	}

	// Near-empty stock with good data: confidence is capped at 0.95.
	high := ComputeForecast("X", 0, DrugUsage{TotalQuantity: 30, DistinctSaleDays: 30}, 0, 30, testForecastParams)
	if high.Confidence != 0.95 {
		t.Errorf("Confidence = %v, want 0.95 cap", high.Confidence)
	}

	// Stock well beyond the horizon: confidence clamps at zero, not negative.
	beyond := ComputeForecast("X", 90, DrugUsage{TotalQuantity: 30, DistinctSaleDays: 30}, 0, 30, testForecastParams)
	if beyond.Confidence != 0 {
		t.Errorf("Confidence = %v, want clamped to 0", beyond.Confidence)
	}
	if beyond.PredictedShortage {
		t.Error("PredictedShortage = true, want false when stock outlasts horizon")
	}
}

func TestSortForecasts(t *testing.T) {
	forecasts := []Forecast{
		{DrugName: "Zinc", Severity: SeverityLow},
		{DrugName: "Amoxicillin", Severity: SeverityCritical},
		{DrugName: "Ibuprofen", Severity: SeverityMedium},
		{DrugName: "Aspirin", Severity: SeverityCritical},
		{DrugName: "Cetirizine", Severity: SeverityHigh},
	}

	SortForecasts(forecasts)

	wantOrder := []string{"Amoxicillin", "Aspirin", "Cetirizine", "Ibuprofen", "Zinc"}
	for i, want := range wantOrder {
		if forecasts[i].DrugName != want {
			t.Fatalf("position %d = %q, want %q (got order %v)", i, forecasts[i].DrugName, want, names(forecasts))
		}
	}
}

func names(forecasts []Forecast) []string {
	out := make([]string, len(forecasts))
	for i, f := range forecasts {
		out[i] = f.DrugName
	}
	return out
}
