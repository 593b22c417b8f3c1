package models

import (
	"context"
	"math"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/pharmtrace_backend/config"
	"bitbucket.org/mmdatafocus/pharmtrace_backend/utils"
)

// Forecast is the depletion estimate for one drug at one holder.
type Forecast struct {
	DrugName          string           `json:"drug_name"`
	CurrentStock      int              `json:"current_stock"`
	AvgDailyUsage     float64          `json:"avg_daily_usage"`
	DaysRemaining     float64          `json:"days_remaining"` // +Inf when usage is zero
	PredictedShortage bool             `json:"predicted_shortage"`
	Severity          ShortageSeverity `json:"severity"`
	Confidence        float64          `json:"confidence"`
	DataQuality       DataQuality      `json:"data_quality"`
	ExpiringSoon      int              `json:"expiring_soon"`
}

// ForecastParams are the heuristic tunables, sourced from env via config so
// they can be adjusted without a code change.
type ForecastParams struct {
	DefaultDailyUsage    float64
	LowDataConfidenceCap float64
}

func DefaultForecastParams() ForecastParams {
	return ForecastParams{
		DefaultDailyUsage:    config.PredictDefaultDailyUsage(),
		LowDataConfidenceCap: config.PredictLowDataConfidenceCap(),
	}
}

// DrugUsage is the trailing-window consumption input for one drug: total
// quantity sold and the number of distinct days with at least one sale.
type DrugUsage struct {
	TotalQuantity    int
	DistinctSaleDays int
}

// ComputeForecast is the pure forecast math over already-loaded inputs.
//
// Average daily usage is total trailing-window quantity over distinct sale
// days (divisor floored at 1). With no sales at all the conservative default
// applies and the result is marked low-quality, which also caps confidence.
func ComputeForecast(drugName string, currentStock int, usage DrugUsage, expiringSoon, horizonDays int, params ForecastParams) Forecast {
	quality := DataQualityNormal
	var avgDaily float64
	if usage.TotalQuantity == 0 {
		avgDaily = params.DefaultDailyUsage
		quality = DataQualityLow
	} else {
		days := usage.DistinctSaleDays
		if days < 1 {
			days = 1
		}
		avgDaily = float64(usage.TotalQuantity) / float64(days)
	}

	daysRemaining := math.Inf(1)
	if avgDaily > 0 {
		daysRemaining = float64(currentStock) / avgDaily
	}

	predicted := daysRemaining < float64(horizonDays)

	severity := SeverityLow
	switch {
	case daysRemaining < 7:
		severity = SeverityCritical
	case daysRemaining < 14:
		severity = SeverityHigh
	case daysRemaining < 21:
		severity = SeverityMedium
	}

	confidence := 0.0
	if horizonDays > 0 && !math.IsInf(daysRemaining, 1) {
		confidence = math.Min(0.95, 1-daysRemaining/float64(horizonDays))
		if confidence < 0 {
			confidence = 0
		}
	}
	if quality == DataQualityLow && confidence > params.LowDataConfidenceCap {
		confidence = params.LowDataConfidenceCap
	}

	return Forecast{
		DrugName:          drugName,
		CurrentStock:      currentStock,
		AvgDailyUsage:     avgDaily,
		DaysRemaining:     daysRemaining,
		PredictedShortage: predicted,
		Severity:          severity,
		Confidence:        confidence,
		DataQuality:       quality,
		ExpiringSoon:      expiringSoon,
	}
}

// SortForecasts orders by ascending severity rank (Critical first), name as
// the tie break.
func SortForecasts(forecasts []Forecast) {
	sort.SliceStable(forecasts, func(i, j int) bool {
		if forecasts[i].Severity.Rank() != forecasts[j].Severity.Rank() {
			return forecasts[i].Severity.Rank() < forecasts[j].Severity.Rank()
		}
		return forecasts[i].DrugName < forecasts[j].DrugName
	})
}

// PredictShortages forecasts depletion for every drug currently held
// in-stock by the party.
func PredictShortages(ctx context.Context, holderRole HolderRole, holderId, horizonDays int) ([]Forecast, error) {
	db := config.GetDB()

	if !holderRole.Valid() || holderRole == HolderRoleInTransit {
		return nil, utils.NewValidationError("invalid holder role %q", holderRole)
	}
	if horizonDays <= 0 {
		return nil, utils.NewValidationError("horizon must be positive, got %d days", horizonDays)
	}
	if _, err := GetCustodyParty(ctx, holderId, holderRole); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	windowStart := now.AddDate(0, 0, -config.PredictWindowDays())
	expiryCutoff := now.AddDate(0, 0, config.PredictExpiryWindowDays())

	// Current in-stock counts per drug, with near-expiry split out.
	type stockRow struct {
		Name         string
		Stock        int
		ExpiringSoon int
	}
	var stocks []stockRow
	err := db.WithContext(ctx).Model(&DrugUnit{}).
		Select("drug_batches.name AS name, COUNT(*) AS stock, SUM(drug_batches.expiry_date <= ?) AS expiring_soon", expiryCutoff).
		Joins("JOIN drug_batches ON drug_batches.id = drug_units.drug_batch_id").
		Where("drug_units.holder_role = ? AND drug_units.holder_id = ? AND drug_units.status = ?",
			holderRole, holderId, UnitStatusInStock).
		Group("drug_batches.name").
		Scan(&stocks).Error
	if err != nil {
		return nil, err
	}

	// Trailing-window consumption per drug at this holder.
	type usageRow struct {
		Name             string
		TotalQuantity    int
		DistinctSaleDays int
	}
	var usages []usageRow
	err = db.WithContext(ctx).Model(&SalesRecord{}).
		Select("drug_batches.name AS name, SUM(sales_records.quantity) AS total_quantity, COUNT(DISTINCT DATE(sales_records.sold_at)) AS distinct_sale_days").
		Joins("JOIN drug_units ON drug_units.id = sales_records.drug_unit_id").
		Joins("JOIN drug_batches ON drug_batches.id = drug_units.drug_batch_id").
		Where("sales_records.pharmacy_id = ? AND sales_records.sold_at >= ?", holderId, windowStart).
		Group("drug_batches.name").
		Scan(&usages).Error
	if err != nil {
		return nil, err
	}
	usageByName := make(map[string]DrugUsage, len(usages))
	for _, u := range usages {
		usageByName[u.Name] = DrugUsage{TotalQuantity: u.TotalQuantity, DistinctSaleDays: u.DistinctSaleDays}
	}

	params := DefaultForecastParams()
	forecasts := make([]Forecast, 0, len(stocks))
	for _, s := range stocks {
		forecasts = append(forecasts,
			ComputeForecast(s.Name, s.Stock, usageByName[s.Name], s.ExpiringSoon, horizonDays, params))
	}
	SortForecasts(forecasts)
	return forecasts, nil
}
