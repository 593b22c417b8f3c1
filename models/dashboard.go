package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/pharmtrace_backend/config"
	"bitbucket.org/mmdatafocus/pharmtrace_backend/utils"
	"github.com/shopspring/decimal"
)

// ManufacturerDashboard aggregates the manufacturer's view of their output:
// production, movement, risk. Cached in redis and invalidated on batch
// creation and recalls.
type ManufacturerDashboard struct {
	ManufacturerId   int                `json:"manufacturer_id"`
	TotalBatches     int64              `json:"total_batches"`
	TotalUnits       int64              `json:"total_units"`
	ActiveShipments  int64              `json:"active_shipments"`
	NearExpiryUnits  int64              `json:"near_expiry_units"`
	RecalledUnits    int64              `json:"recalled_units"`
	SoldUnits        int64              `json:"sold_units"`
	SalesRevenue     decimal.Decimal    `json:"sales_revenue"`
	VolumeByBatch    []BatchVolume      `json:"volume_by_batch"`
	ShipmentsByMonth []MonthlyShipments `json:"shipments_by_month"`
	GeneratedAt      time.Time          `json:"generated_at"`
}

type BatchVolume struct {
	BatchId     int    `json:"batch_id"`
	Name        string `json:"name"`
	BatchNumber string `json:"batch_number"`
	Quantity    int    `json:"quantity"`
	InStock     int    `json:"in_stock"`
}

type MonthlyShipments struct {
	Month string `json:"month"` // 2006-01
	Count int64  `json:"count"`
}

// GetManufacturerDashboard builds (or serves from cache) the stats panel for
// one manufacturer.
func GetManufacturerDashboard(ctx context.Context, manufacturerId int) (*ManufacturerDashboard, error) {
	if _, err := GetCustodyParty(ctx, manufacturerId, HolderRoleManufacturer); err != nil {
		return nil, err
	}

	cacheKey := "Dashboard:" + fmt.Sprint(manufacturerId)
	var cached ManufacturerDashboard
	if found, err := config.GetRedisObject(cacheKey, &cached); err == nil && found {
		return &cached, nil
	}

	db := config.GetDB()
	logger := config.GetLogger()
	now := time.Now().UTC()
	expiryCutoff := now.AddDate(0, 0, config.PredictExpiryWindowDays())

	dashboard := ManufacturerDashboard{
		ManufacturerId: manufacturerId,
		SalesRevenue:   decimal.Zero,
		GeneratedAt:    now,
	}

	if err := db.WithContext(ctx).Model(&DrugBatch{}).
		Where("manufacturer_id = ?", manufacturerId).
		Count(&dashboard.TotalBatches).Error; err != nil {
		return nil, err
	}

	type unitCounts struct {
		Total    int64
		Recalled int64
		Sold     int64
	}
	var units unitCounts
	err := db.WithContext(ctx).Model(&DrugUnit{}).
		Select("COUNT(*) AS total, SUM(drug_units.status = ?) AS recalled, SUM(drug_units.status = ?) AS sold",
			UnitStatusRecalled, UnitStatusSold).
		Joins("JOIN drug_batches ON drug_batches.id = drug_units.drug_batch_id").
		Where("drug_batches.manufacturer_id = ?", manufacturerId).
		Scan(&units).Error
	if err != nil {
		return nil, err
	}
	dashboard.TotalUnits = units.Total
	dashboard.RecalledUnits = units.Recalled
	dashboard.SoldUnits = units.Sold

	err = db.WithContext(ctx).Model(&DrugUnit{}).
		Joins("JOIN drug_batches ON drug_batches.id = drug_units.drug_batch_id").
		Where("drug_batches.manufacturer_id = ? AND drug_batches.expiry_date <= ? AND drug_units.status NOT IN ?",
			manufacturerId, expiryCutoff, []UnitStatus{UnitStatusSold, UnitStatusRecalled}).
		Count(&dashboard.NearExpiryUnits).Error
	if err != nil {
		return nil, err
	}

	err = db.WithContext(ctx).Model(&Shipment{}).
		Where("origin_id = ? AND status IN ?", manufacturerId,
			[]ShipmentStatus{ShipmentStatusProcessing, ShipmentStatusInTransit}).
		Count(&dashboard.ActiveShipments).Error
	if err != nil {
		return nil, err
	}

	var revenue *string
	err = db.WithContext(ctx).Model(&SalesRecord{}).
		Select("CAST(SUM(sales_records.price * sales_records.quantity) AS CHAR)").
		Joins("JOIN drug_units ON drug_units.id = sales_records.drug_unit_id").
		Joins("JOIN drug_batches ON drug_batches.id = drug_units.drug_batch_id").
		Where("drug_batches.manufacturer_id = ?", manufacturerId).
		Scan(&revenue).Error
	if err != nil {
		return nil, err
	}
	if revenue != nil {
		if total, err := decimal.NewFromString(*revenue); err == nil {
			dashboard.SalesRevenue = total
		}
	}

	err = db.WithContext(ctx).Model(&DrugBatch{}).
		Select("drug_batches.id AS batch_id, drug_batches.name, drug_batches.batch_number, drug_batches.quantity, SUM(drug_units.status = ?) AS in_stock",
			UnitStatusInStock).
		Joins("JOIN drug_units ON drug_units.drug_batch_id = drug_batches.id").
		Where("drug_batches.manufacturer_id = ?", manufacturerId).
		Group("drug_batches.id, drug_batches.name, drug_batches.batch_number, drug_batches.quantity").
		Order("drug_batches.created_at DESC").
		Limit(12).
		Scan(&dashboard.VolumeByBatch).Error
	if err != nil {
		return nil, err
	}

	sixMonthsAgo := now.AddDate(0, -6, 0)
	err = db.WithContext(ctx).Model(&Shipment{}).
		Select("DATE_FORMAT(created_at, '%Y-%m') AS month, COUNT(*) AS count").
		Where("origin_id = ? AND created_at >= ?", manufacturerId, sixMonthsAgo).
		Group("month").
		Order("month ASC").
		Scan(&dashboard.ShipmentsByMonth).Error
	if err != nil {
		return nil, err
	}

	if err := config.SetRedisObject(cacheKey, dashboard, utils.GetCacheLifespan()); err != nil {
		config.LogError(logger, "dashboard.go", "GetManufacturerDashboard", "cache set", manufacturerId, err)
	}
	return &dashboard, nil
}
