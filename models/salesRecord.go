package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/pharmtrace_backend/config"
	"bitbucket.org/mmdatafocus/pharmtrace_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SalesRecord is one dispensation event. Append-only: rows are never updated
// or deleted, the shortage predictor reads them as-is.
type SalesRecord struct {
	ID         int             `gorm:"primary_key" json:"id"`
	DrugUnitId int             `gorm:"index;not null" json:"drug_unit_id"`
	PharmacyId int             `gorm:"index;not null" json:"pharmacy_id"`
	Quantity   int             `gorm:"not null;default:1" json:"quantity"`
	Price      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"price"`
	SoldAt     time.Time       `gorm:"index;not null" json:"sold_at"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// RecordSale dispenses one unit at a pharmacy. The unit must be in-stock at
// that pharmacy; sold is terminal. The holder identity stays on the unit for
// audit.
func RecordSale(ctx context.Context, unitBarcode string, pharmacyId int, price decimal.Decimal) (*SalesRecord, error) {
	db := config.GetDB()
	logger := config.GetLogger()

	if !IsValidBarcode(unitBarcode) {
		return nil, utils.NewValidationError("malformed barcode %q", unitBarcode)
	}
	if price.IsNegative() {
		return nil, utils.NewValidationError("price cannot be negative")
	}
	if _, err := GetCustodyParty(ctx, pharmacyId, HolderRolePharmacy); err != nil {
		return nil, err
	}

	var unit DrugUnit
	err := db.WithContext(ctx).Where("unit_barcode = ?", unitBarcode).First(&unit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("no unit with barcode %s", unitBarcode)
		}
		return nil, err
	}

	now := time.Now().UTC()
	record := SalesRecord{
		DrugUnitId: unit.ID,
		PharmacyId: pharmacyId,
		Quantity:   1,
		Price:      price,
		SoldAt:     now,
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		result := tx.WithContext(ctx).Model(&DrugUnit{}).
			Where("id = ? AND holder_role = ? AND holder_id = ? AND status = ?",
				unit.ID, HolderRolePharmacy, pharmacyId, UnitStatusInStock).
			Update("Status", UnitStatusSold)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return utils.NewConflictError([]string{unitBarcode},
				"unit %s is not in-stock at pharmacy %d", unitBarcode, pharmacyId)
		}

		if err := tx.WithContext(ctx).Create(&record).Error; err != nil {
			return err
		}

		entry := newCustodyEntry(unit.ID, HolderRolePharmacy, &pharmacyId, UnitStatusSold, now)
		if err := tx.WithContext(ctx).Create(&entry).Error; err != nil {
			return err
		}

		var batch DrugBatch
		if err := tx.WithContext(ctx).Select("id", "batch_barcode").First(&batch, unit.DrugBatchId).Error; err != nil {
			return err
		}
		payload := map[string]interface{}{
			"unit_barcode": unitBarcode,
			"pharmacy_id":  pharmacyId,
			"price":        price,
			"sold_at":      now,
		}
		return EnqueueNotarization(tx, ctx, batch.BatchBarcode, NotaryEventSale, record.ID, "sales_record", payload)
	})
	if err != nil {
		if !utils.IsConflict(err) {
			config.LogError(logger, "salesRecord.go", "RecordSale", "post sale", unitBarcode, err)
		}
		return nil, err
	}
	return &record, nil
}
