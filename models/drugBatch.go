package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/pharmtrace_backend/config"
	"bitbucket.org/mmdatafocus/pharmtrace_backend/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// DrugBatch is one manufacturing run. Status is never stored on the batch:
// unit custody history is authoritative and the batch-level view is derived
// at read time (AggregateStatus).
type DrugBatch struct {
	ID              int         `gorm:"primary_key" json:"id"`
	Name            string      `gorm:"size:100;not null;uniqueIndex:idx_name_batch,priority:1" json:"name" binding:"required"`
	BatchNumber     string      `gorm:"size:100;not null;uniqueIndex:idx_name_batch,priority:2" json:"batch_number" binding:"required"`
	BatchBarcode    string      `gorm:"size:64;not null;unique" json:"batch_barcode"`
	ManufacturerId  int         `gorm:"index;not null" json:"manufacturer_id"`
	Manufacturer    *Party      `gorm:"foreignKey:ManufacturerId" json:"manufacturer,omitempty"`
	ManufactureDate time.Time   `gorm:"not null" json:"manufacture_date"`
	ExpiryDate      time.Time   `gorm:"not null" json:"expiry_date"`
	Quantity        int         `gorm:"not null" json:"quantity"`
	Units           []*DrugUnit `gorm:"foreignKey:DrugBatchId" json:"units,omitempty"`
	CreatedAt       time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewDrugBatch struct {
	Name            string    `json:"name" binding:"required"`
	BatchNumber     string    `json:"batch_number" binding:"required"`
	ManufacturerId  int       `json:"manufacturer_id" binding:"required"`
	ManufactureDate time.Time `json:"manufacture_date" binding:"required"`
	ExpiryDate      time.Time `json:"expiry_date" binding:"required"`
	Quantity        int       `json:"quantity" binding:"required"`
	// Optional: caller-supplied identifiers. Fewer unit barcodes than
	// Quantity is padded with generated ones; more is a validation error.
	BatchBarcode string   `json:"batch_barcode"`
	UnitBarcodes []string `json:"unit_barcodes"`
}

func (batch DrugBatch) RemoveInstanceRedis() error {
	return config.RemoveRedisKey(
		"Dashboard:"+fmt.Sprint(batch.ManufacturerId),
	)
}

func (input *NewDrugBatch) validate(ctx context.Context) error {
	if input.Quantity <= 0 {
		return utils.NewValidationError("quantity must be positive, got %d", input.Quantity)
	}
	if !input.ExpiryDate.After(input.ManufactureDate) {
		return utils.NewValidationError("expiry date must be after manufacture date")
	}
	if strings.TrimSpace(input.Name) == "" || strings.TrimSpace(input.BatchNumber) == "" {
		return utils.NewValidationError("name and batch number are required")
	}
	if input.BatchBarcode != "" && !IsValidBarcode(input.BatchBarcode) {
		return utils.NewValidationError("malformed batch barcode %q", input.BatchBarcode)
	}
	if len(input.UnitBarcodes) > input.Quantity {
		return utils.NewValidationError("%d unit barcodes supplied for quantity %d",
			len(input.UnitBarcodes), input.Quantity)
	}
	seen := make(map[string]bool, len(input.UnitBarcodes))
	for _, bc := range input.UnitBarcodes {
		if !IsValidBarcode(bc) {
			return utils.NewValidationError("malformed unit barcode %q", bc)
		}
		if seen[bc] {
			return utils.NewConflictError([]string{bc}, "duplicate unit barcode in request")
		}
		seen[bc] = true
	}
	if _, err := GetCustodyParty(ctx, input.ManufacturerId, HolderRoleManufacturer); err != nil {
		return err
	}
	return nil
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// CreateDrugBatch creates the batch and all of its units in-stock at the
// manufacturer, each with one initial custody entry, in a single
// transaction. Per-table uniqueness and (name, batch number) uniqueness are
// enforced by DB constraints; barcodes crossing the unit/batch namespace
// split are checked explicitly, since no single index spans both tables.
// Either collision surfaces as a ConflictError.
func CreateDrugBatch(ctx context.Context, input *NewDrugBatch) (*DrugBatch, error) {
	db := config.GetDB()
	logger := config.GetLogger()

	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	batchBarcode := input.BatchBarcode
	if batchBarcode == "" {
		batchBarcode = GenerateBatchBarcode(input.Name, input.BatchNumber)
	}

	unitBarcodes, err := resolveUnitBarcodes(batchBarcode, input.UnitBarcodes, input.Quantity)
	if err != nil {
		return nil, err
	}

	manufacturerId := input.ManufacturerId
	now := time.Now().UTC()

	batch := DrugBatch{
		Name:            strings.TrimSpace(input.Name),
		BatchNumber:     strings.TrimSpace(input.BatchNumber),
		BatchBarcode:    batchBarcode,
		ManufacturerId:  manufacturerId,
		ManufactureDate: input.ManufactureDate,
		ExpiryDate:      input.ExpiryDate,
		Quantity:        input.Quantity,
	}
	for _, bc := range unitBarcodes {
		batch.Units = append(batch.Units, &DrugUnit{
			UnitBarcode: bc,
			HolderRole:  HolderRoleManufacturer,
			HolderId:    &manufacturerId,
			Status:      UnitStatusInStock,
		})
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := checkBarcodeNamespaces(tx, ctx, batchBarcode, unitBarcodes); err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Create(&batch).Error; err != nil {
			return err
		}

		entries := make([]CustodyEntry, 0, len(batch.Units))
		for _, unit := range batch.Units {
			entries = append(entries, newCustodyEntry(unit.ID, HolderRoleManufacturer, &manufacturerId, UnitStatusInStock, now))
		}
		if err := tx.WithContext(ctx).Create(&entries).Error; err != nil {
			return err
		}

		payload := map[string]interface{}{
			"name":         batch.Name,
			"batch_number": batch.BatchNumber,
			"quantity":     batch.Quantity,
			"expiry_date":  batch.ExpiryDate,
		}
		return EnqueueNotarization(tx, ctx, batch.BatchBarcode, NotaryEventBatchCreated, batch.ID, "drug_batch", payload)
	})
	if err != nil {
		if isDuplicateKeyErr(err) {
			return nil, utils.NewConflictError(
				[]string{batch.BatchBarcode, batch.Name + "/" + batch.BatchNumber},
				"batch barcode or (name, batch number) already exists")
		}
		config.LogError(logger, "drugBatch.go", "CreateDrugBatch", "create", input.Name, err)
		return nil, err
	}

	if err := batch.RemoveInstanceRedis(); err != nil {
		config.LogError(logger, "drugBatch.go", "CreateDrugBatch", "cache invalidate", batch.ID, err)
	}
	return &batch, nil
}

// resolveUnitBarcodes pads caller-supplied barcodes up to quantity with
// generated ones. Generated barcodes extend the batch barcode with the
// zero-padded sequence number, so collision within one call is impossible.
// A supplied barcode equal to the batch barcode itself is rejected: unit and
// batch identifiers share one namespace, and a unit reusing the batch
// barcode would shadow the batch on resolution.
func resolveUnitBarcodes(batchBarcode string, supplied []string, quantity int) ([]string, error) {
	barcodes := make([]string, 0, quantity)
	used := make(map[string]bool, quantity)
	for _, bc := range supplied {
		if bc == batchBarcode {
			return nil, utils.NewConflictError([]string{bc}, "unit barcode equals the batch barcode")
		}
		barcodes = append(barcodes, bc)
		used[bc] = true
	}
	seq := 1
	for len(barcodes) < quantity {
		bc := composeUnitBarcode(batchBarcode, seq)
		seq++
		if used[bc] {
			continue
		}
		barcodes = append(barcodes, bc)
		used[bc] = true
	}
	return barcodes, nil
}

// checkBarcodeNamespaces rejects identifiers already taken on the other side
// of the unit/batch split: a supplied unit barcode matching an existing
// batch, or a batch barcode matching an existing unit. ResolveBarcode tries
// units first, so such a collision would permanently shadow the batch
// record; the per-table unique indexes cannot catch it.
func checkBarcodeNamespaces(tx *gorm.DB, ctx context.Context, batchBarcode string, unitBarcodes []string) error {
	var clashes []string
	err := tx.WithContext(ctx).Model(&DrugBatch{}).
		Where("batch_barcode IN ?", unitBarcodes).
		Pluck("batch_barcode", &clashes).Error
	if err != nil {
		return err
	}

	var unitSide []string
	err = tx.WithContext(ctx).Model(&DrugUnit{}).
		Where("unit_barcode = ?", batchBarcode).
		Pluck("unit_barcode", &unitSide).Error
	if err != nil {
		return err
	}
	clashes = append(clashes, unitSide...)

	if len(clashes) > 0 {
		return utils.NewConflictError(clashes, "barcode(s) already in use across the unit/batch namespace")
	}
	return nil
}

func GetDrugBatch(ctx context.Context, id int) (*DrugBatch, error) {
	db := config.GetDB()
	var batch DrugBatch
	err := db.WithContext(ctx).Preload("Units").First(&batch, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("batch %d not found", id)
		}
		return nil, err
	}
	return &batch, nil
}

func GetDrugBatchByBarcode(ctx context.Context, barcode string) (*DrugBatch, error) {
	db := config.GetDB()
	var batch DrugBatch
	err := db.WithContext(ctx).
		Preload("Units").
		Preload("Manufacturer").
		Where("batch_barcode = ?", barcode).
		First(&batch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("no batch with barcode %s", barcode)
		}
		return nil, err
	}
	return &batch, nil
}

// AggregateBatchStatus derives the batch-level status from per-unit counts.
// Terminal unit states dominate only when every unit shares them; otherwise
// any unit still circulating keeps the batch in that phase.
func AggregateBatchStatus(counts map[UnitStatus]int64, expiryDate, now time.Time) UnitStatus {
	var total int64
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return UnitStatusInStock
	}
	if counts[UnitStatusRecalled] == total {
		return UnitStatusRecalled
	}
	if counts[UnitStatusSold]+counts[UnitStatusRecalled] == total {
		return UnitStatusSold
	}
	if now.After(expiryDate) {
		return UnitStatusExpired
	}
	if counts[UnitStatusShipped] > 0 {
		return UnitStatusShipped
	}
	return UnitStatusInStock
}

// AggregateStatus requires Units to be preloaded.
func (batch *DrugBatch) AggregateStatus(now time.Time) UnitStatus {
	counts := make(map[UnitStatus]int64, len(batch.Units))
	for _, unit := range batch.Units {
		counts[unit.Status]++
	}
	return AggregateBatchStatus(counts, batch.ExpiryDate, now)
}
