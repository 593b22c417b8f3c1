package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/pharmtrace_backend/config"
	"bitbucket.org/mmdatafocus/pharmtrace_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DrugUnit is one physical item within a batch. Its holder/status fields are
// a cache of the latest custody entry; both are always written in the same
// transaction so they never disagree.
type DrugUnit struct {
	ID          int            `gorm:"primary_key" json:"id"`
	UnitBarcode string         `gorm:"size:64;not null;unique" json:"unit_barcode"`
	DrugBatchId int            `gorm:"index;not null" json:"drug_batch_id"`
	Batch       *DrugBatch     `gorm:"foreignKey:DrugBatchId" json:"batch,omitempty"`
	HolderRole  HolderRole     `gorm:"type:enum('manufacturer','distributor','wholesaler','retailer','pharmacy','consumer','in-transit');not null" json:"holder_role"`
	HolderId    *int           `gorm:"index" json:"holder_id"` // nullable only while in-transit
	Status      UnitStatus     `gorm:"type:enum('in-stock','shipped','delivered','sold','recalled','expired');not null;default:'in-stock';index" json:"status"`
	History     []CustodyEntry `gorm:"foreignKey:DrugUnitId" json:"history,omitempty"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// CustodyEntry is one append-only row of a unit's custody history.
type CustodyEntry struct {
	ID         int        `gorm:"primary_key" json:"id"`
	DrugUnitId int        `gorm:"index;not null" json:"drug_unit_id"`
	HolderRole HolderRole `gorm:"type:enum('manufacturer','distributor','wholesaler','retailer','pharmacy','consumer','in-transit');not null" json:"holder_role"`
	HolderId   *int       `json:"holder_id"`
	Status     UnitStatus `gorm:"type:enum('in-stock','shipped','delivered','sold','recalled','expired');not null" json:"status"`
	RecordedAt time.Time  `gorm:"index;not null" json:"recorded_at"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// HolderRef names a custody endpoint: a chain role plus the party acting in
// it. Construct through NewHolderRef so invalid roles never enter the ledger.
type HolderRef struct {
	Role    HolderRole `json:"role"`
	PartyId int        `json:"party_id"`
}

func NewHolderRef(role HolderRole, partyId int) (HolderRef, error) {
	if !role.Valid() || role == HolderRoleInTransit {
		return HolderRef{}, utils.NewValidationError("invalid holder role %q", role)
	}
	if partyId <= 0 {
		return HolderRef{}, utils.NewValidationError("holder party id is required")
	}
	return HolderRef{Role: role, PartyId: partyId}, nil
}

func (h HolderRef) String() string {
	return fmt.Sprintf("%s:%d", h.Role, h.PartyId)
}

// EffectiveUnitStatus derives the read-time status: a stored terminal status
// wins, otherwise a past expiry date reads as expired. Never persisted.
func EffectiveUnitStatus(stored UnitStatus, expiryDate, now time.Time) UnitStatus {
	if stored.Terminal() {
		return stored
	}
	if now.After(expiryDate) {
		return UnitStatusExpired
	}
	return stored
}

// EffectiveStatus requires Batch to be preloaded.
func (u *DrugUnit) EffectiveStatus(now time.Time) UnitStatus {
	if u.Batch == nil {
		return u.Status
	}
	return EffectiveUnitStatus(u.Status, u.Batch.ExpiryDate, now)
}

func newCustodyEntry(unitId int, role HolderRole, holderId *int, status UnitStatus, at time.Time) CustodyEntry {
	return CustodyEntry{
		DrugUnitId: unitId,
		HolderRole: role,
		HolderId:   holderId,
		Status:     status,
		RecordedAt: at,
	}
}

func GetDrugUnitByBarcode(ctx context.Context, barcode string) (*DrugUnit, error) {
	db := config.GetDB()
	var unit DrugUnit
	err := db.WithContext(ctx).
		Preload("Batch").
		Preload("History", func(db *gorm.DB) *gorm.DB {
			return db.Order("recorded_at ASC, id ASC")
		}).
		Where("unit_barcode = ?", barcode).
		First(&unit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("no unit with barcode %s", barcode)
		}
		return nil, err
	}
	return &unit, nil
}

// TransferUnits moves every listed unit from one holder to the next in a
// single all-or-nothing posting. The units must all be in-stock at the source
// holder; the destination must be the next role in the canonical chain. On a
// failed precondition the offending unit barcodes are reported so the caller
// can retry against current state.
func TransferUnits(ctx context.Context, unitIds []int, from, to HolderRef) error {
	db := config.GetDB()
	logger := config.GetLogger()

	unitIds = utils.UniqueSlice(unitIds)
	if len(unitIds) == 0 {
		return utils.NewValidationError("no units to transfer")
	}
	if next, ok := from.Role.NextInChain(); !ok || next != to.Role {
		return utils.NewValidationError("cannot transfer from %s to %s: chain order is %v",
			from.Role, to.Role, CanonicalChain)
	}
	if _, err := GetCustodyParty(ctx, from.PartyId, from.Role); err != nil {
		return err
	}
	if _, err := GetCustodyParty(ctx, to.PartyId, to.Role); err != nil {
		return err
	}

	// Best-effort cross-instance guard; correctness rests on the MySQL
	// advisory lock plus the conditional update below.
	redisLock := utils.ObtainRedisLock(ctx, "custody:"+from.String(), 30*time.Second)
	defer utils.ReleaseRedisLock(ctx, redisLock)

	err := db.Transaction(func(tx *gorm.DB) error {
		// Enforce strict per-holder ordering across instances.
		if err := acquireHolderCustodyLock(tx.WithContext(ctx), from.Role, from.PartyId); err != nil {
			return err
		}
		defer releaseHolderCustodyLock(tx.WithContext(ctx), from.Role, from.PartyId)

		return postTransfer(tx, ctx, unitIds, from, to, time.Now().UTC())
	})
	if err != nil {
		config.LogError(logger, "drugUnit.go", "TransferUnits", "post transfer", unitIds, err)
	}
	return err
}

// Convenience variants for the common hand-offs. Same rules as
// TransferUnits, the roles are just fixed.

func TransferDistributorToWholesaler(ctx context.Context, unitIds []int, distributorId, wholesalerId int) error {
	return transferBetween(ctx, unitIds, HolderRoleDistributor, distributorId, HolderRoleWholesaler, wholesalerId)
}

func TransferWholesalerToRetailer(ctx context.Context, unitIds []int, wholesalerId, retailerId int) error {
	return transferBetween(ctx, unitIds, HolderRoleWholesaler, wholesalerId, HolderRoleRetailer, retailerId)
}

func TransferRetailerToPharmacy(ctx context.Context, unitIds []int, retailerId, pharmacyId int) error {
	return transferBetween(ctx, unitIds, HolderRoleRetailer, retailerId, HolderRolePharmacy, pharmacyId)
}

func transferBetween(ctx context.Context, unitIds []int, fromRole HolderRole, fromId int, toRole HolderRole, toId int) error {
	from, err := NewHolderRef(fromRole, fromId)
	if err != nil {
		return err
	}
	to, err := NewHolderRef(toRole, toId)
	if err != nil {
		return err
	}
	return TransferUnits(ctx, unitIds, from, to)
}

// postTransfer does the conditional bulk move inside the caller's
// transaction. Shipment accept reuses it so both paths share one set of
// custody rules.
func postTransfer(tx *gorm.DB, ctx context.Context, unitIds []int, from, to HolderRef, at time.Time) error {
	result := tx.WithContext(ctx).Model(&DrugUnit{}).
		Where("id IN ? AND holder_role = ? AND holder_id = ? AND status = ?",
			unitIds, from.Role, from.PartyId, UnitStatusInStock).
		Updates(map[string]interface{}{
			"HolderRole": to.Role,
			"HolderId":   to.PartyId,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected != int64(len(unitIds)) {
		return conflictForUnits(tx, ctx, unitIds, from, UnitStatusInStock)
	}

	toId := to.PartyId
	entries := make([]CustodyEntry, 0, len(unitIds))
	for _, id := range unitIds {
		entries = append(entries, newCustodyEntry(id, to.Role, &toId, UnitStatusInStock, at))
	}
	if err := tx.WithContext(ctx).Create(&entries).Error; err != nil {
		return err
	}

	return enqueueTransferNotarizations(tx, ctx, unitIds, from, to, at)
}

// conflictForUnits reports which of the requested units failed the
// holder/status predicate, by barcode.
func conflictForUnits(tx *gorm.DB, ctx context.Context, unitIds []int, from HolderRef, wantStatus UnitStatus) error {
	var offenders []string
	err := tx.WithContext(ctx).Model(&DrugUnit{}).
		Where("id IN ? AND NOT (holder_role = ? AND holder_id = ? AND status = ?)",
			unitIds, from.Role, from.PartyId, wantStatus).
		Pluck("unit_barcode", &offenders).Error
	if err != nil {
		return err
	}
	if len(offenders) == 0 {
		// Ids that matched no row at all.
		var found []int
		if err := tx.WithContext(ctx).Model(&DrugUnit{}).
			Where("id IN ?", unitIds).Pluck("id", &found).Error; err != nil {
			return err
		}
		known := make(map[int]bool, len(found))
		for _, id := range found {
			known[id] = true
		}
		for _, id := range unitIds {
			if !known[id] {
				offenders = append(offenders, fmt.Sprintf("unit-id:%d", id))
			}
		}
	}
	return utils.NewConflictError(offenders,
		"%d unit(s) are not %s at %s", len(offenders), wantStatus, from.String())
}

// enqueueTransferNotarizations writes one outbox row per batch touched by the
// posting, inside the same transaction.
func enqueueTransferNotarizations(tx *gorm.DB, ctx context.Context, unitIds []int, from, to HolderRef, at time.Time) error {
	if !config.NotarizationEnabled() {
		return nil
	}

	type batchGroup struct {
		DrugBatchId  int
		BatchBarcode string
	}
	var groups []batchGroup
	err := tx.WithContext(ctx).Model(&DrugUnit{}).
		Select("drug_units.drug_batch_id, drug_batches.batch_barcode").
		Joins("JOIN drug_batches ON drug_batches.id = drug_units.drug_batch_id").
		Where("drug_units.id IN ?", unitIds).
		Group("drug_units.drug_batch_id, drug_batches.batch_barcode").
		Scan(&groups).Error
	if err != nil {
		return err
	}

	for _, g := range groups {
		payload := map[string]interface{}{
			"unit_ids":    unitIds,
			"from":        from.String(),
			"to":          to.String(),
			"recorded_at": at,
		}
		if err := EnqueueNotarization(tx, ctx, g.BatchBarcode, NotaryEventTransfer, g.DrugBatchId, "drug_batch", payload); err != nil {
			return err
		}
	}
	return nil
}

// RecallUnit marks one unit recalled. Idempotent: an already-recalled unit is
// a no-op. A sold unit is terminal and stays sold. Returns the number of
// units changed (0 or 1).
func RecallUnit(ctx context.Context, unitId int) (int64, error) {
	db := config.GetDB()
	var unit DrugUnit
	err := db.WithContext(ctx).Select("id", "drug_batch_id").First(&unit, unitId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, utils.NewNotFoundError("unit %d not found", unitId)
		}
		return 0, err
	}
	return recallUnits(ctx, unit.DrugBatchId, "id = ?", unitId)
}

// RecallBatch cascades a recall to every non-terminal unit of the batch.
func RecallBatch(ctx context.Context, batchId int) (int64, error) {
	if err := utils.ValidateResourceId[DrugBatch](ctx, batchId); err != nil {
		return 0, utils.NewNotFoundError("batch %d not found", batchId)
	}

	count, err := recallUnits(ctx, batchId, "drug_batch_id = ?", batchId)
	if err != nil {
		return 0, err
	}

	if count > 0 {
		if batch, err := GetDrugBatch(ctx, batchId); err == nil {
			_ = batch.RemoveInstanceRedis()
		}
	}
	return count, nil
}

func recallUnits(ctx context.Context, batchId int, cond string, value interface{}) (int64, error) {
	db := config.GetDB()
	logger := config.GetLogger()
	now := time.Now().UTC()

	var changed int64
	err := db.Transaction(func(tx *gorm.DB) error {
		// Serialize recalls per batch across instances, same as transfers
		// serialize per holder.
		if err := acquireBatchCustodyLock(tx.WithContext(ctx), batchId); err != nil {
			return err
		}
		defer releaseBatchCustodyLock(tx.WithContext(ctx), batchId)

		// Lock the target rows so the recalled set and the history append
		// cover exactly the same units.
		var units []DrugUnit
		err := tx.WithContext(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(cond, value).
			Where("status NOT IN ?", []UnitStatus{UnitStatusSold, UnitStatusRecalled}).
			Find(&units).Error
		if err != nil {
			return err
		}
		if len(units) == 0 {
			return nil
		}

		ids := make([]int, 0, len(units))
		for _, u := range units {
			ids = append(ids, u.ID)
		}

		result := tx.WithContext(ctx).Model(&DrugUnit{}).
			Where("id IN ?", ids).
			Update("Status", UnitStatusRecalled)
		if result.Error != nil {
			return result.Error
		}
		changed = result.RowsAffected

		entries := make([]CustodyEntry, 0, len(units))
		for _, u := range units {
			entries = append(entries, newCustodyEntry(u.ID, u.HolderRole, u.HolderId, UnitStatusRecalled, now))
		}
		if err := tx.WithContext(ctx).Create(&entries).Error; err != nil {
			return err
		}

		return enqueueRecallNotarizations(tx, ctx, ids, now)
	})
	if err != nil {
		config.LogError(logger, "drugUnit.go", "recallUnits", "recall", value, err)
		return 0, err
	}
	return changed, nil
}

func enqueueRecallNotarizations(tx *gorm.DB, ctx context.Context, unitIds []int, at time.Time) error {
	if !config.NotarizationEnabled() {
		return nil
	}

	type batchGroup struct {
		DrugBatchId  int
		BatchBarcode string
	}
	var groups []batchGroup
	err := tx.WithContext(ctx).Model(&DrugUnit{}).
		Select("drug_units.drug_batch_id, drug_batches.batch_barcode").
		Joins("JOIN drug_batches ON drug_batches.id = drug_units.drug_batch_id").
		Where("drug_units.id IN ?", unitIds).
		Group("drug_units.drug_batch_id, drug_batches.batch_barcode").
		Scan(&groups).Error
	if err != nil {
		return err
	}
	for _, g := range groups {
		payload := map[string]interface{}{"unit_ids": unitIds, "recorded_at": at}
		if err := EnqueueNotarization(tx, ctx, g.BatchBarcode, NotaryEventRecall, g.DrugBatchId, "drug_batch", payload); err != nil {
			return err
		}
	}
	return nil
}
