package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/pharmtrace_backend/config"
	"bitbucket.org/mmdatafocus/pharmtrace_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Shipment groups units moving between two adjacent chain parties. It holds
// only references: every unit state change goes through the custody posting
// in drugUnit.go, inside the shipment's transaction.
type Shipment struct {
	ID                int               `gorm:"primary_key" json:"id"`
	TrackingNumber    string            `gorm:"size:64;not null;unique" json:"tracking_number"`
	OriginRole        HolderRole        `gorm:"type:enum('manufacturer','distributor','wholesaler','retailer','pharmacy','consumer','in-transit');not null" json:"origin_role"`
	OriginId          int               `gorm:"index;not null" json:"origin_id"`
	DestinationRole   HolderRole        `gorm:"type:enum('manufacturer','distributor','wholesaler','retailer','pharmacy','consumer','in-transit');not null" json:"destination_role"`
	DestinationId     int               `gorm:"index;not null" json:"destination_id"`
	Status            ShipmentStatus    `gorm:"type:enum('processing','in-transit','delivered','cancelled','returned');not null;default:'processing';index" json:"status"`
	OriginStatus      ParticipantStatus `gorm:"type:enum('pending','in-process','in-transit','completed','cancelled');not null;default:'in-process'" json:"origin_status"`
	DestinationStatus ParticipantStatus `gorm:"type:enum('pending','in-process','in-transit','completed','cancelled');not null;default:'pending'" json:"destination_status"`
	EstimatedDelivery *time.Time        `json:"estimated_delivery"`
	ActualDelivery    *time.Time        `json:"actual_delivery"`
	Units             []ShipmentUnit    `gorm:"foreignKey:ShipmentId" json:"units,omitempty"`
	CreatedAt         time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// ShipmentUnit preserves the requested unit order.
type ShipmentUnit struct {
	ID         int       `gorm:"primary_key" json:"id"`
	ShipmentId int       `gorm:"index;not null" json:"shipment_id"`
	DrugUnitId int       `gorm:"index;not null" json:"drug_unit_id"`
	Position   int       `gorm:"not null" json:"position"`
	Unit       *DrugUnit `gorm:"foreignKey:DrugUnitId" json:"unit,omitempty"`
}

type NewShipment struct {
	UnitIds           []int      `json:"unit_ids" binding:"required"`
	OriginRole        HolderRole `json:"origin_role" binding:"required"`
	OriginId          int        `json:"origin_id" binding:"required"`
	DestinationRole   HolderRole `json:"destination_role" binding:"required"`
	DestinationId     int        `json:"destination_id" binding:"required"`
	EstimatedDelivery *time.Time `json:"estimated_delivery"`
}

func (s *Shipment) unitIds() []int {
	ids := make([]int, 0, len(s.Units))
	for _, su := range s.Units {
		ids = append(ids, su.DrugUnitId)
	}
	return ids
}

func GetShipment(ctx context.Context, id int) (*Shipment, error) {
	db := config.GetDB()
	var shipment Shipment
	err := db.WithContext(ctx).
		Preload("Units", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Preload("Units.Unit").
		First(&shipment, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("shipment %d not found", id)
		}
		return nil, err
	}
	return &shipment, nil
}

// CreateShipment validates that every listed unit is in-stock at the origin,
// marks them all shipped in one conditional posting, and records the
// shipment with a unique tracking number. The units keep their origin holder
// while in motion; only the status changes.
func CreateShipment(ctx context.Context, input *NewShipment) (*Shipment, error) {
	db := config.GetDB()
	logger := config.GetLogger()

	origin, err := NewHolderRef(input.OriginRole, input.OriginId)
	if err != nil {
		return nil, err
	}
	destination, err := NewHolderRef(input.DestinationRole, input.DestinationId)
	if err != nil {
		return nil, err
	}
	if next, ok := origin.Role.NextInChain(); !ok || next != destination.Role {
		return nil, utils.NewValidationError("cannot ship from %s to %s: chain order is %v",
			origin.Role, destination.Role, CanonicalChain)
	}
	if _, err := GetCustodyParty(ctx, origin.PartyId, origin.Role); err != nil {
		return nil, err
	}
	if _, err := GetCustodyParty(ctx, destination.PartyId, destination.Role); err != nil {
		return nil, err
	}

	unitIds := utils.UniqueSlice(input.UnitIds)
	if len(unitIds) == 0 {
		return nil, utils.NewValidationError("no units to ship")
	}

	now := time.Now().UTC()
	originId := origin.PartyId
	shipment := Shipment{
		TrackingNumber:    "SHP-" + uuid.NewString(),
		OriginRole:        origin.Role,
		OriginId:          origin.PartyId,
		DestinationRole:   destination.Role,
		DestinationId:     destination.PartyId,
		Status:            ShipmentStatusProcessing,
		OriginStatus:      ParticipantStatusInProcess,
		DestinationStatus: ParticipantStatusPending,
		EstimatedDelivery: input.EstimatedDelivery,
	}
	for i, id := range unitIds {
		shipment.Units = append(shipment.Units, ShipmentUnit{DrugUnitId: id, Position: i + 1})
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := acquireHolderCustodyLock(tx.WithContext(ctx), origin.Role, origin.PartyId); err != nil {
			return err
		}
		defer releaseHolderCustodyLock(tx.WithContext(ctx), origin.Role, origin.PartyId)

		result := tx.WithContext(ctx).Model(&DrugUnit{}).
			Where("id IN ? AND holder_role = ? AND holder_id = ? AND status = ?",
				unitIds, origin.Role, origin.PartyId, UnitStatusInStock).
			Update("Status", UnitStatusShipped)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != int64(len(unitIds)) {
			return conflictForUnits(tx, ctx, unitIds, origin, UnitStatusInStock)
		}

		entries := make([]CustodyEntry, 0, len(unitIds))
		for _, id := range unitIds {
			entries = append(entries, newCustodyEntry(id, origin.Role, &originId, UnitStatusShipped, now))
		}
		if err := tx.WithContext(ctx).Create(&entries).Error; err != nil {
			return err
		}

		if err := tx.WithContext(ctx).Create(&shipment).Error; err != nil {
			return err
		}

		return enqueueShipmentNotarizations(tx, ctx, &shipment, unitIds, "created", now)
	})
	if err != nil {
		if !utils.IsConflict(err) {
			config.LogError(logger, "shipment.go", "CreateShipment", "create", unitIds, err)
		}
		return nil, err
	}
	return &shipment, nil
}

// MarkShipmentInTransit is the carrier hand-off step. Only the origin party
// may mark it, and only from processing.
func MarkShipmentInTransit(ctx context.Context, shipmentId int) (*Shipment, error) {
	shipment, err := GetShipment(ctx, shipmentId)
	if err != nil {
		return nil, err
	}
	if err := requireContextParty(ctx, shipment.OriginId, "origin"); err != nil {
		return nil, err
	}

	db := config.GetDB()
	result := db.WithContext(ctx).Model(&Shipment{}).
		Where("id = ? AND status = ?", shipmentId, ShipmentStatusProcessing).
		Updates(map[string]interface{}{
			"Status":            ShipmentStatusInTransit,
			"OriginStatus":      ParticipantStatusInTransit,
			"DestinationStatus": ParticipantStatusInTransit,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected != 1 {
		return nil, utils.NewConflictError([]string{shipment.TrackingNumber},
			"shipment %d is %s, not processing", shipmentId, shipment.Status)
	}
	return GetShipment(ctx, shipmentId)
}

// AcceptShipment delivers the shipment: only the destination party may
// accept, from processing or in-transit. Every contained unit moves to the
// destination holder in-stock through one all-or-nothing custody posting.
func AcceptShipment(ctx context.Context, shipmentId int) (*Shipment, error) {
	return settleShipment(ctx, shipmentId, true)
}

// RejectShipment cancels the shipment and rolls the units back to in-stock
// at the origin. The transfer never completed, so no holder-change history
// entry is appended.
func RejectShipment(ctx context.Context, shipmentId int) (*Shipment, error) {
	return settleShipment(ctx, shipmentId, false)
}

func settleShipment(ctx context.Context, shipmentId int, accept bool) (*Shipment, error) {
	db := config.GetDB()
	logger := config.GetLogger()

	shipment, err := GetShipment(ctx, shipmentId)
	if err != nil {
		return nil, err
	}
	if err := requireContextParty(ctx, shipment.DestinationId, "destination"); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	unitIds := shipment.unitIds()
	origin := HolderRef{Role: shipment.OriginRole, PartyId: shipment.OriginId}
	destination := HolderRef{Role: shipment.DestinationRole, PartyId: shipment.DestinationId}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := acquireHolderCustodyLock(tx.WithContext(ctx), origin.Role, origin.PartyId); err != nil {
			return err
		}
		defer releaseHolderCustodyLock(tx.WithContext(ctx), origin.Role, origin.PartyId)

		// Monotonic shipment status: a settled shipment never reopens.
		newStatus := ShipmentStatusCancelled
		participantStatus := ParticipantStatusCancelled
		if accept {
			newStatus = ShipmentStatusDelivered
			participantStatus = ParticipantStatusCompleted
		}
		updates := map[string]interface{}{
			"Status":            newStatus,
			"OriginStatus":      participantStatus,
			"DestinationStatus": participantStatus,
		}
		if accept {
			updates["ActualDelivery"] = &now
		}
		result := tx.WithContext(ctx).Model(&Shipment{}).
			Where("id = ? AND status IN ?", shipmentId,
				[]ShipmentStatus{ShipmentStatusProcessing, ShipmentStatusInTransit}).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return utils.NewConflictError([]string{shipment.TrackingNumber},
				"shipment %d is %s and cannot be settled", shipmentId, shipment.Status)
		}

		if accept {
			return deliverUnits(tx, ctx, unitIds, origin, destination, now)
		}
		return rollbackUnits(tx, ctx, unitIds, origin)
	})
	if err != nil {
		if !utils.IsConflict(err) {
			config.LogError(logger, "shipment.go", "settleShipment", "settle", shipmentId, err)
		}
		return nil, err
	}
	return GetShipment(ctx, shipmentId)
}

// deliverUnits completes the custody transfer for an accepted shipment:
// shipped at origin becomes in-stock at destination, one history entry per
// unit.
func deliverUnits(tx *gorm.DB, ctx context.Context, unitIds []int, origin, destination HolderRef, at time.Time) error {
	result := tx.WithContext(ctx).Model(&DrugUnit{}).
		Where("id IN ? AND holder_role = ? AND holder_id = ? AND status = ?",
			unitIds, origin.Role, origin.PartyId, UnitStatusShipped).
		Updates(map[string]interface{}{
			"HolderRole": destination.Role,
			"HolderId":   destination.PartyId,
			"Status":     UnitStatusInStock,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected != int64(len(unitIds)) {
		return conflictForUnits(tx, ctx, unitIds, origin, UnitStatusShipped)
	}

	destId := destination.PartyId
	entries := make([]CustodyEntry, 0, len(unitIds))
	for _, id := range unitIds {
		entries = append(entries, newCustodyEntry(id, destination.Role, &destId, UnitStatusInStock, at))
	}
	if err := tx.WithContext(ctx).Create(&entries).Error; err != nil {
		return err
	}

	return enqueueTransferNotarizations(tx, ctx, unitIds, origin, destination, at)
}

// rollbackUnits reverts a rejected shipment's units to in-stock at the
// origin. No history entry: the holder never changed.
func rollbackUnits(tx *gorm.DB, ctx context.Context, unitIds []int, origin HolderRef) error {
	result := tx.WithContext(ctx).Model(&DrugUnit{}).
		Where("id IN ? AND holder_role = ? AND holder_id = ? AND status = ?",
			unitIds, origin.Role, origin.PartyId, UnitStatusShipped).
		Update("Status", UnitStatusInStock)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected != int64(len(unitIds)) {
		return conflictForUnits(tx, ctx, unitIds, origin, UnitStatusShipped)
	}
	return nil
}

func enqueueShipmentNotarizations(tx *gorm.DB, ctx context.Context, shipment *Shipment, unitIds []int, event string, at time.Time) error {
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
			"tracking_number": shipment.TrackingNumber,
			"event":           event,
			"unit_ids":        unitIds,
			"recorded_at":     at,
		}
		if err := EnqueueNotarization(tx, ctx, g.BatchBarcode, NotaryEventShipment, shipment.ID, "shipment", payload); err != nil {
			return err
		}
	}
	return nil
}

// requireContextParty checks the authenticated request identity against the
// shipment participant allowed to act.
func requireContextParty(ctx context.Context, partyId int, roleInShipment string) error {
	callerId, ok := utils.GetPartyIdFromContext(ctx)
	if !ok {
		return utils.NewValidationError("request identity is required")
	}
	if isAdmin, _ := utils.GetIsAdminFromContext(ctx); isAdmin {
		return nil
	}
	if callerId != partyId {
		return utils.NewConflictError(nil,
			"only the %s party (%d) may perform this action", roleInShipment, partyId)
	}
	return nil
}
