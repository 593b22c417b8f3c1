package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
)

// PartyRole covers every account type, including the two that never hold
// custody (admin, public).
type PartyRole string

const (
	PartyRoleAdmin        PartyRole = "admin"
	PartyRoleManufacturer PartyRole = "manufacturer"
	PartyRoleDistributor  PartyRole = "distributor"
	PartyRoleWholesaler   PartyRole = "wholesaler"
	PartyRoleRetailer     PartyRole = "retailer"
	PartyRolePharmacy     PartyRole = "pharmacy"
	PartyRolePublic       PartyRole = "public"
)

func (r PartyRole) Valid() bool {
	switch r {
	case PartyRoleAdmin, PartyRoleManufacturer, PartyRoleDistributor,
		PartyRoleWholesaler, PartyRoleRetailer, PartyRolePharmacy, PartyRolePublic:
		return true
	}
	return false
}

// HolderRole identifies who physically holds a drug unit.
type HolderRole string

const (
	HolderRoleManufacturer HolderRole = "manufacturer"
	HolderRoleDistributor  HolderRole = "distributor"
	HolderRoleWholesaler   HolderRole = "wholesaler"
	HolderRoleRetailer     HolderRole = "retailer"
	HolderRolePharmacy     HolderRole = "pharmacy"
	HolderRoleConsumer     HolderRole = "consumer"
	HolderRoleInTransit    HolderRole = "in-transit"
)

// CanonicalChain is the fixed custody order. MissingLinks and transfer
// adjacency checks both derive from it.
var CanonicalChain = []HolderRole{
	HolderRoleManufacturer,
	HolderRoleDistributor,
	HolderRoleWholesaler,
	HolderRoleRetailer,
	HolderRolePharmacy,
}

// ChainIndex returns the position of r in the canonical chain, or -1 for
// roles outside it (consumer, in-transit).
func (r HolderRole) ChainIndex() int {
	for i, role := range CanonicalChain {
		if role == r {
			return i
		}
	}
	return -1
}

// NextInChain reports the role that may legally receive custody from r.
func (r HolderRole) NextInChain() (HolderRole, bool) {
	i := r.ChainIndex()
	if i < 0 || i+1 >= len(CanonicalChain) {
		return "", false
	}
	return CanonicalChain[i+1], true
}

func (r HolderRole) Valid() bool {
	switch r {
	case HolderRoleManufacturer, HolderRoleDistributor, HolderRoleWholesaler,
		HolderRoleRetailer, HolderRolePharmacy, HolderRoleConsumer, HolderRoleInTransit:
		return true
	}
	return false
}

func (r HolderRole) Value() (driver.Value, error) { return string(r), nil }

func (r *HolderRole) Scan(value interface{}) error {
	s, err := scanEnumString(value)
	if err != nil {
		return err
	}
	*r = HolderRole(s)
	return nil
}

// ApprovalStatus is a party's onboarding state. Only approved non-admin
// parties may participate in custody transfers.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

func (s ApprovalStatus) Value() (driver.Value, error) { return string(s), nil }

func (s *ApprovalStatus) Scan(value interface{}) error {
	str, err := scanEnumString(value)
	if err != nil {
		return err
	}
	*s = ApprovalStatus(str)
	return nil
}

// UnitStatus is a drug unit's stored lifecycle state. "expired" is derived at
// read time and never stored.
type UnitStatus string

const (
	UnitStatusInStock   UnitStatus = "in-stock"
	UnitStatusShipped   UnitStatus = "shipped"
	UnitStatusDelivered UnitStatus = "delivered"
	UnitStatusSold      UnitStatus = "sold"
	UnitStatusRecalled  UnitStatus = "recalled"
	UnitStatusExpired   UnitStatus = "expired"
)

// Terminal reports whether a unit can never change state again.
func (s UnitStatus) Terminal() bool {
	return s == UnitStatusSold || s == UnitStatusRecalled
}

func (s UnitStatus) Value() (driver.Value, error) { return string(s), nil }

func (s *UnitStatus) Scan(value interface{}) error {
	str, err := scanEnumString(value)
	if err != nil {
		return err
	}
	*s = UnitStatus(str)
	return nil
}

// ShipmentStatus transitions monotonically:
// processing -> in-transit -> delivered, or -> cancelled / returned.
type ShipmentStatus string

const (
	ShipmentStatusProcessing ShipmentStatus = "processing"
	ShipmentStatusInTransit  ShipmentStatus = "in-transit"
	ShipmentStatusDelivered  ShipmentStatus = "delivered"
	ShipmentStatusCancelled  ShipmentStatus = "cancelled"
	ShipmentStatusReturned   ShipmentStatus = "returned"
)

func (s ShipmentStatus) Terminal() bool {
	return s == ShipmentStatusDelivered || s == ShipmentStatusCancelled || s == ShipmentStatusReturned
}

func (s ShipmentStatus) Value() (driver.Value, error) { return string(s), nil }

func (s *ShipmentStatus) Scan(value interface{}) error {
	str, err := scanEnumString(value)
	if err != nil {
		return err
	}
	*s = ShipmentStatus(str)
	return nil
}

// ParticipantStatus is the per-endpoint sub-status on a shipment.
type ParticipantStatus string

const (
	ParticipantStatusPending   ParticipantStatus = "pending"
	ParticipantStatusInProcess ParticipantStatus = "in-process"
	ParticipantStatusInTransit ParticipantStatus = "in-transit"
	ParticipantStatusCompleted ParticipantStatus = "completed"
	ParticipantStatusCancelled ParticipantStatus = "cancelled"
)

func (s ParticipantStatus) Value() (driver.Value, error) { return string(s), nil }

func (s *ParticipantStatus) Scan(value interface{}) error {
	str, err := scanEnumString(value)
	if err != nil {
		return err
	}
	*s = ParticipantStatus(str)
	return nil
}

// ShortageSeverity ranks forecasts; lower rank sorts first.
type ShortageSeverity string

const (
	SeverityCritical ShortageSeverity = "critical"
	SeverityHigh     ShortageSeverity = "high"
	SeverityMedium   ShortageSeverity = "medium"
	SeverityLow      ShortageSeverity = "low"
)

func (s ShortageSeverity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	default:
		return 3
	}
}

// DataQuality flags forecasts built on the fallback usage rate.
type DataQuality string

const (
	DataQualityNormal DataQuality = "normal"
	DataQualityLow    DataQuality = "low"
)

func scanEnumString(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", errors.New(fmt.Sprint("unsupported enum column type: ", value))
	}
}
