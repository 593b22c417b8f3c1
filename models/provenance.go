package models

import (
	"context"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/pharmtrace_backend/config"
	"bitbucket.org/mmdatafocus/pharmtrace_backend/utils"
)

// ProvenanceRecord is the answer to "what is this barcode". Level is "unit"
// or "batch"; a batch-level record represents the whole batch with derived
// aggregate status.
type ProvenanceRecord struct {
	Barcode     string     `json:"barcode"`
	Level       string     `json:"level"` // unit | batch
	Name        string     `json:"name"`
	BatchNumber string     `json:"batch_number"`
	Status      UnitStatus `json:"status"`
	HolderRole  HolderRole `json:"holder_role"`
	HolderId    *int       `json:"holder_id"`
	ExpiryDate  time.Time  `json:"expiry_date"`
	Unit        *DrugUnit  `json:"unit,omitempty"`
	Batch       *DrugBatch `json:"batch,omitempty"`
}

// ChainEntry is one reconstructed custody step.
type ChainEntry struct {
	Role      HolderRole `json:"role"`
	PartyId   *int       `json:"party_id"`
	PartyName string     `json:"party_name,omitempty"`
	Status    UnitStatus `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
}

// ChainTrace carries the reconstructed chain plus how trustworthy it is.
// Synthesized traces are built from current-holder references, not real
// history, and are always flagged.
type ChainTrace struct {
	Entries      []ChainEntry `json:"entries"`
	Synthesized  bool         `json:"synthesized"`
	Confidence   string       `json:"confidence"` // normal | degraded
	MissingLinks []HolderRole `json:"missing_links"`
}

const (
	ChainConfidenceNormal   = "normal"
	ChainConfidenceDegraded = "degraded"
)

// ResolveBarcode tries a unit match first, then a batch match.
func ResolveBarcode(ctx context.Context, barcode string) (*ProvenanceRecord, error) {
	if !IsValidBarcode(barcode) {
		return nil, utils.NewValidationError("malformed barcode %q", barcode)
	}

	now := time.Now().UTC()

	unit, err := GetDrugUnitByBarcode(ctx, barcode)
	if err == nil {
		record := &ProvenanceRecord{
			Barcode:    barcode,
			Level:      "unit",
			Status:     unit.EffectiveStatus(now),
			HolderRole: unit.HolderRole,
			HolderId:   unit.HolderId,
			Unit:       unit,
			Batch:      unit.Batch,
		}
		if unit.Batch != nil {
			record.Name = unit.Batch.Name
			record.BatchNumber = unit.Batch.BatchNumber
			record.ExpiryDate = unit.Batch.ExpiryDate
		}
		return record, nil
	}
	if !utils.IsNotFound(err) {
		return nil, err
	}

	batch, err := GetDrugBatchByBarcode(ctx, barcode)
	if err != nil {
		if utils.IsNotFound(err) {
			return nil, utils.NewNotFoundError("no unit or batch with barcode %s", barcode)
		}
		return nil, err
	}

	holderRole, holderId := BatchHolder(batch.Units, batch.ManufacturerId)
	return &ProvenanceRecord{
		Barcode:     barcode,
		Level:       "batch",
		Name:        batch.Name,
		BatchNumber: batch.BatchNumber,
		Status:      batch.AggregateStatus(now),
		HolderRole:  holderRole,
		HolderId:    holderId,
		ExpiryDate:  batch.ExpiryDate,
		Batch:       batch,
	}, nil
}

// BatchHolder derives the batch-level holder view from the units' current
// holders, the way AggregateBatchStatus derives status from unit counts: the
// role furthest along the canonical chain wins, and a party id is reported
// only when every unit at that role sits with the same party. A batch with
// no units, or with every unit in transit, reads as held by its
// manufacturer.
func BatchHolder(units []*DrugUnit, manufacturerId int) (HolderRole, *int) {
	best := -1
	var role HolderRole
	for _, u := range units {
		if idx := u.HolderRole.ChainIndex(); idx > best {
			best = idx
			role = u.HolderRole
		}
	}
	if best < 0 {
		return HolderRoleManufacturer, &manufacturerId
	}

	var holderId *int
	for _, u := range units {
		if u.HolderRole != role {
			continue
		}
		if u.HolderId == nil {
			return role, nil
		}
		if holderId == nil {
			holderId = u.HolderId
		} else if *holderId != *u.HolderId {
			return role, nil
		}
	}
	return role, holderId
}

// TraceChain reconstructs the custody chain for a resolved record. A unit
// with recorded history yields the real chain; anything else falls back to
// SynthesizeTrace, which is explicitly flagged degraded.
func TraceChain(ctx context.Context, record *ProvenanceRecord) (*ChainTrace, error) {
	if record == nil || record.Batch == nil {
		return nil, utils.NewValidationError("record must come from ResolveBarcode")
	}

	if record.Unit != nil && len(record.Unit.History) > 0 {
		trace := TraceFromHistory(record.Unit.History)
		fillPartyNames(ctx, trace.Entries)
		return trace, nil
	}

	trace := SynthesizeTrace(record.Batch, record.Unit)
	fillPartyNames(ctx, trace.Entries)
	return trace, nil
}

// TraceFromHistory maps real custody entries into a normal-confidence trace.
func TraceFromHistory(history []CustodyEntry) *ChainTrace {
	entries := make([]ChainEntry, 0, len(history))
	present := make(map[HolderRole]bool, len(history))
	for _, h := range history {
		entries = append(entries, ChainEntry{
			Role:      h.HolderRole,
			PartyId:   h.HolderId,
			Status:    h.Status,
			Timestamp: h.RecordedAt,
		})
		present[h.HolderRole] = true
	}
	return &ChainTrace{
		Entries:      entries,
		Synthesized:  false,
		Confidence:   ChainConfidenceNormal,
		MissingLinks: MissingLinks(present),
	}
}

// SynthesizeTrace builds a degraded fallback chain from whichever
// participant references are populated: the batch's manufacturer plus the
// current holders of its units (or the single unit's holder for a unit-level
// record). Every entry is stamped with the batch creation time because the
// real transition times were never recorded.
func SynthesizeTrace(batch *DrugBatch, unit *DrugUnit) *ChainTrace {
	type participant struct {
		role HolderRole
		id   *int
	}

	manufacturerId := batch.ManufacturerId
	participants := []participant{{HolderRoleManufacturer, &manufacturerId}}
	seen := map[string]bool{}

	addHolder := func(role HolderRole, id *int) {
		if role == HolderRoleManufacturer || role == HolderRoleInTransit {
			return
		}
		key := string(role)
		if id != nil {
			key += ":" + strconv.Itoa(*id)
		}
		if seen[key] {
			return
		}
		seen[key] = true
		participants = append(participants, participant{role, id})
	}

	if unit != nil {
		addHolder(unit.HolderRole, unit.HolderId)
	} else {
		for _, u := range batch.Units {
			addHolder(u.HolderRole, u.HolderId)
		}
	}

	entries := make([]ChainEntry, 0, len(participants))
	present := make(map[HolderRole]bool, len(participants))
	for _, p := range participants {
		entries = append(entries, ChainEntry{
			Role:      p.role,
			PartyId:   p.id,
			Status:    UnitStatusInStock,
			Timestamp: batch.CreatedAt,
		})
		present[p.role] = true
	}

	return &ChainTrace{
		Entries:      entries,
		Synthesized:  true,
		Confidence:   ChainConfidenceDegraded,
		MissingLinks: MissingLinks(present),
	}
}

// MissingLinks returns the canonical-chain roles absent from the present
// set, in chain order.
func MissingLinks(present map[HolderRole]bool) []HolderRole {
	missing := make([]HolderRole, 0, len(CanonicalChain))
	for _, role := range CanonicalChain {
		if !present[role] {
			missing = append(missing, role)
		}
	}
	return missing
}

// fillPartyNames resolves holder ids to display names through a short-lived
// redis string cache. Party names never change after registration, so a
// stale entry can only ever repeat the correct name.
func fillPartyNames(ctx context.Context, entries []ChainEntry) {
	names := map[int]string{}
	for i := range entries {
		if entries[i].PartyId == nil {
			continue
		}
		id := *entries[i].PartyId
		name, ok := names[id]
		if !ok {
			name = lookupPartyName(ctx, id)
			names[id] = name
		}
		entries[i].PartyName = name
	}
}

func lookupPartyName(ctx context.Context, id int) string {
	cacheKey := "PartyName:" + strconv.Itoa(id)
	if name, hit, err := config.GetRedisValue(cacheKey); err == nil && hit {
		return name
	}

	party, err := GetParty(ctx, id)
	if err != nil {
		return ""
	}
	if err := config.SetRedisValue(cacheKey, party.Name, 10*time.Minute); err != nil {
		config.LogError(config.GetLogger(), "provenance.go", "lookupPartyName", "cache write", id, err)
	}
	return party.Name
}
