package models

import (
	"testing"
	"time"
)

func intp(v int) *int { return &v }

func TestMissingLinks(t *testing.T) {
	present := map[HolderRole]bool{
		HolderRoleManufacturer: true,
		HolderRolePharmacy:     true,
	}

	got := MissingLinks(present)

	want := []HolderRole{HolderRoleDistributor, HolderRoleWholesaler, HolderRoleRetailer}
	if len(got) != len(want) {
		t.Fatalf("MissingLinks = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("MissingLinks[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMissingLinksFullChain(t *testing.T) {
	present := map[HolderRole]bool{}
	for _, role := range CanonicalChain {
		present[role] = true
	}
	if got := MissingLinks(present); len(got) != 0 {
		t.Errorf("MissingLinks with full chain = %v, want empty", got)
	}
}

func TestTraceFromHistory(t *testing.T) {
	base := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	history := []CustodyEntry{
		{HolderRole: HolderRoleManufacturer, HolderId: intp(1), Status: UnitStatusInStock, RecordedAt: base},
		{HolderRole: HolderRoleManufacturer, HolderId: intp(1), Status: UnitStatusShipped, RecordedAt: base.Add(24 * time.Hour)},
		{HolderRole: HolderRoleDistributor, HolderId: intp(2), Status: UnitStatusInStock, RecordedAt: base.Add(48 * time.Hour)},
	}

	trace := TraceFromHistory(history)

	if trace.Synthesized {
		t.Error("Synthesized = true for a real-history trace")
	}
	if trace.Confidence != ChainConfidenceNormal {
		t.Errorf("Confidence = %q, want %q", trace.Confidence, ChainConfidenceNormal)
	}
	if len(trace.Entries) != 3 {
		t.Fatalf("len(Entries) = %d, want 3", len(trace.Entries))
	}
	if trace.Entries[2].Role != HolderRoleDistributor || trace.Entries[2].Status != UnitStatusInStock {
		t.Errorf("last entry = %+v, want distributor in-stock", trace.Entries[2])
	}
	if !trace.Entries[1].Timestamp.Equal(base.Add(24 * time.Hour)) {
		t.Errorf("entry timestamps not carried over from history")
	}

	want := []HolderRole{HolderRoleWholesaler, HolderRoleRetailer, HolderRolePharmacy}
	if len(trace.MissingLinks) != len(want) {
		t.Fatalf("MissingLinks = %v, want %v", trace.MissingLinks, want)
	}
	for i := range want {
		if trace.MissingLinks[i] != want[i] {
			t.Errorf("MissingLinks[%d] = %q, want %q", i, trace.MissingLinks[i], want[i])
		}
	}
}

func TestSynthesizeTraceFromBatch(t *testing.T) {
	created := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	batch := &DrugBatch{
		ID:             7,
		Name:           "Paracetamol",
		ManufacturerId: 1,
		CreatedAt:      created,
		Units: []*DrugUnit{
			{HolderRole: HolderRolePharmacy, HolderId: intp(9)},
			{HolderRole: HolderRolePharmacy, HolderId: intp(9)}, // duplicate holder, deduped
			{HolderRole: HolderRoleRetailer, HolderId: intp(5)},
			{HolderRole: HolderRoleInTransit, HolderId: nil}, // never synthesized
		},
	}

	trace := SynthesizeTrace(batch, nil)

	if !trace.Synthesized {
		t.Error("Synthesized = false for a fallback trace")
	}
	if trace.Confidence != ChainConfidenceDegraded {
		t.Errorf("Confidence = %q, want %q", trace.Confidence, ChainConfidenceDegraded)
	}
	if len(trace.Entries) != 3 {
		t.Fatalf("len(Entries) = %d, want 3 (manufacturer + 2 distinct holders), got %+v", len(trace.Entries), trace.Entries)
	}
	if trace.Entries[0].Role != HolderRoleManufacturer || trace.Entries[0].PartyId == nil || *trace.Entries[0].PartyId != 1 {
		t.Errorf("first entry = %+v, want manufacturer party 1", trace.Entries[0])
	}
	for i, entry := range trace.Entries {
		if !entry.Timestamp.Equal(created) {
			t.Errorf("entry %d timestamp = %v, want batch creation time %v", i, entry.Timestamp, created)
		}
	}

	want := []HolderRole{HolderRoleDistributor, HolderRoleWholesaler}
	if len(trace.MissingLinks) != len(want) {
		t.Fatalf("MissingLinks = %v, want %v", trace.MissingLinks, want)
	}
	for i := range want {
		if trace.MissingLinks[i] != want[i] {
			t.Errorf("MissingLinks[%d] = %q, want %q", i, trace.MissingLinks[i], want[i])
		}
	}
}

func TestSynthesizeTraceFromUnit(t *testing.T) {
	created := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	batch := &DrugBatch{ManufacturerId: 1, CreatedAt: created}
	unit := &DrugUnit{HolderRole: HolderRoleWholesaler, HolderId: intp(3)}

	trace := SynthesizeTrace(batch, unit)

	if len(trace.Entries) != 2 {
		t.Fatalf("len(Entries) = %d, want 2 (manufacturer + unit holder)", len(trace.Entries))
	}
	if trace.Entries[1].Role != HolderRoleWholesaler {
		t.Errorf("second entry role = %q, want wholesaler", trace.Entries[1].Role)
	}
}

func TestSynthesizeTraceManufacturerHeldUnit(t *testing.T) {
	// A unit still at the manufacturer adds no second participant.
	batch := &DrugBatch{ManufacturerId: 1, CreatedAt: time.Now()}
	unit := &DrugUnit{HolderRole: HolderRoleManufacturer, HolderId: intp(1)}

	trace := SynthesizeTrace(batch, unit)

	if len(trace.Entries) != 1 {
		t.Fatalf("len(Entries) = %d, want 1", len(trace.Entries))
	}
}

func TestBatchHolder(t *testing.T) {
	mfr := 7

	role, id := BatchHolder(nil, mfr)
	if role != HolderRoleManufacturer || id == nil || *id != mfr {
		t.Errorf("BatchHolder(no units) = %s/%v, want manufacturer/%d", role, id, mfr)
	}

	// The role furthest along the chain wins; in-transit units are ignored.
	units := []*DrugUnit{
		{HolderRole: HolderRoleDistributor, HolderId: intp(2)},
		{HolderRole: HolderRolePharmacy, HolderId: intp(5)},
		{HolderRole: HolderRoleInTransit},
	}
	role, id = BatchHolder(units, mfr)
	if role != HolderRolePharmacy || id == nil || *id != 5 {
		t.Errorf("BatchHolder(mixed) = %s/%v, want pharmacy/5", role, id)
	}

	// Units split across parties at the leading role report no single id.
	units = []*DrugUnit{
		{HolderRole: HolderRolePharmacy, HolderId: intp(5)},
		{HolderRole: HolderRolePharmacy, HolderId: intp(6)},
	}
	role, id = BatchHolder(units, mfr)
	if role != HolderRolePharmacy || id != nil {
		t.Errorf("BatchHolder(split pharmacies) = %s/%v, want pharmacy/nil", role, id)
	}

	units = []*DrugUnit{{HolderRole: HolderRoleInTransit}}
	role, id = BatchHolder(units, mfr)
	if role != HolderRoleManufacturer || id == nil || *id != mfr {
		t.Errorf("BatchHolder(all in transit) = %s/%v, want manufacturer/%d", role, id, mfr)
	}
}
