package models

import (
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/pharmtrace_backend/utils"
)

func TestIsValidBarcode(t *testing.T) {
	valid := []string{"PAR-B1001-T4F2K", "abc123", "A-B-C", "0"}
	for _, candidate := range valid {
		if !IsValidBarcode(candidate) {
			t.Errorf("IsValidBarcode(%q) = false, want true", candidate)
		}
	}

	invalid := []string{"", "has space", "semi;colon", "uni©ode", "under_score", "PAR B1001"}
	for _, candidate := range invalid {
		if IsValidBarcode(candidate) {
			t.Errorf("IsValidBarcode(%q) = true, want false", candidate)
		}
	}
}

func TestComposeBatchBarcodeShape(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	got := composeBatchBarcode("Paracetamol", "B100-7", at)

	parts := strings.Split(got, "-")
	if len(parts) != 3 {
		t.Fatalf("composeBatchBarcode = %q, want 3 dash-separated segments", got)
	}
	if parts[0] != "PAR" {
		t.Errorf("name segment = %q, want %q", parts[0], "PAR")
	}
	if parts[1] != "B1007" {
		t.Errorf("batch segment = %q, want %q (non-alphanumerics stripped, 5 chars)", parts[1], "B1007")
	}
	if !strings.HasPrefix(parts[2], "T") || len(parts[2]) < 2 {
		t.Errorf("stamp segment = %q, want T-prefixed base36 stamp", parts[2])
	}
	if !IsValidBarcode(got) {
		t.Errorf("generated batch barcode %q fails its own validation", got)
	}
}

func TestComposeBatchBarcodeDeterministic(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	first := composeBatchBarcode("Amoxicillin", "LOT2026A", at)
	second := composeBatchBarcode("Amoxicillin", "LOT2026A", at)
	if first != second {
		t.Errorf("same inputs produced %q and %q", first, second)
	}

	later := composeBatchBarcode("Amoxicillin", "LOT2026A", at.Add(time.Second))
	if later == first {
		t.Errorf("different timestamps produced identical barcode %q", first)
	}
}

func TestComposeBatchBarcodeFallbacks(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	got := composeBatchBarcode("税", "!!!", at)
	if !strings.HasPrefix(got, "DRG-BATCH-T") {
		t.Errorf("composeBatchBarcode with no usable characters = %q, want DRG-BATCH-T prefix", got)
	}
}

func TestComposeUnitBarcode(t *testing.T) {
	batchBarcode := "PAR-B1007-T4F2K"

	if got := composeUnitBarcode(batchBarcode, 1); got != "PAR-B1007-T4F2K-0001" {
		t.Errorf("composeUnitBarcode(seq 1) = %q", got)
	}
	if got := composeUnitBarcode(batchBarcode, 230); got != "PAR-B1007-T4F2K-0230" {
		t.Errorf("composeUnitBarcode(seq 230) = %q", got)
	}

	seen := map[string]bool{}
	for seq := 1; seq <= 50; seq++ {
		code := composeUnitBarcode(batchBarcode, seq)
		if seen[code] {
			t.Fatalf("duplicate unit barcode %q at seq %d", code, seq)
		}
		seen[code] = true
		if !IsValidBarcode(code) {
			t.Errorf("unit barcode %q fails validation", code)
		}
	}
}

func TestResolveUnitBarcodes(t *testing.T) {
	batchBarcode := "PAR-B1007-T4F2K"

	got, err := resolveUnitBarcodes(batchBarcode, []string{"CUSTOM-UNIT-01"}, 3)
	if err != nil {
		t.Fatalf("resolveUnitBarcodes: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("resolveUnitBarcodes returned %d barcodes, want 3", len(got))
	}
	if got[0] != "CUSTOM-UNIT-01" {
		t.Errorf("supplied barcode not kept first: got %q", got[0])
	}
	seen := map[string]bool{}
	for _, bc := range got {
		if bc == batchBarcode {
			t.Errorf("generated unit barcode %q collides with the batch barcode", bc)
		}
		if seen[bc] {
			t.Errorf("duplicate unit barcode %q", bc)
		}
		seen[bc] = true
	}
}

func TestResolveUnitBarcodesRejectsBatchBarcode(t *testing.T) {
	batchBarcode := "PAR-B1007-T4F2K"

	_, err := resolveUnitBarcodes(batchBarcode, []string{batchBarcode}, 2)
	if !utils.IsConflict(err) {
		t.Fatalf("unit barcode equal to the batch barcode: err = %v, want conflict", err)
	}
}
