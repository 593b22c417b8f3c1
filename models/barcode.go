package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Barcodes are a deterministic composition:
//
//	batch: NAME3-BATCH5-T<stamp>
//	unit:  NAME3-BATCH5-T<stamp>-SEQ4
//
// where NAME3 is the uppercased first 3 letters of the drug name, BATCH5 the
// first 5 alphanumerics of the batch number, and <stamp> a base36 time
// disambiguator so two runs of the same (name, batch) do not collide.
// Generation is pure; global uniqueness is still enforced by the DB unique
// constraint at insert time, and callers must treat a duplicate-key failure
// as a ConflictError.

var (
	barcodePattern  = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
	nonAlphanumeric = regexp.MustCompile(`[^A-Za-z0-9]`)
)

func IsValidBarcode(candidate string) bool {
	return candidate != "" && barcodePattern.MatchString(candidate)
}

func GenerateBatchBarcode(name, batchNumber string) string {
	return composeBatchBarcode(name, batchNumber, time.Now().UTC())
}

func GenerateUnitBarcode(name, batchNumber string, sequenceNo int) string {
	return composeUnitBarcode(composeBatchBarcode(name, batchNumber, time.Now().UTC()), sequenceNo)
}

func composeBatchBarcode(name, batchNumber string, at time.Time) string {
	prefix := strings.ToUpper(name)
	prefix = nonAlphanumeric.ReplaceAllString(prefix, "")
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	if prefix == "" {
		prefix = "DRG"
	}

	batchPart := nonAlphanumeric.ReplaceAllString(strings.ToUpper(batchNumber), "")
	if len(batchPart) > 5 {
		batchPart = batchPart[:5]
	}
	if batchPart == "" {
		batchPart = "BATCH"
	}

	stamp := strings.ToUpper(strconv.FormatInt(at.UnixMilli()%36_000_000, 36))

	return fmt.Sprintf("%s-%s-T%s", prefix, batchPart, stamp)
}

// composeUnitBarcode derives a unit barcode from its batch barcode, so every
// unit of one creation call shares the batch prefix and differs only in the
// zero-padded sequence number. Sequence numbers start at 1.
func composeUnitBarcode(batchBarcode string, sequenceNo int) string {
	return fmt.Sprintf("%s-%04d", batchBarcode, sequenceNo)
}
