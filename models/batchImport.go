package models

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/pharmtrace_backend/utils"
	"github.com/xuri/excelize/v2"
)

// Batch import accepts CSV or XLSX files of batch-creation rows. Each row is
// validated and created independently; a bad row is reported and skipped,
// never aborting the rest of the file.
//
// Expected columns, in order:
//
//	name, batch_number, quantity, manufacture_date, expiry_date[, batch_barcode]
//
// Dates are accepted as 2006-01-02 or RFC 3339.

type ImportRowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

type ImportResult struct {
	Created   []*DrugBatch     `json:"created"`
	RowErrors []ImportRowError `json:"row_errors"`
}

// ImportBatchesCSV parses and creates batches from a CSV stream.
func ImportBatchesCSV(ctx context.Context, manufacturerId int, r io.Reader) (*ImportResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, utils.NewValidationError("unreadable CSV: %s", err.Error())
		}
		rows = append(rows, record)
	}
	return importBatchRows(ctx, manufacturerId, rows)
}

// ImportBatchesXLSX parses and creates batches from the first sheet of an
// XLSX stream.
func ImportBatchesXLSX(ctx context.Context, manufacturerId int, r io.Reader) (*ImportResult, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, utils.NewValidationError("unreadable XLSX: %s", err.Error())
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, utils.NewValidationError("XLSX has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, utils.NewValidationError("unable to read sheet: %s", err.Error())
	}
	return importBatchRows(ctx, manufacturerId, rows)
}

func importBatchRows(ctx context.Context, manufacturerId int, rows [][]string) (*ImportResult, error) {
	result := &ImportResult{}

	for i, row := range rows {
		rowNo := i + 1
		if i == 0 && isHeaderRow(row) {
			continue
		}
		if isEmptyRow(row) {
			continue
		}

		input, err := parseBatchRow(row, manufacturerId)
		if err != nil {
			result.RowErrors = append(result.RowErrors, ImportRowError{Row: rowNo, Message: err.Error()})
			continue
		}

		batch, err := CreateDrugBatch(ctx, input)
		if err != nil {
			result.RowErrors = append(result.RowErrors, ImportRowError{Row: rowNo, Message: err.Error()})
			continue
		}
		result.Created = append(result.Created, batch)
	}

	return result, nil
}

func parseBatchRow(row []string, manufacturerId int) (*NewDrugBatch, error) {
	if len(row) < 5 {
		return nil, fmt.Errorf("expected at least 5 columns, got %d", len(row))
	}

	quantity, err := strconv.Atoi(strings.TrimSpace(row[2]))
	if err != nil {
		return nil, fmt.Errorf("invalid quantity %q", row[2])
	}
	manufactureDate, err := parseImportDate(row[3])
	if err != nil {
		return nil, fmt.Errorf("invalid manufacture date %q", row[3])
	}
	expiryDate, err := parseImportDate(row[4])
	if err != nil {
		return nil, fmt.Errorf("invalid expiry date %q", row[4])
	}

	input := &NewDrugBatch{
		Name:            strings.TrimSpace(row[0]),
		BatchNumber:     strings.TrimSpace(row[1]),
		ManufacturerId:  manufacturerId,
		ManufactureDate: manufactureDate,
		ExpiryDate:      expiryDate,
		Quantity:        quantity,
	}
	if len(row) > 5 {
		input.BatchBarcode = strings.TrimSpace(row[5])
	}
	return input, nil
}

func parseImportDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func isHeaderRow(row []string) bool {
	if len(row) == 0 {
		return false
	}
	first := strings.ToLower(strings.TrimSpace(row[0]))
	return first == "name" || first == "drug_name" || first == "drug name"
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
