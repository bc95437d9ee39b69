package models

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
)

const MaxVoucherImportFileSize = 5 << 20

var voucherCodeSeparators = regexp.MustCompile(`[\r\n,;]+`)

// NormalizeVoucherCodes splits raw on newlines, commas and semicolons, trims each entry and
// drops blanks. Order is preserved and duplicates are kept.
func NormalizeVoucherCodes(raw string) []string {
	parts := voucherCodeSeparators.Split(raw, -1)
	codes := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			codes = append(codes, p)
		}
	}
	return codes
}

// validBulkCodes trims codes and drops the ones ValidateVoucherCode rejects.
func validBulkCodes(codes []string) (valid []string, invalid int) {
	valid = make([]string, 0, len(codes))
	for _, code := range codes {
		c, err := ValidateVoucherCode(code)
		if err != nil {
			invalid++
			continue
		}
		valid = append(valid, c)
	}
	return valid, invalid
}

// BulkCreateVouchers checks the batch size and the target product, then inserts with
// skip-duplicate semantics. Invalid codes are skipped and counted, never fatal.
func BulkCreateVouchers(ctx context.Context, productId int, codes []string) (*BatchResult, error) {
	if len(codes) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(codes) > MaxVoucherBatchSize {
		return nil, fmt.Errorf("%w: %d codes (max %d)", ErrBatchTooLarge, len(codes), MaxVoucherBatchSize)
	}
	if _, err := requireActiveProduct(ctx, productId); err != nil {
		return nil, err
	}
	valid, invalid := validBulkCodes(codes)
	result, err := InsertVoucherBatch(ctx, productId, valid)
	if err != nil {
		return nil, err
	}
	result.Skipped += invalid
	result.Invalid = invalid
	return result, nil
}

func isCodeHeader(cell string) bool {
	switch strings.ToLower(strings.TrimSpace(cell)) {
	case "code", "kode", "voucher", "voucher_code", "kode_voucher":
		return true
	default:
		return false
	}
}

// ParseVoucherImportFile extracts codes from an uploaded .txt, .csv or .xlsx file.
// For .csv and .xlsx only the first column of the first sheet is read and an optional
// header row is skipped.
func ParseVoucherImportFile(fileName string, data []byte) ([]string, error) {
	if len(data) > MaxVoucherImportFileSize {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", ErrBatchTooLarge, MaxVoucherImportFileSize)
	}
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".txt", "":
		return NormalizeVoucherCodes(string(data)), nil
	case ".csv":
		return parseVoucherCsv(data)
	case ".xlsx":
		return parseVoucherXlsx(data)
	default:
		return nil, fmt.Errorf("unsupported import file type %q: use .txt, .csv or .xlsx", filepath.Ext(fileName))
	}
}

func parseVoucherCsv(data []byte) ([]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var codes []string
	first := true
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("could not parse csv: %w", err)
		}
		if len(record) == 0 {
			continue
		}
		cell := strings.TrimSpace(strings.TrimPrefix(record[0], "\ufeff"))
		if first {
			first = false
			if isCodeHeader(cell) {
				continue
			}
		}
		if cell != "" {
			codes = append(codes, cell)
		}
	}
	return codes, nil
}

func parseVoucherXlsx(data []byte) ([]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("excel file has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("unable to read sheet: %w", err)
	}

	var codes []string
	for idx, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell := strings.TrimSpace(row[0])
		if idx == 0 && isCodeHeader(cell) {
			continue
		}
		if cell != "" {
			codes = append(codes, cell)
		}
	}
	return codes, nil
}

type ImportResult struct {
	BatchResult
	Total   int `json:"total"`
	Batches int `json:"batches"`
}

// ImportVoucherCodes feeds codes to BulkCreateVouchers in store-sized chunks. A failing chunk
// stops the import; earlier chunks stay committed and are counted in the result.
func ImportVoucherCodes(ctx context.Context, productId int, codes []string) (*ImportResult, error) {
	result := &ImportResult{Total: len(codes)}
	if len(codes) == 0 {
		return result, ErrEmptyBatch
	}
	for start := 0; start < len(codes); start += MaxVoucherBatchSize {
		end := min(start+MaxVoucherBatchSize, len(codes))
		res, err := BulkCreateVouchers(ctx, productId, codes[start:end])
		if err != nil {
			return result, fmt.Errorf("batch %d: %w", result.Batches+1, err)
		}
		result.Batches++
		result.Inserted += res.Inserted
		result.Skipped += res.Skipped
		result.Invalid += res.Invalid
	}
	return result, nil
}
