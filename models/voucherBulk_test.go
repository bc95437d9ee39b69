package models

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestNormalizeVoucherCodes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []string
	}{
		{"mixed separators", "A1 ,B2;\n C3\r\n\nD4", []string{"A1", "B2", "C3", "D4"}},
		{"keeps duplicates and order", "X002,X001,X002", []string{"X002", "X001", "X002"}},
		{"blank input", " \n,;  ", []string{}},
		{"inner spaces kept", "AB CD", []string{"AB CD"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NormalizeVoucherCodes(tc.raw)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %#v want %#v", got, tc.want)
			}
		})
	}
}

func TestBulkCreateVouchers_RejectsBadBatchesBeforeTouchingStore(t *testing.T) {
	if _, err := BulkCreateVouchers(context.Background(), 1, nil); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}

	big := make([]string, MaxVoucherBatchSize+1)
	for i := range big {
		big[i] = "CODE-" + strings.Repeat("x", 4)
	}
	if _, err := BulkCreateVouchers(context.Background(), 1, big); !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}
}

func TestValidBulkCodes_SkipsShortCodesInsteadOfFailing(t *testing.T) {
	valid, invalid := validBulkCodes([]string{"AB1", " VALID-0001 ", "VALID-0002", strings.Repeat("z", MaxVoucherCodeLength+1)})
	if invalid != 2 {
		t.Fatalf("invalid = %d, want 2", invalid)
	}
	if !reflect.DeepEqual(valid, []string{"VALID-0001", "VALID-0002"}) {
		t.Fatalf("valid = %#v", valid)
	}
}

func TestValidateVoucherCode(t *testing.T) {
	if c, err := ValidateVoucherCode("  ABCD  "); err != nil || c != "ABCD" {
		t.Fatalf("got %q, %v", c, err)
	}
	if _, err := ValidateVoucherCode(strings.Repeat("a", MaxVoucherCodeLength+1)); !errors.Is(err, ErrInvalidVoucherCode) {
		t.Fatalf("expected ErrInvalidVoucherCode for long code, got %v", err)
	}
}

func TestParseVoucherImportFile_Csv(t *testing.T) {
	data := []byte("\ufeffcode,note\nAAA-001,first\n\"BBB-002\",second\n\nCCC-003\n")
	got, err := ParseVoucherImportFile("batch.CSV", data)
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	want := []string{"AAA-001", "BBB-002", "CCC-003"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v want %#v", got, want)
	}
}

func TestParseVoucherImportFile_Xlsx(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]interface{}{{"Code"}, {"XL-0001"}, {""}, {"XL-0002"}}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write xlsx: %v", err)
	}

	got, err := ParseVoucherImportFile("codes.xlsx", buf.Bytes())
	if err != nil {
		t.Fatalf("parse xlsx: %v", err)
	}
	want := []string{"XL-0001", "XL-0002"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v want %#v", got, want)
	}
}

func TestParseVoucherImportFile_RejectsUnknownTypeAndOversize(t *testing.T) {
	if _, err := ParseVoucherImportFile("codes.pdf", []byte("x")); err == nil {
		t.Fatal("expected error for .pdf")
	}
	big := make([]byte, MaxVoucherImportFileSize+1)
	if _, err := ParseVoucherImportFile("codes.txt", big); !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}
}

func TestImportVoucherCodes_StopsAtFirstBadChunk(t *testing.T) {
	if _, err := ImportVoucherCodes(context.Background(), 1, nil); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}

	inactive := false
	SetProductLookup(stubProductLookup{products: map[int]*Product{1: {ID: 1, IsActive: &inactive}}})
	t.Cleanup(func() { SetProductLookup(nil) })

	codes := make([]string, MaxVoucherBatchSize+20)
	for i := range codes {
		codes[i] = "IMP-" + strings.Repeat("7", 4)
	}
	res, err := ImportVoucherCodes(context.Background(), 1, codes)
	if !errors.Is(err, ErrProductInactive) || !strings.Contains(err.Error(), "batch 1") {
		t.Fatalf("expected batch 1 to fail on the inactive product, got %v", err)
	}
	if res.Batches != 0 || res.Total != len(codes) {
		t.Fatalf("got %+v", res)
	}
}
