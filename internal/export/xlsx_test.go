package export

import (
	"bytes"
	"testing"

	"github.com/xuri/excelize/v2"
)

func writeXLSX(t *testing.T, records []Record) *excelize.File {
	t.Helper()
	var buf bytes.Buffer
	conv, err := NewXLSXConverter(&buf, t.TempDir())
	if err != nil {
		t.Fatalf("NewXLSXConverter failed: %v", err)
	}
	for _, rec := range records {
		if err := conv.WriteRecord(rec); err != nil {
			t.Fatalf("WriteRecord failed: %v", err)
		}
	}
	if err := conv.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("failed to open produced workbook: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestXLSXConverterWritesHeaderAndRows(t *testing.T) {
	f := writeXLSX(t, []Record{
		{"name": "alice", "age": float64(30)},
		{"name": "bob", "age": float64(41)},
	})
	rows, err := f.GetRows(xlsxSheetName)
	if err != nil {
		t.Fatalf("GetRows failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "age" || rows[0][1] != "name" {
		t.Errorf("unexpected header: %v", rows[0])
	}
	if rows[1][1] != "alice" || rows[2][1] != "bob" {
		t.Errorf("unexpected data rows: %v", rows[1:])
	}
}

func TestXLSXConverterBooleanLabels(t *testing.T) {
	f := writeXLSX(t, []Record{
		{"active": true, "deleted": false},
	})
	rows, err := f.GetRows(xlsxSheetName)
	if err != nil {
		t.Fatalf("GetRows failed: %v", err)
	}
	if rows[1][0] != "Yes" || rows[1][1] != "No" {
		t.Errorf("expected Yes/No labels, got %v", rows[1])
	}
}

func TestXLSXConverterColumnWidths(t *testing.T) {
	longValue := "this value is much longer than the header"
	f := writeXLSX(t, []Record{
		{"note": longValue},
	})
	width, err := f.GetColWidth(xlsxSheetName, "A")
	if err != nil {
		t.Fatalf("GetColWidth failed: %v", err)
	}
	want := float64(len(longValue) + xlsxWidthPadding)
	if width < want-1 || width > want+1 {
		t.Errorf("column width = %v, want about %v", width, want)
	}
}

func TestXLSXConverterCapsColumnWidth(t *testing.T) {
	huge := make([]byte, 300)
	for i := range huge {
		huge[i] = 'x'
	}
	f := writeXLSX(t, []Record{
		{"blob": string(huge)},
	})
	width, err := f.GetColWidth(xlsxSheetName, "A")
	if err != nil {
		t.Fatalf("GetColWidth failed: %v", err)
	}
	if width > xlsxMaxColWidth+1 {
		t.Errorf("column width = %v, want capped at %d", width, xlsxMaxColWidth)
	}
}

func TestXLSXConverterDiscardReleasesSpool(t *testing.T) {
	var buf bytes.Buffer
	conv, err := NewXLSXConverter(&buf, t.TempDir())
	if err != nil {
		t.Fatalf("NewXLSXConverter failed: %v", err)
	}
	if err := conv.WriteRecord(Record{"name": "alice"}); err != nil {
		t.Fatalf("WriteRecord failed: %v", err)
	}

	conv.Discard()

	if conv.spool != nil {
		t.Error("expected spool file to be closed after Discard")
	}
	if err := conv.WriteRecord(Record{"name": "bob"}); err == nil {
		t.Error("expected WriteRecord after Discard to fail")
	}
	if buf.Len() != 0 {
		t.Errorf("expected no workbook output after Discard, got %d bytes", buf.Len())
	}
	// 二重に呼んでも安全
	conv.Discard()
}

func TestXLSXConverterEmptyWorkbook(t *testing.T) {
	f := writeXLSX(t, nil)
	rows, err := f.GetRows(xlsxSheetName)
	if err != nil {
		t.Fatalf("GetRows failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected empty sheet for zero records, got %d rows", len(rows))
	}
}
