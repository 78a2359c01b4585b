package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"
)

func writeCSV(t *testing.T, records []Record) [][]string {
	t.Helper()
	var buf bytes.Buffer
	conv := NewCSVConverter(&buf)
	for _, rec := range records {
		if err := conv.WriteRecord(rec); err != nil {
			t.Fatalf("WriteRecord failed: %v", err)
		}
	}
	if err := conv.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse produced csv: %v", err)
	}
	return rows
}

func TestCSVConverterHeaderIsSorted(t *testing.T) {
	rows := writeCSV(t, []Record{
		{"zeta": 1, "alpha": 2, "mid": 3},
	})
	if len(rows) != 2 {
		t.Fatalf("expected header + 1 row, got %d rows", len(rows))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, name := range want {
		if rows[0][i] != name {
			t.Errorf("header[%d] = %q, want %q", i, rows[0][i], name)
		}
	}
}

func TestCSVConverterDropsInternalFields(t *testing.T) {
	rows := writeCSV(t, []Record{
		{"name": "a", "_internal": "hidden", "_meta": 1},
	})
	if len(rows[0]) != 1 || rows[0][0] != "name" {
		t.Fatalf("expected only public fields in header, got %v", rows[0])
	}
}

func TestCSVConverterEscapesFormulas(t *testing.T) {
	rows := writeCSV(t, []Record{
		{"a": "=SUM(A1)", "b": "+1", "c": "-1", "d": "@cmd", "e": "safe"},
	})
	row := rows[1]
	for i, want := range []string{"'=SUM(A1)", "'+1", "'-1", "'@cmd", "safe"} {
		if row[i] != want {
			t.Errorf("cell[%d] = %q, want %q", i, row[i], want)
		}
	}
}

func TestCSVConverterCellValues(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	rows := writeCSV(t, []Record{
		{
			"empty":  nil,
			"nested": map[string]any{"k": "v"},
			"num":    42.5,
			"ts":     ts,
		},
	})
	row := rows[1]
	// ヘッダー順: empty, nested, num, ts
	if row[0] != "" {
		t.Errorf("nil cell = %q, want empty", row[0])
	}
	if !strings.Contains(row[1], `"k":"v"`) {
		t.Errorf("nested cell = %q, want embedded JSON", row[1])
	}
	if row[2] != "42.5" {
		t.Errorf("number cell = %q, want 42.5", row[2])
	}
	if row[3] != "2026-03-14T09:26:53Z" {
		t.Errorf("time cell = %q, want RFC3339 UTC", row[3])
	}
}

func TestCSVConverterMissingKeysAreEmpty(t *testing.T) {
	rows := writeCSV(t, []Record{
		{"a": "1", "b": "2"},
		{"a": "3"},
	})
	if rows[2][1] != "" {
		t.Errorf("missing key cell = %q, want empty", rows[2][1])
	}
}

func TestCSVConverterEmptyOutput(t *testing.T) {
	var buf bytes.Buffer
	conv := NewCSVConverter(&buf)
	if err := conv.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected empty output for zero records, got %q", buf.String())
	}
}
