package export

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestJSONConverterProducesArray(t *testing.T) {
	var buf bytes.Buffer
	conv := NewJSONConverter(&buf)
	records := []Record{
		{"id": float64(1), "name": "first"},
		{"id": float64(2), "name": "second"},
	}
	for _, rec := range records {
		if err := conv.WriteRecord(rec); err != nil {
			t.Fatalf("WriteRecord failed: %v", err)
		}
	}
	if err := conv.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	var decoded []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(decoded))
	}
	if decoded[0]["name"] != "first" || decoded[1]["name"] != "second" {
		t.Errorf("unexpected element order: %v", decoded)
	}
}

func TestJSONConverterEmptyArray(t *testing.T) {
	var buf bytes.Buffer
	conv := NewJSONConverter(&buf)
	if err := conv.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if buf.String() != "[]" {
		t.Errorf("expected empty array, got %q", buf.String())
	}
}

func TestJSONConverterKeepsInternalFields(t *testing.T) {
	// JSONはレコードをそのまま出力する。内部フィールドの除去は表形式のみ。
	var buf bytes.Buffer
	conv := NewJSONConverter(&buf)
	if err := conv.WriteRecord(Record{"_cursor": "abc", "id": float64(1)}); err != nil {
		t.Fatalf("WriteRecord failed: %v", err)
	}
	if err := conv.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if _, ok := decoded[0]["_cursor"]; !ok {
		t.Errorf("expected _cursor to be preserved in JSON output")
	}
}
