package canonical

import (
	"encoding/json"
	"testing"
)

func mustHash(t *testing.T, raw string) string {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("failed to parse fixture: %v", err)
	}
	h, err := Hash(v)
	if err != nil {
		t.Fatalf("Hash returned error: %v", err)
	}
	return h
}

func TestHashKeyOrderIndependent(t *testing.T) {
	a := mustHash(t, `{"name":"report","filters":{"status":"active","region":"jp"},"columns":["id","name"]}`)
	b := mustHash(t, `{"columns":["id","name"],"filters":{"region":"jp","status":"active"},"name":"report"}`)
	if a != b {
		t.Fatalf("hashes differ for permuted keys: %s vs %s", a, b)
	}
}

func TestHashNestedPermutations(t *testing.T) {
	base := mustHash(t, `{"a":{"b":{"c":1,"d":[{"e":2,"f":3}]}}}`)
	permuted := mustHash(t, `{"a":{"b":{"d":[{"f":3,"e":2}],"c":1}}}`)
	if base != permuted {
		t.Fatalf("nested permutation changed hash: %s vs %s", base, permuted)
	}
}

func TestHashValueDifference(t *testing.T) {
	a := mustHash(t, `{"dataset":"events","limit":100}`)
	b := mustHash(t, `{"dataset":"events","limit":101}`)
	if a == b {
		t.Fatal("different values produced identical hash")
	}
}

func TestHashKeyDifference(t *testing.T) {
	a := mustHash(t, `{"dataset":"events"}`)
	b := mustHash(t, `{"data_set":"events"}`)
	if a == b {
		t.Fatal("different keys produced identical hash")
	}
}

func TestHashArrayOrderSignificant(t *testing.T) {
	a := mustHash(t, `{"columns":["id","name"]}`)
	b := mustHash(t, `{"columns":["name","id"]}`)
	if a == b {
		t.Fatal("array element order must affect the hash")
	}
}

func TestCanonicalizeStableForm(t *testing.T) {
	var v any
	if err := json.Unmarshal([]byte(`{"b":1,"a":[true,null,"x"]}`), &v); err != nil {
		t.Fatalf("failed to parse fixture: %v", err)
	}
	canon, err := Canonicalize(v)
	if err != nil {
		t.Fatalf("Canonicalize returned error: %v", err)
	}
	want := `{"a":[true,null,"x"],"b":1}`
	if canon != want {
		t.Fatalf("unexpected canonical form: %s, want %s", canon, want)
	}
}

func TestCanonicalizeFixedLengthHash(t *testing.T) {
	h := mustHash(t, `{}`)
	if len(h) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(h))
	}
}
