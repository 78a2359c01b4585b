package billing

import "testing"

func TestCalculateOverageUnderLimit(t *testing.T) {
	cases := []struct {
		totalRows int64
		limit     int64
	}{
		{0, 10000},
		{9999, 10000},
		{10000, 10000},
	}
	for _, tc := range cases {
		got := CalculateOverage(tc.totalRows, tc.limit, 10)
		if got.OverageRows != 0 || got.OverageIncrements != 0 || got.OverageChargeCents != 0 {
			t.Fatalf("CalculateOverage(%d, %d, 10) = %+v, want all zero", tc.totalRows, tc.limit, got)
		}
	}
}

func TestCalculateOverageRoundsUp(t *testing.T) {
	// 1行の超過でも1000行分の1単位として課金する
	got := CalculateOverage(10001, 10000, 50)
	if got.OverageRows != 1 {
		t.Fatalf("OverageRows = %d, want 1", got.OverageRows)
	}
	if got.OverageIncrements != 1 {
		t.Fatalf("OverageIncrements = %d, want 1", got.OverageIncrements)
	}
	if got.OverageChargeCents != 50 {
		t.Fatalf("OverageChargeCents = %d, want 50", got.OverageChargeCents)
	}
}

func TestCalculateOverageScenario(t *testing.T) {
	got := CalculateOverage(11001, 10000, 10)
	want := Overage{OverageRows: 1001, OverageIncrements: 2, OverageChargeCents: 20}
	if got != want {
		t.Fatalf("CalculateOverage(11001, 10000, 10) = %+v, want %+v", got, want)
	}
}

func TestCalculateOverageExactIncrement(t *testing.T) {
	got := CalculateOverage(12000, 10000, 10)
	want := Overage{OverageRows: 2000, OverageIncrements: 2, OverageChargeCents: 20}
	if got != want {
		t.Fatalf("CalculateOverage(12000, 10000, 10) = %+v, want %+v", got, want)
	}
}

func TestCalculateOverageNeverNegative(t *testing.T) {
	got := CalculateOverage(5, 10000, -10)
	if got.OverageRows != 0 || got.OverageIncrements != 0 || got.OverageChargeCents != 0 {
		t.Fatalf("unexpected negative outputs: %+v", got)
	}
}
