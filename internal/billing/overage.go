package billing

// Overage は超過課金の計算結果です。すべて非負の整数になります。
type Overage struct {
	OverageRows        int64 `json:"overageRows"`
	OverageIncrements  int64 `json:"overageIncrements"`
	OverageChargeCents int64 `json:"overageChargeCents"`
}

// CalculateOverage はプラン上限を超えた行数から超過課金額を計算します。
// 超過分は1000行単位で切り上げて課金します（1行の超過でも1単位分）。
// 純粋関数であり、どの引数に対しても負の値は返しません。
func CalculateOverage(totalRows, planLimit, overagePer1000Cents int64) Overage {
	overageRows := totalRows - planLimit
	if overageRows < 0 {
		overageRows = 0
	}

	var increments int64
	if overageRows > 0 {
		increments = (overageRows + 999) / 1000
	}

	charge := increments * overagePer1000Cents
	if charge < 0 {
		charge = 0
	}

	return Overage{
		OverageRows:        overageRows,
		OverageIncrements:  increments,
		OverageChargeCents: charge,
	}
}
