package export

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// internalFieldPrefix で始まるフィールドは内部用とみなし、出力から除外します。
const internalFieldPrefix = "_"

// fieldNames は最初のレコードから出力ヘッダーを導出します。
// Goのmapは反復順が不定のため辞書順にソートして決定的にします。
// 内部用フィールド（アンダースコア始まり）は落とします。
func fieldNames(rec Record) []string {
	names := make([]string, 0, len(rec))
	for name := range rec {
		if strings.HasPrefix(name, internalFieldPrefix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// cellString は値をセル文字列へ変換します。
// 日付はISO-8601、null は空欄、ネストしたオブジェクト/配列はJSON文字列になります。
func cellString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case *time.Time:
		if val == nil {
			return ""
		}
		return val.UTC().Format(time.RFC3339)
	case map[string]any, []any:
		encoded, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(encoded)
	default:
		// 数値・真偽値はJSON表現をそのまま使う
		encoded, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}

// escapeFormula はスプレッドシートで数式として解釈され得る値を無害化します。
// 先頭が = + - @ の場合にクォート文字を前置します（数式インジェクション対策）。
func escapeFormula(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@':
		return "'" + s
	}
	return s
}
