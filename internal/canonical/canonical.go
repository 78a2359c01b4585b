// Package canonical はJSONペイロードのキー順序に依存しない正規化とハッシュ計算を提供します。
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Canonicalize は任意のJSON互換値を正規化した文字列に変換します。
// オブジェクトのキーは全階層で辞書順にソートされ、配列は要素順を保ったまま
// 各要素が再帰的に正規化されます。値が同一であればキーの出現順に関わらず
// 同一の文字列が得られます。
func Canonicalize(v any) (string, error) {
	var sb strings.Builder
	if err := writeCanonical(&sb, v); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Hash は正規化した文字列のSHA-256ダイジェストを16進文字列で返します。
// 副作用はなく、同じ値構造に対しては常に同じハッシュを返します。
func Hash(v any) (string, error) {
	canon, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(canon))
	return hex.EncodeToString(sum[:]), nil
}

func writeCanonical(sb *strings.Builder, v any) error {
	switch val := v.(type) {
	case nil:
		sb.WriteString("null")
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			encodedKey, err := json.Marshal(k)
			if err != nil {
				return err
			}
			sb.Write(encodedKey)
			sb.WriteByte(':')
			if err := writeCanonical(sb, val[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	case []any:
		sb.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := writeCanonical(sb, elem); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(val, &decoded); err != nil {
			return fmt.Errorf("failed to decode raw message: %w", err)
		}
		return writeCanonical(sb, decoded)
	default:
		// スカラー値（文字列・数値・真偽値）はJSON表現をそのまま用いる
		encoded, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("unsupported payload value: %w", err)
		}
		sb.Write(encoded)
	}
	return nil
}
