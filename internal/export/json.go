package export

import (
	"encoding/json"
	"fmt"
	"io"
)

// JSONConverter はレコードをJSON配列として逐次出力します。
// どの時点で完結しても、Closeまで到達すれば出力全体が妥当なJSONになります。
// レコード0件の場合は "[]" を出力します。
type JSONConverter struct {
	sink    io.Writer
	started bool
	closed  bool
}

// NewJSONConverter は sink に書き込むJSONコンバーターを作成します。
func NewJSONConverter(sink io.Writer) *JSONConverter {
	return &JSONConverter{sink: sink}
}

// WriteRecord はレコードを1件シリアライズして書き込みます。
func (c *JSONConverter) WriteRecord(rec Record) error {
	var prefix []byte
	if !c.started {
		prefix = []byte("[")
		c.started = true
	} else {
		prefix = []byte(",")
	}
	if _, err := c.sink.Write(prefix); err != nil {
		return fmt.Errorf("failed to write json delimiter: %w", err)
	}

	encoded, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if _, err := c.sink.Write(encoded); err != nil {
		return fmt.Errorf("failed to write json record: %w", err)
	}
	return nil
}

// Close は配列を閉じて出力を完結させます。
func (c *JSONConverter) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	terminator := []byte("]")
	if !c.started {
		terminator = []byte("[]")
	}
	if _, err := c.sink.Write(terminator); err != nil {
		return fmt.Errorf("failed to terminate json array: %w", err)
	}
	return nil
}

// Discard は変換を中断します。解放すべきリソースはありません。
func (c *JSONConverter) Discard() {
	c.closed = true
}
