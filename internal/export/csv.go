package export

import (
	"encoding/csv"
	"fmt"
	"io"
)

// CSVConverter はレコードをCSVバイト列へ逐次変換します。
// ヘッダーは最初のレコードのキーから導出されます。2件目以降に異なるキー集合を
// 持つレコードが来ても、ヘッダーは変わらず既知の列だけが書かれます（既知の制限）。
type CSVConverter struct {
	w      *csv.Writer
	header []string
}

// NewCSVConverter は sink に書き込むCSVコンバーターを作成します。
func NewCSVConverter(sink io.Writer) *CSVConverter {
	return &CSVConverter{
		w: csv.NewWriter(sink),
	}
}

// WriteRecord はレコードを1行書き込みます。最初の呼び出しでヘッダー行を出力します。
// レコードが1件も書かれなければ出力は0行のままです。
func (c *CSVConverter) WriteRecord(rec Record) error {
	if c.header == nil {
		c.header = fieldNames(rec)
		if err := c.w.Write(c.header); err != nil {
			return fmt.Errorf("failed to write csv header: %w", err)
		}
	}

	row := make([]string, len(c.header))
	for i, name := range c.header {
		row[i] = escapeFormula(cellString(rec[name]))
	}
	if err := c.w.Write(row); err != nil {
		return fmt.Errorf("failed to write csv row: %w", err)
	}
	return nil
}

// Close はバッファをフラッシュして書き込みを確定します。
func (c *CSVConverter) Close() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

// Discard は変換を中断します。解放すべきリソースはありません。
func (c *CSVConverter) Discard() {}
