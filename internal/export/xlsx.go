package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

const (
	xlsxSheetName = "Sheet1"

	// 列幅 = max(ヘッダー長, 最長値の長さ) + パディング。上限あり。
	xlsxWidthPadding = 2
	xlsxMaxColWidth  = 60
)

// XLSXConverter はレコードをスプレッドシートへ変換します。
// 列幅は全値の最大長から計算するため、行を一時ファイルへスプールし、
// Close時にStreamWriterで組み立てます（全行をメモリへは載せない）。
type XLSXConverter struct {
	sink   io.Writer
	spool  *os.File
	enc    *json.Encoder
	header []string
	widths []int
	rows   int64
}

// NewXLSXConverter は sink に書き込むスプレッドシートコンバーターを作成します。
// spoolDir は一時ファイルの置き場所です（空ならOSの既定）。
func NewXLSXConverter(sink io.Writer, spoolDir string) (*XLSXConverter, error) {
	spool, err := os.CreateTemp(spoolDir, "export-xlsx-*.jsonl")
	if err != nil {
		return nil, fmt.Errorf("failed to create xlsx spool: %w", err)
	}
	// 名前を先に消しておけば、変換が中断されてもスプールが残らない
	_ = os.Remove(spool.Name())
	return &XLSXConverter{
		sink:  sink,
		spool: spool,
		enc:   json.NewEncoder(spool),
	}, nil
}

// WriteRecord はレコードを1行分の文字列セルへ変換してスプールします。
// 値の変換規則はCSVと同じですが、真偽値は "Yes"/"No" になります。
func (c *XLSXConverter) WriteRecord(rec Record) error {
	if c.header == nil {
		c.header = fieldNames(rec)
		c.widths = make([]int, len(c.header))
		for i, name := range c.header {
			c.widths[i] = utf8.RuneCountInString(name)
		}
	}

	row := make([]string, len(c.header))
	for i, name := range c.header {
		cell := xlsxCellString(rec[name])
		row[i] = cell
		if l := utf8.RuneCountInString(cell); l > c.widths[i] {
			c.widths[i] = l
		}
	}
	if err := c.enc.Encode(row); err != nil {
		return fmt.Errorf("failed to spool xlsx row: %w", err)
	}
	c.rows++
	return nil
}

// Discard は変換を中断し、スプールファイルを閉じます。
// ファイル名は作成直後に消してあるので、閉じた時点でディスクからも消えます。
func (c *XLSXConverter) Discard() {
	if c.spool != nil {
		_ = c.spool.Close()
		c.spool = nil
	}
}

// Close はスプールした行からワークブックを組み立てて sink へ書き出します。
func (c *XLSXConverter) Close() error {
	defer c.Discard()

	f := excelize.NewFile()
	defer f.Close()

	sw, err := f.NewStreamWriter(xlsxSheetName)
	if err != nil {
		return fmt.Errorf("failed to create stream writer: %w", err)
	}

	// 列幅は行書き込みより先に設定する必要がある
	for i, w := range c.widths {
		width := w + xlsxWidthPadding
		if width > xlsxMaxColWidth {
			width = xlsxMaxColWidth
		}
		if err := sw.SetColWidth(i+1, i+1, float64(width)); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}

	rowIndex := 1
	if len(c.header) > 0 {
		if err := writeXLSXRow(sw, rowIndex, c.header); err != nil {
			return err
		}
		rowIndex++
	}

	if c.rows > 0 {
		if _, err := c.spool.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to rewind xlsx spool: %w", err)
		}
		dec := json.NewDecoder(c.spool)
		for {
			var row []string
			if err := dec.Decode(&row); err != nil {
				if err == io.EOF {
					break
				}
				return fmt.Errorf("failed to read xlsx spool: %w", err)
			}
			if err := writeXLSXRow(sw, rowIndex, row); err != nil {
				return err
			}
			rowIndex++
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("failed to flush stream writer: %w", err)
	}
	if err := f.Write(c.sink); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeXLSXRow(sw *excelize.StreamWriter, rowIndex int, cells []string) error {
	anchor, err := excelize.CoordinatesToCellName(1, rowIndex)
	if err != nil {
		return fmt.Errorf("failed to build cell name: %w", err)
	}
	values := make([]interface{}, len(cells))
	for i, cell := range cells {
		values[i] = cell
	}
	if err := sw.SetRow(anchor, values); err != nil {
		return fmt.Errorf("failed to write sheet row: %w", err)
	}
	return nil
}

// xlsxCellString はスプレッドシート用のセル変換です。真偽値だけCSVと扱いが異なります。
func xlsxCellString(v any) string {
	if b, ok := v.(bool); ok {
		if b {
			return escapeFormula("Yes")
		}
		return escapeFormula("No")
	}
	return escapeFormula(cellString(v))
}
