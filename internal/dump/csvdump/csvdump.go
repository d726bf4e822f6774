// Package csvdump implements the CSV dump format (spec §4.5): a
// single-table, non-multiplexable text dumper with an optional header row,
// `\N` nulls, base64-encoded bytes, and a MySQL-compatible escaping
// variant for quoted fields.
package csvdump

import (
	"fmt"

	"mysqlchump/internal/cellkind"
	"mysqlchump/internal/dump"
	"mysqlchump/internal/textpipe"
)

// Format is the CSV dumper.
type Format struct {
	// Header, when set, writes a header row of column names first.
	Header bool
	// MySQLMode selects the non-RFC-4180 escaping variant (`\"` for an
	// embedded quote, `\\` for a backslash) in place of doubled `""`.
	MySQLMode bool

	wroteAny bool
}

var _ dump.Format = (*Format)(nil)

func (f *Format) Multiplexable() bool { return false }

func (f *Format) WritePreamble(w *textpipe.PipeTextWriter, table, createSQL string, cols []cellkind.ColumnInfo, approxCount *int64, first bool) error {
	f.wroteAny = false
	if !f.Header {
		return nil
	}
	for i, c := range cols {
		if i > 0 {
			if err := w.Write(","); err != nil {
				return err
			}
		}
		if err := w.WriteCSVCell(c.Name, f.MySQLMode); err != nil {
			return err
		}
	}
	f.wroteAny = true
	return nil
}

func (f *Format) WriteRow(w *textpipe.PipeTextWriter, cols []cellkind.ColumnInfo, cells []any, rowIndex int64) error {
	if f.wroteAny {
		if err := w.Write("\n"); err != nil {
			return err
		}
	}
	f.wroteAny = true

	for i, cell := range cells {
		if i > 0 {
			if err := w.Write(","); err != nil {
				return err
			}
		}
		if err := writeCell(w, cols[i], cell, f.MySQLMode); err != nil {
			return err
		}
	}
	return nil
}

func (f *Format) WritePostamble(w *textpipe.PipeTextWriter, table string, actualCount int64) error {
	return nil
}

func writeCell(w *textpipe.PipeTextWriter, col cellkind.ColumnInfo, cell any, mysqlMode bool) error {
	if cell == nil {
		return w.Write(`\N`)
	}
	raw, ok := cell.([]byte)
	if !ok {
		return fmt.Errorf("csvdump: unexpected cell value type %T", cell)
	}

	switch cellkind.ClassifyDump(col.RawType) {
	case cellkind.DumpBytes:
		return w.WriteBase64(raw)
	case cellkind.DumpDatetime:
		if err := w.Write(`"`); err != nil {
			return err
		}
		if err := w.Write(string(raw)); err != nil {
			return err
		}
		return w.Write(`"`)
	case cellkind.DumpInteger, cellkind.DumpFloat, cellkind.DumpDecimal:
		return w.Write(string(raw))
	case cellkind.DumpBoolean:
		if len(raw) == 1 && raw[0] == '0' {
			return w.Write("0")
		}
		return w.Write("1")
	default:
		return w.WriteCSVCell(string(raw), mysqlMode)
	}
}
