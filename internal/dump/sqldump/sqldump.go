// Package sqldump implements the SQL dump format (spec §4.5): a
// multiplexable text dumper emitting a session-setup preamble once, then
// per-table CREATE TABLE / TRUNCATE / START TRANSACTION framing and
// batched multi-value INSERT statements.
package sqldump

import (
	"fmt"
	"strings"

	"mysqlchump/internal/cellkind"
	"mysqlchump/internal/dbsession"
	"mysqlchump/internal/dump"
	"mysqlchump/internal/textpipe"
)

// DefaultBatchSize is the default row ceiling per multi-value INSERT
// statement (spec §4.5).
const DefaultBatchSize = 8192

// Format is the SQL dumper. The zero value is ready to use with
// DefaultBatchSize; set BatchSize/Truncate/InsertIgnore to override.
type Format struct {
	BatchSize    int
	Truncate     bool
	InsertIgnore bool

	table string
	batch int
}

var _ dump.Format = (*Format)(nil)

func (f *Format) Multiplexable() bool { return true }

func (f *Format) batchSize() int {
	if f.BatchSize > 0 {
		return f.BatchSize
	}
	return DefaultBatchSize
}

func (f *Format) WritePreamble(w *textpipe.PipeTextWriter, table, createSQL string, cols []cellkind.ColumnInfo, approxCount *int64, first bool) error {
	f.table = table
	f.batch = 0

	if first {
		if err := w.Write(dbsession.SessionSetupSQL + ";\n"); err != nil {
			return err
		}
	}
	if createSQL != "" {
		if err := w.Write(createSQL + ";\n"); err != nil {
			return err
		}
	}
	if f.Truncate {
		if err := w.Write("TRUNCATE " + dbsession.QuoteIdent(table) + ";\n"); err != nil {
			return err
		}
	}
	return w.Write("START TRANSACTION;\n")
}

func (f *Format) WriteRow(w *textpipe.PipeTextWriter, cols []cellkind.ColumnInfo, cells []any, rowIndex int64) error {
	if f.batch == 0 {
		verb := "INSERT INTO "
		if f.InsertIgnore {
			verb = "INSERT IGNORE INTO "
		}
		if err := w.Write(verb + dbsession.QuoteIdent(f.table) + " " + columnList(cols) + " VALUES\n"); err != nil {
			return err
		}
	} else {
		if err := w.Write(",\n"); err != nil {
			return err
		}
	}

	if err := w.Write("("); err != nil {
		return err
	}
	for i, cell := range cells {
		if i > 0 {
			if err := w.Write(","); err != nil {
				return err
			}
		}
		if err := writeCell(w, cols[i], cell); err != nil {
			return err
		}
	}
	if err := w.Write(")"); err != nil {
		return err
	}

	f.batch++
	if f.batch >= f.batchSize() {
		f.batch = 0
		return w.Write(";\n")
	}
	return nil
}

func (f *Format) WritePostamble(w *textpipe.PipeTextWriter, table string, actualCount int64) error {
	if f.batch > 0 {
		if err := w.Write(";\n"); err != nil {
			return err
		}
		f.batch = 0
	}
	return w.Write("COMMIT;\n")
}

func columnList(cols []cellkind.ColumnInfo) string {
	var b strings.Builder
	b.WriteByte('(')
	for i, c := range cols {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(dbsession.QuoteIdent(c.Name))
	}
	b.WriteByte(')')
	return b.String()
}

func writeCell(w *textpipe.PipeTextWriter, col cellkind.ColumnInfo, cell any) error {
	if cell == nil {
		return w.Write("NULL")
	}
	raw, ok := cell.([]byte)
	if !ok {
		return fmt.Errorf("sqldump: unexpected cell value type %T", cell)
	}

	switch cellkind.ClassifyDump(col.RawType) {
	case cellkind.DumpInteger, cellkind.DumpFloat, cellkind.DumpDecimal:
		return w.Write(string(raw))
	case cellkind.DumpBoolean:
		if len(raw) == 1 && raw[0] == '0' {
			return w.Write("0")
		}
		return w.Write("1")
	case cellkind.DumpBytes:
		if len(raw) == 0 {
			return w.Write("_binary ''")
		}
		if err := w.Write("_binary 0x"); err != nil {
			return err
		}
		return w.WriteHex(raw)
	default: // DumpDatetime and DumpString both render as quoted, escaped text
		if err := w.Write("'"); err != nil {
			return err
		}
		if err := w.Write(escapeSQLBytes(raw)); err != nil {
			return err
		}
		return w.Write("'")
	}
}

// escapeSQLBytes escapes \ ' " \b \n \r \t \0 per spec §4.5's SQL string
// cell encoding.
func escapeSQLBytes(raw []byte) string {
	out := make([]byte, 0, len(raw)+4)
	for _, b := range raw {
		switch b {
		case '\\':
			out = append(out, '\\', '\\')
		case '\'':
			out = append(out, '\\', '\'')
		case '"':
			out = append(out, '\\', '"')
		case '\b':
			out = append(out, '\\', 'b')
		case '\n':
			out = append(out, '\\', 'n')
		case '\r':
			out = append(out, '\\', 'r')
		case '\t':
			out = append(out, '\\', 't')
		case 0:
			out = append(out, '\\', '0')
		default:
			out = append(out, b)
		}
	}
	return string(out)
}
