// Package jsonload implements the JSON importer (spec.md §4.6.3): a
// state machine over internal/jsontoken that walks the
// {"version":2,"tables":[...]} envelope one table and one row at a time.
package jsonload

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"mysqlchump/internal/cellkind"
	"mysqlchump/internal/jsontoken"
	"mysqlchump/internal/load"
)

// sourceColumn is one entry from the envelope's per-table "columns" map,
// in the order it was written (the tokenizer reads the underlying text
// sequentially, so insertion order survives even though JSON objects are
// conceptually unordered).
type sourceColumn struct {
	name    string
	rawType string
}

// Importer is the JSON-format load.Importer.
type Importer struct {
	tok *jsontoken.Tokenizer

	started    bool
	doneTables bool

	table   string
	columns []sourceColumn

	rowsOpen bool
	atEOF    bool
}

var _ load.Importer = (*Importer)(nil)

// New returns an Importer reading the JSON envelope from tok.
func New(tok *jsontoken.Tokenizer) *Importer {
	return &Importer{tok: tok}
}

func (im *Importer) ReadNextTable(ctx context.Context) (bool, string, *int64, error) {
	if !im.started {
		if err := im.openEnvelope(); err != nil {
			return false, "", nil, err
		}
		im.started = true
	}
	if im.doneTables {
		return false, "", nil, nil
	}

	kind, err := im.tok.Next()
	if err != nil {
		return false, "", nil, err
	}
	if kind == jsontoken.ArrayEnd {
		im.doneTables = true
		// consume the envelope's closing brace
		if _, err := im.tok.Next(); err != nil {
			return false, "", nil, err
		}
		return false, "", nil, nil
	}
	if kind != jsontoken.ObjectStart {
		return false, "", nil, fmt.Errorf("jsonload: expected table object, got %s", kind)
	}

	if err := im.expectProperty("name"); err != nil {
		return false, "", nil, err
	}
	table, err := im.expectString()
	if err != nil {
		return false, "", nil, err
	}
	im.table = table

	if err := im.expectProperty("create_statement"); err != nil {
		return false, "", nil, err
	}
	createSQL, err := im.expectString()
	if err != nil {
		return false, "", nil, err
	}

	if err := im.expectProperty("columns"); err != nil {
		return false, "", nil, err
	}
	im.columns, err = im.readColumnsObject()
	if err != nil {
		return false, "", nil, err
	}

	if err := im.expectProperty("approx_count"); err != nil {
		return false, "", nil, err
	}
	approx, err := im.expectOptionalInt()
	if err != nil {
		return false, "", nil, err
	}

	if err := im.expectProperty("rows"); err != nil {
		return false, "", nil, err
	}
	kind, err = im.tok.Next()
	if err != nil {
		return false, "", nil, err
	}
	if kind != jsontoken.ArrayStart {
		return false, "", nil, fmt.Errorf("jsonload: expected rows array, got %s", kind)
	}
	im.rowsOpen = true

	return true, createSQL, approx, nil
}

func (im *Importer) openEnvelope() error {
	kind, err := im.tok.Next()
	if err != nil {
		return err
	}
	if kind != jsontoken.ObjectStart {
		return fmt.Errorf("jsonload: expected envelope object, got %s", kind)
	}
	if err := im.expectProperty("version"); err != nil {
		return err
	}
	kind, err = im.tok.Next()
	if err != nil {
		return err
	}
	if kind != jsontoken.NumberLong || im.tok.IntegerValue() != 2 {
		return &load.UnsupportedFormatError{Message: "envelope \"version\" is not 2"}
	}
	if err := im.expectProperty("tables"); err != nil {
		return err
	}
	kind, err = im.tok.Next()
	if err != nil {
		return err
	}
	if kind != jsontoken.ArrayStart {
		return fmt.Errorf("jsonload: expected 'tables' array, got %s", kind)
	}
	return nil
}

// expectProperty reads the next PropertyName token and checks its name.
// The tokenizer folds the following ':' into the PropertyName scan itself
// (see internal/jsontoken), so there is no separate colon token to consume.
func (im *Importer) expectProperty(name string) error {
	kind, err := im.tok.Next()
	if err != nil {
		return err
	}
	if kind != jsontoken.PropertyName {
		return fmt.Errorf("jsonload: expected property %q, got %s", name, kind)
	}
	got := string(im.tok.StringValue())
	if got != name {
		return fmt.Errorf("jsonload: expected property %q, got %q", name, got)
	}
	return nil
}

func (im *Importer) expectString() (string, error) {
	kind, err := im.tok.Next()
	if err != nil {
		return "", err
	}
	if kind != jsontoken.String {
		return "", fmt.Errorf("jsonload: expected string, got %s", kind)
	}
	return string(im.tok.StringValue()), nil
}

func (im *Importer) expectOptionalInt() (*int64, error) {
	kind, err := im.tok.Next()
	if err != nil {
		return nil, err
	}
	switch kind {
	case jsontoken.Null:
		return nil, nil
	case jsontoken.NumberLong:
		v := im.tok.IntegerValue()
		return &v, nil
	default:
		return nil, fmt.Errorf("jsonload: expected integer or null, got %s", kind)
	}
}

func (im *Importer) readColumnsObject() ([]sourceColumn, error) {
	kind, err := im.tok.Next()
	if err != nil {
		return nil, err
	}
	if kind != jsontoken.ObjectStart {
		return nil, fmt.Errorf("jsonload: expected columns object, got %s", kind)
	}
	var cols []sourceColumn
	for {
		kind, err := im.tok.Next()
		if err != nil {
			return nil, err
		}
		if kind == jsontoken.ObjectEnd {
			return cols, nil
		}
		if kind != jsontoken.PropertyName {
			return nil, fmt.Errorf("jsonload: expected column name, got %s", kind)
		}
		name := string(im.tok.StringValue())
		typ, err := im.expectString()
		if err != nil {
			return nil, err
		}
		cols = append(cols, sourceColumn{name: name, rawType: typ})
	}
}

// BeginTable records the destination table name. Destination column
// types aren't needed for cell conversion: spec.md §4.6.3 dispatches on
// the driver type recorded in the envelope's own "columns" map, which
// readColumnsObject already captured.
func (im *Importer) BeginTable(table string, columns []cellkind.ColumnInfo) error {
	im.table = table
	return nil
}

func (im *Importer) ReadDataSQL(ctx context.Context) (string, bool, error) {
	var b strings.Builder
	rows := 0
	for rows < 512 {
		kind, err := im.tok.Next()
		if err != nil {
			return b.String(), false, err
		}
		if kind == jsontoken.ArrayEnd {
			more, err := im.finishTable()
			return b.String(), more, err
		}
		if kind != jsontoken.ArrayStart {
			return b.String(), false, fmt.Errorf("jsonload: expected row array, got %s", kind)
		}
		if err := im.writeInsertRow(&b); err != nil {
			return b.String(), false, err
		}
		rows++
	}
	return b.String(), true, nil
}

func (im *Importer) writeInsertRow(b *strings.Builder) error {
	b.WriteString("INSERT INTO ")
	b.WriteString(quoteIdent(im.table))
	b.WriteString(" (")
	for i, c := range im.columns {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(quoteIdent(c.name))
	}
	b.WriteString(") VALUES (")

	for i := range im.columns {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := im.writeCellAsSQL(b, im.columns[i]); err != nil {
			return err
		}
	}
	b.WriteString(");\n")

	kind, err := im.tok.Next()
	if err != nil {
		return err
	}
	if kind != jsontoken.ArrayEnd {
		return fmt.Errorf("jsonload: expected ']' closing row, got %s", kind)
	}
	return nil
}

func (im *Importer) writeCellAsSQL(b *strings.Builder, col sourceColumn) error {
	kind, err := im.tok.Next()
	if err != nil {
		return err
	}
	switch kind {
	case jsontoken.Null:
		b.WriteString("NULL")
	case jsontoken.NumberLong:
		b.WriteString(strconv.FormatInt(im.tok.IntegerValue(), 10))
	case jsontoken.NumberDouble:
		b.WriteString(strconv.FormatFloat(im.tok.DoubleValue(), 'g', -1, 64))
	case jsontoken.Bool:
		if im.tok.BoolValue() {
			b.WriteString("TRUE")
		} else {
			b.WriteString("FALSE")
		}
	case jsontoken.String:
		raw := string(im.tok.StringValue())
		switch cellkind.ClassifyDump(col.rawType) {
		case cellkind.DumpBytes:
			decoded, err := base64.StdEncoding.DecodeString(raw)
			if err != nil {
				return &load.UnsupportedFormatError{Table: im.table, Message: "column " + col.name + " is not valid base64"}
			}
			if len(decoded) == 0 {
				b.WriteString("''")
			} else {
				b.WriteString("_binary 0x")
				b.WriteString(hex.EncodeToString(decoded))
			}
		case cellkind.DumpDatetime:
			b.WriteByte('\'')
			b.WriteString(isoToMySQLDatetime(raw))
			b.WriteByte('\'')
		default:
			b.WriteByte('\'')
			b.WriteString(escapeSQLString(raw))
			b.WriteByte('\'')
		}
	default:
		return fmt.Errorf("jsonload: unexpected cell token %s", kind)
	}
	return nil
}

// finishTable consumes "actual_count" and the closing table object brace
// after the rows array has ended, readying the next ReadNextTable call.
func (im *Importer) finishTable() (bool, error) {
	im.rowsOpen = false
	if err := im.expectProperty("actual_count"); err != nil {
		return false, err
	}
	kind, err := im.tok.Next()
	if err != nil {
		return false, err
	}
	if kind != jsontoken.NumberLong {
		return false, fmt.Errorf("jsonload: expected actual_count integer, got %s", kind)
	}
	kind, err = im.tok.Next()
	if err != nil {
		return false, err
	}
	if kind != jsontoken.ObjectEnd {
		return false, fmt.Errorf("jsonload: expected '}' closing table, got %s", kind)
	}
	return false, nil
}

// isoToMySQLDatetime rewrites "YYYY-MM-DDTHH:MM:SS.fffZ" into
// "YYYY-MM-DD HH:MM:SS", dropping sub-second precision since MySQL's
// DATETIME without a fractional-seconds type spec can't store it.
func isoToMySQLDatetime(s string) string {
	if len(s) < 19 {
		return s
	}
	return s[:10] + " " + s[11:19]
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func escapeSQLString(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ReadDataCSV implements the CSV export-to-pipe mode of spec.md §4.6.3:
// the same row walk as ReadDataSQL, but each row is written as one CSV
// line for the LoadInfile ingest path instead of a rewritten INSERT.
func (im *Importer) ReadDataCSV(ctx context.Context, w load.CSVSink) (bool, error) {
	rows := 0
	for rows < 512 {
		kind, err := im.tok.Next()
		if err != nil {
			return false, err
		}
		if kind == jsontoken.ArrayEnd {
			more, err := im.finishTable()
			return more, err
		}
		if kind != jsontoken.ArrayStart {
			return false, fmt.Errorf("jsonload: expected row array, got %s", kind)
		}
		if err := im.writeRowCSV(w); err != nil {
			return false, err
		}
		rows++
	}
	return true, nil
}

func (im *Importer) writeRowCSV(w load.CSVSink) error {
	var line strings.Builder
	for i := range im.columns {
		if i > 0 {
			line.WriteByte(',')
		}
		if err := im.writeCellAsCSV(&line, im.columns[i]); err != nil {
			return err
		}
	}
	line.WriteByte('\n')

	kind, err := im.tok.Next()
	if err != nil {
		return err
	}
	if kind != jsontoken.ArrayEnd {
		return fmt.Errorf("jsonload: expected ']' closing row, got %s", kind)
	}
	return w.Write(line.String())
}

// writeCellAsCSV mirrors writeCellAsSQL's per-type dispatch from spec.md
// §4.6.3's CSV-mode column: NULL, booleans as 1/0, numbers textual as-is,
// a BLOB/BINARY/BIT string cell passed through unchanged (it's already
// base64 text in the envelope, and the bulk loader's own FROM_BASE64
// rewrite decodes it), a datetime string with its quotes stripped, and
// every other string CSV-escaped.
func (im *Importer) writeCellAsCSV(b *strings.Builder, col sourceColumn) error {
	kind, err := im.tok.Next()
	if err != nil {
		return err
	}
	switch kind {
	case jsontoken.Null:
		b.WriteString(`\N`)
	case jsontoken.NumberLong:
		b.WriteString(strconv.FormatInt(im.tok.IntegerValue(), 10))
	case jsontoken.NumberDouble:
		b.WriteString(strconv.FormatFloat(im.tok.DoubleValue(), 'g', -1, 64))
	case jsontoken.Bool:
		if im.tok.BoolValue() {
			b.WriteString("1")
		} else {
			b.WriteString("0")
		}
	case jsontoken.String:
		raw := string(im.tok.StringValue())
		switch cellkind.ClassifyDump(col.rawType) {
		case cellkind.DumpBytes:
			b.WriteString(raw)
		case cellkind.DumpDatetime:
			b.WriteString(isoToMySQLDatetime(raw))
		default:
			writeCSVField(b, raw)
		}
	default:
		return fmt.Errorf("jsonload: unexpected cell token %s", kind)
	}
	return nil
}

// writeCSVField writes s as one CSV field in the MySQL LOAD DATA dialect:
// a field with no comma, quote, or line break is written bare; otherwise
// it's quoted with `\"`/`\\`/`\n`/`\r` escapes rather than doubled quotes.
func writeCSVField(b *strings.Builder, s string) {
	if !strings.ContainsAny(s, ",\"\r\n") {
		b.WriteString(s)
		return
	}
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
}
