// Package csvload implements the CSV importer (spec.md §4.6.4): a
// single-table reader whose columns come from a header row or an
// explicit list, categorized against the destination schema rather than
// any metadata the CSV itself carries.
package csvload

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"mysqlchump/internal/cellkind"
	"mysqlchump/internal/load"
)

// Importer is the CSV-format load.Importer. A CSV file names no table of
// its own, so ReadNextTable always reports exactly one table with an
// empty create statement — the orchestrator's table-preparation step
// treats an empty create statement as "use the existing destination
// schema, never create."
type Importer struct {
	r *bufio.Reader

	// Header, when true, reads column names from the first row.
	// Otherwise ExplicitColumns must be set.
	Header          bool
	ExplicitColumns []string
	// FixInvalid enables the MySQL-dialect adaptor: `\"` inside a quoted
	// field is treated as a literal quote rather than ending the field.
	FixInvalid bool

	sourceColumns []string
	destByName    map[string]cellkind.ColumnInfo
	table         string

	yieldedTable bool
	atEOF        bool
}

var _ load.Importer = (*Importer)(nil)

// New returns an Importer reading CSV text from r.
func New(r io.Reader) *Importer {
	return &Importer{r: bufio.NewReader(r)}
}

func (im *Importer) ReadNextTable(ctx context.Context) (bool, string, *int64, error) {
	if im.yieldedTable {
		return false, "", nil, nil
	}
	im.yieldedTable = true

	if im.Header {
		row, err := im.readRow()
		if err != nil {
			return false, "", nil, fmt.Errorf("csvload: reading header row: %w", err)
		}
		im.sourceColumns = row
	} else {
		im.sourceColumns = append([]string(nil), im.ExplicitColumns...)
	}
	return true, "", nil, nil
}

func (im *Importer) BeginTable(table string, columns []cellkind.ColumnInfo) error {
	im.table = table
	im.destByName = make(map[string]cellkind.ColumnInfo, len(columns))
	for _, c := range columns {
		im.destByName[strings.ToLower(c.Name)] = c
	}
	for _, name := range im.sourceColumns {
		if _, ok := im.destByName[strings.ToLower(name)]; !ok {
			return &load.SchemaError{Table: table, Message: fmt.Sprintf("column %q is not present in the destination table", name)}
		}
	}
	return nil
}

// ReadDataSQL converts CSV rows into rewritten INSERT statements (used by
// the SqlStatements ingest path).
func (im *Importer) ReadDataSQL(ctx context.Context) (string, bool, error) {
	var b strings.Builder
	rows := 0
	for rows < 512 {
		row, err := im.readRow()
		if err == io.EOF {
			im.atEOF = true
			return b.String(), false, nil
		}
		if err != nil {
			return b.String(), false, err
		}
		if len(row) == 0 {
			continue
		}
		if err := im.writeInsert(&b, row); err != nil {
			return b.String(), false, err
		}
		rows++
	}
	return b.String(), !im.atEOF, nil
}

func (im *Importer) writeInsert(b *strings.Builder, row []string) error {
	if len(row) != len(im.sourceColumns) {
		return &load.UnsupportedFormatError{Table: im.table, Message: "row has a different cell count than the column list"}
	}
	b.WriteString("INSERT INTO ")
	b.WriteString(quoteIdent(im.table))
	b.WriteString(" (")
	for i, name := range im.sourceColumns {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(quoteIdent(name))
	}
	b.WriteString(") VALUES (")
	for i, cell := range row {
		if i > 0 {
			b.WriteByte(',')
		}
		col := im.destByName[strings.ToLower(im.sourceColumns[i])]
		writeCellAsSQL(b, col, cell)
	}
	b.WriteString(");\n")
	return nil
}

func writeCellAsSQL(b *strings.Builder, col cellkind.ColumnInfo, cell string) {
	if cell == `\N` {
		b.WriteString("NULL")
		return
	}
	switch cellkind.ClassifyDump(col.RawType) {
	case cellkind.DumpInteger, cellkind.DumpFloat, cellkind.DumpDecimal:
		b.WriteString(cell)
	case cellkind.DumpBoolean:
		if cell == "0" {
			b.WriteString("0")
		} else {
			b.WriteString("1")
		}
	case cellkind.DumpBytes:
		raw, err := base64.StdEncoding.DecodeString(cell)
		if err != nil || len(raw) == 0 {
			b.WriteString("''")
			return
		}
		b.WriteString("_binary 0x")
		b.WriteString(hex.EncodeToString(raw))
	default: // DumpDatetime and DumpString are both quoted text
		b.WriteByte('\'')
		b.WriteString(escapeSQLString(cell))
		b.WriteByte('\'')
	}
}

// ReadDataCSV rewrites rows directly into CSV text on w (used by the
// LoadInfile ingest path); values pass through largely unchanged, since
// the destination bulk-loader applies its own FROM_BASE64/CAST
// conversions for BLOB/BIT columns.
func (im *Importer) ReadDataCSV(ctx context.Context, w load.CSVSink) (bool, error) {
	rows := 0
	for rows < 512 {
		row, err := im.readRow()
		if err == io.EOF {
			im.atEOF = true
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if len(row) == 0 {
			continue
		}
		var line strings.Builder
		for i, cell := range row {
			if i > 0 {
				line.WriteByte(',')
			}
			line.WriteString(cell)
		}
		line.WriteByte('\n')
		if err := w.Write(line.String()); err != nil {
			return false, err
		}
		rows++
	}
	return !im.atEOF, nil
}

// readRow reads one CSV record, handling quoted fields, doubled-quote
// escaping, and (when FixInvalid is set) the MySQL-dialect `\"` escape
// inside quoted fields.
func (im *Importer) readRow() ([]string, error) {
	var fields []string
	var field strings.Builder
	inQuotes := false
	sawAny := false
	// quoteClosed is set the instant a quoted field's closing quote is
	// seen. RFC 4180 requires a closing quote be immediately followed by
	// a delimiter; anything else (e.g. the stray `b"` left over from a
	// `\"` escape that FixInvalid isn't enabled to interpret) is
	// malformed input, not a cell value to accept as-is.
	quoteClosed := false

	for {
		c, _, err := im.r.ReadRune()
		if err != nil {
			if err == io.EOF {
				if !sawAny && field.Len() == 0 && len(fields) == 0 {
					return nil, io.EOF
				}
				fields = append(fields, field.String())
				return fields, nil
			}
			return nil, err
		}
		sawAny = true

		if quoteClosed && c != ',' && c != '\n' && c != '\r' {
			return nil, &load.UnsupportedFormatError{Table: im.table, Message: fmt.Sprintf("malformed quoting: unexpected %q immediately after a closing quote", c)}
		}

		switch {
		case inQuotes && c == '\\' && im.FixInvalid:
			c2, _, err2 := im.r.ReadRune()
			if err2 != nil {
				return nil, &load.UnsupportedFormatError{Message: "unterminated escape at end of input"}
			}
			switch c2 {
			case '"':
				field.WriteByte('"')
			case '\\':
				field.WriteByte('\\')
			default:
				field.WriteRune(c)
				field.WriteRune(c2)
			}
		case inQuotes && c == '"':
			c2, _, err2 := im.r.ReadRune()
			if err2 == nil && c2 == '"' {
				field.WriteByte('"')
				continue
			}
			if err2 == nil {
				_ = im.r.UnreadRune()
			}
			inQuotes = false
			quoteClosed = true
		case !inQuotes && c == '"' && field.Len() == 0:
			inQuotes = true
		case !inQuotes && c == ',':
			fields = append(fields, field.String())
			field.Reset()
			quoteClosed = false
		case !inQuotes && c == '\n':
			fields = append(fields, field.String())
			return fields, nil
		case !inQuotes && c == '\r':
			// swallow, CRLF handled by the following \n case
		default:
			field.WriteRune(c)
		}
	}
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
