// Package sqlload implements the SQL importer (spec.md §4.6.2): a state
// machine over internal/sqltoken that locates CREATE TABLE statements,
// skips DELIMITER-fenced stored-procedure/trigger bodies wholesale, and
// streams INSERT ... VALUES batches through to rewritten output text.
package sqlload

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"mysqlchump/internal/cellkind"
	"mysqlchump/internal/ddl"
	"mysqlchump/internal/load"
	"mysqlchump/internal/sqltoken"
)

// DefaultStatementsPerBatch bounds how many source INSERT statements one
// ReadDataSQL call coalesces into a single returned batch, so a huge dump
// doesn't force the whole table's SQL text into memory at once.
const DefaultStatementsPerBatch = 256

// Importer is the SQL-format load.Importer.
type Importer struct {
	tok                  *sqltoken.Tokenizer
	StatementsPerBatch    int
	InsertIgnore          bool

	table       string
	columns     []string
	rowsEmitted int64

	pendingCreateSQL string
	havePending      bool
	atEOF            bool
}

var _ load.Importer = (*Importer)(nil)

// New returns an Importer reading createSQL/INSERT statements from tok.
func New(tok *sqltoken.Tokenizer) *Importer {
	return &Importer{tok: tok}
}

func (im *Importer) batchLimit() int {
	if im.StatementsPerBatch > 0 {
		return im.StatementsPerBatch
	}
	return DefaultStatementsPerBatch
}

func (im *Importer) ReadNextTable(ctx context.Context) (bool, string, *int64, error) {
	if im.havePending {
		im.havePending = false
		sql := im.pendingCreateSQL
		im.pendingCreateSQL = ""
		return true, sql, nil, nil
	}
	if im.atEOF {
		return false, "", nil, nil
	}

	for {
		kind, err := im.tok.Next()
		if err != nil {
			return false, "", nil, err
		}
		switch kind {
		case sqltoken.EOF:
			im.atEOF = true
			return false, "", nil, nil
		case sqltoken.Identifier:
			word := string(im.tok.StringValue())
			switch {
			case !im.tok.IdentifierWasEscaped() && strings.EqualFold(word, "DELIMITER"):
				if err := im.skipDelimiterBlock(); err != nil {
					return false, "", nil, err
				}
			case !im.tok.IdentifierWasEscaped() && strings.EqualFold(word, "CREATE"):
				table, ok, err := im.tryParseCreateTable()
				if err != nil {
					return false, "", nil, err
				}
				if ok {
					im.rowsEmitted = 0
					return true, ddl.ToCreateTableSQL(table) + ";", nil, nil
				}
			}
		}
	}
}

// tryParseCreateTable checks whether the token right after an already
// consumed "CREATE" identifier is "TABLE"; if so it delegates the rest of
// the statement to internal/ddl and reports ok=true.
func (im *Importer) tryParseCreateTable() (*ddl.Table, bool, error) {
	kind, err := im.tok.Next()
	if err != nil {
		return nil, false, err
	}
	if kind != sqltoken.Identifier || !strings.EqualFold(string(im.tok.StringValue()), "TABLE") {
		return nil, false, nil
	}
	table, err := ddl.ParseCreateTable(im.tok)
	if err != nil {
		return nil, false, fmt.Errorf("sqlload: %w", err)
	}
	return table, true, nil
}

func (im *Importer) skipDelimiterBlock() error {
	for {
		kind, err := im.tok.Next()
		if err != nil {
			return err
		}
		if kind == sqltoken.EOF {
			return nil
		}
		if kind == sqltoken.Identifier && strings.EqualFold(string(im.tok.StringValue()), "DELIMITER") {
			return nil
		}
	}
}

func (im *Importer) BeginTable(table string, columns []cellkind.ColumnInfo) error {
	im.table = table
	im.columns = make([]string, len(columns))
	for i, c := range columns {
		im.columns[i] = c.Name
	}
	im.rowsEmitted = 0
	return nil
}

func (im *Importer) ReadDataSQL(ctx context.Context) (string, bool, error) {
	var out strings.Builder
	statements := 0

	for statements < im.batchLimit() {
		kind, err := im.tok.Next()
		if err != nil {
			return out.String(), false, err
		}
		switch kind {
		case sqltoken.EOF:
			im.atEOF = true
			return out.String(), false, nil
		case sqltoken.Identifier:
			word := string(im.tok.StringValue())
			switch {
			case !im.tok.IdentifierWasEscaped() && strings.EqualFold(word, "DELIMITER"):
				if err := im.skipDelimiterBlock(); err != nil {
					return out.String(), false, err
				}
			case !im.tok.IdentifierWasEscaped() && strings.EqualFold(word, "CREATE"):
				table, ok, err := im.tryParseCreateTable()
				if err != nil {
					return out.String(), false, err
				}
				if ok {
					im.pendingCreateSQL = ddl.ToCreateTableSQL(table) + ";"
					im.havePending = true
					return out.String(), false, nil
				}
			case !im.tok.IdentifierWasEscaped() && strings.EqualFold(word, "INSERT"):
				stmt, rows, err := im.rewriteInsertStatement()
				if err != nil {
					return out.String(), false, err
				}
				if stmt != "" {
					out.WriteString(stmt)
					im.rowsEmitted += rows
					statements++
				}
			}
		}
	}
	return out.String(), true, nil
}

// rewriteInsertStatement consumes one `INSERT [IGNORE] INTO <table>
// [(cols)] VALUES (...),(...) ;` statement and re-emits it against im's
// current column order, re-escaping every value token per spec.md
// §4.6.2. Returns "" with rows=0 if the statement targets a table other
// than the one currently being imported (tolerated, not an error).
func (im *Importer) rewriteInsertStatement() (string, int64, error) {
	ignore := false
	kind, err := im.tok.Next()
	if err != nil {
		return "", 0, err
	}
	if kind == sqltoken.Identifier && strings.EqualFold(string(im.tok.StringValue()), "IGNORE") {
		ignore = true
		if kind, err = im.tok.Next(); err != nil {
			return "", 0, err
		}
	}
	if kind != sqltoken.Identifier || !strings.EqualFold(string(im.tok.StringValue()), "INTO") {
		return "", 0, fmt.Errorf("sqlload: expected INTO after INSERT, got %s", kind)
	}
	if kind, err = im.tok.Next(); err != nil {
		return "", 0, err
	}
	if kind != sqltoken.Identifier {
		return "", 0, fmt.Errorf("sqlload: expected table name after INSERT INTO, got %s", kind)
	}
	targetTable := string(im.tok.StringValue())

	var cols []string
	if kind, err = im.tok.Next(); err != nil {
		return "", 0, err
	}
	if kind == sqltoken.LeftParen {
		cols, err = im.parseColumnList()
		if err != nil {
			return "", 0, err
		}
		if kind, err = im.tok.Next(); err != nil {
			return "", 0, err
		}
	}
	if kind != sqltoken.Identifier || !strings.EqualFold(string(im.tok.StringValue()), "VALUES") {
		return "", 0, fmt.Errorf("sqlload: expected VALUES, got %s", kind)
	}

	if !strings.EqualFold(targetTable, im.table) {
		return im.skipValuesList(), 0, nil
	}

	if cols != nil && !sameColumns(cols, im.columns) {
		if im.rowsEmitted > 0 {
			return "", 0, &load.UnsupportedFormatError{Table: im.table, Message: "INSERT column order changed after rows were already emitted"}
		}
		im.columns = cols
	}

	var b strings.Builder
	verb := "INSERT INTO "
	if ignore || im.InsertIgnore {
		verb = "INSERT IGNORE INTO "
	}
	b.WriteString(verb)
	b.WriteString(quoteIdent(im.table))
	b.WriteByte(' ')
	b.WriteByte('(')
	for i, c := range im.columns {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(quoteIdent(c))
	}
	b.WriteString(") VALUES\n")

	rows, err := im.rewriteValuesList(&b)
	if err != nil {
		return "", 0, err
	}
	b.WriteString(";\n")
	return b.String(), rows, nil
}

func (im *Importer) parseColumnList() ([]string, error) {
	var cols []string
	for {
		kind, err := im.tok.Next()
		if err != nil {
			return nil, err
		}
		if kind != sqltoken.Identifier {
			return nil, fmt.Errorf("sqlload: expected column name, got %s", kind)
		}
		cols = append(cols, string(im.tok.StringValue()))
		kind, err = im.tok.Next()
		if err != nil {
			return nil, err
		}
		if kind == sqltoken.Comma {
			continue
		}
		if kind == sqltoken.RightParen {
			return cols, nil
		}
		return nil, fmt.Errorf("sqlload: expected ',' or ')' in column list, got %s", kind)
	}
}

// rewriteValuesList rewrites every `(v1,v2,...)` tuple until the
// terminating ';' (or EOF), writing comma-separated tuples to b.
func (im *Importer) rewriteValuesList(b *strings.Builder) (int64, error) {
	var rows int64
	first := true
	for {
		kind, err := im.tok.Next()
		if err != nil {
			return rows, err
		}
		if kind == sqltoken.Semicolon || kind == sqltoken.EOF {
			return rows, nil
		}
		if kind == sqltoken.Comma {
			continue
		}
		if kind != sqltoken.LeftParen {
			return rows, fmt.Errorf("sqlload: expected '(' starting a VALUES tuple, got %s", kind)
		}
		if !first {
			b.WriteString(",\n")
		}
		first = false
		b.WriteByte('(')
		cell := 0
		for {
			kind, err := im.tok.Next()
			if err != nil {
				return rows, err
			}
			if kind == sqltoken.RightParen {
				break
			}
			if kind == sqltoken.Comma {
				continue
			}
			if cell > 0 {
				b.WriteByte(',')
			}
			if err := writeRewrittenCell(b, im.tok, kind); err != nil {
				return rows, err
			}
			cell++
		}
		b.WriteByte(')')
		rows++
	}
}

// skipValuesList discards a VALUES clause belonging to a table other than
// the one currently being imported, without emitting output.
func (im *Importer) skipValuesList() string {
	depth := 0
	for {
		kind, err := im.tok.Next()
		if err != nil || kind == sqltoken.EOF {
			return ""
		}
		switch kind {
		case sqltoken.LeftParen:
			depth++
		case sqltoken.RightParen:
			depth--
		case sqltoken.Semicolon:
			if depth <= 0 {
				return ""
			}
		}
	}
}

func writeRewrittenCell(b *strings.Builder, tok *sqltoken.Tokenizer, kind sqltoken.Kind) error {
	switch kind {
	case sqltoken.Null:
		b.WriteString("NULL")
	case sqltoken.Integer:
		b.WriteString(strconv.FormatInt(tok.IntegerValue(), 10))
	case sqltoken.Double:
		b.WriteString(strconv.FormatFloat(tok.DoubleValue(), 'g', -1, 64))
	case sqltoken.String:
		b.WriteByte('\'')
		b.WriteString(escapeSQLString(tok.StringValue()))
		b.WriteByte('\'')
	case sqltoken.BinaryBlob:
		hex := tok.BinaryHex()
		if len(hex) == 0 {
			b.WriteString("''")
		} else {
			b.WriteString("_binary 0x")
			b.WriteString(strings.ToLower(string(hex)))
		}
	default:
		return fmt.Errorf("sqlload: unexpected token %s in VALUES tuple", kind)
	}
	return nil
}

// escapeSQLString re-escapes a decoded string value for the target: `\`
// doubled, `'` doubled, per spec.md §4.6.2.
func escapeSQLString(raw []byte) string {
	var b strings.Builder
	for _, c := range raw {
		switch c {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`''`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// ReadDataCSV implements the CSV export-to-pipe mode of spec.md §4.6.2: the
// same token-stream state machine as ReadDataSQL, but INSERT ... VALUES
// tuples are rewritten as CSV rows for the LoadInfile ingest path instead
// of as SQL text. Unlike ReadDataSQL, a mid-table column-list change is
// always fatal here (the bulk-loader's column list for the pipe is fixed
// once LOAD DATA starts reading it), never tolerated.
func (im *Importer) ReadDataCSV(ctx context.Context, w load.CSVSink) (bool, error) {
	rows := 0
	for rows < im.batchLimit() {
		kind, err := im.tok.Next()
		if err != nil {
			return false, err
		}
		switch kind {
		case sqltoken.EOF:
			im.atEOF = true
			return false, nil
		case sqltoken.Identifier:
			word := string(im.tok.StringValue())
			switch {
			case !im.tok.IdentifierWasEscaped() && strings.EqualFold(word, "DELIMITER"):
				if err := im.skipDelimiterBlock(); err != nil {
					return false, err
				}
			case !im.tok.IdentifierWasEscaped() && strings.EqualFold(word, "CREATE"):
				table, ok, err := im.tryParseCreateTable()
				if err != nil {
					return false, err
				}
				if ok {
					im.pendingCreateSQL = ddl.ToCreateTableSQL(table) + ";"
					im.havePending = true
					return false, nil
				}
			case !im.tok.IdentifierWasEscaped() && strings.EqualFold(word, "INSERT"):
				n, err := im.rewriteInsertStatementCSV(w)
				if err != nil {
					return false, err
				}
				rows += n
			}
		}
	}
	return !im.atEOF, nil
}

// rewriteInsertStatementCSV mirrors rewriteInsertStatement's INSERT header
// parsing, but feeds the VALUES tuples to rewriteValuesListCSV and treats
// any column-list change against the table's current column order as an
// UnsupportedFormatError regardless of whether rows were already emitted.
func (im *Importer) rewriteInsertStatementCSV(w load.CSVSink) (int, error) {
	kind, err := im.tok.Next()
	if err != nil {
		return 0, err
	}
	if kind == sqltoken.Identifier && strings.EqualFold(string(im.tok.StringValue()), "IGNORE") {
		if kind, err = im.tok.Next(); err != nil {
			return 0, err
		}
	}
	if kind != sqltoken.Identifier || !strings.EqualFold(string(im.tok.StringValue()), "INTO") {
		return 0, fmt.Errorf("sqlload: expected INTO after INSERT, got %s", kind)
	}
	if kind, err = im.tok.Next(); err != nil {
		return 0, err
	}
	if kind != sqltoken.Identifier {
		return 0, fmt.Errorf("sqlload: expected table name after INSERT INTO, got %s", kind)
	}
	targetTable := string(im.tok.StringValue())

	var cols []string
	if kind, err = im.tok.Next(); err != nil {
		return 0, err
	}
	if kind == sqltoken.LeftParen {
		cols, err = im.parseColumnList()
		if err != nil {
			return 0, err
		}
		if kind, err = im.tok.Next(); err != nil {
			return 0, err
		}
	}
	if kind != sqltoken.Identifier || !strings.EqualFold(string(im.tok.StringValue()), "VALUES") {
		return 0, fmt.Errorf("sqlload: expected VALUES, got %s", kind)
	}

	if !strings.EqualFold(targetTable, im.table) {
		im.skipValuesList()
		return 0, nil
	}

	if cols != nil && !sameColumns(cols, im.columns) {
		return 0, &load.UnsupportedFormatError{Table: im.table, Message: "INSERT column order changed mid-table; the bulk-loader's column list is fixed for the lifetime of the pipe"}
	}

	return im.rewriteValuesListCSV(w)
}

// rewriteValuesListCSV rewrites every `(v1,v2,...)` tuple until the
// terminating ';' (or EOF) into one CSV line per tuple, written to w.
func (im *Importer) rewriteValuesListCSV(w load.CSVSink) (int, error) {
	rows := 0
	for {
		kind, err := im.tok.Next()
		if err != nil {
			return rows, err
		}
		if kind == sqltoken.Semicolon || kind == sqltoken.EOF {
			return rows, nil
		}
		if kind == sqltoken.Comma {
			continue
		}
		if kind != sqltoken.LeftParen {
			return rows, fmt.Errorf("sqlload: expected '(' starting a VALUES tuple, got %s", kind)
		}
		var line strings.Builder
		cell := 0
		for {
			kind, err := im.tok.Next()
			if err != nil {
				return rows, err
			}
			if kind == sqltoken.RightParen {
				break
			}
			if kind == sqltoken.Comma {
				continue
			}
			if cell > 0 {
				line.WriteByte(',')
			}
			if err := writeRewrittenCellCSV(&line, im.tok, kind); err != nil {
				return rows, err
			}
			cell++
		}
		line.WriteByte('\n')
		if err := w.Write(line.String()); err != nil {
			return rows, err
		}
		rows++
	}
}

// writeRewrittenCellCSV mirrors writeRewrittenCell's per-token dispatch but
// emits the CSV dialect ingest.buildLoadDataSQL configures (FIELDS
// TERMINATED BY ',' OPTIONALLY ENCLOSED BY '"' ESCAPED BY '\\') instead of
// SQL literals. A binary blob is base64-encoded rather than hex-encoded,
// since the bulk loader decodes BLOB-bound fields with FROM_BASE64.
func writeRewrittenCellCSV(b *strings.Builder, tok *sqltoken.Tokenizer, kind sqltoken.Kind) error {
	switch kind {
	case sqltoken.Null:
		b.WriteString(`\N`)
	case sqltoken.Integer:
		b.WriteString(strconv.FormatInt(tok.IntegerValue(), 10))
	case sqltoken.Double:
		b.WriteString(strconv.FormatFloat(tok.DoubleValue(), 'g', -1, 64))
	case sqltoken.String:
		writeCSVField(b, string(tok.StringValue()))
	case sqltoken.BinaryBlob:
		raw, err := hex.DecodeString(string(tok.BinaryHex()))
		if err != nil {
			return fmt.Errorf("sqlload: malformed hex literal: %w", err)
		}
		if len(raw) > 0 {
			b.WriteString(base64.StdEncoding.EncodeToString(raw))
		}
	default:
		return fmt.Errorf("sqlload: unexpected token %s in VALUES tuple", kind)
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
