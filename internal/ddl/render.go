package ddl

import (
	"strconv"
	"strings"
)

// ToCreateTableSQL renders table to its canonical CREATE TABLE form. Given
// any Table produced by ParseCreateTable, re-parsing this output yields a
// Table equal to the original: identifiers are always backtick-quoted,
// clauses appear in a fixed order, and every whitespace decision is made
// exactly once here rather than being inherited from the source text.
func ToCreateTableSQL(table *Table) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	writeIdent(&b, table.Name)
	b.WriteString(" (\n")

	var parts []string
	for _, col := range table.Columns {
		parts = append(parts, renderColumn(col))
	}
	for _, idx := range table.Indexes {
		parts = append(parts, renderIndex(idx))
	}
	for _, fk := range table.ForeignKeys {
		parts = append(parts, renderForeignKey(fk))
	}
	for i, p := range parts {
		b.WriteString("  ")
		b.WriteString(p)
		if i != len(parts)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	b.WriteByte(')')

	for _, opt := range table.Options {
		b.WriteByte(' ')
		b.WriteString(opt.Key)
		b.WriteByte('=')
		b.WriteString(renderOptionValue(opt))
	}
	return b.String()
}

// renderColumn writes the column clauses in this order:
// <type> [UNSIGNED] [AUTO_INCREMENT] [CHARACTER SET '<cs>'] [COLLATE
// '<coll>'] <NULL|NOT NULL> [DEFAULT <value>] [PRIMARY KEY] [<extra>].
// CHARACTER SET is
// part of the type spec in MySQL's own grammar, not a trailing column
// attribute — emitting it after NOT NULL/DEFAULT is a syntax error on the
// server, not just a style deviation.
func renderColumn(col Column) string {
	var b strings.Builder
	writeIdent(&b, col.Name)
	b.WriteByte(' ')
	b.WriteString(col.Type)
	if col.Unsigned {
		b.WriteString(" UNSIGNED")
	}
	if col.AutoIncrement {
		b.WriteString(" AUTO_INCREMENT")
	}
	if col.Charset != "" {
		b.WriteString(" CHARACTER SET '")
		b.WriteString(escapeSQLString(col.Charset))
		b.WriteByte('\'')
	}
	if col.Collation != "" {
		b.WriteString(" COLLATE '")
		b.WriteString(escapeSQLString(col.Collation))
		b.WriteByte('\'')
	}
	if !col.Nullable {
		b.WriteString(" NOT NULL")
	} else {
		b.WriteString(" NULL")
	}
	if col.Default != nil {
		b.WriteString(" DEFAULT ")
		b.WriteString(renderDefaultValue(*col.Default))
	}
	if col.PrimaryKey {
		b.WriteString(" PRIMARY KEY")
	}
	if col.Extra != "" {
		b.WriteByte(' ')
		b.WriteString(col.Extra)
	}
	return b.String()
}

func renderDefaultValue(dv DefaultValue) string {
	switch dv.Kind {
	case DefaultString:
		return "'" + doubleQuotes(dv.Text) + "'"
	case DefaultNumber, DefaultExpr:
		return dv.Text
	case DefaultNull:
		return "NULL"
	default:
		return "NULL"
	}
}

// RenderIndexClause renders idx the way it appears inside a CREATE TABLE's
// column list, for reuse in a standalone `ALTER TABLE ... ADD <clause>`
// statement when replaying a deferred index.
func RenderIndexClause(idx Index) string { return renderIndex(idx) }

// RenderForeignKeyClause renders fk the way it appears inside a CREATE
// TABLE's column list, for reuse in a standalone `ALTER TABLE ... ADD
// <clause>` statement when replaying a deferred foreign key.
func RenderForeignKeyClause(fk ForeignKey) string { return renderForeignKey(fk) }

func renderIndex(idx Index) string {
	var b strings.Builder
	switch idx.Kind {
	case IndexPrimary:
		b.WriteString("PRIMARY KEY ")
	case IndexUnique:
		b.WriteString("UNIQUE KEY ")
		writeOptionalIdent(&b, idx.Name)
	case IndexFulltext:
		b.WriteString("FULLTEXT KEY ")
		writeOptionalIdent(&b, idx.Name)
	default:
		b.WriteString("KEY ")
		writeOptionalIdent(&b, idx.Name)
	}
	writeColumnList(&b, idx.Columns)
	return b.String()
}

func renderForeignKey(fk ForeignKey) string {
	var b strings.Builder
	if fk.Name != "" {
		b.WriteString("CONSTRAINT ")
		writeIdent(&b, fk.Name)
		b.WriteByte(' ')
	}
	b.WriteString("FOREIGN KEY ")
	writeIdentList(&b, fk.Columns)
	b.WriteString(" REFERENCES ")
	writeIdent(&b, fk.RefTable)
	b.WriteByte(' ')
	writeIdentList(&b, fk.RefColumns)
	if fk.OnDelete != "" {
		b.WriteString(" ON DELETE ")
		b.WriteString(string(fk.OnDelete))
	}
	if fk.OnUpdate != "" {
		b.WriteString(" ON UPDATE ")
		b.WriteString(string(fk.OnUpdate))
	}
	return b.String()
}

func renderOptionValue(opt Option) string {
	switch opt.ValueKind {
	case OptString:
		return "'" + escapeSQLString(opt.Value) + "'"
	default:
		return opt.Value
	}
}

func writeIdent(b *strings.Builder, name string) {
	b.WriteByte('`')
	b.WriteString(strings.ReplaceAll(name, "`", "``"))
	b.WriteByte('`')
}

func writeOptionalIdent(b *strings.Builder, name string) {
	if name == "" {
		return
	}
	writeIdent(b, name)
	b.WriteByte(' ')
}

func writeColumnList(b *strings.Builder, cols []IndexColumn) {
	b.WriteByte('(')
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		writeIdent(b, c.Name)
		if c.PrefixLength > 0 {
			b.WriteByte('(')
			b.WriteString(strconv.Itoa(c.PrefixLength))
			b.WriteByte(')')
		}
	}
	b.WriteByte(')')
}

func writeIdentList(b *strings.Builder, names []string) {
	b.WriteByte('(')
	for i, n := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		writeIdent(b, n)
	}
	b.WriteByte(')')
}
