// Package ddl implements the structured table model and the CREATE TABLE
// parser/renderer pair described in the dump/load pipeline's DDL stage: a
// Table is parsed once from a CREATE TABLE token stream and handed by value
// to a dumper or importer, then re-emitted in one canonical form regardless
// of how the source actually wrote it.
package ddl

// IndexKind classifies a Table index.
type IndexKind int

const (
	IndexRegular IndexKind = iota
	IndexPrimary
	IndexUnique
	IndexFulltext
)

func (k IndexKind) String() string {
	switch k {
	case IndexPrimary:
		return "PRIMARY"
	case IndexUnique:
		return "UNIQUE"
	case IndexFulltext:
		return "FULLTEXT"
	default:
		return "REGULAR"
	}
}

// NullAction is a foreign key's ON DELETE/ON UPDATE referential action.
// The zero value means the clause was absent.
type NullAction string

const (
	ActionCascade  NullAction = "CASCADE"
	ActionSetNull  NullAction = "SET NULL"
	ActionRestrict NullAction = "RESTRICT"
	ActionNoAction NullAction = "NO ACTION"
)

// IndexColumn is one column reference within an index or foreign key
// column list, with an optional prefix length (0 means absent).
type IndexColumn struct {
	Name         string
	PrefixLength int
}

// Index is a PRIMARY KEY, UNIQUE, regular, or FULLTEXT index.
type Index struct {
	Name    string
	Kind    IndexKind
	Columns []IndexColumn
}

// ForeignKey is a table-level FOREIGN KEY constraint.
type ForeignKey struct {
	Name       string
	Columns    []string
	RefTable   string
	RefColumns []string
	OnDelete   NullAction
	OnUpdate   NullAction
}

// DefaultValueKind classifies a column's DEFAULT clause.
type DefaultValueKind int

const (
	DefaultNone DefaultValueKind = iota
	DefaultString
	DefaultNumber
	DefaultNull
	DefaultExpr // bare identifier (CURRENT_TIMESTAMP) or a parenthesized expression
)

// DefaultValue is a column's DEFAULT clause. Text holds the unescaped
// content for DefaultString, the textual number for DefaultNumber, and the
// raw identifier/expression text for DefaultExpr.
type DefaultValue struct {
	Kind DefaultValueKind
	Text string
}

// Column is one CREATE TABLE column definition.
type Column struct {
	Name          string
	Type          string // includes the parenthesized parameter list, e.g. "varchar(255)"
	Nullable      bool   // defaults true unless NOT NULL was asserted
	PrimaryKey    bool
	Default       *DefaultValue
	AutoIncrement bool
	Unsigned      bool
	Charset       string
	Collation     string
	Extra         string // e.g. "UNIQUE"
}

// OptionValueKind classifies a table option's value so it can be
// re-serialized in the same lexical form it was read in.
type OptionValueKind int

const (
	OptIdent OptionValueKind = iota
	OptString
	OptNumber
)

// Option is one `KEY=VALUE` table option (e.g. `ENGINE=InnoDB`). Keys are
// looked up case-insensitively but the original casing is preserved for
// re-emission. A multi-word key is stored exactly as the source spelled
// it (parser.go joins the identifier run with single spaces), so
// `DEFAULT CHARACTER SET` and `DEFAULT CHARSET` are distinct keys even
// though MySQL treats them as synonyms — callers that rewrite an option
// by key (e.g. ENGINE, ROW_FORMAT) are unaffected since those are
// single-word keys with no synonym spelling.
type Option struct {
	Key       string
	Value     string
	ValueKind OptionValueKind
}

// Table is the structured form of a CREATE TABLE statement: an ordered
// column list, an ordered index list, an ordered foreign-key list, and an
// insertion-ordered, case-insensitively keyed option list.
type Table struct {
	Name        string
	Columns     []Column
	Indexes     []Index
	ForeignKeys []ForeignKey
	Options     []Option
}

// Option looks up a table option case-insensitively.
func (t *Table) Option(key string) (string, bool) {
	for _, o := range t.Options {
		if equalFold(o.Key, key) {
			return o.Value, true
		}
	}
	return "", false
}

// SetOption sets or replaces a table option, preserving insertion order for
// new keys and the existing position for keys already present.
func (t *Table) SetOption(key, value string, kind OptionValueKind) {
	for i, o := range t.Options {
		if equalFold(o.Key, key) {
			t.Options[i].Value = value
			t.Options[i].ValueKind = kind
			return
		}
	}
	t.Options = append(t.Options, Option{Key: key, Value: value, ValueKind: kind})
}

// RemoveOption deletes a table option case-insensitively, if present.
func (t *Table) RemoveOption(key string) {
	for i, o := range t.Options {
		if equalFold(o.Key, key) {
			t.Options = append(t.Options[:i], t.Options[i+1:]...)
			return
		}
	}
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
