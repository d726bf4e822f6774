// Package cellkind categorizes a column's database-reported type name into
// the closed set of rendering behaviors the dumpers and importers dispatch
// on: default (numbers, strings, enums — anything with no special framing),
// date/time values, and binary blobs. Dispatch is always on this closed
// enumeration, never on a host reflection mechanism, matching spec's
// "per-cell encoder dispatches on driver type, not reflection" design note.
package cellkind

import "strings"

// Kind is the semantic category of one column's values.
type Kind int

const (
	Default Kind = iota
	Date
	Binary
)

func (k Kind) String() string {
	switch k {
	case Date:
		return "date"
	case Binary:
		return "binary"
	default:
		return "default"
	}
}

// ColumnInfo is the runtime companion to ddl.Column: a column name paired
// with its semantic category and the driver-reported type name the
// category was derived from.
type ColumnInfo struct {
	Name     string
	Kind     Kind
	RawType  string // e.g. "varbinary(255)", "datetime", "int(11)"
}

// Classify derives a Kind from a driver-reported column type name such as
// those returned by information_schema.columns.column_type or
// *sql.ColumnType.DatabaseTypeName.
func Classify(rawType string) Kind {
	t := strings.ToUpper(rawType)
	switch {
	case containsAny(t, "BLOB", "BINARY", "BIT"):
		return Binary
	case containsAny(t, "DATE", "TIME", "YEAR"):
		return Date
	default:
		return Default
	}
}

// NewColumnInfo builds a ColumnInfo from a column name and its raw driver
// type, classifying it in the process.
func NewColumnInfo(name, rawType string) ColumnInfo {
	return ColumnInfo{Name: name, Kind: Classify(rawType), RawType: rawType}
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// DumpKind is the finer closed enumeration the export-side cell encoders
// dispatch on (spec's design note: "integer family, floating, decimal,
// boolean, string, bytes, datetime — not host language reflection").
// Importers only ever need the coarser ColumnInfo.Kind since their input
// is already textual/typed by the source format; DumpKind exists
// separately because reading straight off a live cursor needs the sharper
// distinction to pick a textual-vs-quoted-vs-hex rendering.
type DumpKind int

const (
	DumpString DumpKind = iota
	DumpInteger
	DumpFloat
	DumpDecimal
	DumpBoolean
	DumpBytes
	DumpDatetime
)

// ClassifyDump derives a DumpKind from a driver-reported column type.
func ClassifyDump(rawType string) DumpKind {
	t := strings.ToUpper(rawType)
	switch {
	case containsAny(t, "BLOB", "BINARY", "BIT"):
		return DumpBytes
	case containsAny(t, "DATE", "TIME", "YEAR"):
		return DumpDatetime
	case containsAny(t, "TINYINT(1)", "BOOL"):
		return DumpBoolean
	case containsAny(t, "DECIMAL", "NUMERIC"):
		return DumpDecimal
	case containsAny(t, "FLOAT", "DOUBLE"):
		return DumpFloat
	case containsAny(t, "INT", "YEAR"):
		return DumpInteger
	default:
		return DumpString
	}
}
