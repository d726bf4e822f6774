// Package jsondump implements the JSON dump format (spec §4.5): a
// multiplexable dumper emitting a single top-level
// {"version":2,"tables":[...]} envelope, one object per table with
// ordered keys name/create_statement/columns/approx_count/rows/actual_count.
package jsondump

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"mysqlchump/internal/cellkind"
	"mysqlchump/internal/dump"
	"mysqlchump/internal/textpipe"
)

// Format is the JSON dumper. Close must be called once after the last
// table has been written to close the envelope; RunTemplate only drives
// per-table framing, since it has no notion of "last table".
type Format struct {
	wroteAnyTable bool
	wroteAnyRow   bool
}

var _ dump.Format = (*Format)(nil)

func (f *Format) Multiplexable() bool { return true }

func (f *Format) WritePreamble(w *textpipe.PipeTextWriter, table, createSQL string, cols []cellkind.ColumnInfo, approxCount *int64, first bool) error {
	if first {
		if err := w.Write(`{"version":2,"tables":[`); err != nil {
			return err
		}
	}
	if f.wroteAnyTable {
		if err := w.Write(","); err != nil {
			return err
		}
	}
	f.wroteAnyTable = true
	f.wroteAnyRow = false

	if err := w.Write(`{"name":`); err != nil {
		return err
	}
	if err := writeJSONString(w, table); err != nil {
		return err
	}
	if err := w.Write(`,"create_statement":`); err != nil {
		return err
	}
	if err := writeJSONString(w, createSQL); err != nil {
		return err
	}
	if err := w.Write(`,"columns":{`); err != nil {
		return err
	}
	for i, c := range cols {
		if i > 0 {
			if err := w.Write(","); err != nil {
				return err
			}
		}
		if err := writeJSONString(w, c.Name); err != nil {
			return err
		}
		if err := w.Write(":"); err != nil {
			return err
		}
		if err := writeJSONString(w, c.RawType); err != nil {
			return err
		}
	}
	if err := w.Write(`},"approx_count":`); err != nil {
		return err
	}
	if approxCount == nil {
		if err := w.Write("null"); err != nil {
			return err
		}
	} else if err := w.WriteInt(*approxCount); err != nil {
		return err
	}
	return w.Write(`,"rows":[`)
}

func (f *Format) WriteRow(w *textpipe.PipeTextWriter, cols []cellkind.ColumnInfo, cells []any, rowIndex int64) error {
	if f.wroteAnyRow {
		if err := w.Write(","); err != nil {
			return err
		}
	}
	f.wroteAnyRow = true

	if err := w.Write("["); err != nil {
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
	return w.Write("]")
}

func (f *Format) WritePostamble(w *textpipe.PipeTextWriter, table string, actualCount int64) error {
	if err := w.Write(`],"actual_count":`); err != nil {
		return err
	}
	if err := w.WriteInt(actualCount); err != nil {
		return err
	}
	return w.Write("}")
}

// Close closes the top-level tables array and envelope object. Call it
// once after the last table has been run through dump.RunTemplate.
func (f *Format) Close(w *textpipe.PipeTextWriter) error {
	return w.Write("]}")
}

func writeCell(w *textpipe.PipeTextWriter, col cellkind.ColumnInfo, cell any) error {
	if cell == nil {
		return w.Write("null")
	}
	raw, ok := cell.([]byte)
	if !ok {
		return fmt.Errorf("jsondump: unexpected cell value type %T", cell)
	}

	switch cellkind.ClassifyDump(col.RawType) {
	case cellkind.DumpInteger, cellkind.DumpFloat, cellkind.DumpDecimal:
		return w.Write(string(raw))
	case cellkind.DumpBoolean:
		if len(raw) == 1 && raw[0] == '0' {
			return w.Write("false")
		}
		return w.Write("true")
	case cellkind.DumpBytes:
		return writeJSONString(w, base64.StdEncoding.EncodeToString(raw))
	case cellkind.DumpDatetime:
		return writeJSONString(w, toISO8601(string(raw)))
	default:
		return writeJSONString(w, string(raw))
	}
}

// toISO8601 rewrites a MySQL "YYYY-MM-DD HH:MM:SS" textual datetime into
// "YYYY-MM-DDTHH:MM:SS.fffZ" per spec's JSON datetime encoding; the
// session is forced to UTC so the "Z" suffix is always correct.
func toISO8601(mysqlDatetime string) string {
	if len(mysqlDatetime) < 19 {
		return mysqlDatetime
	}
	date := mysqlDatetime[:10]
	time := mysqlDatetime[11:19]
	millis := "000"
	if len(mysqlDatetime) > 20 {
		frac := mysqlDatetime[20:]
		if len(frac) > 3 {
			frac = frac[:3]
		}
		for len(frac) < 3 {
			frac += "0"
		}
		millis = frac
	}
	return date + "T" + time + "." + millis + "Z"
}

// writeJSONString writes s as a JSON string literal: `"`, `\`, and ASCII
// control characters escaped (`\b \f \n \r \t` or `\u00XX`).
func writeJSONString(w *textpipe.PipeTextWriter, s string) error {
	if err := w.Write(`"`); err != nil {
		return err
	}
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		var esc string
		switch {
		case c == '"':
			esc = `\"`
		case c == '\\':
			esc = `\\`
		case c == '\b':
			esc = `\b`
		case c == '\f':
			esc = `\f`
		case c == '\n':
			esc = `\n`
		case c == '\r':
			esc = `\r`
		case c == '\t':
			esc = `\t`
		case c < 0x20:
			esc = `\u00` + hexDigits(c)
		default:
			continue
		}
		if i > start {
			if err := w.Write(s[start:i]); err != nil {
				return err
			}
		}
		if err := w.Write(esc); err != nil {
			return err
		}
		start = i + 1
	}
	if start < len(s) {
		if err := w.Write(s[start:]); err != nil {
			return err
		}
	}
	return w.Write(`"`)
}

const hexAlphabet = "0123456789abcdef"

func hexDigits(b byte) string {
	return strconv.Itoa(int(b>>4)) + string(hexAlphabet[b&0xF])
}
