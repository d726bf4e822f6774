package cellkind

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		raw  string
		want Kind
	}{
		{"int(11)", Default},
		{"varchar(255)", Default},
		{"decimal(20,6)", Default},
		{"datetime", Date},
		{"timestamp", Date},
		{"date", Date},
		{"year(4)", Date},
		{"varbinary(255)", Binary},
		{"blob", Binary},
		{"longblob", Binary},
		{"bit(8)", Binary},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.raw), tc.raw)
	}
}

func TestClassifyDump(t *testing.T) {
	cases := []struct {
		raw  string
		want DumpKind
	}{
		{"int(11)", DumpInteger},
		{"bigint(20) unsigned", DumpInteger},
		{"tinyint(1)", DumpBoolean},
		{"decimal(20,6)", DumpDecimal},
		{"double", DumpFloat},
		{"float", DumpFloat},
		{"varchar(255)", DumpString},
		{"text", DumpString},
		{"datetime", DumpDatetime},
		{"varbinary(255)", DumpBytes},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyDump(tc.raw), tc.raw)
	}
}

func TestNewColumnInfo(t *testing.T) {
	ci := NewColumnInfo("avatar", "mediumblob")
	assert.Equal(t, "avatar", ci.Name)
	assert.Equal(t, Binary, ci.Kind)
	assert.Equal(t, "mediumblob", ci.RawType)
}
