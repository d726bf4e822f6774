package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	src := `
dsn = "user:pass@tcp(127.0.0.1:3306)/mydb"
format = "json"
parallelism = 4
mechanism = "load-infile"
`
	p, err := Decode(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, "user:pass@tcp(127.0.0.1:3306)/mydb", p.DSN)
	assert.Equal(t, "json", p.Format)
	assert.Equal(t, 4, p.Parallelism)
	assert.Equal(t, "load-infile", p.Mechanism)
}

func TestLoad_MissingPathReturnsZeroProfile(t *testing.T) {
	p, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, &Profile{}, p)

	p, err = Load("/nonexistent/path/profile.toml")
	require.NoError(t, err)
	assert.Equal(t, &Profile{}, p)
}

func TestMergeString(t *testing.T) {
	assert.Equal(t, "explicit", MergeString("explicit", "default", "profile"))
	assert.Equal(t, "profile", MergeString("default", "default", "profile"))
	assert.Equal(t, "default", MergeString("default", "default", ""))
}

func TestMergeInt(t *testing.T) {
	assert.Equal(t, 8, MergeInt(8, 4, 16))
	assert.Equal(t, 16, MergeInt(4, 4, 16))
	assert.Equal(t, 4, MergeInt(4, 4, 0))
}
