package csvdump

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mysqlchump/internal/cellkind"
	"mysqlchump/internal/textpipe"
)

type fakeSink struct {
	mu  sync.Mutex
	buf []byte
}

func (f *fakeSink) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buf = append(f.buf, p...)
	return len(p), nil
}

func (f *fakeSink) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.buf)
}

func TestFormat_HeaderAndRows(t *testing.T) {
	var sink fakeSink
	w := textpipe.NewPipeTextWriter(&sink, 4096)
	cols := []cellkind.ColumnInfo{
		{Name: "id", RawType: "int(11)"},
		{Name: "name", RawType: "varchar(255)"},
		{Name: "avatar", RawType: "blob"},
	}

	f := &Format{Header: true}
	require.NoError(t, f.WritePreamble(w, "t", "", cols, nil, true))
	require.NoError(t, f.WriteRow(w, cols, []any{[]byte("1"), []byte(`a,"b`), []byte("hi")}, 0))
	require.NoError(t, f.WriteRow(w, cols, []any{[]byte("2"), nil, nil}, 1))
	require.NoError(t, f.WritePostamble(w, "t", 2))
	require.NoError(t, w.Close())

	want := "id,name,avatar\n1,\"a,\"\"b\",aGk=\n2,\\N,\\N"
	assert.Equal(t, want, sink.String())
}

func TestFormat_NotMultiplexable(t *testing.T) {
	f := &Format{}
	assert.False(t, f.Multiplexable())
}
