package jsondump

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

func TestFormat_SingleTableEnvelope(t *testing.T) {
	var sink fakeSink
	w := textpipe.NewPipeTextWriter(&sink, 4096)
	cols := []cellkind.ColumnInfo{
		{Name: "id", RawType: "int(11)"},
		{Name: "name", RawType: "varchar(255)"},
		{Name: "created", RawType: "datetime"},
	}
	count := int64(2)

	f := &Format{}
	require.NoError(t, f.WritePreamble(w, "widgets", "CREATE TABLE `widgets` (...)", cols, &count, true))
	require.NoError(t, f.WriteRow(w, cols, []any{[]byte("1"), []byte(`o"brien`), []byte("2020-01-02 03:04:05")}, 0))
	require.NoError(t, f.WriteRow(w, cols, []any{[]byte("2"), nil, nil}, 1))
	require.NoError(t, f.WritePostamble(w, "widgets", 2))
	require.NoError(t, f.Close(w))
	require.NoError(t, w.Close())

	want := "{\"version\":2,\"tables\":[{\"name\":\"widgets\",\"create_statement\":\"CREATE TABLE `widgets` (...)\"," +
		"\"columns\":{\"id\":\"int(11)\",\"name\":\"varchar(255)\",\"created\":\"datetime\"}," +
		"\"approx_count\":2,\"rows\":[[1,\"o\\\"brien\",\"2020-01-02T03:04:05.000Z\"],[2,null,null]],\"actual_count\":2}]}"
	assert.Equal(t, want, sink.String())
}

func TestFormat_MultipleTablesShareEnvelope(t *testing.T) {
	var sink fakeSink
	w := textpipe.NewPipeTextWriter(&sink, 4096)
	cols := []cellkind.ColumnInfo{{Name: "id", RawType: "int(11)"}}

	f := &Format{}
	require.NoError(t, f.WritePreamble(w, "a", "", cols, nil, true))
	require.NoError(t, f.WriteRow(w, cols, []any{[]byte("1")}, 0))
	require.NoError(t, f.WritePostamble(w, "a", 1))

	require.NoError(t, f.WritePreamble(w, "b", "", cols, nil, false))
	require.NoError(t, f.WriteRow(w, cols, []any{[]byte("2")}, 0))
	require.NoError(t, f.WritePostamble(w, "b", 1))
	require.NoError(t, f.Close(w))
	require.NoError(t, w.Close())

	out := sink.String()
	assert.Contains(t, out, `"name":"a"`)
	assert.Contains(t, out, `"name":"b"`)
	assert.Contains(t, out, `}]}` /* closed tables array + envelope */)
	assert.Equal(t, 1, countOccurrences(out, `{"version":2`))
}

func TestToISO8601(t *testing.T) {
	assert.Equal(t, "2020-01-02T03:04:05.000Z", toISO8601("2020-01-02 03:04:05"))
	assert.Equal(t, "2020-01-02T03:04:05.120Z", toISO8601("2020-01-02 03:04:05.12"))
}

func TestFormat_Multiplexable(t *testing.T) {
	f := &Format{}
	assert.True(t, f.Multiplexable())
}

func countOccurrences(s, sub string) int {
	count := 0
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			count++
		}
	}
	return count
}
