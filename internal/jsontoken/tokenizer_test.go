package jsontoken

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, input string, bufSize int) []Kind {
	t.Helper()
	tok := New(strings.NewReader(input), bufSize)
	var kinds []Kind
	for {
		k, err := tok.Next()
		require.NoError(t, err)
		if k == EOF {
			break
		}
		kinds = append(kinds, k)
	}
	return kinds
}

func TestTokenizer_ObjectEnvelope(t *testing.T) {
	kinds := collect(t, `{"version":2,"tables":[]}`, 64)
	assert.Equal(t, []Kind{ObjectStart, PropertyName, NumberLong, PropertyName, ArrayStart, ArrayEnd, ObjectEnd}, kinds)
}

func TestTokenizer_CommaIsTransparent(t *testing.T) {
	kinds := collect(t, `[1,2,3]`, 64)
	assert.Equal(t, []Kind{ArrayStart, NumberLong, NumberLong, NumberLong, ArrayEnd}, kinds)
}

func TestTokenizer_PropertyNameVsString(t *testing.T) {
	tok := New(strings.NewReader(`{"name": "value"}`), 64)
	k, err := tok.Next()
	require.NoError(t, err)
	require.Equal(t, ObjectStart, k)

	k, err = tok.Next()
	require.NoError(t, err)
	require.Equal(t, PropertyName, k)
	assert.Equal(t, "name", string(tok.StringValue()))

	k, err = tok.Next()
	require.NoError(t, err)
	require.Equal(t, String, k)
	assert.Equal(t, "value", string(tok.StringValue()))
}

func TestTokenizer_NumberLongVsDouble(t *testing.T) {
	tok := New(strings.NewReader("42"), 64)
	k, err := tok.Next()
	require.NoError(t, err)
	require.Equal(t, NumberLong, k)
	assert.Equal(t, int64(42), tok.IntegerValue())

	tok2 := New(strings.NewReader("-3.5e2"), 64)
	k2, err := tok2.Next()
	require.NoError(t, err)
	require.Equal(t, NumberDouble, k2)
	assert.Equal(t, -350.0, tok2.DoubleValue())
}

func TestTokenizer_BoolAndNull(t *testing.T) {
	kinds := collect(t, "true false null", 64)
	assert.Equal(t, []Kind{Bool, Bool, Null}, kinds)
}

func TestTokenizer_StringEscapes(t *testing.T) {
	tok := New(strings.NewReader(`"a\tb\nc\"d"`), 64)
	k, err := tok.Next()
	require.NoError(t, err)
	require.Equal(t, String, k)
	assert.Equal(t, "a\tb\nc\"d", string(tok.StringValue()))
}

func TestTokenizer_SurrogatePairEscape(t *testing.T) {
	tok := New(strings.NewReader(`"\` + `ud83d\` + `ude00"`), 64)
	k, err := tok.Next()
	require.NoError(t, err)
	require.Equal(t, String, k)
	assert.Equal(t, "😀", string(tok.StringValue()))
}

func TestTokenizer_InvalidEscapeIsError(t *testing.T) {
	tok := New(strings.NewReader(`"\q"`), 64)
	_, err := tok.Next()
	require.Error(t, err)
	var jsonErr *JsonError
	require.ErrorAs(t, err, &jsonErr)
}

func TestTokenizer_UnterminatedStringIsError(t *testing.T) {
	tok := New(strings.NewReader(`"abc`), 64)
	_, err := tok.Next()
	require.Error(t, err)
}

func TestTokenizer_BufferStraddle(t *testing.T) {
	input := `{"version":2,"tables":[{"name":"t","create_statement":"CREATE TABLE t (id INT)","columns":{"id":"INT"},"approx_count":10,"rows":[[1],[2],[null]],"actual_count":3}]}`
	want := collect(t, input, 4096)
	for size := 1; size <= 8; size++ {
		got := collect(t, input, size)
		require.Equal(t, want, got, "buffer size %d", size)
	}
}
