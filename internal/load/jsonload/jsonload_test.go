package jsonload

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mysqlchump/internal/jsontoken"
	"mysqlchump/internal/load"
)

func newImporter(t *testing.T, src string) *Importer {
	t.Helper()
	return New(jsontoken.New(strings.NewReader(src), 0))
}

func TestImporter_ReadsTableThenRows(t *testing.T) {
	src := `{"version":2,"tables":[` +
		`{"name":"widgets","create_statement":"CREATE TABLE x","columns":` +
		`{"id":"int(11)","name":"varchar(255)","avatar":"blob"},` +
		`"approx_count":10,` +
		`"rows":[[1,"Alice","aGk="],[2,null,null]],` +
		`"actual_count":2}` +
		`]}`
	im := newImporter(t, src)

	found, createSQL, approx, err := im.ReadNextTable(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "CREATE TABLE x", createSQL)
	require.NotNil(t, approx)
	assert.Equal(t, int64(10), *approx)

	require.NoError(t, im.BeginTable("widgets", nil))

	batch, more, err := im.ReadDataSQL(context.Background())
	require.NoError(t, err)
	assert.False(t, more)
	assert.Contains(t, batch, "INSERT INTO `widgets` (`id`,`name`,`avatar`) VALUES (1,'Alice',_binary 0x6869);")
	assert.Contains(t, batch, "VALUES (2,NULL,NULL);")

	found, _, _, err = im.ReadNextTable(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestImporter_RejectsNonVersion2Envelope(t *testing.T) {
	src := `{"version":1,"tables":[]}`
	im := newImporter(t, src)

	_, _, _, err := im.ReadNextTable(context.Background())
	require.Error(t, err)
	var unsupported *load.UnsupportedFormatError
	assert.ErrorAs(t, err, &unsupported)
}

func TestImporter_MultipleTablesInOneEnvelope(t *testing.T) {
	src := `{"version":2,"tables":[` +
		`{"name":"a","create_statement":"CREATE TABLE a","columns":{"id":"int(11)"},"approx_count":null,"rows":[[1]],"actual_count":1},` +
		`{"name":"b","create_statement":"CREATE TABLE b","columns":{"id":"int(11)"},"approx_count":null,"rows":[[2]],"actual_count":1}` +
		`]}`
	im := newImporter(t, src)

	found, _, approx, err := im.ReadNextTable(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.Nil(t, approx)
	require.NoError(t, im.BeginTable("a", nil))
	batch, more, err := im.ReadDataSQL(context.Background())
	require.NoError(t, err)
	assert.False(t, more)
	assert.Contains(t, batch, "INSERT INTO `a` (`id`) VALUES (1);")

	found, _, _, err = im.ReadNextTable(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	require.NoError(t, im.BeginTable("b", nil))
	batch, more, err = im.ReadDataSQL(context.Background())
	require.NoError(t, err)
	assert.False(t, more)
	assert.Contains(t, batch, "INSERT INTO `b` (`id`) VALUES (2);")

	found, _, _, err = im.ReadNextTable(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
}

type fakeCSVSink struct {
	lines []string
}

func (f *fakeCSVSink) Write(chars string) error {
	f.lines = append(f.lines, chars)
	return nil
}

func TestImporter_ReadDataCSVRewritesRowsAsCSVLines(t *testing.T) {
	src := `{"version":2,"tables":[` +
		`{"name":"widgets","create_statement":"CREATE TABLE x","columns":` +
		`{"id":"int(11)","name":"varchar(255)","avatar":"blob","seen":"datetime"},` +
		`"approx_count":null,` +
		`"rows":[[1,"a,b","aGk=","2024-01-02T03:04:05.000Z"],[2,null,null,null]],` +
		`"actual_count":2}` +
		`]}`
	im := newImporter(t, src)

	_, _, _, err := im.ReadNextTable(context.Background())
	require.NoError(t, err)
	require.NoError(t, im.BeginTable("widgets", nil))

	sink := &fakeCSVSink{}
	more, err := im.ReadDataCSV(context.Background(), sink)
	require.NoError(t, err)
	assert.False(t, more)
	require.Len(t, sink.lines, 2)
	assert.Equal(t, "1,\"a,b\",aGk=,2024-01-02 03:04:05\n", sink.lines[0])
	assert.Equal(t, `2,\N,\N,\N` + "\n", sink.lines[1])
}

func TestImporter_BoolAndFloatCells(t *testing.T) {
	src := `{"version":2,"tables":[` +
		`{"name":"t","create_statement":"CREATE TABLE t","columns":{"active":"tinyint(1)","score":"double"},"approx_count":null,` +
		`"rows":[[true,1.5]],"actual_count":1}` +
		`]}`
	im := newImporter(t, src)

	_, _, _, err := im.ReadNextTable(context.Background())
	require.NoError(t, err)
	require.NoError(t, im.BeginTable("t", nil))

	batch, _, err := im.ReadDataSQL(context.Background())
	require.NoError(t, err)
	assert.Contains(t, batch, "VALUES (TRUE,1.5);")
}
