package sqlload

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mysqlchump/internal/cellkind"
	"mysqlchump/internal/load"
	"mysqlchump/internal/sqltoken"
)

func newImporter(t *testing.T, src string) *Importer {
	t.Helper()
	return New(sqltoken.New(strings.NewReader(src), 64))
}

func TestImporter_ReadsCreateTableThenInserts(t *testing.T) {
	src := "CREATE TABLE `widgets` (`id` int NOT NULL, `name` varchar(255));\n" +
		"INSERT INTO `widgets` (`id`,`name`) VALUES (1,'o\\'brien'),(2,NULL);\n"
	im := newImporter(t, src)

	found, createSQL, approx, err := im.ReadNextTable(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.Nil(t, approx)
	assert.Contains(t, createSQL, "CREATE TABLE `widgets`")

	im.BeginTable("widgets", []cellkind.ColumnInfo{{Name: "id"}, {Name: "name"}})
	batch, more, err := im.ReadDataSQL(context.Background())
	require.NoError(t, err)
	assert.False(t, more)
	assert.Contains(t, batch, "INSERT INTO `widgets` (`id`,`name`) VALUES")
	assert.Contains(t, batch, "(1,'o''brien')")
	assert.Contains(t, batch, "(2,NULL)")

	found, _, _, err = im.ReadNextTable(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestImporter_SkipsDelimiterFencedProcedure(t *testing.T) {
	src := "DELIMITER $$\nCREATE PROCEDURE p() BEGIN SELECT 1; END$$\nDELIMITER ;\n" +
		"CREATE TABLE `x` (`id` int);\n"
	im := newImporter(t, src)

	found, createSQL, _, err := im.ReadNextTable(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, createSQL, "CREATE TABLE `x`")
}

func TestImporter_ColumnReorderBeforeRowsEmittedIsAccepted(t *testing.T) {
	src := "CREATE TABLE `t` (`a` int, `b` int);\n" +
		"INSERT INTO `t` (`b`,`a`) VALUES (1,2);\n"
	im := newImporter(t, src)

	_, _, _, err := im.ReadNextTable(context.Background())
	require.NoError(t, err)
	im.BeginTable("t", []cellkind.ColumnInfo{{Name: "a"}, {Name: "b"}})

	batch, _, err := im.ReadDataSQL(context.Background())
	require.NoError(t, err)
	assert.Contains(t, batch, "INSERT INTO `t` (`b`,`a`) VALUES")
}

func TestImporter_ColumnReorderAfterRowsEmittedIsUnsupported(t *testing.T) {
	src := "CREATE TABLE `t` (`a` int, `b` int);\n" +
		"INSERT INTO `t` (`a`,`b`) VALUES (1,2);\n" +
		"INSERT INTO `t` (`b`,`a`) VALUES (3,4);\n"
	im := newImporter(t, src)

	_, _, _, err := im.ReadNextTable(context.Background())
	require.NoError(t, err)
	im.BeginTable("t", []cellkind.ColumnInfo{{Name: "a"}, {Name: "b"}})

	_, _, err = im.ReadDataSQL(context.Background())
	require.Error(t, err)
	var unsupported *load.UnsupportedFormatError
	assert.ErrorAs(t, err, &unsupported)
}

type fakeCSVSink struct {
	lines []string
}

func (f *fakeCSVSink) Write(chars string) error {
	f.lines = append(f.lines, chars)
	return nil
}

func TestImporter_ReadDataCSVRewritesRowsAsCSVLines(t *testing.T) {
	src := "CREATE TABLE `widgets` (`id` int NOT NULL, `name` varchar(255), `avatar` blob);\n" +
		"INSERT INTO `widgets` (`id`,`name`,`avatar`) VALUES (1,'a,b',0x6869),(2,NULL,NULL);\n"
	im := newImporter(t, src)

	_, _, _, err := im.ReadNextTable(context.Background())
	require.NoError(t, err)
	require.NoError(t, im.BeginTable("widgets", []cellkind.ColumnInfo{{Name: "id"}, {Name: "name"}, {Name: "avatar"}}))

	sink := &fakeCSVSink{}
	more, err := im.ReadDataCSV(context.Background(), sink)
	require.NoError(t, err)
	assert.False(t, more)
	require.Len(t, sink.lines, 2)
	assert.Equal(t, "1,\"a,b\",aGk=\n", sink.lines[0])
	assert.Equal(t, `2,\N,\N` + "\n", sink.lines[1])
}

func TestImporter_ReadDataCSVColumnReorderMidTableIsAlwaysFatal(t *testing.T) {
	src := "CREATE TABLE `t` (`a` int, `b` int);\n" +
		"INSERT INTO `t` (`a`,`b`) VALUES (1,2);\n"
	im := newImporter(t, src)

	_, _, _, err := im.ReadNextTable(context.Background())
	require.NoError(t, err)
	require.NoError(t, im.BeginTable("t", []cellkind.ColumnInfo{{Name: "b"}, {Name: "a"}}))

	sink := &fakeCSVSink{}
	_, err = im.ReadDataCSV(context.Background(), sink)
	require.Error(t, err)
	var unsupported *load.UnsupportedFormatError
	assert.ErrorAs(t, err, &unsupported)
}

func TestImporter_NewTableSignalWhileDraining(t *testing.T) {
	src := "CREATE TABLE `a` (`id` int);\n" +
		"INSERT INTO `a` (`id`) VALUES (1);\n" +
		"CREATE TABLE `b` (`id` int);\n" +
		"INSERT INTO `b` (`id`) VALUES (2);\n"
	im := newImporter(t, src)

	_, _, _, err := im.ReadNextTable(context.Background())
	require.NoError(t, err)
	im.BeginTable("a", []cellkind.ColumnInfo{{Name: "id"}})

	batch, more, err := im.ReadDataSQL(context.Background())
	require.NoError(t, err)
	assert.False(t, more)
	assert.Contains(t, batch, "(1)")

	found, createSQL, _, err := im.ReadNextTable(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, createSQL, "CREATE TABLE `b`")
}
