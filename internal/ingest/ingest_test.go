package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"

	"mysqlchump/internal/cellkind"
	"mysqlchump/internal/dbsession"
	"mysqlchump/internal/load"
	"mysqlchump/internal/progress"
	"mysqlchump/internal/textpipe"
)

func TestForceInsertIgnore(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"bare insert", "INSERT INTO `t` (`id`) VALUES (1);\n", "INSERT IGNORE INTO `t` (`id`) VALUES (1);\n"},
		{"already ignore", "INSERT IGNORE INTO `t` (`id`) VALUES (1);\n", "INSERT IGNORE INTO `t` (`id`) VALUES (1);\n"},
		{"unrelated text untouched", "UPDATE `t` SET x = 1;\n", "UPDATE `t` SET x = 1;\n"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, forceInsertIgnore(c.in))
		})
	}
}

func TestBuildLoadDataSQL(t *testing.T) {
	cols := []cellkind.ColumnInfo{
		{Name: "id", RawType: "int(11)"},
		{Name: "avatar", RawType: "blob"},
		{Name: "flags", RawType: "bit(8)"},
	}

	stmt := buildLoadDataSQL("widgets", cols, "mysqlchump-ingest-widgets-0", false)
	assert.Contains(t, stmt, "LOAD DATA LOCAL INFILE 'Reader::mysqlchump-ingest-widgets-0' INTO TABLE `widgets`")
	assert.Contains(t, stmt, "CHARACTER SET utf8mb4")
	assert.Contains(t, stmt, `FIELDS TERMINATED BY ',' OPTIONALLY ENCLOSED BY '"' ESCAPED BY '\\'`)
	assert.Contains(t, stmt, "LINES TERMINATED BY '\\n' (`id`,@v1,@v2)")
	assert.Contains(t, stmt, "SET `avatar` = FROM_BASE64(@v1), `flags` = CAST(@v2 AS SIGNED)")
	assert.NotContains(t, stmt, "IGNORE 1 LINES")
	assert.NotContains(t, stmt, " IGNORE INTO")

	ignored := buildLoadDataSQL("widgets", cols, "r0", true)
	assert.Contains(t, ignored, "LOCAL INFILE 'Reader::r0' IGNORE INTO TABLE `widgets`")
}

func TestBuildLoadDataSQL_NoBinaryColumns(t *testing.T) {
	cols := []cellkind.ColumnInfo{{Name: "id", RawType: "int(11)"}, {Name: "name", RawType: "varchar(255)"}}
	stmt := buildLoadDataSQL("t", cols, "r", false)
	assert.Contains(t, stmt, "(`id`,`name`)")
	assert.NotContains(t, stmt, "SET ")
}

// fakeCSVImporter feeds a fixed sequence of already-formatted CSV chunks to
// the LoadInfile producer, simulating an importer positioned mid-table.
type fakeCSVImporter struct {
	batches []string
	i       int
}

func (f *fakeCSVImporter) ReadNextTable(ctx context.Context) (bool, string, *int64, error) {
	return false, "", nil, nil
}
func (f *fakeCSVImporter) BeginTable(table string, columns []cellkind.ColumnInfo) error { return nil }
func (f *fakeCSVImporter) ReadDataSQL(ctx context.Context) (string, bool, error) {
	return "", false, nil
}
func (f *fakeCSVImporter) ReadDataCSV(ctx context.Context, w load.CSVSink) (bool, error) {
	if f.i >= len(f.batches) {
		return false, nil
	}
	if err := w.Write(f.batches[f.i]); err != nil {
		return false, err
	}
	f.i++
	return f.i < len(f.batches), nil
}

var _ load.Importer = (*fakeCSVImporter)(nil)

func TestRunLoadInfileProducer_RoutesRoundRobinAndCompletesEveryPipe(t *testing.T) {
	imp := &fakeCSVImporter{batches: []string{"a\n", "b\n", "c\n", "d\n"}}

	pipes := []*textpipe.Pipe{textpipe.NewPipe(1<<20, 512<<10), textpipe.NewPipe(1<<20, 512<<10)}
	writers := []*textpipe.PipeTextWriter{
		textpipe.NewPipeTextWriter(pipes[0], 0),
		textpipe.NewPipeTextWriter(pipes[1], 0),
	}

	err := runLoadInfileProducer(context.Background(), "t", imp, pipes, writers, nil)
	require.NoError(t, err)

	var got [2]string
	for i, p := range pipes {
		buf := make([]byte, 64)
		for {
			n, err := p.Read(buf)
			got[i] += string(buf[:n])
			if err != nil {
				break
			}
		}
	}

	assert.Equal(t, "a\nc\n", got[0])
	assert.Equal(t, "b\nd\n", got[1])
}

func TestRunLoadInfileProducer_PropagatesImporterError(t *testing.T) {
	imp := &erroringCSVImporter{err: assert.AnError}
	pipes := []*textpipe.Pipe{textpipe.NewPipe(1<<20, 512<<10)}
	writers := []*textpipe.PipeTextWriter{textpipe.NewPipeTextWriter(pipes[0], 0)}

	err := runLoadInfileProducer(context.Background(), "t", imp, pipes, writers, nil)
	require.ErrorIs(t, err, assert.AnError)

	_, readErr := pipes[0].Read(make([]byte, 1))
	assert.ErrorIs(t, readErr, assert.AnError)
}

type erroringCSVImporter struct{ err error }

func (e *erroringCSVImporter) ReadNextTable(ctx context.Context) (bool, string, *int64, error) {
	return false, "", nil, nil
}
func (e *erroringCSVImporter) BeginTable(table string, columns []cellkind.ColumnInfo) error {
	return nil
}
func (e *erroringCSVImporter) ReadDataSQL(ctx context.Context) (string, bool, error) {
	return "", false, nil
}
func (e *erroringCSVImporter) ReadDataCSV(ctx context.Context, w load.CSVSink) (bool, error) {
	return false, e.err
}

var _ load.Importer = (*erroringCSVImporter)(nil)

// fakeSQLImporter feeds a fixed sequence of INSERT statements to the
// SqlStatements producer.
type fakeSQLImporter struct {
	batches []string
	i       int
}

func (f *fakeSQLImporter) ReadNextTable(ctx context.Context) (bool, string, *int64, error) {
	return false, "", nil, nil
}
func (f *fakeSQLImporter) BeginTable(table string, columns []cellkind.ColumnInfo) error { return nil }
func (f *fakeSQLImporter) ReadDataSQL(ctx context.Context) (string, bool, error) {
	if f.i >= len(f.batches) {
		return "", false, nil
	}
	b := f.batches[f.i]
	f.i++
	return b, f.i < len(f.batches), nil
}
func (f *fakeSQLImporter) ReadDataCSV(ctx context.Context, w load.CSVSink) (bool, error) {
	return false, nil
}

var _ load.Importer = (*fakeSQLImporter)(nil)

func TestRunSQLProducer_DrainsAllBatchesAndClosesChannel(t *testing.T) {
	imp := &fakeSQLImporter{batches: []string{"INSERT 1;", "INSERT 2;", "INSERT 3;"}}
	ch := make(chan string, 2)

	done := make(chan error, 1)
	go func() { done <- runSQLProducer(context.Background(), "t", imp, ch, nil) }()

	var got []string
	for stmt := range ch {
		got = append(got, stmt)
	}
	require.NoError(t, <-done)
	assert.Equal(t, []string{"INSERT 1;", "INSERT 2;", "INSERT 3;"}, got)
}

func setupMySQL(t *testing.T, ctx context.Context) string {
	t.Helper()

	container, err := mysql.Run(ctx, "mysql:8.0",
		mysql.WithDatabase("testdb"),
		mysql.WithUsername("root"),
		mysql.WithPassword("testpass"),
	)
	require.NoError(t, err, "failed to start MySQL container")

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "parseTime=true", "allowAllFiles=true")
	require.NoError(t, err, "failed to get connection string")
	return dsn
}

func TestRun_SqlStatementsIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	dsn := setupMySQL(t, ctx)

	sess, err := dbsession.Connect(ctx, dsn)
	require.NoError(t, err)
	defer sess.Close()
	require.NoError(t, sess.Exec(ctx, "CREATE TABLE widgets (id int NOT NULL PRIMARY KEY, name varchar(64))"))

	imp := &fakeSQLImporter{batches: []string{
		"INSERT INTO `widgets` (`id`,`name`) VALUES (1,'a');\n",
		"INSERT INTO `widgets` (`id`,`name`) VALUES (2,'b');\n",
	}}

	reporter := progress.New(nil, 0)
	err = Run(ctx, "widgets", nil, imp, Options{DSN: dsn, Workers: 2, Mechanism: SqlStatements, Reporter: reporter})
	require.NoError(t, err)

	rows, cols, err := sess.OpenCursor(ctx, "SELECT id FROM widgets ORDER BY id")
	require.NoError(t, err)
	defer rows.Close()
	assert.Len(t, cols, 1)

	var count int
	for rows.Next() {
		count++
	}
	assert.Equal(t, 2, count)
}
