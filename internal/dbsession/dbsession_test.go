package dbsession

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
)

func TestSession_SchemaIntrospectionIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	dsn := setupMySQL(t, ctx)

	sess, err := Connect(ctx, dsn)
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.SetupSession(ctx))
	require.NoError(t, sess.Exec(ctx, `CREATE TABLE widgets (
		id int NOT NULL AUTO_INCREMENT PRIMARY KEY,
		name varchar(255) NOT NULL,
		payload varbinary(255),
		created_at datetime NOT NULL
	)`))
	require.NoError(t, sess.Exec(ctx, "INSERT INTO widgets (name, payload, created_at) VALUES ('a', NULL, '2024-01-01 00:00:00')"))

	exists, err := sess.TableExists(ctx, "widgets")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = sess.TableExists(ctx, "missing_table")
	require.NoError(t, err)
	assert.False(t, exists)

	cols, err := sess.Columns(ctx, "widgets")
	require.NoError(t, err)
	require.Len(t, cols, 4)
	assert.Equal(t, "id", cols[0].Name)
	assert.Equal(t, "payload", cols[2].Name)

	count := sess.ApproxRowCount(ctx, "widgets")
	require.NotNil(t, count)

	rows, cursorCols, err := sess.OpenCursor(ctx, "SELECT * FROM widgets")
	require.NoError(t, err)
	defer rows.Close()
	assert.Len(t, cursorCols, 4)

	has, err := sess.IndexExists(ctx, "widgets", "PRIMARY")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = sess.IndexExists(ctx, "widgets", "nonexistent_idx")
	require.NoError(t, err)
	assert.False(t, has)
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

	dsn, err := container.ConnectionString(ctx, "parseTime=true")
	require.NoError(t, err, "failed to get connection string")
	return dsn
}
