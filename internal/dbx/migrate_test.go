package dbx

import (
	"context"
	"database/sql"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestMigrate_AppliesPendingMigrations(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	fsys := fstest.MapFS{
		"00001_kv.sql": &fstest.MapFile{Data: []byte(`-- +goose Up
CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT);

-- +goose Down
DROP TABLE kv;
`)},
	}

	require.NoError(t, Migrate(context.Background(), db, fsys, "sqlite3"))
	// second run is a no-op
	require.NoError(t, Migrate(context.Background(), db, fsys, "sqlite3"))

	_, err = db.Exec(`INSERT INTO kv(k, v) VALUES ('a', 'b')`)
	require.NoError(t, err)
}

func TestMigrate_UnknownDialect(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	err = Migrate(context.Background(), db, fstest.MapFS{}, "nosuchdb")
	require.ErrorContains(t, err, "goose dialect")
}
