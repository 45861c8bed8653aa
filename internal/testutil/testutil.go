// Package testutil provides shared test helpers for databases, stores and
// the identity directory.
package testutil

import (
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/starford/daylens/internal/docstore"
	"github.com/starford/daylens/internal/identity"
	"github.com/starford/daylens/internal/sqlite"
)

// TestDB creates a temporary SQLite database with every schema applied.
// It returns the connection and the database file path.
func TestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "daylens-test.db")
	conn, err := sqlite.Open(path, docstore.Schema, identity.Schema)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, path
}

// TestStore returns a document store over a fresh database.
func TestStore(t *testing.T) *docstore.Store {
	t.Helper()
	conn, path := TestDB(t)
	return docstore.New(conn, path)
}

// TestEnv returns a document store and identity directory sharing one database.
func TestEnv(t *testing.T) (*docstore.Store, *identity.Directory) {
	t.Helper()
	conn, path := TestDB(t)
	return docstore.New(conn, path), identity.NewDirectory(conn, identity.WithBcryptCost(bcrypt.MinCost))
}

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
