// Package docstore implements a small document database on SQLite: JSON
// documents grouped by collection path, with merge updates and live queries
// that push full snapshots to subscribers.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/starford/daylens/internal/apperr"
	"github.com/starford/daylens/internal/metrics"
)

// Schema creates the documents table.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (collection, id)
);
`

// Document is one stored record.
type Document struct {
	ID   string
	Data json.RawMessage
}

// Decode unmarshals the document body into v.
func (d Document) Decode(v any) error {
	return json.Unmarshal(d.Data, v)
}

// Snapshot is the full result of a query at one point in time.
type Snapshot struct {
	Docs []Document
}

// Query selects every document of a collection, optionally ordered by a
// top-level field.
type Query struct {
	Collection string
	OrderBy    string
	Descending bool
}

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store is the document database.
type Store struct {
	conn   *sql.DB
	path   string
	nextID func() string

	mu        sync.Mutex
	listeners map[uint64]*listener
	seq       uint64

	// local is the database file state right after our latest write.
	local     atomic.Pointer[fileState]
	refreshes atomic.Int64
}

// New wraps an open connection whose schema includes Schema. path is the
// database file, used by Watch; it may be empty when Watch is not used.
func New(conn *sql.DB, path string) *Store {
	return &Store{
		conn:      conn,
		path:      path,
		nextID:    func() string { return uuid.NewString() },
		listeners: make(map[uint64]*listener),
	}
}

// Add stores data as a new document with a generated id.
func (s *Store) Add(ctx context.Context, collection string, data any) (string, error) {
	body, err := encodeObject(data)
	if err != nil {
		return "", err
	}
	id := s.nextID()
	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, updated_at) VALUES (?, ?, ?, ?)`,
		collection, id, string(body), time.Now().UTC())
	if err != nil {
		metrics.StoreOp("add", err)
		return "", fmt.Errorf("docstore: add: %w", err)
	}
	metrics.StoreOp("add", nil)
	s.notify(collection)
	return id, nil
}

// SetOption modifies Set.
type SetOption func(*setOptions)

type setOptions struct{ merge bool }

// Merge makes Set combine data with the stored document: top-level fields
// present in data replace stored ones, all others are kept.
func Merge() SetOption {
	return func(o *setOptions) { o.merge = true }
}

// Set writes data under id, creating the document if needed.
func (s *Store) Set(ctx context.Context, collection, id string, data any, opts ...SetOption) error {
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	err := s.set(ctx, collection, id, data, o)
	metrics.StoreOp("set", err)
	if err != nil {
		return err
	}
	s.notify(collection)
	return nil
}

func (s *Store) set(ctx context.Context, collection, id string, data any, o setOptions) error {
	body, err := encodeObject(data)
	if err != nil {
		return err
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("docstore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if o.merge {
		var current string
		err := tx.QueryRowContext(ctx,
			`SELECT data FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&current)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("docstore: read for merge: %w", err)
		default:
			body, err = mergeObjects([]byte(current), body)
			if err != nil {
				return err
			}
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			data       = excluded.data,
			updated_at = excluded.updated_at
	`, collection, id, string(body), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("docstore: set: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("docstore: commit: %w", err)
	}
	return nil
}

// Delete removes a document. Deleting a missing document is not an error.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.conn.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	metrics.StoreOp("delete", err)
	if err != nil {
		return fmt.Errorf("docstore: delete: %w", err)
	}
	s.notify(collection)
	return nil
}

// Get returns one document or an error wrapping apperr.ErrNotFound.
func (s *Store) Get(ctx context.Context, collection, id string) (Document, error) {
	var data string
	err := s.conn.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("docstore: %s/%s: %w", collection, id, apperr.ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("docstore: get: %w", err)
	}
	return Document{ID: id, Data: json.RawMessage(data)}, nil
}

// Query runs q once.
func (s *Store) Query(ctx context.Context, q Query) (Snapshot, error) {
	stmt := `SELECT id, data FROM documents WHERE collection = ?`
	args := []any{q.Collection}
	if q.OrderBy != "" {
		if !fieldName.MatchString(q.OrderBy) {
			return Snapshot{}, fmt.Errorf("docstore: invalid order field %q", q.OrderBy)
		}
		dir := "ASC"
		if q.Descending {
			dir = "DESC"
		}
		stmt += ` ORDER BY json_extract(data, ?) ` + dir + `, id`
		args = append(args, "$."+q.OrderBy)
	} else {
		stmt += ` ORDER BY id`
	}

	rows, err := s.conn.QueryContext(ctx, stmt, args...)
	if err != nil {
		return Snapshot{}, fmt.Errorf("docstore: query: %w", err)
	}
	defer rows.Close()

	snap := Snapshot{Docs: []Document{}}
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return Snapshot{}, fmt.Errorf("docstore: scan: %w", err)
		}
		snap.Docs = append(snap.Docs, Document{ID: id, Data: json.RawMessage(data)})
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("docstore: rows: %w", err)
	}
	return snap, nil
}

func encodeObject(data any) ([]byte, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("docstore: encode: %w", err)
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil || probe == nil {
		return nil, fmt.Errorf("docstore: document must be a JSON object")
	}
	return body, nil
}

func mergeObjects(current, patch []byte) ([]byte, error) {
	base := map[string]json.RawMessage{}
	if err := json.Unmarshal(current, &base); err != nil {
		return nil, fmt.Errorf("docstore: decode stored document: %w", err)
	}
	var upd map[string]json.RawMessage
	if err := json.Unmarshal(patch, &upd); err != nil {
		return nil, fmt.Errorf("docstore: decode patch: %w", err)
	}
	for k, v := range upd {
		base[k] = v
	}
	out, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("docstore: encode merged document: %w", err)
	}
	return out, nil
}
