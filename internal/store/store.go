package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pavelanni/assessor/internal/model"

	_ "modernc.org/sqlite"
)

// DefaultMaxInQuery is the largest id list a single GetMany accepts.
const DefaultMaxInQuery = 30

var (
	// ErrExists is returned when creating a document that already exists.
	ErrExists = errors.New("document already exists")
	// ErrTooManyIDs is returned when an id list exceeds MaxInQuery.
	ErrTooManyIDs = errors.New("too many ids in one query")
)

var fieldRegex = regexp.MustCompile(`^[A-Za-z0-9_]+(\.[A-Za-z0-9_]+)*$`)

// Store is a document store on SQLite. Documents are JSON values addressed
// by (collection, id); collections may be nested paths like "users/u1/attempts".
type Store struct {
	db    *sql.DB
	maxIn int
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithMaxInQuery sets the id-list limit of GetMany.
func WithMaxInQuery(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxIn = n
		}
	}
}

func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, maxIn: DefaultMaxInQuery, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// MaxInQuery returns the largest id list GetMany accepts.
func (s *Store) MaxInQuery() int {
	return s.maxIn
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(collection, created_at);

	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Filter matches documents whose top-level or dotted JSON field equals Value.
// An empty Field matches every document.
type Filter struct {
	Field string
	Value any
}

func (f Filter) clause() (string, []any, error) {
	if f.Field == "" {
		return "", nil, nil
	}
	if !fieldRegex.MatchString(f.Field) {
		return "", nil, fmt.Errorf("invalid field name %q", f.Field)
	}
	return ` AND json_extract(data, ?) = ?`, []any{"$." + f.Field, f.Value}, nil
}

// OpKind is the kind of a batched write.
type OpKind int

const (
	// OpSet creates or replaces a document.
	OpSet OpKind = iota
	// OpCreate creates a document and fails the batch if it exists.
	OpCreate
	// OpDelete removes a document if present.
	OpDelete
)

// WriteOp is one operation of a BatchWrite.
type WriteOp struct {
	Kind       OpKind
	Collection string
	ID         string
	Doc        any
}

// Get decodes the document into out, or returns model.ErrNotFound.
func (s *Store) Get(ctx context.Context, collection, id string, out any) error {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = ? AND id = ?`, collection, id,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%s/%s: %w", collection, id, model.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), out)
}

// Put creates or replaces a document.
func (s *Store) Put(ctx context.Context, collection, id string, doc any) error {
	return s.BatchWrite(ctx, []WriteOp{{Kind: OpSet, Collection: collection, ID: id, Doc: doc}})
}

// Create stores a new document, or returns ErrExists.
func (s *Store) Create(ctx context.Context, collection, id string, doc any) error {
	return s.BatchWrite(ctx, []WriteOp{{Kind: OpCreate, Collection: collection, ID: id, Doc: doc}})
}

// Delete removes a document; deleting a missing document is not an error.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return s.BatchWrite(ctx, []WriteOp{{Kind: OpDelete, Collection: collection, ID: id}})
}

// BatchWrite applies all ops atomically.
func (s *Store) BatchWrite(ctx context.Context, ops []WriteOp) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.now().UnixNano()
	for _, op := range ops {
		if op.Collection == "" || op.ID == "" {
			return fmt.Errorf("batch write: collection and id are required")
		}
		switch op.Kind {
		case OpDelete:
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM documents WHERE collection = ? AND id = ?`, op.Collection, op.ID,
			); err != nil {
				return fmt.Errorf("delete %s/%s: %w", op.Collection, op.ID, err)
			}
		case OpCreate, OpSet:
			data, err := json.Marshal(op.Doc)
			if err != nil {
				return fmt.Errorf("marshal %s/%s: %w", op.Collection, op.ID, err)
			}
			if op.Kind == OpCreate {
				var exists int
				err := tx.QueryRowContext(ctx,
					`SELECT COUNT(*) FROM documents WHERE collection = ? AND id = ?`, op.Collection, op.ID,
				).Scan(&exists)
				if err != nil {
					return err
				}
				if exists > 0 {
					return fmt.Errorf("%s/%s: %w", op.Collection, op.ID, ErrExists)
				}
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO documents (collection, id, data, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT(collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
				op.Collection, op.ID, string(data), now, now,
			); err != nil {
				return fmt.Errorf("write %s/%s: %w", op.Collection, op.ID, err)
			}
		default:
			return fmt.Errorf("batch write: unknown op kind %d", op.Kind)
		}
	}
	return tx.Commit()
}

// Query returns raw documents of one collection matching f, oldest first.
// A limit of 0 means no limit.
func (s *Store) Query(ctx context.Context, collection string, f Filter, limit int) ([]json.RawMessage, error) {
	where, args, err := f.clause()
	if err != nil {
		return nil, err
	}
	query := `SELECT data FROM documents WHERE collection = ?` + where + ` ORDER BY created_at, id`
	args = append([]any{collection}, args...)
	return s.queryRaw(ctx, query, args, limit)
}

// QueryGroup queries every collection named group at any nesting depth,
// e.g. group "attempts" covers "users/u1/attempts" and "users/u2/attempts".
func (s *Store) QueryGroup(ctx context.Context, group string, f Filter, limit int) ([]json.RawMessage, error) {
	where, args, err := f.clause()
	if err != nil {
		return nil, err
	}
	query := `SELECT data FROM documents WHERE (collection = ? OR collection LIKE ?)` + where + ` ORDER BY created_at, id`
	args = append([]any{group, "%/" + group}, args...)
	return s.queryRaw(ctx, query, args, limit)
}

// GetMany returns the documents with the given ids in unspecified order.
// Missing ids are skipped. At most MaxInQuery ids are accepted per call.
func (s *Store) GetMany(ctx context.Context, collection string, ids []string) ([]json.RawMessage, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > s.maxIn {
		return nil, fmt.Errorf("%d ids (max %d): %w", len(ids), s.maxIn, ErrTooManyIDs)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, collection)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `SELECT data FROM documents WHERE collection = ? AND id IN (` + placeholders + `)`
	return s.queryRaw(ctx, query, args, 0)
}

func (s *Store) queryRaw(ctx context.Context, query string, args []any, limit int) ([]json.RawMessage, error) {
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []json.RawMessage
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		docs = append(docs, json.RawMessage(data))
	}
	return docs, rows.Err()
}

func decodeAll[T any](raws []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}
