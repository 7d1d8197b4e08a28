package store

import (
	"context"
	"database/sql"
)

const (
	importHashPrefix = "import_hash:"
	adminHashKey     = "admin_password_hash"
)

// SetKV upserts a key-value pair.
func (s *Store) SetKV(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now().UnixNano(),
	)
	return err
}

// GetKV returns the value for a key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetKV(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// DeleteKV removes a key; a missing key is not an error.
func (s *Store) DeleteKV(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

// GetImportedFileHash returns the content hash recorded for an imported file, or "".
func (s *Store) GetImportedFileHash(ctx context.Context, filename string) (string, error) {
	return s.GetKV(ctx, importHashPrefix+filename)
}

// SetImportedFileHash records the content hash of an imported file.
func (s *Store) SetImportedFileHash(ctx context.Context, filename, hash string) error {
	return s.SetKV(ctx, importHashPrefix+filename, hash)
}

// AdminPasswordHash returns the bcrypt hash of the admin password, or "".
func (s *Store) AdminPasswordHash(ctx context.Context) (string, error) {
	return s.GetKV(ctx, adminHashKey)
}

// SetAdminPasswordHash stores the bcrypt hash of the admin password.
func (s *Store) SetAdminPasswordHash(ctx context.Context, hash string) error {
	return s.SetKV(ctx, adminHashKey, hash)
}
