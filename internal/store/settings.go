package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// KeyArtifactPath holds the object key of the build currently handed out on
// download.
const KeyArtifactPath = "artifact_path"

type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// Get returns the value for key, or "" if the key has never been set.
func (s *SettingsStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}

func (s *SettingsStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// ArtifactPath returns the configured artifact object key, or "" if unset.
func (s *SettingsStore) ArtifactPath(ctx context.Context) (string, error) {
	return s.Get(ctx, KeyArtifactPath)
}

func (s *SettingsStore) SetArtifactPath(ctx context.Context, path string) error {
	return s.Set(ctx, KeyArtifactPath, path)
}
