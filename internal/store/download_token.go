package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dukerupert/licensegate/internal/model"
)

type DownloadTokenStore struct {
	db *sql.DB
}

func NewDownloadTokenStore(db *sql.DB) *DownloadTokenStore {
	return &DownloadTokenStore{db: db}
}

func scanDownloadToken(scanner interface{ Scan(...any) error }) (*model.DownloadToken, error) {
	var dt model.DownloadToken
	var usedAt sql.NullTime
	err := scanner.Scan(&dt.ID, &dt.Token, &dt.Email, &dt.ExpiresAt, &usedAt, &dt.CreatedAt)
	if err != nil {
		return nil, err
	}
	dt.ExpiresAt = dt.ExpiresAt.UTC()
	dt.UsedAt = timePtr(usedAt)
	return &dt, nil
}

const downloadTokenCols = `id, token, email, expires_at, used_at, created_at`

// GenerateToken returns 128 random bits as 32 hex characters.
func GenerateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (s *DownloadTokenStore) Insert(ctx context.Context, email, token string, expiresAt time.Time) (*model.DownloadToken, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO download_tokens (token, email, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		token, email, expiresAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert download token: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+downloadTokenCols+` FROM download_tokens WHERE id = ?`, id)
	return scanDownloadToken(row)
}

// GetByToken returns the token row regardless of its state, or nil if the
// token does not exist.
func (s *DownloadTokenStore) GetByToken(ctx context.Context, token string) (*model.DownloadToken, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+downloadTokenCols+` FROM download_tokens WHERE token = ?`, token)
	dt, err := scanDownloadToken(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get download token: %w", err)
	}
	return dt, nil
}

// MarkUsed consumes the token. It reports false when a concurrent request
// consumed it first.
func (s *DownloadTokenStore) MarkUsed(ctx context.Context, id int64, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE download_tokens SET used_at = ? WHERE id = ? AND used_at IS NULL`,
		now.UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("mark download token used: %w", err)
	}
	return affectedOne(result)
}

// DeleteExpired removes tokens that expired before cutoff, used or not.
func (s *DownloadTokenStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM download_tokens WHERE expires_at <= ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired download tokens: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
