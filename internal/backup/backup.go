package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultPrefix is the key prefix used when Config.Prefix is empty.
const DefaultPrefix = "backups/"

var ErrInProgress = errors.New("backup already in progress")

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config holds backup manager configuration.
type Config struct {
	Bucket     string
	Prefix     string
	Passphrase string
	// Hour is the UTC hour the daily backup runs.
	Hour      int
	Retention time.Duration
}

// State represents the backup manager state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateError   State = "error"
)

// Status holds the current backup manager status.
type Status struct {
	State      State      `json:"state"`
	LastBackup *time.Time `json:"lastBackup,omitempty"`
	LastKey    string     `json:"lastKey,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Result describes one uploaded snapshot.
type Result struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// Manager takes encrypted snapshots of the license database and stores
// them in S3-compatible storage.
type Manager struct {
	mu      sync.RWMutex
	cfg     Config
	status  Status
	lastDay string

	db     *sql.DB
	client s3Client
	logger *slog.Logger
	now    func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a new backup manager.
func NewManager(db *sql.DB, client s3Client, cfg Config, logger *slog.Logger) *Manager {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if !strings.HasSuffix(cfg.Prefix, "/") {
		cfg.Prefix += "/"
	}
	return &Manager{
		cfg:    cfg,
		status: Status{State: StateIdle},
		db:     db,
		client: client,
		logger: logger.With("component", "backup"),
		now:    time.Now,
	}
}

// Start begins the scheduled backup loop.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(1 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.checkSchedule(ctx)
			}
		}
	}()
}

// Stop gracefully stops the backup manager.
func (m *Manager) Stop() {
	m.mu.RLock()
	cancel := m.cancel
	done := m.done
	m.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Status returns the current backup status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// checkSchedule runs at most one backup per UTC day, at the configured hour.
func (m *Manager) checkSchedule(ctx context.Context) {
	now := m.now().UTC()
	day := now.Format(time.DateOnly)

	m.mu.Lock()
	due := now.Hour() == m.cfg.Hour && m.lastDay != day
	if due {
		m.lastDay = day
	}
	m.mu.Unlock()
	if !due {
		return
	}

	if _, err := m.RunNow(ctx); err != nil {
		m.logger.Error("scheduled backup failed", "error", err)
		return
	}
	if _, err := m.Cleanup(ctx); err != nil {
		m.logger.Error("backup cleanup failed", "error", err)
	}
}

// RunNow snapshots the database, encrypts it and uploads it.
func (m *Manager) RunNow(ctx context.Context) (*Result, error) {
	m.mu.Lock()
	if m.status.State == StateRunning {
		m.mu.Unlock()
		return nil, ErrInProgress
	}
	prev := m.status
	m.status = Status{State: StateRunning, LastBackup: prev.LastBackup, LastKey: prev.LastKey}
	m.mu.Unlock()

	res, err := m.run(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.status = Status{State: StateError, LastBackup: prev.LastBackup, LastKey: prev.LastKey, Error: err.Error()}
		return nil, err
	}
	now := m.now().UTC()
	m.status = Status{State: StateIdle, LastBackup: &now, LastKey: res.Key}
	m.logger.Info("backup uploaded", "key", res.Key, "size", res.Size)
	return res, nil
}

func (m *Manager) run(ctx context.Context) (*Result, error) {
	plain, err := m.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	sealed, err := Seal(plain, m.cfg.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}

	key := m.cfg.Prefix + fmt.Sprintf("licensegate-%s.db.enc", m.now().UTC().Format("2006-01-02T150405Z"))
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	})
	if err != nil {
		return nil, fmt.Errorf("upload to s3: %w", err)
	}
	return &Result{Key: key, Size: int64(len(sealed))}, nil
}

// snapshot returns a consistent copy of the live database.
func (m *Manager) snapshot(ctx context.Context) ([]byte, error) {
	dir, err := os.MkdirTemp("", "licensegate-backup-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "snapshot.db")
	quoted := "'" + strings.ReplaceAll(path, "'", "''") + "'"
	if _, err := m.db.ExecContext(ctx, "VACUUM INTO "+quoted); err != nil {
		return nil, fmt.Errorf("vacuum into: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

// Cleanup deletes snapshots under the prefix older than the retention period.
// A zero retention keeps everything.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	if m.cfg.Retention <= 0 {
		return 0, nil
	}
	cutoff := m.now().Add(-m.cfg.Retention)

	var deleted int
	p := s3.NewListObjectsV2Paginator(m.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.cfg.Bucket),
		Prefix: aws.String(m.cfg.Prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return deleted, fmt.Errorf("list backups: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.LastModified == nil || !obj.LastModified.Before(cutoff) {
				continue
			}
			if _, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(m.cfg.Bucket),
				Key:    obj.Key,
			}); err != nil {
				return deleted, fmt.Errorf("delete %s: %w", aws.ToString(obj.Key), err)
			}
			deleted++
		}
	}
	if deleted > 0 {
		m.logger.Info("old backups removed", "count", deleted)
	}
	return deleted, nil
}

// Fetch downloads and decrypts the snapshot stored at key.
func (m *Manager) Fetch(ctx context.Context, key string) ([]byte, error) {
	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("download from s3: %w", err)
	}
	defer out.Body.Close()

	sealed, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read backup: %w", err)
	}
	return Open(sealed, m.cfg.Passphrase)
}
