package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dukerupert/licensegate/internal/database"
	"github.com/dukerupert/licensegate/internal/model"
	"github.com/dukerupert/licensegate/internal/store"
)

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	mu       sync.Mutex
	objects  map[string][]byte
	modified map[string]time.Time
	putErr   error
	puts     int
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte), modified: make(map[string]time.Time)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = data
	m.modified[*input.Key] = time.Now()
	m.puts++
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *input.Key)
	delete(m.modified, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3Client) ListObjectsV2(_ context.Context, input *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := &s3.ListObjectsV2Output{}
	for key, mod := range m.modified {
		if !strings.HasPrefix(key, aws.ToString(input.Prefix)) {
			continue
		}
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key), LastModified: aws.Time(mod)})
	}
	return out, nil
}

func (m *mockS3Client) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupManager(t *testing.T, client *mockS3Client, cfg Config) (*Manager, *store.LicenseStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if cfg.Bucket == "" {
		cfg.Bucket = "ea-secure"
	}
	if cfg.Passphrase == "" {
		cfg.Passphrase = "test-passphrase"
	}
	return NewManager(db, client, cfg, testLogger()), store.NewLicenseStore(db)
}

func TestRunNowUploadsRestorableSnapshot(t *testing.T) {
	client := newMockS3()
	m, ls := setupManager(t, client, Config{})
	ctx := context.Background()

	if _, err := ls.Create(ctx, "trader@example.com", model.PlanPaid, nil); err != nil {
		t.Fatalf("create license: %v", err)
	}

	res, err := m.RunNow(ctx)
	if err != nil {
		t.Fatalf("run now: %v", err)
	}
	if !strings.HasPrefix(res.Key, DefaultPrefix+"licensegate-") || !strings.HasSuffix(res.Key, ".db.enc") {
		t.Errorf("key = %q", res.Key)
	}
	if !client.has(res.Key) {
		t.Fatalf("object %q not uploaded", res.Key)
	}

	plain, err := m.Fetch(ctx, res.Key)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	path := filepath.Join(t.TempDir(), "restored.db")
	if err := os.WriteFile(path, plain, 0600); err != nil {
		t.Fatalf("write restored: %v", err)
	}
	restored, err := database.Open(path)
	if err != nil {
		t.Fatalf("open restored: %v", err)
	}
	defer restored.Close()

	lic, err := store.NewLicenseStore(restored).FindLatestByEmail(ctx, "trader@example.com")
	if err != nil {
		t.Fatalf("find in restored: %v", err)
	}
	if lic == nil || lic.PlanType != model.PlanPaid {
		t.Errorf("restored license = %+v, want paid license", lic)
	}

	st := m.Status()
	if st.State != StateIdle || st.LastKey != res.Key || st.LastBackup == nil {
		t.Errorf("status = %+v", st)
	}
}

func TestRunNowUploadFailure(t *testing.T) {
	client := newMockS3()
	client.putErr = errors.New("bucket gone")
	m, _ := setupManager(t, client, Config{})

	if _, err := m.RunNow(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	st := m.Status()
	if st.State != StateError || !strings.Contains(st.Error, "bucket gone") {
		t.Errorf("status = %+v, want error state", st)
	}
}

func TestFetchWrongPassphrase(t *testing.T) {
	client := newMockS3()
	m, _ := setupManager(t, client, Config{Passphrase: "right"})
	ctx := context.Background()

	res, err := m.RunNow(ctx)
	if err != nil {
		t.Fatalf("run now: %v", err)
	}

	other := NewManager(nil, client, Config{Bucket: "ea-secure", Passphrase: "wrong"}, testLogger())
	if _, err := other.Fetch(ctx, res.Key); err == nil {
		t.Error("expected error with wrong passphrase")
	}
}

func TestCleanupRemovesOldBackups(t *testing.T) {
	client := newMockS3()
	m, _ := setupManager(t, client, Config{Prefix: "db", Retention: 30 * 24 * time.Hour})

	now := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	client.objects["db/old.db.enc"] = []byte("x")
	client.modified["db/old.db.enc"] = now.Add(-31 * 24 * time.Hour)
	client.objects["db/new.db.enc"] = []byte("x")
	client.modified["db/new.db.enc"] = now.Add(-24 * time.Hour)
	client.objects["artifacts/Anchor_v4.zip"] = []byte("x")
	client.modified["artifacts/Anchor_v4.zip"] = now.Add(-365 * 24 * time.Hour)

	n, err := m.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	if client.has("db/old.db.enc") {
		t.Error("old backup should be deleted")
	}
	if !client.has("db/new.db.enc") {
		t.Error("recent backup should be kept")
	}
	if !client.has("artifacts/Anchor_v4.zip") {
		t.Error("objects outside the prefix must not be touched")
	}
}

func TestCleanupZeroRetentionKeepsAll(t *testing.T) {
	client := newMockS3()
	m, _ := setupManager(t, client, Config{})
	client.objects["backups/a.db.enc"] = []byte("x")
	client.modified["backups/a.db.enc"] = time.Now().Add(-1000 * time.Hour)

	n, err := m.Cleanup(context.Background())
	if err != nil || n != 0 {
		t.Errorf("cleanup = %d, %v; want 0, nil", n, err)
	}
}

func TestCheckScheduleOncePerDay(t *testing.T) {
	client := newMockS3()
	m, _ := setupManager(t, client, Config{Hour: 3})
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 2, 59, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.checkSchedule(ctx)
	if client.puts != 0 {
		t.Fatalf("puts = %d before the hour, want 0", client.puts)
	}

	now = now.Add(time.Minute)
	m.checkSchedule(ctx)
	now = now.Add(time.Minute)
	m.checkSchedule(ctx)
	if client.puts != 1 {
		t.Errorf("puts = %d within the hour, want 1", client.puts)
	}

	now = now.Add(24 * time.Hour)
	m.checkSchedule(ctx)
	if client.puts != 2 {
		t.Errorf("puts = %d next day, want 2", client.puts)
	}
}

func TestManagerStopSafety(t *testing.T) {
	m := NewManager(nil, newMockS3(), Config{}, testLogger())
	// Stop without Start must not block or panic.
	m.Stop()

	m.Start(context.Background())
	m.Stop()
}
