package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/licensegate/internal/database"
	"github.com/dukerupert/licensegate/internal/model"
)

func setupLicenseTestDB(t *testing.T) *LicenseStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewLicenseStore(db)
}

func TestLicenseCreate(t *testing.T) {
	ls := setupLicenseTestDB(t)

	l, err := ls.Create(context.Background(), "alice@example.com", model.PlanTrial, nil)
	if err != nil {
		t.Fatalf("create license: %v", err)
	}
	if l.ID == 0 {
		t.Error("expected non-zero ID")
	}
	if l.PlanType != model.PlanTrial {
		t.Errorf("plan_type = %q, want %q", l.PlanType, model.PlanTrial)
	}
	if l.Status != model.StatusActive {
		t.Errorf("status = %q, want %q", l.Status, model.StatusActive)
	}
	if l.FirstSeenAt != nil || l.ExpiresAt != nil || l.BoundAccount != nil {
		t.Error("expected trial bookkeeping to be empty on create")
	}
}

func TestLicenseFindLatestByEmail(t *testing.T) {
	ls := setupLicenseTestDB(t)
	ctx := context.Background()

	ls.Create(ctx, "alice@example.com", model.PlanTrial, nil)
	newer, _ := ls.Create(ctx, "alice@example.com", model.PlanPaid, nil)
	ls.Create(ctx, "bob@example.com", model.PlanTrial, nil)

	l, err := ls.FindLatestByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("find latest: %v", err)
	}
	if l == nil {
		t.Fatal("expected license, got nil")
	}
	if l.ID != newer.ID {
		t.Errorf("id = %d, want newest %d", l.ID, newer.ID)
	}
}

func TestLicenseFindLatestByEmailNotFound(t *testing.T) {
	ls := setupLicenseTestDB(t)

	l, err := ls.FindLatestByEmail(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("find latest: %v", err)
	}
	if l != nil {
		t.Error("expected nil for unknown email")
	}
}

func TestLicenseStartTrialOnce(t *testing.T) {
	ls := setupLicenseTestDB(t)
	ctx := context.Background()

	l, _ := ls.Create(ctx, "alice@example.com", model.PlanTrial, nil)
	now := time.Now().UTC()
	expires := now.Add(14 * 24 * time.Hour)

	ok, err := ls.StartTrial(ctx, l.ID, now, expires)
	if err != nil {
		t.Fatalf("start trial: %v", err)
	}
	if !ok {
		t.Fatal("expected first start to succeed")
	}

	ok, err = ls.StartTrial(ctx, l.ID, now.Add(time.Hour), expires.Add(time.Hour))
	if err != nil {
		t.Fatalf("second start trial: %v", err)
	}
	if ok {
		t.Error("expected second start to be rejected")
	}

	got, _ := ls.GetByID(ctx, l.ID)
	if got.FirstSeenAt == nil || got.ExpiresAt == nil {
		t.Fatal("expected first_seen_at and expires_at to be set")
	}
	if !got.ExpiresAt.Equal(expires) {
		t.Errorf("expires_at = %v, want %v", got.ExpiresAt, expires)
	}
}

func TestLicenseBindOnceAndUnbind(t *testing.T) {
	ls := setupLicenseTestDB(t)
	ctx := context.Background()

	l, _ := ls.Create(ctx, "alice@example.com", model.PlanPaid, nil)
	now := time.Now().UTC()

	ok, err := ls.Bind(ctx, l.ID, model.Binding{Account: 1001, Server: "BrokerA-Live01", Broker: "BrokerA"}, now)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if !ok {
		t.Fatal("expected first bind to succeed")
	}

	ok, _ = ls.Bind(ctx, l.ID, model.Binding{Account: 2002, Server: "BrokerB-Live01", Broker: "BrokerB"}, now)
	if ok {
		t.Error("expected second bind to be rejected")
	}

	got, _ := ls.GetByID(ctx, l.ID)
	if got.BoundAccount == nil || *got.BoundAccount != 1001 {
		t.Errorf("bound_account = %v, want 1001", got.BoundAccount)
	}
	if got.BoundServer == nil || *got.BoundServer != "BrokerA-Live01" {
		t.Errorf("bound_server = %v, want BrokerA-Live01", got.BoundServer)
	}
	if got.LastActiveAt == nil {
		t.Error("expected last_active_at to be set on bind")
	}

	if err := ls.Unbind(ctx, l.ID); err != nil {
		t.Fatalf("unbind: %v", err)
	}
	got, _ = ls.GetByID(ctx, l.ID)
	if got.BoundAccount != nil || got.BoundServer != nil || got.BoundBroker != nil || got.BoundAt != nil {
		t.Error("expected binding to be cleared")
	}

	ok, _ = ls.Bind(ctx, l.ID, model.Binding{Account: 2002, Server: "BrokerB-Live01"}, now)
	if !ok {
		t.Error("expected bind after unbind to succeed")
	}
}

func TestLicenseTouch(t *testing.T) {
	ls := setupLicenseTestDB(t)
	ctx := context.Background()

	l, _ := ls.Create(ctx, "alice@example.com", model.PlanPaid, nil)
	now := time.Now().UTC()

	if err := ls.Touch(ctx, l.ID, now, false); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, _ := ls.GetByID(ctx, l.ID)
	if got.LastCheckAt == nil {
		t.Error("expected last_check_at to be set")
	}
	if got.LastActiveAt != nil {
		t.Error("expected last_active_at to stay empty for a check-only touch")
	}

	if err := ls.Touch(ctx, l.ID, now, true); err != nil {
		t.Fatalf("touch active: %v", err)
	}
	got, _ = ls.GetByID(ctx, l.ID)
	if got.LastActiveAt == nil {
		t.Error("expected last_active_at to be set")
	}
}

func TestLicenseUpsertByCustomerID(t *testing.T) {
	ls := setupLicenseTestDB(t)
	ctx := context.Background()

	l, err := ls.UpsertByCustomerID(ctx, model.LicenseUpsert{
		StripeCustomerID: "cus_123",
		Email:            "alice@example.com",
		Status:           model.StatusActive,
		PlanType:         model.PlanPaid,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if l.StripeCustomerID == nil || *l.StripeCustomerID != "cus_123" {
		t.Errorf("stripe_customer_id = %v, want cus_123", l.StripeCustomerID)
	}

	period := time.Now().UTC().Add(30 * 24 * time.Hour)
	ok, err := ls.UpdateBillingPeriod(ctx, "cus_123", period, period.Add(72*time.Hour))
	if err != nil || !ok {
		t.Fatalf("update billing period: ok=%v err=%v", ok, err)
	}

	// A repeated checkout event must not wipe the billing period.
	again, err := ls.UpsertByCustomerID(ctx, model.LicenseUpsert{
		StripeCustomerID: "cus_123",
		Email:            "alice@example.com",
		Status:           model.StatusActive,
		PlanType:         model.PlanPaid,
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if again.ID != l.ID {
		t.Errorf("id = %d, want %d", again.ID, l.ID)
	}
	if again.ExpiresAt == nil || !again.ExpiresAt.Equal(period) {
		t.Errorf("expires_at = %v, want %v", again.ExpiresAt, period)
	}
	if again.GraceUntil == nil {
		t.Error("expected grace_until to survive the upsert")
	}
}

func TestLicenseUpdateStatusByCustomerID(t *testing.T) {
	ls := setupLicenseTestDB(t)
	ctx := context.Background()

	ok, err := ls.UpdateStatusByCustomerID(ctx, "cus_missing", model.StatusCanceled)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if ok {
		t.Error("expected no rows for unknown customer")
	}

	ls.UpsertByCustomerID(ctx, model.LicenseUpsert{
		StripeCustomerID: "cus_1", Email: "a@example.com", Status: model.StatusActive, PlanType: model.PlanPaid,
	})
	ok, _ = ls.UpdateStatusByCustomerID(ctx, "cus_1", model.StatusCanceled)
	if !ok {
		t.Fatal("expected status update to apply")
	}
	l, _ := ls.GetByCustomerID(ctx, "cus_1")
	if l.Status != model.StatusCanceled {
		t.Errorf("status = %q, want %q", l.Status, model.StatusCanceled)
	}
}

func TestLicenseListTrialsExpiringBetween(t *testing.T) {
	ls := setupLicenseTestDB(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	in := start.Add(12 * time.Hour)
	before := start.Add(-time.Hour)
	after := end

	lastMilli := end.Add(-time.Millisecond)
	longAgo := start.AddDate(0, -6, 0)

	atStart, _ := ls.Create(ctx, "start@example.com", model.PlanTrial, &start)
	match, _ := ls.Create(ctx, "match@example.com", model.PlanTrial, &in)
	edge, _ := ls.Create(ctx, "edge@example.com", model.PlanTrial, &lastMilli)
	ls.Create(ctx, "stale@example.com", model.PlanTrial, &longAgo)
	ls.Create(ctx, "early@example.com", model.PlanTrial, &before)
	ls.Create(ctx, "late@example.com", model.PlanTrial, &after)
	ls.Create(ctx, "paid@example.com", model.PlanPaid, &in)
	ls.Create(ctx, "unstarted@example.com", model.PlanTrial, nil)
	sent, _ := ls.Create(ctx, "sent@example.com", model.PlanTrial, &in)
	ls.MarkRenewalNoticeSent(ctx, sent.ID, time.Now())

	got, err := ls.ListTrialsExpiringBetween(ctx, start, end)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []int64{atStart.ID, match.ID, edge.ID}
	if len(got) != len(want) {
		t.Fatalf("got %d licenses, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("got[%d].ID = %d, want %d", i, got[i].ID, id)
		}
	}
}

func TestLicenseMarkRenewalNoticeSentOnce(t *testing.T) {
	ls := setupLicenseTestDB(t)
	ctx := context.Background()

	l, _ := ls.Create(ctx, "alice@example.com", model.PlanTrial, nil)

	ok, err := ls.MarkRenewalNoticeSent(ctx, l.ID, time.Now())
	if err != nil || !ok {
		t.Fatalf("first mark: ok=%v err=%v", ok, err)
	}
	ok, _ = ls.MarkRenewalNoticeSent(ctx, l.ID, time.Now())
	if ok {
		t.Error("expected second mark to be rejected")
	}
}

func TestLicenseMarkDownloaded(t *testing.T) {
	ls := setupLicenseTestDB(t)
	ctx := context.Background()

	l, _ := ls.Create(ctx, "alice@example.com", model.PlanPaid, nil)
	if err := ls.MarkDownloaded(ctx, l.ID, time.Now()); err != nil {
		t.Fatalf("mark downloaded: %v", err)
	}
	got, _ := ls.GetByID(ctx, l.ID)
	if got.DownloadedAt == nil {
		t.Error("expected downloaded_at to be set")
	}
}

func TestLicenseConcurrentStartTrial(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "licenses.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ls := NewLicenseStore(db)
	ctx := context.Background()

	l, _ := ls.Create(ctx, "alice@example.com", model.PlanTrial, nil)

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			now := time.Now().UTC().Add(time.Duration(i) * time.Second)
			ok, err := ls.StartTrial(ctx, l.ID, now, now.Add(14*24*time.Hour))
			if err != nil {
				t.Errorf("start trial: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("trial started %d times, want 1", wins)
	}
}
