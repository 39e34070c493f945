package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/licensegate/internal/model"
)

type LicenseStore struct {
	db *sql.DB
}

func NewLicenseStore(db *sql.DB) *LicenseStore {
	return &LicenseStore{db: db}
}

func scanLicense(scanner interface{ Scan(...any) error }) (*model.License, error) {
	var l model.License
	var customerID, planType, boundServer, boundBroker sql.NullString
	var boundAccount sql.NullInt64
	var firstSeenAt, expiresAt, graceUntil, boundAt sql.NullTime
	var lastCheckAt, lastActiveAt, noticeSentAt, downloadedAt sql.NullTime

	err := scanner.Scan(
		&l.ID, &customerID, &l.Email, &planType, &l.Status,
		&firstSeenAt, &expiresAt, &graceUntil,
		&boundAccount, &boundServer, &boundBroker, &boundAt,
		&lastCheckAt, &lastActiveAt, &noticeSentAt, &downloadedAt,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if customerID.Valid {
		l.StripeCustomerID = &customerID.String
	}
	if planType.Valid {
		l.PlanType = model.PlanType(planType.String)
	}
	if boundAccount.Valid {
		l.BoundAccount = &boundAccount.Int64
	}
	if boundServer.Valid {
		l.BoundServer = &boundServer.String
	}
	if boundBroker.Valid {
		l.BoundBroker = &boundBroker.String
	}
	l.FirstSeenAt = timePtr(firstSeenAt)
	l.ExpiresAt = timePtr(expiresAt)
	l.GraceUntil = timePtr(graceUntil)
	l.BoundAt = timePtr(boundAt)
	l.LastCheckAt = timePtr(lastCheckAt)
	l.LastActiveAt = timePtr(lastActiveAt)
	l.RenewalNotice3dSentAt = timePtr(noticeSentAt)
	l.DownloadedAt = timePtr(downloadedAt)
	return &l, nil
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

const licenseCols = `id, stripe_customer_id, email, plan_type, status,
	first_seen_at, expires_at, grace_until,
	bound_account, bound_server, bound_broker, bound_at,
	last_check_at, last_active_at, renewal_notice_3d_sent_at, downloaded_at,
	created_at, updated_at`

// Create inserts a license row without a billing customer, as used for trials
// handed out by an operator.
func (s *LicenseStore) Create(ctx context.Context, email string, plan model.PlanType, expiresAt *time.Time) (*model.License, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO licenses (email, plan_type, status, expires_at, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		email, string(plan), model.StatusActive, nullTime(expiresAt), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert license: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *LicenseStore) GetByID(ctx context.Context, id int64) (*model.License, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+licenseCols+` FROM licenses WHERE id = ?`, id)
	l, err := scanLicense(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get license: %w", err)
	}
	return l, nil
}

// FindLatestByEmail returns the most recently created license for email.
// Older rows for the same address are ignored.
func (s *LicenseStore) FindLatestByEmail(ctx context.Context, email string) (*model.License, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+licenseCols+` FROM licenses WHERE email = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		email,
	)
	l, err := scanLicense(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find license by email: %w", err)
	}
	return l, nil
}

// StartTrial records the first successful check of a trial. It reports false
// when another request already started it.
func (s *LicenseStore) StartTrial(ctx context.Context, id int64, now, expiresAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET first_seen_at = ?, expires_at = ?, last_check_at = ?, updated_at = ?
		 WHERE id = ? AND first_seen_at IS NULL`,
		now.UTC(), expiresAt.UTC(), now.UTC(), now.UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("start trial: %w", err)
	}
	return affectedOne(result)
}

// Bind locks a paid license to a live account. It reports false when the
// license was already bound.
func (s *LicenseStore) Bind(ctx context.Context, id int64, b model.Binding, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET bound_account = ?, bound_server = ?, bound_broker = ?, bound_at = ?,
		 last_check_at = ?, last_active_at = ?, updated_at = ?
		 WHERE id = ? AND bound_account IS NULL`,
		b.Account, b.Server, nullString(b.Broker), now.UTC(), now.UTC(), now.UTC(), now.UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("bind license: %w", err)
	}
	return affectedOne(result)
}

// Unbind clears the account binding so the next live check binds again.
func (s *LicenseStore) Unbind(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET bound_account = NULL, bound_server = NULL, bound_broker = NULL, bound_at = NULL, updated_at = ?
		 WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("unbind license: %w", err)
	}
	return nil
}

// Touch updates last_check_at, and last_active_at as well when active is set.
func (s *LicenseStore) Touch(ctx context.Context, id int64, now time.Time, active bool) error {
	query := `UPDATE licenses SET last_check_at = ?, updated_at = ? WHERE id = ?`
	args := []any{now.UTC(), now.UTC(), id}
	if active {
		query = `UPDATE licenses SET last_check_at = ?, last_active_at = ?, updated_at = ? WHERE id = ?`
		args = []any{now.UTC(), now.UTC(), now.UTC(), id}
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("touch license: %w", err)
	}
	return nil
}

func (s *LicenseStore) MarkDownloaded(ctx context.Context, id int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET downloaded_at = ?, updated_at = ? WHERE id = ?`,
		now.UTC(), now.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark license downloaded: %w", err)
	}
	return nil
}

// UpsertByCustomerID creates or refreshes the license owned by a billing
// customer. Binding and trial bookkeeping are left untouched on update.
func (s *LicenseStore) UpsertByCustomerID(ctx context.Context, u model.LicenseUpsert) (*model.License, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO licenses (stripe_customer_id, email, plan_type, status, expires_at, grace_until, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(stripe_customer_id) DO UPDATE SET
		   email = excluded.email,
		   plan_type = excluded.plan_type,
		   status = excluded.status,
		   expires_at = COALESCE(excluded.expires_at, licenses.expires_at),
		   grace_until = COALESCE(excluded.grace_until, licenses.grace_until),
		   updated_at = excluded.updated_at`,
		u.StripeCustomerID, u.Email, string(u.PlanType), u.Status, nullTime(u.ExpiresAt), nullTime(u.GraceUntil), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert license: %w", err)
	}
	return s.GetByCustomerID(ctx, u.StripeCustomerID)
}

func (s *LicenseStore) GetByCustomerID(ctx context.Context, customerID string) (*model.License, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+licenseCols+` FROM licenses WHERE stripe_customer_id = ?`, customerID)
	l, err := scanLicense(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get license by customer: %w", err)
	}
	return l, nil
}

// UpdateBillingPeriod sets the paid-through date and grace window for the
// customer's license and reactivates it. It reports false if no license
// belongs to the customer.
func (s *LicenseStore) UpdateBillingPeriod(ctx context.Context, customerID string, expiresAt, graceUntil time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET expires_at = ?, grace_until = ?, status = ?, updated_at = ? WHERE stripe_customer_id = ?`,
		expiresAt.UTC(), graceUntil.UTC(), model.StatusActive, time.Now().UTC(), customerID,
	)
	if err != nil {
		return false, fmt.Errorf("update billing period: %w", err)
	}
	return affectedOne(result)
}

func (s *LicenseStore) UpdateStatusByCustomerID(ctx context.Context, customerID, status string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET status = ?, updated_at = ? WHERE stripe_customer_id = ?`,
		status, time.Now().UTC(), customerID,
	)
	if err != nil {
		return false, fmt.Errorf("update license status: %w", err)
	}
	return affectedOne(result)
}

// ListTrialsExpiringBetween returns active trials that have not been sent the
// three-day notice and expire in [start, end).
func (s *LicenseStore) ListTrialsExpiringBetween(ctx context.Context, start, end time.Time) ([]model.License, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+licenseCols+` FROM licenses
		 WHERE plan_type = ? AND status = ? AND renewal_notice_3d_sent_at IS NULL
		   AND expires_at >= ? AND expires_at < ?
		 ORDER BY expires_at, id`,
		string(model.PlanTrial), model.StatusActive, start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list expiring trials: %w", err)
	}
	defer rows.Close()

	var licenses []model.License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		licenses = append(licenses, *l)
	}
	return licenses, rows.Err()
}

// MarkRenewalNoticeSent stamps the three-day notice. It reports false when
// the notice was already recorded.
func (s *LicenseStore) MarkRenewalNoticeSent(ctx context.Context, id int64, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET renewal_notice_3d_sent_at = ?, updated_at = ? WHERE id = ? AND renewal_notice_3d_sent_at IS NULL`,
		now.UTC(), now.UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("mark renewal notice sent: %w", err)
	}
	return affectedOne(result)
}

func affectedOne(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
