package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/licensegate/internal/email"
	"github.com/dukerupert/licensegate/internal/model"
)

// LeadDays is how far ahead of a trial's end the notice goes out.
const LeadDays = 3

type LicenseStore interface {
	ListTrialsExpiringBetween(ctx context.Context, start, end time.Time) ([]model.License, error)
	MarkRenewalNoticeSent(ctx context.Context, id int64, now time.Time) (bool, error)
}

type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

type Config struct {
	// Offset shifts UTC to the business time zone used to pick the target day.
	Offset time.Duration
	// Hour is the business-time hour at which the scheduler sweeps. A
	// negative value sweeps on every tick.
	Hour     int
	Interval time.Duration
	Branding email.Branding
}

type Result struct {
	TargetDate string `json:"targetDate"`
	Matched    int    `json:"matched"`
	Sent       int    `json:"sent"`
}

type Scheduler struct {
	mu       sync.RWMutex
	licenses LicenseStore
	notifier Notifier
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	cancel   context.CancelFunc
	done     chan struct{}
	lastRun  string
}

func NewScheduler(licenses LicenseStore, notifier Notifier, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
	return &Scheduler{
		licenses: licenses,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With("component", "reminder"),
		now:      time.Now,
	}
}

// Window returns the target day for a sweep at now and its bounds. The day is
// picked in business time but its bounds are midnight-to-midnight UTC, which is
// how trial expiries have always been matched.
func Window(now time.Time, offset time.Duration) (day string, start, end time.Time) {
	local := now.UTC().Add(offset).AddDate(0, 0, LeadDays)
	start = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	return start.Format("2006-01-02"), start, start.Add(24 * time.Hour)
}

// Sweep mails every active trial ending on the target day that has not been
// notified yet. A failed send is logged and left for the next sweep.
func (s *Scheduler) Sweep(ctx context.Context) (Result, error) {
	now := s.now().UTC()
	day, start, end := Window(now, s.cfg.Offset)
	res := Result{TargetDate: day}

	licenses, err := s.licenses.ListTrialsExpiringBetween(ctx, start, end)
	if err != nil {
		return res, fmt.Errorf("list expiring trials: %w", err)
	}
	res.Matched = len(licenses)

	for _, lic := range licenses {
		if lic.Email == "" {
			continue
		}
		msg := email.TrialEndingMessage(s.cfg.Branding, lic.Email, day)
		if err := s.notifier.Send(ctx, lic.Email, msg.Subject, msg.Body); err != nil {
			s.logger.Error("send trial reminder", "license_id", lic.ID, "email", lic.Email, "error", err)
			continue
		}
		marked, err := s.licenses.MarkRenewalNoticeSent(ctx, lic.ID, now)
		if err != nil {
			s.logger.Error("mark reminder sent", "license_id", lic.ID, "error", err)
			continue
		}
		if !marked {
			continue
		}
		res.Sent++
	}

	s.logger.Info("reminder sweep", "target_date", day, "matched", res.Matched, "sent", res.Sent)
	return res, nil
}

// Start begins the daily sweep loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	local := s.now().UTC().Add(s.cfg.Offset)
	if s.cfg.Hour >= 0 {
		today := local.Format("2006-01-02")
		if local.Hour() != s.cfg.Hour || s.lastRun == today {
			return
		}
		s.lastRun = today
	}

	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("reminder sweep", "error", err)
	}
}
