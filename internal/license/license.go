package license

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/licensegate/internal/identity"
	"github.com/dukerupert/licensegate/internal/model"
)

const (
	// TrialPeriod is how long a trial runs from its first check.
	TrialPeriod = 14 * 24 * time.Hour
	// GracePeriod is how long a lapsed paid license keeps working.
	GracePeriod = 3 * 24 * time.Hour
)

type Reason string

const (
	ReasonEmailRequired    Reason = "email_required"
	ReasonAccountRequired  Reason = "account_required"
	ReasonServerRequired   Reason = "server_required"
	ReasonNotFound         Reason = "not_found"
	ReasonPlanTypeInvalid  Reason = "plan_type_invalid"
	ReasonTrialDemoOnly    Reason = "trial_demo_only"
	ReasonTrialStarted     Reason = "trial_started"
	ReasonTrialDemoOK      Reason = "trial_demo_ok"
	ReasonExpired          Reason = "expired"
	ReasonMismatch         Reason = "account_or_server_mismatch"
	ReasonActive           Reason = "active"
	ReasonActiveGrace      Reason = "active_grace"
	ReasonPaidDemoOK       Reason = "paid_demo_ok_not_bound"
	ReasonPaidDemoOKGrace  Reason = "paid_demo_ok_not_bound_grace"
	ReasonActiveBound      Reason = "active_bound"
	ReasonActiveBoundGrace Reason = "active_bound_grace"
	ReasonServerError      Reason = "server_error"
)

// Request is the raw check sent by the EA. Fields are normalized by Validate.
type Request struct {
	Email   string
	Account string
	Server  string
}

type Decision struct {
	Allowed      bool       `json:"ok"`
	Reason       Reason     `json:"reason"`
	ExpiresAt    *time.Time `json:"expires_at"`
	GraceUntil   *time.Time `json:"grace_until"`
	BoundAccount *int64     `json:"bound_account"`
	BoundServer  *string    `json:"bound_server"`
}

// Store is the subset of the license store the validator needs.
type Store interface {
	FindLatestByEmail(ctx context.Context, email string) (*model.License, error)
	GetByID(ctx context.Context, id int64) (*model.License, error)
	StartTrial(ctx context.Context, id int64, now, expiresAt time.Time) (bool, error)
	Bind(ctx context.Context, id int64, b model.Binding, now time.Time) (bool, error)
	Touch(ctx context.Context, id int64, now time.Time, active bool) error
}

type Validator struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Validator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

func NewValidator(store Store, logger *slog.Logger, opts ...Option) *Validator {
	v := &Validator{
		store:  store,
		logger: logger.With("component", "license"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate decides whether the account on server may run under the license
// registered to the request's email. Denials are reported through the
// returned Decision, never as errors.
func (v *Validator) Validate(ctx context.Context, req Request) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("panic during validation", "panic", r)
			d = deny(ReasonServerError)
		}
	}()

	email := identity.Email(req.Email)
	if email == "" {
		return deny(ReasonEmailRequired)
	}
	account := identity.Account(req.Account)
	if account == 0 {
		return deny(ReasonAccountRequired)
	}
	server := identity.Server(req.Server)
	if server == "" {
		return deny(ReasonServerRequired)
	}

	lic, err := v.store.FindLatestByEmail(ctx, email)
	if err != nil {
		return v.fail("find license", err)
	}
	if lic == nil {
		return deny(ReasonNotFound)
	}
	if lic.Status != model.StatusActive {
		return deny(Reason(lic.Status))
	}

	c := check{email: email, account: account, server: server, demo: identity.IsDemo(server)}
	now := v.now().UTC()

	switch lic.PlanType {
	case model.PlanTrial:
		return v.trial(ctx, lic, c, now)
	case model.PlanPaid:
		return v.paid(ctx, lic, c, now)
	default:
		return deny(ReasonPlanTypeInvalid)
	}
}

type check struct {
	email   string
	account int64
	server  string
	demo    bool
}

func (v *Validator) trial(ctx context.Context, lic *model.License, c check, now time.Time) Decision {
	if !c.demo {
		return deny(ReasonTrialDemoOnly)
	}

	st := stateOf(lic, now)
	v.logger.Debug("license state", "license_id", lic.ID, "state", st.kind.String())
	if st.kind == TrialNotStarted {
		expires := now.Add(TrialPeriod)
		started, err := v.store.StartTrial(ctx, lic.ID, now, expires)
		if err != nil {
			return v.fail("start trial", err)
		}
		if started {
			v.logger.Info("trial started", "license_id", lic.ID, "email", c.email, "expires_at", expires)
			return Decision{Allowed: true, Reason: ReasonTrialStarted, ExpiresAt: &expires}
		}

		// Another check started the trial first; continue from its values.
		lic, err = v.reload(ctx, lic.ID)
		if err != nil {
			return v.fail("reload license", err)
		}
		st = stateOf(lic, now)
	}

	switch st.kind {
	case TrialExpired:
		return Decision{Reason: ReasonExpired, ExpiresAt: lic.ExpiresAt}
	case TrialActive:
		if err := v.store.Touch(ctx, lic.ID, now, false); err != nil {
			return v.fail("touch license", err)
		}
		return Decision{Allowed: true, Reason: ReasonTrialDemoOK, ExpiresAt: lic.ExpiresAt}
	default:
		return deny(ReasonPlanTypeInvalid)
	}
}

func (v *Validator) paid(ctx context.Context, lic *model.License, c check, now time.Time) Decision {
	st := stateOf(lic, now)
	v.logger.Debug("license state", "license_id", lic.ID, "state", st.kind.String(), "in_grace", st.inGrace)
	if st.kind == PaidExpired {
		return Decision{Reason: ReasonExpired, ExpiresAt: lic.ExpiresAt, GraceUntil: lic.GraceUntil}
	}

	if st.kind == PaidUnbound {
		if c.demo {
			if err := v.store.Touch(ctx, lic.ID, now, false); err != nil {
				return v.fail("touch license", err)
			}
			return allow(lic, graceReason(st.inGrace, ReasonPaidDemoOK, ReasonPaidDemoOKGrace))
		}

		b := model.Binding{Account: c.account, Server: c.server, Broker: identity.Broker(c.server)}
		bound, err := v.store.Bind(ctx, lic.ID, b, now)
		if err != nil {
			return v.fail("bind license", err)
		}
		if bound {
			v.logger.Info("license bound", "license_id", lic.ID, "account", c.account, "server", c.server)
			lic.BoundAccount = &b.Account
			lic.BoundServer = &b.Server
			return allow(lic, graceReason(st.inGrace, ReasonActiveBound, ReasonActiveBoundGrace))
		}

		// Lost the bind to a concurrent check; judge against the winner.
		lic, err = v.reload(ctx, lic.ID)
		if err != nil {
			return v.fail("reload license", err)
		}
		st = stateOf(lic, now)
	}

	if st.kind != PaidBound {
		return deny(ReasonPlanTypeInvalid)
	}

	if !bindingMatches(lic, c) {
		return Decision{
			Reason:       ReasonMismatch,
			BoundAccount: lic.BoundAccount,
			BoundServer:  lic.BoundServer,
		}
	}
	if err := v.store.Touch(ctx, lic.ID, now, true); err != nil {
		return v.fail("touch license", err)
	}
	return allow(lic, graceReason(st.inGrace, ReasonActive, ReasonActiveGrace))
}

func (v *Validator) reload(ctx context.Context, id int64) (*model.License, error) {
	lic, err := v.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if lic == nil {
		return nil, fmt.Errorf("license %d disappeared", id)
	}
	return lic, nil
}

func (v *Validator) fail(op string, err error) Decision {
	v.logger.Error(op, "error", err)
	return deny(ReasonServerError)
}

func bindingMatches(lic *model.License, c check) bool {
	if lic.BoundAccount == nil || *lic.BoundAccount != c.account {
		return false
	}
	if lic.BoundServer == nil || *lic.BoundServer == "" || *lic.BoundServer == c.server {
		return true
	}
	var broker string
	if lic.BoundBroker != nil {
		broker = *lic.BoundBroker
	}
	return identity.SameEnvironmentAndBroker(*lic.BoundServer, c.server, broker)
}

func deny(r Reason) Decision {
	return Decision{Reason: r}
}

func allow(lic *model.License, r Reason) Decision {
	return Decision{
		Allowed:      true,
		Reason:       r,
		ExpiresAt:    lic.ExpiresAt,
		GraceUntil:   lic.GraceUntil,
		BoundAccount: lic.BoundAccount,
		BoundServer:  lic.BoundServer,
	}
}

func graceReason(inGrace bool, normal, grace Reason) Reason {
	if inGrace {
		return grace
	}
	return normal
}
