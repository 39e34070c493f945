package license

import (
	"time"

	"github.com/dukerupert/licensegate/internal/model"
)

type Kind int

const (
	Unknown Kind = iota
	TrialNotStarted
	TrialActive
	TrialExpired
	PaidUnbound
	PaidBound
	PaidExpired
)

func (k Kind) String() string {
	switch k {
	case TrialNotStarted:
		return "trial_not_started"
	case TrialActive:
		return "trial_active"
	case TrialExpired:
		return "trial_expired"
	case PaidUnbound:
		return "paid_unbound"
	case PaidBound:
		return "paid_bound"
	case PaidExpired:
		return "paid_expired"
	default:
		return "unknown"
	}
}

type state struct {
	kind    Kind
	inGrace bool
}

// stateOf classifies a license at now. Trials never get a grace window; a
// paid license with no expiry never lapses.
func stateOf(lic *model.License, now time.Time) state {
	switch lic.PlanType {
	case model.PlanTrial:
		if lic.FirstSeenAt == nil {
			return state{kind: TrialNotStarted}
		}
		if lic.ExpiresAt != nil && lic.ExpiresAt.Before(now) {
			return state{kind: TrialExpired}
		}
		return state{kind: TrialActive}

	case model.PlanPaid:
		lapsed := lic.ExpiresAt != nil && lic.ExpiresAt.Before(now)
		inGrace := lapsed && lic.GraceUntil != nil && !lic.GraceUntil.Before(now)
		if lapsed && !inGrace {
			return state{kind: PaidExpired}
		}
		if lic.BoundAccount == nil {
			return state{kind: PaidUnbound, inGrace: inGrace}
		}
		return state{kind: PaidBound, inGrace: inGrace}
	}
	return state{kind: Unknown}
}
