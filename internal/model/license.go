package model

import "time"

type PlanType string

const (
	PlanTrial    PlanType = "trial"
	PlanPaid     PlanType = "paid"
	PlanCanceled PlanType = "canceled"
)

const (
	StatusActive   = "active"
	StatusCanceled = "canceled"
)

type License struct {
	ID                    int64      `json:"id"`
	StripeCustomerID      *string    `json:"stripe_customer_id"`
	Email                 string     `json:"email"`
	PlanType              PlanType   `json:"plan_type"`
	Status                string     `json:"status"`
	FirstSeenAt           *time.Time `json:"first_seen_at"`
	ExpiresAt             *time.Time `json:"expires_at"`
	GraceUntil            *time.Time `json:"grace_until"`
	BoundAccount          *int64     `json:"bound_account"`
	BoundServer           *string    `json:"bound_server"`
	BoundBroker           *string    `json:"bound_broker"`
	BoundAt               *time.Time `json:"bound_at"`
	LastCheckAt           *time.Time `json:"last_check_at"`
	LastActiveAt          *time.Time `json:"last_active_at"`
	RenewalNotice3dSentAt *time.Time `json:"renewal_notice_3d_sent_at"`
	DownloadedAt          *time.Time `json:"downloaded_at"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Binding is the live account a paid license is locked to.
type Binding struct {
	Account int64
	Server  string
	Broker  string
}

// LicenseUpsert carries the fields the billing webhook owns.
type LicenseUpsert struct {
	StripeCustomerID string
	Email            string
	Status           string
	PlanType         PlanType
	ExpiresAt        *time.Time
	GraceUntil       *time.Time
}
