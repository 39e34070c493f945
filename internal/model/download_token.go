package model

import "time"

type DownloadToken struct {
	ID        int64      `json:"id"`
	Token     string     `json:"token"`
	Email     string     `json:"email"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// Redeemable reports whether the token is unused and not yet expired at now.
func (t *DownloadToken) Redeemable(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}
