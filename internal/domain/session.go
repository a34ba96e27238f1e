package domain

import "time"

// Session is one issued refresh token. The raw token is never stored; only a
// peppered SHA-256 digest is kept. TokenID/FamilyID/ParentTokenID form the
// rotation lineage: every rotation revokes the parent and creates a child in
// the same family, and a replayed token revokes the whole family.
type Session struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	UserID           uint       `gorm:"index;not null" json:"userId"`
	RefreshTokenHash string     `gorm:"size:128;uniqueIndex;not null" json:"-"`
	TokenID          string     `gorm:"size:64;uniqueIndex;not null" json:"-"`
	FamilyID         string     `gorm:"size:64;index;not null" json:"-"`
	ParentTokenID    *string    `gorm:"size:64;index" json:"-"`
	UserAgent        string     `gorm:"size:512" json:"userAgent"`
	IP               string     `gorm:"size:64" json:"ip"`
	ExpiresAt        time.Time  `gorm:"index;not null" json:"expiresAt"`
	RevokedAt        *time.Time `gorm:"index" json:"revokedAt,omitempty"`
	RevokedReason    *string    `gorm:"size:64" json:"revokedReason,omitempty"`
	ReuseDetectedAt  *time.Time `gorm:"index" json:"-"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"-"`
}

// Active reports whether the session is still usable at the given instant.
// Expiry is evaluated at lookup time, not by a timer sweep.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(now)
}

const (
	RevokeReasonRotated       = "rotated"
	RevokeReasonLogout        = "logout"
	RevokeReasonLogoutAll     = "logout_all"
	RevokeReasonReuseDetected = "reuse_detected"
	RevokeReasonBanned        = "banned"
	RevokeReasonDeactivated   = "account_deactivated"
	RevokeReasonPassword      = "password_changed"
)
