package domain

import "time"

// Role is an ordered hierarchy: USER < MODERATOR < ADMIN.
type Role string

const (
	RoleUser      Role = "USER"
	RoleModerator Role = "MODERATOR"
	RoleAdmin     Role = "ADMIN"
)

var roleLevels = map[Role]int{
	RoleUser:      0,
	RoleModerator: 1,
	RoleAdmin:     2,
}

func (r Role) Valid() bool {
	_, ok := roleLevels[r]
	return ok
}

func (r Role) AtLeast(min Role) bool {
	rl, ok := roleLevels[r]
	if !ok {
		return false
	}
	ml, ok := roleLevels[min]
	if !ok {
		return false
	}
	return rl >= ml
}

// User is the identity record. PasswordHash never leaves the API boundary;
// email is optional and unique only when present. IsActive doubles as the
// ban/deactivation flag, so accounts are soft-deleted, never removed.
type User struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Nickname      string    `gorm:"size:20;uniqueIndex;not null" json:"nickname"`
	Email         *string   `gorm:"size:255;uniqueIndex" json:"email,omitempty"`
	PasswordHash  string    `gorm:"size:128;not null" json:"-"`
	Avatar        *string   `gorm:"size:512" json:"avatar,omitempty"`
	Role          Role      `gorm:"size:16;not null;default:USER" json:"role"`
	IsActive      bool      `gorm:"not null;default:true" json:"isActive"`
	EmailVerified bool      `gorm:"not null;default:false" json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
