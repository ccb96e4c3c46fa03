package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User represents an account in the approval portal.
// Users with history (requests, chain entries, logs) are protected
// against hard deletion by RESTRICT constraints on the referencing rows.
type User struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Email      string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	LastName   string    `gorm:"type:varchar(150)" json:"last_name"`
	FirstName  string    `gorm:"type:varchar(150)" json:"first_name"`
	Password   string    `gorm:"type:varchar(255);not null" json:"-"` // bcrypt hash, never serialized
	IsAdmin    bool      `gorm:"default:false" json:"is_admin"`       // administrative capability (proxy-remand, restricted visibility)
	IsActive   bool      `gorm:"default:true" json:"is_active"`
	IsApprover bool      `gorm:"default:false" json:"is_approver"` // eligible to appear in approver chains
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate assigns the UUID client-side so the same code path works
// on every dialect.
func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// DisplayName returns the full name if set, otherwise the email address.
func (u *User) DisplayName() string {
	name := u.LastName
	if u.FirstName != "" {
		if name != "" {
			name += " "
		}
		name += u.FirstName
	}
	if name == "" {
		return u.Email
	}
	return name
}

// RefreshToken stores long-lived tokens allowing users to request new access tokens
type RefreshToken struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	User      User      `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Token     string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"token"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (t *RefreshToken) BeforeCreate(_ *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
