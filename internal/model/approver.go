package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Approver chain entry statuses
const (
	ApproverStatusPending  = "PENDING"
	ApproverStatusApproved = "APPROVED"
	ApproverStatusRemanded = "REMANDED"
	ApproverStatusRejected = "REJECTED"
)

// Approver is one entry of a request's ordered approval chain. The
// whole chain is created atomically at submission and replaced (never
// edited) on resubmission. Order is unique per request and defines the
// strict approval sequence.
type Approver struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	RequestID   uuid.UUID  `gorm:"type:uuid;not null;index;uniqueIndex:uniq_request_step" json:"request_id"`
	Request     *Request   `gorm:"foreignKey:RequestID;constraint:OnDelete:CASCADE" json:"-"`
	UserID      uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	User        *User      `gorm:"foreignKey:UserID;constraint:OnDelete:RESTRICT" json:"user,omitempty"`
	Order       int        `gorm:"column:step_order;not null;uniqueIndex:uniq_request_step" json:"order"` // 1-based position
	Status      string     `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	Comment     string     `gorm:"type:text" json:"comment"`
	ProcessedAt *time.Time `json:"processed_at"` // set when status leaves PENDING
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (a *Approver) BeforeCreate(_ *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
