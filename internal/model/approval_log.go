package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Audit trail actions
const (
	ActionSubmit      = "SUBMIT"
	ActionApprove     = "APPROVE"
	ActionRemand      = "REMAND"
	ActionResubmit    = "RESUBMIT"
	ActionWithdraw    = "WITHDRAW"
	ActionReject      = "REJECT"
	ActionProxyRemand = "PROXY_REMAND"
)

// ApprovalLog is the immutable audit trail of a request. Rows are only
// ever appended; entries survive chain replacement on resubmission so
// the full history stays reconstructable.
type ApprovalLog struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RequestID uuid.UUID `gorm:"type:uuid;not null;index" json:"request_id"`
	Request   *Request  `gorm:"foreignKey:RequestID;constraint:OnDelete:CASCADE" json:"-"`
	ActorID   uuid.UUID `gorm:"type:uuid;not null;index" json:"actor_id"`
	Actor     *User     `gorm:"foreignKey:ActorID;constraint:OnDelete:RESTRICT" json:"actor,omitempty"`
	Action    string    `gorm:"type:varchar(20);not null;index" json:"action"`
	Step      *int      `json:"step"` // chain position the action applied to, nil for submit/resubmit/withdraw
	Comment   string    `gorm:"type:text" json:"comment"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (l *ApprovalLog) BeforeCreate(_ *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
