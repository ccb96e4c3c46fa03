package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Request status lifecycle. Transitions happen only through the
// workflow service: Draft -> Pending -> {Approved | Remanded | Withdrawn | Rejected},
// Remanded -> Pending (resubmit), Approved -> Rejected (post-approval reject).
const (
	StatusDraft     = "DRAFT"
	StatusPending   = "PENDING"
	StatusApproved  = "APPROVED"
	StatusRemanded  = "REMANDED"
	StatusWithdrawn = "WITHDRAWN"
	StatusRejected  = "REJECTED"
)

// Request is the aggregate root of an approval flow. Kind-specific
// fields live in the JSONB payload; the kind tag resolves them through
// the registry. The request exclusively owns its approver chain and
// its audit log (cascade), while users are only referenced (restrict).
type Request struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	RequestNumber *string    `gorm:"type:varchar(30);uniqueIndex" json:"request_number"` // nil until first submission
	Kind          string     `gorm:"type:varchar(30);not null;index" json:"kind"`        // registry slug: simple, trip, expense
	Payload       string     `gorm:"type:jsonb;not null;default:'{}'" json:"payload"`    // kind-specific field snapshot
	ApplicantID   uuid.UUID  `gorm:"type:uuid;not null;index" json:"applicant_id"`
	Applicant     *User      `gorm:"foreignKey:ApplicantID;constraint:OnDelete:RESTRICT" json:"applicant,omitempty"`
	Title         string     `gorm:"type:varchar(100);not null" json:"title"`
	Status        string     `gorm:"type:varchar(20);not null;default:'DRAFT';index" json:"status"`
	CurrentStep   int        `gorm:"not null;default:1" json:"current_step"` // 1-based chain position, meaningful while PENDING
	SubmittedAt   *time.Time `gorm:"index" json:"submitted_at"`              // set on every (re)submission
	IsRestricted  bool       `gorm:"default:false" json:"is_restricted"`

	Approvers []Approver    `gorm:"constraint:OnDelete:CASCADE" json:"approvers,omitempty"`
	Logs      []ApprovalLog `gorm:"constraint:OnDelete:CASCADE" json:"logs,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r *Request) BeforeCreate(_ *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Number returns the human-readable request number, empty for drafts.
func (r *Request) Number() string {
	if r.RequestNumber == nil {
		return ""
	}
	return *r.RequestNumber
}

// ApproverAt returns the chain entry at the given 1-based order.
// Requires Approvers to be loaded.
func (r *Request) ApproverAt(order int) *Approver {
	for i := range r.Approvers {
		if r.Approvers[i].Order == order {
			return &r.Approvers[i]
		}
	}
	return nil
}

// CurrentApprover returns the chain entry whose turn it is, or nil if
// the entry is missing or no longer pending.
func (r *Request) CurrentApprover() *Approver {
	a := r.ApproverAt(r.CurrentStep)
	if a == nil || a.Status != ApproverStatusPending {
		return nil
	}
	return a
}

// ApprovedApprovers returns the chain entries that already approved,
// in chain order.
func (r *Request) ApprovedApprovers() []Approver {
	var out []Approver
	for _, a := range r.Approvers {
		if a.Status == ApproverStatusApproved {
			out = append(out, a)
		}
	}
	return out
}

// ChainEntryFor returns the first chain entry assigned to the given
// user, or nil if the user never participated.
func (r *Request) ChainEntryFor(userID uuid.UUID) *Approver {
	for i := range r.Approvers {
		if r.Approvers[i].UserID == userID {
			return &r.Approvers[i]
		}
	}
	return nil
}
