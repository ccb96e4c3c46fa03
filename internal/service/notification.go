package service

import (
	"context"
	"fmt"
	"log"

	"ringi/internal/mailer"
	"ringi/internal/model"
)

// MessageKind identifies what a notification is about.
type MessageKind string

const (
	MsgApprovalRequest MessageKind = "APPROVAL_REQUEST" // your turn to review
	MsgResubmitted     MessageKind = "RESUBMITTED"
	MsgApproved        MessageKind = "APPROVED"
	MsgRemanded        MessageKind = "REMANDED"
	MsgRejected        MessageKind = "REJECTED"
	MsgWithdrawn       MessageKind = "WITHDRAWN"
	MsgProxyRemanded   MessageKind = "PROXY_REMANDED"
	MsgReminder        MessageKind = "REMINDER"
)

// Trigger is the pure outcome of a completed transition: who must be
// told what. It carries no transport concerns so recipient sets can be
// asserted without I/O. A nil Trigger means the transition notifies
// nobody (e.g. withdrawing a remanded request).
type Trigger struct {
	Kind    MessageKind
	To      []model.User
	CC      []model.User
	Request *model.Request
	Actor   *model.User
	Comment string
}

// dedupCC returns cc minus anyone already in to, with duplicates removed.
func dedupCC(to, cc []model.User) []model.User {
	seen := make(map[string]bool, len(to)+len(cc))
	for _, u := range to {
		seen[u.ID.String()] = true
	}
	var out []model.User
	for _, u := range cc {
		if seen[u.ID.String()] {
			continue
		}
		seen[u.ID.String()] = true
		out = append(out, u)
	}
	return out
}

func approvedUsers(req *model.Request) []model.User {
	var users []model.User
	for _, a := range req.ApprovedApprovers() {
		if a.User != nil {
			users = append(users, *a.User)
		}
	}
	return users
}

func chainUsers(req *model.Request) []model.User {
	var users []model.User
	for _, a := range req.Approvers {
		if a.User != nil {
			users = append(users, *a.User)
		}
	}
	return users
}

// TriggerApprovalRequest: it is next's turn to review.
func TriggerApprovalRequest(req *model.Request, next *model.User) *Trigger {
	return &Trigger{Kind: MsgApprovalRequest, To: []model.User{*next}, Request: req}
}

// TriggerResubmitted: a remanded request came back; first approver of
// the new chain must review it.
func TriggerResubmitted(req *model.Request, first *model.User) *Trigger {
	return &Trigger{Kind: MsgResubmitted, To: []model.User{*first}, Request: req}
}

// TriggerApproved: the chain completed. Applicant notified, every
// approver in CC.
func TriggerApproved(req *model.Request) *Trigger {
	to := []model.User{*req.Applicant}
	return &Trigger{Kind: MsgApproved, To: to, CC: dedupCC(to, chainUsers(req)), Request: req}
}

// TriggerRemanded: applicant notified; the remanding actor and every
// previously approved approver in CC.
func TriggerRemanded(req *model.Request, actor *model.User, comment string) *Trigger {
	to := []model.User{*req.Applicant}
	cc := append([]model.User{*actor}, approvedUsers(req)...)
	return &Trigger{Kind: MsgRemanded, To: to, CC: dedupCC(to, cc), Request: req, Actor: actor, Comment: comment}
}

// TriggerRejected: same recipient shape as a remand.
func TriggerRejected(req *model.Request, actor *model.User, comment string) *Trigger {
	to := []model.User{*req.Applicant}
	cc := append([]model.User{*actor}, approvedUsers(req)...)
	return &Trigger{Kind: MsgRejected, To: to, CC: dedupCC(to, cc), Request: req, Actor: actor, Comment: comment}
}

// TriggerWithdrawn maps a withdrawal. A withdrawal from Remanded
// notifies nobody (the remanding approver already knows) - callers
// pass wasRemanded for that. Otherwise the current pending approver is
// notified with previously approved approvers in CC; if no approver is
// pending (post-approval withdrawal) the approved ones are notified
// directly.
func TriggerWithdrawn(req *model.Request, wasRemanded bool) *Trigger {
	if wasRemanded {
		return nil
	}
	approved := approvedUsers(req)
	if current := req.CurrentApprover(); current != nil && current.User != nil {
		to := []model.User{*current.User}
		return &Trigger{Kind: MsgWithdrawn, To: to, CC: dedupCC(to, approved), Request: req}
	}
	if len(approved) == 0 {
		return nil
	}
	return &Trigger{Kind: MsgWithdrawn, To: approved, Request: req}
}

// TriggerProxyRemanded: applicant notified; CC is every approved
// approver plus whoever occupies the current step, whatever that row's
// status now is (the operation itself has just overridden it).
func TriggerProxyRemanded(req *model.Request, actor *model.User, comment string) *Trigger {
	to := []model.User{*req.Applicant}
	cc := approvedUsers(req)
	if occupant := req.ApproverAt(req.CurrentStep); occupant != nil && occupant.User != nil {
		cc = append(cc, *occupant.User)
	}
	return &Trigger{Kind: MsgProxyRemanded, To: to, CC: dedupCC(to, cc), Request: req, Actor: actor, Comment: comment}
}

// Notifier consumes triggers after the workflow transaction has
// committed. Implementations must never fail the workflow.
type Notifier interface {
	Dispatch(ctx context.Context, t *Trigger)
}

var subjects = map[MessageKind]string{
	MsgApprovalRequest: "Approval requested",
	MsgResubmitted:     "Approval requested again",
	MsgApproved:        "Request approved",
	MsgRemanded:        "Request remanded",
	MsgRejected:        "Request rejected",
	MsgWithdrawn:       "Request withdrawn",
	MsgProxyRemanded:   "Request remanded by an administrator",
	MsgReminder:        "Pending approval reminder",
}

type mailNotifier struct {
	mailer  mailer.Mailer
	baseURL string
}

// NewMailNotifier wires trigger dispatch to a mail transport. baseURL
// is used to build detail links in message bodies.
func NewMailNotifier(m mailer.Mailer, baseURL string) Notifier {
	return &mailNotifier{mailer: m, baseURL: baseURL}
}

// Dispatch is fire-after-commit: any transport failure is logged and
// swallowed so an already-committed transition can never be undone by
// a mail outage.
func (n *mailNotifier) Dispatch(ctx context.Context, t *Trigger) {
	if t == nil {
		return
	}

	to := emailsOf(t.To)
	cc := emailsOf(t.CC)
	if len(to) == 0 {
		log.Printf("notification %s for request %s skipped: no valid recipient addresses", t.Kind, t.Request.Number())
		return
	}

	subject := fmt.Sprintf("[ringi] %s: %s", subjects[t.Kind], t.Request.Title)
	body := n.body(t)

	if err := n.mailer.Send(ctx, to, cc, subject, body); err != nil {
		log.Printf("failed to send %s notification for request %s: %v", t.Kind, t.Request.Number(), err)
	}
}

func (n *mailNotifier) body(t *Trigger) string {
	var b []byte
	b = fmt.Appendf(b, "Request: %s (%s)\n", t.Request.Title, t.Request.Number())
	if t.Actor != nil {
		b = fmt.Appendf(b, "By: %s\n", t.Actor.DisplayName())
	}
	if t.Comment != "" {
		b = fmt.Appendf(b, "Comment: %s\n", t.Comment)
	}
	b = fmt.Appendf(b, "\n%s/requests/%s\n", n.baseURL, t.Request.ID)
	return string(b)
}

func emailsOf(users []model.User) []string {
	var out []string
	for _, u := range users {
		if u.Email != "" {
			out = append(out, u.Email)
		}
	}
	return out
}
