package mailer

import (
	"context"
	"fmt"
	"log"
	"net/smtp"
	"strings"
)

// Mailer is the transport boundary for workflow notifications. Send
// failures are the caller's to log; they never propagate into the
// workflow state machine.
type Mailer interface {
	Send(ctx context.Context, to []string, cc []string, subject, body string) error
}

// SMTPMailer delivers mail through a plain SMTP relay.
type SMTPMailer struct {
	Addr string // host:port
	From string
	Auth smtp.Auth // nil for an open relay
}

func NewSMTPMailer(addr, from string, auth smtp.Auth) *SMTPMailer {
	return &SMTPMailer{Addr: addr, From: from, Auth: auth}
}

func (m *SMTPMailer) Send(_ context.Context, to []string, cc []string, subject, body string) error {
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", m.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	if len(cc) > 0 {
		fmt.Fprintf(&msg, "Cc: %s\r\n", strings.Join(cc, ", "))
	}
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(body)

	rcpts := make([]string, 0, len(to)+len(cc))
	rcpts = append(rcpts, to...)
	rcpts = append(rcpts, cc...)

	return smtp.SendMail(m.Addr, m.Auth, m.From, rcpts, []byte(msg.String()))
}

// LogMailer writes messages to the process log instead of sending
// them. Used in development and as the fallback when SMTP is not
// configured.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, to []string, cc []string, subject, _ string) error {
	log.Printf("mail (not sent): to=%v cc=%v subject=%q", to, cc, subject)
	return nil
}
