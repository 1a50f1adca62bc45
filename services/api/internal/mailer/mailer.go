package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"navio/pkg/render"
)

// Invitation is the data needed to tell someone they were invited.
type Invitation struct {
	To          string
	InviterName string
	TenantName  string
	Role        string
	Token       string
	ExpiresAt   time.Time
}

// Sender delivers invitation emails.
type Sender interface {
	SendInvitation(ctx context.Context, inv Invitation) error
}

// Message is a rendered plain-text email.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// DeliverFunc hands a rendered message to a transport.
type DeliverFunc func(ctx context.Context, msg Message) error

// Mailer renders invitation emails and hands them to a transport.
type Mailer struct {
	engine  *render.Engine
	baseURL string
	from    string
	deliver DeliverFunc
}

// New returns a Mailer delivering through deliver.
func New(engine *render.Engine, baseURL, from string, deliver DeliverFunc) (*Mailer, error) {
	if engine == nil {
		return nil, errors.New("render engine is required")
	}
	if deliver == nil {
		return nil, errors.New("deliver func is required")
	}
	return &Mailer{
		engine:  engine,
		baseURL: strings.TrimRight(baseURL, "/"),
		from:    from,
		deliver: deliver,
	}, nil
}

// AcceptURL is the link a recipient follows to accept.
func (m *Mailer) AcceptURL(token string) string {
	return m.baseURL + "/invite/" + token
}

// Compose renders the invitation email without sending it.
func (m *Mailer) Compose(inv Invitation) (Message, error) {
	data := map[string]any{
		"InviterName": inv.InviterName,
		"TenantName":  inv.TenantName,
		"Role":        inv.Role,
		"AcceptURL":   m.AcceptURL(inv.Token),
		"ExpiresAt":   inv.ExpiresAt,
	}
	subject, err := m.engine.Render("invitation_subject", data)
	if err != nil {
		return Message{}, err
	}
	body, err := m.engine.Render("invitation_body", data)
	if err != nil {
		return Message{}, err
	}
	return Message{From: m.from, To: inv.To, Subject: strings.TrimSpace(subject), Body: body}, nil
}

func (m *Mailer) SendInvitation(ctx context.Context, inv Invitation) error {
	msg, err := m.Compose(inv)
	if err != nil {
		return fmt.Errorf("compose invitation: %w", err)
	}
	return m.deliver(ctx, msg)
}

// LogDelivery writes messages to the log instead of sending them. Used when
// no SMTP host is configured.
func LogDelivery(log zerolog.Logger) DeliverFunc {
	return func(_ context.Context, msg Message) error {
		log.Info().
			Str("to", msg.To).
			Str("subject", msg.Subject).
			Str("body", msg.Body).
			Msg("email not sent, smtp is not configured")
		return nil
	}
}

// SMTPConfig locates the relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// SMTPDelivery sends messages through an SMTP relay, authenticating with
// PLAIN when a username is set.
func SMTPDelivery(cfg SMTPConfig) DeliverFunc {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return func(ctx context.Context, msg Message) error {
		from, err := mail.ParseAddress(msg.From)
		if err != nil {
			return fmt.Errorf("parse from address: %w", err)
		}
		to, err := mail.ParseAddress(msg.To)
		if err != nil {
			return fmt.Errorf("parse to address: %w", err)
		}
		raw := Encode(msg, time.Now())

		done := make(chan error, 1)
		go func() {
			done <- smtp.SendMail(addr, auth, from.Address, []string{to.Address}, raw)
		}()
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("smtp send: %w", err)
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Encode renders msg as an RFC 5322 message with a UTF-8 text body.
func Encode(msg Message, date time.Time) []byte {
	var b bytes.Buffer
	header := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}
	header("From", msg.From)
	header("To", msg.To)
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", date.Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="utf-8"`)
	header("Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(msg.Body, "\r\n", "\n"), "\n", "\r\n"))
	return b.Bytes()
}
