// Package mailer delivers invitation emails.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/chatme/backend/internal/config"
	"github.com/chatme/backend/internal/logging"
)

// Invite is the content of one invitation email.
type Invite struct {
	To         string
	SenderName string
	AcceptURL  string
	DeclineURL string
}

// Mailer sends invitation emails.
type Mailer interface {
	SendInvite(ctx context.Context, invite Invite) error
}

const inviteSubject = "You've been invited to chat"

var inviteHTML = template.Must(template.New("invite").Parse(`<p>{{.SenderName}} invited you to chat on Chatme.</p>
<p><a href="{{.AcceptURL}}">Accept</a> or <a href="{{.DeclineURL}}">decline</a> the invitation.</p>
<p>If you don't have an account yet, sign up with this email address first.</p>
`))

func renderInvite(invite Invite) (html, text string, err error) {
	var buf bytes.Buffer
	if err := inviteHTML.Execute(&buf, invite); err != nil {
		return "", "", fmt.Errorf("render invite: %w", err)
	}
	text = fmt.Sprintf("%s invited you to chat on Chatme.\n\nAccept: %s\nDecline: %s\n",
		invite.SenderName, invite.AcceptURL, invite.DeclineURL)
	return buf.String(), text, nil
}

// SMTPMailer sends mail through an SMTP relay.
type SMTPMailer struct {
	cfg config.SMTPConfig
}

// NewSMTPMailer constructs a mailer for the configured relay.
func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) buildMessage(invite Invite) (*mail.Msg, error) {
	html, text, err := renderInvite(invite)
	if err != nil {
		return nil, err
	}

	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return nil, fmt.Errorf("set sender: %w", err)
	}
	if err := msg.To(invite.To); err != nil {
		return nil, fmt.Errorf("set recipient: %w", err)
	}
	msg.Subject(inviteSubject)
	msg.SetBodyString(mail.TypeTextPlain, text)
	msg.AddAlternativeString(mail.TypeTextHTML, html)
	return msg, nil
}

// SendInvite renders and sends the invitation.
func (m *SMTPMailer) SendInvite(ctx context.Context, invite Invite) error {
	msg, err := m.buildMessage(invite)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(15 * time.Second),
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}

	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send invite mail: %w", err)
	}

	logging.FromContext(ctx).Info("invite mail sent", slog.String("to", maskAddress(invite.To)))
	return nil
}

// LogMailer writes invitations to the log instead of sending them.
type LogMailer struct{}

// SendInvite logs the invitation links.
func (LogMailer) SendInvite(ctx context.Context, invite Invite) error {
	if _, _, err := renderInvite(invite); err != nil {
		return err
	}
	logging.FromContext(ctx).Info("invite mail (not sent, smtp disabled)",
		slog.String("to", maskAddress(invite.To)),
		slog.String("accept_url", invite.AcceptURL),
		slog.String("decline_url", invite.DeclineURL),
	)
	return nil
}

// New picks the SMTP mailer when a relay is configured.
func New(cfg config.SMTPConfig) Mailer {
	if strings.TrimSpace(cfg.Host) == "" {
		return LogMailer{}
	}
	return NewSMTPMailer(cfg)
}

func maskAddress(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at <= 1 {
		return "***" + addr[max(at, 0):]
	}
	return addr[:1] + "***" + addr[at:]
}
