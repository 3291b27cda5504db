package auth

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"
	"strings"
)

// Mailer dispatches the password-reset email.
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, link string) error
}

const resetTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
  <h2>Reset your Tink password</h2>
  <p>Someone asked to reset the password of your Tink account.</p>
  <p><a href="{{.Link}}">Choose a new password</a></p>
  <p>If it wasn't you, ignore this email. The link expires in one hour.</p>
</body>
</html>
`

var resetTmpl = template.Must(template.New("reset").Parse(resetTemplate))

// SMTPMailer sends mail through an SMTP relay with PLAIN auth.
type SMTPMailer struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

func (m *SMTPMailer) SendPasswordReset(_ context.Context, to, link string) error {
	var body bytes.Buffer
	if err := resetTmpl.Execute(&body, map[string]string{"Link": link}); err != nil {
		return fmt.Errorf("auth: rendering reset email: %w", err)
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", m.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	msg.WriteString("Subject: Reset your Tink password\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	msg.Write(body.Bytes())

	auth := smtp.PlainAuth("", m.Username, m.Password, m.Host)
	addr := m.Host + ":" + m.Port
	return smtp.SendMail(addr, auth, m.From, []string{to}, []byte(msg.String()))
}

// LogMailer writes the reset link to the log instead of sending mail.
// Used when no SMTP host is configured.
type LogMailer struct {
	Logger *slog.Logger
}

func (m *LogMailer) SendPasswordReset(_ context.Context, to, link string) error {
	m.Logger.Info("password reset email (not sent, no SMTP host)",
		slog.String("to", to),
		slog.String("link", link),
	)
	return nil
}
