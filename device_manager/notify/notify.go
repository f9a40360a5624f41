package notify

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"strings"
	"text/template"
)

type Message struct {
	To      string
	Subject string
	Text    string
	Html    string
}

type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

const (
	ModeSMTP    = "SMTP"
	ModeMailgun = "MAILGUN"
)

type Config struct {
	Mode string

	MailgunApiKey  string
	MailgunDomain  string
	MailgunBaseURL string
	MailgunRegion  string

	SmtpHost     string
	SmtpPort     int
	SmtpUser     string
	SmtpPassword string

	FromEmail string
	FromName  string
}

func (c Config) fromAddress() string {
	if c.FromName != "" {
		return fmt.Sprintf("%s <%s>", c.FromName, c.FromEmail)
	}
	return c.FromEmail
}

func New(cfg Config) (Notifier, error) {
	switch strings.ToUpper(cfg.Mode) {
	case ModeMailgun:
		return NewMailgun(cfg), nil
	case ModeSMTP, "":
		return NewSMTP(cfg), nil
	default:
		return nil, fmt.Errorf("invalid email mode '%v', expected SMTP or MAILGUN", cfg.Mode)
	}
}

type codeEmail struct {
	Code    string
	Link    string
	Expires string
}

var (
	resetText = template.Must(template.New("reset").Parse(`Hello,

We received a request to reset your password. Please use the following verification code to complete the process:

{{.Code}}

This code will expire in {{.Expires}}.

You can reset your password at: {{.Link}}

If you didn't request this, you can safely ignore this email.

Best regards,
The NodeDash Team
`))

	resetHtml = htmltemplate.Must(htmltemplate.New("reset").Parse(`<html>
  <body>
    <h2>Password Reset Request</h2>
    <p>Hello,</p>
    <p>We received a request to reset your password. Please use the following verification code to complete the process:</p>
    <div style="margin: 20px; padding: 10px; background-color: #f0f0f0; font-size: 24px; text-align: center; font-family: monospace;">
      <strong>{{.Code}}</strong>
    </div>
    <p>This code will expire in {{.Expires}}.</p>
    <p><a href="{{.Link}}">Click here</a> to reset your password or copy and paste this URL into your browser: {{.Link}}</p>
    <p>If you didn't request this, you can safely ignore this email.</p>
    <p>Best regards,<br>The NodeDash Team</p>
  </body>
</html>
`))

	verifyText = template.Must(template.New("verify").Parse(`Hello,

Thank you for registering! Please verify your email address by using the following code:

{{.Code}}

This code will expire in {{.Expires}}.

You can verify your email at: {{.Link}}

If you didn't register for an account, you can safely ignore this email.

Best regards,
The NodeDash Team
`))

	verifyHtml = htmltemplate.Must(htmltemplate.New("verify").Parse(`<html>
  <body>
    <h2>Verify Your Email Address</h2>
    <p>Hello,</p>
    <p>Thank you for registering! Please verify your email address by using the following code:</p>
    <div style="margin: 20px; padding: 10px; background-color: #f0f0f0; font-size: 24px; text-align: center; font-family: monospace;">
      <strong>{{.Code}}</strong>
    </div>
    <p>This code will expire in {{.Expires}}.</p>
    <p><a href="{{.Link}}">Click here</a> to verify your email or copy and paste this URL into your browser: {{.Link}}</p>
    <p>If you didn't register for an account, you can safely ignore this email.</p>
    <p>Best regards,<br>The NodeDash Team</p>
  </body>
</html>
`))
)

func render(text *template.Template, html *htmltemplate.Template, data codeEmail) (string, string, error) {
	var t, h bytes.Buffer
	if err := text.Execute(&t, data); err != nil {
		return "", "", fmt.Errorf("error rendering email text: %w", err)
	}
	if err := html.Execute(&h, data); err != nil {
		return "", "", fmt.Errorf("error rendering email html: %w", err)
	}
	return t.String(), h.String(), nil
}

func PasswordResetMessage(to, code, websiteAddress string) (Message, error) {
	data := codeEmail{Code: code, Link: strings.TrimRight(websiteAddress, "/") + "/reset-password", Expires: "15 minutes"}
	text, html, err := render(resetText, resetHtml, data)
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: "Password Reset Request", Text: text, Html: html}, nil
}

func EmailVerificationMessage(to, code, websiteAddress string) (Message, error) {
	data := codeEmail{Code: code, Link: strings.TrimRight(websiteAddress, "/") + "/email-verify", Expires: "24 hours"}
	text, html, err := render(verifyText, verifyHtml, data)
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: "Verify Your Email Address", Text: text, Html: html}, nil
}

// SendPasswordReset renders and sends the reset code. Delivery failures are
// logged and reported as false, callers respond the same either way.
func SendPasswordReset(ctx context.Context, n Notifier, to, code, websiteAddress string) bool {
	msg, err := PasswordResetMessage(to, code, websiteAddress)
	if err != nil {
		slog.Error("error building password reset email", "error", err)
		return false
	}
	return send(ctx, n, msg)
}

func SendEmailVerification(ctx context.Context, n Notifier, to, code, websiteAddress string) bool {
	msg, err := EmailVerificationMessage(to, code, websiteAddress)
	if err != nil {
		slog.Error("error building verification email", "error", err)
		return false
	}
	return send(ctx, n, msg)
}

func send(ctx context.Context, n Notifier, msg Message) bool {
	if err := n.Send(ctx, msg); err != nil {
		slog.Error("error sending email", "to", msg.To, "subject", msg.Subject, "error", err)
		return false
	}
	slog.Info("email sent", "to", msg.To, "subject", msg.Subject)
	return true
}
