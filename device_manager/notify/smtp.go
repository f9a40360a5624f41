package notify

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strconv"
)

type SMTP struct {
	addr   string
	auth   smtp.Auth
	from   string
	sender string

	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTP(cfg Config) *SMTP {
	port := cfg.SmtpPort
	if port == 0 {
		port = 587
	}
	var auth smtp.Auth
	if cfg.SmtpUser != "" {
		auth = smtp.PlainAuth("", cfg.SmtpUser, cfg.SmtpPassword, cfg.SmtpHost)
	}
	return &SMTP{
		addr:     cfg.SmtpHost + ":" + strconv.Itoa(port),
		auth:     auth,
		from:     cfg.fromAddress(),
		sender:   cfg.FromEmail,
		sendMail: smtp.SendMail,
	}
}

// buildMime renders a multipart/alternative message with a text part and an
// optional html part.
func buildMime(from string, msg Message) ([]byte, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	parts := [][2]string{{"text/plain; charset=utf-8", msg.Text}}
	if msg.Html != "" {
		parts = append(parts, [2]string{"text/html; charset=utf-8", msg.Html})
	}

	for _, p := range parts {
		w, err := writer.CreatePart(textproto.MIMEHeader{"Content-Type": {p[0]}})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(p[1])); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "From: %s\r\n", from)
	fmt.Fprintf(&out, "To: %s\r\n", msg.To)
	fmt.Fprintf(&out, "Subject: %s\r\n", msg.Subject)
	out.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&out, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", writer.Boundary())
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func (s *SMTP) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := buildMime(s.from, msg)
	if err != nil {
		return fmt.Errorf("error building email: %w", err)
	}
	if err := s.sendMail(s.addr, s.auth, s.sender, []string{msg.To}, data); err != nil {
		return fmt.Errorf("smtp send to %v failed: %w", s.addr, err)
	}
	return nil
}
