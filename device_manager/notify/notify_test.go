package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessages(t *testing.T) {
	msg, err := PasswordResetMessage("a@b.com", "123456", "https://app.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "Password Reset Request", msg.Subject)
	assert.Contains(t, msg.Text, "123456")
	assert.Contains(t, msg.Text, "https://app.example.com/reset-password")
	assert.Contains(t, msg.Text, "15 minutes")
	assert.Contains(t, msg.Html, "<strong>123456</strong>")

	msg, err = EmailVerificationMessage("a@b.com", "654321", "https://app.example.com")
	require.NoError(t, err)
	assert.Equal(t, "Verify Your Email Address", msg.Subject)
	assert.Contains(t, msg.Text, "https://app.example.com/email-verify")
	assert.Contains(t, msg.Html, "24 hours")
}

func TestMailgunSend(t *testing.T) {
	var form map[string]string
	var user, pass, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		user, pass, _ = r.BasicAuth()
		require.NoError(t, r.ParseForm())
		form = map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		if form["to"] == "fail@example.com" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewMailgun(Config{
		MailgunApiKey: "key", MailgunDomain: "mg.example.com", MailgunBaseURL: srv.URL,
		FromEmail: "noreply@example.com", FromName: "NodeDash",
	})

	err := m.Send(context.Background(), Message{To: "a@b.com", Subject: "s", Text: "t", Html: "<p>h</p>"})
	require.NoError(t, err)
	assert.Equal(t, "/mg.example.com/messages", path)
	assert.Equal(t, "api", user)
	assert.Equal(t, "key", pass)
	assert.Equal(t, "NodeDash <noreply@example.com>", form["from"])
	assert.Equal(t, "<p>h</p>", form["html"])

	assert.False(t, SendPasswordReset(context.Background(), m, "fail@example.com", "1", "http://x"))
	assert.True(t, SendEmailVerification(context.Background(), m, "ok@example.com", "1", "http://x"))
}

func TestMailgunRegion(t *testing.T) {
	m := NewMailgun(Config{MailgunRegion: "EU"})
	assert.Equal(t, euMailgunURL, m.client.BaseURL)
}

func TestSMTPSend(t *testing.T) {
	s := NewSMTP(Config{SmtpHost: "mail.example.com", SmtpUser: "u", SmtpPassword: "p", FromEmail: "noreply@example.com"})
	assert.Equal(t, "mail.example.com:587", s.addr)

	var gotTo []string
	var gotMsg string
	s.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotTo = to
		gotMsg = string(msg)
		if to[0] == "bad@example.com" {
			return errors.New("rejected")
		}
		return nil
	}

	require.NoError(t, s.Send(context.Background(), Message{To: "a@b.com", Subject: "Hello", Text: "plain", Html: "<b>rich</b>"}))
	assert.Equal(t, []string{"a@b.com"}, gotTo)
	assert.True(t, strings.HasPrefix(gotMsg, "From: noreply@example.com\r\nTo: a@b.com\r\nSubject: Hello\r\n"))
	assert.Contains(t, gotMsg, "multipart/alternative")
	assert.Contains(t, gotMsg, "plain")
	assert.Contains(t, gotMsg, "<b>rich</b>")

	assert.Error(t, s.Send(context.Background(), Message{To: "bad@example.com"}))
}

func TestNewMode(t *testing.T) {
	n, err := New(Config{Mode: "mailgun"})
	require.NoError(t, err)
	assert.IsType(t, &Mailgun{}, n)

	n, err = New(Config{})
	require.NoError(t, err)
	assert.IsType(t, &SMTP{}, n)

	_, err = New(Config{Mode: "pigeon"})
	assert.Error(t, err)
}
