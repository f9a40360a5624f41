package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultMailgunURL = "https://api.mailgun.net/v3"
	euMailgunURL      = "https://api.eu.mailgun.net/v3"
)

type Mailgun struct {
	client *resty.Client
	domain string
	from   string
}

func NewMailgun(cfg Config) *Mailgun {
	baseURL := cfg.MailgunBaseURL
	if baseURL == "" {
		baseURL = defaultMailgunURL
	}
	if strings.ToLower(cfg.MailgunRegion) == "eu" {
		baseURL = euMailgunURL
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(10*time.Second).
		SetBasicAuth("api", cfg.MailgunApiKey)

	return &Mailgun{client: client, domain: cfg.MailgunDomain, from: cfg.fromAddress()}
}

func (m *Mailgun) Send(ctx context.Context, msg Message) error {
	form := map[string]string{
		"from":    m.from,
		"to":      msg.To,
		"subject": msg.Subject,
		"text":    msg.Text,
	}
	if msg.Html != "" {
		form["html"] = msg.Html
	}

	res, err := m.client.R().
		SetContext(ctx).
		SetFormData(form).
		Post(fmt.Sprintf("/%s/messages", m.domain))
	if err != nil {
		return fmt.Errorf("mailgun request failed: %w", err)
	}
	if res.StatusCode() != 200 {
		return fmt.Errorf("mailgun returned status %d: %v", res.StatusCode(), res.String())
	}
	return nil
}
