package integrationtests

import (
	"bytes"
	"log/slog"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"nodedash/client"
	"nodedash/device_manager/auth"
	"nodedash/device_manager/chirpstack"
	"nodedash/device_manager/kvstore"
	"nodedash/device_manager/notify"
	"nodedash/device_manager/schema"
	"nodedash/device_manager/services"
	"nodedash/device_manager/storage"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	adminUsername = "admin"
	adminEmail    = "admin@nodedash.test"
	adminPassword = "admin_password"

	maintenanceKey = "maintenance-secret"
)

// platform is a complete nodedash api served over http, talking to fake
// mailgun, chirpstack and influxdb servers.
type platform struct {
	baseUrl    string
	mail       *mailbox
	chirpstack *fakeChirpstack
	influx     *fakeInflux
}

func setupPlatform(t *testing.T) *platform {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "nodedash.db")), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(schema.Models()...); err != nil {
		t.Fatal(err)
	}

	secret := []byte(uuid.New().String())

	userAuth, err := auth.NewBasicIdentityProvider(
		db,
		auth.NewAuditLogger(new(bytes.Buffer)),
		auth.BasicProviderArgs{
			Secret:        secret,
			AdminUsername: adminUsername,
			AdminEmail:    adminEmail,
			AdminPassword: adminPassword,
			TokenExpiry:   time.Hour,
		},
	)
	if err != nil {
		t.Fatal(err)
	}

	kv := kvstore.NewMemory()
	t.Cleanup(func() { kv.Close() })

	mail := newMailbox(t)
	notifier, err := notify.New(notify.Config{
		Mode:           notify.ModeMailgun,
		MailgunApiKey:  "key-test",
		MailgunDomain:  "mg.nodedash.test",
		MailgunBaseURL: mail.server.URL,
		FromEmail:      "noreply@nodedash.test",
		FromName:       "NodeDash",
	})
	if err != nil {
		t.Fatal(err)
	}

	deviceManager := services.NewDeviceManager(
		db,
		userAuth,
		services.Backends{
			KV:             kv,
			Notifier:       notifier,
			NetworkServers: chirpstack.NewFactory(5 * time.Second),
			TimeSeries:     storage.NewFactory(5 * time.Second),
		},
		services.Variables{
			ProjectName:    "NodeDash",
			WebsiteAddress: "https://app.nodedash.test",
			IngestAddress:  "https://ingest.nodedash.test",
			MaintenanceKey: maintenanceKey,
			LoginRateLimit: 1000,
			ResetRateLimit: 1000,
		},
		secret,
	)

	r := chi.NewRouter()
	r.Mount("/api/v1", deviceManager.Routes())

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return &platform{
		baseUrl:    server.URL,
		mail:       mail,
		chirpstack: newFakeChirpstack(t),
		influx:     newFakeInflux(t),
	}
}

func (p *platform) newClient() *client.NodeDashClient {
	return client.New(p.baseUrl)
}

// newUser registers a user, verifies the email with the mailed code and logs
// in.
func (p *platform) newUser(t *testing.T, username string) *client.NodeDashClient {
	c := p.newClient()
	email := username + "@nodedash.test"
	password := username + "_password"

	if _, err := c.Register(username, email, password); err != nil {
		t.Fatal(err)
	}

	code, err := p.mail.lastCode(email)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.VerifyEmail(email, code); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Login(username, password); err != nil {
		t.Fatal(err)
	}
	return c
}

func (p *platform) admin(t *testing.T) *client.NodeDashClient {
	c := p.newClient()
	if _, err := c.Login(adminUsername, adminPassword); err != nil {
		t.Fatal(err)
	}
	return c
}

// chirpstackConfig points a provider at the fake chirpstack server.
func (p *platform) chirpstackConfig(t *testing.T) map[string]interface{} {
	u, err := url.Parse(p.chirpstack.server.URL)
	if err != nil {
		t.Fatal(err)
	}
	return map[string]interface{}{
		chirpstack.KeyServer:   u.Hostname(),
		chirpstack.KeyPort:     u.Port(),
		chirpstack.KeyToken:    chirpstackToken,
		chirpstack.KeyTenantId: chirpstackTenant,
	}
}

func (p *platform) influxConfig(bucket string) map[string]interface{} {
	return map[string]interface{}{
		"url":        p.influx.server.URL,
		"org":        "nodedash",
		"bucket":     bucket,
		"token":      influxToken,
		"verify_ssl": false,
	}
}

func randomName(base string) string {
	return base + "-" + uuid.New().String()
}
