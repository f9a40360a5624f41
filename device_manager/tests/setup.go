package tests

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"nodedash/device_manager/auth"
	"nodedash/device_manager/chirpstack"
	"nodedash/device_manager/kvstore"
	"nodedash/device_manager/schema"
	"nodedash/device_manager/services"
	"nodedash/device_manager/storage"

	"github.com/go-chi/chi/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testEnv struct {
	deviceManager services.DeviceManager
	api           chi.Router
	db            *gorm.DB
	kv            *kvstore.Memory
	mail          *NotifierStub
	chirpstack    *NetworkServerStub
	influx        *TimeSeriesStub
}

const (
	adminUsername = "admin123"
	adminEmail    = "admin123@mail.com"
	adminPassword = "admin_password123"

	maintenanceKey = "maintenance-key-123"
)

func setupTestEnv(t *testing.T) *testEnv {
	return setupTestEnvWith(t, services.Variables{LoginRateLimit: 1000, ResetRateLimit: 1000})
}

func setupTestEnvWith(t *testing.T, variables services.Variables) *testEnv {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatal(err)
	}

	if err := db.AutoMigrate(schema.Models()...); err != nil {
		t.Fatal(err)
	}

	secret := []byte("290zcv02ai249")

	userAuth, err := auth.NewBasicIdentityProvider(
		db,
		auth.NewAuditLogger(new(bytes.Buffer)),
		auth.BasicProviderArgs{
			Secret:        secret,
			AdminUsername: adminUsername,
			AdminEmail:    adminEmail,
			AdminPassword: adminPassword,
		},
	)
	if err != nil {
		t.Fatal(err)
	}

	kv := kvstore.NewMemory()
	t.Cleanup(func() { kv.Close() })

	mail := newNotifierStub()
	ns := newNetworkServerStub()
	influx := newTimeSeriesStub()

	variables.WebsiteAddress = "https://app.example.com"
	variables.IngestAddress = "https://ingest.example.com"
	variables.MaintenanceKey = maintenanceKey

	deviceManager := services.NewDeviceManager(
		db, userAuth,
		services.Backends{
			KV:             kv,
			Notifier:       mail,
			NetworkServers: func(chirpstack.Config) chirpstack.NetworkServer { return ns },
			TimeSeries:     func(cfg storage.Config) storage.TimeSeries { return influx.forConfig(cfg) },
		},
		variables,
		secret,
	)

	return &testEnv{
		deviceManager: deviceManager,
		api:           deviceManager.Routes(),
		db:            db,
		kv:            kv,
		mail:          mail,
		chirpstack:    ns,
		influx:        influx,
	}
}

func (t *testEnv) newClient() client {
	return client{api: t.api}
}

// verificationCode reads the pending code for email straight from the store.
func (t *testEnv) verificationCode(prefix, email string) (string, error) {
	code, ok, err := t.kv.Get(context.Background(), prefix+email)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("no code issued for %v", email)
	}
	return code, nil
}

// newUser registers, verifies and logs in a user.
func (t *testEnv) newUser(username string) (client, error) {
	c := t.newClient()
	email := username + "@mail.com"
	password := username + "_password"

	if _, err := c.register(username, email, password); err != nil {
		return client{}, err
	}

	code, err := t.verificationCode(kvstore.EmailVerificationPrefix, email)
	if err != nil {
		return client{}, err
	}
	if err := c.verifyEmail(email, code); err != nil {
		return client{}, err
	}

	if err := c.login(username, password); err != nil {
		return client{}, err
	}
	return c, nil
}

func (t *testEnv) adminClient() (client, error) {
	c := t.newClient()
	err := c.login(adminUsername, adminPassword)
	return c, err
}

func (t *testEnv) mustUser(tb testing.TB, username string) client {
	c, err := t.newUser(username)
	if err != nil {
		tb.Fatal(err)
	}
	return c
}

func (t *testEnv) mustAdmin(tb testing.TB) client {
	c, err := t.adminClient()
	if err != nil {
		tb.Fatal(err)
	}
	return c
}
