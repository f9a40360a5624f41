package kvstore

import (
	"context"
	"time"
)

// Store holds short lived state: verification codes, mfa sessions, device
// liveness markers and rate limit counters.
type Store interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns ok=false if the key is missing or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// Allow counts a hit for key within a fixed window. Backend errors fail
	// open.
	Allow(ctx context.Context, key string, limit int, window time.Duration) Decision

	Close() error
}

type Decision struct {
	Allowed   bool
	Count     int
	WindowEnd time.Time
}

const (
	PasswordResetPrefix     = "password_reset:"
	EmailVerificationPrefix = "email_verification:"
	MfaSessionPrefix        = "mfa_session:"
	DeviceStatusPrefix      = "device:status:"
	RateLimitPrefix         = "ratelimit:"

	PasswordResetTTL     = 15 * time.Minute
	EmailVerificationTTL = 24 * time.Hour
	MfaSessionTTL        = 5 * time.Minute
)
