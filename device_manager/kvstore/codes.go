package kvstore

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"
)

func encodeCount(n int) string { return strconv.Itoa(n) }

func decodeCount(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("error generating verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// IssueCode stores a fresh 6 digit code for email under prefix, replacing
// any earlier code.
func IssueCode(ctx context.Context, s Store, prefix, email string, ttl time.Duration) (string, error) {
	code, err := newCode()
	if err != nil {
		return "", err
	}
	if err := s.Set(ctx, prefix+email, code, ttl); err != nil {
		return "", fmt.Errorf("error storing verification code: %w", err)
	}
	return code, nil
}

// ConsumeCode reports whether code matches the stored one. A matching code is
// deleted so it can only be used once.
func ConsumeCode(ctx context.Context, s Store, prefix, email, code string) bool {
	stored, ok, err := s.Get(ctx, prefix+email)
	if err != nil || !ok {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		slog.Warn("invalid verification code", "prefix", prefix, "email", email)
		return false
	}
	if err := s.Delete(ctx, prefix+email); err != nil {
		slog.Error("error removing used verification code", "email", email, "error", err)
	}
	return true
}

type MfaSession struct {
	UserId     uint   `json:"user_id"`
	Email      string `json:"email"`
	RememberMe bool   `json:"remember_me"`
}

func CreateMfaSession(ctx context.Context, s Store, session MfaSession) (string, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	if err := s.Set(ctx, MfaSessionPrefix+id, string(data), MfaSessionTTL); err != nil {
		return "", fmt.Errorf("error storing mfa session: %w", err)
	}
	return id, nil
}

// GetMfaSession returns nil if the session is unknown or expired.
func GetMfaSession(ctx context.Context, s Store, id string) (*MfaSession, error) {
	data, ok, err := s.Get(ctx, MfaSessionPrefix+id)
	if err != nil || !ok {
		return nil, err
	}
	var session MfaSession
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("invalid mfa session data: %w", err)
	}
	return &session, nil
}

func ClearMfaSession(ctx context.Context, s Store, id string) error {
	return s.Delete(ctx, MfaSessionPrefix+id)
}

func deviceKey(deviceId uint) string {
	return DeviceStatusPrefix + strconv.FormatUint(uint64(deviceId), 10)
}

func SetDeviceOnline(ctx context.Context, s Store, deviceId uint, ttl time.Duration) error {
	return s.Set(ctx, deviceKey(deviceId), "ONLINE", ttl)
}

func DeviceOnline(ctx context.Context, s Store, deviceId uint) (bool, error) {
	return s.Exists(ctx, deviceKey(deviceId))
}

func ClearDeviceStatus(ctx context.Context, s Store, deviceId uint) error {
	return s.Delete(ctx, deviceKey(deviceId))
}
