package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func newTestMemory(t *testing.T) (*Memory, *fakeClock) {
	m := NewMemory()
	t.Cleanup(func() { m.Close() })
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	m.now = clock.now
	return m, clock
}

func TestMemoryExpiry(t *testing.T) {
	m, clock := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, m.Set(ctx, "b", "2", 0))

	v, ok, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	clock.t = clock.t.Add(time.Minute)
	_, ok, _ = m.Get(ctx, "a")
	assert.False(t, ok)

	ok, _ = m.Exists(ctx, "b")
	assert.True(t, ok)

	m.cleanup()
	assert.Len(t, m.entries, 1)

	require.NoError(t, m.Delete(ctx, "b"))
	ok, _ = m.Exists(ctx, "b")
	assert.False(t, ok)
}

func TestMemoryRateLimit(t *testing.T) {
	m, clock := newTestMemory(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d := m.Allow(ctx, "login:1.2.3.4", 3, time.Minute)
		assert.True(t, d.Allowed)
		assert.Equal(t, i, d.Count)
	}
	assert.False(t, m.Allow(ctx, "login:1.2.3.4", 3, time.Minute).Allowed)
	assert.True(t, m.Allow(ctx, "login:5.6.7.8", 3, time.Minute).Allowed)

	clock.t = clock.t.Add(time.Minute + time.Second)
	d := m.Allow(ctx, "login:1.2.3.4", 3, time.Minute)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Count)

	assert.True(t, m.Allow(ctx, "x", 0, time.Minute).Allowed)
}

func TestCodes(t *testing.T) {
	m, clock := newTestMemory(t)
	ctx := context.Background()

	code, err := IssueCode(ctx, m, PasswordResetPrefix, "a@b.com", PasswordResetTTL)
	require.NoError(t, err)
	assert.Len(t, code, 6)

	assert.False(t, ConsumeCode(ctx, m, PasswordResetPrefix, "a@b.com", "wrong!"))
	assert.False(t, ConsumeCode(ctx, m, EmailVerificationPrefix, "a@b.com", code))
	assert.True(t, ConsumeCode(ctx, m, PasswordResetPrefix, "a@b.com", code))
	// single use
	assert.False(t, ConsumeCode(ctx, m, PasswordResetPrefix, "a@b.com", code))

	code, err = IssueCode(ctx, m, EmailVerificationPrefix, "a@b.com", EmailVerificationTTL)
	require.NoError(t, err)
	clock.t = clock.t.Add(EmailVerificationTTL)
	assert.False(t, ConsumeCode(ctx, m, EmailVerificationPrefix, "a@b.com", code))
}

func TestMfaSession(t *testing.T) {
	m, clock := newTestMemory(t)
	ctx := context.Background()

	id, err := CreateMfaSession(ctx, m, MfaSession{UserId: 7, Email: "a@b.com", RememberMe: true})
	require.NoError(t, err)

	session, err := GetMfaSession(ctx, m, id)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, uint(7), session.UserId)
	assert.True(t, session.RememberMe)

	require.NoError(t, ClearMfaSession(ctx, m, id))
	session, err = GetMfaSession(ctx, m, id)
	require.NoError(t, err)
	assert.Nil(t, session)

	id, _ = CreateMfaSession(ctx, m, MfaSession{UserId: 7})
	clock.t = clock.t.Add(MfaSessionTTL)
	session, _ = GetMfaSession(ctx, m, id)
	assert.Nil(t, session)
}

func TestDeviceOnline(t *testing.T) {
	m, clock := newTestMemory(t)
	ctx := context.Background()

	online, err := DeviceOnline(ctx, m, 3)
	require.NoError(t, err)
	assert.False(t, online)

	require.NoError(t, SetDeviceOnline(ctx, m, 3, 10*time.Minute))
	online, _ = DeviceOnline(ctx, m, 3)
	assert.True(t, online)

	clock.t = clock.t.Add(11 * time.Minute)
	online, _ = DeviceOnline(ctx, m, 3)
	assert.False(t, online)
}

var _ Store = (*Memory)(nil)
var _ Store = (*Redis)(nil)
