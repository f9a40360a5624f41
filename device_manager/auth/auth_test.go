package auth

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nodedash/device_manager/apperr"
	"nodedash/device_manager/schema"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openTestDb(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(schema.Models()...))
	return db
}

type fixture struct {
	db      *gorm.DB
	alice   schema.User
	bob     schema.User
	admin   schema.User
	team    schema.Team
	devices map[string]schema.Device
}

func newFixture(t *testing.T) fixture {
	db := openTestDb(t)
	f := fixture{db: db, devices: map[string]schema.Device{}}

	f.alice = schema.User{Username: "alice", Email: "alice@example.com", IsActive: true, EmailVerified: true}
	f.bob = schema.User{Username: "bob", Email: "bob@example.com", IsActive: true, EmailVerified: true}
	f.admin = schema.User{Username: "root", Email: "root@example.com", IsActive: true, IsSuperuser: true, EmailVerified: true}
	require.NoError(t, db.Create(&f.alice).Error)
	require.NoError(t, db.Create(&f.bob).Error)
	require.NoError(t, db.Create(&f.admin).Error)

	f.team = schema.Team{Name: "acme"}
	require.NoError(t, db.Create(&f.team).Error)
	require.NoError(t, db.Create(&schema.UserTeam{UserId: f.alice.Id, TeamId: f.team.Id, IsTeamAdmin: true}).Error)

	for name, owner := range map[string]schema.Ownership{
		"alice": schema.UserOwner(f.alice.Id),
		"bob":   schema.UserOwner(f.bob.Id),
		"team":  schema.TeamOwner(f.team.Id),
	} {
		d := schema.Device{
			Name: name, DevEui: strings.ToUpper(fmt.Sprintf("%016x", len(f.devices)+1)), AppEui: "0000000000000000",
			AppKey: strings.Repeat("0", 32), Region: schema.RegionEU868, Status: schema.DeviceNeverSeen,
			ExpectedTransmitTime: 60, Ownership: owner,
		}
		require.NoError(t, db.Create(&d).Error)
		f.devices[name] = d
	}
	return f
}

func TestResolveOwner(t *testing.T) {
	f := newFixture(t)

	owner, err := ResolveOwner(f.db, f.bob, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.UserOwner(f.bob.Id), owner)

	owner, err = ResolveOwner(f.db, f.alice, &f.team.Id)
	require.NoError(t, err)
	assert.Equal(t, schema.TeamOwner(f.team.Id), owner)

	_, err = ResolveOwner(f.db, f.bob, &f.team.Id)
	assert.Equal(t, apperr.Forbidden, apperr.KindOf(err))

	owner, err = ResolveOwner(f.db, f.admin, &f.team.Id)
	require.NoError(t, err)
	assert.Equal(t, schema.OwnerTeam, owner.OwnerType)

	missing := uint(999)
	_, err = ResolveOwner(f.db, f.alice, &missing)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestCheckPermission(t *testing.T) {
	f := newFixture(t)

	assert.NoError(t, CheckPermission(f.db, f.alice, f.devices["alice"], "read"))
	assert.NoError(t, CheckPermission(f.db, f.alice, f.devices["team"], "update"))

	err := CheckPermission(f.db, f.alice, f.devices["bob"], "delete")
	assert.Equal(t, apperr.Forbidden, apperr.KindOf(err))
	assert.EqualError(t, err, "Not enough permissions to delete this resource")

	err = CheckPermission(f.db, f.bob, f.devices["team"], "read")
	assert.Equal(t, apperr.Forbidden, apperr.KindOf(err))

	for _, d := range f.devices {
		assert.NoError(t, CheckPermission(f.db, f.admin, d, "delete"))
	}

	assert.Equal(t, apperr.NotFound, apperr.KindOf(CheckPermission(f.db, f.alice, nil, "read")))
}

func TestPermissionFollowsMembership(t *testing.T) {
	f := newFixture(t)

	require.Error(t, CheckPermission(f.db, f.bob, f.devices["team"], "read"))

	require.NoError(t, f.db.Create(&schema.UserTeam{UserId: f.bob.Id, TeamId: f.team.Id}).Error)
	require.NoError(t, CheckPermission(f.db, f.bob, f.devices["team"], "read"))

	require.NoError(t, f.db.Delete(&schema.UserTeam{}, "user_id = ? and team_id = ?", f.bob.Id, f.team.Id).Error)
	require.Error(t, CheckPermission(f.db, f.bob, f.devices["team"], "read"))
}

func listNames(t *testing.T, f fixture, actor schema.User, teamId *uint) []string {
	scope, err := ListScope(f.db, actor, teamId)
	require.NoError(t, err)
	var devices []schema.Device
	require.NoError(t, f.db.Scopes(scope).Order("name").Find(&devices).Error)
	names := make([]string, 0, len(devices))
	for _, d := range devices {
		names = append(names, d.Name)
	}
	return names
}

func TestListScope(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, []string{"alice", "team"}, listNames(t, f, f.alice, nil))
	assert.Equal(t, []string{"bob"}, listNames(t, f, f.bob, nil))
	assert.Equal(t, []string{"alice", "bob", "team"}, listNames(t, f, f.admin, nil))
	assert.Equal(t, []string{"team"}, listNames(t, f, f.alice, &f.team.Id))
	assert.Equal(t, []string{"team"}, listNames(t, f, f.admin, &f.team.Id))

	_, err := ListScope(f.db, f.bob, &f.team.Id)
	assert.ErrorIs(t, err, ErrNotTeamMember)
}

func TestAuthenticate(t *testing.T) {
	db := openTestDb(t)
	provider, err := NewBasicIdentityProvider(db, NewAuditLogger(io.Discard), BasicProviderArgs{
		Secret: []byte("secret"), AdminUsername: "root", AdminEmail: "root@example.com", AdminPassword: "rootpass",
	})
	require.NoError(t, err)

	admin, err := provider.Authenticate("root@example.com", "rootpass")
	require.NoError(t, err)
	assert.True(t, admin.IsSuperuser)

	user, err := provider.CreateUser("carol", "carol@example.com", "pass1234")
	require.NoError(t, err)

	_, err = provider.Authenticate("carol", "pass1234")
	assert.ErrorIs(t, err, ErrEmailNotVerified)

	require.NoError(t, db.Model(&user).Update("email_verified", true).Error)
	_, err = provider.Authenticate("carol", "pass1234")
	require.NoError(t, err)

	_, err = provider.Authenticate("carol", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = provider.Authenticate("nobody", "pass1234")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, db.Model(&user).Update("is_active", false).Error)
	_, err = provider.Authenticate("carol", "pass1234")
	assert.ErrorIs(t, err, ErrInactiveUser)

	_, err = provider.CreateUser("carol2", "carol@example.com", "x")
	assert.ErrorIs(t, err, ErrEmailAlreadyInUse)
	_, err = provider.CreateUser("carol", "other@example.com", "x")
	assert.ErrorIs(t, err, ErrUsernameAlreadyInUse)

	require.NoError(t, provider.SetPassword(user.Id, "newpass"))
	require.NoError(t, db.Model(&user).Update("is_active", true).Error)
	_, err = provider.Authenticate("carol", "newpass")
	assert.NoError(t, err)

	// adding the admin again is a no-op
	_, err = NewBasicIdentityProvider(db, NewAuditLogger(io.Discard), BasicProviderArgs{
		Secret: []byte("secret"), AdminUsername: "root", AdminEmail: "root@example.com", AdminPassword: "other",
	})
	require.NoError(t, err)
	_, err = provider.Authenticate("root", "rootpass")
	assert.NoError(t, err)
}

func TestMaintenanceKeyOnly(t *testing.T) {
	handler := MaintenanceKeyOnly("s3cret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest("POST", "/maintenance/cleanup-history", nil)
	req.Header.Set(MaintenanceKeyHeader, "s3cret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest("POST", "/maintenance/cleanup-history", nil)
	req.Header.Set("Authorization", "Bearer some-user-token")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"Invalid API key"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	MaintenanceKeyOnly("")(handler).ServeHTTP(rec, httptest.NewRequest("POST", "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestActionSigner(t *testing.T) {
	signer := NewActionSigner([]byte("secret"))

	token, err := signer.Sign("mfa_login", "session-1", time.Minute)
	require.NoError(t, err)

	ref, err := signer.Verify(token, "mfa_login")
	require.NoError(t, err)
	assert.Equal(t, "session-1", ref)

	_, err = signer.Verify(token, "password_reset")
	assert.ErrorIs(t, err, ErrInvalidActionToken)

	_, err = NewActionSigner([]byte("other")).Verify(token, "mfa_login")
	assert.ErrorIs(t, err, ErrInvalidActionToken)

	expired, err := signer.Sign("mfa_login", "session-1", -time.Minute)
	require.NoError(t, err)
	_, err = signer.Verify(expired, "mfa_login")
	assert.ErrorIs(t, err, ErrInvalidActionToken)
}

func TestMfa(t *testing.T) {
	setup, err := NewMfaSetup("NodeDash", "alice@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, setup.Secret)
	assert.True(t, strings.HasPrefix(setup.ProvisioningUri, "otpauth://totp/"))
	assert.True(t, strings.HasPrefix(setup.QrCode, "data:image/png;base64,"))

	code, err := totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)
	assert.True(t, ValidateTotp(code, setup.Secret))
	assert.False(t, ValidateTotp("000000x", setup.Secret))
	assert.False(t, ValidateTotp(code, ""))
}
