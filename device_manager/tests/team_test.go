package tests

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateListTeams(t *testing.T) {
	env := setupTestEnv(t)

	admin := env.mustAdmin(t)
	alice := env.mustUser(t, "alice")
	bob := env.mustUser(t, "bob")

	team1, err := alice.createTeam("field-ops")
	require.NoError(t, err)

	_, err = bob.createTeam("field-ops")
	assert.Equal(t, http.StatusConflict, statusOf(err))

	_, err = bob.createTeam("  ")
	assert.Equal(t, http.StatusBadRequest, statusOf(err))

	team2, err := bob.createTeam("lab")
	require.NoError(t, err)

	teams, err := alice.listTeams()
	require.NoError(t, err)
	require.Len(t, teams, 1)
	assert.Equal(t, team1, teams[0].Id)

	teams, err = admin.listTeams()
	require.NoError(t, err)
	require.Len(t, teams, 2)
	assert.Equal(t, team1, teams[0].Id)
	assert.Equal(t, team2, teams[1].Id)

	info, err := alice.team(team1)
	require.NoError(t, err)
	require.Len(t, info.Members, 1)
	assert.Equal(t, alice.userId, info.Members[0].UserId)
	assert.True(t, info.Members[0].IsTeamAdmin)

	_, err = bob.team(team1)
	assert.Equal(t, http.StatusForbidden, statusOf(err))
}

func TestAddRemoveTeamMembers(t *testing.T) {
	env := setupTestEnv(t)

	alice := env.mustUser(t, "alice")
	bob := env.mustUser(t, "bob")
	carol := env.mustUser(t, "carol")

	team, err := alice.createTeam("field-ops")
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, statusOf(bob.addTeamMember(team, "carol@mail.com")))

	require.NoError(t, alice.addTeamMember(team, "bob@mail.com"))
	assert.Equal(t, http.StatusConflict, statusOf(alice.addTeamMember(team, "bob@mail.com")))
	assert.Equal(t, http.StatusNotFound, statusOf(alice.addTeamMember(team, "nobody@mail.com")))

	// Any member can add other members.
	require.NoError(t, bob.addTeamMember(team, "carol@mail.com"))

	info, err := carol.team(team)
	require.NoError(t, err)
	assert.Len(t, info.Members, 3)

	require.NoError(t, alice.removeTeamMember(team, carol.userId))
	assert.Equal(t, http.StatusNotFound, statusOf(alice.removeTeamMember(team, carol.userId)))

	_, err = carol.team(team)
	assert.Equal(t, http.StatusForbidden, statusOf(err))
}

func TestLastTeamMemberCannotBeRemoved(t *testing.T) {
	env := setupTestEnv(t)

	alice := env.mustUser(t, "alice")
	bob := env.mustUser(t, "bob")

	team, err := alice.createTeam("field-ops")
	require.NoError(t, err)

	err = alice.removeTeamMember(team, alice.userId)
	require.Equal(t, http.StatusConflict, statusOf(err))
	assert.Contains(t, err.Error(), "Cannot remove the last member of the team")

	require.NoError(t, alice.addTeamMember(team, "bob@mail.com"))
	require.NoError(t, alice.Post(fmt.Sprintf("/teams/%d/admins/%d", team, bob.userId)).Do(nil))
	require.NoError(t, bob.removeTeamMember(team, alice.userId))

	err = bob.removeTeamMember(team, bob.userId)
	assert.Equal(t, http.StatusConflict, statusOf(err))

	info, err := bob.team(team)
	require.NoError(t, err)
	require.Len(t, info.Members, 1)
	assert.Equal(t, bob.userId, info.Members[0].UserId)
}

func TestTeamAdmins(t *testing.T) {
	env := setupTestEnv(t)

	alice := env.mustUser(t, "alice")
	bob := env.mustUser(t, "bob")

	team, err := alice.createTeam("field-ops")
	require.NoError(t, err)
	require.NoError(t, alice.addTeamMember(team, "bob@mail.com"))

	err = bob.Post(fmt.Sprintf("/teams/%d/admins/%d", team, bob.userId)).Do(nil)
	assert.Equal(t, http.StatusForbidden, statusOf(err))

	assert.Equal(t, http.StatusForbidden, statusOf(bob.deleteTeam(team)), "only team admins can delete teams")

	require.NoError(t, alice.Post(fmt.Sprintf("/teams/%d/admins/%d", team, bob.userId)).Do(nil))

	info, err := bob.team(team)
	require.NoError(t, err)
	for _, m := range info.Members {
		assert.True(t, m.IsTeamAdmin)
	}

	require.NoError(t, bob.Delete(fmt.Sprintf("/teams/%d/admins/%d", team, alice.userId)).Do(nil))

	info, err = bob.team(team)
	require.NoError(t, err)
	for _, m := range info.Members {
		assert.Equal(t, m.UserId == bob.userId, m.IsTeamAdmin)
	}
}

func TestLastTeamAdminCannotBeRemoved(t *testing.T) {
	env := setupTestEnv(t)

	alice := env.mustUser(t, "alice")
	bob := env.mustUser(t, "bob")

	team, err := alice.createTeam("field-ops")
	require.NoError(t, err)
	require.NoError(t, alice.addTeamMember(team, "bob@mail.com"))

	err = bob.removeTeamMember(team, alice.userId)
	require.Equal(t, http.StatusConflict, statusOf(err))
	assert.Contains(t, err.Error(), "Cannot remove the last admin of the team")

	err = alice.Delete(fmt.Sprintf("/teams/%d/admins/%d", team, alice.userId)).Do(nil)
	assert.Equal(t, http.StatusConflict, statusOf(err))

	info, err := bob.team(team)
	require.NoError(t, err)
	require.Len(t, info.Members, 2)
	for _, m := range info.Members {
		assert.Equal(t, m.UserId == alice.userId, m.IsTeamAdmin)
	}

	// Once bob is an admin too, alice can step down and leave, and bob can
	// still delete the team.
	require.NoError(t, alice.Post(fmt.Sprintf("/teams/%d/admins/%d", team, bob.userId)).Do(nil))
	require.NoError(t, alice.Delete(fmt.Sprintf("/teams/%d/admins/%d", team, alice.userId)).Do(nil))
	require.NoError(t, alice.removeTeamMember(team, alice.userId))

	err = bob.Delete(fmt.Sprintf("/teams/%d/admins/%d", team, bob.userId)).Do(nil)
	assert.Equal(t, http.StatusConflict, statusOf(err))

	require.NoError(t, bob.deleteTeam(team))
}

func TestTeamDeletionGate(t *testing.T) {
	env := setupTestEnv(t)

	admin := env.mustAdmin(t)
	alice := env.mustUser(t, "alice")
	bob := env.mustUser(t, "bob")

	assert.Equal(t, http.StatusNotFound, statusOf(alice.deleteTeam(999)))

	team, err := alice.createTeam("field-ops")
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, statusOf(bob.deleteTeam(team)))

	device, err := alice.createDevice(team, newDevice("gateway", "0011223344556677"))
	require.NoError(t, err)
	assert.Equal(t, "team", device.OwnerType)
	assert.Equal(t, team, device.OwnerId)

	err = alice.deleteTeam(team)
	require.Equal(t, http.StatusConflict, statusOf(err))
	assert.Contains(t, err.Error(), "still owns resources")

	// A superuser is gated by ownership too.
	assert.Equal(t, http.StatusConflict, statusOf(admin.deleteTeam(team)))

	_, err = alice.team(team)
	require.NoError(t, err, "a refused delete leaves the team intact")

	require.NoError(t, alice.deleteDevice(device.Id))
	require.NoError(t, alice.deleteTeam(team))

	teams, err := alice.listTeams()
	require.NoError(t, err)
	assert.Empty(t, teams)
}

func TestUserManagement(t *testing.T) {
	env := setupTestEnv(t)

	admin := env.mustAdmin(t)
	alice := env.mustUser(t, "alice")
	bob := env.mustUser(t, "bob")

	var users []userInfo
	assert.Equal(t, http.StatusForbidden, statusOf(alice.Get("/users/list").Do(&users)))

	require.NoError(t, admin.Get("/users/list").Do(&users))
	assert.Len(t, users, 3)

	_, err := alice.createResource("functions", 0, map[string]interface{}{"name": "decode"})
	require.NoError(t, err)

	err = admin.Delete(fmt.Sprintf("/users/%d", alice.userId)).Do(nil)
	assert.Equal(t, http.StatusConflict, statusOf(err), "users owning resources cannot be deleted")

	team, err := bob.createTeam("solo")
	require.NoError(t, err)
	err = admin.Delete(fmt.Sprintf("/users/%d", bob.userId)).Do(nil)
	assert.Equal(t, http.StatusConflict, statusOf(err), "the last member of a team cannot be deleted")

	require.NoError(t, bob.deleteTeam(team))
	require.NoError(t, admin.Delete(fmt.Sprintf("/users/%d", bob.userId)).Do(nil))

	require.NoError(t, admin.Post(fmt.Sprintf("/users/%d/superuser", alice.userId)).Do(nil))
	require.NoError(t, alice.Get("/users/list").Do(&users))
	assert.Len(t, users, 2)
}
