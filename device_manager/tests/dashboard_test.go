package tests

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dashboardStats struct {
	DeviceStats struct {
		Total       int64 `json:"total"`
		Online      int64 `json:"online"`
		Offline     int64 `json:"offline"`
		NeverSeen   int64 `json:"neverSeen"`
		Maintenance int64 `json:"maintenance"`
	} `json:"deviceStats"`
	FlowStats struct {
		Total          int64 `json:"total"`
		Success        int64 `json:"success"`
		Error          int64 `json:"error"`
		PartialSuccess int64 `json:"partialSuccess"`
		Pending        int64 `json:"pending"`
		Inactive       int64 `json:"inactive"`
	} `json:"flowStats"`
	FunctionStats    executionStats `json:"functionStats"`
	IntegrationStats executionStats `json:"integrationStats"`
}

type executionStats struct {
	Total    int64 `json:"total"`
	Active   int64 `json:"active"`
	Error    int64 `json:"error"`
	Inactive int64 `json:"inactive"`
}

func (c *client) dashboard(teamId uint) (dashboardStats, error) {
	var stats dashboardStats
	err := c.Get("/dashboard/stats").Team(teamId).Do(&stats)
	return stats, err
}

func TestDashboardStats(t *testing.T) {
	env := setupTestEnv(t)

	alice := env.mustUser(t, "alice")

	stats, err := alice.dashboard(0)
	require.NoError(t, err)
	assert.Equal(t, dashboardStats{}, stats)

	online, err := alice.createDevice(0, newDevice("online", "0D0D0D0D0D0D0D01"))
	require.NoError(t, err)
	require.NoError(t, alice.Post(fmt.Sprintf("/devices/%d/seen", online.Id)).Do(nil))

	broken, err := alice.createDevice(0, newDevice("broken", "0D0D0D0D0D0D0D02"))
	require.NoError(t, err)
	require.NoError(t, alice.Put(fmt.Sprintf("/devices/%d/status", broken.Id)).Json(map[string]string{"status": "MAINTENANCE"}).Do(nil))

	_, err = alice.createDevice(0, newDevice("fresh", "0D0D0D0D0D0D0D03"))
	require.NoError(t, err)

	flows := make([]resourceInfo, 0, 4)
	for i := 0; i < 4; i++ {
		flow, err := alice.createResource("flows", 0, map[string]interface{}{"name": fmt.Sprintf("flow-%d", i)})
		require.NoError(t, err)
		flows = append(flows, flow)
	}
	// Only the latest execution of each flow counts.
	for _, run := range []struct {
		flow   int
		status string
	}{
		{0, "error"}, {0, "success"},
		{1, "success"}, {1, "error"},
		{2, "partial_success"},
	} {
		_, err := alice.recordHistory("flows", flows[run.flow].Id, map[string]interface{}{"status": run.status})
		require.NoError(t, err)
	}

	decode, err := alice.createResource("functions", 0, map[string]interface{}{"name": "decode"})
	require.NoError(t, err)
	_, err = alice.createResource("functions", 0, map[string]interface{}{"name": "unused"})
	require.NoError(t, err)
	_, err = alice.recordHistory("functions", decode.Id, map[string]interface{}{"status": "success"})
	require.NoError(t, err)

	webhook, err := alice.createResource("integrations", 0, map[string]interface{}{
		"name": "webhook", "type": "http", "config": map[string]interface{}{"url": "https://hooks.example.com"},
	})
	require.NoError(t, err)
	_, err = alice.recordHistory("integrations", webhook.Id, map[string]interface{}{"status": "error"})
	require.NoError(t, err)

	stats, err = alice.dashboard(0)
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.DeviceStats.Total)
	assert.Equal(t, int64(1), stats.DeviceStats.Online)
	assert.Equal(t, int64(1), stats.DeviceStats.Maintenance)
	assert.Equal(t, int64(1), stats.DeviceStats.NeverSeen)
	assert.Equal(t, int64(0), stats.DeviceStats.Offline)

	assert.Equal(t, int64(4), stats.FlowStats.Total)
	assert.Equal(t, int64(1), stats.FlowStats.Success)
	assert.Equal(t, int64(1), stats.FlowStats.Error)
	assert.Equal(t, int64(1), stats.FlowStats.PartialSuccess)
	assert.Equal(t, int64(1), stats.FlowStats.Inactive)

	assert.Equal(t, executionStats{Total: 2, Active: 1, Inactive: 1}, stats.FunctionStats)
	assert.Equal(t, executionStats{Total: 1, Error: 1}, stats.IntegrationStats)
}

func TestDashboardTeamScope(t *testing.T) {
	env := setupTestEnv(t)

	alice := env.mustUser(t, "alice")
	bob := env.mustUser(t, "bob")

	team, err := alice.createTeam("field-ops")
	require.NoError(t, err)

	_, err = alice.createDevice(team, newDevice("team device", "0E0E0E0E0E0E0E01"))
	require.NoError(t, err)
	_, err = alice.createDevice(0, newDevice("personal device", "0E0E0E0E0E0E0E02"))
	require.NoError(t, err)

	stats, err := alice.dashboard(team)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.DeviceStats.Total)

	// Without a team the user sees their own resources and those of their teams.
	stats, err = alice.dashboard(0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.DeviceStats.Total)

	// Outsiders get empty stats rather than an error.
	stats, err = bob.dashboard(team)
	require.NoError(t, err)
	assert.Equal(t, dashboardStats{}, stats)

	assert.Equal(t, http.StatusBadRequest, statusOf(alice.Get("/dashboard/stats").Query("team_id", "abc").Do(nil)))
}
