package tests

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type searchHit struct {
	Id     uint   `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	DevEui string `json:"dev_eui"`
}

func (c *client) search(query map[string]interface{}) (map[string][]searchHit, error) {
	req := c.Get("/search/")
	for k, v := range query {
		req = req.Query(k, v)
	}
	var res map[string][]searchHit
	err := req.Do(&res)
	return res, err
}

func searchNames(hits []searchHit) []string {
	names := []string{}
	for _, h := range hits {
		names = append(names, h.Name)
	}
	return names
}

func TestSearch(t *testing.T) {
	env := setupTestEnv(t)

	alice := env.mustUser(t, "alice")
	bob := env.mustUser(t, "bob")

	_, err := alice.createDevice(0, newDevice("Kitchen Sensor", "1111111111111111"))
	require.NoError(t, err)
	_, err = alice.createDevice(0, newDevice("garage_sensor", "2222222222222222"))
	require.NoError(t, err)
	_, err = alice.createResource("functions", 0, map[string]interface{}{"name": "decode", "description": "parses sensor payloads"})
	require.NoError(t, err)
	_, err = alice.createResource("flows", 0, map[string]interface{}{"name": "100% uptime"})
	require.NoError(t, err)
	_, err = bob.createDevice(0, newDevice("bob sensor", "3333333333333333"))
	require.NoError(t, err)

	res, err := alice.search(map[string]interface{}{"query": "SENSOR"})
	require.NoError(t, err)
	assert.Len(t, res, 4)
	assert.Equal(t, []string{"Kitchen Sensor", "garage_sensor"}, searchNames(res["devices"]))
	assert.Equal(t, []string{"decode"}, searchNames(res["functions"]))
	assert.Empty(t, res["flows"])
	assert.Empty(t, res["integrations"])

	// Wildcards in the term match literally.
	res, err = alice.search(map[string]interface{}{"query": "_", "resource_types": "devices"})
	require.NoError(t, err)
	assert.Equal(t, []string{"garage_sensor"}, searchNames(res["devices"]))

	res, err = alice.search(map[string]interface{}{"query": "%", "resource_types": "devices, flows"})
	require.NoError(t, err)
	assert.Len(t, res, 2)
	assert.Empty(t, res["devices"])
	assert.Equal(t, []string{"100% uptime"}, searchNames(res["flows"]))

	res, err = alice.search(map[string]interface{}{"query": "2222", "resource_types": "devices"})
	require.NoError(t, err)
	require.Len(t, res["devices"], 1)
	assert.Equal(t, "device", res["devices"][0].Type)
	assert.Equal(t, "2222222222222222", res["devices"][0].DevEui)

	res, err = alice.search(map[string]interface{}{"query": "sensor", "limit": 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"Kitchen Sensor"}, searchNames(res["devices"]))

	res, err = bob.search(map[string]interface{}{"query": "sensor", "resource_types": "devices"})
	require.NoError(t, err)
	assert.Equal(t, []string{"bob sensor"}, searchNames(res["devices"]))
}

func TestSearchParams(t *testing.T) {
	env := setupTestEnv(t)

	alice := env.mustUser(t, "alice")
	bob := env.mustUser(t, "bob")

	team, err := alice.createTeam("field-ops")
	require.NoError(t, err)
	_, err = alice.createDevice(team, newDevice("team sensor", "4444444444444444"))
	require.NoError(t, err)

	_, err = alice.search(map[string]interface{}{"query": "  "})
	assert.Equal(t, http.StatusBadRequest, statusOf(err))
	_, err = alice.search(map[string]interface{}{"query": "x", "limit": 0})
	assert.Equal(t, http.StatusBadRequest, statusOf(err))
	_, err = alice.search(map[string]interface{}{"query": "x", "resource_types": "devices,users"})
	assert.Equal(t, http.StatusUnprocessableEntity, statusOf(err))

	res, err := alice.search(map[string]interface{}{"query": "sensor", "team_id": team})
	require.NoError(t, err)
	assert.Equal(t, []string{"team sensor"}, searchNames(res["devices"]))

	res, err = bob.search(map[string]interface{}{"query": "sensor", "team_id": team})
	require.NoError(t, err)
	assert.Len(t, res, 4)
	for kind, hits := range res {
		assert.Empty(t, hits, kind)
	}
}
