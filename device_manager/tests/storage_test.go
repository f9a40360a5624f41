package tests

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Time        string            `json:"time"`
	Measurement string            `json:"measurement"`
	Field       string            `json:"field"`
	Value       interface{}       `json:"value"`
	Tags        map[string]string `json:"tags"`
}

func TestStorageWriteQueryDelete(t *testing.T) {
	env := setupTestEnv(t)

	alice := env.mustUser(t, "alice")
	bob := env.mustUser(t, "bob")

	provider, err := alice.createProvider(0, "influxdb", influxConfig())
	require.NoError(t, err)

	endpoint := func(op string) string {
		return fmt.Sprintf("/storage/%d/%v", provider.Id, op)
	}

	points := map[string]interface{}{
		"points": []map[string]interface{}{
			{"measurement": "temperature", "tags": map[string]string{"device": "probe-1"}, "fields": map[string]interface{}{"value": 21.5}},
			{"measurement": "humidity", "tags": map[string]string{"device": "probe-1"}, "fields": map[string]interface{}{"value": 40}},
		},
	}

	assert.Equal(t, http.StatusBadRequest, statusOf(alice.Post(endpoint("write")).Json(map[string]interface{}{"points": []interface{}{}}).Do(nil)))
	assert.Equal(t, http.StatusForbidden, statusOf(bob.Post(endpoint("write")).Json(points).Do(nil)))

	var ok bool
	require.NoError(t, alice.Post(endpoint("write")).Json(points).Do(&ok))
	assert.True(t, ok)
	assert.Equal(t, 2, env.influx.pointCount("telemetry"))

	// An explicit bucket overrides the provider default.
	archive := map[string]interface{}{"points": points["points"], "bucket": "archive"}
	require.NoError(t, alice.Post(endpoint("write")).Json(archive).Do(nil))
	assert.Equal(t, 2, env.influx.pointCount("archive"))

	assert.Equal(t, http.StatusBadRequest, statusOf(alice.Post(endpoint("query")).Json(map[string]interface{}{"measurement": "temperature"}).Do(nil)))

	var records []record
	require.NoError(t, alice.Post(endpoint("query")).Json(map[string]interface{}{"start": "-1h", "measurement": "temperature"}).Do(&records))
	require.Len(t, records, 1)
	assert.Equal(t, 21.5, records[0].Value)
	assert.Equal(t, "probe-1", records[0].Tags["device"])

	query := env.influx.queries[len(env.influx.queries)-1]
	assert.Equal(t, 100, query.Limit)
	assert.Equal(t, "desc", query.Order)

	assert.Equal(t, http.StatusBadRequest, statusOf(alice.Post(endpoint("delete")).Json(map[string]interface{}{"start": "-1h"}).Do(nil)))
	assert.Equal(t, http.StatusForbidden, statusOf(bob.Post(endpoint("delete")).Json(map[string]interface{}{"start": "-1h", "end": "now()"}).Do(nil)))

	del := map[string]interface{}{"start": "1970-01-01T00:00:00Z", "end": "2100-01-01T00:00:00Z", "measurement": "temperature"}
	require.NoError(t, alice.Post(endpoint("delete")).Json(del).Do(&ok))
	assert.Equal(t, 1, env.influx.pointCount("telemetry"))
	assert.Equal(t, 2, env.influx.pointCount("archive"))

	require.NoError(t, alice.Post(endpoint("query")).Json(map[string]interface{}{"start": "-1h"}).Do(&records))
	require.Len(t, records, 1)
	assert.Equal(t, "humidity", records[0].Measurement)
}

func TestStorageUpsert(t *testing.T) {
	env := setupTestEnv(t)

	alice := env.mustUser(t, "alice")

	provider, err := alice.createProvider(0, "influxdb", influxConfig())
	require.NoError(t, err)
	endpoint := fmt.Sprintf("/storage/%d/upsert", provider.Id)

	point := map[string]interface{}{"measurement": "battery", "fields": map[string]interface{}{"level": 87}}
	assert.Equal(t, http.StatusUnprocessableEntity, statusOf(alice.Post(endpoint).Json(point).Do(nil)))

	point["timestamp"] = "1700000000000000000"
	point["bucket"] = "devices"
	require.NoError(t, alice.Post(endpoint).Json(point).Do(nil))
	assert.Equal(t, 1, env.influx.pointCount("devices"))
	assert.Equal(t, "1700000000000000000", env.influx.points["devices"][0].Timestamp)
}

func TestStorageProviderChecks(t *testing.T) {
	env := setupTestEnv(t)

	alice := env.mustUser(t, "alice")

	chirp, err := alice.createProvider(0, "chirpstack", chirpstackConfig())
	require.NoError(t, err)

	write := map[string]interface{}{"points": []map[string]interface{}{{"measurement": "m", "fields": map[string]interface{}{"v": 1}}}}

	err = alice.Post(fmt.Sprintf("/storage/%d/write", chirp.Id)).Json(write).Do(nil)
	require.Equal(t, http.StatusBadRequest, statusOf(err))
	assert.Contains(t, err.Error(), "not an InfluxDB provider")

	assert.Equal(t, http.StatusNotFound, statusOf(alice.Post("/storage/999/write").Json(write).Do(nil)))

	influx, err := alice.createProvider(0, "influxdb", influxConfig())
	require.NoError(t, err)
	_, err = alice.updateResource("providers", influx.Id, 0, map[string]interface{}{"is_active": false})
	require.NoError(t, err)

	err = alice.Post(fmt.Sprintf("/storage/%d/write", influx.Id)).Json(write).Do(nil)
	require.Equal(t, http.StatusBadRequest, statusOf(err))
	assert.Contains(t, err.Error(), "Provider is not active")
	assert.Equal(t, 0, env.influx.pointCount("telemetry"))
}
