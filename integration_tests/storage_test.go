package integrationtests

import (
	"net/http"
	"strings"
	"testing"

	"nodedash/client"
	"nodedash/device_manager/schema"
	"nodedash/device_manager/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const temperatureCsv = `#datatype,string,long,dateTime:RFC3339,double,string,string,string
#group,false,false,false,false,true,true,true
#default,_result,,,,,,
,result,table,_time,_value,_field,_measurement,room
,,0,2024-03-01T10:00:00Z,21.5,value,temperature,kitchen
,,0,2024-03-01T09:00:00Z,20.25,value,temperature,kitchen
`

func TestTimeSeriesStorage(t *testing.T) {
	p := setupPlatform(t)
	alice := p.newUser(t, "alice")

	provider, err := alice.CreateProvider(0, "metrics", schema.ProviderInfluxdb, p.influxConfig("telemetry"))
	require.NoError(t, err)

	store := alice.Storage(provider.Id)

	err = store.Write("", storage.Point{
		Measurement: "temperature",
		Tags:        map[string]string{"room": "kitchen"},
		Fields:      map[string]interface{}{"value": 21.5},
		Timestamp:   "2024-03-01T10:00:00Z",
	})
	require.NoError(t, err)

	lines := p.influx.written("telemetry")
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "temperature,room=kitchen value=21.5 "), lines[0])

	err = store.Upsert("archive", storage.Point{
		Measurement: "humidity",
		Fields:      map[string]interface{}{"value": 40.0},
		Timestamp:   "2024-03-01T10:00:00Z",
		Precision:   "s",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"humidity value=40 1709287200"}, p.influx.written("archive"))

	err = store.Upsert("", storage.Point{Measurement: "humidity", Fields: map[string]interface{}{"value": 40.0}})
	assert.Equal(t, http.StatusUnprocessableEntity, client.StatusCode(err))

	p.influx.respondWith(temperatureCsv)

	records, err := store.Query(storage.Query{
		Start:       "-1h",
		Measurement: "temperature",
		Tags:        map[string]string{"room": "kitchen"},
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 21.5, records[0].Value)
	assert.Equal(t, "kitchen", records[0].Tags["room"])
	assert.Equal(t, "2024-03-01T09:00:00Z", records[1].Time)

	flux := p.influx.lastQuery()
	assert.Contains(t, flux, `from(bucket: "telemetry")`)
	assert.Contains(t, flux, `r["room"] == "kitchen"`)
	assert.Contains(t, flux, "limit(n: 100)")

	require.NoError(t, store.Delete(storage.DeleteRange{
		Start:       "2024-03-01T00:00:00Z",
		End:         "2024-03-02T00:00:00Z",
		Measurement: "temperature",
		Bucket:      "archive",
	}))
	deleted := p.influx.lastDelete()
	assert.Equal(t, "archive", deleted["bucket"])
	assert.Equal(t, `_measurement="temperature"`, deleted["predicate"])

	bob := p.newUser(t, "bob")
	_, err = bob.Storage(provider.Id).Query(storage.Query{Start: "-1h"})
	assert.Equal(t, http.StatusForbidden, client.StatusCode(err))
}

func TestTimeSeriesBackendErrors(t *testing.T) {
	p := setupPlatform(t)
	alice := p.newUser(t, "alice")

	config := p.influxConfig("telemetry")
	config["token"] = "revoked"

	provider, err := alice.CreateProvider(0, "metrics", schema.ProviderInfluxdb, config)
	require.NoError(t, err)

	err = alice.Storage(provider.Id).Write("", storage.Point{Measurement: "temperature", Fields: map[string]interface{}{"value": 1.0}})
	assert.Equal(t, http.StatusBadGateway, client.StatusCode(err))

	_, err = alice.SetProviderActive(provider.Id, false)
	require.NoError(t, err)

	err = alice.Storage(provider.Id).Write("", storage.Point{Measurement: "temperature", Fields: map[string]interface{}{"value": 1.0}})
	assert.Equal(t, http.StatusBadRequest, client.StatusCode(err))
}
