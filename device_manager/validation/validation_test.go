package validation

import (
	"testing"

	"nodedash/device_manager/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type devicePayload struct {
	Name                 string `json:"name"`
	DevEui               string `json:"dev_eui"`
	AppEui               string `json:"app_eui"`
	AppKey               string `json:"app_key"`
	Region               string `json:"region,omitempty"`
	ExpectedTransmitTime *int   `json:"expected_transmit_time"`
}

func intPtr(v int) *int { return &v }

func TestSchemasLoad(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	for _, id := range []string{
		Device, DeviceUpdate,
		IntegrationConfig("http"), IntegrationConfig("mqtt"),
		ProviderConfig("chirpstack"), ProviderConfig("influxdb"), ProviderConfig("email"), ProviderConfig("sms"),
	} {
		assert.True(t, v.HasSchema(id), id)
	}
}

func TestDevice(t *testing.T) {
	v := MustNew()

	valid := devicePayload{
		Name: "sensor", DevEui: "0011AABBCCDDEEFF", AppEui: "70b3d57ed0000000",
		AppKey: "00112233445566778899AABBCCDDEEFF", Region: "US915", ExpectedTransmitTime: intPtr(60),
	}
	assert.NoError(t, v.Validate(valid, Device))

	bad := valid
	bad.DevEui = "123"
	err := v.Validate(bad, Device)
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "dev_eui")

	bad = valid
	bad.ExpectedTransmitTime = intPtr(1441)
	assert.Error(t, v.Validate(bad, Device))

	bad = valid
	bad.Region = "CN470"
	assert.Error(t, v.Validate(bad, Device))

	assert.NoError(t, v.Validate(map[string]interface{}{"name": "renamed"}, DeviceUpdate))
	assert.Error(t, v.Validate(map[string]interface{}{"app_key": "short"}, DeviceUpdate))
}

func TestProviderConfigs(t *testing.T) {
	v := MustNew()

	chirpstack := map[string]interface{}{
		"CHIRPSTACK_API_SERVER": "ns", "CHIRPSTACK_API_PORT": "8080", "CHIRPSTACK_API_TOKEN": "t",
	}
	assert.NoError(t, v.Validate(chirpstack, ProviderConfig("chirpstack")))
	chirpstack["CHIRPSTACK_API_PORT"] = 8080
	assert.NoError(t, v.Validate(chirpstack, ProviderConfig("chirpstack")))
	chirpstack["CHIRPSTACK_API_PORT"] = "http"
	assert.Error(t, v.Validate(chirpstack, ProviderConfig("chirpstack")))

	influx := map[string]interface{}{"url": "http://influx:8086", "org": "o", "bucket": "b"}
	assert.Error(t, v.Validate(influx, ProviderConfig("influxdb")))
	influx["token"] = "t"
	assert.NoError(t, v.Validate(influx, ProviderConfig("influxdb")))

	assert.NoError(t, v.ValidateOptional(map[string]interface{}{}, ProviderConfig("carrier-pigeon")))
	assert.Error(t, v.Validate(map[string]interface{}{}, "missing"))
}

func TestIntegrationConfigs(t *testing.T) {
	v := MustNew()

	assert.NoError(t, v.Validate(map[string]interface{}{"url": "https://hooks.example.com", "method": "POST"}, IntegrationConfig("http")))
	assert.Error(t, v.Validate(map[string]interface{}{"url": "ftp://x"}, IntegrationConfig("http")))
	assert.Error(t, v.Validate(map[string]interface{}{"broker": "mqtt.example.com"}, IntegrationConfig("mqtt")))
}
