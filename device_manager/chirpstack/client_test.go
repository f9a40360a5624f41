package chirpstack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"nodedash/device_manager/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   map[string]interface{}
}

type fakeServer struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   map[string]int
	replies  map[string]interface{}
}

func newFakeServer(t *testing.T) (*fakeServer, Config) {
	f := &fakeServer{status: map[string]int{}, replies: map[string]interface{}{}}
	srv := httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	cfg, err := ParseConfig(map[string]interface{}{
		KeyServer:        u.Hostname(),
		KeyPort:          port,
		KeyTLSEnabled:    false,
		KeyToken:         "secret-token",
		KeyApplicationId: "app-1",
		KeyTenantId:      "tenant-1",
		ProfileKey("EU868", false): "profile-eu",
		ProfileKey("EU868", true):  "profile-eu-c",
	})
	require.NoError(t, err)
	return f, cfg
}

func (f *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery,
		Auth: r.Header.Get("Grpc-Metadata-Authorization"), Body: body,
	})
	key := r.Method + " " + r.URL.Path
	status, hasStatus := f.status[key]
	reply := f.replies[key]
	f.mu.Unlock()

	if hasStatus {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"failed"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if reply == nil {
		reply = map[string]interface{}{}
	}
	_ = json.NewEncoder(w).Encode(reply)
}

func (f *fakeServer) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func TestCreateDeviceBody(t *testing.T) {
	f, cfg := newFakeServer(t)
	c := NewClient(cfg, 5*time.Second)

	err := c.CreateDevice(context.Background(), Device{
		ApplicationId: "app-1", DeviceProfileId: "profile-eu", Name: "sensor",
		Description: "sensor", DevEui: "0011AABBCCDDEEFF", JoinEui: "70B3D57ED0000000",
	})
	require.NoError(t, err)

	req := f.last()
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "/api/devices", req.Path)
	assert.Equal(t, "Bearer secret-token", req.Auth)

	device := req.Body["device"].(map[string]interface{})
	assert.Equal(t, "0011aabbccddeeff", device["devEui"])
	assert.Equal(t, "70b3d57ed0000000", device["joinEui"])
	assert.Equal(t, "profile-eu", device["deviceProfileId"])
	assert.Equal(t, false, device["isDisabled"])
	assert.Equal(t, false, device["skipFcntCheck"])
}

func TestCreateDeviceKeysUsesAppKeyTwice(t *testing.T) {
	f, cfg := newFakeServer(t)
	c := NewClient(cfg, 5*time.Second)

	require.NoError(t, c.CreateDeviceKeys(context.Background(), "AABB", "00112233445566778899AABBCCDDEEFF"))

	req := f.last()
	assert.Equal(t, "/api/devices/aabb/keys", req.Path)
	keys := req.Body["deviceKeys"].(map[string]interface{})
	assert.Equal(t, keys["appKey"], keys["nwkKey"])
}

func TestGetDeviceNotFoundIsEmpty(t *testing.T) {
	f, cfg := newFakeServer(t)
	f.status["GET /api/devices/aabb"] = http.StatusNotFound
	c := NewClient(cfg, 5*time.Second)

	device, err := c.GetDevice(context.Background(), "AABB")
	require.NoError(t, err)
	assert.Nil(t, device)

	f.replies["GET /api/devices/ccdd"] = map[string]interface{}{"device": map[string]interface{}{"name": "x"}}
	device, err = c.GetDevice(context.Background(), "CCDD")
	require.NoError(t, err)
	assert.Equal(t, "x", device["name"])
}

func TestDeleteDeviceErrorStatus(t *testing.T) {
	f, cfg := newFakeServer(t)
	f.status["DELETE /api/devices/aabb"] = http.StatusInternalServerError
	c := NewClient(cfg, 5*time.Second)

	err := c.DeleteDevice(context.Background(), "AABB")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
}

func TestEnqueueDownlinkEncodesHex(t *testing.T) {
	f, cfg := newFakeServer(t)
	f.replies["POST /api/devices/aabb/queue"] = map[string]interface{}{"id": "q-1"}
	c := NewClient(cfg, 5*time.Second)

	id, err := c.EnqueueDownlink(context.Background(), "AABB", Downlink{Confirmed: true, FPort: 10, Data: "0x0102"})
	require.NoError(t, err)
	assert.Equal(t, "q-1", id)

	item := f.last().Body["queueItem"].(map[string]interface{})
	assert.Equal(t, "AQI=", item["data"])
	assert.Equal(t, float64(10), item["fPort"])
}

func TestGetApplicationSendsTenant(t *testing.T) {
	f, cfg := newFakeServer(t)
	f.replies["GET /api/applications/app-1"] = map[string]interface{}{"application": map[string]interface{}{"id": "app-1"}}
	c := NewClient(cfg, 5*time.Second)

	app, err := c.GetApplication(context.Background(), "app-1", "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "app-1", app["id"])
	assert.Equal(t, "tenantId=tenant-1", f.last().Query)
}

func TestEncodePayload(t *testing.T) {
	assert.Equal(t, "AQI=", EncodePayload("0102"))
	assert.Equal(t, "AQI=", EncodePayload("0x0102"))
	assert.Equal(t, "not-hex==", EncodePayload("not-hex=="))
}

func TestParseConfigCoercion(t *testing.T) {
	cfg, err := ParseConfig(map[string]interface{}{
		KeyServer: "ns.example.com", KeyPort: "8090", KeyTLSEnabled: "true", KeyToken: "t",
	})
	require.NoError(t, err)
	assert.Equal(t, 8090, cfg.Port)
	assert.True(t, cfg.TLSEnabled)
	assert.Equal(t, "https://ns.example.com:8090", cfg.BaseURL())

	_, err = ParseConfig(map[string]interface{}{KeyServer: "ns", KeyPort: "abc", KeyToken: "t"})
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))

	_, err = ParseConfig(map[string]interface{}{KeyPort: 80})
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
}

func TestProfileFor(t *testing.T) {
	_, cfg := newFakeServer(t)

	id, err := cfg.ProfileFor("eu868", true)
	require.NoError(t, err)
	assert.Equal(t, "profile-eu-c", id)

	_, err = cfg.ProfileFor("US915", false)
	require.Error(t, err)
	assert.Equal(t, "No device profile found for region US915 and class_c=false", err.Error())
}
