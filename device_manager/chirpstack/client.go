package chirpstack

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// NetworkServer is the subset of the chirpstack REST api used by the device
// manager.
type NetworkServer interface {
	Ping(ctx context.Context) error

	CreateDevice(ctx context.Context, device Device) error
	CreateDeviceKeys(ctx context.Context, devEui, appKey string) error
	// GetDevice returns nil with no error if the device does not exist.
	GetDevice(ctx context.Context, devEui string) (map[string]interface{}, error)
	DeleteDevice(ctx context.Context, devEui string) error
	EnqueueDownlink(ctx context.Context, devEui string, downlink Downlink) (string, error)

	GetApplication(ctx context.Context, applicationId, tenantId string) (map[string]interface{}, error)
	CreateApplication(ctx context.Context, name, description, tenantId string) (string, error)

	GetHttpIntegration(ctx context.Context, applicationId string) (map[string]interface{}, error)
	CreateHttpIntegration(ctx context.Context, integration HttpIntegration) error
	UpdateHttpIntegration(ctx context.Context, integration HttpIntegration) error

	CreateDeviceProfile(ctx context.Context, profile DeviceProfile) (string, error)
}

// Factory builds a NetworkServer for a provider config.
type Factory func(cfg Config) NetworkServer

type Device struct {
	ApplicationId   string
	DeviceProfileId string
	Name            string
	Description     string
	DevEui          string
	JoinEui         string
}

type Downlink struct {
	Confirmed bool   `json:"confirmed"`
	FPort     int    `json:"f_port"`
	Data      string `json:"data"`
}

type HttpIntegration struct {
	ApplicationId string
	Endpoint      string
	Headers       map[string]string
	Events        []string
}

type DeviceProfile struct {
	Name              string
	Description       string
	Region            string
	RegionConfigId    string
	MacVersion        string
	RegParamsRevision string
	SupportsClassC    bool
	TenantId          string
}

type APIError struct {
	Method   string
	Endpoint string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chirpstack %v %v returned status %d: %v", e.Method, e.Endpoint, e.Status, e.Body)
}

type Client struct {
	client *resty.Client
}

func NewClient(cfg Config, timeout time.Duration) *Client {
	client := resty.New().
		SetBaseURL(cfg.BaseURL()).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		client.SetHeader("Grpc-Metadata-Authorization", "Bearer "+cfg.Token)
	}
	return &Client{client: client}
}

func NewFactory(timeout time.Duration) Factory {
	return func(cfg Config) NetworkServer {
		return NewClient(cfg, timeout)
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body interface{}, result interface{}) (int, error) {
	req := c.client.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	start := time.Now()
	res, err := req.Execute(method, endpoint)
	if err != nil {
		slog.Error("chirpstack request failed", "method", method, "endpoint", endpoint, "error", err)
		return 0, fmt.Errorf("chirpstack %v %v failed: %w", method, endpoint, err)
	}

	slog.Debug("chirpstack request", "method", method, "endpoint", endpoint, "status", res.StatusCode(), "duration", time.Since(start).String())

	if res.IsError() {
		return res.StatusCode(), &APIError{Method: method, Endpoint: endpoint, Status: res.StatusCode(), Body: res.String()}
	}
	return res.StatusCode(), nil
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/api/device-profiles/adr-algorithms", nil, nil)
	return err
}

func (c *Client) CreateDevice(ctx context.Context, device Device) error {
	body := map[string]interface{}{
		"device": map[string]interface{}{
			"applicationId":   device.ApplicationId,
			"description":     device.Description,
			"devEui":          strings.ToLower(device.DevEui),
			"deviceProfileId": device.DeviceProfileId,
			"isDisabled":      false,
			"joinEui":         strings.ToLower(device.JoinEui),
			"name":            device.Name,
			"skipFcntCheck":   false,
			"tags":            map[string]string{},
			"variables":       map[string]string{},
		},
	}
	_, err := c.do(ctx, http.MethodPost, "/api/devices", body, nil)
	return err
}

func (c *Client) CreateDeviceKeys(ctx context.Context, devEui, appKey string) error {
	body := map[string]interface{}{
		"deviceKeys": map[string]string{
			"appKey": appKey,
			"nwkKey": appKey,
		},
	}
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/devices/%s/keys", strings.ToLower(devEui)), body, nil)
	return err
}

func (c *Client) getObject(ctx context.Context, endpoint, key string) (map[string]interface{}, error) {
	var res map[string]interface{}
	status, err := c.do(ctx, http.MethodGet, endpoint, nil, &res)
	if err != nil {
		if status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	if obj, ok := res[key].(map[string]interface{}); ok {
		return obj, nil
	}
	return res, nil
}

func (c *Client) GetDevice(ctx context.Context, devEui string) (map[string]interface{}, error) {
	return c.getObject(ctx, fmt.Sprintf("/api/devices/%s", strings.ToLower(devEui)), "device")
}

func (c *Client) DeleteDevice(ctx context.Context, devEui string) error {
	_, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/devices/%s", strings.ToLower(devEui)), nil, nil)
	return err
}

// EncodePayload converts a hex payload (optionally 0x prefixed) to base64.
// Payloads that are not valid hex are assumed to already be base64.
func EncodePayload(data string) string {
	raw := strings.TrimPrefix(data, "0x")
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return data
	}
	return base64.StdEncoding.EncodeToString(decoded)
}

func (c *Client) EnqueueDownlink(ctx context.Context, devEui string, downlink Downlink) (string, error) {
	body := map[string]interface{}{
		"queueItem": map[string]interface{}{
			"devEui":    strings.ToLower(devEui),
			"confirmed": downlink.Confirmed,
			"fPort":     downlink.FPort,
			"data":      EncodePayload(downlink.Data),
		},
	}
	var res struct {
		Id string `json:"id"`
	}
	_, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/devices/%s/queue", strings.ToLower(devEui)), body, &res)
	return res.Id, err
}

func (c *Client) GetApplication(ctx context.Context, applicationId, tenantId string) (map[string]interface{}, error) {
	return c.getObject(ctx, fmt.Sprintf("/api/applications/%s?tenantId=%s", applicationId, tenantId), "application")
}

func (c *Client) CreateApplication(ctx context.Context, name, description, tenantId string) (string, error) {
	body := map[string]interface{}{
		"application": map[string]interface{}{
			"name":        name,
			"description": description,
			"tenantId":    tenantId,
		},
	}
	var res struct {
		Id string `json:"id"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/api/applications", body, &res); err != nil {
		return "", err
	}
	if res.Id == "" {
		return "", fmt.Errorf("chirpstack returned no id for application %v", name)
	}
	return res.Id, nil
}

func (c *Client) GetHttpIntegration(ctx context.Context, applicationId string) (map[string]interface{}, error) {
	return c.getObject(ctx, fmt.Sprintf("/api/applications/%s/integrations/http", applicationId), "integration")
}

func httpIntegrationBody(integration HttpIntegration) map[string]interface{} {
	body := map[string]interface{}{
		"applicationId":     integration.ApplicationId,
		"headers":           integration.Headers,
		"eventEndpointUrl":  integration.Endpoint,
		"uplinkDataEnabled": false,
		"joinEnabled":       false,
		"ackEnabled":        false,
		"errorEnabled":      false,
		"statusEnabled":     false,
		"locationEnabled":   false,
		"txAckEnabled":      false,
	}
	events := map[string]string{
		"uplink":   "uplinkDataEnabled",
		"join":     "joinEnabled",
		"ack":      "ackEnabled",
		"error":    "errorEnabled",
		"status":   "statusEnabled",
		"location": "locationEnabled",
		"txack":    "txAckEnabled",
	}
	for _, event := range integration.Events {
		if key, ok := events[event]; ok {
			body[key] = true
		}
	}
	return map[string]interface{}{"integration": body}
}

func (c *Client) CreateHttpIntegration(ctx context.Context, integration HttpIntegration) error {
	endpoint := fmt.Sprintf("/api/applications/%s/integrations/http", integration.ApplicationId)
	_, err := c.do(ctx, http.MethodPost, endpoint, httpIntegrationBody(integration), nil)
	return err
}

func (c *Client) UpdateHttpIntegration(ctx context.Context, integration HttpIntegration) error {
	endpoint := fmt.Sprintf("/api/applications/%s/integrations/http", integration.ApplicationId)
	_, err := c.do(ctx, http.MethodPut, endpoint, httpIntegrationBody(integration), nil)
	return err
}

func (c *Client) CreateDeviceProfile(ctx context.Context, profile DeviceProfile) (string, error) {
	body := map[string]interface{}{
		"deviceProfile": map[string]interface{}{
			"name":              profile.Name,
			"description":       profile.Description,
			"supportsClassB":    false,
			"supportsClassC":    profile.SupportsClassC,
			"macVersion":        profile.MacVersion,
			"regParamsRevision": profile.RegParamsRevision,
			"supportsOtaa":      true,
			"tags":              map[string]string{},
			"region":            profile.Region,
			"regionConfigId":    profile.RegionConfigId,
			"allowRoaming":      true,
			"tenantId":          profile.TenantId,
		},
	}
	var res struct {
		Id string `json:"id"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/api/device-profiles", body, &res); err != nil {
		return "", err
	}
	if res.Id == "" {
		return "", fmt.Errorf("chirpstack returned no id for device profile %v", profile.Name)
	}
	return res.Id, nil
}
