package chirpstack

import (
	"fmt"
	"strconv"
	"strings"

	"nodedash/device_manager/apperr"
)

const (
	KeyServer        = "CHIRPSTACK_API_SERVER"
	KeyPort          = "CHIRPSTACK_API_PORT"
	KeyTLSEnabled    = "CHIRPSTACK_API_TLS_ENABLED"
	KeyToken         = "CHIRPSTACK_API_TOKEN"
	KeyApplicationId = "CHIRPSTACK_API_APPLICATION_ID"
	KeyTenantId      = "CHIRPSTACK_API_TENANT_ID"
	KeyWebhookUrl    = "CHIRPSTACK_WEBHOOK_URL"
	KeyWebhookToken  = "X-API-KEY"
)

// ProfileKey is the provider config key holding the device profile id for a
// region and device class.
func ProfileKey(region string, classC bool) string {
	region = strings.ToUpper(region)
	if classC {
		return fmt.Sprintf("CHIRPSTACK_API_DEVICE_PROFILE_%s_CLASS_C_ID", region)
	}
	return fmt.Sprintf("CHIRPSTACK_API_DEVICE_PROFILE_%s_ID", region)
}

type Config struct {
	Server        string
	Port          int
	TLSEnabled    bool
	Token         string
	ApplicationId string
	TenantId      string

	raw map[string]interface{}
}

// ParseConfig reads a chirpstack provider config. Ports and flags may arrive
// as strings or numbers depending on how the provider was created.
func ParseConfig(raw map[string]interface{}) (Config, error) {
	cfg := Config{raw: raw}

	cfg.Server = stringValue(raw[KeyServer])
	cfg.Token = stringValue(raw[KeyToken])
	cfg.ApplicationId = stringValue(raw[KeyApplicationId])
	cfg.TenantId = stringValue(raw[KeyTenantId])

	if cfg.Server == "" || cfg.Token == "" {
		return Config{}, apperr.Newf(apperr.Validation, "chirpstack provider requires %v and %v", KeyServer, KeyToken)
	}

	port, err := intValue(raw[KeyPort])
	if err != nil {
		return Config{}, apperr.Newf(apperr.Validation, "%v must be an integer: %v", KeyPort, err)
	}
	cfg.Port = port

	cfg.TLSEnabled = boolValue(raw[KeyTLSEnabled])

	return cfg, nil
}

func (c Config) BaseURL() string {
	scheme := "http"
	if c.TLSEnabled {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Server, c.Port)
}

func (c Config) Value(key string) string {
	return stringValue(c.raw[key])
}

// ProfileFor returns the device profile id configured for the region and class.
func (c Config) ProfileFor(region string, classC bool) (string, error) {
	id := c.Value(ProfileKey(region, classC))
	if id == "" {
		return "", apperr.Newf(apperr.ExternalService, "No device profile found for region %s and class_c=%v", region, classC)
	}
	return id, nil
}

func stringValue(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(s)
	}
}

func intValue(v interface{}) (int, error) {
	switch p := v.(type) {
	case nil:
		return 0, fmt.Errorf("missing value")
	case int:
		return p, nil
	case int64:
		return int(p), nil
	case float64:
		return int(p), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(p))
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func boolValue(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(strings.TrimSpace(b), "true")
	default:
		return false
	}
}
