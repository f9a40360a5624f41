package chirpstack

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"maps"
	"os"

	"nodedash/device_manager/apperr"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	ApplicationName        = "NodeDash"
	applicationDescription = "NodeDash Application"
	IngestPath             = "/api/v1/ingest/chirpstack"
)

var webhookEvents = []string{"uplink", "join", "status", "ack", "error"}

//go:embed regions.yaml
var defaultRegions []byte

type Region struct {
	Name              string `yaml:"name"`
	RegionConfigId    string `yaml:"region_config_id"`
	MacVersion        string `yaml:"mac_version"`
	RegParamsRevision string `yaml:"reg_params_revision"`
}

type RegionCatalog struct {
	Regions []Region `yaml:"regions"`
}

func ParseRegionCatalog(data []byte) (RegionCatalog, error) {
	var catalog RegionCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return RegionCatalog{}, fmt.Errorf("error parsing region catalog: %w", err)
	}
	if len(catalog.Regions) == 0 {
		return RegionCatalog{}, fmt.Errorf("region catalog must list at least one region")
	}
	for i := range catalog.Regions {
		r := &catalog.Regions[i]
		if r.Name == "" {
			return RegionCatalog{}, fmt.Errorf("region %d is missing a name", i)
		}
		if r.RegionConfigId == "" {
			r.RegionConfigId = r.Name
		}
		if r.MacVersion == "" {
			r.MacVersion = "LORAWAN_1_0_3"
		}
		if r.RegParamsRevision == "" {
			r.RegParamsRevision = "A"
		}
	}
	return catalog, nil
}

// LoadRegionCatalog reads the catalog at path, or the built in catalog if path
// is empty.
func LoadRegionCatalog(path string) (RegionCatalog, error) {
	if path == "" {
		return ParseRegionCatalog(defaultRegions)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return RegionCatalog{}, fmt.Errorf("error reading region catalog %v: %w", path, err)
	}
	return ParseRegionCatalog(data)
}

func DefaultRegionCatalog() RegionCatalog {
	catalog, err := ParseRegionCatalog(defaultRegions)
	if err != nil {
		panic(err)
	}
	return catalog
}

type SetupOptions struct {
	IngestAddress string
	Catalog       RegionCatalog
}

// Setup makes sure the network server has the application, the uplink webhook
// and a standard and class C device profile for every catalog region. It
// returns a copy of the provider config with the resulting ids filled in.
func Setup(ctx context.Context, ns NetworkServer, raw map[string]interface{}, opts SetupOptions) (map[string]interface{}, error) {
	cfg, err := ParseConfig(raw)
	if err != nil {
		return nil, err
	}
	if cfg.TenantId == "" {
		return nil, apperr.Newf(apperr.Validation, "%v must be provided", KeyTenantId)
	}

	if err := ns.Ping(ctx); err != nil {
		return nil, apperr.Wrap(apperr.ExternalService, fmt.Errorf("Failed to connect to ChirpStack server: %w", err))
	}

	out := maps.Clone(raw)
	out[KeyPort] = cfg.Port
	out[KeyTLSEnabled] = cfg.TLSEnabled

	applicationId, err := setupApplication(ctx, ns, cfg)
	if err != nil {
		return nil, err
	}
	out[KeyApplicationId] = applicationId

	setupWebhook(ctx, ns, applicationId, out, opts.IngestAddress)

	for _, region := range opts.Catalog.Regions {
		for _, classC := range []bool{false, true} {
			setupDeviceProfile(ctx, ns, cfg.TenantId, region, classC, out)
		}
	}

	slog.Info("chirpstack setup complete", "application_id", applicationId, "server", cfg.Server)

	return out, nil
}

func setupApplication(ctx context.Context, ns NetworkServer, cfg Config) (string, error) {
	if cfg.ApplicationId != "" {
		app, err := ns.GetApplication(ctx, cfg.ApplicationId, cfg.TenantId)
		if err != nil {
			slog.Warn("chirpstack setup: error verifying application, creating a new one", "application_id", cfg.ApplicationId, "error", err)
		} else if app != nil {
			return cfg.ApplicationId, nil
		}
	}

	id, err := ns.CreateApplication(ctx, ApplicationName, applicationDescription, cfg.TenantId)
	if err != nil {
		return "", apperr.Wrap(apperr.ExternalService, fmt.Errorf("Failed to create ChirpStack application: %w", err))
	}
	slog.Info("chirpstack setup: created application", "application_id", id)
	return id, nil
}

// Webhook failures are logged but do not fail setup, device profiles are still
// required for provisioning.
func setupWebhook(ctx context.Context, ns NetworkServer, applicationId string, out map[string]interface{}, ingestAddress string) {
	existing, err := ns.GetHttpIntegration(ctx, applicationId)
	if err != nil {
		slog.Error("chirpstack setup: error reading http integration", "application_id", applicationId, "error", err)
		return
	}

	if existing != nil {
		url := stringValue(out[KeyWebhookUrl])
		token := stringValue(out[KeyWebhookToken])
		if url == "" || token == "" {
			return
		}
		headers, _ := existing["headers"].(map[string]interface{})
		if stringValue(existing["eventEndpointUrl"]) == url && stringValue(headers[KeyWebhookToken]) == token {
			return
		}
		err := ns.UpdateHttpIntegration(ctx, HttpIntegration{
			ApplicationId: applicationId,
			Endpoint:      url,
			Headers:       map[string]string{KeyWebhookToken: token},
			Events:        webhookEvents,
		})
		if err != nil {
			slog.Error("chirpstack setup: error updating http integration", "application_id", applicationId, "error", err)
		}
		return
	}

	url := ingestAddress + IngestPath
	token := stringValue(out[KeyWebhookToken])
	if token == "" {
		token = uuid.New().String()
		out[KeyWebhookToken] = token
	}

	err = ns.CreateHttpIntegration(ctx, HttpIntegration{
		ApplicationId: applicationId,
		Endpoint:      url,
		Headers:       map[string]string{KeyWebhookToken: token},
		Events:        webhookEvents,
	})
	if err != nil {
		slog.Error("chirpstack setup: error creating http integration", "application_id", applicationId, "error", err)
		return
	}
	out[KeyWebhookUrl] = url
}

func setupDeviceProfile(ctx context.Context, ns NetworkServer, tenantId string, region Region, classC bool, out map[string]interface{}) {
	key := ProfileKey(region.Name, classC)
	if stringValue(out[key]) != "" {
		return
	}

	profile := DeviceProfile{
		Name:              fmt.Sprintf("NodeDash - %s", region.Name),
		Description:       fmt.Sprintf("Standard device profile for %s region", region.Name),
		Region:            region.Name,
		RegionConfigId:    region.RegionConfigId,
		MacVersion:        region.MacVersion,
		RegParamsRevision: region.RegParamsRevision,
		SupportsClassC:    classC,
		TenantId:          tenantId,
	}
	if classC {
		profile.Name = fmt.Sprintf("NodeDash - %s - Class C", region.Name)
		profile.Description = fmt.Sprintf("Class C device profile for %s region", region.Name)
	}

	id, err := ns.CreateDeviceProfile(ctx, profile)
	if err != nil {
		slog.Error("chirpstack setup: error creating device profile", "region", region.Name, "class_c", classC, "error", err)
		return
	}
	out[key] = id
}
