package chirpstack

import (
	"context"
	"errors"
	"testing"

	"nodedash/device_manager/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryNetworkServer struct {
	pingErr     error
	apps        map[string]bool
	integration map[string]interface{}
	profiles    []DeviceProfile
	devices     map[string]Device
	keysErr     error
	createdHttp []HttpIntegration
	updatedHttp []HttpIntegration
}

func newMemoryNetworkServer() *memoryNetworkServer {
	return &memoryNetworkServer{apps: map[string]bool{}, devices: map[string]Device{}}
}

func (m *memoryNetworkServer) Ping(ctx context.Context) error { return m.pingErr }

func (m *memoryNetworkServer) CreateDevice(ctx context.Context, device Device) error {
	m.devices[device.DevEui] = device
	return nil
}

func (m *memoryNetworkServer) CreateDeviceKeys(ctx context.Context, devEui, appKey string) error {
	return m.keysErr
}

func (m *memoryNetworkServer) GetDevice(ctx context.Context, devEui string) (map[string]interface{}, error) {
	if _, ok := m.devices[devEui]; !ok {
		return nil, nil
	}
	return map[string]interface{}{"devEui": devEui}, nil
}

func (m *memoryNetworkServer) DeleteDevice(ctx context.Context, devEui string) error {
	delete(m.devices, devEui)
	return nil
}

func (m *memoryNetworkServer) EnqueueDownlink(ctx context.Context, devEui string, downlink Downlink) (string, error) {
	return "q", nil
}

func (m *memoryNetworkServer) GetApplication(ctx context.Context, applicationId, tenantId string) (map[string]interface{}, error) {
	if m.apps[applicationId] {
		return map[string]interface{}{"id": applicationId}, nil
	}
	return nil, nil
}

func (m *memoryNetworkServer) CreateApplication(ctx context.Context, name, description, tenantId string) (string, error) {
	m.apps["new-app"] = true
	return "new-app", nil
}

func (m *memoryNetworkServer) GetHttpIntegration(ctx context.Context, applicationId string) (map[string]interface{}, error) {
	return m.integration, nil
}

func (m *memoryNetworkServer) CreateHttpIntegration(ctx context.Context, integration HttpIntegration) error {
	m.createdHttp = append(m.createdHttp, integration)
	return nil
}

func (m *memoryNetworkServer) UpdateHttpIntegration(ctx context.Context, integration HttpIntegration) error {
	m.updatedHttp = append(m.updatedHttp, integration)
	return nil
}

func (m *memoryNetworkServer) CreateDeviceProfile(ctx context.Context, profile DeviceProfile) (string, error) {
	m.profiles = append(m.profiles, profile)
	return "dp-" + profile.Name, nil
}

func baseConfig() map[string]interface{} {
	return map[string]interface{}{
		KeyServer:     "ns",
		KeyPort:       "8080",
		KeyTLSEnabled: "false",
		KeyToken:      "token",
		KeyTenantId:   "tenant",
	}
}

func TestSetupCreatesEverything(t *testing.T) {
	ns := newMemoryNetworkServer()

	out, err := Setup(context.Background(), ns, baseConfig(), SetupOptions{
		IngestAddress: "https://ingest.example.com",
		Catalog:       DefaultRegionCatalog(),
	})
	require.NoError(t, err)

	assert.Equal(t, "new-app", out[KeyApplicationId])
	assert.Equal(t, 8080, out[KeyPort])
	assert.Equal(t, false, out[KeyTLSEnabled])

	require.Len(t, ns.createdHttp, 1)
	assert.Equal(t, "https://ingest.example.com/api/v1/ingest/chirpstack", ns.createdHttp[0].Endpoint)
	token := out[KeyWebhookToken].(string)
	assert.NotEmpty(t, token)
	assert.Equal(t, token, ns.createdHttp[0].Headers[KeyWebhookToken])

	require.Len(t, ns.profiles, 6)
	assert.Equal(t, "dp-NodeDash - EU868", out[ProfileKey("EU868", false)])
	assert.Equal(t, "dp-NodeDash - AU915 - Class C", out[ProfileKey("AU915", true)])
	assert.True(t, ns.profiles[1].SupportsClassC)
}

func TestSetupKeepsExistingIds(t *testing.T) {
	ns := newMemoryNetworkServer()
	ns.apps["existing"] = true
	ns.integration = map[string]interface{}{"eventEndpointUrl": "https://old"}

	cfg := baseConfig()
	cfg[KeyApplicationId] = "existing"
	cfg[ProfileKey("EU868", false)] = "kept"
	cfg[KeyWebhookUrl] = "https://new"
	cfg[KeyWebhookToken] = "tok"

	out, err := Setup(context.Background(), ns, cfg, SetupOptions{Catalog: DefaultRegionCatalog()})
	require.NoError(t, err)

	assert.Equal(t, "existing", out[KeyApplicationId])
	assert.Equal(t, "kept", out[ProfileKey("EU868", false)])
	assert.Len(t, ns.profiles, 5)
	assert.Empty(t, ns.createdHttp)
	require.Len(t, ns.updatedHttp, 1)
	assert.Equal(t, "https://new", ns.updatedHttp[0].Endpoint)

	// the input config is not mutated
	_, hasApp := cfg[ProfileKey("US915", false)]
	assert.False(t, hasApp)
}

func TestSetupValidation(t *testing.T) {
	ns := newMemoryNetworkServer()

	cfg := baseConfig()
	delete(cfg, KeyTenantId)
	_, err := Setup(context.Background(), ns, cfg, SetupOptions{Catalog: DefaultRegionCatalog()})
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))

	ns.pingErr = errors.New("connection refused")
	_, err = Setup(context.Background(), ns, baseConfig(), SetupOptions{Catalog: DefaultRegionCatalog()})
	assert.Equal(t, apperr.ExternalService, apperr.KindOf(err))
}

func TestProvisionRemovesRemoteDeviceWhenKeysFail(t *testing.T) {
	ns := newMemoryNetworkServer()
	cfg, err := ParseConfig(map[string]interface{}{
		KeyServer: "ns", KeyPort: 80, KeyToken: "t", KeyApplicationId: "app",
		ProfileKey("EU868", false): "dp",
	})
	require.NoError(t, err)

	d := Provisioning{Name: "n", DevEui: "AA", AppEui: "BB", AppKey: "CC", Region: "EU868"}
	require.NoError(t, Provision(context.Background(), ns, cfg, d))
	assert.Equal(t, "dp", ns.devices["AA"].DeviceProfileId)
	assert.Equal(t, "app", ns.devices["AA"].ApplicationId)

	ns.keysErr = errors.New("bad key")
	d.DevEui = "DD"
	err = Provision(context.Background(), ns, cfg, d)
	require.Error(t, err)
	assert.Equal(t, apperr.ExternalService, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "Failed to create device in ChirpStack")
	_, exists := ns.devices["DD"]
	assert.False(t, exists)

	d.ClassC = true
	err = Provision(context.Background(), ns, cfg, d)
	assert.EqualError(t, err, "No device profile found for region EU868 and class_c=true")
}

func TestRegionCatalog(t *testing.T) {
	catalog, err := ParseRegionCatalog([]byte("regions:\n  - name: IN865\n"))
	require.NoError(t, err)
	require.Len(t, catalog.Regions, 1)
	assert.Equal(t, "IN865", catalog.Regions[0].RegionConfigId)
	assert.Equal(t, "LORAWAN_1_0_3", catalog.Regions[0].MacVersion)

	_, err = ParseRegionCatalog([]byte("regions: []"))
	assert.Error(t, err)

	def := DefaultRegionCatalog()
	assert.Len(t, def.Regions, 3)
}

var _ NetworkServer = (*Client)(nil)
var _ NetworkServer = (*memoryNetworkServer)(nil)
