package tests

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"nodedash/device_manager/chirpstack"
	"nodedash/device_manager/notify"
	"nodedash/device_manager/storage"
)

type NotifierStub struct {
	mu       sync.Mutex
	messages []notify.Message
}

func newNotifierStub() *NotifierStub {
	return &NotifierStub{}
}

func (n *NotifierStub) Send(ctx context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return nil
}

func (n *NotifierStub) sentTo(email string) []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := []notify.Message{}
	for _, m := range n.messages {
		if m.To == email {
			out = append(out, m)
		}
	}
	return out
}

var errStubFailure = errors.New("network server unavailable")

// NetworkServerStub records the calls the device manager makes against the
// network server. The fail flags make the matching call return an error.
type NetworkServerStub struct {
	mu sync.Mutex

	devices   map[string]chirpstack.Device
	keys      map[string]string
	downlinks map[string][]chirpstack.Downlink

	applications map[string]string
	integrations map[string]chirpstack.HttpIntegration
	profiles     []chirpstack.DeviceProfile

	failCreate bool
	failKeys   bool
	failDelete bool
	failPing   bool
}

func newNetworkServerStub() *NetworkServerStub {
	return &NetworkServerStub{
		devices:      make(map[string]chirpstack.Device),
		keys:         make(map[string]string),
		downlinks:    make(map[string][]chirpstack.Downlink),
		applications: make(map[string]string),
		integrations: make(map[string]chirpstack.HttpIntegration),
	}
}

func (n *NetworkServerStub) Ping(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failPing {
		return errStubFailure
	}
	return nil
}

func (n *NetworkServerStub) CreateDevice(ctx context.Context, device chirpstack.Device) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failCreate {
		return errStubFailure
	}
	n.devices[device.DevEui] = device
	return nil
}

func (n *NetworkServerStub) CreateDeviceKeys(ctx context.Context, devEui, appKey string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failKeys {
		return errStubFailure
	}
	n.keys[devEui] = appKey
	return nil
}

func (n *NetworkServerStub) GetDevice(ctx context.Context, devEui string) (map[string]interface{}, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	device, ok := n.devices[devEui]
	if !ok {
		return nil, nil
	}
	return map[string]interface{}{"devEui": device.DevEui, "name": device.Name}, nil
}

func (n *NetworkServerStub) DeleteDevice(ctx context.Context, devEui string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failDelete {
		return errStubFailure
	}
	delete(n.devices, devEui)
	delete(n.keys, devEui)
	return nil
}

func (n *NetworkServerStub) EnqueueDownlink(ctx context.Context, devEui string, downlink chirpstack.Downlink) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.downlinks[devEui] = append(n.downlinks[devEui], downlink)
	return fmt.Sprintf("queue-%d", len(n.downlinks[devEui])), nil
}

func (n *NetworkServerStub) GetApplication(ctx context.Context, applicationId, tenantId string) (map[string]interface{}, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.applications[applicationId]; !ok {
		return nil, nil
	}
	return map[string]interface{}{"id": applicationId}, nil
}

func (n *NetworkServerStub) CreateApplication(ctx context.Context, name, description, tenantId string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := fmt.Sprintf("app-%d", len(n.applications)+1)
	n.applications[id] = name
	return id, nil
}

func (n *NetworkServerStub) GetHttpIntegration(ctx context.Context, applicationId string) (map[string]interface{}, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	integration, ok := n.integrations[applicationId]
	if !ok {
		return nil, nil
	}
	headers := map[string]interface{}{}
	for k, v := range integration.Headers {
		headers[k] = v
	}
	return map[string]interface{}{"eventEndpointUrl": integration.Endpoint, "headers": headers}, nil
}

func (n *NetworkServerStub) CreateHttpIntegration(ctx context.Context, integration chirpstack.HttpIntegration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.integrations[integration.ApplicationId] = integration
	return nil
}

func (n *NetworkServerStub) UpdateHttpIntegration(ctx context.Context, integration chirpstack.HttpIntegration) error {
	return n.CreateHttpIntegration(ctx, integration)
}

func (n *NetworkServerStub) CreateDeviceProfile(ctx context.Context, profile chirpstack.DeviceProfile) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.profiles = append(n.profiles, profile)
	return fmt.Sprintf("profile-%d", len(n.profiles)), nil
}

func (n *NetworkServerStub) hasDevice(devEui string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.devices[strings.ToUpper(devEui)]
	return ok
}

func (n *NetworkServerStub) setFailures(create, keys, del bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failCreate, n.failKeys, n.failDelete = create, keys, del
}

// TimeSeriesStub keeps written points in memory per bucket.
type TimeSeriesStub struct {
	mu      sync.Mutex
	points  map[string][]storage.Point
	queries []storage.Query
	deletes []storage.DeleteRange
}

func newTimeSeriesStub() *TimeSeriesStub {
	return &TimeSeriesStub{points: make(map[string][]storage.Point)}
}

type boundTimeSeries struct {
	stub *TimeSeriesStub
	cfg  storage.Config
}

func (t *TimeSeriesStub) forConfig(cfg storage.Config) storage.TimeSeries {
	return &boundTimeSeries{stub: t, cfg: cfg}
}

func (b *boundTimeSeries) bucket(bucket string) string {
	if bucket != "" {
		return bucket
	}
	return b.cfg.Bucket
}

func (b *boundTimeSeries) WritePoints(ctx context.Context, points []storage.Point, bucket string) error {
	b.stub.mu.Lock()
	defer b.stub.mu.Unlock()
	key := b.bucket(bucket)
	b.stub.points[key] = append(b.stub.points[key], points...)
	return nil
}

func (b *boundTimeSeries) Query(ctx context.Context, q storage.Query) ([]storage.Record, error) {
	b.stub.mu.Lock()
	defer b.stub.mu.Unlock()
	b.stub.queries = append(b.stub.queries, q)

	records := []storage.Record{}
	for _, p := range b.stub.points[b.bucket(q.Bucket)] {
		if q.Measurement != "" && p.Measurement != q.Measurement {
			continue
		}
		for field, value := range p.Fields {
			records = append(records, storage.Record{
				Time: p.Timestamp, Measurement: p.Measurement, Field: field, Value: value, Tags: p.Tags,
			})
		}
	}
	return records, nil
}

func (b *boundTimeSeries) Delete(ctx context.Context, d storage.DeleteRange) error {
	b.stub.mu.Lock()
	defer b.stub.mu.Unlock()
	b.stub.deletes = append(b.stub.deletes, d)

	key := b.bucket(d.Bucket)
	kept := b.stub.points[key][:0]
	for _, p := range b.stub.points[key] {
		if d.Measurement != "" && p.Measurement != d.Measurement {
			kept = append(kept, p)
		}
	}
	b.stub.points[key] = kept
	return nil
}

func (t *TimeSeriesStub) pointCount(bucket string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.points[bucket])
}
