package services

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"nodedash/device_manager/apperr"
	"nodedash/device_manager/auth"
	"nodedash/device_manager/chirpstack"
	"nodedash/device_manager/kvstore"
	"nodedash/device_manager/schema"
	"nodedash/device_manager/validation"
	"nodedash/utils"
	"nodedash/utils/logging"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

const defaultExpectedTransmitTime = 60

type DeviceService struct {
	db             *gorm.DB
	userAuth       auth.IdentityProvider
	kv             kvstore.Store
	networkServers chirpstack.Factory
	validator      *validation.Validator
}

func (s *DeviceService) history() *historyHandlers[schema.Device, schema.DeviceHistory] {
	return &historyHandlers[schema.Device, schema.DeviceHistory]{
		db:       s.db,
		resource: "device",
		param:    "device_id",
		column:   "device_id",
		load: func(id uint, db *gorm.DB) (schema.Device, error) {
			return schema.GetDevice(id, db, false)
		},
		parentOf: func(h schema.DeviceHistory) uint { return h.DeviceId },
		prepare: func(h *schema.DeviceHistory, parentId uint, now time.Time) {
			h.Id = 0
			h.DeviceId = parentId
			h.Timestamp = now
		},
	}
}

func (s *DeviceService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	history := s.history()

	r.Get("/", s.List)
	r.Post("/", s.Create)

	r.Get("/history", history.ListAll)
	r.Get("/history/{history_id}", history.Get)

	r.Route("/{device_id}", func(r chi.Router) {
		r.Get("/", s.Get)
		r.Put("/", s.Update)
		r.Delete("/", s.Delete)

		r.Get("/labels", s.Labels)
		r.Put("/status", s.UpdateStatus)
		r.Post("/seen", s.Seen)
		r.Get("/live-status", s.LiveStatus)
		r.Post("/downlink", s.Downlink)

		r.Get("/history", history.List)
		r.Post("/history", history.Record)
	})

	return r
}

type labelRef struct {
	Id   uint   `json:"id"`
	Name string `json:"name"`
}

type deviceInfo struct {
	Id                   uint       `json:"id"`
	Name                 string     `json:"name"`
	DevEui               string     `json:"dev_eui"`
	AppEui               string     `json:"app_eui"`
	AppKey               string     `json:"app_key"`
	Region               string     `json:"region"`
	IsClassC             bool       `json:"is_class_c"`
	Status               string     `json:"status"`
	ExpectedTransmitTime int        `json:"expected_transmit_time"`
	Labels               []labelRef `json:"labels"`
	ownerInfo
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func convertToDeviceInfo(device schema.Device) deviceInfo {
	labels := make([]labelRef, 0, len(device.Labels))
	for _, label := range device.Labels {
		labels = append(labels, labelRef{Id: label.Id, Name: label.Name})
	}

	return deviceInfo{
		Id:                   device.Id,
		Name:                 device.Name,
		DevEui:               device.DevEui,
		AppEui:               device.AppEui,
		AppKey:               device.AppKey,
		Region:               device.Region,
		IsClassC:             device.IsClassC,
		Status:               device.Status,
		ExpectedTransmitTime: device.ExpectedTransmitTime,
		Labels:               labels,
		ownerInfo:            newOwnerInfo(device.Ownership),
		CreatedAt:            device.CreatedAt,
		UpdatedAt:            device.UpdatedAt,
	}
}

func (s *DeviceService) List(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	params, err := parseListParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	devices, err := listOwned[schema.Device](s.db, user, params, "Labels")
	if err != nil {
		writeError(w, "listing devices", err)
		return
	}

	infos := make([]deviceInfo, 0, len(devices))
	for _, device := range devices {
		infos = append(infos, convertToDeviceInfo(device))
	}
	utils.WriteJsonResponse(w, infos)
}

type createDeviceRequest struct {
	Name                 string  `json:"name"`
	DevEui               string  `json:"dev_eui"`
	AppEui               string  `json:"app_eui"`
	AppKey               string  `json:"app_key"`
	Region               *string `json:"region,omitempty"`
	IsClassC             *bool   `json:"is_class_c,omitempty"`
	Status               *string `json:"status,omitempty"`
	ExpectedTransmitTime *int    `json:"expected_transmit_time,omitempty"`
	LabelIds             []uint  `json:"label_ids,omitempty"`
}

type updateDeviceRequest struct {
	Name                 *string `json:"name,omitempty"`
	DevEui               *string `json:"dev_eui,omitempty"`
	AppEui               *string `json:"app_eui,omitempty"`
	AppKey               *string `json:"app_key,omitempty"`
	Region               *string `json:"region,omitempty"`
	IsClassC             *bool   `json:"is_class_c,omitempty"`
	Status               *string `json:"status,omitempty"`
	ExpectedTransmitTime *int    `json:"expected_transmit_time,omitempty"`
	LabelIds             *[]uint `json:"label_ids,omitempty"`
}

func checkDevEuiUnique(txn *gorm.DB, devEui string, excludeId uint) error {
	query := txn.Model(&schema.Device{}).Where("UPPER(dev_eui) = ?", strings.ToUpper(devEui))
	if excludeId != 0 {
		query = query.Where("id <> ?", excludeId)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return dbError("sql error checking for duplicate dev_eui", err)
	}
	if count > 0 {
		return apperr.Newf(apperr.Conflict, "Device with DevEUI %v already exists", strings.ToUpper(devEui))
	}
	return nil
}

// setDeviceLabels replaces the labels of a device. Every label must be
// readable by the actor.
func setDeviceLabels(txn *gorm.DB, actor schema.User, device *schema.Device, labelIds []uint) error {
	labels := make([]schema.Label, 0, len(labelIds))
	for _, labelId := range labelIds {
		label, err := getOwned(txn, actor, "read", func() (schema.Label, error) {
			return schema.GetLabel(labelId, txn, false)
		})
		if err != nil {
			return err
		}
		labels = append(labels, label)
	}

	association := txn.Model(device).Association("Labels")
	var err error
	if len(labels) == 0 {
		err = association.Clear()
	} else {
		err = association.Replace(labels)
	}
	if err != nil {
		return dbError("sql error updating device labels", err, "device_id", device.Id)
	}
	return nil
}

func (s *DeviceService) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	teamId, err := utils.QueryParamUint(r, "team_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params createDeviceRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if err := s.validator.Validate(params, validation.Device); err != nil {
		writeError(w, "creating device", err)
		return
	}

	device := schema.Device{
		Name:                 strings.TrimSpace(params.Name),
		DevEui:               strings.ToUpper(params.DevEui),
		AppEui:               strings.ToUpper(params.AppEui),
		AppKey:               strings.ToUpper(params.AppKey),
		Region:               schema.RegionEU868,
		Status:               schema.DeviceNeverSeen,
		ExpectedTransmitTime: defaultExpectedTransmitTime,
	}
	if params.Region != nil {
		device.Region = *params.Region
	}
	if params.IsClassC != nil {
		device.IsClassC = *params.IsClassC
	}
	if params.Status != nil {
		device.Status = *params.Status
	}
	if params.ExpectedTransmitTime != nil {
		device.ExpectedTransmitTime = *params.ExpectedTransmitTime
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		owner, err := auth.ResolveOwner(txn, user, teamId)
		if err != nil {
			return err
		}
		device.Ownership = owner

		if err := checkDevEuiUnique(txn, device.DevEui, 0); err != nil {
			return err
		}

		if err := txn.Create(&device).Error; err != nil {
			return dbError("sql error creating device", err)
		}

		if len(params.LabelIds) > 0 {
			return setDeviceLabels(txn, user, &device, params.LabelIds)
		}
		return nil
	})

	if err != nil {
		writeError(w, "creating device", err)
		return
	}

	if err := s.provision(r.Context(), device); err != nil {
		s.rollback(device, err)
		writeError(w, "creating device", err)
		return
	}

	device, err = schema.GetDevice(device.Id, s.db, true)
	if err != nil {
		writeError(w, "creating device", err)
		return
	}

	utils.WriteJsonStatus(w, http.StatusCreated, convertToDeviceInfo(device))
}

// activeChirpstackProvider returns the first active chirpstack provider of the
// owner, or nil.
func activeChirpstackProvider(db *gorm.DB, owner schema.Ownership) (*schema.Provider, error) {
	var providers []schema.Provider
	result := db.
		Where("provider_type = ? AND is_active = ?", schema.ProviderChirpstack, true).
		Where("owner_type = ? AND owner_id = ?", owner.OwnerType, owner.OwnerId).
		Order("id").Limit(1).Find(&providers)
	if result.Error != nil {
		return nil, dbError("sql error finding chirpstack provider", result.Error, "owner_type", owner.OwnerType, "owner_id", owner.OwnerId)
	}
	if len(providers) == 0 {
		return nil, nil
	}
	return &providers[0], nil
}

func (s *DeviceService) networkServer(provider *schema.Provider) (chirpstack.NetworkServer, chirpstack.Config, error) {
	cfg, err := chirpstack.ParseConfig(provider.Config)
	if err != nil {
		return nil, chirpstack.Config{}, err
	}
	return s.networkServers(cfg), cfg, nil
}

// provision registers a committed device with the owner's network server. A
// nil error with no provider means the device stays local only.
func (s *DeviceService) provision(ctx context.Context, device schema.Device) error {
	provider, err := activeChirpstackProvider(s.db, device.Ownership)
	if err != nil {
		return err
	}
	if provider == nil {
		provisioningMetric.WithLabelValues(skipped).Inc()
		slog.Info("no chirpstack provider for device owner, skipping provisioning", logging.Code(logging.DEVICE_PROVISION), "device_id", device.Id)
		return nil
	}

	ns, cfg, err := s.networkServer(provider)
	if err != nil {
		return apperr.Wrap(apperr.ExternalService, err)
	}

	timer := externalTimer("chirpstack", "provision")
	defer timer.ObserveDuration()

	err = chirpstack.Provision(ctx, ns, cfg, chirpstack.Provisioning{
		Name:   device.Name,
		DevEui: device.DevEui,
		AppEui: device.AppEui,
		AppKey: device.AppKey,
		Region: device.Region,
		ClassC: device.IsClassC,
	})
	if err != nil {
		if !apperr.Is(err, apperr.ExternalService) {
			err = apperr.Wrap(apperr.ExternalService, err)
		}
		return err
	}

	provisioningMetric.WithLabelValues(provisioned).Inc()
	slog.Info("device provisioned", logging.Code(logging.DEVICE_PROVISION), "device_id", device.Id, "dev_eui", device.DevEui, "provider_id", provider.Id)
	return nil
}

// rollback removes the local row of a device whose provisioning failed.
func (s *DeviceService) rollback(device schema.Device, cause error) {
	provisioningMetric.WithLabelValues(rolledBack).Inc()
	slog.Error("device provisioning failed, removing local device", logging.Code(logging.DEVICE_PROVISION), "device_id", device.Id, "error", cause)

	err := s.db.Transaction(func(txn *gorm.DB) error {
		if err := txn.Model(&device).Association("Labels").Clear(); err != nil {
			return err
		}
		return txn.Delete(&schema.Device{}, device.Id).Error
	})
	if err != nil {
		slog.Error("error rolling back device creation", logging.Code(logging.DEVICE_PROVISION), "device_id", device.Id, "error", err)
	}
}

func (s *DeviceService) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	deviceId, ok := urlId(w, r, "device_id")
	if !ok {
		return
	}

	device, err := getOwned(s.db, user, "read", func() (schema.Device, error) {
		return schema.GetDevice(deviceId, s.db, true)
	})
	if err != nil {
		writeError(w, "retrieving device", err)
		return
	}

	utils.WriteJsonResponse(w, convertToDeviceInfo(device))
}

func (s *DeviceService) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	deviceId, ok := urlId(w, r, "device_id")
	if !ok {
		return
	}
	teamId, err := utils.QueryParamUint(r, "team_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params updateDeviceRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if err := s.validator.Validate(params, validation.DeviceUpdate); err != nil {
		writeError(w, "updating device", err)
		return
	}

	var device schema.Device
	err = s.db.Transaction(func(txn *gorm.DB) error {
		var err error
		device, err = getOwned(txn, user, "update", func() (schema.Device, error) {
			return schema.GetDevice(deviceId, txn, false)
		})
		if err != nil {
			return err
		}

		owner, err := transferOwner(txn, user, teamId)
		if err != nil {
			return err
		}
		if owner != nil {
			device.Ownership = *owner
		}

		if params.DevEui != nil {
			if err := checkDevEuiUnique(txn, *params.DevEui, device.Id); err != nil {
				return err
			}
			device.DevEui = strings.ToUpper(*params.DevEui)
		}
		if params.Name != nil {
			device.Name = strings.TrimSpace(*params.Name)
		}
		if params.AppEui != nil {
			device.AppEui = strings.ToUpper(*params.AppEui)
		}
		if params.AppKey != nil {
			device.AppKey = strings.ToUpper(*params.AppKey)
		}
		if params.Region != nil {
			device.Region = *params.Region
		}
		if params.IsClassC != nil {
			device.IsClassC = *params.IsClassC
		}
		if params.Status != nil {
			device.Status = *params.Status
		}
		if params.ExpectedTransmitTime != nil {
			device.ExpectedTransmitTime = *params.ExpectedTransmitTime
		}

		if err := txn.Omit("Labels").Save(&device).Error; err != nil {
			return dbError("sql error updating device", err, "device_id", deviceId)
		}

		if params.LabelIds != nil {
			if err := setDeviceLabels(txn, user, &device, *params.LabelIds); err != nil {
				return err
			}
		}

		device, err = schema.GetDevice(deviceId, txn, true)
		return err
	})

	if err != nil {
		writeError(w, "updating device", err)
		return
	}

	utils.WriteJsonResponse(w, convertToDeviceInfo(device))
}

// removeFromNetworkServer deletes the device from the owner's network server
// if it is registered there. Failures are logged and never block the local
// delete.
func (s *DeviceService) removeFromNetworkServer(ctx context.Context, device schema.Device) {
	provider, err := activeChirpstackProvider(s.db, device.Ownership)
	if err != nil || provider == nil {
		return
	}

	ns, _, err := s.networkServer(provider)
	if err != nil {
		slog.Warn("invalid chirpstack provider config", logging.Code(logging.DEVICE_DELETE), "provider_id", provider.Id, "error", err)
		return
	}

	timer := externalTimer("chirpstack", "delete_device")
	defer timer.ObserveDuration()

	remote, err := ns.GetDevice(ctx, device.DevEui)
	if err != nil {
		slog.Warn("error looking up device in chirpstack", logging.Code(logging.DEVICE_DELETE), "device_id", device.Id, "error", err)
		return
	}
	if remote == nil {
		return
	}

	if err := ns.DeleteDevice(ctx, device.DevEui); err != nil {
		slog.Warn("error deleting device from chirpstack", logging.Code(logging.DEVICE_DELETE), "device_id", device.Id, "error", err)
	}
}

func (s *DeviceService) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	deviceId, ok := urlId(w, r, "device_id")
	if !ok {
		return
	}

	device, err := getOwned(s.db, user, "delete", func() (schema.Device, error) {
		return schema.GetDevice(deviceId, s.db, false)
	})
	if err != nil {
		writeError(w, "deleting device", err)
		return
	}

	s.removeFromNetworkServer(r.Context(), device)

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := deleteHistory(txn, &schema.DeviceHistory{}, "device_id", deviceId); err != nil {
			return err
		}

		if err := txn.Model(&device).Association("Labels").Clear(); err != nil {
			return dbError("sql error clearing device labels", err, "device_id", deviceId)
		}

		if err := txn.Delete(&device).Error; err != nil {
			return dbError("sql error deleting device", err, "device_id", deviceId)
		}
		return nil
	})

	if err != nil {
		writeError(w, "deleting device", err)
		return
	}

	if err := kvstore.ClearDeviceStatus(r.Context(), s.kv, deviceId); err != nil {
		slog.Warn("error clearing device status", logging.Code(logging.DEVICE_DELETE), "device_id", deviceId, "error", err)
	}

	slog.Info("device deleted", logging.Code(logging.DEVICE_DELETE), "device_id", deviceId, "user_id", user.Id)
	utils.WriteSuccess(w)
}

func (s *DeviceService) Labels(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	deviceId, ok := urlId(w, r, "device_id")
	if !ok {
		return
	}

	device, err := getOwned(s.db, user, "read", func() (schema.Device, error) {
		return schema.GetDevice(deviceId, s.db, true)
	})
	if err != nil {
		writeError(w, "retrieving device labels", err)
		return
	}

	utils.WriteJsonResponse(w, convertToDeviceInfo(device).Labels)
}

type deviceStatusRequest struct {
	Status string `json:"status"`
}

// setStatus updates the stored status and records the transition. It is a
// no-op if the status does not change.
func setStatus(txn *gorm.DB, device *schema.Device, status string, now time.Time) error {
	if device.Status == status {
		return nil
	}

	entry := schema.DeviceHistory{
		DeviceId:  device.Id,
		Event:     "status_change",
		Data:      map[string]interface{}{"old_status": device.Status, "new_status": status},
		Timestamp: now,
	}

	if err := txn.Model(device).Update("status", status).Error; err != nil {
		return dbError("sql error updating device status", err, "device_id", device.Id)
	}
	if err := txn.Create(&entry).Error; err != nil {
		return dbError("sql error recording device status change", err, "device_id", device.Id)
	}
	return nil
}

func (s *DeviceService) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	deviceId, ok := urlId(w, r, "device_id")
	if !ok {
		return
	}

	var params deviceStatusRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if err := oneOf(params.Status, schema.DeviceStatuses, "status"); err != nil {
		writeError(w, "updating device status", err)
		return
	}

	var device schema.Device
	err := s.db.Transaction(func(txn *gorm.DB) error {
		var err error
		device, err = getOwned(txn, user, "update", func() (schema.Device, error) {
			return schema.GetDevice(deviceId, txn, true)
		})
		if err != nil {
			return err
		}
		return setStatus(txn, &device, params.Status, time.Now().UTC())
	})

	if err != nil {
		writeError(w, "updating device status", err)
		return
	}

	slog.Info("device status updated", logging.Code(logging.DEVICE_STATUS), "device_id", deviceId, "status", params.Status)
	utils.WriteJsonResponse(w, convertToDeviceInfo(device))
}

// markSeen flags the device online for its expected transmit interval.
func markSeen(ctx context.Context, db *gorm.DB, kv kvstore.Store, device *schema.Device) error {
	ttl := time.Duration(device.ExpectedTransmitTime) * time.Minute
	if ttl <= 0 {
		ttl = defaultExpectedTransmitTime * time.Minute
	}
	if err := kvstore.SetDeviceOnline(ctx, kv, device.Id, ttl); err != nil {
		slog.Warn("error caching device status", logging.Code(logging.DEVICE_STATUS), "device_id", device.Id, "error", err)
	}

	if device.Status == schema.DeviceMaintenance {
		return nil
	}
	return db.Transaction(func(txn *gorm.DB) error {
		return setStatus(txn, device, schema.DeviceOnline, time.Now().UTC())
	})
}

func (s *DeviceService) Seen(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	deviceId, ok := urlId(w, r, "device_id")
	if !ok {
		return
	}

	device, err := getOwned(s.db, user, "update", func() (schema.Device, error) {
		return schema.GetDevice(deviceId, s.db, false)
	})
	if err != nil {
		writeError(w, "marking device seen", err)
		return
	}

	if err := markSeen(r.Context(), s.db, s.kv, &device); err != nil {
		writeError(w, "marking device seen", err)
		return
	}

	utils.WriteSuccess(w)
}

type liveStatusResponse struct {
	DeviceId uint   `json:"device_id"`
	Status   string `json:"status"`
	Source   string `json:"source"`
}

func (s *DeviceService) LiveStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	deviceId, ok := urlId(w, r, "device_id")
	if !ok {
		return
	}

	device, err := getOwned(s.db, user, "read", func() (schema.Device, error) {
		return schema.GetDevice(deviceId, s.db, false)
	})
	if err != nil {
		writeError(w, "retrieving device status", err)
		return
	}

	online, err := kvstore.DeviceOnline(r.Context(), s.kv, deviceId)
	if err != nil {
		slog.Warn("device status cache unavailable, using stored status", logging.Code(logging.DEVICE_STATUS), "device_id", deviceId, "error", err)
		utils.WriteJsonResponse(w, liveStatusResponse{DeviceId: deviceId, Status: device.Status, Source: "database"})
		return
	}

	status := schema.DeviceOffline
	if online {
		status = schema.DeviceOnline
	}
	utils.WriteJsonResponse(w, liveStatusResponse{DeviceId: deviceId, Status: status, Source: "cache"})
}

type downlinkRequest struct {
	Data      string `json:"data"`
	FPort     int    `json:"f_port"`
	Confirmed bool   `json:"confirmed"`
}

func (s *DeviceService) Downlink(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	deviceId, ok := urlId(w, r, "device_id")
	if !ok {
		return
	}

	var params downlinkRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	if params.Data == "" {
		http.Error(w, "downlink data must be specified", http.StatusBadRequest)
		return
	}
	if params.FPort == 0 {
		params.FPort = 1
	}
	if params.FPort < 1 || params.FPort > 223 {
		http.Error(w, "f_port must be between 1 and 223", http.StatusBadRequest)
		return
	}

	device, err := getOwned(s.db, user, "update", func() (schema.Device, error) {
		return schema.GetDevice(deviceId, s.db, false)
	})
	if err != nil {
		writeError(w, "sending downlink", err)
		return
	}

	provider, err := activeChirpstackProvider(s.db, device.Ownership)
	if err != nil {
		writeError(w, "sending downlink", err)
		return
	}
	if provider == nil {
		writeError(w, "sending downlink", apperr.New(apperr.Validation, "No active ChirpStack provider found for the device owner"))
		return
	}

	ns, _, err := s.networkServer(provider)
	if err != nil {
		writeError(w, "sending downlink", err)
		return
	}

	timer := externalTimer("chirpstack", "downlink")
	queueId, err := ns.EnqueueDownlink(r.Context(), device.DevEui, chirpstack.Downlink{
		Confirmed: params.Confirmed, FPort: params.FPort, Data: params.Data,
	})
	timer.ObserveDuration()
	if err != nil {
		slog.Error("error enqueueing downlink", "device_id", deviceId, "error", err)
		writeError(w, "sending downlink", apperr.Wrap(apperr.ExternalService, err))
		return
	}

	utils.WriteJsonResponse(w, map[string]string{"id": queueId})
}
