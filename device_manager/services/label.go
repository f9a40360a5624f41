package services

import (
	"net/http"
	"strings"
	"time"

	"nodedash/device_manager/apperr"
	"nodedash/device_manager/auth"
	"nodedash/device_manager/schema"
	"nodedash/utils"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type LabelService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *LabelService) history() *historyHandlers[schema.Label, schema.LabelHistory] {
	return &historyHandlers[schema.Label, schema.LabelHistory]{
		db:       s.db,
		resource: "label",
		param:    "label_id",
		column:   "label_id",
		load: func(id uint, db *gorm.DB) (schema.Label, error) {
			return schema.GetLabel(id, db, false)
		},
		parentOf: func(h schema.LabelHistory) uint { return h.LabelId },
		prepare: func(h *schema.LabelHistory, parentId uint, now time.Time) {
			h.Id = 0
			h.LabelId = parentId
			h.Timestamp = now
		},
	}
}

func (s *LabelService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	history := s.history()

	r.Get("/", s.List)
	r.Post("/", s.Create)

	r.Get("/history", history.ListAll)
	r.Get("/history/{history_id}", history.Get)

	r.Route("/{label_id}", func(r chi.Router) {
		r.Get("/", s.Get)
		r.Put("/", s.Update)
		r.Delete("/", s.Delete)

		r.Post("/devices/{device_id}", s.AddDevice)
		r.Delete("/devices/{device_id}", s.RemoveDevice)

		r.Get("/history", history.List)
		r.Post("/history", history.Record)
	})

	return r
}

type labelInfo struct {
	Id        uint   `json:"id"`
	Name      string `json:"name"`
	DeviceIds []uint `json:"device_ids"`
	ownerInfo
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func convertToLabelInfo(label schema.Label) labelInfo {
	deviceIds := make([]uint, 0, len(label.Devices))
	for _, device := range label.Devices {
		deviceIds = append(deviceIds, device.Id)
	}
	return labelInfo{
		Id:        label.Id,
		Name:      label.Name,
		DeviceIds: deviceIds,
		ownerInfo: newOwnerInfo(label.Ownership),
		CreatedAt: label.CreatedAt,
		UpdatedAt: label.UpdatedAt,
	}
}

type labelRequest struct {
	Name      *string `json:"name"`
	DeviceIds *[]uint `json:"device_ids"`
}

func recordLabelEvent(txn *gorm.DB, labelId uint, event string, data map[string]interface{}) error {
	entry := schema.LabelHistory{LabelId: labelId, Event: event, Data: data, Timestamp: time.Now().UTC()}
	if err := txn.Create(&entry).Error; err != nil {
		return dbError("sql error recording label history", err, "label_id", labelId)
	}
	return nil
}

// setLabelDevices replaces the devices of a label. Every device must be
// updatable by the actor.
func setLabelDevices(txn *gorm.DB, actor schema.User, label *schema.Label, deviceIds []uint) error {
	devices := make([]schema.Device, 0, len(deviceIds))
	for _, deviceId := range deviceIds {
		device, err := getOwned(txn, actor, "update", func() (schema.Device, error) {
			return schema.GetDevice(deviceId, txn, false)
		})
		if err != nil {
			return err
		}
		devices = append(devices, device)
	}

	association := txn.Model(label).Association("Devices")
	var err error
	if len(devices) == 0 {
		err = association.Clear()
	} else {
		err = association.Replace(devices)
	}
	if err != nil {
		return dbError("sql error updating label devices", err, "label_id", label.Id)
	}
	return nil
}

func (s *LabelService) List(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	params, err := parseListParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	labels, err := listOwned[schema.Label](s.db, user, params, "Devices")
	if err != nil {
		writeError(w, "listing labels", err)
		return
	}

	infos := make([]labelInfo, 0, len(labels))
	for _, label := range labels {
		infos = append(infos, convertToLabelInfo(label))
	}
	utils.WriteJsonResponse(w, infos)
}

func (s *LabelService) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	teamId, err := utils.QueryParamUint(r, "team_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params labelRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	if params.Name == nil || strings.TrimSpace(*params.Name) == "" {
		http.Error(w, "label name must be specified", http.StatusBadRequest)
		return
	}

	label := schema.Label{Name: strings.TrimSpace(*params.Name)}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		owner, err := auth.ResolveOwner(txn, user, teamId)
		if err != nil {
			return err
		}
		label.Ownership = owner

		if err := checkUniqueName(txn, &schema.Label{}, "label", label.Name, 0); err != nil {
			return err
		}

		if err := txn.Create(&label).Error; err != nil {
			return dbError("sql error creating label", err)
		}

		if params.DeviceIds != nil && len(*params.DeviceIds) > 0 {
			if err := setLabelDevices(txn, user, &label, *params.DeviceIds); err != nil {
				return err
			}
		}

		if err := recordLabelEvent(txn, label.Id, "created", map[string]interface{}{"name": label.Name}); err != nil {
			return err
		}

		label, err = schema.GetLabel(label.Id, txn, true)
		return err
	})

	if err != nil {
		writeError(w, "creating label", err)
		return
	}

	utils.WriteJsonStatus(w, http.StatusCreated, convertToLabelInfo(label))
}

func (s *LabelService) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	labelId, ok := urlId(w, r, "label_id")
	if !ok {
		return
	}

	label, err := getOwned(s.db, user, "read", func() (schema.Label, error) {
		return schema.GetLabel(labelId, s.db, true)
	})
	if err != nil {
		writeError(w, "retrieving label", err)
		return
	}

	utils.WriteJsonResponse(w, convertToLabelInfo(label))
}

func (s *LabelService) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	labelId, ok := urlId(w, r, "label_id")
	if !ok {
		return
	}
	teamId, err := utils.QueryParamUint(r, "team_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params labelRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	var label schema.Label
	err = s.db.Transaction(func(txn *gorm.DB) error {
		var err error
		label, err = getOwned(txn, user, "update", func() (schema.Label, error) {
			return schema.GetLabel(labelId, txn, false)
		})
		if err != nil {
			return err
		}

		owner, err := transferOwner(txn, user, teamId)
		if err != nil {
			return err
		}
		if owner != nil {
			label.Ownership = *owner
		}

		if params.Name != nil {
			name := strings.TrimSpace(*params.Name)
			if name == "" {
				return apperr.New(apperr.Validation, "label name must not be empty")
			}
			if err := checkUniqueName(txn, &schema.Label{}, "label", name, label.Id); err != nil {
				return err
			}
			label.Name = name
		}

		if err := txn.Omit("Devices").Save(&label).Error; err != nil {
			return dbError("sql error updating label", err, "label_id", labelId)
		}

		if params.DeviceIds != nil {
			if err := setLabelDevices(txn, user, &label, *params.DeviceIds); err != nil {
				return err
			}
		}

		if err := recordLabelEvent(txn, label.Id, "updated", map[string]interface{}{"name": label.Name}); err != nil {
			return err
		}

		label, err = schema.GetLabel(labelId, txn, true)
		return err
	})

	if err != nil {
		writeError(w, "updating label", err)
		return
	}

	utils.WriteJsonResponse(w, convertToLabelInfo(label))
}

func (s *LabelService) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	labelId, ok := urlId(w, r, "label_id")
	if !ok {
		return
	}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		label, err := getOwned(txn, user, "delete", func() (schema.Label, error) {
			return schema.GetLabel(labelId, txn, false)
		})
		if err != nil {
			return err
		}

		if err := deleteHistory(txn, &schema.LabelHistory{}, "label_id", labelId); err != nil {
			return err
		}

		if err := txn.Model(&label).Association("Devices").Clear(); err != nil {
			return dbError("sql error clearing label devices", err, "label_id", labelId)
		}

		if err := txn.Delete(&label).Error; err != nil {
			return dbError("sql error deleting label", err, "label_id", labelId)
		}
		return nil
	})

	if err != nil {
		writeError(w, "deleting label", err)
		return
	}

	utils.WriteSuccess(w)
}

// labelAndDevice loads both ends of a label assignment. The label and the
// device are each checked for update access.
func labelAndDevice(txn *gorm.DB, actor schema.User, labelId, deviceId uint) (schema.Label, schema.Device, error) {
	label, err := getOwned(txn, actor, "update", func() (schema.Label, error) {
		return schema.GetLabel(labelId, txn, false)
	})
	if err != nil {
		return schema.Label{}, schema.Device{}, err
	}

	device, err := getOwned(txn, actor, "update", func() (schema.Device, error) {
		return schema.GetDevice(deviceId, txn, false)
	})
	if err != nil {
		return schema.Label{}, schema.Device{}, err
	}
	return label, device, nil
}

func (s *LabelService) AddDevice(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	labelId, ok := urlId(w, r, "label_id")
	if !ok {
		return
	}
	deviceId, ok := urlId(w, r, "device_id")
	if !ok {
		return
	}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		label, device, err := labelAndDevice(txn, user, labelId, deviceId)
		if err != nil {
			return err
		}

		if err := txn.Model(&label).Association("Devices").Append(&device); err != nil {
			return dbError("sql error adding device to label", err, "label_id", labelId, "device_id", deviceId)
		}

		return recordLabelEvent(txn, labelId, "device_added", map[string]interface{}{"device_id": deviceId})
	})

	if err != nil {
		writeError(w, "adding device to label", err)
		return
	}

	utils.WriteSuccess(w)
}

func (s *LabelService) RemoveDevice(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	labelId, ok := urlId(w, r, "label_id")
	if !ok {
		return
	}
	deviceId, ok := urlId(w, r, "device_id")
	if !ok {
		return
	}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		label, device, err := labelAndDevice(txn, user, labelId, deviceId)
		if err != nil {
			return err
		}

		if err := txn.Model(&label).Association("Devices").Delete(&device); err != nil {
			return dbError("sql error removing device from label", err, "label_id", labelId, "device_id", deviceId)
		}

		return recordLabelEvent(txn, labelId, "device_removed", map[string]interface{}{"device_id": deviceId})
	})

	if err != nil {
		writeError(w, "removing device from label", err)
		return
	}

	utils.WriteSuccess(w)
}
