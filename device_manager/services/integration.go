package services

import (
	"net/http"
	"strings"
	"time"

	"nodedash/device_manager/apperr"
	"nodedash/device_manager/auth"
	"nodedash/device_manager/schema"
	"nodedash/device_manager/validation"
	"nodedash/utils"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

var (
	integrationTypes    = []string{schema.IntegrationHttp, schema.IntegrationMqtt}
	integrationStatuses = []string{schema.IntegrationActive, schema.IntegrationInactive, schema.IntegrationError}
)

type IntegrationService struct {
	db        *gorm.DB
	userAuth  auth.IdentityProvider
	validator *validation.Validator
}

func (s *IntegrationService) history() *historyHandlers[schema.Integration, schema.IntegrationHistory] {
	return &historyHandlers[schema.Integration, schema.IntegrationHistory]{
		db:       s.db,
		resource: "integration",
		param:    "integration_id",
		column:   "integration_id",
		load:     schema.GetIntegration,
		parentOf: func(h schema.IntegrationHistory) uint { return h.IntegrationId },
		prepare: func(h *schema.IntegrationHistory, parentId uint, now time.Time) {
			h.Id = 0
			h.IntegrationId = parentId
			h.Timestamp = now
			if h.Status == "" {
				h.Status = schema.ExecutionSuccess
			}
		},
	}
}

func (s *IntegrationService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	history := s.history()

	r.Get("/", s.List)
	r.Post("/", s.Create)

	r.Get("/history", history.ListAll)
	r.Get("/history/{history_id}", history.Get)

	r.Route("/{integration_id}", func(r chi.Router) {
		r.Get("/", s.Get)
		r.Put("/", s.Update)
		r.Delete("/", s.Delete)

		r.Get("/history", history.List)
		r.Post("/history", history.Record)
	})

	return r
}

type integrationInfo struct {
	Id     uint                   `json:"id"`
	Name   string                 `json:"name"`
	Type   string                 `json:"type"`
	Config map[string]interface{} `json:"config"`
	Status string                 `json:"status"`
	ownerInfo
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func convertToIntegrationInfo(integration schema.Integration) integrationInfo {
	return integrationInfo{
		Id:        integration.Id,
		Name:      integration.Name,
		Type:      integration.Type,
		Config:    integration.Config,
		Status:    integration.Status,
		ownerInfo: newOwnerInfo(integration.Ownership),
		CreatedAt: integration.CreatedAt,
		UpdatedAt: integration.UpdatedAt,
	}
}

type integrationRequest struct {
	Name   *string                `json:"name"`
	Type   *string                `json:"type"`
	Config map[string]interface{} `json:"config"`
	Status *string                `json:"status"`
}

// apply copies the set fields onto the integration and validates the
// resulting config against the schema for its type.
func (req integrationRequest) apply(integration *schema.Integration, validator *validation.Validator) error {
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return apperr.New(apperr.Validation, "integration name must not be empty")
		}
		integration.Name = name
	}
	if req.Type != nil {
		if err := oneOf(*req.Type, integrationTypes, "type"); err != nil {
			return err
		}
		integration.Type = *req.Type
	}
	if req.Config != nil {
		integration.Config = req.Config
	}
	if req.Status != nil {
		if err := oneOf(*req.Status, integrationStatuses, "status"); err != nil {
			return err
		}
		integration.Status = *req.Status
	}

	config := integration.Config
	if config == nil {
		config = map[string]interface{}{}
	}
	return validator.ValidateOptional(config, validation.IntegrationConfig(integration.Type))
}

func (s *IntegrationService) List(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	params, err := parseListParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	integrations, err := listOwned[schema.Integration](s.db, user, params)
	if err != nil {
		writeError(w, "listing integrations", err)
		return
	}

	infos := make([]integrationInfo, 0, len(integrations))
	for _, integration := range integrations {
		infos = append(infos, convertToIntegrationInfo(integration))
	}
	utils.WriteJsonResponse(w, infos)
}

func (s *IntegrationService) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	teamId, err := utils.QueryParamUint(r, "team_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params integrationRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	if params.Name == nil || params.Type == nil {
		http.Error(w, "integration name and type must be specified", http.StatusBadRequest)
		return
	}

	integration := schema.Integration{Status: schema.IntegrationActive, Config: map[string]interface{}{}}
	if err := params.apply(&integration, s.validator); err != nil {
		writeError(w, "creating integration", err)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		owner, err := auth.ResolveOwner(txn, user, teamId)
		if err != nil {
			return err
		}
		integration.Ownership = owner

		if err := checkUniqueName(txn, &schema.Integration{}, "integration", integration.Name, 0); err != nil {
			return err
		}

		if err := txn.Create(&integration).Error; err != nil {
			return dbError("sql error creating integration", err)
		}
		return nil
	})

	if err != nil {
		writeError(w, "creating integration", err)
		return
	}

	utils.WriteJsonStatus(w, http.StatusCreated, convertToIntegrationInfo(integration))
}

func (s *IntegrationService) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	integrationId, ok := urlId(w, r, "integration_id")
	if !ok {
		return
	}

	integration, err := getOwned(s.db, user, "read", func() (schema.Integration, error) {
		return schema.GetIntegration(integrationId, s.db)
	})
	if err != nil {
		writeError(w, "retrieving integration", err)
		return
	}

	utils.WriteJsonResponse(w, convertToIntegrationInfo(integration))
}

func (s *IntegrationService) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	integrationId, ok := urlId(w, r, "integration_id")
	if !ok {
		return
	}
	teamId, err := utils.QueryParamUint(r, "team_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params integrationRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	var integration schema.Integration
	err = s.db.Transaction(func(txn *gorm.DB) error {
		var err error
		integration, err = getOwned(txn, user, "update", func() (schema.Integration, error) {
			return schema.GetIntegration(integrationId, txn)
		})
		if err != nil {
			return err
		}

		owner, err := transferOwner(txn, user, teamId)
		if err != nil {
			return err
		}
		if owner != nil {
			integration.Ownership = *owner
		}

		if err := params.apply(&integration, s.validator); err != nil {
			return err
		}

		if params.Name != nil {
			if err := checkUniqueName(txn, &schema.Integration{}, "integration", integration.Name, integration.Id); err != nil {
				return err
			}
		}

		if err := txn.Save(&integration).Error; err != nil {
			return dbError("sql error updating integration", err, "integration_id", integrationId)
		}
		return nil
	})

	if err != nil {
		writeError(w, "updating integration", err)
		return
	}

	utils.WriteJsonResponse(w, convertToIntegrationInfo(integration))
}

func (s *IntegrationService) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	integrationId, ok := urlId(w, r, "integration_id")
	if !ok {
		return
	}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		integration, err := getOwned(txn, user, "delete", func() (schema.Integration, error) {
			return schema.GetIntegration(integrationId, txn)
		})
		if err != nil {
			return err
		}

		if err := deleteHistory(txn, &schema.IntegrationHistory{}, "integration_id", integrationId); err != nil {
			return err
		}

		if err := txn.Delete(&integration).Error; err != nil {
			return dbError("sql error deleting integration", err, "integration_id", integrationId)
		}
		return nil
	})

	if err != nil {
		writeError(w, "deleting integration", err)
		return
	}

	utils.WriteSuccess(w)
}
