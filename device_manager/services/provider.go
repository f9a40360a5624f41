package services

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nodedash/device_manager/apperr"
	"nodedash/device_manager/auth"
	"nodedash/device_manager/chirpstack"
	"nodedash/device_manager/schema"
	"nodedash/device_manager/validation"
	"nodedash/utils"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type ProviderService struct {
	db             *gorm.DB
	userAuth       auth.IdentityProvider
	networkServers chirpstack.Factory
	validator      *validation.Validator
	variables      Variables
}

func (s *ProviderService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Get("/", s.List)
	r.Post("/", s.Create)

	r.Route("/{provider_id}", func(r chi.Router) {
		r.Get("/", s.Get)
		r.Put("/", s.Update)
		r.Delete("/", s.Delete)
		r.Post("/setup", s.Setup)
	})

	return r
}

type providerInfo struct {
	Id           uint                   `json:"id"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description"`
	ProviderType string                 `json:"provider_type"`
	Config       map[string]interface{} `json:"config"`
	IsActive     bool                   `json:"is_active"`
	ownerInfo
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func convertToProviderInfo(provider schema.Provider) providerInfo {
	config := provider.Config
	if config == nil {
		config = map[string]interface{}{}
	}
	return providerInfo{
		Id:           provider.Id,
		Name:         provider.Name,
		Description:  provider.Description,
		ProviderType: provider.ProviderType,
		Config:       config,
		IsActive:     provider.IsActive,
		ownerInfo:    newOwnerInfo(provider.Ownership),
		CreatedAt:    provider.CreatedAt,
		UpdatedAt:    provider.UpdatedAt,
	}
}

type providerRequest struct {
	Name         *string                `json:"name"`
	Description  *string                `json:"description"`
	ProviderType *string                `json:"provider_type"`
	Config       map[string]interface{} `json:"config"`
	IsActive     *bool                  `json:"is_active"`
}

func (req providerRequest) apply(provider *schema.Provider, validator *validation.Validator) error {
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return apperr.New(apperr.Validation, "provider name must not be empty")
		}
		provider.Name = name
	}
	if req.Description != nil {
		provider.Description = *req.Description
	}
	if req.ProviderType != nil {
		if err := oneOf(*req.ProviderType, schema.ProviderTypes, "provider_type"); err != nil {
			return err
		}
		provider.ProviderType = *req.ProviderType
	}
	if req.Config != nil {
		provider.Config = req.Config
	}
	if req.IsActive != nil {
		provider.IsActive = *req.IsActive
	}

	config := provider.Config
	if config == nil {
		config = map[string]interface{}{}
	}
	return validator.ValidateOptional(config, validation.ProviderConfig(provider.ProviderType))
}

// checkProviderTypeUnique enforces one provider of each type per owner.
func checkProviderTypeUnique(txn *gorm.DB, provider schema.Provider) error {
	query := txn.Model(&schema.Provider{}).
		Where("provider_type = ?", provider.ProviderType).
		Where("owner_type = ? AND owner_id = ?", provider.OwnerType, provider.OwnerId)
	if provider.Id != 0 {
		query = query.Where("id <> ?", provider.Id)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return dbError("sql error checking provider type", err)
	}
	if count > 0 {
		return apperr.Newf(apperr.Conflict, "A %v provider already exists for this owner", provider.ProviderType)
	}
	return nil
}

func (s *ProviderService) List(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	params, err := parseListParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if providerType := r.URL.Query().Get("provider_type"); providerType != "" {
		params.filters = append(params.filters, func(q *gorm.DB) *gorm.DB {
			return q.Where("provider_type = ?", providerType)
		})
	}
	if isActive := r.URL.Query().Get("is_active"); isActive != "" {
		active, err := strconv.ParseBool(isActive)
		if err != nil {
			http.Error(w, "invalid value for query parameter 'is_active'", http.StatusBadRequest)
			return
		}
		params.filters = append(params.filters, func(q *gorm.DB) *gorm.DB {
			return q.Where("is_active = ?", active)
		})
	}

	providers, err := listOwned[schema.Provider](s.db, user, params)
	if err != nil {
		writeError(w, "listing providers", err)
		return
	}

	infos := make([]providerInfo, 0, len(providers))
	for _, provider := range providers {
		infos = append(infos, convertToProviderInfo(provider))
	}
	utils.WriteJsonResponse(w, infos)
}

func (s *ProviderService) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	teamId, err := utils.QueryParamUint(r, "team_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params providerRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	if params.Name == nil || params.ProviderType == nil {
		http.Error(w, "provider name and provider_type must be specified", http.StatusBadRequest)
		return
	}

	provider := schema.Provider{IsActive: true, Config: map[string]interface{}{}}
	if err := params.apply(&provider, s.validator); err != nil {
		writeError(w, "creating provider", err)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		owner, err := auth.ResolveOwner(txn, user, teamId)
		if err != nil {
			return err
		}
		provider.Ownership = owner

		if err := checkProviderTypeUnique(txn, provider); err != nil {
			return err
		}

		if err := txn.Create(&provider).Error; err != nil {
			return dbError("sql error creating provider", err)
		}
		return nil
	})

	if err != nil {
		writeError(w, "creating provider", err)
		return
	}

	if provider.ProviderType == schema.ProviderChirpstack && chirpstackConfigured(provider) {
		if err := s.setup(r.Context(), &provider); err != nil {
			slog.Warn("chirpstack setup failed after provider create, setup can be retried", "provider_id", provider.Id, "error", err)
		}
	}

	utils.WriteJsonStatus(w, http.StatusCreated, convertToProviderInfo(provider))
}

func chirpstackConfigured(provider schema.Provider) bool {
	tenant, _ := provider.Config[chirpstack.KeyTenantId].(string)
	return strings.TrimSpace(tenant) != ""
}

func (s *ProviderService) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	providerId, ok := urlId(w, r, "provider_id")
	if !ok {
		return
	}

	provider, err := getOwned(s.db, user, "read", func() (schema.Provider, error) {
		return schema.GetProvider(providerId, s.db)
	})
	if err != nil {
		writeError(w, "retrieving provider", err)
		return
	}

	utils.WriteJsonResponse(w, convertToProviderInfo(provider))
}

func (s *ProviderService) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	providerId, ok := urlId(w, r, "provider_id")
	if !ok {
		return
	}
	teamId, err := utils.QueryParamUint(r, "team_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params providerRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	var provider schema.Provider
	err = s.db.Transaction(func(txn *gorm.DB) error {
		var err error
		provider, err = getOwned(txn, user, "update", func() (schema.Provider, error) {
			return schema.GetProvider(providerId, txn)
		})
		if err != nil {
			return err
		}

		owner, err := transferOwner(txn, user, teamId)
		if err != nil {
			return err
		}
		if owner != nil {
			provider.Ownership = *owner
		}

		if err := params.apply(&provider, s.validator); err != nil {
			return err
		}

		if owner != nil || params.ProviderType != nil {
			if err := checkProviderTypeUnique(txn, provider); err != nil {
				return err
			}
		}

		if err := txn.Save(&provider).Error; err != nil {
			return dbError("sql error updating provider", err, "provider_id", providerId)
		}
		return nil
	})

	if err != nil {
		writeError(w, "updating provider", err)
		return
	}

	utils.WriteJsonResponse(w, convertToProviderInfo(provider))
}

func (s *ProviderService) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	providerId, ok := urlId(w, r, "provider_id")
	if !ok {
		return
	}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		provider, err := getOwned(txn, user, "delete", func() (schema.Provider, error) {
			return schema.GetProvider(providerId, txn)
		})
		if err != nil {
			return err
		}

		if err := txn.Delete(&provider).Error; err != nil {
			return dbError("sql error deleting provider", err, "provider_id", providerId)
		}
		return nil
	})

	if err != nil {
		writeError(w, "deleting provider", err)
		return
	}

	utils.WriteSuccess(w)
}

// setup runs the network server setup for the provider and stores the
// resulting ids in its config.
func (s *ProviderService) setup(ctx context.Context, provider *schema.Provider) error {
	cfg, err := chirpstack.ParseConfig(provider.Config)
	if err != nil {
		return err
	}

	timer := externalTimer("chirpstack", "setup")
	config, err := chirpstack.Setup(ctx, s.networkServers(cfg), provider.Config, chirpstack.SetupOptions{
		IngestAddress: s.variables.IngestAddress,
		Catalog:       s.variables.RegionCatalog,
	})
	timer.ObserveDuration()
	if err != nil {
		return err
	}

	provider.Config = config
	if err := s.db.Model(provider).Select("Config").Updates(provider).Error; err != nil {
		return dbError("sql error saving provider setup", err, "provider_id", provider.Id)
	}
	return nil
}

func (s *ProviderService) Setup(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	providerId, ok := urlId(w, r, "provider_id")
	if !ok {
		return
	}

	provider, err := getOwned(s.db, user, "update", func() (schema.Provider, error) {
		return schema.GetProvider(providerId, s.db)
	})
	if err != nil {
		writeError(w, "running provider setup", err)
		return
	}

	if provider.ProviderType != schema.ProviderChirpstack {
		http.Error(w, "Provider is not a ChirpStack provider", http.StatusBadRequest)
		return
	}

	if err := s.setup(r.Context(), &provider); err != nil {
		writeError(w, "running provider setup", err)
		return
	}

	utils.WriteJsonResponse(w, convertToProviderInfo(provider))
}
