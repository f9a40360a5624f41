package services

import (
	"net/http"

	"nodedash/device_manager/apperr"
	"nodedash/device_manager/auth"
	"nodedash/device_manager/schema"
	"nodedash/device_manager/storage"
	"nodedash/utils"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

var (
	ErrNotInfluxProvider    = apperr.New(apperr.Validation, "Provider is not an InfluxDB provider")
	ErrProviderInactive     = apperr.New(apperr.Validation, "Provider is not active")
	ErrUpsertNeedsTimestamp = apperr.New(apperr.Validation, "upsert requires a timestamp")
)

type StorageService struct {
	db         *gorm.DB
	userAuth   auth.IdentityProvider
	timeSeries storage.Factory
}

func (s *StorageService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Route("/{provider_id}", func(r chi.Router) {
		r.Post("/write", s.Write)
		r.Post("/upsert", s.Upsert)
		r.Post("/query", s.Query)
		r.Post("/delete", s.Delete)
	})

	return r
}

// store resolves the provider in the url into a time series client after
// checking that the user may perform action on it.
func (s *StorageService) store(r *http.Request, action string) (storage.TimeSeries, error) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		return nil, CodedError(err, http.StatusUnauthorized)
	}
	providerId, err := utils.URLParamUint(r, "provider_id")
	if err != nil {
		return nil, CodedError(err, http.StatusBadRequest)
	}

	provider, err := getOwned(s.db, user, action, func() (schema.Provider, error) {
		return schema.GetProvider(providerId, s.db)
	})
	if err != nil {
		return nil, err
	}

	if provider.ProviderType != schema.ProviderInfluxdb {
		return nil, CodedError(ErrNotInfluxProvider, http.StatusBadRequest)
	}
	if !provider.IsActive {
		return nil, CodedError(ErrProviderInactive, http.StatusBadRequest)
	}

	cfg, err := storage.ParseConfig(provider.Config)
	if err != nil {
		return nil, CodedError(err, http.StatusBadRequest)
	}
	return s.timeSeries(cfg), nil
}

type writePointsRequest struct {
	Points []storage.Point `json:"points"`
	Bucket string          `json:"bucket"`
}

func (s *StorageService) Write(w http.ResponseWriter, r *http.Request) {
	var params writePointsRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	if len(params.Points) == 0 {
		http.Error(w, "at least one point must be specified", http.StatusBadRequest)
		return
	}

	ts, err := s.store(r, "write")
	if err != nil {
		writeError(w, "writing points", err)
		return
	}

	timer := externalTimer("influxdb", "write")
	err = ts.WritePoints(r.Context(), params.Points, params.Bucket)
	timer.ObserveDuration()
	if err != nil {
		writeError(w, "writing points", err)
		return
	}

	utils.WriteJsonResponse(w, true)
}

type upsertRequest struct {
	storage.Point
	Bucket string `json:"bucket"`
}

// Upsert writes a single point at an explicit timestamp. Writing the same
// series and timestamp again replaces the field values.
func (s *StorageService) Upsert(w http.ResponseWriter, r *http.Request) {
	var params upsertRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	if params.Timestamp == "" {
		writeError(w, "upserting point", ErrUpsertNeedsTimestamp)
		return
	}

	ts, err := s.store(r, "write")
	if err != nil {
		writeError(w, "upserting point", err)
		return
	}

	timer := externalTimer("influxdb", "upsert")
	err = ts.WritePoints(r.Context(), []storage.Point{params.Point}, params.Bucket)
	timer.ObserveDuration()
	if err != nil {
		writeError(w, "upserting point", err)
		return
	}

	utils.WriteJsonResponse(w, true)
}

func (s *StorageService) Query(w http.ResponseWriter, r *http.Request) {
	params := storage.Query{Limit: 100, Order: "desc"}
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	if params.Start == "" {
		http.Error(w, "query start must be specified", http.StatusBadRequest)
		return
	}
	if params.Limit < 0 || params.Offset < 0 {
		http.Error(w, "limit and offset must be non-negative", http.StatusBadRequest)
		return
	}

	ts, err := s.store(r, "read")
	if err != nil {
		writeError(w, "querying points", err)
		return
	}

	timer := externalTimer("influxdb", "query")
	records, err := ts.Query(r.Context(), params)
	timer.ObserveDuration()
	if err != nil {
		writeError(w, "querying points", err)
		return
	}

	if records == nil {
		records = []storage.Record{}
	}
	utils.WriteJsonResponse(w, records)
}

func (s *StorageService) Delete(w http.ResponseWriter, r *http.Request) {
	var params storage.DeleteRange
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}
	if params.Start == "" || params.End == "" {
		http.Error(w, "delete start and end must be specified", http.StatusBadRequest)
		return
	}

	ts, err := s.store(r, "delete")
	if err != nil {
		writeError(w, "deleting points", err)
		return
	}

	timer := externalTimer("influxdb", "delete")
	err = ts.Delete(r.Context(), params)
	timer.ObserveDuration()
	if err != nil {
		writeError(w, "deleting points", err)
		return
	}

	utils.WriteJsonResponse(w, true)
}
