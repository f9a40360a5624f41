package services

import (
	"net/http"
	"time"

	"nodedash/device_manager/auth"
	"nodedash/device_manager/retention"
	"nodedash/utils"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type MaintenanceService struct {
	db     *gorm.DB
	secret string
}

func (s *MaintenanceService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(auth.MaintenanceKeyOnly(s.secret))

	r.Post("/cleanup-history", s.CleanupHistory)

	return r
}

type cleanupResponse struct {
	Success       bool             `json:"success"`
	DeletedCounts map[string]int64 `json:"deleted_counts"`
	Message       string           `json:"message"`
}

func (s *MaintenanceService) CleanupHistory(w http.ResponseWriter, r *http.Request) {
	days, err := utils.QueryParamInt(r, "retention_days", retention.DefaultRetentionDays)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if days < 0 {
		http.Error(w, "retention_days must be non-negative", http.StatusBadRequest)
		return
	}

	counts, err := retention.Cleanup(r.Context(), s.db, days, time.Now())
	if err != nil {
		writeError(w, "cleaning up history", err)
		return
	}

	for table, n := range counts {
		historyDeletedMetric.WithLabelValues(table).Add(float64(n))
	}

	utils.WriteJsonResponse(w, cleanupResponse{
		Success:       true,
		DeletedCounts: counts,
		Message:       "History cleanup completed successfully",
	})
}
