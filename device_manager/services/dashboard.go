package services

import (
	"errors"
	"net/http"

	"nodedash/device_manager/auth"
	"nodedash/device_manager/schema"
	"nodedash/utils"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type DashboardService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *DashboardService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Get("/stats", s.Stats)

	return r
}

type deviceStats struct {
	Total       int64 `json:"total"`
	Online      int64 `json:"online"`
	Offline     int64 `json:"offline"`
	NeverSeen   int64 `json:"neverSeen"`
	Maintenance int64 `json:"maintenance"`
}

type flowStats struct {
	Total          int64 `json:"total"`
	Success        int64 `json:"success"`
	Error          int64 `json:"error"`
	PartialSuccess int64 `json:"partialSuccess"`
	Pending        int64 `json:"pending"`
	Inactive       int64 `json:"inactive"`
}

type executionStats struct {
	Total    int64 `json:"total"`
	Active   int64 `json:"active"`
	Error    int64 `json:"error"`
	Inactive int64 `json:"inactive"`
}

type dashboardStats struct {
	DeviceStats      deviceStats    `json:"deviceStats"`
	FlowStats        flowStats      `json:"flowStats"`
	FunctionStats    executionStats `json:"functionStats"`
	IntegrationStats executionStats `json:"integrationStats"`
}

// dashboardScope is the list scope, except that a team the actor is not in
// yields no rows instead of an error.
func dashboardScope(txn *gorm.DB, actor schema.User, teamId *uint) (func(*gorm.DB) *gorm.DB, bool, error) {
	scope, err := auth.ListScope(txn, actor, teamId)
	if errors.Is(err, auth.ErrNotTeamMember) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return scope, true, nil
}

// latestStatuses returns the status of the newest history row for every
// parent in the scope that has history at all.
func latestStatuses(txn *gorm.DB, parents interface{}, history interface{}, column string, scope func(*gorm.DB) *gorm.DB) (map[uint]string, error) {
	ids := txn.Model(parents).Scopes(scope).Select("id")

	var rows []struct {
		ParentId uint
		Status   string
	}
	err := txn.Model(history).
		Select(column+" AS parent_id, status").
		Where(column+" IN (?)", ids).
		Order(column + ", timestamp, id").
		Scan(&rows).Error
	if err != nil {
		return nil, dbError("sql error loading latest history status", err, "column", column)
	}

	latest := make(map[uint]string)
	for _, row := range rows {
		latest[row.ParentId] = row.Status
	}
	return latest, nil
}

func countScoped(txn *gorm.DB, model interface{}, scope func(*gorm.DB) *gorm.DB, where ...interface{}) (int64, error) {
	query := txn.Model(model).Scopes(scope)
	if len(where) > 0 {
		query = query.Where(where[0], where[1:]...)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, dbError("sql error counting dashboard rows", err)
	}
	return count, nil
}

func executionCounts(txn *gorm.DB, parents, history interface{}, column string, scope func(*gorm.DB) *gorm.DB) (executionStats, error) {
	total, err := countScoped(txn, parents, scope)
	if err != nil {
		return executionStats{}, err
	}
	latest, err := latestStatuses(txn, parents, history, column, scope)
	if err != nil {
		return executionStats{}, err
	}

	stats := executionStats{Total: total, Inactive: total - int64(len(latest))}
	for _, status := range latest {
		switch status {
		case schema.ExecutionSuccess:
			stats.Active++
		case schema.ExecutionError:
			stats.Error++
		}
	}
	return stats, nil
}

func (s *DashboardService) collect(txn *gorm.DB, scope func(*gorm.DB) *gorm.DB) (dashboardStats, error) {
	var stats dashboardStats

	total, err := countScoped(txn, &schema.Device{}, scope)
	if err != nil {
		return stats, err
	}
	stats.DeviceStats.Total = total

	for status, dest := range map[string]*int64{
		schema.DeviceOnline:      &stats.DeviceStats.Online,
		schema.DeviceOffline:     &stats.DeviceStats.Offline,
		schema.DeviceNeverSeen:   &stats.DeviceStats.NeverSeen,
		schema.DeviceMaintenance: &stats.DeviceStats.Maintenance,
	} {
		if *dest, err = countScoped(txn, &schema.Device{}, scope, "status = ?", status); err != nil {
			return stats, err
		}
	}

	if stats.FlowStats.Total, err = countScoped(txn, &schema.Flow{}, scope); err != nil {
		return stats, err
	}
	flows, err := latestStatuses(txn, &schema.Flow{}, &schema.FlowHistory{}, "flow_id", scope)
	if err != nil {
		return stats, err
	}
	stats.FlowStats.Inactive = stats.FlowStats.Total - int64(len(flows))
	for _, status := range flows {
		switch status {
		case schema.ExecutionSuccess:
			stats.FlowStats.Success++
		case schema.ExecutionError:
			stats.FlowStats.Error++
		case schema.ExecutionPartialSuccess:
			stats.FlowStats.PartialSuccess++
		case schema.ExecutionPending, schema.ExecutionRunning, "":
			stats.FlowStats.Pending++
		}
	}

	if stats.FunctionStats, err = executionCounts(txn, &schema.Function{}, &schema.FunctionHistory{}, "function_id", scope); err != nil {
		return stats, err
	}
	if stats.IntegrationStats, err = executionCounts(txn, &schema.Integration{}, &schema.IntegrationHistory{}, "integration_id", scope); err != nil {
		return stats, err
	}

	return stats, nil
}

// Stats counts devices by status and flows, functions and integrations by the
// status of their latest execution. Resources without history are inactive.
func (s *DashboardService) Stats(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	teamId, err := utils.QueryParamUint(r, "team_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var stats dashboardStats
	err = s.db.Transaction(func(txn *gorm.DB) error {
		scope, member, err := dashboardScope(txn, user, teamId)
		if err != nil || !member {
			return err
		}
		stats, err = s.collect(txn, scope)
		return err
	})

	if err != nil {
		writeError(w, "loading dashboard stats", err)
		return
	}

	utils.WriteJsonResponse(w, stats)
}
