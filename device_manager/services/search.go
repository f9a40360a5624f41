package services

import (
	"net/http"
	"strings"

	"nodedash/device_manager/auth"
	"nodedash/device_manager/schema"
	"nodedash/utils"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

const (
	searchDevices      = "devices"
	searchFunctions    = "functions"
	searchFlows        = "flows"
	searchIntegrations = "integrations"

	defaultSearchLimit = 10
)

var searchResourceTypes = []string{searchDevices, searchFunctions, searchFlows, searchIntegrations}

type SearchService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *SearchService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Get("/", s.Search)

	return r
}

type searchResult struct {
	Id          uint   `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	DevEui      string `json:"dev_eui,omitempty"`
	Status      string `json:"status,omitempty"`
	ownerInfo
}

// likePattern builds a lower case LIKE pattern, escaping the wildcards in the
// search term.
func likePattern(term string) string {
	escaped := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(strings.ToLower(term))
	return "%" + escaped + "%"
}

func matchAny(columns ...string) string {
	clauses := make([]string, 0, len(columns))
	for _, c := range columns {
		clauses = append(clauses, "LOWER("+c+") LIKE ? ESCAPE '\\'")
	}
	return "(" + strings.Join(clauses, " OR ") + ")"
}

func repeatArg(arg interface{}, n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = arg
	}
	return args
}

func searchRows[T any](txn *gorm.DB, scope func(*gorm.DB) *gorm.DB, pattern string, limit int, columns ...string) ([]T, error) {
	rows := []T{}
	err := txn.Scopes(scope).
		Where(matchAny(columns...), repeatArg(pattern, len(columns))...).
		Order("id").Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, dbError("sql error searching resources", err)
	}
	return rows, nil
}

func (s *SearchService) search(txn *gorm.DB, scope func(*gorm.DB) *gorm.DB, kind, pattern string, limit int) ([]searchResult, error) {
	results := []searchResult{}

	switch kind {
	case searchDevices:
		devices, err := searchRows[schema.Device](txn, scope, pattern, limit, "name", "dev_eui", "app_eui")
		if err != nil {
			return nil, err
		}
		for _, d := range devices {
			results = append(results, searchResult{Id: d.Id, Name: d.Name, Type: "device", DevEui: d.DevEui, Status: d.Status, ownerInfo: newOwnerInfo(d.Ownership)})
		}
	case searchFunctions:
		functions, err := searchRows[schema.Function](txn, scope, pattern, limit, "name", "description")
		if err != nil {
			return nil, err
		}
		for _, f := range functions {
			results = append(results, searchResult{Id: f.Id, Name: f.Name, Type: "function", Description: f.Description, Status: f.Status, ownerInfo: newOwnerInfo(f.Ownership)})
		}
	case searchFlows:
		flows, err := searchRows[schema.Flow](txn, scope, pattern, limit, "name", "description")
		if err != nil {
			return nil, err
		}
		for _, f := range flows {
			results = append(results, searchResult{Id: f.Id, Name: f.Name, Type: "flow", Description: f.Description, ownerInfo: newOwnerInfo(f.Ownership)})
		}
	case searchIntegrations:
		integrations, err := searchRows[schema.Integration](txn, scope, pattern, limit, "name", "type")
		if err != nil {
			return nil, err
		}
		for _, i := range integrations {
			results = append(results, searchResult{Id: i.Id, Name: i.Name, Type: "integration", Status: i.Status, ownerInfo: newOwnerInfo(i.Ownership)})
		}
	}

	return results, nil
}

// Search does a case insensitive match over the names of devices, functions,
// flows and integrations the user can see. The result has one list per
// searched resource type.
func (s *SearchService) Search(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		http.Error(w, "query parameter 'query' must be specified", http.StatusBadRequest)
		return
	}

	limit, err := utils.QueryParamInt(r, "limit", defaultSearchLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if limit < 1 || limit > maxListLimit {
		http.Error(w, "limit must be between 1 and 1000", http.StatusBadRequest)
		return
	}

	teamId, err := utils.QueryParamUint(r, "team_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	kinds := searchResourceTypes
	if raw := r.URL.Query().Get("resource_types"); raw != "" {
		kinds = nil
		for _, kind := range strings.Split(raw, ",") {
			kind = strings.TrimSpace(kind)
			if err := oneOf(kind, searchResourceTypes, "resource type"); err != nil {
				writeError(w, "searching resources", err)
				return
			}
			kinds = append(kinds, kind)
		}
	}

	results := make(map[string][]searchResult)
	err = s.db.Transaction(func(txn *gorm.DB) error {
		scope, member, err := dashboardScope(txn, user, teamId)
		if err != nil {
			return err
		}
		pattern := likePattern(query)
		for _, kind := range kinds {
			if !member {
				results[kind] = []searchResult{}
				continue
			}
			if results[kind], err = s.search(txn, scope, kind, pattern, limit); err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		writeError(w, "searching resources", err)
		return
	}

	utils.WriteJsonResponse(w, results)
}
