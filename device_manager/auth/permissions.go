package auth

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"nodedash/utils"

	"gorm.io/gorm"
)

func SuperuserOnly() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			user, err := UserFromContext(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			if !user.IsSuperuser {
				http.Error(w, fmt.Sprintf("user %v is not a superuser", user.Id), http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(hfn)
	}
}

func TeamAdminOnly(db *gorm.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			teamId, err := utils.URLParamUint(r, "team_id")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			user, err := UserFromContext(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			isAdmin, err := IsTeamAdmin(teamId, user.Id, db)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			if !user.IsSuperuser && !isAdmin {
				http.Error(w, "user must be superuser or team admin to access endpoint", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(hfn)
	}
}

func TeamMemberOnly(db *gorm.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			teamId, err := utils.URLParamUint(r, "team_id")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			user, err := UserFromContext(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			isMember, err := IsMember(teamId, user.Id, db)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			if !user.IsSuperuser && !isMember {
				http.Error(w, "user must be team member to access endpoint", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(hfn)
	}
}

const MaintenanceKeyHeader = "X-API-Key"

// MaintenanceKeyOnly admits requests carrying the shared maintenance secret.
// User tokens are not consulted.
func MaintenanceKeyOnly(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(MaintenanceKeyHeader)
			if secret == "" || subtle.ConstantTimeCompare([]byte(key), []byte(secret)) != 1 {
				slog.Warn("rejected maintenance request", "client_ip", ClientIp(r), "url", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": "Invalid API key"})
				return
			}
			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(hfn)
	}
}
