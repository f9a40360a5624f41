package services

import (
	"log/slog"
	"net/http"

	"nodedash/device_manager/apperr"
	"nodedash/device_manager/auth"
	"nodedash/device_manager/schema"
	"nodedash/utils"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type UserService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *UserService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)
	r.Use(auth.SuperuserOnly())

	r.Get("/list", s.List)

	r.Route("/{user_id}", func(r chi.Router) {
		r.Delete("/", s.DeleteUser)

		r.Post("/superuser", s.PromoteSuperuser)
		r.Delete("/superuser", s.DemoteSuperuser)
	})

	return r
}

func (s *UserService) List(w http.ResponseWriter, r *http.Request) {
	params, err := parseListParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var users []schema.User
	result := s.db.Order("id").Offset(params.skip).Limit(params.limit).Find(&users)
	if result.Error != nil {
		slog.Error("sql error listing users", "error", result.Error)
		http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
		return
	}

	infos := make([]userInfo, 0, len(users))
	for _, user := range users {
		infos = append(infos, newUserInfo(user))
	}

	utils.WriteJsonResponse(w, infos)
}

// DeleteUser refuses to orphan resources or leave a team without members.
func (s *UserService) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userId, ok := urlId(w, r, "user_id")
	if !ok {
		return
	}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkUserExists(txn, userId); err != nil {
			return err
		}

		owns, err := schema.OwnsAnyResource(schema.UserOwner(userId), txn)
		if err != nil {
			return err
		}
		if owns {
			return apperr.New(apperr.Conflict, "Cannot delete a user that still owns resources")
		}

		teamIds, err := schema.GetUserTeamIds(userId, txn)
		if err != nil {
			return err
		}
		for _, teamId := range teamIds {
			count, err := schema.CountTeamMembers(teamId, txn)
			if err != nil {
				return err
			}
			if count <= 1 {
				return apperr.Newf(apperr.Conflict, "Cannot delete the last member of team %d", teamId)
			}
			if err := checkNotLastAdmin(txn, teamId, userId); err != nil {
				return err
			}
		}

		if err := txn.Where("user_id = ?", userId).Delete(&schema.UserTeam{}).Error; err != nil {
			return dbError("sql error deleting user teams", err, "user_id", userId)
		}

		if err := txn.Delete(&schema.User{Id: userId}).Error; err != nil {
			return dbError("sql error deleting user", err, "user_id", userId)
		}

		return nil
	})

	if err != nil {
		writeError(w, "deleting user", err)
		return
	}

	utils.WriteSuccess(w)
}

func (s *UserService) setSuperuser(w http.ResponseWriter, r *http.Request, isSuperuser bool) {
	userId, ok := urlId(w, r, "user_id")
	if !ok {
		return
	}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkUserExists(txn, userId); err != nil {
			return err
		}

		result := txn.Model(&schema.User{Id: userId}).Update("is_superuser", isSuperuser)
		if result.Error != nil {
			return dbError("sql error updating superuser status", result.Error, "user_id", userId)
		}
		return nil
	})

	if err != nil {
		writeError(w, "updating superuser status", err)
		return
	}

	utils.WriteSuccess(w)
}

func (s *UserService) PromoteSuperuser(w http.ResponseWriter, r *http.Request) {
	s.setSuperuser(w, r, true)
}

func (s *UserService) DemoteSuperuser(w http.ResponseWriter, r *http.Request) {
	s.setSuperuser(w, r, false)
}
