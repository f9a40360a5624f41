package services

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"nodedash/device_manager/apperr"
	"nodedash/device_manager/auth"
	"nodedash/device_manager/schema"
	"nodedash/utils"
	"nodedash/utils/logging"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

var (
	ErrLastTeamMember    = apperr.New(apperr.Conflict, "Cannot remove the last member of the team. Please delete the team instead.")
	ErrLastTeamAdmin     = apperr.New(apperr.Conflict, "Cannot remove the last admin of the team. Make another member an admin first.")
	ErrTeamOwnsResources = apperr.New(apperr.Conflict, "Cannot delete a team that still owns resources. Delete or transfer them first.")
)

type TeamService struct {
	db       *gorm.DB
	userAuth auth.IdentityProvider
}

func (s *TeamService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.userAuth.AuthMiddleware()...)

	r.Post("/", s.CreateTeam)
	r.Get("/", s.List)

	r.Route("/{team_id}", func(r chi.Router) {
		r.Delete("/", s.DeleteTeam)

		r.Group(func(r chi.Router) {
			r.Use(auth.TeamMemberOnly(s.db))

			r.Get("/", s.GetTeam)
			r.Put("/", s.RenameTeam)

			r.Post("/members/{email}", s.AddMember)
			r.Delete("/members/{user_id}", s.RemoveMember)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.TeamAdminOnly(s.db))

			r.Post("/admins/{user_id}", s.AddTeamAdmin)
			r.Delete("/admins/{user_id}", s.RemoveTeamAdmin)
		})
	})

	return r
}

type teamRequest struct {
	Name string `json:"name"`
}

type teamInfo struct {
	Id        uint      `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type teamMemberInfo struct {
	UserId      uint   `json:"user_id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	IsTeamAdmin bool   `json:"is_team_admin"`
}

type teamDetails struct {
	teamInfo
	Members []teamMemberInfo `json:"members"`
}

func newTeamInfo(team schema.Team) teamInfo {
	return teamInfo{Id: team.Id, Name: team.Name, CreatedAt: team.CreatedAt}
}

func validTeamName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", CodedError(errors.New("Team name must be specified"), http.StatusBadRequest)
	}
	return name, nil
}

func (s *TeamService) CreateTeam(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}

	var params teamRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	name, err := validTeamName(params.Name)
	if err != nil {
		writeError(w, "creating team", err)
		return
	}

	newTeam := schema.Team{Name: name}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkUniqueName(txn, &schema.Team{}, "team", name, 0); err != nil {
			return err
		}

		if err := txn.Create(&newTeam).Error; err != nil {
			return dbError("sql error creating new team", err)
		}

		creator := schema.UserTeam{UserId: user.Id, TeamId: newTeam.Id, IsTeamAdmin: true}
		if err := txn.Create(&creator).Error; err != nil {
			return dbError("sql error adding team creator", err, "team_id", newTeam.Id)
		}

		return nil
	})

	if err != nil {
		writeError(w, "creating team", err)
		return
	}

	slog.Info("team created", logging.Code(logging.TEAM_MEMBERSHIP), "team_id", newTeam.Id, "user_id", user.Id)
	utils.WriteJsonStatus(w, http.StatusCreated, newTeamInfo(newTeam))
}

func (s *TeamService) List(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}

	var teams []schema.Team
	query := s.db.Order("id")
	if !user.IsSuperuser {
		query = query.Where("id IN (?)", s.db.Model(&schema.UserTeam{}).Select("team_id").Where("user_id = ?", user.Id))
	}

	if result := query.Find(&teams); result.Error != nil {
		slog.Error("sql error listing teams", "error", result.Error)
		http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
		return
	}

	infos := make([]teamInfo, 0, len(teams))
	for _, team := range teams {
		infos = append(infos, newTeamInfo(team))
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *TeamService) GetTeam(w http.ResponseWriter, r *http.Request) {
	teamId, ok := urlId(w, r, "team_id")
	if !ok {
		return
	}

	var details teamDetails
	err := s.db.Transaction(func(txn *gorm.DB) error {
		team, err := schema.GetTeam(teamId, txn)
		if err != nil {
			return err
		}
		details.teamInfo = newTeamInfo(team)

		var members []schema.UserTeam
		if err := txn.Preload("User").Where("team_id = ?", teamId).Order("user_id").Find(&members).Error; err != nil {
			return dbError("sql error listing team members", err, "team_id", teamId)
		}

		details.Members = make([]teamMemberInfo, 0, len(members))
		for _, m := range members {
			info := teamMemberInfo{UserId: m.UserId, IsTeamAdmin: m.IsTeamAdmin}
			if m.User != nil {
				info.Username = m.User.Username
				info.Email = m.User.Email
			}
			details.Members = append(details.Members, info)
		}
		return nil
	})

	if err != nil {
		writeError(w, "retrieving team", err)
		return
	}

	utils.WriteJsonResponse(w, details)
}

func (s *TeamService) RenameTeam(w http.ResponseWriter, r *http.Request) {
	teamId, ok := urlId(w, r, "team_id")
	if !ok {
		return
	}

	var params teamRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	name, err := validTeamName(params.Name)
	if err != nil {
		writeError(w, "updating team", err)
		return
	}

	var team schema.Team
	err = s.db.Transaction(func(txn *gorm.DB) error {
		var err error
		team, err = schema.GetTeam(teamId, txn)
		if err != nil {
			return err
		}

		if err := checkUniqueName(txn, &schema.Team{}, "team", name, teamId); err != nil {
			return err
		}

		team.Name = name
		if err := txn.Save(&team).Error; err != nil {
			return dbError("sql error renaming team", err, "team_id", teamId)
		}
		return nil
	})

	if err != nil {
		writeError(w, "updating team", err)
		return
	}

	utils.WriteJsonResponse(w, newTeamInfo(team))
}

// DeleteTeam checks that the team exists, that the actor may delete it and
// that it owns nothing, in that order. Any failed check leaves the team as is.
func (s *TeamService) DeleteTeam(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	teamId, ok := urlId(w, r, "team_id")
	if !ok {
		return
	}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkTeamExists(txn, teamId); err != nil {
			return err
		}

		if !user.IsSuperuser {
			isAdmin, err := auth.IsTeamAdmin(teamId, user.Id, txn)
			if err != nil {
				return err
			}
			if !isAdmin {
				return apperr.New(apperr.Forbidden, "Only superusers or team admins can delete a team")
			}
		}

		owns, err := schema.OwnsAnyResource(schema.TeamOwner(teamId), txn)
		if err != nil {
			return err
		}
		if owns {
			return ErrTeamOwnsResources
		}

		if err := txn.Where("team_id = ?", teamId).Delete(&schema.UserTeam{}).Error; err != nil {
			return dbError("sql error deleting team members", err, "team_id", teamId)
		}

		if err := txn.Delete(&schema.Team{Id: teamId}).Error; err != nil {
			return dbError("sql error deleting team", err, "team_id", teamId)
		}

		return nil
	})

	if err != nil {
		writeError(w, "deleting team", err)
		return
	}

	slog.Info("team deleted", logging.Code(logging.TEAM_MEMBERSHIP), "team_id", teamId, "user_id", user.Id)
	utils.WriteSuccess(w)
}

func (s *TeamService) AddMember(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	teamId, ok := urlId(w, r, "team_id")
	if !ok {
		return
	}
	email, err := utils.URLParam(r, "email")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var member schema.User
	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkTeamExists(txn, teamId); err != nil {
			return err
		}

		var err error
		member, err = schema.GetUserByEmail(email, txn)
		if err != nil {
			return err
		}

		if member.Id == user.Id {
			return apperr.New(apperr.Conflict, "You are already a member of this team")
		}

		isMember, err := auth.IsMember(teamId, member.Id, txn)
		if err != nil {
			return err
		}
		if isMember {
			return apperr.Newf(apperr.Conflict, "User %v is already a member of this team", email)
		}

		if err := txn.Create(&schema.UserTeam{UserId: member.Id, TeamId: teamId}).Error; err != nil {
			return dbError("sql error creating new user_team entry", err, "team_id", teamId)
		}
		return nil
	})

	if err != nil {
		writeError(w, "adding user to team", err)
		return
	}

	slog.Info("team member added", logging.Code(logging.TEAM_MEMBERSHIP), "team_id", teamId, "user_id", member.Id, "by", user.Id)
	utils.WriteJsonResponse(w, teamMemberInfo{UserId: member.Id, Username: member.Username, Email: member.Email})
}

func (s *TeamService) RemoveMember(w http.ResponseWriter, r *http.Request) {
	teamId, ok := urlId(w, r, "team_id")
	if !ok {
		return
	}
	userId, ok := urlId(w, r, "user_id")
	if !ok {
		return
	}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkTeamExists(txn, teamId); err != nil {
			return err
		}

		if err := checkTeamMember(txn, userId, teamId); err != nil {
			return err
		}

		count, err := schema.CountTeamMembers(teamId, txn)
		if err != nil {
			return err
		}
		if count <= 1 {
			return ErrLastTeamMember
		}

		if err := checkNotLastAdmin(txn, teamId, userId); err != nil {
			return err
		}

		result := txn.Where("team_id = ? AND user_id = ?", teamId, userId).Delete(&schema.UserTeam{})
		if result.Error != nil {
			return dbError("sql error removing user from team", result.Error, "team_id", teamId, "user_id", userId)
		}
		return nil
	})

	if err != nil {
		writeError(w, "removing user from team", err)
		return
	}

	slog.Info("team member removed", logging.Code(logging.TEAM_MEMBERSHIP), "team_id", teamId, "user_id", userId)
	utils.WriteSuccess(w)
}

func (s *TeamService) setTeamAdmin(w http.ResponseWriter, r *http.Request, isAdmin bool) {
	teamId, ok := urlId(w, r, "team_id")
	if !ok {
		return
	}
	userId, ok := urlId(w, r, "user_id")
	if !ok {
		return
	}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkTeamExists(txn, teamId); err != nil {
			return err
		}

		if err := checkTeamMember(txn, userId, teamId); err != nil {
			return err
		}

		if !isAdmin {
			if err := checkNotLastAdmin(txn, teamId, userId); err != nil {
				return err
			}
		}

		result := txn.Model(&schema.UserTeam{}).
			Where("team_id = ? AND user_id = ?", teamId, userId).
			Update("is_team_admin", isAdmin)
		if result.Error != nil {
			return dbError("sql error updating team admin", result.Error, "team_id", teamId, "user_id", userId)
		}
		return nil
	})

	if err != nil {
		writeError(w, "updating team admin", err)
		return
	}

	utils.WriteSuccess(w)
}

// checkNotLastAdmin fails when userId is the only admin left in the team.
func checkNotLastAdmin(txn *gorm.DB, teamId, userId uint) error {
	isAdmin, err := auth.IsTeamAdmin(teamId, userId, txn)
	if err != nil || !isAdmin {
		return err
	}
	admins, err := schema.CountTeamAdmins(teamId, txn)
	if err != nil {
		return err
	}
	if admins <= 1 {
		return ErrLastTeamAdmin
	}
	return nil
}

func (s *TeamService) AddTeamAdmin(w http.ResponseWriter, r *http.Request) {
	s.setTeamAdmin(w, r, true)
}

func (s *TeamService) RemoveTeamAdmin(w http.ResponseWriter, r *http.Request) {
	s.setTeamAdmin(w, r, false)
}
