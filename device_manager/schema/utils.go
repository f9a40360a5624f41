package schema

import (
	"errors"
	"log/slog"

	"nodedash/device_manager/apperr"

	"gorm.io/gorm"
)

var (
	ErrUserNotFound        = apperr.New(apperr.NotFound, "user not found")
	ErrTeamNotFound        = apperr.New(apperr.NotFound, "team not found")
	ErrUserTeamNotFound    = apperr.New(apperr.NotFound, "user team relationship not found")
	ErrDeviceNotFound      = apperr.New(apperr.NotFound, "device not found")
	ErrFlowNotFound        = apperr.New(apperr.NotFound, "flow not found")
	ErrFunctionNotFound    = apperr.New(apperr.NotFound, "function not found")
	ErrIntegrationNotFound = apperr.New(apperr.NotFound, "integration not found")
	ErrLabelNotFound       = apperr.New(apperr.NotFound, "label not found")
	ErrProviderNotFound    = apperr.New(apperr.NotFound, "provider not found")
	ErrHistoryNotFound     = apperr.New(apperr.NotFound, "history entry not found")
	ErrDbAccessFailed      = errors.New("db access failed")
)

func getById[T any](id uint, db *gorm.DB, notFound error, table string) (T, error) {
	var row T

	result := db.First(&row, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return row, notFound
		}
		slog.Error("sql error in get "+table, "id", id, "error", result.Error)
		return row, ErrDbAccessFailed
	}

	return row, nil
}

func GetUser(userId uint, db *gorm.DB) (User, error) {
	return getById[User](userId, db, ErrUserNotFound, "user")
}

func GetUserByEmail(email string, db *gorm.DB) (User, error) {
	var user User

	result := db.First(&user, "email = ?", email)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return user, ErrUserNotFound
		}
		slog.Error("sql error in get user by email", "error", result.Error)
		return user, ErrDbAccessFailed
	}

	return user, nil
}

func GetTeam(teamId uint, db *gorm.DB) (Team, error) {
	return getById[Team](teamId, db, ErrTeamNotFound, "team")
}

func GetDevice(deviceId uint, db *gorm.DB, loadLabels bool) (Device, error) {
	if loadLabels {
		db = db.Preload("Labels")
	}
	return getById[Device](deviceId, db, ErrDeviceNotFound, "device")
}

func GetFlow(flowId uint, db *gorm.DB) (Flow, error) {
	return getById[Flow](flowId, db, ErrFlowNotFound, "flow")
}

func GetFunction(functionId uint, db *gorm.DB) (Function, error) {
	return getById[Function](functionId, db, ErrFunctionNotFound, "function")
}

func GetIntegration(integrationId uint, db *gorm.DB) (Integration, error) {
	return getById[Integration](integrationId, db, ErrIntegrationNotFound, "integration")
}

func GetLabel(labelId uint, db *gorm.DB, loadDevices bool) (Label, error) {
	if loadDevices {
		db = db.Preload("Devices")
	}
	return getById[Label](labelId, db, ErrLabelNotFound, "label")
}

func GetProvider(providerId uint, db *gorm.DB) (Provider, error) {
	return getById[Provider](providerId, db, ErrProviderNotFound, "provider")
}

func GetUserTeamIds(userId uint, db *gorm.DB) ([]uint, error) {
	var teams []UserTeam
	result := db.Find(&teams, "user_id = ?", userId)
	if result.Error != nil {
		slog.Error("sql error in get user team ids", "user_id", userId, "error", result.Error)
		return nil, ErrDbAccessFailed
	}
	ids := make([]uint, 0, len(teams))
	for _, team := range teams {
		ids = append(ids, team.TeamId)
	}
	return ids, nil
}

func GetUserTeam(teamId, userId uint, db *gorm.DB) (UserTeam, error) {
	var team UserTeam
	result := db.First(&team, "team_id = ? and user_id = ?", teamId, userId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return team, ErrUserTeamNotFound
		}
		slog.Error("sql error in get user team", "team_id", teamId, "user_id", userId, "error", result.Error)
		return team, ErrDbAccessFailed
	}

	return team, nil
}

func CountTeamMembers(teamId uint, db *gorm.DB) (int64, error) {
	var count int64
	result := db.Model(&UserTeam{}).Where("team_id = ?", teamId).Count(&count)
	if result.Error != nil {
		slog.Error("sql error counting team members", "team_id", teamId, "error", result.Error)
		return 0, ErrDbAccessFailed
	}
	return count, nil
}

func CountTeamAdmins(teamId uint, db *gorm.DB) (int64, error) {
	var count int64
	result := db.Model(&UserTeam{}).Where("team_id = ? AND is_team_admin = ?", teamId, true).Count(&count)
	if result.Error != nil {
		slog.Error("sql error counting team admins", "team_id", teamId, "error", result.Error)
		return 0, ErrDbAccessFailed
	}
	return count, nil
}

// OwnedTables are the tables whose rows carry an Ownership.
func OwnedTables() []interface{} {
	return []interface{}{&Device{}, &Flow{}, &Function{}, &Integration{}, &Label{}, &Provider{}}
}

func OwnsAnyResource(owner Ownership, db *gorm.DB) (bool, error) {
	for _, table := range OwnedTables() {
		var count int64
		result := db.Model(table).
			Where("owner_type = ? AND owner_id = ?", owner.OwnerType, owner.OwnerId).
			Limit(1).
			Count(&count)
		if result.Error != nil {
			slog.Error("sql error checking owned resources", "owner_type", owner.OwnerType, "owner_id", owner.OwnerId, "error", result.Error)
			return false, ErrDbAccessFailed
		}
		if count > 0 {
			return true, nil
		}
	}
	return false, nil
}
