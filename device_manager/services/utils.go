package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"nodedash/device_manager/apperr"
	"nodedash/device_manager/auth"
	"nodedash/device_manager/schema"
	"nodedash/utils"

	"gorm.io/gorm"
)

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(err error, code int) error {
	return &codedError{err: err, code: code}
}

// GetResponseCode translates an error into an http status. Explicitly coded
// errors win, then the apperr kind, then db failures.
func GetResponseCode(err error) int {
	var cerr *codedError
	if errors.As(err, &cerr) {
		return cerr.code
	}

	var aerr *apperr.Error
	if errors.As(err, &aerr) {
		return aerr.Kind().HTTPStatus()
	}

	if errors.Is(err, schema.ErrDbAccessFailed) {
		return http.StatusInternalServerError
	}

	slog.Error("non coded error passed to GetResponseCode", "error", err)
	return http.StatusInternalServerError
}

// ErrDuplicateResource is returned when a unique constraint rejects a write.
var ErrDuplicateResource = apperr.New(apperr.Conflict, "Resource already exists")

func dbError(msg string, err error, args ...interface{}) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		slog.Warn(msg, append(args, "error", err)...)
		return ErrDuplicateResource
	}
	slog.Error(msg, append(args, "error", err)...)
	return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
}

func checkTeamExists(txn *gorm.DB, teamId uint) error {
	if _, err := schema.GetTeam(teamId, txn); err != nil {
		if errors.Is(err, schema.ErrTeamNotFound) {
			return CodedError(err, http.StatusNotFound)
		}
		return CodedError(err, http.StatusInternalServerError)
	}
	return nil
}

func checkUserExists(txn *gorm.DB, userId uint) error {
	if _, err := schema.GetUser(userId, txn); err != nil {
		if errors.Is(err, schema.ErrUserNotFound) {
			return CodedError(err, http.StatusNotFound)
		}
		return CodedError(err, http.StatusInternalServerError)
	}
	return nil
}

func checkTeamMember(txn *gorm.DB, userId, teamId uint) error {
	if _, err := schema.GetUserTeam(teamId, userId, txn); err != nil {
		if errors.Is(err, schema.ErrUserTeamNotFound) {
			return CodedError(errors.New("user is not a member of team"), http.StatusNotFound)
		}
		return CodedError(err, http.StatusInternalServerError)
	}
	return nil
}

// requestUser loads the authenticated user and writes the error response if
// there is none.
func requestUser(w http.ResponseWriter, r *http.Request) (schema.User, bool) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return schema.User{}, false
	}
	return user, true
}

func urlId(w http.ResponseWriter, r *http.Request, key string) (uint, bool) {
	id, err := utils.URLParamUint(r, key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, action string, err error) {
	http.Error(w, fmt.Sprintf("error %v: %v", action, err), GetResponseCode(err))
}

// checkUniqueName fails with a conflict if another row of the table already
// uses the name. excludeId is the row being updated, or 0.
func checkUniqueName(txn *gorm.DB, table interface{}, resource, name string, excludeId uint) error {
	query := txn.Model(table).Where("name = ?", name)
	if excludeId != 0 {
		query = query.Where("id <> ?", excludeId)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return dbError("sql error checking for duplicate "+resource+" name", err)
	}
	if count > 0 {
		return apperr.Newf(apperr.Conflict, "%v with name '%v' already exists", capitalize(resource), name)
	}
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
