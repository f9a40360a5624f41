package auth

import (
	"errors"
	"fmt"
	"log/slog"

	"nodedash/device_manager/apperr"
	"nodedash/device_manager/schema"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials   = errors.New("Incorrect username or password")
	ErrInactiveUser         = errors.New("Inactive user")
	ErrEmailNotVerified     = errors.New("Email not verified. Please verify your email before logging in.")
	ErrGeneratingJwt        = errors.New("error generating jwt")
	ErrEmailAlreadyInUse    = apperr.New(apperr.Conflict, "A user with this email already exists")
	ErrUsernameAlreadyInUse = apperr.New(apperr.Conflict, "A user with this username already exists")
)

type IdentityProvider interface {
	AuthMiddleware() chi.Middlewares

	// Authenticate checks the credentials of an active, verified user. login
	// may be the username or the email.
	Authenticate(login, password string) (schema.User, error)

	IssueToken(userId uint, rememberMe bool) (string, error)

	CreateUser(username, email, password string) (schema.User, error)

	SetPassword(userId uint, password string) error
}

func addInitialAdminToDb(db *gorm.DB, username, email string, password []byte) error {
	user := schema.User{
		Username:      username,
		Email:         email,
		Password:      password,
		IsActive:      true,
		IsSuperuser:   true,
		EmailVerified: true,
	}

	err := db.Transaction(func(txn *gorm.DB) error {
		var existingUser schema.User
		result := txn.Limit(1).Find(&existingUser, "username = ? or email = ?", username, email)
		if result.Error != nil {
			slog.Error("sql error checking if admin has already been added", "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if result.RowsAffected == 0 {
			result := txn.Create(&user)
			if result.Error != nil {
				slog.Error("sql error creating initial admin user", "error", result.Error)
				return schema.ErrDbAccessFailed
			}
			slog.Info("created initial superuser", "username", username, "user_id", user.Id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error adding initial admin to db: %w", err)
	}

	return nil
}

type requestContextKey string

const (
	UserRequestContextKey requestContextKey = "user"
)
