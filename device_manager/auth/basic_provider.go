package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"nodedash/device_manager/schema"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type BasicIdentityProvider struct {
	jwtManager *JwtManager
	db         *gorm.DB
	auditLog   AuditLogger

	tokenExpiry           time.Duration
	rememberMeTokenExpiry time.Duration
}

type BasicProviderArgs struct {
	Secret        []byte
	AdminUsername string
	AdminEmail    string
	AdminPassword string

	TokenExpiry           time.Duration
	RememberMeTokenExpiry time.Duration
}

func HashPassword(password string) ([]byte, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), 10)
	if err != nil {
		return nil, fmt.Errorf("error encrypting password: %w", err)
	}
	return hashed, nil
}

func NewBasicIdentityProvider(db *gorm.DB, auditLog AuditLogger, args BasicProviderArgs) (*BasicIdentityProvider, error) {
	if args.AdminUsername != "" {
		hashedPwd, err := HashPassword(args.AdminPassword)
		if err != nil {
			return nil, fmt.Errorf("error encrypting admin password: %w", err)
		}

		err = addInitialAdminToDb(db, args.AdminUsername, args.AdminEmail, hashedPwd)
		if err != nil {
			return nil, fmt.Errorf("error adding inital admin to db: %w", err)
		}
	}

	if args.TokenExpiry == 0 {
		args.TokenExpiry = 24 * time.Hour
	}
	if args.RememberMeTokenExpiry == 0 {
		args.RememberMeTokenExpiry = 30 * 24 * time.Hour
	}

	return &BasicIdentityProvider{
		jwtManager:            NewJwtManager(args.Secret),
		db:                    db,
		auditLog:              auditLog,
		tokenExpiry:           args.TokenExpiry,
		rememberMeTokenExpiry: args.RememberMeTokenExpiry,
	}, nil
}

func (auth *BasicIdentityProvider) addUserToContext() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := func(w http.ResponseWriter, r *http.Request) {
			userId, err := UserIdFromContext(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			user, err := schema.GetUser(userId, auth.db)
			if err != nil {
				if errors.Is(err, schema.ErrUserNotFound) {
					http.Error(w, err.Error(), http.StatusNotFound)
					return
				}
				http.Error(w, fmt.Sprintf("unable to find user %v: %v", userId, err), http.StatusInternalServerError)
				return
			}

			if !user.IsActive {
				http.Error(w, ErrInactiveUser.Error(), http.StatusUnauthorized)
				return
			}

			reqCtx := context.WithValue(r.Context(), UserRequestContextKey, user)
			next.ServeHTTP(w, r.WithContext(reqCtx))
		}

		return http.HandlerFunc(handler)
	}
}

func (auth *BasicIdentityProvider) AuthMiddleware() chi.Middlewares {
	return chi.Middlewares{auth.jwtManager.Verifier(), auth.jwtManager.Authenticator(), auth.addUserToContext(), auth.auditLog.Middleware}
}

func (auth *BasicIdentityProvider) Authenticate(login, password string) (schema.User, error) {
	var user schema.User
	result := auth.db.Limit(1).Find(&user, "username = ? or email = ?", login, login)
	if result.Error != nil {
		slog.Error("sql error looking up user for login", "error", result.Error)
		return schema.User{}, schema.ErrDbAccessFailed
	}
	if result.RowsAffected == 0 {
		return schema.User{}, ErrInvalidCredentials
	}

	err := bcrypt.CompareHashAndPassword(user.Password, []byte(password))
	if err != nil {
		return schema.User{}, ErrInvalidCredentials
	}

	if !user.IsActive {
		return schema.User{}, ErrInactiveUser
	}
	if !user.EmailVerified {
		return schema.User{}, ErrEmailNotVerified
	}

	return user, nil
}

func (auth *BasicIdentityProvider) IssueToken(userId uint, rememberMe bool) (string, error) {
	exp := auth.tokenExpiry
	if rememberMe {
		exp = auth.rememberMeTokenExpiry
	}
	token, err := auth.jwtManager.CreateUserJwt(userId, exp)
	if err != nil {
		return "", ErrGeneratingJwt
	}
	return token, nil
}

func (auth *BasicIdentityProvider) CreateUser(username, email, password string) (schema.User, error) {
	hashedPwd, err := HashPassword(password)
	if err != nil {
		return schema.User{}, err
	}

	newUser := schema.User{Username: username, Email: email, Password: hashedPwd, IsActive: true}

	err = auth.db.Transaction(func(txn *gorm.DB) error {
		var existingUser schema.User
		result := txn.Limit(1).Find(&existingUser, "username = ? or email = ?", username, email)
		if result.Error != nil {
			slog.Error("sql error checking for existing username/email", "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if result.RowsAffected != 0 {
			if existingUser.Email == email {
				return ErrEmailAlreadyInUse
			}
			return ErrUsernameAlreadyInUse
		}

		result = txn.Create(&newUser)
		if result.Error != nil {
			slog.Error("sql error creating new user entry", "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		return nil
	})

	if err != nil {
		return schema.User{}, fmt.Errorf("error creating new user: %w", err)
	}

	return newUser, nil
}

func (auth *BasicIdentityProvider) SetPassword(userId uint, password string) error {
	hashedPwd, err := HashPassword(password)
	if err != nil {
		return err
	}

	result := auth.db.Model(&schema.User{Id: userId}).Update("password", hashedPwd)
	if result.Error != nil {
		slog.Error("sql error updating password", "user_id", userId, "error", result.Error)
		return schema.ErrDbAccessFailed
	}
	if result.RowsAffected == 0 {
		return schema.ErrUserNotFound
	}
	return nil
}
