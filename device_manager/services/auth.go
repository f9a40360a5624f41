package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nodedash/device_manager/auth"
	"nodedash/device_manager/kvstore"
	"nodedash/device_manager/notify"
	"nodedash/device_manager/schema"
	"nodedash/utils"
	"nodedash/utils/logging"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

const mfaLoginPurpose = "mfa_login"

var errInvalidCode = errors.New("Invalid or expired verification code")

const (
	resetRequestedMessage = "If your email is registered, you will receive a reset code"
	resendMessage         = "If your email is registered and not verified, you will receive a verification code"
)

type AuthService struct {
	db        *gorm.DB
	userAuth  auth.IdentityProvider
	kv        kvstore.Store
	notifier  notify.Notifier
	mfaSigner *auth.ActionSigner
	variables Variables
}

func (s *AuthService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Post("/register", s.Register)
		r.Post("/login", s.Login)
		r.Post("/request-password-reset", s.RequestPasswordReset)
		r.Post("/reset-password", s.ResetPassword)
		r.Post("/verify-email", s.VerifyEmail)
		r.Post("/resend-verification-email", s.ResendVerificationEmail)
		r.Post("/mfa/verify-login", s.MfaVerifyLogin)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)

		r.Get("/verify", s.Verify)

		r.Post("/mfa/setup", s.MfaSetup)
		r.Post("/mfa/verify", s.MfaEnable)
		r.Post("/mfa/disable", s.MfaDisable)
		r.Get("/mfa/status", s.MfaStatus)
	})

	return r
}

type userInfo struct {
	Id            uint      `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	IsActive      bool      `json:"is_active"`
	IsSuperuser   bool      `json:"is_superuser"`
	EmailVerified bool      `json:"email_verified"`
	MfaEnabled    bool      `json:"mfa_enabled"`
	CreatedAt     time.Time `json:"created_at"`
}

func newUserInfo(user schema.User) userInfo {
	return userInfo{
		Id:            user.Id,
		Username:      user.Username,
		Email:         user.Email,
		IsActive:      user.IsActive,
		IsSuperuser:   user.IsSuperuser,
		EmailVerified: user.EmailVerified,
		MfaEnabled:    user.MfaEnabled,
		CreatedAt:     user.CreatedAt,
	}
}

// rateLimited counts a hit against key and writes a 429 if the limit is
// exceeded.
func (s *AuthService) rateLimited(w http.ResponseWriter, r *http.Request, name string, limit int) bool {
	key := kvstore.RateLimitPrefix + name + ":" + auth.ClientIp(r)
	decision := s.kv.Allow(r.Context(), key, limit, s.variables.RateLimitWindow)
	if decision.Allowed {
		return false
	}

	retryAfter := int(time.Until(decision.WindowEnd).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	slog.Warn("rate limit exceeded", logging.Code(logging.AUTH_LOGIN), "endpoint", name, "client_ip", auth.ClientIp(r))
	http.Error(w, "Too many requests, please try again later", http.StatusTooManyRequests)
	return true
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *AuthService) Register(w http.ResponseWriter, r *http.Request) {
	var params registerRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	params.Email = strings.TrimSpace(params.Email)
	params.Username = strings.TrimSpace(params.Username)
	if params.Username == "" || params.Email == "" || params.Password == "" {
		http.Error(w, "username, email, and password must be specified", http.StatusBadRequest)
		return
	}
	if !strings.Contains(params.Email, "@") {
		http.Error(w, fmt.Sprintf("invalid email '%v'", params.Email), http.StatusBadRequest)
		return
	}

	user, err := s.userAuth.CreateUser(params.Username, params.Email, params.Password)
	if err != nil {
		writeError(w, "registering user", err)
		return
	}

	code, err := kvstore.IssueCode(r.Context(), s.kv, kvstore.EmailVerificationPrefix, user.Email, kvstore.EmailVerificationTTL)
	if err != nil {
		slog.Error("error issuing email verification code", logging.Code(logging.AUTH_CODES), "user_id", user.Id, "error", err)
	} else {
		notify.SendEmailVerification(r.Context(), s.notifier, user.Email, code, s.variables.WebsiteAddress)
	}

	utils.WriteJsonStatus(w, http.StatusCreated, newUserInfo(user))
}

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type loginResponse struct {
	AccessToken string `json:"access_token,omitempty"`
	TokenType   string `json:"token_type,omitempty"`
	MfaRequired bool   `json:"mfa_required"`
	SessionId   string `json:"session_id,omitempty"`
	Email       string `json:"email,omitempty"`
}

func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	if s.rateLimited(w, r, "login", s.variables.LoginRateLimit) {
		return
	}

	var params loginRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	user, err := s.userAuth.Authenticate(strings.TrimSpace(params.Username), params.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInactiveUser), errors.Is(err, auth.ErrEmailNotVerified):
			loginMetric.WithLabelValues("rejected").Inc()
			slog.Info("login rejected", logging.Code(logging.AUTH_LOGIN), "client_ip", auth.ClientIp(r), "reason", err)
			http.Error(w, err.Error(), http.StatusUnauthorized)
		default:
			writeError(w, "logging in", err)
		}
		return
	}

	if user.MfaEnabled {
		sessionId, err := kvstore.CreateMfaSession(r.Context(), s.kv, kvstore.MfaSession{
			UserId: user.Id, Email: user.Email, RememberMe: params.RememberMe,
		})
		if err != nil {
			slog.Error("error creating mfa session", logging.Code(logging.AUTH_MFA), "user_id", user.Id, "error", err)
			http.Error(w, "error starting mfa login", http.StatusInternalServerError)
			return
		}

		token, err := s.mfaSigner.Sign(mfaLoginPurpose, sessionId, kvstore.MfaSessionTTL)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		loginMetric.WithLabelValues("mfa_required").Inc()
		utils.WriteJsonResponse(w, loginResponse{MfaRequired: true, SessionId: token, Email: user.Email})
		return
	}

	token, err := s.userAuth.IssueToken(user.Id, params.RememberMe)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	loginMetric.WithLabelValues("success").Inc()
	utils.WriteJsonResponse(w, loginResponse{AccessToken: token, TokenType: "bearer"})
}

type mfaLoginRequest struct {
	SessionId string `json:"session_id"`
	MfaCode   string `json:"mfa_code"`
}

func (s *AuthService) MfaVerifyLogin(w http.ResponseWriter, r *http.Request) {
	if s.rateLimited(w, r, "mfa_login", s.variables.LoginRateLimit) {
		return
	}

	var params mfaLoginRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	sessionId, err := s.mfaSigner.Verify(params.SessionId, mfaLoginPurpose)
	if err != nil {
		http.Error(w, "Invalid or expired MFA session", http.StatusUnauthorized)
		return
	}

	session, err := kvstore.GetMfaSession(r.Context(), s.kv, sessionId)
	if err != nil {
		slog.Error("error loading mfa session", logging.Code(logging.AUTH_MFA), "error", err)
		http.Error(w, "error loading mfa session", http.StatusInternalServerError)
		return
	}
	if session == nil {
		http.Error(w, "Invalid or expired MFA session", http.StatusUnauthorized)
		return
	}

	user, err := schema.GetUser(session.UserId, s.db)
	if err != nil {
		if errors.Is(err, schema.ErrUserNotFound) {
			http.Error(w, "Invalid or expired MFA session", http.StatusUnauthorized)
			return
		}
		writeError(w, "verifying mfa login", err)
		return
	}

	if !user.IsActive {
		http.Error(w, auth.ErrInactiveUser.Error(), http.StatusUnauthorized)
		return
	}

	if !user.MfaEnabled || !auth.ValidateTotp(params.MfaCode, user.MfaSecret) {
		slog.Info("invalid mfa code", logging.Code(logging.AUTH_MFA), "user_id", user.Id)
		http.Error(w, "Invalid MFA code", http.StatusUnauthorized)
		return
	}

	if err := kvstore.ClearMfaSession(r.Context(), s.kv, sessionId); err != nil {
		slog.Error("error clearing mfa session", logging.Code(logging.AUTH_MFA), "error", err)
	}

	token, err := s.userAuth.IssueToken(user.Id, session.RememberMe)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	loginMetric.WithLabelValues("success").Inc()
	utils.WriteJsonResponse(w, loginResponse{AccessToken: token, TokenType: "bearer"})
}

func (s *AuthService) Verify(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	utils.WriteJsonResponse(w, newUserInfo(user))
}

type emailRequest struct {
	Email string `json:"email"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// lookupEmail returns nil if no user has the email.
func (s *AuthService) lookupEmail(email string) (*schema.User, error) {
	user, err := schema.GetUserByEmail(strings.TrimSpace(email), s.db)
	if err != nil {
		if errors.Is(err, schema.ErrUserNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (s *AuthService) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	if s.rateLimited(w, r, "password_reset", s.variables.ResetRateLimit) {
		return
	}

	var params emailRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	user, err := s.lookupEmail(params.Email)
	if err != nil {
		writeError(w, "requesting password reset", err)
		return
	}

	if user != nil && user.IsActive {
		code, err := kvstore.IssueCode(r.Context(), s.kv, kvstore.PasswordResetPrefix, user.Email, kvstore.PasswordResetTTL)
		if err != nil {
			slog.Error("error issuing password reset code", logging.Code(logging.AUTH_CODES), "user_id", user.Id, "error", err)
		} else {
			notify.SendPasswordReset(r.Context(), s.notifier, user.Email, code, s.variables.WebsiteAddress)
		}
	}

	utils.WriteJsonResponse(w, statusResponse{Status: "success", Message: resetRequestedMessage})
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

func (s *AuthService) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var params resetPasswordRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.NewPassword == "" {
		http.Error(w, "new_password must be specified", http.StatusBadRequest)
		return
	}

	user, err := s.lookupEmail(params.Email)
	if err != nil {
		writeError(w, "resetting password", err)
		return
	}

	if user == nil || !kvstore.ConsumeCode(r.Context(), s.kv, kvstore.PasswordResetPrefix, user.Email, params.Code) {
		http.Error(w, errInvalidCode.Error(), http.StatusBadRequest)
		return
	}

	if err := s.userAuth.SetPassword(user.Id, params.NewPassword); err != nil {
		writeError(w, "resetting password", err)
		return
	}

	slog.Info("password reset", logging.Code(logging.AUTH_CODES), "user_id", user.Id)
	utils.WriteJsonResponse(w, statusResponse{Status: "success", Message: "Password has been reset successfully"})
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type verifyEmailResponse struct {
	Verified bool   `json:"verified"`
	Message  string `json:"message"`
}

func (s *AuthService) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var params verifyEmailRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	user, err := s.lookupEmail(params.Email)
	if err != nil {
		writeError(w, "verifying email", err)
		return
	}

	// Unknown and already verified accounts have no pending code, so they get
	// the same answer as a wrong code.
	if user == nil || user.EmailVerified {
		http.Error(w, errInvalidCode.Error(), http.StatusBadRequest)
		return
	}

	if !kvstore.ConsumeCode(r.Context(), s.kv, kvstore.EmailVerificationPrefix, user.Email, params.Code) {
		http.Error(w, errInvalidCode.Error(), http.StatusBadRequest)
		return
	}

	result := s.db.Model(user).Update("email_verified", true)
	if result.Error != nil {
		slog.Error("sql error marking email verified", "user_id", user.Id, "error", result.Error)
		http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, verifyEmailResponse{Verified: true, Message: "Email verified successfully"})
}

func (s *AuthService) ResendVerificationEmail(w http.ResponseWriter, r *http.Request) {
	if s.rateLimited(w, r, "resend_verification", s.variables.ResetRateLimit) {
		return
	}

	var params emailRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	user, err := s.lookupEmail(params.Email)
	if err != nil {
		writeError(w, "resending verification email", err)
		return
	}

	if user != nil && !user.EmailVerified {
		code, err := kvstore.IssueCode(r.Context(), s.kv, kvstore.EmailVerificationPrefix, user.Email, kvstore.EmailVerificationTTL)
		if err != nil {
			slog.Error("error issuing email verification code", logging.Code(logging.AUTH_CODES), "user_id", user.Id, "error", err)
		} else {
			notify.SendEmailVerification(r.Context(), s.notifier, user.Email, code, s.variables.WebsiteAddress)
		}
	}

	utils.WriteJsonResponse(w, statusResponse{Status: "success", Message: resendMessage})
}

func (s *AuthService) MfaSetup(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}

	if user.MfaEnabled {
		http.Error(w, "MFA is already enabled", http.StatusBadRequest)
		return
	}

	setup, err := auth.NewMfaSetup(s.variables.ProjectName, user.Email)
	if err != nil {
		slog.Error("error generating mfa secret", logging.Code(logging.AUTH_MFA), "user_id", user.Id, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	result := s.db.Model(&user).Updates(map[string]interface{}{"mfa_secret": setup.Secret, "mfa_enabled": false})
	if result.Error != nil {
		slog.Error("sql error storing mfa secret", "user_id", user.Id, "error", result.Error)
		http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, setup)
}

type mfaCodeRequest struct {
	Code string `json:"code"`
}

func (s *AuthService) MfaEnable(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}

	var params mfaCodeRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if user.MfaSecret == "" {
		http.Error(w, "MFA setup has not been started", http.StatusBadRequest)
		return
	}

	if !auth.ValidateTotp(params.Code, user.MfaSecret) {
		http.Error(w, "Invalid MFA code", http.StatusBadRequest)
		return
	}

	result := s.db.Model(&user).Update("mfa_enabled", true)
	if result.Error != nil {
		slog.Error("sql error enabling mfa", "user_id", user.Id, "error", result.Error)
		http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
		return
	}

	slog.Info("mfa enabled", logging.Code(logging.AUTH_MFA), "user_id", user.Id)
	utils.WriteJsonResponse(w, map[string]bool{"mfa_enabled": true})
}

func (s *AuthService) MfaDisable(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}

	var params mfaCodeRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if !user.MfaEnabled {
		http.Error(w, "MFA is not enabled", http.StatusBadRequest)
		return
	}

	if !auth.ValidateTotp(params.Code, user.MfaSecret) {
		http.Error(w, "Invalid MFA code", http.StatusBadRequest)
		return
	}

	result := s.db.Model(&user).Updates(map[string]interface{}{"mfa_secret": "", "mfa_enabled": false})
	if result.Error != nil {
		slog.Error("sql error disabling mfa", "user_id", user.Id, "error", result.Error)
		http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
		return
	}

	slog.Info("mfa disabled", logging.Code(logging.AUTH_MFA), "user_id", user.Id)
	utils.WriteJsonResponse(w, map[string]bool{"mfa_enabled": false})
}

func (s *AuthService) MfaStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := requestUser(w, r)
	if !ok {
		return
	}
	utils.WriteJsonResponse(w, map[string]bool{"mfa_enabled": user.MfaEnabled})
}
