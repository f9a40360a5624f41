package utils

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

func ParseRequestBody(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	dec := json.NewDecoder(r.Body)
	err := dec.Decode(dest)
	if err != nil {
		slog.Error("error parsing request body", "error", err)
		http.Error(w, fmt.Sprintf("error parsing request body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func WriteJsonResponse(w http.ResponseWriter, data interface{}) {
	WriteJsonStatus(w, http.StatusOK, data)
}

func WriteJsonStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(data)
	if err != nil {
		slog.Error("error serializing response body", "error", err)
	}
}

func WriteSuccess(w http.ResponseWriter) {
	WriteJsonResponse(w, struct{}{})
}

func URLParam(r *http.Request, key string) (string, error) {
	param := chi.URLParam(r, key)
	if len(param) == 0 {
		return "", fmt.Errorf("missing {%v} url parameter", key)
	}
	return param, nil
}

func URLParamUint(r *http.Request, key string) (uint, error) {
	param, err := URLParam(r, key)
	if err != nil {
		return 0, err
	}

	id, err := strconv.ParseUint(param, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id '%v' provided for {%v}: %w", param, key, err)
	}

	return uint(id), nil
}

// QueryParamUint returns nil when the parameter is absent.
func QueryParamUint(r *http.Request, key string) (*uint, error) {
	param := r.URL.Query().Get(key)
	if param == "" {
		return nil, nil
	}

	id, err := strconv.ParseUint(param, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid value '%v' for query parameter '%v': %w", param, key, err)
	}

	value := uint(id)
	return &value, nil
}

func QueryParamInt(r *http.Request, key string, defaultValue int) (int, error) {
	param := r.URL.Query().Get(key)
	if param == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(param)
	if err != nil {
		return 0, fmt.Errorf("invalid value '%v' for query parameter '%v': %w", param, key, err)
	}
	return value, nil
}

// PostgresDsn converts a postgres:// uri into the key/value form the gorm
// postgres driver takes.
func PostgresDsn(uri string) (string, error) {
	parts, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	if parts.Hostname() == "" {
		return "", fmt.Errorf("database uri '%v' has no host", uri)
	}
	pwd, _ := parts.User.Password()
	dbname := strings.TrimPrefix(parts.Path, "/")
	port := parts.Port()
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("host=%v user=%v password=%v dbname=%v port=%v", parts.Hostname(), parts.User.Username(), pwd, dbname, port), nil
}
