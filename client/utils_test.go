package client

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestHeadersAndErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/echo":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{
				"auth":    r.Header.Get("Authorization"),
				"api_key": r.Header.Get("X-API-Key"),
				"team":    r.URL.Query().Get("team_id"),
			})
		default:
			http.Error(w, "no such endpoint", http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := NewBaseClient(server.URL+"/", "token-123")

	var echo map[string]string
	require.NoError(t, c.Get("/echo").Team(7).Do(&echo))
	assert.Equal(t, "Bearer token-123", echo["auth"])
	assert.Equal(t, "7", echo["team"])

	require.NoError(t, c.Get("/echo").Team(0).Do(&echo))
	assert.Empty(t, echo["team"])

	c.UseApiKey("maintenance")
	require.NoError(t, c.Get("/echo").Do(&echo))
	assert.Empty(t, echo["auth"])
	assert.Equal(t, "maintenance", echo["api_key"])

	err := c.Post("/missing").Json(map[string]int{"a": 1}).Do(nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, StatusCode(err))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "no such endpoint", apiErr.Content)

	assert.Equal(t, http.StatusOK, StatusCode(nil))
	assert.Equal(t, 0, StatusCode(errors.New("connection refused")))
}
