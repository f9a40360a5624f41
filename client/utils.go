package client

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// APIError is returned for any response outside the 2xx range.
type APIError struct {
	Method   string
	Endpoint string
	Status   int
	Content  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%v request to endpoint %v returned status %d, content '%v'", e.Method, e.Endpoint, e.Status, e.Content)
}

// StatusCode returns the http status carried by err, 200 for nil and 0 for
// errors that did not come from a response.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

type httpRequest struct {
	req      *resty.Request
	method   string
	endpoint string
}

func (r *httpRequest) Header(key, value string) *httpRequest {
	r.req.SetHeader(key, value)
	return r
}

func (r *httpRequest) Auth(token string) *httpRequest {
	r.req.SetAuthToken(token)
	return r
}

func (r *httpRequest) Param(key string, value interface{}) *httpRequest {
	r.req.SetQueryParam(key, fmt.Sprint(value))
	return r
}

// Team scopes the request to a team. A zero id leaves the request personal.
func (r *httpRequest) Team(teamId uint) *httpRequest {
	if teamId == 0 {
		return r
	}
	return r.Param("team_id", teamId)
}

func (r *httpRequest) Json(data interface{}) *httpRequest {
	r.req.SetBody(data)
	return r
}

// Do sends the request and parses the response into result, passing nil
// indicates that no result is returned.
func (r *httpRequest) Do(result interface{}) error {
	if result != nil {
		r.req.SetResult(result)
	}

	start := time.Now()
	res, err := r.req.Execute(r.method, r.endpoint)
	if err != nil {
		return fmt.Errorf("error sending %v request to endpoint %v: %w", r.method, r.endpoint, err)
	}

	slog.Debug("nodedash client", "method", r.method, "endpoint", r.endpoint, "status", res.StatusCode(), "duration", time.Since(start).String())

	if res.IsError() {
		return &APIError{Method: r.method, Endpoint: r.endpoint, Status: res.StatusCode(), Content: strings.TrimSpace(res.String())}
	}
	return nil
}

type BaseClient struct {
	http      *resty.Client
	authToken string
	apiKey    string
}

func NewBaseClient(baseUrl string, authToken string) BaseClient {
	return BaseClient{http: newRestyClient(baseUrl), authToken: authToken}
}

func newRestyClient(baseUrl string) *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimRight(baseUrl, "/")+"/api/v1").
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/json")
}

func (c *BaseClient) newRequest(method, endpoint string) *httpRequest {
	r := &httpRequest{req: c.http.R(), method: method, endpoint: endpoint}
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	if c.apiKey != "" {
		return r.Header("X-API-Key", c.apiKey)
	}
	return r
}

func (c *BaseClient) Get(endpoint string) *httpRequest {
	return c.newRequest(http.MethodGet, endpoint)
}

func (c *BaseClient) Post(endpoint string) *httpRequest {
	return c.newRequest(http.MethodPost, endpoint)
}

func (c *BaseClient) Put(endpoint string) *httpRequest {
	return c.newRequest(http.MethodPut, endpoint)
}

func (c *BaseClient) Delete(endpoint string) *httpRequest {
	return c.newRequest(http.MethodDelete, endpoint)
}

// UseApiKey switches the client to the maintenance key, dropping any login.
func (c *BaseClient) UseApiKey(apiKey string) {
	c.apiKey = apiKey
	c.authToken = ""
}
