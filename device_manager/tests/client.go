package tests

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"

	"github.com/go-chi/chi/v5"
)

type httpTestRequest struct {
	api http.Handler

	method   string
	endpoint string
	headers  map[string]string
	query    url.Values
	json     interface{}
	body     io.Reader
}

func newHttpTestRequest(api http.Handler, method, endpoint string) *httpTestRequest {
	return &httpTestRequest{
		api:      api,
		method:   method,
		endpoint: endpoint,
	}
}

func (r *httpTestRequest) Header(key, value string) *httpTestRequest {
	if r.headers == nil {
		r.headers = make(map[string]string)
	}
	r.headers[key] = value
	return r
}

func (r *httpTestRequest) Auth(token string) *httpTestRequest {
	return r.Header("Authorization", fmt.Sprintf("Bearer %v", token))
}

func (r *httpTestRequest) Query(key string, value interface{}) *httpTestRequest {
	if r.query == nil {
		r.query = url.Values{}
	}
	r.query.Set(key, fmt.Sprint(value))
	return r
}

// Team adds the team_id query parameter if teamId is not 0.
func (r *httpTestRequest) Team(teamId uint) *httpTestRequest {
	if teamId == 0 {
		return r
	}
	return r.Query("team_id", teamId)
}

func (r *httpTestRequest) Json(data interface{}) *httpTestRequest {
	r.json = data
	return r
}

func (r *httpTestRequest) Body(body io.Reader) *httpTestRequest {
	r.body = body
	return r
}

// HttpError is returned by Do for any non 2xx response.
type HttpError struct {
	Method   string
	Endpoint string
	Status   int
	Content  string
}

func (e *HttpError) Error() string {
	return fmt.Sprintf("%v request to endpoint %v returned status %d, content '%v'", e.Method, e.Endpoint, e.Status, e.Content)
}

func (e *HttpError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

var ErrUnauthorized = errors.New("unauthorized")

// statusOf returns the http status carried by err, 200 for nil and 0 for
// errors that did not come from a response.
func statusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var herr *HttpError
	if errors.As(err, &herr) {
		return herr.Status
	}
	return 0
}

// response body will be parsed into result, passing nil indicates that no result is returned.
func (r *httpTestRequest) Do(result interface{}) error {
	if r.json != nil {
		body := new(bytes.Buffer)
		err := json.NewEncoder(body).Encode(r.json)
		if err != nil {
			return fmt.Errorf("error encoding json body for endpoint %v: %w", r.endpoint, err)
		}
		r.body = body
	}

	endpoint := r.endpoint
	if len(r.query) > 0 {
		endpoint += "?" + r.query.Encode()
	}

	req := httptest.NewRequest(r.method, endpoint, r.body)
	for k, v := range r.headers {
		req.Header.Add(k, v)
	}

	w := httptest.NewRecorder()

	r.api.ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &HttpError{Method: r.method, Endpoint: endpoint, Status: res.StatusCode, Content: w.Body.String()}
	}

	if result != nil {
		err := json.NewDecoder(res.Body).Decode(result)
		if err != nil {
			return fmt.Errorf("error parsing %v response from endpoint %v: %w", r.method, endpoint, err)
		}
	}

	return nil
}

type client struct {
	api       chi.Router
	authToken string
	userId    uint
}

func (c *client) request(method, endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, method, endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

func (c *client) Get(endpoint string) *httpTestRequest {
	return c.request("GET", endpoint)
}

func (c *client) Post(endpoint string) *httpTestRequest {
	return c.request("POST", endpoint)
}

func (c *client) Put(endpoint string) *httpTestRequest {
	return c.request("PUT", endpoint)
}

func (c *client) Delete(endpoint string) *httpTestRequest {
	return c.request("DELETE", endpoint)
}

type userInfo struct {
	Id            uint   `json:"id"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	IsSuperuser   bool   `json:"is_superuser"`
	EmailVerified bool   `json:"email_verified"`
	MfaEnabled    bool   `json:"mfa_enabled"`
}

type loginResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	MfaRequired bool   `json:"mfa_required"`
	SessionId   string `json:"session_id"`
	Email       string `json:"email"`
}

func (c *client) register(username, email, password string) (userInfo, error) {
	body := map[string]string{"username": username, "email": email, "password": password}
	var res userInfo
	err := c.Post("/auth/register").Json(body).Do(&res)
	return res, err
}

func (c *client) verifyEmail(email, code string) error {
	return c.Post("/auth/verify-email").Json(map[string]string{"email": email, "code": code}).Do(nil)
}

func (c *client) loginRaw(username, password string) (loginResult, error) {
	var res loginResult
	err := c.Post("/auth/login").Json(map[string]interface{}{"username": username, "password": password}).Do(&res)
	return res, err
}

func (c *client) login(username, password string) error {
	res, err := c.loginRaw(username, password)
	if err != nil {
		return err
	}
	if res.MfaRequired {
		return fmt.Errorf("login for %v requires mfa", username)
	}

	c.authToken = res.AccessToken

	info, err := c.me()
	if err != nil {
		return err
	}
	c.userId = info.Id
	return nil
}

func (c *client) me() (userInfo, error) {
	var res userInfo
	err := c.Get("/auth/verify").Do(&res)
	return res, err
}

type teamMember struct {
	UserId      uint `json:"user_id"`
	IsTeamAdmin bool `json:"is_team_admin"`
}

type teamInfo struct {
	Id      uint         `json:"id"`
	Name    string       `json:"name"`
	Members []teamMember `json:"members"`
}

func (c *client) createTeam(name string) (uint, error) {
	var res teamInfo
	err := c.Post("/teams/").Json(map[string]string{"name": name}).Do(&res)
	return res.Id, err
}

func (c *client) team(teamId uint) (teamInfo, error) {
	var res teamInfo
	err := c.Get(fmt.Sprintf("/teams/%d", teamId)).Do(&res)
	return res, err
}

func (c *client) listTeams() ([]teamInfo, error) {
	var res []teamInfo
	err := c.Get("/teams/").Do(&res)
	return res, err
}

func (c *client) deleteTeam(teamId uint) error {
	return c.Delete(fmt.Sprintf("/teams/%d", teamId)).Do(nil)
}

func (c *client) addTeamMember(teamId uint, email string) error {
	return c.Post(fmt.Sprintf("/teams/%d/members/%v", teamId, email)).Do(nil)
}

func (c *client) removeTeamMember(teamId, userId uint) error {
	return c.Delete(fmt.Sprintf("/teams/%d/members/%d", teamId, userId)).Do(nil)
}

type resourceInfo struct {
	Id        uint   `json:"id"`
	Name      string `json:"name"`
	OwnerId   uint   `json:"owner_id"`
	OwnerType string `json:"owner_type"`
}

type deviceInfo struct {
	resourceInfo
	DevEui               string `json:"dev_eui"`
	Region               string `json:"region"`
	IsClassC             bool   `json:"is_class_c"`
	Status               string `json:"status"`
	ExpectedTransmitTime int    `json:"expected_transmit_time"`
	Labels               []struct {
		Id   uint   `json:"id"`
		Name string `json:"name"`
	} `json:"labels"`
}

func newDevice(name, devEui string) map[string]interface{} {
	return map[string]interface{}{
		"name":    name,
		"dev_eui": devEui,
		"app_eui": "70B3D57ED0000001",
		"app_key": "00112233445566778899AABBCCDDEEFF",
	}
}

func (c *client) createDevice(teamId uint, body map[string]interface{}) (deviceInfo, error) {
	var res deviceInfo
	err := c.Post("/devices/").Team(teamId).Json(body).Do(&res)
	return res, err
}

func (c *client) device(deviceId uint) (deviceInfo, error) {
	var res deviceInfo
	err := c.Get(fmt.Sprintf("/devices/%d", deviceId)).Do(&res)
	return res, err
}

func (c *client) listDevices(teamId uint) ([]deviceInfo, error) {
	var res []deviceInfo
	err := c.Get("/devices/").Team(teamId).Do(&res)
	return res, err
}

func (c *client) deleteDevice(deviceId uint) error {
	return c.Delete(fmt.Sprintf("/devices/%d", deviceId)).Do(nil)
}

func (c *client) createResource(kind string, teamId uint, body interface{}) (resourceInfo, error) {
	var res resourceInfo
	err := c.Post("/" + kind + "/").Team(teamId).Json(body).Do(&res)
	return res, err
}

func (c *client) updateResource(kind string, id, teamId uint, body interface{}) (resourceInfo, error) {
	var res resourceInfo
	err := c.Put(fmt.Sprintf("/%v/%d", kind, id)).Team(teamId).Json(body).Do(&res)
	return res, err
}

func (c *client) getResource(kind string, id uint) (resourceInfo, error) {
	var res resourceInfo
	err := c.Get(fmt.Sprintf("/%v/%d", kind, id)).Do(&res)
	return res, err
}

func (c *client) listResources(kind string, teamId uint) ([]resourceInfo, error) {
	var res []resourceInfo
	err := c.Get("/" + kind + "/").Team(teamId).Do(&res)
	return res, err
}

func (c *client) deleteResource(kind string, id uint) error {
	return c.Delete(fmt.Sprintf("/%v/%d", kind, id)).Do(nil)
}

func (c *client) recordHistory(kind string, id uint, entry interface{}) (map[string]interface{}, error) {
	var res map[string]interface{}
	err := c.Post(fmt.Sprintf("/%v/%d/history", kind, id)).Json(entry).Do(&res)
	return res, err
}

func (c *client) history(kind string, id uint) ([]map[string]interface{}, error) {
	var res []map[string]interface{}
	err := c.Get(fmt.Sprintf("/%v/%d/history", kind, id)).Do(&res)
	return res, err
}

type flowNode struct {
	Id   string                 `json:"id"`
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

type flowEdge struct {
	Id     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type flowInfo struct {
	Id    uint       `json:"id"`
	Name  string     `json:"name"`
	Nodes []flowNode `json:"nodes"`
	Edges []flowEdge `json:"edges"`
}

func (c *client) flow(flowId uint) (flowInfo, error) {
	var res flowInfo
	err := c.Get(fmt.Sprintf("/flows/%d", flowId)).Do(&res)
	return res, err
}

func (c *client) createProvider(teamId uint, providerType string, config map[string]interface{}) (resourceInfo, error) {
	body := map[string]interface{}{"name": providerType + " provider", "provider_type": providerType, "config": config}
	return c.createResource("providers", teamId, body)
}

func chirpstackConfig() map[string]interface{} {
	return map[string]interface{}{
		"CHIRPSTACK_API_SERVER":                          "chirpstack.local",
		"CHIRPSTACK_API_PORT":                            8090,
		"CHIRPSTACK_API_TOKEN":                           "token",
		"CHIRPSTACK_API_APPLICATION_ID":                  "app-1",
		"CHIRPSTACK_API_DEVICE_PROFILE_EU868_ID":         "profile-eu",
		"CHIRPSTACK_API_DEVICE_PROFILE_US915_ID":         "profile-us",
		"CHIRPSTACK_API_DEVICE_PROFILE_EU868_CLASS_C_ID": "profile-eu-c",
	}
}

func influxConfig() map[string]interface{} {
	return map[string]interface{}{
		"url": "http://influx.local:8086", "org": "org", "bucket": "telemetry", "token": "secret",
	}
}
