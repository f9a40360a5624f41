package client

import (
	"fmt"
	"net/url"
	"strings"

	"nodedash/device_manager/flowgraph"
	"nodedash/device_manager/schema"
)

type NodeDashClient struct {
	BaseClient
	user *UserInfo
}

func New(baseUrl string) *NodeDashClient {
	return &NodeDashClient{BaseClient: BaseClient{http: newRestyClient(baseUrl)}}
}

func (c *NodeDashClient) Register(username, email, password string) (UserInfo, error) {
	body := map[string]string{"username": username, "email": email, "password": password}

	var user UserInfo
	err := c.Post("/auth/register").Json(body).Do(&user)
	return user, err
}

func (c *NodeDashClient) VerifyEmail(email, code string) error {
	return c.Post("/auth/verify-email").Json(map[string]string{"email": email, "code": code}).Do(nil)
}

func (c *NodeDashClient) ResendVerificationEmail(email string) error {
	return c.Post("/auth/resend-verification-email").Json(map[string]string{"email": email}).Do(nil)
}

// Login stores the access token on success. When the account has MFA enabled
// no token is issued and the returned session must be completed with
// CompleteMfaLogin.
func (c *NodeDashClient) Login(username, password string) (LoginResult, error) {
	body := map[string]interface{}{"username": username, "password": password}

	var res LoginResult
	if err := c.Post("/auth/login").Json(body).Do(&res); err != nil {
		return LoginResult{}, err
	}
	if !res.MfaRequired {
		c.authToken = res.AccessToken
		c.apiKey = ""
	}
	return res, nil
}

func (c *NodeDashClient) CompleteMfaLogin(sessionId, code string) error {
	var res LoginResult
	err := c.Post("/auth/mfa/verify-login").Json(map[string]string{"session_id": sessionId, "mfa_code": code}).Do(&res)
	if err != nil {
		return err
	}
	c.authToken = res.AccessToken
	c.apiKey = ""
	return nil
}

// Me returns the logged in user, caching it after the first call.
func (c *NodeDashClient) Me() (UserInfo, error) {
	if c.user != nil {
		return *c.user, nil
	}
	var user UserInfo
	if err := c.Get("/auth/verify").Do(&user); err != nil {
		return UserInfo{}, err
	}
	c.user = &user
	return user, nil
}

func (c *NodeDashClient) RequestPasswordReset(email string) error {
	return c.Post("/auth/request-password-reset").Json(map[string]string{"email": email}).Do(nil)
}

func (c *NodeDashClient) ResetPassword(email, code, newPassword string) error {
	body := map[string]string{"email": email, "code": code, "new_password": newPassword}
	return c.Post("/auth/reset-password").Json(body).Do(nil)
}

func (c *NodeDashClient) SetupMfa() (MfaSetup, error) {
	var setup MfaSetup
	err := c.Post("/auth/mfa/setup").Do(&setup)
	return setup, err
}

func (c *NodeDashClient) EnableMfa(code string) error {
	c.user = nil
	return c.Post("/auth/mfa/verify").Json(map[string]string{"code": code}).Do(nil)
}

func (c *NodeDashClient) DisableMfa(code string) error {
	c.user = nil
	return c.Post("/auth/mfa/disable").Json(map[string]string{"code": code}).Do(nil)
}

func (c *NodeDashClient) CreateTeam(name string) (TeamInfo, error) {
	var team TeamInfo
	err := c.Post("/teams/").Json(map[string]string{"name": name}).Do(&team)
	return team, err
}

func (c *NodeDashClient) Team(teamId uint) (TeamInfo, error) {
	var team TeamInfo
	err := c.Get(fmt.Sprintf("/teams/%d", teamId)).Do(&team)
	return team, err
}

func (c *NodeDashClient) AddTeamMember(teamId uint, email string) error {
	return c.Post(fmt.Sprintf("/teams/%d/members/%s", teamId, url.PathEscape(email))).Do(nil)
}

func (c *NodeDashClient) RemoveTeamMember(teamId, userId uint) error {
	return c.Delete(fmt.Sprintf("/teams/%d/members/%d", teamId, userId)).Do(nil)
}

func (c *NodeDashClient) DeleteTeam(teamId uint) error {
	return c.Delete(fmt.Sprintf("/teams/%d", teamId)).Do(nil)
}

// CreateDevice registers a device, provisioning it on the owner's network
// server if one is configured. A zero teamId creates a personal device.
func (c *NodeDashClient) CreateDevice(teamId uint, device NewDevice) (*DeviceClient, error) {
	var info DeviceInfo
	if err := c.Post("/devices/").Team(teamId).Json(device).Do(&info); err != nil {
		return nil, err
	}
	return &DeviceClient{BaseClient: c.BaseClient, Info: info}, nil
}

func (c *NodeDashClient) Device(deviceId uint) (*DeviceClient, error) {
	d := &DeviceClient{BaseClient: c.BaseClient, Info: DeviceInfo{Id: deviceId}}
	if err := d.Refresh(); err != nil {
		return nil, err
	}
	return d, nil
}

func (c *NodeDashClient) Devices(teamId uint) ([]DeviceInfo, error) {
	var devices []DeviceInfo
	err := c.Get("/devices/").Team(teamId).Do(&devices)
	return devices, err
}

func (c *NodeDashClient) CreateFlow(teamId uint, name string, nodes []flowgraph.Node, edges []flowgraph.Edge) (FlowInfo, error) {
	body := map[string]interface{}{"name": name, "nodes": nodes, "edges": edges}

	var flow FlowInfo
	err := c.Post("/flows/").Team(teamId).Json(body).Do(&flow)
	return flow, err
}

func (c *NodeDashClient) Flows(teamId uint) ([]FlowInfo, error) {
	var flows []FlowInfo
	err := c.Get("/flows/").Team(teamId).Do(&flows)
	return flows, err
}

func (c *NodeDashClient) RecordFlowRun(flowId uint, run schema.FlowHistory) (schema.FlowHistory, error) {
	var entry schema.FlowHistory
	err := c.Post(fmt.Sprintf("/flows/%d/history", flowId)).Json(run).Do(&entry)
	return entry, err
}

func (c *NodeDashClient) DeleteFlow(flowId uint) error {
	return c.Delete(fmt.Sprintf("/flows/%d", flowId)).Do(nil)
}

func (c *NodeDashClient) CreateFunction(teamId uint, name, code string, parameters []schema.FunctionParameter) (FunctionInfo, error) {
	body := map[string]interface{}{"name": name, "code": code, "parameters": parameters}

	var function FunctionInfo
	err := c.Post("/functions/").Team(teamId).Json(body).Do(&function)
	return function, err
}

// StartExecution records a running execution of the function and returns its
// history entry, to be finished with CompleteExecution.
func (c *NodeDashClient) StartExecution(functionId uint, input map[string]interface{}) (schema.FunctionHistory, error) {
	body := map[string]interface{}{"status": "running", "input_data": input}

	var entry schema.FunctionHistory
	err := c.Post(fmt.Sprintf("/functions/%d/history", functionId)).Json(body).Do(&entry)
	return entry, err
}

func (c *NodeDashClient) CompleteExecution(historyId uint, result ExecutionResult) (schema.FunctionHistory, error) {
	var entry schema.FunctionHistory
	err := c.Put(fmt.Sprintf("/functions/history/%d", historyId)).Json(result).Do(&entry)
	return entry, err
}

func (c *NodeDashClient) FunctionHistory(functionId uint) ([]schema.FunctionHistory, error) {
	var entries []schema.FunctionHistory
	err := c.Get(fmt.Sprintf("/functions/%d/history", functionId)).Do(&entries)
	return entries, err
}

func (c *NodeDashClient) CreateIntegration(teamId uint, name, integrationType string, config map[string]interface{}) (IntegrationInfo, error) {
	body := map[string]interface{}{"name": name, "type": integrationType, "config": config}

	var integration IntegrationInfo
	err := c.Post("/integrations/").Team(teamId).Json(body).Do(&integration)
	return integration, err
}

func (c *NodeDashClient) CreateLabel(teamId uint, name string, deviceIds ...uint) (LabelInfo, error) {
	body := map[string]interface{}{"name": name, "device_ids": deviceIds}

	var label LabelInfo
	err := c.Post("/labels/").Team(teamId).Json(body).Do(&label)
	return label, err
}

func (c *NodeDashClient) LabelDevice(labelId, deviceId uint) (LabelInfo, error) {
	var label LabelInfo
	err := c.Post(fmt.Sprintf("/labels/%d/devices/%d", labelId, deviceId)).Do(&label)
	return label, err
}

func (c *NodeDashClient) CreateProvider(teamId uint, name, providerType string, config map[string]interface{}) (ProviderInfo, error) {
	body := map[string]interface{}{"name": name, "provider_type": providerType, "config": config}

	var provider ProviderInfo
	err := c.Post("/providers/").Team(teamId).Json(body).Do(&provider)
	return provider, err
}

func (c *NodeDashClient) Provider(providerId uint) (ProviderInfo, error) {
	var provider ProviderInfo
	err := c.Get(fmt.Sprintf("/providers/%d", providerId)).Do(&provider)
	return provider, err
}

func (c *NodeDashClient) SetProviderActive(providerId uint, active bool) (ProviderInfo, error) {
	var provider ProviderInfo
	err := c.Put(fmt.Sprintf("/providers/%d", providerId)).Json(map[string]bool{"is_active": active}).Do(&provider)
	return provider, err
}

// SetupProvider reruns the network server setup of a chirpstack provider.
func (c *NodeDashClient) SetupProvider(providerId uint) (ProviderInfo, error) {
	var provider ProviderInfo
	err := c.Post(fmt.Sprintf("/providers/%d/setup", providerId)).Do(&provider)
	return provider, err
}

func (c *NodeDashClient) Storage(providerId uint) *StorageClient {
	return &StorageClient{BaseClient: c.BaseClient, providerId: providerId}
}

func (c *NodeDashClient) Dashboard(teamId uint) (DashboardStats, error) {
	var stats DashboardStats
	err := c.Get("/dashboard/stats").Team(teamId).Do(&stats)
	return stats, err
}

func (c *NodeDashClient) Search(query string, opts SearchOptions) (map[string][]SearchHit, error) {
	req := c.Get("/search/").Param("query", query).Team(opts.TeamId)
	if len(opts.ResourceTypes) > 0 {
		req = req.Param("resource_types", strings.Join(opts.ResourceTypes, ","))
	}
	if opts.Limit > 0 {
		req = req.Param("limit", opts.Limit)
	}

	var hits map[string][]SearchHit
	err := req.Do(&hits)
	return hits, err
}

// CleanupHistory needs a client configured with UseApiKey.
func (c *NodeDashClient) CleanupHistory(retentionDays int) (CleanupResult, error) {
	var res CleanupResult
	err := c.Post("/maintenance/cleanup-history").Param("retention_days", retentionDays).Do(&res)
	return res, err
}
