package client

import (
	"time"

	"nodedash/device_manager/flowgraph"
	"nodedash/device_manager/schema"
)

type Owner struct {
	OwnerId   uint             `json:"owner_id"`
	OwnerType schema.OwnerType `json:"owner_type"`
}

type UserInfo struct {
	Id            uint      `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	IsActive      bool      `json:"is_active"`
	IsSuperuser   bool      `json:"is_superuser"`
	EmailVerified bool      `json:"email_verified"`
	MfaEnabled    bool      `json:"mfa_enabled"`
	CreatedAt     time.Time `json:"created_at"`
}

// LoginResult is returned by Login. If MfaRequired is set the session must be
// completed with CompleteMfaLogin.
type LoginResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	MfaRequired bool   `json:"mfa_required"`
	SessionId   string `json:"session_id"`
	Email       string `json:"email"`
}

type MfaSetup struct {
	Secret          string `json:"secret"`
	ProvisioningUri string `json:"provisioning_uri"`
	QrCode          string `json:"qr_code"`
}

type TeamMember struct {
	UserId      uint   `json:"user_id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	IsTeamAdmin bool   `json:"is_team_admin"`
}

type TeamInfo struct {
	Id        uint         `json:"id"`
	Name      string       `json:"name"`
	CreatedAt time.Time    `json:"created_at"`
	Members   []TeamMember `json:"members,omitempty"`
}

type LabelRef struct {
	Id   uint   `json:"id"`
	Name string `json:"name"`
}

type DeviceInfo struct {
	Id                   uint       `json:"id"`
	Name                 string     `json:"name"`
	DevEui               string     `json:"dev_eui"`
	AppEui               string     `json:"app_eui"`
	AppKey               string     `json:"app_key"`
	Region               string     `json:"region"`
	IsClassC             bool       `json:"is_class_c"`
	Status               string     `json:"status"`
	ExpectedTransmitTime int        `json:"expected_transmit_time"`
	Labels               []LabelRef `json:"labels"`
	Owner
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type NewDevice struct {
	Name                 string `json:"name"`
	DevEui               string `json:"dev_eui"`
	AppEui               string `json:"app_eui"`
	AppKey               string `json:"app_key"`
	Region               string `json:"region,omitempty"`
	IsClassC             bool   `json:"is_class_c,omitempty"`
	ExpectedTransmitTime int    `json:"expected_transmit_time,omitempty"`
	LabelIds             []uint `json:"label_ids,omitempty"`
}

type LiveStatus struct {
	DeviceId uint   `json:"device_id"`
	Status   string `json:"status"`
	Source   string `json:"source"`
}

type Downlink struct {
	Data      string `json:"data"`
	FPort     int    `json:"f_port,omitempty"`
	Confirmed bool   `json:"confirmed"`
}

type FlowInfo struct {
	Id          uint                   `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Nodes       []flowgraph.Node       `json:"nodes"`
	Edges       []flowgraph.Edge       `json:"edges"`
	Layout      map[string]interface{} `json:"layout"`
	Owner
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type FunctionInfo struct {
	Id          uint                       `json:"id"`
	Name        string                     `json:"name"`
	Description string                     `json:"description"`
	Code        string                     `json:"code"`
	Parameters  []schema.FunctionParameter `json:"parameters"`
	Status      string                     `json:"status"`
	Owner
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ExecutionResult struct {
	Status        string                 `json:"status"`
	OutputData    map[string]interface{} `json:"output_data,omitempty"`
	ErrorMessage  string                 `json:"error_message,omitempty"`
	ExecutionTime *float64               `json:"execution_time,omitempty"`
}

type IntegrationInfo struct {
	Id     uint                   `json:"id"`
	Name   string                 `json:"name"`
	Type   string                 `json:"type"`
	Config map[string]interface{} `json:"config"`
	Status string                 `json:"status"`
	Owner
}

type LabelInfo struct {
	Id        uint   `json:"id"`
	Name      string `json:"name"`
	DeviceIds []uint `json:"device_ids"`
	Owner
}

type ProviderInfo struct {
	Id           uint                   `json:"id"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description"`
	ProviderType string                 `json:"provider_type"`
	Config       map[string]interface{} `json:"config"`
	IsActive     bool                   `json:"is_active"`
	Owner
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type DeviceStats struct {
	Total       int64 `json:"total"`
	Online      int64 `json:"online"`
	Offline     int64 `json:"offline"`
	NeverSeen   int64 `json:"neverSeen"`
	Maintenance int64 `json:"maintenance"`
}

type FlowStats struct {
	Total          int64 `json:"total"`
	Success        int64 `json:"success"`
	Error          int64 `json:"error"`
	PartialSuccess int64 `json:"partialSuccess"`
	Pending        int64 `json:"pending"`
	Inactive       int64 `json:"inactive"`
}

type ExecutionStats struct {
	Total    int64 `json:"total"`
	Active   int64 `json:"active"`
	Error    int64 `json:"error"`
	Inactive int64 `json:"inactive"`
}

type DashboardStats struct {
	DeviceStats      DeviceStats    `json:"deviceStats"`
	FlowStats        FlowStats      `json:"flowStats"`
	FunctionStats    ExecutionStats `json:"functionStats"`
	IntegrationStats ExecutionStats `json:"integrationStats"`
}

type SearchHit struct {
	Id          uint   `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	DevEui      string `json:"dev_eui,omitempty"`
	Status      string `json:"status,omitempty"`
	Owner
}

type SearchOptions struct {
	ResourceTypes []string
	Limit         int
	TeamId        uint
}

type CleanupResult struct {
	Success       bool             `json:"success"`
	DeletedCounts map[string]int64 `json:"deleted_counts"`
	Message       string           `json:"message"`
}
