package schema

import (
	"time"

	"nodedash/device_manager/flowgraph"
)

type OwnerType string

const (
	OwnerUser OwnerType = "user"
	OwnerTeam OwnerType = "team"
)

// Ownership is embedded in every ownable resource. The owner id is not a
// foreign key since it points at either the users or the teams table.
type Ownership struct {
	OwnerType OwnerType `gorm:"size:10;not null;index:,composite:owner"`
	OwnerId   uint      `gorm:"not null;index:,composite:owner"`
}

func (o Ownership) Owner() Ownership {
	return o
}

func UserOwner(userId uint) Ownership {
	return Ownership{OwnerType: OwnerUser, OwnerId: userId}
}

func TeamOwner(teamId uint) Ownership {
	return Ownership{OwnerType: OwnerTeam, OwnerId: teamId}
}

type Ownable interface {
	Owner() Ownership
}

type User struct {
	Id uint `gorm:"primaryKey"`

	Username string `gorm:"unique;size:50;not null"`
	Email    string `gorm:"unique;size:254;not null"`
	Password []byte

	IsActive      bool `gorm:"not null"`
	IsSuperuser   bool `gorm:"not null"`
	EmailVerified bool `gorm:"not null"`

	MfaSecret  string `gorm:"size:64"`
	MfaEnabled bool   `gorm:"not null"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Teams []UserTeam `gorm:"constraint:OnDelete:CASCADE"`
}

type Team struct {
	Id   uint   `gorm:"primaryKey"`
	Name string `gorm:"unique;size:100;not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type UserTeam struct {
	UserId      uint `gorm:"primaryKey"`
	TeamId      uint `gorm:"primaryKey"`
	IsTeamAdmin bool `gorm:"not null;default:false"`

	User *User `gorm:"constraint:OnDelete:CASCADE"`
	Team *Team `gorm:"constraint:OnDelete:CASCADE"`
}

const (
	RegionEU868 = "EU868"
	RegionUS915 = "US915"
	RegionAU915 = "AU915"
)

var Regions = []string{RegionEU868, RegionUS915, RegionAU915}

const (
	DeviceOnline      = "ONLINE"
	DeviceOffline     = "OFFLINE"
	DeviceNeverSeen   = "NEVER_SEEN"
	DeviceMaintenance = "MAINTENANCE"
)

var DeviceStatuses = []string{DeviceOnline, DeviceOffline, DeviceNeverSeen, DeviceMaintenance}

type Device struct {
	Id uint `gorm:"primaryKey"`

	Name   string `gorm:"size:100;not null"`
	DevEui string `gorm:"unique;size:16;not null"`
	AppEui string `gorm:"size:16;not null"`
	AppKey string `gorm:"size:32;not null"`

	Region               string `gorm:"size:10;not null"`
	IsClassC             bool   `gorm:"not null"`
	Status               string `gorm:"size:20;not null"`
	ExpectedTransmitTime int    `gorm:"not null"`

	Labels []Label `gorm:"many2many:device_labels;constraint:OnDelete:CASCADE"`

	Ownership

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Flow struct {
	Id uint `gorm:"primaryKey"`

	Name        string `gorm:"unique;size:100;not null"`
	Description string

	Nodes  []flowgraph.Node       `gorm:"serializer:json"`
	Edges  []flowgraph.Edge       `gorm:"serializer:json"`
	Layout map[string]interface{} `gorm:"serializer:json"`

	Ownership

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (f *Flow) Graph() *flowgraph.Graph {
	return &flowgraph.Graph{Nodes: f.Nodes, Edges: f.Edges}
}

func (f *Flow) SetGraph(g *flowgraph.Graph) {
	f.Nodes = g.Nodes
	f.Edges = g.Edges
}

const (
	FunctionActive   = "active"
	FunctionInactive = "inactive"
	FunctionError    = "error"
)

type FunctionParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description,omitempty"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

type Function struct {
	Id uint `gorm:"primaryKey"`

	Name        string `gorm:"unique;size:100;not null"`
	Description string
	Code        string
	Parameters  []FunctionParameter `gorm:"serializer:json"`
	Status      string              `gorm:"size:20;not null"`

	Ownership

	CreatedAt time.Time
	UpdatedAt time.Time
}

const (
	IntegrationHttp = "http"
	IntegrationMqtt = "mqtt"

	IntegrationActive   = "active"
	IntegrationInactive = "inactive"
	IntegrationError    = "error"
)

type Integration struct {
	Id uint `gorm:"primaryKey"`

	Name   string                 `gorm:"unique;size:100;not null"`
	Type   string                 `gorm:"size:20;not null"`
	Config map[string]interface{} `gorm:"serializer:json"`
	Status string                 `gorm:"size:20;not null"`

	Ownership

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Label struct {
	Id uint `gorm:"primaryKey"`

	Name    string   `gorm:"unique;size:100;not null"`
	Devices []Device `gorm:"many2many:device_labels;constraint:OnDelete:CASCADE"`

	Ownership

	CreatedAt time.Time
	UpdatedAt time.Time
}

const (
	ProviderChirpstack = "chirpstack"
	ProviderEmail      = "email"
	ProviderSms        = "sms"
	ProviderInfluxdb   = "influxdb"
)

var ProviderTypes = []string{ProviderChirpstack, ProviderEmail, ProviderSms, ProviderInfluxdb}

type Provider struct {
	Id uint `gorm:"primaryKey"`

	Name         string `gorm:"size:100;not null"`
	Description  string
	ProviderType string                 `gorm:"size:20;not null"`
	Config       map[string]interface{} `gorm:"serializer:json"`
	IsActive     bool                   `gorm:"not null"`

	Ownership

	CreatedAt time.Time
	UpdatedAt time.Time
}

const (
	ExecutionRunning        = "running"
	ExecutionPending        = "pending"
	ExecutionSuccess        = "success"
	ExecutionError          = "error"
	ExecutionPartialSuccess = "partial_success"
)

type DeviceHistory struct {
	Id        uint                   `gorm:"primaryKey" json:"id"`
	DeviceId  uint                   `gorm:"not null;index" json:"device_id"`
	Event     string                 `gorm:"size:50;not null" json:"event"`
	Data      map[string]interface{} `gorm:"serializer:json" json:"data"`
	Timestamp time.Time              `gorm:"not null;index" json:"timestamp"`
}

func (DeviceHistory) TableName() string {
	return "device_history"
}

type FlowHistory struct {
	Id            uint                   `gorm:"primaryKey" json:"id"`
	FlowId        uint                   `gorm:"not null;index" json:"flow_id"`
	Status        string                 `gorm:"size:20;not null" json:"status"`
	TriggerSource string                 `gorm:"size:50" json:"trigger_source"`
	SourceId      string                 `gorm:"size:100" json:"source_id"`
	ExecutionPath []interface{}          `gorm:"serializer:json" json:"execution_path"`
	InputData     map[string]interface{} `gorm:"serializer:json" json:"input_data"`
	OutputData    map[string]interface{} `gorm:"serializer:json" json:"output_data"`
	ErrorDetails  map[string]interface{} `gorm:"serializer:json" json:"error_details"`
	StartTime     *time.Time             `json:"start_time"`
	EndTime       *time.Time             `json:"end_time"`
	ExecutionTime *float64               `json:"execution_time"`
	Timestamp     time.Time              `gorm:"not null;index" json:"timestamp"`
}

func (FlowHistory) TableName() string {
	return "flow_history"
}

type FunctionHistory struct {
	Id            uint                   `gorm:"primaryKey" json:"id"`
	FunctionId    uint                   `gorm:"not null;index" json:"function_id"`
	FlowId        *uint                  `gorm:"index" json:"flow_id"`
	Status        string                 `gorm:"size:20;not null" json:"status"`
	InputData     map[string]interface{} `gorm:"serializer:json" json:"input_data"`
	OutputData    map[string]interface{} `gorm:"serializer:json" json:"output_data"`
	ErrorMessage  string                 `json:"error_message"`
	ExecutionTime *float64               `json:"execution_time"`
	Timestamp     time.Time              `gorm:"not null;index" json:"timestamp"`
}

func (FunctionHistory) TableName() string {
	return "function_history"
}

type IntegrationHistory struct {
	Id            uint                   `gorm:"primaryKey" json:"id"`
	IntegrationId uint                   `gorm:"not null;index" json:"integration_id"`
	Status        string                 `gorm:"size:20;not null" json:"status"`
	RequestData   map[string]interface{} `gorm:"serializer:json" json:"request_data"`
	ResponseData  map[string]interface{} `gorm:"serializer:json" json:"response_data"`
	ErrorMessage  string                 `json:"error_message"`
	ExecutionTime *float64               `json:"execution_time"`
	Timestamp     time.Time              `gorm:"not null;index" json:"timestamp"`
}

func (IntegrationHistory) TableName() string {
	return "integration_history"
}

type LabelHistory struct {
	Id        uint                   `gorm:"primaryKey" json:"id"`
	LabelId   uint                   `gorm:"not null;index" json:"label_id"`
	Event     string                 `gorm:"size:50;not null" json:"event"`
	Data      map[string]interface{} `gorm:"serializer:json" json:"data"`
	Timestamp time.Time              `gorm:"not null;index" json:"timestamp"`
}

func (LabelHistory) TableName() string {
	return "label_history"
}

// Models lists every table in migration order.
func Models() []interface{} {
	return []interface{}{
		&User{}, &Team{}, &UserTeam{},
		&Device{}, &Flow{}, &Function{}, &Integration{}, &Label{}, &Provider{},
		&DeviceHistory{}, &FlowHistory{}, &FunctionHistory{}, &IntegrationHistory{}, &LabelHistory{},
	}
}
