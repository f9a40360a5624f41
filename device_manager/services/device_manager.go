package services

import (
	"log"
	"net/http"
	"os"
	"time"

	"nodedash/device_manager/auth"
	"nodedash/device_manager/chirpstack"
	"nodedash/device_manager/kvstore"
	"nodedash/device_manager/notify"
	"nodedash/device_manager/storage"
	"nodedash/device_manager/validation"
	"nodedash/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"
)

type Variables struct {
	ProjectName    string
	WebsiteAddress string
	IngestAddress  string
	MaintenanceKey string

	RegionCatalog chirpstack.RegionCatalog

	LoginRateLimit  int
	ResetRateLimit  int
	RateLimitWindow time.Duration
}

func (v *Variables) setDefaults() {
	if v.ProjectName == "" {
		v.ProjectName = "NodeDash"
	}
	if v.LoginRateLimit == 0 {
		v.LoginRateLimit = 10
	}
	if v.ResetRateLimit == 0 {
		v.ResetRateLimit = 5
	}
	if v.RateLimitWindow == 0 {
		v.RateLimitWindow = time.Minute
	}
	if len(v.RegionCatalog.Regions) == 0 {
		v.RegionCatalog = chirpstack.DefaultRegionCatalog()
	}
}

type Backends struct {
	KV             kvstore.Store
	Notifier       notify.Notifier
	NetworkServers chirpstack.Factory
	TimeSeries     storage.Factory
	Validator      *validation.Validator
}

type DeviceManager struct {
	auth        AuthService
	user        UserService
	team        TeamService
	device      DeviceService
	flow        FlowService
	function    FunctionService
	integration IntegrationService
	label       LabelService
	provider    ProviderService
	storage     StorageService
	dashboard   DashboardService
	search      SearchService
	maintenance MaintenanceService
}

func NewDeviceManager(db *gorm.DB, userAuth auth.IdentityProvider, backends Backends, variables Variables, secret []byte) DeviceManager {
	variables.setDefaults()
	if backends.Validator == nil {
		backends.Validator = validation.MustNew()
	}

	return DeviceManager{
		auth: AuthService{
			db:        db,
			userAuth:  userAuth,
			kv:        backends.KV,
			notifier:  backends.Notifier,
			mfaSigner: auth.NewActionSigner(append(append([]byte{}, secret...), []byte("mfa")...)),
			variables: variables,
		},
		user: UserService{db: db, userAuth: userAuth},
		team: TeamService{db: db, userAuth: userAuth},
		device: DeviceService{
			db:             db,
			userAuth:       userAuth,
			kv:             backends.KV,
			networkServers: backends.NetworkServers,
			validator:      backends.Validator,
		},
		flow:     FlowService{db: db, userAuth: userAuth},
		function: FunctionService{db: db, userAuth: userAuth},
		integration: IntegrationService{
			db:        db,
			userAuth:  userAuth,
			validator: backends.Validator,
		},
		label: LabelService{db: db, userAuth: userAuth},
		provider: ProviderService{
			db:             db,
			userAuth:       userAuth,
			networkServers: backends.NetworkServers,
			validator:      backends.Validator,
			variables:      variables,
		},
		storage: StorageService{
			db:         db,
			userAuth:   userAuth,
			timeSeries: backends.TimeSeries,
		},
		dashboard:   DashboardService{db: db, userAuth: userAuth},
		search:      SearchService{db: db, userAuth: userAuth},
		maintenance: MaintenanceService{db: db, secret: variables.MaintenanceKey},
	}
}

func (m *DeviceManager) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger: log.New(os.Stderr, "", log.LstdFlags), NoColor: false,
	}))

	r.Mount("/auth", m.auth.Routes())
	r.Mount("/users", m.user.Routes())
	r.Mount("/teams", m.team.Routes())
	r.Mount("/devices", m.device.Routes())
	r.Mount("/flows", m.flow.Routes())
	r.Mount("/functions", m.function.Routes())
	r.Mount("/integrations", m.integration.Routes())
	r.Mount("/labels", m.label.Routes())
	r.Mount("/providers", m.provider.Routes())
	r.Mount("/storage", m.storage.Routes())
	r.Mount("/dashboard", m.dashboard.Routes())
	r.Mount("/search", m.search.Routes())
	r.Mount("/maintenance", m.maintenance.Routes())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteSuccess(w)
	})

	return r
}
