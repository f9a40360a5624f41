package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"nodedash/device_manager/auth"
	"nodedash/device_manager/chirpstack"
	"nodedash/device_manager/kvstore"
	"nodedash/device_manager/notify"
	"nodedash/device_manager/schema"
	"nodedash/device_manager/services"
	"nodedash/device_manager/storage"
	"nodedash/utils"
	"nodedash/utils/logging"

	"github.com/caarlos0/env/v10"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogmulti "github.com/samber/slog-multi"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type RedisEnv struct {
	Host     string `env:"REDIS_HOST"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	Password string `env:"REDIS_PASSWORD"`
}

type EmailEnv struct {
	Mode string `env:"EMAIL_MODE" envDefault:"SMTP"`

	MailgunApiKey  string `env:"MAILGUN_API_KEY"`
	MailgunDomain  string `env:"MAILGUN_DOMAIN"`
	MailgunBaseURL string `env:"MAILGUN_BASE_URL"`
	MailgunRegion  string `env:"MAILGUN_REGION" envDefault:"US"`

	SmtpHost     string `env:"SMTP_HOST"`
	SmtpPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SmtpUser     string `env:"SMTP_USER"`
	SmtpPassword string `env:"SMTP_PASSWORD"`

	FromEmail string `env:"MAILGUN_FROM_EMAIL"`
	FromName  string `env:"MAILGUN_FROM_NAME"`
}

type NodeDashEnv struct {
	DatabaseUri string   `env:"DATABASE_URI,required"`
	SecretKey   string   `env:"SECRET_KEY,required"`
	JwtSecret   string   `env:"JWT_SECRET,required"`
	CorsOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	LogDir      string   `env:"LOG_DIR" envDefault:"logs"`

	AccessTokenExpireMinutes           int `env:"ACCESS_TOKEN_EXPIRE_MINUTES" envDefault:"1440"`
	AccessTokenExpireMinutesRememberMe int `env:"ACCESS_TOKEN_EXPIRE_MINUTES_REMEMBER_ME" envDefault:"43200"`

	ProjectName    string `env:"PROJECT_NAME" envDefault:"NodeDash"`
	WebsiteAddress string `env:"WEBSITE_ADDRESS" envDefault:"http://localhost:3000"`
	IngestAddress  string `env:"INGEST_ADDRESS" envDefault:"http://localhost:8002"`

	FirstSuperuserUsername string `env:"FIRST_SUPERUSER_USERNAME,required"`
	FirstSuperuserEmail    string `env:"FIRST_SUPERUSER_EMAIL,required"`
	FirstSuperuserPassword string `env:"FIRST_SUPERUSER_PASSWORD,required"`

	ChirpstackRegionsFile  string `env:"CHIRPSTACK_REGIONS_FILE"`
	ExternalTimeoutSeconds int    `env:"EXTERNAL_TIMEOUT_SECONDS" envDefault:"10"`

	Redis RedisEnv `env:""`
	Email EmailEnv `env:""`
}

/**
 * ==========================================================================
 * ==== All variables used by the device manager must be loaded here.    ====
 * ==== This keeps the set of exposed settings in one place, and shows   ====
 * ==== how each value is passed on to the services.                     ====
 * ==========================================================================
 */
func loadEnv() (*NodeDashEnv, error) {
	cfg := &NodeDashEnv{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.ExternalTimeoutSeconds <= 0 {
		return nil, fmt.Errorf("EXTERNAL_TIMEOUT_SECONDS must be positive")
	}
	return cfg, nil
}

func (e *NodeDashEnv) externalTimeout() time.Duration {
	return time.Duration(e.ExternalTimeoutSeconds) * time.Second
}

func (e *NodeDashEnv) notifyConfig() notify.Config {
	return notify.Config{
		Mode:           e.Email.Mode,
		MailgunApiKey:  e.Email.MailgunApiKey,
		MailgunDomain:  e.Email.MailgunDomain,
		MailgunBaseURL: e.Email.MailgunBaseURL,
		MailgunRegion:  e.Email.MailgunRegion,
		SmtpHost:       e.Email.SmtpHost,
		SmtpPort:       e.Email.SmtpPort,
		SmtpUser:       e.Email.SmtpUser,
		SmtpPassword:   e.Email.SmtpPassword,
		FromEmail:      e.Email.FromEmail,
		FromName:       e.Email.FromName,
	}
}

func initLogging(logFile *os.File) {
	var jsonHandler slog.Handler = slog.NewJSONHandler(logFile, logging.GetVictoriaLogsOptions(true, slog.LevelInfo))
	jsonHandler = jsonHandler.WithAttrs([]slog.Attr{slog.String("service_type", "device_manager")})
	textHandler := slog.NewTextHandler(os.Stderr, nil)

	slog.SetDefault(slog.New(slogmulti.Fanout(jsonHandler, textHandler)))
	slog.Info("logging initialized", "log_file", logFile.Name(), logging.Code(logging.SYSTEM))
}

func initDb(uri string) (*gorm.DB, error) {
	dsn, err := utils.PostgresDsn(uri)
	if err != nil {
		return nil, fmt.Errorf("error parsing db uri: %w", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("error opening database connection: %w", err)
	}

	if err := db.AutoMigrate(schema.Models()...); err != nil {
		return nil, fmt.Errorf("error migrating db schema: %w", err)
	}
	return db, nil
}

// initKV uses redis when REDIS_HOST is set and an in process store otherwise.
func initKV(cfg RedisEnv) (kvstore.Store, error) {
	if cfg.Host == "" {
		slog.Warn("REDIS_HOST not set, using in memory key value store", logging.Code(logging.SYSTEM))
		return kvstore.NewMemory(), nil
	}
	return kvstore.NewRedis(kvstore.RedisOptions{
		Addr:     fmt.Sprintf("%v:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		Prefix:   "nodedash:",
	})
}

func openLog(dir, name string) (*os.File, error) {
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
}

// The defer calls don't run if we exit with log.Fatalf, so errors are returned
// from here and reported in main.
func runApp() error {
	envFile := flag.String("env", "", "File to load env variables from. If not specified will just load them from the environment variables already defined.")
	port := flag.Int("port", 8001, "Port to run server on")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			return fmt.Errorf("error loading .env file '%v': %w", *envFile, err)
		}
	}

	cfg, err := loadEnv()
	if err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := os.MkdirAll(cfg.LogDir, 0777); err != nil {
		return fmt.Errorf("error creating log dir: %w", err)
	}

	logFile, err := openLog(cfg.LogDir, "device_manager.log")
	if err != nil {
		return fmt.Errorf("error opening log file: %w", err)
	}
	defer logFile.Close()

	auditLog, err := openLog(cfg.LogDir, "audit.log")
	if err != nil {
		return fmt.Errorf("error opening audit log file: %w", err)
	}
	defer auditLog.Close()

	initLogging(logFile)

	db, err := initDb(cfg.DatabaseUri)
	if err != nil {
		return err
	}

	kv, err := initKV(cfg.Redis)
	if err != nil {
		return err
	}
	defer kv.Close()

	notifier, err := notify.New(cfg.notifyConfig())
	if err != nil {
		return err
	}

	catalog, err := chirpstack.LoadRegionCatalog(cfg.ChirpstackRegionsFile)
	if err != nil {
		return err
	}

	userAuth, err := auth.NewBasicIdentityProvider(
		db,
		auth.NewAuditLogger(auditLog),
		auth.BasicProviderArgs{
			Secret:                []byte(cfg.JwtSecret),
			AdminUsername:         cfg.FirstSuperuserUsername,
			AdminEmail:            cfg.FirstSuperuserEmail,
			AdminPassword:         cfg.FirstSuperuserPassword,
			TokenExpiry:           time.Duration(cfg.AccessTokenExpireMinutes) * time.Minute,
			RememberMeTokenExpiry: time.Duration(cfg.AccessTokenExpireMinutesRememberMe) * time.Minute,
		},
	)
	if err != nil {
		return fmt.Errorf("error creating identity provider: %w", err)
	}

	deviceManager := services.NewDeviceManager(
		db,
		userAuth,
		services.Backends{
			KV:             kv,
			Notifier:       notifier,
			NetworkServers: chirpstack.NewFactory(cfg.externalTimeout()),
			TimeSeries:     storage.NewFactory(cfg.externalTimeout()),
		},
		services.Variables{
			ProjectName:    cfg.ProjectName,
			WebsiteAddress: strings.TrimSuffix(cfg.WebsiteAddress, "/"),
			IngestAddress:  strings.TrimSuffix(cfg.IngestAddress, "/"),
			MaintenanceKey: cfg.SecretKey,
			RegionCatalog:  catalog,
		},
		[]byte(cfg.JwtSecret),
	)

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Mount("/api/v1", deviceManager.Routes())
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutdown signal received", logging.Code(logging.SYSTEM))
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("http server shutdown", "error", err)
		}
		close(idleConnsClosed)
	}()

	slog.Info("starting server", "port", *port, logging.Code(logging.SYSTEM))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve returned error: %w", err)
	}

	<-idleConnsClosed
	return nil
}

func main() {
	if err := runApp(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}
