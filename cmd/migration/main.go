package main

import (
	"flag"
	"log"

	"nodedash/cmd/migration/versions"
	"nodedash/device_manager/schema"
	"nodedash/utils"

	"github.com/caarlos0/env/v10"
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type migrationEnv struct {
	DatabaseUri string `env:"DATABASE_URI"`
}

func main() {
	envFile := flag.String("env", "", "File to load env variables from.")
	dbUri := flag.String("db_uri", "", "Database URI, overrides DATABASE_URI")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.Fatalf("error loading .env file '%v': %v", *envFile, err)
		}
	}

	var cfg migrationEnv
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing env: %v", err)
	}
	if *dbUri != "" {
		cfg.DatabaseUri = *dbUri
	}
	if cfg.DatabaseUri == "" {
		log.Fatalf("Missing DATABASE_URI env var or --db_uri arg")
	}

	dsn, err := utils.PostgresDsn(cfg.DatabaseUri)
	if err != nil {
		log.Fatalf("error parsing db uri: %v", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("error opening database connection: %v", err)
	}

	migration := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			// Schema as left by the previous backend.
			ID:      "0",
			Migrate: func(*gorm.DB) error { return nil },
		},
		{
			ID:      "1",
			Migrate: versions.Migration_1_drop_owner_foreign_keys,
		},
		{
			ID:      "2",
			Migrate: versions.Migration_2_provider_table,
			// Not reversible, the enum is dropped.
		},
		{
			ID:      "3",
			Migrate: versions.Migration_3_unique_resource_names,
		},
	})

	migration.InitSchema(func(txn *gorm.DB) error {
		log.Println("clean database detected, running full schema initialization")

		return txn.AutoMigrate(schema.Models()...)
	})

	if err := migration.Migrate(); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	log.Println("migration completed successfully")
}
