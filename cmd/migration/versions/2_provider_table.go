package versions

import (
	"log"

	"nodedash/device_manager/schema"

	"gorm.io/gorm"
)

func hasEnumType(txn *gorm.DB, name string) (bool, error) {
	if txn.Dialector.Name() != "postgres" {
		return false, nil
	}
	var count int64
	err := txn.Raw("SELECT COUNT(*) FROM pg_type WHERE typname = ?", name).Scan(&count).Error
	return count > 0, err
}

/*
 * Providers used to live in the storage table with provider_type as a postgres
 * enum. The table is renamed and the column becomes plain text so that new
 * provider types (influxdb) do not need an enum migration.
 */
func Migration_2_provider_table(txn *gorm.DB) error {
	if txn.Migrator().HasTable("storage") && !txn.Migrator().HasTable("providers") {
		if err := txn.Migrator().RenameTable("storage", "providers"); err != nil {
			return err
		}
		log.Println("renamed table storage to providers")
	}

	enum, err := hasEnumType(txn, "provider_type")
	if err != nil {
		return err
	}
	if enum && txn.Migrator().HasTable("providers") {
		err := txn.Exec("ALTER TABLE providers ALTER COLUMN provider_type TYPE varchar(20) USING lower(provider_type::text)").Error
		if err != nil {
			return err
		}
		if err := txn.Exec("DROP TYPE IF EXISTS provider_type").Error; err != nil {
			return err
		}
		log.Println("converted providers.provider_type to text")
	}

	return txn.AutoMigrate(&schema.Provider{})
}
