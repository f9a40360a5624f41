package versions

import (
	"log"

	"gorm.io/gorm"
)

// Tables whose owner_id used to reference users. Ownership is polymorphic, so
// the owner can now be a team as well.
var ownedTables = []string{"integrations", "devices", "flows", "functions", "labels", "storage"}

func dropConstraints(txn *gorm.DB, table string, constraints ...string) error {
	for _, constraint := range constraints {
		if !txn.Migrator().HasConstraint(table, constraint) {
			continue
		}
		if err := txn.Migrator().DropConstraint(table, constraint); err != nil {
			return err
		}
		log.Printf("dropped constraint %v on %v", constraint, table)
	}
	return nil
}

func Migration_1_drop_owner_foreign_keys(txn *gorm.DB) error {
	for _, table := range ownedTables {
		if !txn.Migrator().HasTable(table) {
			continue
		}
		if err := dropConstraints(txn, table, table+"_owner_id_fkey"); err != nil {
			return err
		}
	}
	return nil
}
