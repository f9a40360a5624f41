package versions

import (
	"fmt"
	"log"

	"nodedash/device_manager/schema"

	"gorm.io/gorm"
)

// Migration_3_unique_resource_names adds unique constraints on the names of
// flows, functions, integrations and labels. Existing duplicates must be
// renamed by hand before it can run.
func Migration_3_unique_resource_names(txn *gorm.DB) error {
	for _, table := range []string{"flows", "functions", "integrations", "labels"} {
		var dups []string
		err := txn.Table(table).Select("name").Group("name").Having("COUNT(*) > 1").Pluck("name", &dups).Error
		if err != nil {
			return err
		}
		if len(dups) > 0 {
			return fmt.Errorf("table %v has duplicate names %v, rename them before migrating", table, dups)
		}
	}

	if err := txn.AutoMigrate(&schema.Flow{}, &schema.Function{}, &schema.Integration{}, &schema.Label{}); err != nil {
		return err
	}
	log.Println("added unique name constraints")
	return nil
}
