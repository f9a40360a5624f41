package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"nodedash/device_manager/apperr"
	"nodedash/device_manager/schema"

	"gorm.io/gorm"
)

const DefaultRetentionDays = 1

type historyTable struct {
	name  string
	model interface{}
}

func historyTables() []historyTable {
	return []historyTable{
		{name: "device_history", model: &schema.DeviceHistory{}},
		{name: "flow_history", model: &schema.FlowHistory{}},
		{name: "function_history", model: &schema.FunctionHistory{}},
		{name: "integration_history", model: &schema.IntegrationHistory{}},
		{name: "label_history", model: &schema.LabelHistory{}},
	}
}

func TableNames() []string {
	tables := historyTables()
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		names = append(names, t.name)
	}
	return names
}

// Cleanup deletes every history row older than now minus retentionDays. The
// deletes run in a single transaction so a failure on any table leaves all
// tables untouched.
func Cleanup(ctx context.Context, db *gorm.DB, retentionDays int, now time.Time) (map[string]int64, error) {
	if retentionDays < 0 {
		return nil, apperr.Newf(apperr.Validation, "retention days must be non-negative, got %d", retentionDays)
	}

	cutoff := now.UTC().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	counts := make(map[string]int64)

	err := db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		for _, table := range historyTables() {
			result := txn.Where("timestamp < ?", cutoff).Delete(table.model)
			if result.Error != nil {
				slog.Error("sql error deleting expired history", "table", table.name, "cutoff", cutoff, "error", result.Error)
				return fmt.Errorf("error cleaning %v: %w", table.name, schema.ErrDbAccessFailed)
			}
			counts[table.name] = result.RowsAffected
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("history cleanup failed: %w", err)
	}

	slog.Info("history cleanup complete", "retention_days", retentionDays, "cutoff", cutoff, "deleted", counts)

	return counts, nil
}
