package retention

import (
	"context"
	"fmt"
	"testing"
	"time"

	"nodedash/device_manager/apperr"
	"nodedash/device_manager/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openTestDb(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(schema.Models()...))
	return db
}

func seedHistory(t *testing.T, db *gorm.DB, ts time.Time, n int) {
	for i := 0; i < n; i++ {
		require.NoError(t, db.Create(&schema.DeviceHistory{DeviceId: 1, Event: "status_change", Timestamp: ts}).Error)
		require.NoError(t, db.Create(&schema.FlowHistory{FlowId: 1, Status: schema.ExecutionSuccess, Timestamp: ts}).Error)
		require.NoError(t, db.Create(&schema.FunctionHistory{FunctionId: 1, Status: schema.ExecutionSuccess, Timestamp: ts}).Error)
		require.NoError(t, db.Create(&schema.IntegrationHistory{IntegrationId: 1, Status: schema.ExecutionSuccess, Timestamp: ts}).Error)
		require.NoError(t, db.Create(&schema.LabelHistory{LabelId: 1, Event: "device_added", Timestamp: ts}).Error)
	}
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	var count int64
	require.NoError(t, db.Model(model).Count(&count).Error)
	return count
}

func TestCleanupDeletesOnlyExpiredRows(t *testing.T) {
	db := openTestDb(t)
	now := time.Now().UTC()

	seedHistory(t, db, now.Add(-48*time.Hour), 2)
	seedHistory(t, db, now.Add(-time.Hour), 1)

	counts, err := Cleanup(context.Background(), db, 1, now)
	require.NoError(t, err)

	require.Len(t, counts, 5)
	for _, name := range TableNames() {
		assert.Equal(t, int64(2), counts[name], name)
	}

	assert.Equal(t, int64(1), countRows(t, db, &schema.DeviceHistory{}))
	assert.Equal(t, int64(1), countRows(t, db, &schema.FlowHistory{}))
	assert.Equal(t, int64(1), countRows(t, db, &schema.FunctionHistory{}))
	assert.Equal(t, int64(1), countRows(t, db, &schema.IntegrationHistory{}))
	assert.Equal(t, int64(1), countRows(t, db, &schema.LabelHistory{}))
}

func TestCleanupZeroDaysRemovesEverythingBeforeNow(t *testing.T) {
	db := openTestDb(t)
	now := time.Now().UTC()

	seedHistory(t, db, now.Add(-time.Minute), 1)

	counts, err := Cleanup(context.Background(), db, 0, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["label_history"])
	assert.Equal(t, int64(0), countRows(t, db, &schema.LabelHistory{}))
}

func TestCleanupIsAtomic(t *testing.T) {
	db := openTestDb(t)
	now := time.Now().UTC()

	seedHistory(t, db, now.Add(-72*time.Hour), 1)
	require.NoError(t, db.Migrator().DropTable(&schema.LabelHistory{}))

	_, err := Cleanup(context.Background(), db, 1, now)
	require.Error(t, err)

	assert.Equal(t, int64(1), countRows(t, db, &schema.DeviceHistory{}))
	assert.Equal(t, int64(1), countRows(t, db, &schema.FlowHistory{}))
	assert.Equal(t, int64(1), countRows(t, db, &schema.FunctionHistory{}))
	assert.Equal(t, int64(1), countRows(t, db, &schema.IntegrationHistory{}))
}

func TestCleanupRejectsNegativeRetention(t *testing.T) {
	db := openTestDb(t)

	_, err := Cleanup(context.Background(), db, -1, time.Now())
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
}
