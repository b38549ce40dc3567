package localstore

import (
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "local.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Item{}))
	return db
}

func exerciseStorage(t *testing.T, storage Storage) {
	t.Helper()
	_, ok, err := storage.GetItem("homeworkData")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, storage.SetItem("homeworkData", `{"10-M":{}}`))
	require.NoError(t, storage.SetItem("homeworkData", `{"11-A":{}}`))
	require.NoError(t, storage.SetItem("pendingChanges", `[]`))

	value, ok, err := storage.GetItem("homeworkData")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"11-A":{}}`, value)

	keys, err := storage.Keys()
	require.NoError(t, err)
	require.Equal(t, []string{"homeworkData", "pendingChanges"}, keys)

	require.NoError(t, storage.RemoveItem("homeworkData"))
	require.NoError(t, storage.RemoveItem("homeworkData"))
	_, ok, err = storage.GetItem("homeworkData")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStorage(t *testing.T) {
	exerciseStorage(t, NewMemoryStorage())
}

func TestSQLiteStorage(t *testing.T) {
	storage, err := NewSQLiteStorage(SQLiteStorageConfig{Database: openTestDatabase(t)})
	require.NoError(t, err)
	exerciseStorage(t, storage)
}

func TestSQLiteStorageSurvivesReopen(t *testing.T) {
	db := openTestDatabase(t)
	first, err := NewSQLiteStorage(SQLiteStorageConfig{
		Database: db,
		Clock:    func() time.Time { return time.Unix(1700000000, 0) },
	})
	require.NoError(t, err)
	require.NoError(t, first.SetItem("school_last_key", "k-1"))

	second, err := NewSQLiteStorage(SQLiteStorageConfig{Database: db})
	require.NoError(t, err)
	value, ok, err := second.GetItem("school_last_key")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "k-1", value)

	var item Item
	require.NoError(t, db.Where("item_key = ?", "school_last_key").Take(&item).Error)
	require.Equal(t, int64(1700000000), item.UpdatedAtSeconds)
}

func TestNewSQLiteStorageRequiresDatabase(t *testing.T) {
	_, err := NewSQLiteStorage(SQLiteStorageConfig{})
	require.Error(t, err)
}
