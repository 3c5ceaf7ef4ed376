package registry

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"datalab-service/internal/database/dbtest"
	"datalab-service/internal/models"
	"datalab-service/internal/storage"
)

func TestParseFilename(t *testing.T) {
	info, err := DefaultConvention().Parse("/uploads/api_data-2024.03.15-v12-pma.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "api_data-2024.03.15-v12-pma", info.Name)
	assert.Equal(t, "api_data", info.Prefix)
	assert.Equal(t, 12, info.VersionNumber)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), info.UploadDate)
	assert.Equal(t, models.DatasetFull, info.Kind)

	info, err = DefaultConvention().Parse("api_metadata-20240102-3-x.xlsx")
	require.NoError(t, err)
	assert.Equal(t, 3, info.VersionNumber)
	assert.Equal(t, models.DatasetMetadata, info.Kind)
}

func TestParseFilenameErrors(t *testing.T) {
	for _, name := range []string{"api.xlsx", "api_data-2024.03.15-vX-pma.xlsx", "api_data-March-v1-pma.xlsx"} {
		_, err := DefaultConvention().Parse(name)
		assert.Error(t, err, name)
	}
}

func TestConfigurableConvention(t *testing.T) {
	c := DefaultConvention()
	c.Delimiter = "_"
	c.DatePosition = 2
	c.VersionPosition = 1
	info, err := c.Parse("ui_7_2023.01.01.xlsx")
	require.NoError(t, err)
	assert.Equal(t, 7, info.VersionNumber)
}

func register(t *testing.T, r *Registry, db *gorm.DB, name string) *models.DatasetVersion {
	t.Helper()
	v, warning, err := r.Register(db, name, []byte(name))
	require.NoError(t, err)
	require.Empty(t, warning)
	return v
}

func countActive(t *testing.T, db *gorm.DB, col string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.DatasetVersion{}).Where(col+" = ?", true).Count(&n).Error)
	return n
}

func TestRegisterCreatesInactiveVersion(t *testing.T) {
	db := dbtest.New(t)
	r := New()
	v := register(t, r, db, "api_data-2024.01.01-v1-pma.xlsx")
	assert.NotZero(t, v.ID)
	assert.False(t, v.IsActiveProduction)
	assert.False(t, v.IsActiveStaging)
	assert.Len(t, v.Hash, 64)
	assert.Equal(t, []byte("api_data-2024.01.01-v1-pma.xlsx"), v.Data)
}

func TestRegisterDuplicateVersionWarns(t *testing.T) {
	db := dbtest.New(t)
	r := New()
	first := register(t, r, db, "api_data-2024.01.01-v1-pma.xlsx")

	v, warning, err := r.Register(db, "api_data-2024.02.01-v1-other.xlsx", []byte("different"))
	require.NoError(t, err)
	assert.NotEmpty(t, warning)
	assert.Equal(t, first.ID, v.ID)

	var n int64
	require.NoError(t, db.Model(&models.DatasetVersion{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestRegisterActiveKeepsSingleActive(t *testing.T) {
	db := dbtest.New(t)
	r := New()
	var ids []uint
	for _, name := range []string{
		"api_data-2024.01.01-v1-a.xlsx",
		"api_data-2024.01.02-v2-a.xlsx",
		"api_data-2024.01.03-v3-a.xlsx",
		"api_data-2024.01.04-v4-a.xlsx",
	} {
		ids = append(ids, register(t, r, db, name).ID)
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 25; i++ {
		id := ids[rng.Intn(len(ids))]
		require.NoError(t, r.RegisterActive(db, id, Production))
		assert.Equal(t, int64(1), countActive(t, db, "is_active_production"))

		active, err := r.GetActive(db, Production)
		require.NoError(t, err)
		assert.Equal(t, id, active.ID)
	}
	assert.Zero(t, countActive(t, db, "is_active_staging"), "environments are independent")

	require.NoError(t, r.RegisterActive(db, ids[0], Staging))
	assert.Equal(t, int64(1), countActive(t, db, "is_active_staging"))
	assert.Equal(t, int64(1), countActive(t, db, "is_active_production"))
}

func TestRegisterActiveUnknownVersion(t *testing.T) {
	db := dbtest.New(t)
	r := New()
	v := register(t, r, db, "api_data-2024.01.01-v1-a.xlsx")
	require.NoError(t, r.RegisterActive(db, v.ID, Production))

	err := r.RegisterActive(db, 999, Production)
	assert.True(t, errors.Is(err, ErrVersionNotFound))
	assert.Equal(t, int64(1), countActive(t, db, "is_active_production"), "failed activation changes nothing")
}

func TestRegisterAllInactive(t *testing.T) {
	db := dbtest.New(t)
	r := New()
	v := register(t, r, db, "api_data-2024.01.01-v1-a.xlsx")
	require.NoError(t, r.RegisterActive(db, v.ID, Production))
	require.NoError(t, r.RegisterActive(db, v.ID, Staging))

	require.NoError(t, r.RegisterAllInactive(db))
	_, err := r.GetActive(db, Production)
	assert.True(t, errors.Is(err, ErrNoActiveVersion))
	fp, err := r.ActiveFingerprint(db, Staging)
	require.NoError(t, err)
	assert.Empty(t, fp)
}

func TestActiveFingerprintPrefersLoadedContent(t *testing.T) {
	db := dbtest.New(t)
	r := New()
	v := register(t, r, db, "api_data-2024.01.01-v1-a.xlsx")
	require.NoError(t, r.RegisterActive(db, v.ID, Production))

	fp, err := r.ActiveFingerprint(db, Production)
	require.NoError(t, err)
	assert.Equal(t, v.Hash, fp, "no ingestion record yet")

	require.NoError(t, db.Create(&models.ApiMetadata{
		Name: "api_data-2024.02.01-v1-b.xlsx", Type: models.MetadataTypeAPI, Fingerprint: "loaded", DatasetVersionID: v.ID,
	}).Error)
	require.NoError(t, db.Create(&models.ApiMetadata{
		Name: "ui.xlsx", Type: models.MetadataTypeUI, Fingerprint: "ui", DatasetVersionID: v.ID,
	}).Error)

	fp, err = r.ActiveFingerprint(db, Production)
	require.NoError(t, err)
	assert.Equal(t, "loaded", fp)
	ui, err := r.LoadedFingerprint(db, v.ID, models.MetadataTypeUI)
	require.NoError(t, err)
	assert.Equal(t, "ui", ui)
}

func TestUploadRejectsDifferentDatasetWithSameName(t *testing.T) {
	db := dbtest.New(t)
	r := New()
	ctx := context.Background()

	v, err := r.Upload(ctx, db, "api_data-2024.01.01-v1-a.xlsx", []byte("one"))
	require.NoError(t, err)

	again, err := r.Upload(ctx, db, "api_data-2024.01.01-v1-a.xlsx", []byte("one"))
	require.NoError(t, err)
	assert.Equal(t, v.ID, again.ID)

	_, err = r.Upload(ctx, db, "api_data-2024.01.01-v1-a.xlsx", []byte("two"))
	var existsErr *models.ExistingDatasetError
	require.ErrorAs(t, err, &existsErr)
	assert.Equal(t, "api_data-2024.01.01-v1-a", existsErr.Name)
}

func TestListMergesStorage(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	fs, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	r := New(WithStorage(fs, "datasets/"))

	_, err = r.Upload(ctx, db, "api_data-2024.01.01-v1-a.xlsx", []byte("one"))
	require.NoError(t, err)
	_, err = fs.Store(ctx, []byte("two"), "datasets/api_data-2024.02.01-v2-a.xlsx")
	require.NoError(t, err)
	_, err = fs.Store(ctx, []byte("junk"), "datasets/readme.txt")
	require.NoError(t, err)

	list, err := r.List(ctx, db)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].Local)
	assert.Equal(t, "datasets/api_data-2024.01.01-v1-a.xlsx", list[0].StorageID)
	assert.False(t, list[1].Local)
	assert.Equal(t, 2, list[1].VersionNumber)

	pulled, err := r.Pull(ctx, db, list[1].StorageID)
	require.NoError(t, err)
	assert.Equal(t, "api_data-2024.02.01-v2-a", pulled.Name)
	assert.Equal(t, []byte("two"), pulled.Data)
}

func TestParseEnvironment(t *testing.T) {
	env, err := ParseEnvironment("STAGING")
	require.NoError(t, err)
	assert.Equal(t, Staging, env)
	env, err = ParseEnvironment("")
	require.NoError(t, err)
	assert.Equal(t, Production, env)
	_, err = ParseEnvironment("qa")
	assert.Error(t, err)
}
