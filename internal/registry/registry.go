package registry

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"datalab-service/internal/models"
	"datalab-service/internal/storage"
	"datalab-service/internal/workbook"
)

var (
	ErrVersionNotFound = errors.New("dataset version not found")
	ErrNoActiveVersion = errors.New("no active dataset version")
)

// Environment selects which active flag an operation reads or writes.
type Environment string

const (
	Production Environment = "production"
	Staging    Environment = "staging"
)

func ParseEnvironment(s string) (Environment, error) {
	switch Environment(strings.ToLower(s)) {
	case Production, "":
		return Production, nil
	case Staging:
		return Staging, nil
	default:
		return "", fmt.Errorf("unknown environment %q", s)
	}
}

func (e Environment) column() string {
	if e == Staging {
		return "is_active_staging"
	}
	return "is_active_production"
}

// Registry manages DatasetVersion records.
type Registry struct {
	convention Convention
	storage    storage.FileStorage
	prefix     string
	log        logrus.FieldLogger
}

// Option configures a Registry.
type Option func(r *Registry)

func WithConvention(c Convention) Option {
	return func(r *Registry) { r.convention = c }
}

// WithStorage makes uploads copy the file to fs under prefix and makes List
// include the files found there.
func WithStorage(fs storage.FileStorage, prefix string) Option {
	return func(r *Registry) {
		r.storage = fs
		r.prefix = prefix
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Registry) { r.log = log }
}

func New(opts ...Option) *Registry {
	r := &Registry{convention: DefaultConvention(), log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Convention() Convention { return r.convention }

// Register persists an inactive record for the file. When a record with the
// same version number exists it is returned together with a warning and no
// record is written.
func (r *Registry) Register(tx *gorm.DB, filename string, content []byte) (*models.DatasetVersion, string, error) {
	info, err := r.convention.Parse(filename)
	if err != nil {
		return nil, "", err
	}

	var existing models.DatasetVersion
	err = tx.Where("version_number = ?", info.VersionNumber).First(&existing).Error
	switch {
	case err == nil:
		warning := fmt.Sprintf("dataset version %d is already registered as %q; the import continues with the supplied file", info.VersionNumber, existing.Name)
		return &existing, warning, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, "", err
	}

	v := &models.DatasetVersion{
		Name:          info.Name,
		Data:          content,
		Hash:          workbook.Fingerprint(content),
		UploadDate:    info.UploadDate,
		VersionNumber: info.VersionNumber,
		DatasetType:   info.Kind,
	}
	if err := tx.Create(v).Error; err != nil {
		return nil, "", err
	}
	r.log.WithFields(logrus.Fields{"dataset": v.Name, "version": v.VersionNumber}).Info("Registered dataset version")
	return v, "", nil
}

// Upload registers an administrator-supplied file outside of an import. A
// different file already registered under the same display name is an
// ExistingDatasetError; the identical file is returned as is.
func (r *Registry) Upload(ctx context.Context, db *gorm.DB, filename string, content []byte) (*models.DatasetVersion, error) {
	out, err := r.upload(ctx, db, filename, content)
	if err != nil {
		return nil, err
	}
	if r.storage != nil {
		if _, err := r.storage.Store(ctx, content, r.prefix+path.Base(filename)); err != nil {
			r.log.WithError(err).WithField("dataset", out.Name).Warn("Failed to copy dataset to file storage")
		}
	}
	return out, nil
}

func (r *Registry) upload(ctx context.Context, db *gorm.DB, filename string, content []byte) (*models.DatasetVersion, error) {
	info, err := r.convention.Parse(filename)
	if err != nil {
		return nil, err
	}
	var out *models.DatasetVersion
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.DatasetVersion
		err := tx.Where("name = ?", info.Name).First(&existing).Error
		if err == nil {
			if existing.Hash != workbook.Fingerprint(content) {
				return &models.ExistingDatasetError{Name: info.Name}
			}
			out = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		v, warning, err := r.Register(tx, filename, content)
		if err != nil {
			return err
		}
		if warning != "" {
			return fmt.Errorf("version %d is already taken by %q", info.VersionNumber, v.Name)
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterActive marks id active in env and every other version inactive in
// env, atomically.
func (r *Registry) RegisterActive(tx *gorm.DB, id uint, env Environment) error {
	col := env.column()
	return tx.Transaction(func(tx *gorm.DB) error {
		var v models.DatasetVersion
		if err := tx.Select("id").First(&v, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %d", ErrVersionNotFound, id)
			}
			return err
		}
		if err := tx.Model(&models.DatasetVersion{}).
			Where("id <> ? AND "+col+" = ?", id, true).
			Update(col, false).Error; err != nil {
			return err
		}
		return tx.Model(&models.DatasetVersion{}).Where("id = ?", id).Update(col, true).Error
	})
}

// RegisterAllInactive clears both active flags on every version.
func (r *Registry) RegisterAllInactive(tx *gorm.DB) error {
	return tx.Model(&models.DatasetVersion{}).
		Where("is_active_production = ? OR is_active_staging = ?", true, true).
		Updates(map[string]interface{}{"is_active_production": false, "is_active_staging": false}).Error
}

// GetActive returns the active version of env.
func (r *Registry) GetActive(db *gorm.DB, env Environment) (*models.DatasetVersion, error) {
	var v models.DatasetVersion
	err := db.Where(env.column()+" = ?", true).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoActiveVersion
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ActiveFingerprint returns the fingerprint of the content loaded for env's
// active version, or "" when none is active. An import that reused a taken
// version number loads different bytes than the version's own blob, so the
// latest ingestion record of the version wins over its Hash.
func (r *Registry) ActiveFingerprint(db *gorm.DB, env Environment) (string, error) {
	var versions []models.DatasetVersion
	if err := db.Select("id", "hash").Where(env.column()+" = ?", true).Limit(1).Find(&versions).Error; err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return "", nil
	}
	loaded, err := r.LoadedFingerprint(db, versions[0].ID, models.MetadataTypeAPI)
	if err != nil {
		return "", err
	}
	if loaded != "" {
		return loaded, nil
	}
	return versions[0].Hash, nil
}

// LoadedFingerprint returns the fingerprint of the latest file of kind
// (api or ui) ingested as version id, or "" when none was.
func (r *Registry) LoadedFingerprint(db *gorm.DB, id uint, kind string) (string, error) {
	var prints []string
	err := db.Model(&models.ApiMetadata{}).
		Where("dataset_version_id = ? AND type = ?", id, kind).
		Order("id desc").Limit(1).Pluck("fingerprint", &prints).Error
	if err != nil || len(prints) == 0 {
		return "", err
	}
	return prints[0], nil
}

func (r *Registry) Get(db *gorm.DB, id uint) (*models.DatasetVersion, error) {
	var v models.DatasetVersion
	if err := db.First(&v, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrVersionNotFound, id)
		}
		return nil, err
	}
	return &v, nil
}

// Listing is one entry of List.
type Listing struct {
	Name               string `json:"name"`
	ID                 uint   `json:"id,omitempty"`
	VersionNumber      int    `json:"version_number"`
	DatasetType        string `json:"dataset_type"`
	IsActiveStaging    bool   `json:"is_active_staging"`
	IsActiveProduction bool   `json:"is_active_production"`
	Local              bool   `json:"local"`
	StorageID          string `json:"storage_id,omitempty"`
}

// List returns the registered versions plus the dataset files found on file
// storage, deduplicated by display name and sorted by version number.
func (r *Registry) List(ctx context.Context, db *gorm.DB) ([]Listing, error) {
	var versions []models.DatasetVersion
	if err := db.WithContext(ctx).Omit("data").Order("version_number").Find(&versions).Error; err != nil {
		return nil, err
	}
	byName := make(map[string]*Listing, len(versions))
	out := make([]*Listing, 0, len(versions))
	for _, v := range versions {
		l := &Listing{
			Name: v.Name, ID: v.ID, VersionNumber: v.VersionNumber, DatasetType: v.DatasetType,
			IsActiveStaging: v.IsActiveStaging, IsActiveProduction: v.IsActiveProduction, Local: true,
		}
		byName[v.Name] = l
		out = append(out, l)
	}

	if r.storage != nil {
		ids, err := r.storage.List(ctx, r.prefix)
		if err != nil {
			return nil, fmt.Errorf("failed to list file storage: %w", err)
		}
		for _, id := range ids {
			info, err := r.convention.Parse(id)
			if err != nil {
				r.log.WithField("object", id).Debug("Skipping object that is not a dataset file")
				continue
			}
			if l, ok := byName[info.Name]; ok {
				l.StorageID = id
				continue
			}
			l := &Listing{Name: info.Name, VersionNumber: info.VersionNumber, DatasetType: info.Kind, StorageID: id}
			byName[info.Name] = l
			out = append(out, l)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })
	result := make([]Listing, len(out))
	for i, l := range out {
		result[i] = *l
	}
	return result, nil
}

// Pull fetches a dataset file from file storage and registers it.
func (r *Registry) Pull(ctx context.Context, db *gorm.DB, storageID string) (*models.DatasetVersion, error) {
	if r.storage == nil {
		return nil, errors.New("no file storage configured")
	}
	content, err := r.storage.Fetch(ctx, storageID)
	if err != nil {
		return nil, err
	}
	return r.upload(ctx, db, storageID, content)
}
