package models

import (
	"time"
)

// Dataset kinds recorded on DatasetVersion.DatasetType.
const (
	DatasetFull     = "full"
	DatasetData     = "data"
	DatasetMetadata = "metadata"
)

// ApiMetadata types.
const (
	MetadataTypeAPI = "api"
	MetadataTypeUI  = "ui"
)

// Task states.
const (
	TaskQueued    = "QUEUED"
	TaskRunning   = "RUNNING"
	TaskSucceeded = "SUCCEEDED"
	TaskFailed    = "FAILED"
)

// EnglishString is the canonical English text of a localized string.
// Code is the join key used by every other table; English is only looked up by
// exact text while ingesting.
type EnglishString struct {
	ID      uint   `json:"-" gorm:"primaryKey"`
	Code    string `json:"code" gorm:"type:varchar(16);not null;uniqueIndex"`
	English string `json:"english" gorm:"type:text;not null"`
}

// Translation is one language rendering of an EnglishString.
type Translation struct {
	ID           uint   `json:"-" gorm:"primaryKey"`
	EnglishID    uint   `json:"-" gorm:"not null;uniqueIndex:idx_translation_lang"`
	LanguageCode string `json:"language_code" gorm:"type:varchar(16);not null;uniqueIndex:idx_translation_lang"`
	Translation  string `json:"translation" gorm:"type:text;not null"`
}

// Geography is a survey geography level (national, regional, ...).
type Geography struct {
	ID       uint   `json:"-" gorm:"primaryKey"`
	Code     string `json:"id" gorm:"type:varchar(64);not null;uniqueIndex"`
	Order    int    `json:"order" gorm:"column:ordering;uniqueIndex"`
	LabelID  uint   `json:"-" gorm:"not null"`
	Type     string `json:"type,omitempty" gorm:"type:varchar(64)"`
	Subclass string `json:"subclass,omitempty" gorm:"type:varchar(64)"`
}

// Country groups surveys.
type Country struct {
	ID        uint   `json:"-" gorm:"primaryKey"`
	Code      string `json:"id" gorm:"type:varchar(64);not null;uniqueIndex"`
	Order     int    `json:"order" gorm:"column:ordering;uniqueIndex"`
	LabelID   uint   `json:"-" gorm:"not null"`
	Region    string `json:"region,omitempty" gorm:"type:varchar(128)"`
	Subregion string `json:"subregion,omitempty" gorm:"type:varchar(128)"`
}

// Survey is one survey round in a country.
type Survey struct {
	ID          uint       `json:"-" gorm:"primaryKey"`
	Code        string     `json:"id" gorm:"type:varchar(64);not null;uniqueIndex"`
	Order       int        `json:"order" gorm:"column:ordering;uniqueIndex"`
	LabelID     uint       `json:"-" gorm:"not null"`
	CountryID   uint       `json:"-" gorm:"not null;index"`
	GeographyID *uint      `json:"-" gorm:"index"`
	PartnerID   *uint      `json:"-"`
	Type        string     `json:"type,omitempty" gorm:"type:varchar(64)"`
	Year        int        `json:"year"`
	Round       int        `json:"round"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
}

// CharacteristicGroup is a family of disaggregation characteristics.
type CharacteristicGroup struct {
	ID           uint   `json:"-" gorm:"primaryKey"`
	Code         string `json:"id" gorm:"type:varchar(64);not null;uniqueIndex"`
	Order        int    `json:"order" gorm:"column:ordering;uniqueIndex"`
	LabelID      uint   `json:"-" gorm:"not null"`
	DefinitionID *uint  `json:"-"`
}

// Characteristic is one disaggregation value within a group.
type Characteristic struct {
	ID        uint   `json:"-" gorm:"primaryKey"`
	Code      string `json:"id" gorm:"type:varchar(64);not null;uniqueIndex"`
	Order     int    `json:"order" gorm:"column:ordering;uniqueIndex"`
	LabelID   uint   `json:"-" gorm:"not null"`
	CharGrpID uint   `json:"-" gorm:"not null;index"`
}

// Indicator is a measured quantity.
type Indicator struct {
	ID              uint   `json:"-" gorm:"primaryKey"`
	Code            string `json:"id" gorm:"type:varchar(64);not null;uniqueIndex"`
	Order           int    `json:"order" gorm:"column:ordering;uniqueIndex"`
	LabelID         uint   `json:"-" gorm:"not null"`
	DefinitionID    *uint  `json:"-"`
	DomainID        *uint  `json:"-"`
	Type            string `json:"type,omitempty" gorm:"type:varchar(64)"`
	MeasurementType string `json:"measurement_type,omitempty" gorm:"type:varchar(64)"`
	Abbreviation    string `json:"abbreviation,omitempty" gorm:"type:varchar(128)"`
	IsFavorite      bool   `json:"is_favorite"`
}

// Datum is one measurement. Rows are never updated in place.
type Datum struct {
	ID          uint     `json:"-" gorm:"primaryKey"`
	Code        string   `json:"id" gorm:"type:varchar(8);not null;uniqueIndex"`
	Value       *float64 `json:"value"`
	LowerCI     *float64 `json:"lower_ci"`
	UpperCI     *float64 `json:"upper_ci"`
	LevelCI     *float64 `json:"level_ci"`
	Precision   *int     `json:"precision"`
	IsTotal     bool     `json:"is_total"`
	DenomW      *float64 `json:"denom_w"`
	DenomUW     *float64 `json:"denom_uw"`
	SurveyID    uint     `json:"-" gorm:"not null;index"`
	IndicatorID uint     `json:"-" gorm:"not null;index"`
	Char1ID     *uint    `json:"-" gorm:"index"`
	Char2ID     *uint    `json:"-"`
	GeographyID *uint    `json:"-"`
}

// TableName keeps the measurement table name stable regardless of inflection rules.
func (Datum) TableName() string { return "data" }

// DatasetVersion is one uploaded dataset file. Only the two active flags are
// ever mutated after creation.
type DatasetVersion struct {
	ID                 uint      `json:"id" gorm:"primaryKey"`
	Name               string    `json:"name" gorm:"type:varchar(255);not null;uniqueIndex"`
	Data               []byte    `json:"-" gorm:"not null"`
	Hash               string    `json:"hash" gorm:"type:varchar(64);not null;index"`
	UploadDate         time.Time `json:"upload_date"`
	VersionNumber      int       `json:"version_number" gorm:"not null;uniqueIndex"`
	DatasetType        string    `json:"dataset_type" gorm:"type:varchar(16);not null;default:full"`
	IsActiveStaging    bool      `json:"is_active_staging" gorm:"not null;default:false"`
	IsActiveProduction bool      `json:"is_active_production" gorm:"not null;default:false"`
	CreatedAt          time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// CacheEntry is a precomputed response body. It is valid only while
// SourceDataFingerprint equals the active dataset's fingerprint.
type CacheEntry struct {
	Key                   string    `json:"key" gorm:"column:cache_key;type:varchar(255);primaryKey"`
	Value                 string    `json:"-" gorm:"type:text;not null"`
	Mimetype              string    `json:"mimetype" gorm:"type:varchar(128);not null"`
	SourceDataFingerprint string    `json:"source_data_fingerprint" gorm:"type:varchar(64);not null"`
	UpdatedAt             time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// ApiMetadata records one ingested workbook.
type ApiMetadata struct {
	ID               uint      `json:"id" gorm:"primaryKey"`
	Name             string    `json:"name" gorm:"type:varchar(255);not null"`
	Type             string    `json:"type" gorm:"type:varchar(8);not null;index"`
	Fingerprint      string    `json:"fingerprint" gorm:"type:varchar(64);not null"`
	// DatasetVersionID is the version the file was loaded as.
	DatasetVersionID uint      `json:"dataset_version_id" gorm:"index"`
	Blob             []byte    `json:"-"`
	CreatedOn        time.Time `json:"created_on" gorm:"autoCreateTime"`
}

// TableName returns the GORM table name.
func (ApiMetadata) TableName() string { return "api_metadata" }

// Task is one background import. ActiveSlot is non-null only while the task
// is active; its unique index lets the store reject a second active import.
type Task struct {
	ID         string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	Name       string    `json:"name" gorm:"type:varchar(64);not null"`
	IsActive   bool      `json:"is_active" gorm:"not null;default:false;index"`
	ActiveSlot *string   `json:"-" gorm:"type:varchar(64);uniqueIndex"`
	State      string    `json:"state" gorm:"type:varchar(16);not null"`
	Progress   float64   `json:"progress"`
	Status     string    `json:"status" gorm:"type:varchar(255)"`
	Result     string    `json:"result,omitempty" gorm:"type:text"`
	Error      string    `json:"error,omitempty" gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// StructuralModels returns the reference entities in load order.
func StructuralModels() []interface{} {
	return []interface{}{
		&Geography{}, &Country{}, &Survey{},
		&CharacteristicGroup{}, &Characteristic{}, &Indicator{},
	}
}

// DroppableModels is every table an overwrite import recreates. The dataset
// registry and the task registry are not in it.
func DroppableModels() []interface{} {
	out := []interface{}{&EnglishString{}, &Translation{}}
	out = append(out, StructuralModels()...)
	return append(out, &Datum{}, &CacheEntry{}, &ApiMetadata{})
}

// AllModels is the complete schema.
func AllModels() []interface{} {
	return append([]interface{}{&DatasetVersion{}, &Task{}}, DroppableModels()...)
}
