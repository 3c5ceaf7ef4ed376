package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"datalab-service/internal/models"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	StorageLocal = "local"
	StorageS3    = "s3"
)

// DefaultEnvFiles are loaded, when present, before the environment is parsed.
var DefaultEnvFiles = []string{".env", ".env.local"}

type DatabaseOptions struct {
	Driver     string `env:"DB_DRIVER" envDefault:"postgres"`
	Host       string `env:"DB_HOST"`
	Port       string `env:"DB_PORT" envDefault:"5432"`
	User       string `env:"DB_USER"`
	Password   string `env:"DB_PASSWORD"`
	Name       string `env:"DB_NAME"`
	SSLMode    string `env:"DB_SSLMODE" envDefault:"disable"`
	SQLitePath string `env:"DB_SQLITE_PATH" envDefault:"datalab.db"`
}

// ConnectionString returns the lib/pq DSN.
func (d *DatabaseOptions) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=%s TimeZone=UTC",
		d.Host, d.Port, d.User, d.Name, d.Password, d.SSLMode,
	)
}

// Validate reports every connection parameter the selected driver needs but
// does not have.
func (d *DatabaseOptions) Validate() error {
	var missing []string
	switch d.Driver {
	case DriverPostgres:
		for name, v := range map[string]string{"DB_HOST": d.Host, "DB_USER": d.User, "DB_NAME": d.Name} {
			if strings.TrimSpace(v) == "" {
				missing = append(missing, name)
			}
		}
	case DriverSQLite:
		if strings.TrimSpace(d.SQLitePath) == "" {
			missing = append(missing, "DB_SQLITE_PATH")
		}
	default:
		return &models.EnvironmentConfigurationError{Err: fmt.Errorf("unsupported DB_DRIVER %q", d.Driver)}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &models.EnvironmentConfigurationError{Missing: missing}
	}
	return nil
}

type StorageOptions struct {
	Backend       string `env:"STORAGE_BACKEND" envDefault:"local"`
	LocalDir      string `env:"STORAGE_LOCAL_DIR" envDefault:"./storage"`
	S3Bucket      string `env:"S3_BUCKET"`
	S3Region      string `env:"S3_REGION" envDefault:"us-east-1"`
	DatasetPrefix string `env:"S3_DATASET_PREFIX" envDefault:"datasets/"`
	BackupPrefix  string `env:"S3_BACKUP_PREFIX" envDefault:"backups/"`
}

func (s *StorageOptions) Validate() error {
	switch s.Backend {
	case StorageLocal:
		return nil
	case StorageS3:
		if s.S3Bucket == "" {
			return &models.EnvironmentConfigurationError{Missing: []string{"S3_BUCKET"}}
		}
		return nil
	default:
		return &models.EnvironmentConfigurationError{Err: fmt.Errorf("unsupported STORAGE_BACKEND %q", s.Backend)}
	}
}

type NATSOptions struct {
	Enabled bool   `env:"NATS_ENABLED" envDefault:"false"`
	URL     string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
}

type ImportOptions struct {
	DataSheetPrefix        string `env:"DATA_SHEET_PREFIX" envDefault:"data"`
	TranslationSheetPrefix string `env:"TRANSLATION_SHEET_PREFIX" envDefault:"translation"`
	UndefinedToken         string `env:"UNDEFINED_TOKEN" envDefault:"."`
	TypeSampleSize         int    `env:"TYPE_SAMPLE_SIZE" envDefault:"50"`
	FilenameDelimiter      string `env:"FILENAME_DELIMITER" envDefault:"-"`
	FilenameDatePosition   int    `env:"FILENAME_DATE_POSITION" envDefault:"1"`
	FilenameVersionPos     int    `env:"FILENAME_VERSION_POSITION" envDefault:"2"`
	Environment            string `env:"DATALAB_ENV" envDefault:"production"`
	BackupDir              string `env:"BACKUP_DIR" envDefault:"./backups"`
	BackupEnabled          bool   `env:"BACKUP_ENABLED" envDefault:"true"`

	// StaleTaskAfter is how long an active import may go without an update
	// before serve and worker startup release its slot.
	StaleTaskAfter time.Duration `env:"STALE_TASK_AFTER" envDefault:"6h"`
}

type ScheduleOptions struct {
	CacheCheck string `env:"CACHE_CHECK_SCHEDULE" envDefault:"@every 1h"`
	Backup     string `env:"BACKUP_SCHEDULE"`
}

type Configuration struct {
	Database DatabaseOptions
	Storage  StorageOptions
	NATS     NATSOptions
	Import   ImportOptions
	Schedule ScheduleOptions

	ServerPort  int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"text"`
	GinMode     string `env:"GIN_MODE" envDefault:"release"`
	MetricsPath string `env:"METRICS_PATH" envDefault:"/metrics"`
}

// LoadEnv loads the env files that exist and returns how many were loaded.
func LoadEnv(envFiles []string) (int, error) {
	existing := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// Load reads the env files and parses the environment into a Configuration.
func Load(envFiles ...string) (*Configuration, error) {
	if len(envFiles) == 0 {
		envFiles = DefaultEnvFiles
	}
	if _, err := LoadEnv(envFiles); err != nil {
		return nil, fmt.Errorf("failed to load env files: %w", err)
	}
	c := &Configuration{}
	if err := env.Parse(c); err != nil {
		return nil, &models.EnvironmentConfigurationError{Err: err}
	}
	return c, nil
}

// Validate checks every group.
func (c *Configuration) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if c.Import.Environment != "production" && c.Import.Environment != "staging" {
		return &models.EnvironmentConfigurationError{Err: fmt.Errorf("DATALAB_ENV must be production or staging, got %q", c.Import.Environment)}
	}
	if c.Import.TypeSampleSize <= 0 {
		return fmt.Errorf("TYPE_SAMPLE_SIZE must be positive, got %d", c.Import.TypeSampleSize)
	}
	return nil
}
