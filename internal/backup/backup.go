package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"datalab-service/internal/config"
	"datalab-service/internal/metrics"
	"datalab-service/internal/storage"
)

// ErrNoArtifact is returned by Restore when there is nothing to restore from.
var ErrNoArtifact = errors.New("no backup artifact")

// Artifact is one write-once backup of the store.
type Artifact struct {
	Path      string    `json:"path"`
	StorageID string    `json:"storage_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Backuper takes and restores full backups of the relational store.
type Backuper interface {
	Backup(ctx context.Context) (*Artifact, error)
	Restore(ctx context.Context, a *Artifact) error
}

// Runner executes an external command.
type Runner func(ctx context.Context, name string, args, env []string) error

// ExecRunner runs the command with os/exec and folds its stderr into the error.
func ExecRunner(ctx context.Context, name string, args, env []string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}

// PgDump backs PostgreSQL up with pg_dump custom-format archives.
type PgDump struct {
	DB      config.DatabaseOptions
	Dir     string
	Storage storage.FileStorage
	Prefix  string
	Run     Runner
	Log     logrus.FieldLogger
	now     func() time.Time
}

func NewPgDump(db config.DatabaseOptions, dir string, fs storage.FileStorage, prefix string, log logrus.FieldLogger) *PgDump {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PgDump{DB: db, Dir: dir, Storage: fs, Prefix: prefix, Run: ExecRunner, Log: log, now: time.Now}
}

func (p *PgDump) connArgs() []string {
	return []string{"-h", p.DB.Host, "-p", p.DB.Port, "-U", p.DB.User, "-d", p.DB.Name}
}

func (p *PgDump) env() []string {
	return []string{"PGPASSWORD=" + p.DB.Password, "PGSSLMODE=" + p.DB.SSLMode}
}

func (p *PgDump) Backup(ctx context.Context) (*Artifact, error) {
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return nil, err
	}
	now := p.now().UTC()
	path := filepath.Join(p.Dir, fmt.Sprintf("%s-%s.dump", p.DB.Name, now.Format("20060102T150405.000000000")))
	args := append([]string{"-Fc", "--no-owner", "-f", path}, p.connArgs()...)
	if err := p.Run(ctx, "pg_dump", args, p.env()); err != nil {
		metrics.Get().BackupsTotal.WithLabelValues("backup", metrics.OutcomeFailure).Inc()
		return nil, fmt.Errorf("backup failed: %w", err)
	}
	a := &Artifact{Path: path, CreatedAt: now}

	if p.Storage != nil {
		data, err := os.ReadFile(path)
		if err == nil {
			a.StorageID, err = p.Storage.Store(ctx, data, p.Prefix+filepath.Base(path))
		}
		if err != nil {
			p.Log.WithError(err).WithField("path", path).Warn("Backup kept locally only")
		}
	}
	metrics.Get().BackupsTotal.WithLabelValues("backup", metrics.OutcomeSuccess).Inc()
	p.Log.WithField("path", path).Info("Backup written")
	return a, nil
}

func (p *PgDump) Restore(ctx context.Context, a *Artifact) error {
	if a == nil {
		return ErrNoArtifact
	}
	path := a.Path
	if _, err := os.Stat(path); err != nil && a.StorageID != "" && p.Storage != nil {
		data, ferr := p.Storage.Fetch(ctx, a.StorageID)
		if ferr != nil {
			return fmt.Errorf("restore failed: %w", ferr)
		}
		if err := os.MkdirAll(p.Dir, 0o755); err != nil {
			return err
		}
		path = filepath.Join(p.Dir, filepath.Base(a.StorageID))
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return err
		}
	}
	args := append([]string{"--clean", "--if-exists", "--no-owner", "--single-transaction"}, p.connArgs()...)
	args = append(args, path)
	if err := p.Run(ctx, "pg_restore", args, p.env()); err != nil {
		metrics.Get().BackupsTotal.WithLabelValues("restore", metrics.OutcomeFailure).Inc()
		return fmt.Errorf("restore failed: %w", err)
	}
	metrics.Get().BackupsTotal.WithLabelValues("restore", metrics.OutcomeSuccess).Inc()
	p.Log.WithField("path", path).Info("Store restored from backup")
	return nil
}

// Noop is used when backups are disabled, for example with the SQLite driver.
// Restore reports ErrNoArtifact so callers know nothing was restored.
type Noop struct{}

func (Noop) Backup(context.Context) (*Artifact, error) { return nil, nil }

func (Noop) Restore(context.Context, *Artifact) error { return ErrNoArtifact }

// New picks the backuper matching the configured driver.
func New(cfg *config.Configuration, fs storage.FileStorage, log logrus.FieldLogger) Backuper {
	if !cfg.Import.BackupEnabled || cfg.Database.Driver != config.DriverPostgres {
		return Noop{}
	}
	return NewPgDump(cfg.Database, cfg.Import.BackupDir, fs, cfg.Storage.BackupPrefix, log)
}
