package backup

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datalab-service/internal/config"
	"datalab-service/internal/storage"
)

type call struct {
	name string
	args []string
	env  []string
}

// fakeRunner records commands and writes a dump file for pg_dump.
func fakeRunner(calls *[]call, fail error) Runner {
	return func(_ context.Context, name string, args, env []string) error {
		*calls = append(*calls, call{name: name, args: args, env: env})
		if fail != nil {
			return fail
		}
		if name == "pg_dump" {
			for i, a := range args {
				if a == "-f" {
					return os.WriteFile(args[i+1], []byte("PGDMP"), 0o600)
				}
			}
		}
		return nil
	}
}

func newDump(t *testing.T, fs storage.FileStorage, r Runner) *PgDump {
	p := NewPgDump(config.DatabaseOptions{Host: "db", Port: "5432", User: "datalab", Password: "secret", Name: "pma", SSLMode: "disable"}, t.TempDir(), fs, "backups/", nil)
	p.Run = r
	p.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return p
}

func TestPgDumpBackupAndRestore(t *testing.T) {
	var calls []call
	fs, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	p := newDump(t, fs, fakeRunner(&calls, nil))

	a, err := p.Backup(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, a.Path)
	assert.Equal(t, "backups/pma-20240501T120000.000000000.dump", a.StorageID)
	require.Len(t, calls, 1)
	assert.Equal(t, "pg_dump", calls[0].name)
	assert.Contains(t, calls[0].args, "-Fc")
	assert.Contains(t, calls[0].env, "PGPASSWORD=secret")

	require.NoError(t, p.Restore(context.Background(), a))
	require.Len(t, calls, 2)
	assert.Equal(t, "pg_restore", calls[1].name)
	assert.Equal(t, a.Path, calls[1].args[len(calls[1].args)-1])
	assert.Contains(t, calls[1].args, "--clean")
}

func TestRestoreFetchesFromStorageWhenLocalFileIsGone(t *testing.T) {
	var calls []call
	fs, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	p := newDump(t, fs, fakeRunner(&calls, nil))

	a, err := p.Backup(context.Background())
	require.NoError(t, err)
	require.NoError(t, os.Remove(a.Path))

	require.NoError(t, p.Restore(context.Background(), a))
	assert.FileExists(t, calls[1].args[len(calls[1].args)-1])
}

func TestBackupFailure(t *testing.T) {
	var calls []call
	p := newDump(t, nil, fakeRunner(&calls, errors.New("connection refused")))
	_, err := p.Backup(context.Background())
	assert.ErrorContains(t, err, "connection refused")
}

func TestRestoreWithoutArtifact(t *testing.T) {
	p := newDump(t, nil, fakeRunner(&[]call{}, nil))
	assert.True(t, errors.Is(p.Restore(context.Background(), nil), ErrNoArtifact))
	assert.True(t, errors.Is(Noop{}.Restore(context.Background(), nil), ErrNoArtifact))
}

func TestNewPicksByDriver(t *testing.T) {
	cfg := &config.Configuration{Database: config.DatabaseOptions{Driver: config.DriverSQLite}, Import: config.ImportOptions{BackupEnabled: true}}
	assert.IsType(t, Noop{}, New(cfg, nil, nil))
	cfg.Database.Driver = config.DriverPostgres
	assert.IsType(t, &PgDump{}, New(cfg, nil, nil))
	cfg.Import.BackupEnabled = false
	assert.IsType(t, Noop{}, New(cfg, nil, nil))
}
