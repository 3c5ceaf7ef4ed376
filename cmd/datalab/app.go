package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"datalab-service/internal/backup"
	"datalab-service/internal/cache"
	"datalab-service/internal/config"
	"datalab-service/internal/database"
	"datalab-service/internal/importer"
	"datalab-service/internal/logging"
	"datalab-service/internal/registry"
	"datalab-service/internal/storage"
	"datalab-service/internal/tasks"
	"datalab-service/internal/workbook"
)

// app holds the wired services shared by every command.
type app struct {
	cfg      *config.Configuration
	log      *logrus.Logger
	db       *gorm.DB
	env      registry.Environment
	storage  storage.FileStorage
	registry *registry.Registry
	cache    *cache.Manager
	backup   backup.Backuper
	importer *importer.Orchestrator
}

func newApp(opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.EnvFiles...)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	env, err := registry.ParseEnvironment(cfg.Import.Environment)
	if err != nil {
		return nil, err
	}
	db, err := database.Connect(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	fs, err := storage.New(cfg.Storage)
	if err != nil {
		return nil, err
	}

	convention := registry.DefaultConvention()
	convention.Delimiter = cfg.Import.FilenameDelimiter
	convention.DatePosition = cfg.Import.FilenameDatePosition
	convention.VersionPosition = cfg.Import.FilenameVersionPos
	reg := registry.New(
		registry.WithConvention(convention),
		registry.WithStorage(fs, cfg.Storage.DatasetPrefix),
		registry.WithLogger(log),
	)

	cm := cache.NewManager(db, reg, env, log)
	cm.Register(cache.InitKey, cache.ComputeInit)
	bk := backup.New(cfg, fs, log)

	importOpts := importer.DefaultOptions()
	importOpts.Env = env
	importOpts.Normalize = workbook.NormalizeOptions{
		DataSheetPrefix: cfg.Import.DataSheetPrefix,
		Token:           cfg.Import.UndefinedToken,
		SampleSize:      cfg.Import.TypeSampleSize,
	}
	importOpts.TranslationSheetPrefix = cfg.Import.TranslationSheetPrefix
	importOpts.Log = log

	return &app{
		cfg:      cfg,
		log:      log,
		db:       db,
		env:      env,
		storage:  fs,
		registry: reg,
		cache:    cm,
		backup:   bk,
		importer: importer.New(db, reg, cm, bk, importOpts),
	}, nil
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// releaseStaleTasks frees an import slot left behind by a process that died
// mid-import. It only logs on failure; a held slot then denies new imports.
func (a *app) releaseStaleTasks(ctx context.Context, reg *tasks.Registry) {
	ids, err := reg.ReleaseStale(ctx, tasks.SlotInitialize, a.cfg.Import.StaleTaskAfter)
	if err != nil {
		a.log.WithError(err).Warn("Failed to release stale import tasks")
		return
	}
	for _, id := range ids {
		a.log.WithFields(logrus.Fields{"task_id": id, "stale_after": a.cfg.Import.StaleTaskAfter}).Warn("Released abandoned import task")
	}
}

func (a *app) connectNATS() (*nats.Conn, nats.JetStreamContext, error) {
	nc, err := nats.Connect(a.cfg.NATS.URL,
		nats.Timeout(10*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", a.cfg.NATS.URL, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	a.log.WithField("url", a.cfg.NATS.URL).Info("Connected to NATS")
	return nc, js, nil
}
