package importer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"datalab-service/internal/backup"
	"datalab-service/internal/cache"
	"datalab-service/internal/database"
	"datalab-service/internal/loader"
	"datalab-service/internal/metrics"
	"datalab-service/internal/models"
	"datalab-service/internal/progress"
	"datalab-service/internal/registry"
	"datalab-service/internal/workbook"
)

const maxSchemaAttempts = 3

// Options tune an Orchestrator.
type Options struct {
	Env                    registry.Environment
	Normalize              workbook.NormalizeOptions
	TranslationSheetPrefix string
	Queue                  []loader.Entry
	Log                    logrus.FieldLogger
}

func DefaultOptions() Options {
	return Options{
		Env:                    registry.Production,
		Normalize:              workbook.DefaultNormalizeOptions(),
		TranslationSheetPrefix: "translation",
		Queue:                  loader.DefaultQueue(),
	}
}

// Orchestrator runs dataset imports. It runs one import at a time; a second
// call while one is in flight is denied.
type Orchestrator struct {
	db       *gorm.DB
	registry *registry.Registry
	cache    *cache.Manager
	backup   backup.Backuper
	opts     Options
	log      logrus.FieldLogger

	// migrate recreates the droppable schema inside the import transaction.
	migrate func(tx *gorm.DB) error
	now     func() time.Time

	running sync.Mutex

	mu        sync.Mutex
	state     State
	entered   time.Time
	observers []func(Transition)
}

func New(db *gorm.DB, reg *registry.Registry, cm *cache.Manager, bk backup.Backuper, opts Options) *Orchestrator {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if len(opts.Queue) == 0 {
		opts.Queue = loader.DefaultQueue()
	}
	if opts.Env == "" {
		opts.Env = registry.Production
	}
	if opts.Normalize.DataSheetPrefix == "" {
		opts.Normalize = workbook.DefaultNormalizeOptions()
	}
	if opts.TranslationSheetPrefix == "" {
		opts.TranslationSheetPrefix = "translation"
	}
	if bk == nil {
		bk = backup.Noop{}
	}
	return &Orchestrator{
		db:       db,
		registry: reg,
		cache:    cm,
		backup:   bk,
		opts:     opts,
		log:      opts.Log,
		migrate:  database.MigrateDroppable,
		now:      time.Now,
		state:    StateIdle,
	}
}

// OnTransition registers an observer called on every state change.
func (o *Orchestrator) OnTransition(fn func(Transition)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, fn)
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) transition(to State) {
	o.mu.Lock()
	from := o.state
	if !CanTransition(from, to) {
		o.log.WithFields(logrus.Fields{"from": from, "to": to}).Warn("Unexpected import state transition")
	}
	now := o.now()
	if !o.entered.IsZero() {
		metrics.Get().ImportStateTime.WithLabelValues(string(from)).Observe(now.Sub(o.entered).Seconds())
	}
	o.state = to
	o.entered = now
	observers := append([]func(Transition){}, o.observers...)
	o.mu.Unlock()

	o.log.WithFields(logrus.Fields{"from": from, "to": to}).Debug("Import state changed")
	for _, fn := range observers {
		fn(Transition{From: from, To: to})
	}
}

// InitializeDataset is the synchronous entry point of an import.
func (o *Orchestrator) InitializeDataset(ctx context.Context, overwrite, force bool, apiPath, uiPath string) (*Result, error) {
	return o.Run(ctx, Request{Overwrite: overwrite, Force: force, APIPath: apiPath, UIPath: uiPath})
}

type inputs struct {
	apiName string
	api     *workbook.Workbook
	uiName  string
	ui      *workbook.Workbook
}

// Run executes one import. The returned Result is non-nil even on failure.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	start := o.now()
	res := &Result{Warnings: map[string]string{}}
	m := metrics.Get()

	if !o.running.TryLock() {
		m.ImportsTotal.WithLabelValues(metrics.OutcomeDenied).Inc()
		err := &models.TaskDeniedError{}
		res.Message = err.Error()
		return res, err
	}
	defer o.running.Unlock()
	m.ActiveImports.Set(1)
	defer m.ActiveImports.Set(0)

	env := req.Env
	if env == "" {
		env = o.opts.Env
	}
	log := o.log.WithFields(logrus.Fields{"api_file": req.APIPath, "overwrite": req.Overwrite, "force": req.Force, "env": env})

	finish := func(err error) (*Result, error) {
		res.SecondsElapsed = int(o.now().Sub(start).Seconds())
		for key := range res.Warnings {
			m.Warnings.WithLabelValues(key).Inc()
		}
		switch {
		case err != nil:
			res.Success = false
			res.Message = err.Error()
			m.ImportsTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
			log.WithError(err).Error("Import failed")
		case res.Skipped:
			res.Success = true
			m.ImportsTotal.WithLabelValues(metrics.OutcomeSkipped).Inc()
			log.Info("Import skipped, supplied files match the active dataset")
		default:
			res.Success = true
			m.ImportsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
			m.ImportDuration.Observe(o.now().Sub(start).Seconds())
			log.WithField("seconds", res.SecondsElapsed).Info("Import finished")
		}
		return res, err
	}

	o.mu.Lock()
	o.state = StateIdle
	o.entered = time.Time{}
	o.mu.Unlock()

	in, err := o.read(req)
	if err != nil {
		return finish(err)
	}

	if !req.Force {
		same, err := o.unchanged(ctx, env, in)
		if err != nil {
			log.WithError(err).Warn("Could not compare fingerprints, running the import")
		}
		if same {
			res.Skipped = true
			o.transition(StateDone)
			progress.NewTracker([]string{"Dataset unchanged"}, req.Sink).Complete()
			return finish(nil)
		}
	}

	tracker := o.plan(req, in).Tracker(req.Sink)

	// 1. Backup before any mutation.
	o.transition(StateBackingUp)
	tracker.Next()
	artifact, err := o.backup.Backup(ctx)
	if err != nil {
		res.Warnings[models.WarningBackupBefore] = err.Error()
		log.WithError(err).Warn("Pre-import backup failed, continuing")
	}

	// 2-6. One transaction from the drop to the activation.
	var version *models.DatasetVersion
	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return guard(func() error {
			var err error
			version, err = o.mutate(ctx, tx, req, env, in, tracker, res)
			return err
		})
	})
	if err != nil {
		return finish(o.restore(ctx, err, artifact))
	}
	res.DatasetVersionID = version.ID

	// 7. Closing backup.
	o.transition(StateBackingUp2)
	tracker.Next()
	if _, err := o.backup.Backup(ctx); err != nil {
		res.Warnings[models.WarningBackupAfter] = err.Error()
		log.WithError(err).Warn("Post-import backup failed")
	}

	o.transition(StateDone)
	tracker.Complete()
	return finish(nil)
}

func (o *Orchestrator) read(req Request) (*inputs, error) {
	if req.APIPath == "" {
		return nil, &models.EnvironmentConfigurationError{Missing: []string{"api file path"}}
	}
	in := &inputs{apiName: filepath.Base(req.APIPath)}
	var err error
	if in.api, err = workbook.Open(req.APIPath); err != nil {
		return nil, &models.ValidationError{Err: err}
	}
	workbook.Normalize(in.api, o.opts.Normalize)
	if req.UIPath != "" {
		in.uiName = filepath.Base(req.UIPath)
		if in.ui, err = workbook.Open(req.UIPath); err != nil {
			return nil, &models.ValidationError{Err: err}
		}
	}
	return in, nil
}

// unchanged reports whether the supplied files are the ones last loaded for
// the active version.
func (o *Orchestrator) unchanged(ctx context.Context, env registry.Environment, in *inputs) (bool, error) {
	db := o.db.WithContext(ctx)
	active, err := o.registry.GetActive(db, env)
	if errors.Is(err, registry.ErrNoActiveVersion) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	loaded, err := o.registry.ActiveFingerprint(db, env)
	if err != nil || loaded != in.api.Fingerprint() {
		return false, err
	}
	if in.ui == nil {
		return true, nil
	}
	ui, err := o.registry.LoadedFingerprint(db, active.ID, models.MetadataTypeUI)
	if err != nil {
		return false, err
	}
	return ui == in.ui.Fingerprint(), nil
}

func (o *Orchestrator) translationSheets(in *inputs) []*workbook.Sheet {
	sheets := in.api.SheetsWithPrefix(o.opts.TranslationSheetPrefix)
	if in.ui != nil {
		sheets = append(sheets, in.ui.Sheets...)
	}
	return sheets
}

func (o *Orchestrator) plan(req Request, in *inputs) *progress.Plan {
	structural := make([]string, len(o.opts.Queue))
	for i, e := range o.opts.Queue {
		structural[i] = e.Sheet
	}
	var data, translations []string
	for _, s := range in.api.SheetsWithPrefix(o.opts.Normalize.DataSheetPrefix) {
		data = append(data, s.Name)
	}
	for _, s := range o.translationSheets(in) {
		translations = append(translations, s.Name)
	}

	p := progress.NewPlan().Add("Backing up the store", 5)
	if req.Overwrite {
		p.Add("Dropping tables", 5)
	}
	return p.Add("Creating schema", 5).
		Group("Loading %s", structural, 25).
		Group("Loading data sheet %s", data, 40).
		Group("Loading translations from %s", translations, 10).
		Add("Rebuilding cache", 5).
		Add("Activating dataset", 2).
		Add("Taking closing backup", 3)
}

func (o *Orchestrator) mutate(ctx context.Context, tx *gorm.DB, req Request, env registry.Environment, in *inputs, tracker *progress.Tracker, res *Result) (*models.DatasetVersion, error) {
	m := metrics.Get()

	if req.Overwrite {
		o.transition(StateDropping)
		tracker.Next()
		if err := o.registry.RegisterAllInactive(tx); err != nil {
			return nil, err
		}
		if err := database.DropDroppable(tx); err != nil {
			return nil, err
		}
	}

	o.transition(StateCreatingSchema)
	tracker.Next()
	if err := o.migrateWithRetry(tx); err != nil {
		return nil, err
	}
	version, warning, err := o.registry.Register(tx, in.apiName, in.api.Raw)
	if err != nil {
		return nil, err
	}
	if warning != "" {
		res.Warnings[models.WarningDataset] = warning
	}

	mode := loader.Overwrite
	if !req.Overwrite {
		mode = loader.Update
	}
	strs, err := loader.NewStrings(tx)
	if err != nil {
		return nil, err
	}

	o.transition(StateLoadingStructural)
	structural := loader.NewStructural(mode, strs, o.log)
	structural.OnSheet = func(loader.Entry) { tracker.Next() }
	counts, err := structural.Load(ctx, tx, in.api, o.opts.Queue)
	if err != nil {
		return nil, err
	}
	for entity, n := range counts {
		m.RowsLoaded.WithLabelValues(entity).Add(float64(n))
	}

	o.transition(StateLoadingData)
	data := loader.NewData(o.opts.Normalize.DataSheetPrefix, nil, o.log)
	data.OnSheet = func(string) { tracker.Next() }
	if len(data.Sheets(in.api)) == 0 {
		tracker.Next()
	}
	n, err := data.Load(ctx, tx, in.api)
	if err != nil {
		return nil, err
	}
	m.RowsLoaded.WithLabelValues("datum").Add(float64(n))

	o.transition(StateLoadingTranslations)
	sheets := o.translationSheets(in)
	if len(sheets) == 0 {
		tracker.Next()
	}
	translations := loader.NewTranslations(strs, o.log)
	translations.OnSheet = func(string) { tracker.Next() }
	n, err = translations.Load(ctx, tx, sheets)
	if err != nil {
		return nil, err
	}
	m.RowsLoaded.WithLabelValues("translation").Add(float64(n))

	if err := o.recordMetadata(tx, in, version.ID); err != nil {
		return nil, err
	}

	o.transition(StateCaching)
	tracker.Next()
	if o.cache != nil {
		err := tx.Transaction(func(stx *gorm.DB) error {
			return o.cache.RebuildAll(stx, in.api.Fingerprint())
		})
		if err != nil {
			if database.IsOperational(err) {
				return nil, err
			}
			res.Warnings[models.WarningCaching] = err.Error()
			o.log.WithError(err).Warn("Cache rebuild failed, serving stale entries until the next refresh")
		}
	}

	tracker.Next()
	if err := o.registry.RegisterActive(tx, version.ID, env); err != nil {
		return nil, err
	}
	return version, nil
}

// recordMetadata stores the files loaded as versionID. Their fingerprints,
// not the version's own Hash, are what the fast path and the cache compare.
func (o *Orchestrator) recordMetadata(tx *gorm.DB, in *inputs, versionID uint) error {
	records := []models.ApiMetadata{{
		Name: in.apiName, Type: models.MetadataTypeAPI, Fingerprint: in.api.Fingerprint(),
		DatasetVersionID: versionID, Blob: in.api.Raw,
	}}
	if in.ui != nil {
		records = append(records, models.ApiMetadata{
			Name: in.uiName, Type: models.MetadataTypeUI, Fingerprint: in.ui.Fingerprint(),
			DatasetVersionID: versionID, Blob: in.ui.Raw,
		})
	}
	return tx.Create(&records).Error
}

// migrateWithRetry recreates the schema in a savepoint, retrying a bounded
// number of times when another session created an object concurrently.
func (o *Orchestrator) migrateWithRetry(tx *gorm.DB) error {
	var err error
	for attempt := 1; attempt <= maxSchemaAttempts; attempt++ {
		err = tx.Transaction(func(stx *gorm.DB) error { return o.migrate(stx) })
		if err == nil || !database.IsSchemaConflict(err) {
			return err
		}
		o.log.WithError(err).WithField("attempt", attempt).Warn("Schema conflict, retrying")
	}
	return fmt.Errorf("schema creation failed after %d attempts: %w", maxSchemaAttempts, err)
}

// restore runs after the import transaction rolled back. It restores the
// pre-import backup when there is one and returns the classified error.
func (o *Orchestrator) restore(ctx context.Context, cause error, artifact *backup.Artifact) error {
	o.transition(StateFailed)
	classified, rec := classify(cause)

	o.transition(StateRestoring)
	restored := false
	var restoreErr error
	if artifact != nil {
		restoreErr = o.backup.Restore(ctx, artifact)
		restored = restoreErr == nil
		if restoreErr != nil {
			o.log.WithError(restoreErr).Error("Restoring the pre-import backup failed")
		}
	}
	rec.SetRecovery(true, restored, restoreErr)
	o.transition(StateIdle)
	return classified
}

// classify maps any import failure onto one of the classified error kinds.
func classify(err error) (error, *models.Recovery) {
	var envErr *models.EnvironmentConfigurationError
	if errors.As(err, &envErr) {
		return envErr, &envErr.Recovery
	}
	var opErr *models.StoreOperationalError
	if errors.As(err, &opErr) {
		return opErr, &opErr.Recovery
	}
	if database.IsOperational(err) {
		opErr = &models.StoreOperationalError{Err: err}
		return opErr, &opErr.Recovery
	}
	var vErr *models.ValidationError
	if errors.As(err, &vErr) {
		return vErr, &vErr.Recovery
	}
	opErr = &models.StoreOperationalError{Err: err}
	return opErr, &opErr.Recovery
}

// guard turns a nil dereference inside fn into an EnvironmentConfigurationError.
// A handle left unset by missing configuration surfaces that way.
func guard(fn func() error) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if re, ok := r.(runtime.Error); ok && strings.Contains(re.Error(), "nil pointer") {
			err = &models.EnvironmentConfigurationError{Err: re}
			return
		}
		panic(r)
	}()
	return fn()
}
