package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"datalab-service/internal/importer"
	"datalab-service/internal/models"
	"datalab-service/internal/progress"
	"datalab-service/internal/registry"
)

// InitializeRequest is the payload of an import task.
type InitializeRequest struct {
	Overwrite bool   `json:"overwrite"`
	Force     bool   `json:"force"`
	APIPath   string `json:"api_path"`
	UIPath    string `json:"ui_path,omitempty"`
	Env       string `json:"env,omitempty"`
}

func (r InitializeRequest) importRequest(sink progress.Sink) importer.Request {
	return importer.Request{
		Overwrite: r.Overwrite,
		Force:     r.Force,
		APIPath:   r.APIPath,
		UIPath:    r.UIPath,
		Env:       registry.Environment(r.Env),
		Sink:      sink,
	}
}

// Status is what a poll returns.
type Status struct {
	ID       string           `json:"id"`
	State    string           `json:"state"`
	Progress float64          `json:"progress"`
	Message  string           `json:"status,omitempty"`
	Result   *importer.Result `json:"result,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Queue runs imports in the background.
type Queue interface {
	Submit(ctx context.Context, req InitializeRequest) (string, error)
	Poll(ctx context.Context, id string) (*Status, error)
}

// Runner executes one import. *importer.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, req importer.Request) (*importer.Result, error)
}

// progressBoard keeps the latest progress report of running tasks in memory.
type progressBoard struct {
	mu      sync.RWMutex
	updates map[string]progress.Update
}

func newProgressBoard() *progressBoard {
	return &progressBoard{updates: map[string]progress.Update{}}
}

func (b *progressBoard) set(id string, u progress.Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if prev, ok := b.updates[id]; ok && prev.Current > u.Current {
		u.Current = prev.Current
	}
	b.updates[id] = u
}

func (b *progressBoard) get(id string) (progress.Update, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	u, ok := b.updates[id]
	return u, ok
}

func (b *progressBoard) drop(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.updates, id)
}

func (b *progressBoard) sink(id string) progress.Sink {
	return progress.SinkFunc(func(status string, ratio float64) {
		b.set(id, progress.Update{Status: status, Current: ratio})
	})
}

// statusOf merges the stored task with its in-memory progress.
func statusOf(task *models.Task, board *progressBoard) *Status {
	st := &Status{
		ID:       task.ID,
		State:    task.State,
		Progress: task.Progress,
		Message:  task.Status,
		Error:    task.Error,
	}
	if task.IsActive {
		if u, ok := board.get(task.ID); ok {
			st.Progress = u.Current
			st.Message = u.Status
		}
	}
	if task.Result != "" {
		var res importer.Result
		if err := json.Unmarshal([]byte(task.Result), &res); err == nil {
			st.Result = &res
		}
	}
	return st
}

// LocalQueue runs each task on a goroutine of this process.
type LocalQueue struct {
	tasks  *Registry
	runner Runner
	board  *progressBoard
	log    logrus.FieldLogger
	wg     sync.WaitGroup
}

func NewLocalQueue(tasks *Registry, runner Runner, log logrus.FieldLogger) *LocalQueue {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LocalQueue{tasks: tasks, runner: runner, board: newProgressBoard(), log: log}
}

func (q *LocalQueue) Submit(ctx context.Context, req InitializeRequest) (string, error) {
	task, err := q.tasks.Begin(ctx, "initialize_dataset", SlotInitialize)
	if err != nil {
		return "", err
	}
	q.wg.Add(1)
	// The import outlives the submitting request.
	go func(id string) {
		defer q.wg.Done()
		run(context.Background(), q.tasks, q.runner, id, req, q.board.sink(id), q.log)
		q.board.drop(id)
	}(task.ID)
	return task.ID, nil
}

func (q *LocalQueue) Poll(ctx context.Context, id string) (*Status, error) {
	task, err := q.tasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return statusOf(task, q.board), nil
}

// Wait blocks until every submitted task has finished.
func (q *LocalQueue) Wait() {
	q.wg.Wait()
}

// RunInline runs an import on the calling goroutine while holding the
// initialize slot, so it is denied with a TaskDeniedError while any process
// sharing the store runs a background import. The slot is released even when
// ctx is cancelled.
func RunInline(ctx context.Context, tasks *Registry, runner Runner, req importer.Request) (*importer.Result, error) {
	task, err := tasks.Begin(ctx, "initialize_dataset_cli", SlotInitialize)
	if err != nil {
		return &importer.Result{Warnings: map[string]string{}, Message: err.Error()}, err
	}
	if err := tasks.Start(ctx, task.ID); err != nil {
		_ = tasks.Finish(context.WithoutCancel(ctx), task.ID, nil, err)
		return nil, err
	}
	res, runErr := runner.Run(ctx, req)
	if err := tasks.Finish(context.WithoutCancel(ctx), task.ID, res, runErr); err != nil && runErr == nil {
		return res, fmt.Errorf("import finished but its task record was not released: %w", err)
	}
	return res, runErr
}

// run executes one task and records its outcome.
func run(ctx context.Context, tasks *Registry, runner Runner, id string, req InitializeRequest, sink progress.Sink, log logrus.FieldLogger) {
	log = log.WithField("task_id", id)
	if err := tasks.Start(ctx, id); err != nil {
		log.WithError(err).Error("Failed to mark task running")
	}
	log.Info("Running import task")
	res, runErr := runner.Run(ctx, req.importRequest(sink))
	if err := tasks.Finish(ctx, id, res, runErr); err != nil {
		log.WithError(err).Error("Failed to record task outcome")
		return
	}
	if runErr != nil {
		log.WithError(runErr).Warn("Import task failed")
		return
	}
	log.Info("Import task finished")
}
