// Package tasks tracks background imports and hands them to a worker.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"datalab-service/internal/database"
	"datalab-service/internal/importer"
	"datalab-service/internal/models"
	"datalab-service/internal/progress"
)

// SlotInitialize is the active slot held by a running import. Only one task
// may hold a slot at a time.
const SlotInitialize = "initialize"

var ErrTaskNotFound = errors.New("task not found")

const abandonedMessage = "task abandoned: its process stopped before recording an outcome"

// Registry persists tasks in the tasks table.
type Registry struct {
	db *gorm.DB
}

func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

// Begin records a queued task holding slot. While another task holds the
// slot it returns a TaskDeniedError naming that task.
func (r *Registry) Begin(ctx context.Context, name, slot string) (*models.Task, error) {
	task := &models.Task{
		ID:         uuid.NewString(),
		Name:       name,
		IsActive:   true,
		ActiveSlot: &slot,
		State:      models.TaskQueued,
	}
	err := r.db.WithContext(ctx).Create(task).Error
	if err == nil {
		return task, nil
	}
	if !database.IsUniqueViolation(err) {
		return nil, fmt.Errorf("failed to record task: %w", err)
	}
	denied := &models.TaskDeniedError{}
	if active, aerr := r.Active(ctx, slot); aerr == nil && active != nil {
		denied.ActiveTaskID = active.ID
	}
	return nil, denied
}

// Start marks a task as running.
func (r *Registry) Start(ctx context.Context, id string) error {
	return r.update(ctx, id, map[string]interface{}{"state": models.TaskRunning})
}

// Finish releases the task's slot and stores its outcome.
func (r *Registry) Finish(ctx context.Context, id string, res *importer.Result, runErr error) error {
	values := map[string]interface{}{
		"is_active":   false,
		"active_slot": nil,
		"state":       models.TaskSucceeded,
	}
	if res != nil {
		body, err := json.Marshal(res)
		if err != nil {
			return err
		}
		values["result"] = string(body)
		if res.Success {
			values["progress"] = 1.0
			values["status"] = progress.CompleteStatus
		}
	}
	if runErr != nil {
		values["state"] = models.TaskFailed
		values["status"] = "Task failed"
		values["error"] = runErr.Error()
	}
	return r.update(ctx, id, values)
}

func (r *Registry) update(ctx context.Context, id string, values map[string]interface{}) error {
	tx := r.db.WithContext(ctx).Model(&models.Task{}).Where("id = ?", id).Updates(values)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return nil
}

func (r *Registry) Get(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// Active returns the task holding slot, or nil when the slot is free.
func (r *Registry) Active(ctx context.Context, slot string) (*models.Task, error) {
	var tasks []models.Task
	if err := r.db.WithContext(ctx).Where("active_slot = ?", slot).Limit(1).Find(&tasks).Error; err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	return &tasks[0], nil
}

// ReleaseStale fails the tasks holding slot that were last updated more than
// olderThan ago and frees the slot. A process that dies mid-import never calls
// Finish, so without this every later Begin is denied. A zero olderThan
// releases the slot unconditionally. It returns the released task ids.
func (r *Registry) ReleaseStale(ctx context.Context, slot string, olderThan time.Duration) ([]string, error) {
	q := r.db.WithContext(ctx).Model(&models.Task{}).Where("active_slot = ?", slot)
	if olderThan > 0 {
		q = q.Where("updated_at < ?", time.Now().Add(-olderThan))
	}
	var ids []string
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	err := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("id IN ? AND active_slot = ?", ids, slot).
		Updates(map[string]interface{}{
			"is_active":   false,
			"active_slot": nil,
			"state":       models.TaskFailed,
			"status":      "Task abandoned",
			"error":       abandonedMessage,
		}).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
