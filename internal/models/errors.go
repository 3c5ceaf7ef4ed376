package models

import (
	"fmt"
	"strings"
)

// APIError represents a standardized error response format for the API.
// @Description APIError represents a standardized error response format, including an application-specific error code, a human-readable message, and optional details.
type APIError struct {
	Code    string      `json:"code"`              // Application-specific error code (e.g., "NOT_FOUND", "VALIDATION_ERROR")
	Message string      `json:"message"`           // Human-readable message describing the error
	Details interface{} `json:"details,omitempty"` // Optional field for additional error details
}

// Predefined application-specific error codes
const (
	// Generic Errors
	ErrorCodeInternalServerError = "INTERNAL_SERVER_ERROR"
	ErrorCodeServiceUnavailable  = "SERVICE_UNAVAILABLE"

	// Input Validation & Data Errors
	ErrorCodeValidation      = "VALIDATION_ERROR"
	ErrorCodeInvalidIDFormat = "INVALID_ID_FORMAT"
	ErrorCodeInvalidFilter   = "INVALID_FILTER"

	// Resource Specific Errors
	ErrorCodeNotFound        = "NOT_FOUND"
	ErrorCodeDatasetNotFound = "DATASET_NOT_FOUND"
	ErrorCodeTaskNotFound    = "TASK_NOT_FOUND"
	ErrorCodeCacheMiss       = "CACHE_MISS"

	// Business Logic / State Errors
	ErrorCodeExistingDataset  = "EXISTING_DATASET"
	ErrorCodeTaskDenied       = "TASK_DENIED"
	ErrorCodeStoreOperational = "STORE_OPERATIONAL_ERROR"
	ErrorCodeEnvironment      = "ENVIRONMENT_CONFIGURATION_ERROR"
)

// Warning keys of an import result.
const (
	WarningDataset      = "dataset"
	WarningBackupBefore = "backup_1"
	WarningBackupAfter  = "backup_2"
	WarningCaching      = "caching"
)

// Recovery records what happened to the store after a failed import.
type Recovery struct {
	RolledBack bool
	Restored   bool
	RestoreErr error
}

// SetRecovery stores the outcome of the rollback-and-restore path.
func (r *Recovery) SetRecovery(rolledBack, restored bool, restoreErr error) {
	r.RolledBack = rolledBack
	r.Restored = restored
	r.RestoreErr = restoreErr
}

func (r *Recovery) note() string {
	var parts []string
	if r.RolledBack {
		parts = append(parts, "the open transaction was rolled back")
	}
	switch {
	case r.Restored:
		parts = append(parts, "the store was restored from the pre-import backup")
	case r.RestoreErr != nil:
		parts = append(parts, fmt.Sprintf("restoring from backup failed: %v", r.RestoreErr))
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, "; ") + ")"
}

// ValidationError is a row or sheet level failure: an unresolved required
// code, a failed coercion or an integrity violation while staging a record.
type ValidationError struct {
	Recovery
	Sheet  string
	Row    int
	Values map[string]interface{}
	Err    error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation error")
	if e.Sheet != "" {
		fmt.Fprintf(&b, " in sheet %q", e.Sheet)
	}
	if e.Row > 0 {
		fmt.Fprintf(&b, " at row %d", e.Row)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	if len(e.Values) > 0 {
		fmt.Fprintf(&b, "; row values: %v", e.Values)
	}
	b.WriteString(e.note())
	return b.String()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// StoreOperationalError is a transient connectivity or configuration failure
// talking to the relational store.
type StoreOperationalError struct {
	Recovery
	Err error
}

func (e *StoreOperationalError) Error() string {
	return fmt.Sprintf("database interaction error: %v%s", e.Err, e.note())
}

func (e *StoreOperationalError) Unwrap() error { return e.Err }

// EnvironmentConfigurationError means a connection parameter or environment
// value the pipeline needs is missing.
type EnvironmentConfigurationError struct {
	Recovery
	Missing []string
	Err     error
}

func (e *EnvironmentConfigurationError) Error() string {
	msg := "environment configuration error"
	if len(e.Missing) > 0 {
		msg += fmt.Sprintf(": missing %s", strings.Join(e.Missing, ", "))
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg + e.note() + "; check the environment variables and the .env file"
}

func (e *EnvironmentConfigurationError) Unwrap() error { return e.Err }

// ExistingDatasetError rejects an upload whose display name is already taken
// by a different dataset.
type ExistingDatasetError struct {
	Name string
}

func (e *ExistingDatasetError) Error() string {
	return fmt.Sprintf("a different dataset named %q is already registered", e.Name)
}

// TaskDeniedError rejects an import while another one is active.
type TaskDeniedError struct {
	ActiveTaskID string
}

func (e *TaskDeniedError) Error() string {
	if e.ActiveTaskID == "" {
		return "task denied: an import is already running"
	}
	return fmt.Sprintf("task denied: import %s is already running", e.ActiveTaskID)
}
