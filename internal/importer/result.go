package importer

import (
	"datalab-service/internal/progress"
	"datalab-service/internal/registry"
)

// Request describes one import run.
type Request struct {
	Overwrite bool `json:"overwrite"`
	Force     bool `json:"force"`
	// APIPath is the dataset workbook. UIPath is the optional interface strings workbook.
	APIPath string `json:"api_path"`
	UIPath  string `json:"ui_path,omitempty"`
	// Env overrides the orchestrator's environment when set.
	Env  registry.Environment `json:"env,omitempty"`
	Sink progress.Sink        `json:"-"`
}

// Result is returned by every run, failed ones included.
type Result struct {
	Success          bool              `json:"success"`
	Warnings         map[string]string `json:"warnings"`
	SecondsElapsed   int               `json:"seconds_elapsed"`
	Skipped          bool              `json:"skipped,omitempty"`
	DatasetVersionID uint              `json:"dataset_version_id,omitempty"`
	Message          string            `json:"message,omitempty"`
}
