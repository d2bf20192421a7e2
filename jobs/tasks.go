package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskComplianceReport generates and stores a compliance report.
	TaskComplianceReport = "authz:compliance_report"
	// TaskOverrideSweep revokes overrides whose expiry has passed.
	TaskOverrideSweep = "authz:override_sweep"
	// TaskReportPrune deletes compliance reports past retention.
	TaskReportPrune = "authz:report_prune"
)

// ComplianceReportPayload bounds the report window. Zero means the last
// WindowDays ending now, defaulting to 30.
type ComplianceReportPayload struct {
	WindowDays int `json:"windowDays"`
}

// OverrideSweepPayload caps how many expired overrides one run revokes.
type OverrideSweepPayload struct {
	Limit int `json:"limit"`
}

// ReportPrunePayload carries the retention horizon in days.
type ReportPrunePayload struct {
	RetentionDays int `json:"retentionDays"`
}

// NewComplianceReportTask constructs the report generation task.
func NewComplianceReportTask(payload ComplianceReportPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskComplianceReport, data), nil
}

// NewOverrideSweepTask constructs the expiry sweep task.
func NewOverrideSweepTask(payload OverrideSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOverrideSweep, data), nil
}

// NewReportPruneTask constructs the retention prune task.
func NewReportPruneTask(payload ReportPrunePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReportPrune, data), nil
}
