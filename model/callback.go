package model

import "strings"

// Callback is the normalized outcome reported by the external compute worker.
type Callback struct {
	JobID           string
	OwnerID         string
	Status          JobStatus
	ResultURI       string
	ErrorDetail     string
	DurationSeconds *float64
	// FeatureKind is set when the callback arrived on a feature specific route.
	FeatureKind FeatureKind
}

// MaxDurationSeconds bounds the output duration a worker may report.
const MaxDurationSeconds = 24 * 60 * 60

// ParseCallbackStatus maps the status vocabulary used by workers onto terminal job statuses.
func ParseCallbackStatus(raw string) (JobStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "complete", "success", "succeeded", "done":
		return StatusCompleted, true
	case "failed", "fail", "failure", "error":
		return StatusFailed, true
	default:
		return "", false
	}
}

// ReconcileOutcome describes what a callback did to its job.
type ReconcileOutcome string

const (
	OutcomeCompleted       ReconcileOutcome = "completed"
	OutcomeFailed          ReconcileOutcome = "failed"
	OutcomeAlreadyTerminal ReconcileOutcome = "already_terminal"
)

// ReconcileResult is returned to the worker after a callback is applied.
type ReconcileResult struct {
	JobID   string           `json:"job_id"`
	Outcome ReconcileOutcome `json:"status"`
	Job     *JobView         `json:"job,omitempty"`
}

// DispatchRequest is the body posted to the external compute worker.
type DispatchRequest struct {
	JobID       string                 `json:"job_id"`
	OwnerID     string                 `json:"owner_id"`
	FeatureKind FeatureKind            `json:"feature_kind"`
	CallbackURL string                 `json:"callback_url,omitempty"`
	Input       map[string]interface{} `json:"-"`
	// Path is appended to the worker base URL.
	Path string `json:"-"`
}

// Body flattens the input fields next to the correlation fields. Correlation fields win on collision.
func (r DispatchRequest) Body() map[string]interface{} {
	body := make(map[string]interface{}, len(r.Input)+4)
	for k, v := range r.Input {
		body[k] = v
	}
	body["job_id"] = r.JobID
	body["owner_id"] = r.OwnerID
	body["feature_kind"] = r.FeatureKind
	if r.CallbackURL != "" {
		body["callback_url"] = r.CallbackURL
	}
	return body
}
