package model

import (
	"strings"
	"time"
)

type JobStatus string

const (
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed out of the status.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// FeatureKind identifies the generation product a job belongs to.
type FeatureKind string

const (
	FeatureBaby         FeatureKind = "baby"
	FeatureEarthZoom    FeatureKind = "earth_zoom"
	FeatureHailuo       FeatureKind = "hailuo"
	FeatureLipsync      FeatureKind = "lipsync"
	FeatureSeedance     FeatureKind = "seedance"
	FeatureVeo3         FeatureKind = "veo3"
	FeatureGenericVideo FeatureKind = "generic_video"
)

// FeatureKinds lists every supported feature kind in a stable order.
var FeatureKinds = []FeatureKind{
	FeatureBaby,
	FeatureEarthZoom,
	FeatureHailuo,
	FeatureLipsync,
	FeatureSeedance,
	FeatureVeo3,
	FeatureGenericVideo,
}

// ParseFeatureKind maps a route segment to a FeatureKind. Dashes are accepted in place of underscores
// so that both /jobs/earth-zoom and /jobs/earth_zoom resolve to the same feature.
func ParseFeatureKind(raw string) (FeatureKind, bool) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_")
	for _, kind := range FeatureKinds {
		if string(kind) == normalized {
			return kind, true
		}
	}
	return "", false
}

// Job is one request to perform an asynchronous generation task.
type Job struct {
	JobID           string                 `json:"job_id"`
	OwnerID         string                 `json:"owner_id"`
	FeatureKind     FeatureKind            `json:"feature_kind"`
	Status          JobStatus              `json:"status"`
	InputPayload    map[string]interface{} `json:"input_payload"`
	ResultURI       *string                `json:"result_uri"`
	ErrorDetail     *string                `json:"error_detail"`
	ResultMeta      map[string]interface{} `json:"result_meta,omitempty"`
	CreditsReserved int64                  `json:"credits_reserved"`
	CreatedAt       time.Time              `json:"created_at"`
	CompletedAt     *time.Time             `json:"completed_at"`
}

// TerminalUpdate carries the outcome applied to a processing job.
type TerminalUpdate struct {
	Status      JobStatus
	ResultURI   string
	ErrorDetail string
	ResultMeta  map[string]interface{}
}

// JobFilter narrows a job listing for an owner.
type JobFilter struct {
	FeatureKind FeatureKind
	Status      JobStatus
}

// JobView is the client facing projection of a job.
type JobView struct {
	JobID           string                 `json:"job_id"`
	FeatureKind     FeatureKind            `json:"feature_kind"`
	Status          JobStatus              `json:"status"`
	ResultURI       *string                `json:"result_uri"`
	ErrorDetail     *string                `json:"error_detail"`
	CreditsReserved int64                  `json:"credits_reserved"`
	DurationSeconds *float64               `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	CompletedAt     *time.Time             `json:"completed_at"`
	Fields          map[string]interface{} `json:"fields,omitempty"`
}

// NewJobView projects a job, copying only the listed input fields into the view.
func NewJobView(job *Job, projected []string) *JobView {
	view := &JobView{
		JobID:           job.JobID,
		FeatureKind:     job.FeatureKind,
		Status:          job.Status,
		ResultURI:       job.ResultURI,
		ErrorDetail:     job.ErrorDetail,
		CreditsReserved: job.CreditsReserved,
		CreatedAt:       job.CreatedAt,
		CompletedAt:     job.CompletedAt,
	}

	if d, ok := job.ResultMeta[MetaDurationSeconds].(float64); ok {
		view.DurationSeconds = &d
	}

	for _, field := range projected {
		value, ok := job.InputPayload[field]
		if !ok {
			continue
		}
		if view.Fields == nil {
			view.Fields = make(map[string]interface{})
		}
		view.Fields[field] = value
	}
	return view
}

const (
	MetaDurationSeconds = "duration_seconds"
	MetaUsageCredits    = "usage_credits"
)
