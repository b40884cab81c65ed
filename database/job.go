/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/forgelabs/forge/internal/apierror"
	"github.com/forgelabs/forge/model"
)

const uniqueViolation = "23505"

const jobColumns = `job_id, owner_id, feature_kind, status, input_payload, result_uri, error_detail, result_meta, credits_reserved, created_at, completed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// scanJob maps a row selected with jobColumns into a Job.
func scanJob(row rowScanner) (*model.Job, error) {
	job := &model.Job{}
	var feature, status string
	var input, meta []byte
	var resultURI, errorDetail sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&job.JobID, &job.OwnerID, &feature, &status, &input, &resultURI, &errorDetail, &meta,
		&job.CreditsReserved, &job.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	job.FeatureKind = model.FeatureKind(feature)
	job.Status = model.JobStatus(status)
	if resultURI.Valid {
		job.ResultURI = &resultURI.String
	}
	if errorDetail.Valid {
		job.ErrorDetail = &errorDetail.String
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &job.InputPayload); err != nil {
			return nil, fmt.Errorf("decoding input payload of job %s: %w", job.JobID, err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &job.ResultMeta); err != nil {
			return nil, fmt.Errorf("decoding result meta of job %s: %w", job.JobID, err)
		}
	}
	return job, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// CreateJob inserts a new processing job. The partial unique index on (owner_id, feature_kind)
// rejects a second processing job for the same owner and feature with a Conflict error.
func (d Datasource) CreateJob(ctx context.Context, job *model.Job) (*model.Job, error) {
	ctx, span := otel.Tracer("forge.database").Start(ctx, "Saving job to db")
	defer span.End()

	input, err := json.Marshal(job.InputPayload)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "failed to encode job input", err)
	}

	if job.JobID == "" {
		job.JobID = model.GenerateUUIDWithSuffix("job")
	}
	job.Status = model.StatusProcessing
	job.CreatedAt = time.Now().UTC()

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO jobs (job_id, owner_id, feature_kind, status, input_payload, credits_reserved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, job.JobID, job.OwnerID, job.FeatureKind, job.Status, input, job.CreditsReserved, job.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "a job is already processing for this owner and feature", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to create job", err)
	}

	return job, nil
}

// GetJob retrieves a job by its ID. Only server side callers (callbacks, sweeps) may use it.
func (d Datasource) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	ctx, span := otel.Tracer("forge.database").Start(ctx, "Fetching job from db")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("job with ID '%s' not found", jobID), nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to retrieve job", err)
	}
	return job, nil
}

// GetJobForOwner retrieves a job only if it belongs to ownerID. A job owned by someone else
// is indistinguishable from a missing job.
func (d Datasource) GetJobForOwner(ctx context.Context, jobID, ownerID string) (*model.Job, error) {
	ctx, span := otel.Tracer("forge.database").Start(ctx, "Fetching owner job from db")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = $1 AND owner_id = $2`, jobID, ownerID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("job with ID '%s' not found", jobID), nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to retrieve job", err)
	}
	return job, nil
}

// ListJobs returns an owner's jobs, newest first, optionally narrowed by feature and status.
func (d Datasource) ListJobs(ctx context.Context, ownerID string, filter model.JobFilter, limit, offset int) ([]model.Job, error) {
	ctx, span := otel.Tracer("forge.database").Start(ctx, "Listing owner jobs from db")
	defer span.End()

	var query strings.Builder
	args := []interface{}{ownerID}
	query.WriteString(`SELECT ` + jobColumns + ` FROM jobs WHERE owner_id = $1`)
	if filter.FeatureKind != "" {
		args = append(args, filter.FeatureKind)
		query.WriteString(fmt.Sprintf(" AND feature_kind = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query.WriteString(fmt.Sprintf(" AND status = $%d", len(args)))
	}
	args = append(args, limit, offset)
	query.WriteString(fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args)))

	rows, err := d.Conn.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to list jobs", err)
	}
	defer rows.Close()

	jobs := []model.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to scan job", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to list jobs", err)
	}
	return jobs, nil
}

// UpdateJobTerminal applies a terminal outcome only while the job is still processing.
// When nothing is updated the job is probed to tell AlreadyTerminal from NotFound.
func (d Datasource) UpdateJobTerminal(ctx context.Context, jobID string, update model.TerminalUpdate) (*model.Job, error) {
	ctx, span := otel.Tracer("forge.database").Start(ctx, "Updating job to terminal status")
	defer span.End()

	if !update.Status.IsTerminal() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("status '%s' is not terminal", update.Status), nil)
	}

	var meta interface{}
	if len(update.ResultMeta) > 0 {
		encoded, err := json.Marshal(update.ResultMeta)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "failed to encode result meta", err)
		}
		meta = encoded
	}

	row := d.Conn.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = $2, result_uri = $3, error_detail = $4, result_meta = $5, completed_at = NOW()
		WHERE job_id = $1 AND status = 'processing'
		RETURNING `+jobColumns,
		jobID, update.Status, nullString(update.ResultURI), nullString(update.ErrorDetail), meta)

	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to update job status", err)
	}

	var current string
	err = d.Conn.QueryRowContext(ctx, `SELECT status FROM jobs WHERE job_id = $1`, jobID).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("job with ID '%s' not found", jobID), nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to retrieve job status", err)
	}
	return nil, apierror.NewAPIError(apierror.ErrAlreadyTerminal, fmt.Sprintf("job '%s' is already %s", jobID, current), nil)
}

// GetStaleProcessingJobs returns jobs of a feature that have been processing for longer than olderThan, oldest first.
func (d Datasource) GetStaleProcessingJobs(ctx context.Context, kind model.FeatureKind, olderThan time.Duration, limit int) ([]model.Job, error) {
	ctx, span := otel.Tracer("forge.database").Start(ctx, "Fetching stale processing jobs")
	defer span.End()

	cutoff := time.Now().UTC().Add(-olderThan)
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = 'processing' AND feature_kind = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3
	`, kind, cutoff, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to fetch stale jobs", err)
	}
	defer rows.Close()

	jobs := []model.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to scan job", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to fetch stale jobs", err)
	}
	return jobs, nil
}
