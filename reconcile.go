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

package forge

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/forgelabs/forge/internal/apierror"
	"github.com/forgelabs/forge/internal/notification"
	"github.com/forgelabs/forge/model"
)

const (
	missingResultDetail  = "worker reported completion without a result"
	defaultFailureDetail = "generation failed"
)

// Reconcile applies a worker callback to its job. Only the first terminal callback changes
// anything; replays and late callbacks report already_terminal.
func (f *Forge) Reconcile(ctx context.Context, cb model.Callback) (*model.ReconcileResult, error) {
	ctx, span := otel.Tracer("forge").Start(ctx, "Reconcile callback")
	defer span.End()

	if cb.JobID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "job_id is required", nil)
	}
	if !cb.Status.IsTerminal() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("unsupported callback status '%s'", cb.Status), nil)
	}
	if d := cb.DurationSeconds; d != nil && (math.IsNaN(*d) || *d < 0 || *d > model.MaxDurationSeconds) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("duration must be between 0 and %d seconds", model.MaxDurationSeconds), nil)
	}

	job, err := f.datasource.GetJob(ctx, cb.JobID)
	if err != nil {
		return nil, err
	}
	if cb.OwnerID != "" && cb.OwnerID != job.OwnerID {
		return nil, apierror.NewAPIError(apierror.ErrForbidden, "callback owner does not match job owner", nil)
	}
	if cb.FeatureKind != "" && cb.FeatureKind != job.FeatureKind {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("job %s belongs to feature '%s'", job.JobID, job.FeatureKind), nil)
	}
	if job.Status.IsTerminal() {
		return f.alreadyTerminal(job), nil
	}

	descriptor, err := f.features.Get(job.FeatureKind)
	if err != nil {
		return nil, err
	}

	if cb.Status == model.StatusCompleted && cb.ResultURI == "" {
		cb.Status = model.StatusFailed
		cb.ErrorDetail = missingResultDetail
	}

	if cb.Status == model.StatusCompleted {
		return f.complete(ctx, job, descriptor, cb)
	}
	return f.fail(ctx, job, descriptor, cb)
}

func (f *Forge) complete(ctx context.Context, job *model.Job, descriptor *FeatureDescriptor, cb model.Callback) (*model.ReconcileResult, error) {
	var meta map[string]interface{}
	var usage int64
	if cb.DurationSeconds != nil {
		usage = descriptor.Usage.ExtraCredits(*cb.DurationSeconds)
		meta = map[string]interface{}{model.MetaDurationSeconds: *cb.DurationSeconds}
		if usage > 0 {
			meta[model.MetaUsageCredits] = usage
		}
	}

	updated, err := f.datasource.UpdateJobTerminal(ctx, job.JobID, model.TerminalUpdate{
		Status:     model.StatusCompleted,
		ResultURI:  cb.ResultURI,
		ResultMeta: meta,
	})
	if err != nil {
		return f.lostRace(ctx, job.JobID, err)
	}
	// the transition is committed, the follow up ledger work must not be cut short
	ctx = context.WithoutCancel(ctx)

	if usage > 0 {
		_, err := f.datasource.TryDebit(ctx, &model.CreditEntry{
			OwnerID:     updated.OwnerID,
			Type:        model.EntryUsage,
			Amount:      usage,
			JobID:       updated.JobID,
			Reference:   model.UsageReference(updated.JobID),
			Description: fmt.Sprintf("%.1fs of %s output", *cb.DurationSeconds, updated.FeatureKind),
		})
		if err != nil && !apierror.Is(err, apierror.ErrConflict) {
			logrus.WithError(err).WithField("job_id", updated.JobID).Error("usage charge failed")
			notification.NotifyError(fmt.Errorf("usage charge of %d for job %s failed: %w", usage, updated.JobID, err))
		}
	}

	logrus.WithFields(logrus.Fields{"job_id": updated.JobID, "usage_credits": usage}).Info("job completed")
	f.afterTransition(ctx, updated)
	return &model.ReconcileResult{JobID: updated.JobID, Outcome: model.OutcomeCompleted, Job: f.viewOf(updated)}, nil
}

func (f *Forge) fail(ctx context.Context, job *model.Job, descriptor *FeatureDescriptor, cb model.Callback) (*model.ReconcileResult, error) {
	detail := cb.ErrorDetail
	if detail == "" {
		detail = defaultFailureDetail
	}

	updated, err := f.datasource.UpdateJobTerminal(ctx, job.JobID, model.TerminalUpdate{
		Status:      model.StatusFailed,
		ErrorDetail: detail,
	})
	if err != nil {
		return f.lostRace(ctx, job.JobID, err)
	}
	ctx = context.WithoutCancel(ctx)

	if descriptor.RefundOnWorkerFailure {
		if _, err := f.refund(ctx, updated, detail); err != nil {
			logrus.WithError(err).WithField("job_id", updated.JobID).Error("refund after worker failure failed")
		}
	}

	logrus.WithFields(logrus.Fields{"job_id": updated.JobID, "detail": detail}).Info("job failed")
	f.afterTransition(ctx, updated)
	return &model.ReconcileResult{JobID: updated.JobID, Outcome: model.OutcomeFailed, Job: f.viewOf(updated)}, nil
}

// lostRace handles an update that found the job already terminal because another
// callback or the expiry sweep got there first.
func (f *Forge) lostRace(ctx context.Context, jobID string, err error) (*model.ReconcileResult, error) {
	if !apierror.Is(err, apierror.ErrAlreadyTerminal) {
		return nil, err
	}
	current, getErr := f.datasource.GetJob(ctx, jobID)
	if getErr != nil {
		return nil, getErr
	}
	return f.alreadyTerminal(current), nil
}

func (f *Forge) alreadyTerminal(job *model.Job) *model.ReconcileResult {
	logrus.WithFields(logrus.Fields{"job_id": job.JobID, "status": job.Status}).Info("ignoring callback for terminal job")
	return &model.ReconcileResult{JobID: job.JobID, Outcome: model.OutcomeAlreadyTerminal, Job: f.viewOf(job)}
}
