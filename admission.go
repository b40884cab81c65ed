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

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/forgelabs/forge/internal/apierror"
	"github.com/forgelabs/forge/internal/notification"
	"github.com/forgelabs/forge/model"
)

// Admit validates the input, reserves the feature cost and records a processing job.
// The reservation is returned whenever the job cannot be created, so a failed admission
// never changes the balance.
func (f *Forge) Admit(ctx context.Context, ownerID string, kind model.FeatureKind, input map[string]interface{}) (*model.Job, error) {
	ctx, span := otel.Tracer("forge").Start(ctx, "Admit job")
	defer span.End()

	if ownerID == "" {
		return nil, apierror.NewAPIError(apierror.ErrUnauthorized, "owner is required", nil)
	}

	descriptor, err := f.features.Get(kind)
	if err != nil {
		return nil, err
	}
	if descriptor.Disabled {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("feature '%s' is disabled", kind), nil)
	}
	if err := descriptor.ValidateInput(input); err != nil {
		return nil, apierror.APIError{Code: apierror.ErrInvalidInput, Message: fmt.Sprintf("invalid %s input", kind), Details: err}
	}

	jobID := model.GenerateUUIDWithSuffix("job")

	if descriptor.Cost > 0 {
		_, err := f.datasource.TryDebit(ctx, &model.CreditEntry{
			OwnerID:     ownerID,
			Type:        model.EntryDebit,
			Amount:      descriptor.Cost,
			JobID:       jobID,
			Reference:   model.DebitReference(jobID),
			Description: fmt.Sprintf("%s generation", kind),
		})
		if err != nil {
			return nil, err
		}
	}

	job, err := f.datasource.CreateJob(ctx, &model.Job{
		JobID:           jobID,
		OwnerID:         ownerID,
		FeatureKind:     kind,
		InputPayload:    input,
		CreditsReserved: descriptor.Cost,
	})
	if err != nil {
		// the debit is committed; returning it must not depend on the caller staying connected
		reserved := &model.Job{JobID: jobID, OwnerID: ownerID, CreditsReserved: descriptor.Cost}
		if _, refundErr := f.refund(context.WithoutCancel(ctx), reserved, "admission rolled back"); refundErr != nil {
			logrus.WithError(refundErr).WithField("job_id", jobID).Error("failed to return reservation after admission failure")
		}
		if apierror.Is(err, apierror.ErrConflict) {
			return nil, apierror.NewAPIError(apierror.ErrConcurrentJob, fmt.Sprintf("a %s job is already processing", kind), nil)
		}
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"job_id":       job.JobID,
		"owner_id":     ownerID,
		"feature_kind": kind,
		"cost":         descriptor.Cost,
	}).Info("job admitted")

	f.publishJob(ctx, job)
	return job, nil
}

// Submit admits a job and hands it to the worker.
func (f *Forge) Submit(ctx context.Context, ownerID string, kind model.FeatureKind, input map[string]interface{}) (*model.JobView, error) {
	job, err := f.Admit(ctx, ownerID, kind, input)
	if err != nil {
		return nil, err
	}
	return f.Dispatch(ctx, job)
}

// refund returns a job's reservation. The refund reference is unique per job, so it reports
// false without error when the job was already refunded.
func (f *Forge) refund(ctx context.Context, job *model.Job, reason string) (bool, error) {
	if job.CreditsReserved <= 0 {
		return false, nil
	}

	_, err := f.datasource.Credit(ctx, &model.CreditEntry{
		OwnerID:     job.OwnerID,
		Type:        model.EntryRefund,
		Amount:      job.CreditsReserved,
		JobID:       job.JobID,
		Reference:   model.RefundReference(job.JobID),
		Description: reason,
	})
	if err != nil {
		if apierror.Is(err, apierror.ErrConflict) {
			logrus.WithField("job_id", job.JobID).Info("job already refunded")
			return false, nil
		}
		notification.NotifyError(fmt.Errorf("refund of job %s failed: %w", job.JobID, err))
		return false, err
	}

	logrus.WithFields(logrus.Fields{"job_id": job.JobID, "amount": job.CreditsReserved}).Info("job reservation refunded")
	return true, nil
}
