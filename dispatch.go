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
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/forgelabs/forge/config"
	"github.com/forgelabs/forge/internal/apierror"
	"github.com/forgelabs/forge/internal/notification"
	"github.com/forgelabs/forge/model"
)

// Dispatch sends an admitted job to the worker within the configured timeout. When the worker
// cannot be reached the job is failed immediately and ErrDispatchFailed carries its view.
func (f *Forge) Dispatch(ctx context.Context, job *model.Job) (*model.JobView, error) {
	ctx, span := otel.Tracer("forge").Start(ctx, "Dispatch job")
	defer span.End()

	descriptor, err := f.features.Get(job.FeatureKind)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(f.config.Worker.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = config.DEFAULT_WORKER_TIMEOUT_SECONDS * time.Second
	}
	dispatchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err = f.dispatcher.Dispatch(dispatchCtx, model.DispatchRequest{
		JobID:       job.JobID,
		OwnerID:     job.OwnerID,
		FeatureKind: job.FeatureKind,
		CallbackURL: f.config.Worker.CallbackURL,
		Input:       job.InputPayload,
		Path:        descriptor.WorkerPath,
	})
	if err == nil {
		return f.viewOf(job), nil
	}

	detail := fmt.Sprintf("dispatch failed: %v", err)
	logrus.WithError(err).WithField("job_id", job.JobID).Error("dispatch failed")

	// the job must leave processing even when the client has gone away
	ctx = context.WithoutCancel(ctx)

	failed, updateErr := f.datasource.UpdateJobTerminal(ctx, job.JobID, model.TerminalUpdate{
		Status:      model.StatusFailed,
		ErrorDetail: detail,
	})
	if updateErr != nil {
		if apierror.Is(updateErr, apierror.ErrAlreadyTerminal) {
			// the worker called back before the dispatch call returned
			current, getErr := f.datasource.GetJob(ctx, job.JobID)
			if getErr != nil {
				return nil, getErr
			}
			return f.viewOf(current), nil
		}
		notification.NotifyError(fmt.Errorf("job %s stuck after dispatch failure: %w", job.JobID, updateErr))
		return nil, updateErr
	}

	if descriptor.RefundOnDispatchFailure {
		if _, err := f.refund(ctx, failed, detail); err != nil {
			logrus.WithError(err).WithField("job_id", job.JobID).Error("refund after dispatch failure failed")
		}
	}

	f.afterTransition(ctx, failed)
	notification.NotifyError(fmt.Errorf("job %s: %s", job.JobID, detail))

	view := f.viewOf(failed)
	return view, apierror.APIError{Code: apierror.ErrDispatchFailed, Message: detail, Details: view}
}
