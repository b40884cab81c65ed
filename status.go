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
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/forgelabs/forge/internal/cache"
	"github.com/forgelabs/forge/model"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func jobViewKey(ownerID, jobID string) string {
	return fmt.Sprintf("job-view:%s:%s", ownerID, jobID)
}

// viewOf projects a job with the fields its feature exposes.
func (f *Forge) viewOf(job *model.Job) *model.JobView {
	var projected []string
	if descriptor, err := f.features.Get(job.FeatureKind); err == nil {
		projected = descriptor.ProjectedFields
	}
	return model.NewJobView(job, projected)
}

// GetJobStatus returns the owner's view of a job. Jobs of other owners read as not found.
// Terminal views never change, so only those are cached.
func (f *Forge) GetJobStatus(ctx context.Context, ownerID, jobID string) (*model.JobView, error) {
	key := jobViewKey(ownerID, jobID)
	if f.cache != nil {
		var cached model.JobView
		err := f.cache.Get(ctx, key, &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			logrus.WithError(err).WithField("job_id", jobID).Warn("job view cache read failed")
		}
	}

	job, err := f.datasource.GetJobForOwner(ctx, jobID, ownerID)
	if err != nil {
		return nil, err
	}

	view := f.viewOf(job)
	if f.cache != nil && job.Status.IsTerminal() {
		if err := f.cache.Set(ctx, key, view, f.jobViewTTL()); err != nil {
			logrus.WithError(err).WithField("job_id", jobID).Warn("job view cache write failed")
		}
	}
	return view, nil
}

// ListJobs lists the owner's jobs newest first.
func (f *Forge) ListJobs(ctx context.Context, ownerID string, filter model.JobFilter, limit, offset int) ([]*model.JobView, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	jobs, err := f.datasource.ListJobs(ctx, ownerID, filter, limit, offset)
	if err != nil {
		return nil, err
	}

	views := make([]*model.JobView, 0, len(jobs))
	for i := range jobs {
		views = append(views, f.viewOf(&jobs[i]))
	}
	return views, nil
}

// afterTransition drops any cached view of the job and publishes its new status.
func (f *Forge) afterTransition(ctx context.Context, job *model.Job) {
	if f.cache != nil {
		if err := f.cache.Delete(ctx, jobViewKey(job.OwnerID, job.JobID)); err != nil {
			logrus.WithError(err).WithField("job_id", job.JobID).Warn("failed to invalidate job view")
		}
	}
	f.publishJob(ctx, job)
}
