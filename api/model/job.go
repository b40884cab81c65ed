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

package model

import (
	"fmt"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/forgelabs/forge/model"
)

// ListJobsQuery holds the query string of a job listing.
type ListJobsQuery struct {
	Feature string `form:"feature"`
	Status  string `form:"status"`
	Limit   string `form:"limit"`
	Offset  string `form:"offset"`
}

func (q *ListJobsQuery) ValidateListJobs() error {
	return validation.ValidateStruct(q,
		validation.Field(&q.Status, validation.In(string(model.StatusProcessing), string(model.StatusCompleted), string(model.StatusFailed))),
		validation.Field(&q.Feature, validation.By(func(value interface{}) error {
			raw, _ := value.(string)
			if raw == "" {
				return nil
			}
			if _, ok := model.ParseFeatureKind(raw); !ok {
				return fmt.Errorf("unknown feature")
			}
			return nil
		})),
		validation.Field(&q.Limit, validation.By(isNonNegativeInt)),
		validation.Field(&q.Offset, validation.By(isNonNegativeInt)),
	)
}

// Filter returns the store filter. Call ValidateListJobs first.
func (q *ListJobsQuery) Filter() model.JobFilter {
	kind, _ := model.ParseFeatureKind(q.Feature)
	return model.JobFilter{FeatureKind: kind, Status: model.JobStatus(q.Status)}
}

// Page returns limit and offset, zero when absent.
func (q *ListJobsQuery) Page() (int, int) {
	limit, _ := strconv.Atoi(q.Limit)
	offset, _ := strconv.Atoi(q.Offset)
	return limit, offset
}

func isNonNegativeInt(value interface{}) error {
	raw, _ := value.(string)
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fmt.Errorf("must be a non-negative integer")
	}
	return nil
}
