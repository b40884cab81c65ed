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
	"math"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/forgelabs/forge/internal/apierror"
	"github.com/forgelabs/forge/model"
)

var (
	jobIDKeys    = []string{"job_id", "jobId", "id"}
	resultKeys   = []string{"result_uri", "resultUri", "video_url", "videoUrl", "image_url", "imageUrl", "output_url", "outputUrl"}
	errorKeys    = []string{"error_detail", "errorDetail", "error", "error_message"}
	ownerKeys    = []string{"owner_id", "ownerId", "user_id", "userId"}
	durationKeys = []string{"duration", "duration_seconds"}
)

// WorkerCallback is the raw callback body. Workers disagree on field names, so every accepted
// spelling is folded into a single model.Callback here and nowhere else.
type WorkerCallback map[string]interface{}

func (w WorkerCallback) first(keys []string) string {
	for _, key := range keys {
		switch v := w[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func (w WorkerCallback) duration() (*float64, error) {
	for _, key := range durationKeys {
		switch v := w[key].(type) {
		case nil:
			continue
		case float64:
			return &v, nil
		case string:
			d, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil || math.IsNaN(d) || math.IsInf(d, 0) {
				return nil, fmt.Errorf("%s must be a finite number", key)
			}
			return &d, nil
		default:
			return nil, fmt.Errorf("%s must be a number", key)
		}
	}
	return nil, nil
}

// ToCallback normalizes the body. feature is the kind named by the route, if any.
func (w WorkerCallback) ToCallback(feature model.FeatureKind) (model.Callback, error) {
	cb := model.Callback{
		JobID:       w.first(jobIDKeys),
		OwnerID:     w.first(ownerKeys),
		ResultURI:   w.first(resultKeys),
		ErrorDetail: w.first(errorKeys),
		FeatureKind: feature,
	}

	rawStatus := w.first([]string{"status"})
	status, ok := model.ParseCallbackStatus(rawStatus)
	if !ok {
		return cb, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("unsupported callback status '%s'", rawStatus), nil)
	}
	cb.Status = status

	duration, err := w.duration()
	if err != nil {
		return cb, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil)
	}
	cb.DurationSeconds = duration

	err = validation.ValidateStruct(&cb,
		validation.Field(&cb.JobID, validation.Required),
		validation.Field(&cb.DurationSeconds, validation.Min(0.0), validation.Max(float64(model.MaxDurationSeconds))),
	)
	if err != nil {
		return cb, apierror.APIError{Code: apierror.ErrInvalidInput, Message: "invalid callback", Details: err}
	}
	return cb, nil
}
