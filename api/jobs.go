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

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/forgelabs/forge/api/middleware"
	model2 "github.com/forgelabs/forge/api/model"
	"github.com/forgelabs/forge/internal/apierror"
)

// SubmitJob admits a job for the feature in the route and dispatches it. The JSON body is the
// feature input.
//
// Responses:
// - 202 Accepted: the job is processing.
// - 400 Bad Request: unknown feature or invalid input.
// - 402 Payment Required: the balance does not cover the cost.
// - 409 Conflict: a job of this feature is already processing for the owner.
// - 502 Bad Gateway: the worker could not be reached. The failed job is returned in details.
func (a Api) SubmitJob(c *gin.Context) {
	descriptor, err := a.forge.Features().Resolve(c.Param("feature"))
	if err != nil {
		respondError(c, err)
		return
	}

	var input map[string]interface{}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a JSON object", "code": apierror.ErrBadRequest})
		return
	}

	ownerID := middleware.OwnerID(c)
	view, err := a.forge.Submit(c.Request.Context(), ownerID, descriptor.Kind, input)
	if err != nil {
		respondError(c, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"job_id":       view.JobID,
		"owner_id":     ownerID,
		"email":        middleware.OwnerEmail(c),
		"feature_kind": descriptor.Kind,
	}).Info("job submitted")
	c.JSON(http.StatusAccepted, view)
}

// GetJob returns the caller's job. Jobs of other owners are reported as not found.
func (a Api) GetJob(c *gin.Context) {
	view, err := a.forge.GetJobStatus(c.Request.Context(), middleware.OwnerID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (a Api) ListJobs(c *gin.Context) {
	var query model2.ListJobsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": apierror.ErrBadRequest})
		return
	}
	if err := query.ValidateListJobs(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query", "code": apierror.ErrInvalidInput, "details": err})
		return
	}

	limit, offset := query.Page()
	views, err := a.forge.ListJobs(c.Request.Context(), middleware.OwnerID(c), query.Filter(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}
