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

	model2 "github.com/forgelabs/forge/api/model"
	"github.com/forgelabs/forge/internal/apierror"
	"github.com/forgelabs/forge/model"
)

// WorkerCallback applies the outcome reported by the compute worker. Replayed callbacks answer
// 200 with status already_terminal so the worker stops retrying.
func (a Api) WorkerCallback(c *gin.Context) {
	var feature model.FeatureKind
	if raw := c.Param("feature"); raw != "" {
		kind, ok := model.ParseFeatureKind(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown feature '" + raw + "'", "code": apierror.ErrInvalidInput})
			return
		}
		feature = kind
	}

	var body model2.WorkerCallback
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a JSON object", "code": apierror.ErrBadRequest})
		return
	}

	callback, err := body.ToCallback(feature)
	if err != nil {
		logrus.WithError(err).Warn("rejected worker callback")
		respondError(c, err)
		return
	}

	result, err := a.forge.Reconcile(c.Request.Context(), callback)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
