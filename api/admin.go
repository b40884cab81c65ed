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
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	model2 "github.com/forgelabs/forge/api/model"
	"github.com/forgelabs/forge/internal/apierror"
)

// thirty days
const maxExpiryThresholdMinutes = 30 * 24 * 60

// AdminGrantCredits grants credits manually. Reusing a reference does not grant twice.
func (a Api) AdminGrantCredits(c *gin.Context) {
	var grant model2.AdminGrant
	if err := c.ShouldBindJSON(&grant); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": apierror.ErrBadRequest})
		return
	}
	if err := grant.ValidateAdminGrant(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid grant", "code": apierror.ErrInvalidInput, "details": err})
		return
	}

	result, err := a.forge.GrantCredits(c.Request.Context(), grant.ToCreditGrant())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ExpireJobs runs an expiry sweep now. threshold_minutes overrides the per feature expiry.
func (a Api) ExpireJobs(c *gin.Context) {
	threshold := time.Duration(a.conf.Expiry.DefaultAfterSeconds) * time.Second
	if raw := c.Query("threshold_minutes"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes <= 0 || minutes > maxExpiryThresholdMinutes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "threshold_minutes must be between 1 and 43200", "code": apierror.ErrInvalidInput})
			return
		}
		threshold = time.Duration(minutes) * time.Minute
	}

	expired, err := a.forge.ExpireStaleJobs(c.Request.Context(), threshold)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": expired, "threshold": threshold.String()})
}
