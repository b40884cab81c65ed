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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/forgelabs/forge"
	"github.com/forgelabs/forge/api/middleware"
	"github.com/forgelabs/forge/config"
	"github.com/forgelabs/forge/internal/apierror"
)

type Api struct {
	forge  *forge.Forge
	conf   *config.Configuration
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router

	router.GET("/features", a.ListFeatures)

	user := router.Group("/", middleware.Identity(a.conf.Auth))
	user.POST("/jobs/:feature", a.SubmitJob)
	user.GET("/jobs/:id", a.GetJob)
	user.GET("/jobs", a.ListJobs)
	user.GET("/credits", a.GetCredits)
	user.GET("/credits/entries", a.GetCreditEntries)
	user.POST("/uploads/:feature", a.Upload)

	callbacks := router.Group("/callbacks", middleware.CallbackSecret(a.conf.Worker))
	callbacks.POST("/worker", a.WorkerCallback)
	callbacks.POST("/:feature", a.WorkerCallback)

	router.POST("/webhooks/payments/:provider", a.PaymentWebhook)

	admin := router.Group("/admin", middleware.MasterKey(a.conf.Server))
	admin.POST("/credits/grant", a.AdminGrantCredits)
	admin.POST("/jobs/expire", a.ExpireJobs)

	return a.router
}

func NewAPI(f *forge.Forge) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(otelgin.Middleware(conf.ProjectName))
	r.Use(middleware.RateLimitMiddleware(conf))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{forge: f, conf: conf, router: r}
}

// respondError writes err with the status its code maps to. Details of internal errors stay in the logs.
func respondError(c *gin.Context, err error) {
	status := apierror.MapErrorToHTTPStatus(err)

	var apiErr apierror.APIError
	if !errors.As(err, &apiErr) {
		logrus.WithError(err).Error("unhandled error")
		c.JSON(status, gin.H{"error": "internal server error", "code": apierror.ErrInternalServer})
		return
	}

	body := gin.H{"error": apiErr.Message, "code": apiErr.Code}
	if apiErr.Details != nil && apiErr.Code != apierror.ErrInternalServer {
		body["details"] = apiErr.Details
	}
	c.JSON(status, body)
}
