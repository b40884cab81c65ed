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

	"github.com/forgelabs/forge/api/middleware"
	"github.com/forgelabs/forge/internal/apierror"
)

// Upload stores a multipart "file" the feature accepts as input and returns its URL.
func (a Api) Upload(c *gin.Context) {
	if !a.forge.UploadsEnabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "uploads are not configured", "code": apierror.ErrServiceUnavailable})
		return
	}

	descriptor, err := a.forge.Features().Resolve(c.Param("feature"))
	if err != nil {
		respondError(c, err)
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' is required", "code": apierror.ErrBadRequest})
		return
	}
	file, err := header.Open()
	if err != nil {
		respondError(c, apierror.NewAPIError(apierror.ErrInternalServer, "failed to read upload", err))
		return
	}
	defer file.Close()

	url, err := a.forge.UploadInput(c.Request.Context(), middleware.OwnerID(c), descriptor.Kind,
		header.Filename, header.Header.Get("Content-Type"), header.Size, file)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"url": url})
}
