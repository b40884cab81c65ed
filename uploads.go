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
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/forgelabs/forge/internal/apierror"
	"github.com/forgelabs/forge/model"
)

// UploadInput stores a file a feature accepts as input and returns its public URL.
func (f *Forge) UploadInput(ctx context.Context, ownerID string, kind model.FeatureKind, filename, contentType string, size int64, body io.Reader) (string, error) {
	if f.uploader == nil {
		return "", apierror.NewAPIError(apierror.ErrServiceUnavailable, "uploads are not configured", nil)
	}

	descriptor, err := f.features.Get(kind)
	if err != nil {
		return "", err
	}
	if descriptor.Upload == nil {
		return "", apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("feature '%s' does not accept uploads", kind), nil)
	}
	if err := descriptor.Upload.Allows(contentType, size); err != nil {
		return "", apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil)
	}

	key := uploadKey(ownerID, kind, filename)
	uri, err := f.uploader.Upload(ctx, key, contentType, body)
	if err != nil {
		return "", apierror.NewAPIError(apierror.ErrInternalServer, "failed to store upload", err)
	}

	logrus.WithFields(logrus.Fields{"owner_id": ownerID, "key": key, "size": size}).Info("upload stored")
	return uri, nil
}

func uploadKey(ownerID string, kind model.FeatureKind, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return fmt.Sprintf("uploads/%s/%s/%s%s", ownerID, kind, uuid.NewString(), ext)
}
