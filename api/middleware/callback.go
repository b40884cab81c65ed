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

package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/forgelabs/forge/config"
	"github.com/forgelabs/forge/internal/apierror"
)

const CallbackSecretHeader = "X-Callback-Secret"

// CallbackSecret authenticates the compute worker. The secret comes from a bearer token or
// X-Callback-Secret. Without a configured secret every callback is rejected.
func CallbackSecret(conf config.WorkerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if conf.CallbackSecret == "" {
			abort(c, http.StatusInternalServerError, apierror.ErrInternalServer, "callback secret is not configured")
			return
		}

		secret := c.GetHeader(CallbackSecretHeader)
		if secret == "" {
			secret, _ = bearerToken(c.GetHeader("Authorization"))
		}
		if secret == "" {
			abort(c, http.StatusUnauthorized, apierror.ErrUnauthorized, "missing callback secret")
			return
		}
		if !secureCompare(conf.CallbackSecret, secret) {
			abort(c, http.StatusForbidden, apierror.ErrForbidden, "invalid callback secret")
			return
		}
		c.Next()
	}
}
