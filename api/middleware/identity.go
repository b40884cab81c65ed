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
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/forgelabs/forge/config"
	"github.com/forgelabs/forge/internal/apierror"
)

const (
	ownerKey = "forge_owner_id"
	emailKey = "forge_owner_email"
)

// Identity verifies the identity provider's HS256 access token and stores its subject as the owner.
func Identity(conf config.AuthConfig) gin.HandlerFunc {
	options := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if conf.Audience != "" {
		options = append(options, jwt.WithAudience(conf.Audience))
	}
	parser := jwt.NewParser(options...)

	return func(c *gin.Context) {
		if conf.JWTSecret == "" {
			abort(c, http.StatusInternalServerError, apierror.ErrInternalServer, "identity verification is not configured")
			return
		}

		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abort(c, http.StatusUnauthorized, apierror.ErrUnauthorized, "missing bearer token")
			return
		}

		claims := jwt.MapClaims{}
		_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return []byte(conf.JWTSecret), nil
		})
		if err != nil {
			if !errors.Is(err, jwt.ErrTokenExpired) {
				logrus.WithError(err).Debug("rejected access token")
			}
			abort(c, http.StatusUnauthorized, apierror.ErrUnauthorized, "invalid access token")
			return
		}

		subject, err := claims.GetSubject()
		if err != nil || subject == "" {
			abort(c, http.StatusUnauthorized, apierror.ErrUnauthorized, "access token has no subject")
			return
		}

		c.Set(ownerKey, subject)
		if email, ok := claims["email"].(string); ok {
			c.Set(emailKey, email)
		}
		c.Next()
	}
}

// OwnerID returns the authenticated owner set by Identity.
func OwnerID(c *gin.Context) string {
	return c.GetString(ownerKey)
}

func OwnerEmail(c *gin.Context) string {
	return c.GetString(emailKey)
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
