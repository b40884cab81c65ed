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
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	model2 "github.com/forgelabs/forge/api/model"
	"github.com/forgelabs/forge/internal/apierror"
)

const maxPaymentBody = 1 << 20

// PaymentWebhook grants credits for a signed payment provider event. Events whose type is not a
// configured grant event are acknowledged and ignored.
func (a Api) PaymentWebhook(c *gin.Context) {
	providerName := strings.ToLower(c.Param("provider"))
	provider, ok := a.conf.Payments.Providers[providerName]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown payment provider '" + providerName + "'", "code": apierror.ErrNotFound})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPaymentBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body", "code": apierror.ErrBadRequest})
		return
	}

	if !validSignature(provider.SigningSecret, body, c.GetHeader(a.conf.Payments.SignatureHeader)) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature", "code": apierror.ErrUnauthorized})
		return
	}

	var event model2.PaymentEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event payload", "code": apierror.ErrBadRequest})
		return
	}

	if !isGrantEvent(provider.GrantEvents, event.Type) {
		logrus.WithFields(logrus.Fields{"provider": providerName, "type": event.Type}).Info("ignoring payment event")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	grant, err := event.ToGrant(providerName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": apierror.ErrInvalidInput})
		return
	}

	result, err := a.forge.GrantCredits(c.Request.Context(), grant)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// validSignature checks a hex HMAC-SHA256 of body. A "sha256=" prefix is accepted.
func validSignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func isGrantEvent(events []string, eventType string) bool {
	for _, e := range events {
		if e == eventType {
			return true
		}
	}
	return false
}
