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
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/forgelabs/forge/model"
)

// PaymentEvent is the subset of a payment provider event needed to grant credits.
type PaymentEvent struct {
	ID          string                 `json:"id"`
	EventID     string                 `json:"event_id"`
	Type        string                 `json:"type"`
	OwnerID     string                 `json:"owner_id"`
	UserID      string                 `json:"user_id"`
	Credits     int64                  `json:"credits"`
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata"`
}

func (e PaymentEvent) metadataString(key string) string {
	switch v := e.Metadata[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// ToGrant resolves the aliases a provider may use for the event id, the owner and the amount.
func (e PaymentEvent) ToGrant(provider string) (model.CreditGrant, error) {
	grant := model.CreditGrant{
		Provider:    strings.ToLower(provider),
		EventID:     e.EventID,
		OwnerID:     e.OwnerID,
		Credits:     e.Credits,
		Description: e.Description,
	}
	if grant.EventID == "" {
		grant.EventID = e.ID
	}
	if grant.OwnerID == "" {
		grant.OwnerID = e.UserID
	}
	if grant.OwnerID == "" {
		grant.OwnerID = e.metadataString("user_id")
	}
	if grant.Credits == 0 {
		if raw := e.metadataString("credits"); raw != "" {
			credits, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return grant, fmt.Errorf("metadata.credits must be an integer")
			}
			grant.Credits = credits
		}
	}
	if grant.Description == "" && e.Type != "" {
		grant.Description = fmt.Sprintf("%s %s", grant.Provider, e.Type)
	}
	return grant, nil
}

// AdminGrant is a manual credit grant. Reference makes retries safe.
type AdminGrant struct {
	OwnerID     string `json:"owner_id"`
	Credits     int64  `json:"credits"`
	Reference   string `json:"reference"`
	Description string `json:"description"`
}

func (g *AdminGrant) ValidateAdminGrant() error {
	return validation.ValidateStruct(g,
		validation.Field(&g.OwnerID, validation.Required),
		validation.Field(&g.Credits, validation.Required, validation.Min(int64(1))),
		validation.Field(&g.Reference, validation.Required, validation.Length(1, 200)),
	)
}

func (g *AdminGrant) ToCreditGrant() model.CreditGrant {
	return model.CreditGrant{
		Provider:    "admin",
		EventID:     g.Reference,
		OwnerID:     g.OwnerID,
		Credits:     g.Credits,
		Description: g.Description,
	}
}
