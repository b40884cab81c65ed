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
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"

	"github.com/forgelabs/forge/internal/apierror"
	"github.com/forgelabs/forge/model"
)

const adminProvider = "admin"

// GetBalance returns the owner's credit account.
func (f *Forge) GetBalance(ctx context.Context, ownerID string) (*model.CreditAccount, error) {
	return f.datasource.GetCreditAccount(ctx, ownerID)
}

// GetCreditEntries returns the owner's ledger history, newest first.
func (f *Forge) GetCreditEntries(ctx context.Context, ownerID string, limit, offset int) ([]model.CreditEntry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return f.datasource.GetCreditEntries(ctx, ownerID, limit, offset)
}

func validateGrant(g model.CreditGrant) error {
	return validation.ValidateStruct(&g,
		validation.Field(&g.Provider, validation.Required),
		validation.Field(&g.EventID, validation.Required),
		validation.Field(&g.OwnerID, validation.Required),
		validation.Field(&g.Credits, validation.Required, validation.Min(int64(1))),
	)
}

// GrantCredits adds credits for a payment event or a manual grant. Each provider event is applied
// at most once; a replay reports AlreadyApplied with the current balance.
func (f *Forge) GrantCredits(ctx context.Context, grant model.CreditGrant) (*model.GrantResult, error) {
	if err := validateGrant(grant); err != nil {
		return nil, apierror.APIError{Code: apierror.ErrInvalidInput, Message: "invalid credit grant", Details: err}
	}

	reference := model.PaymentReference(grant.Provider, grant.EventID)
	if strings.EqualFold(grant.Provider, adminProvider) {
		reference = model.AdminReference(grant.EventID)
	}

	entry := &model.CreditEntry{
		OwnerID:     grant.OwnerID,
		Type:        model.EntryGrant,
		Amount:      grant.Credits,
		Reference:   reference,
		Description: grant.Description,
	}
	balance, err := f.datasource.Credit(ctx, entry)
	if err != nil {
		if !apierror.Is(err, apierror.ErrConflict) {
			return nil, err
		}
		account, getErr := f.datasource.GetCreditAccount(ctx, grant.OwnerID)
		if getErr != nil {
			return nil, getErr
		}
		logrus.WithField("reference", reference).Info("credit grant already applied")
		return &model.GrantResult{OwnerID: grant.OwnerID, Balance: account.Balance, AlreadyApplied: true}, nil
	}

	logrus.WithFields(logrus.Fields{
		"owner_id":  grant.OwnerID,
		"credits":   grant.Credits,
		"reference": reference,
	}).Info("credits granted")

	if err := f.SendWebhook(ctx, NewWebhook{Event: EventCreditsGranted, Payload: entry}); err != nil {
		logrus.WithError(err).WithField("reference", reference).Warn("failed to enqueue credit webhook")
	}
	return &model.GrantResult{OwnerID: grant.OwnerID, Balance: balance}, nil
}
