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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/forgelabs/forge/internal/apierror"
	"github.com/forgelabs/forge/model"
)

// TryDebit subtracts entry.Amount from the owner's balance only if the balance covers it.
// The conditional update and the entry insert share a transaction, so a reused reference
// leaves the balance untouched and surfaces as Conflict.
func (d Datasource) TryDebit(ctx context.Context, entry *model.CreditEntry) (int64, error) {
	ctx, span := otel.Tracer("forge.database").Start(ctx, "Debiting credit account")
	defer span.End()

	if entry.Amount <= 0 {
		return 0, apierror.NewAPIError(apierror.ErrInvalidInput, "debit amount must be positive", nil)
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var balance int64
	err = tx.QueryRowContext(ctx, `
		UPDATE credit_accounts
		SET balance = balance - $2, updated_at = NOW()
		WHERE owner_id = $1 AND balance >= $2
		RETURNING balance
	`, entry.OwnerID, entry.Amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, apierror.NewAPIError(apierror.ErrInsufficientCredits,
				fmt.Sprintf("insufficient credits: %d required", entry.Amount), nil)
		}
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "failed to debit credits", err)
	}

	entry.BalanceAfter = balance
	if err := insertEntry(ctx, tx, entry); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "failed to commit debit", err)
	}
	return balance, nil
}

// Credit adds entry.Amount to the owner's balance, opening the account on first use.
func (d Datasource) Credit(ctx context.Context, entry *model.CreditEntry) (int64, error) {
	ctx, span := otel.Tracer("forge.database").Start(ctx, "Crediting credit account")
	defer span.End()

	if entry.Amount <= 0 {
		return 0, apierror.NewAPIError(apierror.ErrInvalidInput, "credit amount must be positive", nil)
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var balance int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO credit_accounts (owner_id, balance, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (owner_id) DO UPDATE
		SET balance = credit_accounts.balance + EXCLUDED.balance, updated_at = NOW()
		RETURNING balance
	`, entry.OwnerID, entry.Amount).Scan(&balance)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "failed to credit account", err)
	}

	entry.BalanceAfter = balance
	if err := insertEntry(ctx, tx, entry); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "failed to commit credit", err)
	}
	return balance, nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, entry *model.CreditEntry) error {
	if entry.EntryID == "" {
		entry.EntryID = model.GenerateUUIDWithSuffix("entry")
	}
	entry.CreatedAt = time.Now().UTC()

	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_entries (entry_id, owner_id, entry_type, amount, balance_after, job_id, reference, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.EntryID, entry.OwnerID, entry.Type, entry.Amount, entry.BalanceAfter,
		nullString(entry.JobID), nullString(entry.Reference), nullString(entry.Description), entry.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apierror.NewAPIError(apierror.ErrConflict,
				fmt.Sprintf("credit entry '%s' already applied", entry.Reference), nil)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "failed to record credit entry", err)
	}
	return nil
}

// GetCreditAccount returns the owner's account. Owners that never held credits read as a zero balance.
func (d Datasource) GetCreditAccount(ctx context.Context, ownerID string) (*model.CreditAccount, error) {
	ctx, span := otel.Tracer("forge.database").Start(ctx, "Fetching credit account")
	defer span.End()

	account := &model.CreditAccount{}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT owner_id, balance, created_at, updated_at FROM credit_accounts WHERE owner_id = $1
	`, ownerID).Scan(&account.OwnerID, &account.Balance, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &model.CreditAccount{OwnerID: ownerID}, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to retrieve credit account", err)
	}
	return account, nil
}

// GetCreditEntries lists the owner's ledger entries, newest first.
func (d Datasource) GetCreditEntries(ctx context.Context, ownerID string, limit, offset int) ([]model.CreditEntry, error) {
	ctx, span := otel.Tracer("forge.database").Start(ctx, "Fetching credit entries")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT entry_id, owner_id, entry_type, amount, balance_after, job_id, reference, description, created_at
		FROM credit_entries
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to retrieve credit entries", err)
	}
	defer rows.Close()

	entries := []model.CreditEntry{}
	for rows.Next() {
		var entry model.CreditEntry
		var entryType string
		var jobID, reference, description sql.NullString
		if err := rows.Scan(&entry.EntryID, &entry.OwnerID, &entryType, &entry.Amount, &entry.BalanceAfter,
			&jobID, &reference, &description, &entry.CreatedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to scan credit entry", err)
		}
		entry.Type = model.EntryType(entryType)
		entry.JobID = jobID.String
		entry.Reference = reference.String
		entry.Description = description.String
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to retrieve credit entries", err)
	}
	return entries, nil
}
