package model

import "time"

type EntryType string

const (
	EntryDebit  EntryType = "debit"
	EntryRefund EntryType = "refund"
	EntryUsage  EntryType = "usage"
	EntryGrant  EntryType = "grant"
)

// IsCredit reports whether the entry increases the balance.
func (e EntryType) IsCredit() bool {
	return e == EntryRefund || e == EntryGrant
}

// CreditAccount holds the spendable balance of an owner. Balance is never negative.
type CreditAccount struct {
	OwnerID   string    `json:"owner_id"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreditEntry is one mutation of a credit account. Reference, when set, is unique across the ledger
// and makes the mutation idempotent.
type CreditEntry struct {
	EntryID      string    `json:"entry_id"`
	OwnerID      string    `json:"owner_id"`
	Type         EntryType `json:"entry_type"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	JobID        string    `json:"job_id,omitempty"`
	Reference    string    `json:"reference,omitempty"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreditGrant is a normalized request to add credits to an owner, usually from a payment event.
type CreditGrant struct {
	Provider    string `json:"provider"`
	EventID     string `json:"event_id"`
	OwnerID     string `json:"owner_id"`
	Credits     int64  `json:"credits"`
	Description string `json:"description,omitempty"`
}

// GrantResult reports the outcome of a credit grant.
type GrantResult struct {
	OwnerID        string `json:"owner_id"`
	Balance        int64  `json:"balance"`
	AlreadyApplied bool   `json:"already_applied"`
}
