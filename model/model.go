package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a prefix.
// This is useful for creating unique identifiers with context-specific prefixes.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New() // Generate a new UUID.
	uuidStr := id.String()
	idWithSuffix := fmt.Sprintf("%s_%s", module, uuidStr) // Prepend the module to the UUID.
	return idWithSuffix
}

// DebitReference is the ledger reference of the admission debit for a job.
func DebitReference(jobID string) string {
	return "debit:" + jobID
}

// RefundReference is the ledger reference of the single refund a job may receive.
func RefundReference(jobID string) string {
	return "refund:" + jobID
}

// UsageReference is the ledger reference of the duration based adjustment of a job.
func UsageReference(jobID string) string {
	return "usage:" + jobID
}

// PaymentReference is the ledger reference of a credit grant coming from a payment provider event.
func PaymentReference(provider, eventID string) string {
	return fmt.Sprintf("payment:%s:%s", strings.ToLower(provider), eventID)
}

// AdminReference is the ledger reference of a manual grant.
func AdminReference(reference string) string {
	return "admin:" + reference
}
