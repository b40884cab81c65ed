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
	"time"

	"github.com/forgelabs/forge/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	job    // Interface for job store operations
	credit // Interface for credit ledger operations
}

// job defines methods for the job store. Terminal transitions are conditional on the job still processing.
type job interface {
	CreateJob(ctx context.Context, job *model.Job) (*model.Job, error)                                                             // Inserts a processing job, Conflict if one is already processing for the owner and feature
	GetJob(ctx context.Context, jobID string) (*model.Job, error)                                                                  // Retrieves a job by ID regardless of owner
	GetJobForOwner(ctx context.Context, jobID, ownerID string) (*model.Job, error)                                                 // Retrieves a job by ID scoped to its owner
	ListJobs(ctx context.Context, ownerID string, filter model.JobFilter, limit, offset int) ([]model.Job, error)                  // Lists an owner's jobs, newest first
	UpdateJobTerminal(ctx context.Context, jobID string, update model.TerminalUpdate) (*model.Job, error)                          // Moves a processing job to a terminal status
	GetStaleProcessingJobs(ctx context.Context, kind model.FeatureKind, olderThan time.Duration, limit int) ([]model.Job, error)    // Retrieves jobs processing for longer than olderThan
}

// credit defines methods for the credit ledger. Every mutation is a conditional update plus an entry row.
type credit interface {
	TryDebit(ctx context.Context, entry *model.CreditEntry) (int64, error)                           // Debits only if the balance covers the amount
	Credit(ctx context.Context, entry *model.CreditEntry) (int64, error)                             // Credits, creating the account when missing
	GetCreditAccount(ctx context.Context, ownerID string) (*model.CreditAccount, error)               // Retrieves an owner's balance
	GetCreditEntries(ctx context.Context, ownerID string, limit, offset int) ([]model.CreditEntry, error) // Lists an owner's ledger entries, newest first
}
