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

package mocks

import (
	"context"
	"time"

	"github.com/forgelabs/forge/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Job methods

func (m *MockDataSource) CreateJob(ctx context.Context, job *model.Job) (*model.Job, error) {
	args := m.Called(ctx, job)
	created, _ := args.Get(0).(*model.Job)
	return created, args.Error(1)
}

func (m *MockDataSource) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	args := m.Called(ctx, jobID)
	job, _ := args.Get(0).(*model.Job)
	return job, args.Error(1)
}

func (m *MockDataSource) GetJobForOwner(ctx context.Context, jobID, ownerID string) (*model.Job, error) {
	args := m.Called(ctx, jobID, ownerID)
	job, _ := args.Get(0).(*model.Job)
	return job, args.Error(1)
}

func (m *MockDataSource) ListJobs(ctx context.Context, ownerID string, filter model.JobFilter, limit, offset int) ([]model.Job, error) {
	args := m.Called(ctx, ownerID, filter, limit, offset)
	jobs, _ := args.Get(0).([]model.Job)
	return jobs, args.Error(1)
}

func (m *MockDataSource) UpdateJobTerminal(ctx context.Context, jobID string, update model.TerminalUpdate) (*model.Job, error) {
	args := m.Called(ctx, jobID, update)
	job, _ := args.Get(0).(*model.Job)
	return job, args.Error(1)
}

func (m *MockDataSource) GetStaleProcessingJobs(ctx context.Context, kind model.FeatureKind, olderThan time.Duration, limit int) ([]model.Job, error) {
	args := m.Called(ctx, kind, olderThan, limit)
	jobs, _ := args.Get(0).([]model.Job)
	return jobs, args.Error(1)
}

// Credit methods

func (m *MockDataSource) TryDebit(ctx context.Context, entry *model.CreditEntry) (int64, error) {
	args := m.Called(ctx, entry)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDataSource) Credit(ctx context.Context, entry *model.CreditEntry) (int64, error) {
	args := m.Called(ctx, entry)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDataSource) GetCreditAccount(ctx context.Context, ownerID string) (*model.CreditAccount, error) {
	args := m.Called(ctx, ownerID)
	account, _ := args.Get(0).(*model.CreditAccount)
	return account, args.Error(1)
}

func (m *MockDataSource) GetCreditEntries(ctx context.Context, ownerID string, limit, offset int) ([]model.CreditEntry, error) {
	args := m.Called(ctx, ownerID, limit, offset)
	entries, _ := args.Get(0).([]model.CreditEntry)
	return entries, args.Error(1)
}
