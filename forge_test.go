package forge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forgelabs/forge/config"
	"github.com/forgelabs/forge/database/mocks"
	"github.com/forgelabs/forge/model"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	err      error
	before   func()
	requests []model.DispatchRequest
}

func (d *fakeDispatcher) Dispatch(_ context.Context, req model.DispatchRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req)
	if d.before != nil {
		d.before()
	}
	return d.err
}

func (d *fakeDispatcher) calls() []model.DispatchRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.DispatchRequest(nil), d.requests...)
}

func testConfig() *config.Configuration {
	return &config.Configuration{
		ProjectName: "forge-test",
		DataSource:  config.DataSourceConfig{Dns: "postgres://localhost:5432/forge"},
		Redis:       config.RedisConfig{Dns: "localhost:6379"},
		Worker: config.WorkerConfig{
			BaseURL:        "https://worker.example.com",
			CallbackURL:    "https://api.example.com/callbacks",
			CallbackSecret: "callback-secret",
			TimeoutSeconds: 2,
		},
		Expiry: config.ExpiryConfig{
			PollIntervalSeconds: 60,
			DefaultAfterSeconds: 3600,
			MaxWorkers:          2,
			BatchSize:           200,
		},
		Queue: config.QueueConfig{WebhookQueue: config.DEFAULT_WEBHOOK_QUEUE},
		Cache: config.CacheConfig{JobViewTTLSeconds: 60},
	}
}

func newTestForge(t *testing.T, cnf *config.Configuration, opts ...Option) (*Forge, *mocks.MockDataSource, *fakeDispatcher) {
	t.Helper()
	if cnf == nil {
		cnf = testConfig()
	}
	config.MockConfig(cnf)

	ds := new(mocks.MockDataSource)
	dispatcher := &fakeDispatcher{}
	f, err := NewForge(ds, append([]Option{WithDispatcher(dispatcher)}, opts...)...)
	require.NoError(t, err)
	return f, ds, dispatcher
}

func processingJob(id, owner string, kind model.FeatureKind, reserved int64) *model.Job {
	return &model.Job{
		JobID:           id,
		OwnerID:         owner,
		FeatureKind:     kind,
		Status:          model.StatusProcessing,
		InputPayload:    map[string]interface{}{"prompt": "a cat surfing"},
		CreditsReserved: reserved,
		CreatedAt:       time.Now().Add(-time.Minute),
	}
}

func terminalJob(job *model.Job, status model.JobStatus, resultURI, detail string) *model.Job {
	out := *job
	out.Status = status
	now := time.Now()
	out.CompletedAt = &now
	if resultURI != "" {
		out.ResultURI = &resultURI
	}
	if detail != "" {
		out.ErrorDetail = &detail
	}
	return &out
}
