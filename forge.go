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
	"embed"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/forgelabs/forge/config"
	"github.com/forgelabs/forge/database"
	"github.com/forgelabs/forge/internal/cache"
	"github.com/forgelabs/forge/internal/dispatch"
	"github.com/forgelabs/forge/model"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

// Dispatcher hands an admitted job to the external compute worker.
type Dispatcher interface {
	Dispatch(ctx context.Context, req model.DispatchRequest) error
}

// Uploader stores user supplied files and returns the URL workers fetch them from.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error)
}

// Forge ties the credit ledger, the job store and the worker together.
type Forge struct {
	datasource database.IDataSource
	config     *config.Configuration
	features   *FeatureRegistry
	dispatcher Dispatcher
	cache      cache.Cache
	redis      redis.UniversalClient
	queue      *Queue
	uploader   Uploader
}

// Option configures optional collaborators of a Forge instance.
type Option func(*Forge)

func WithDispatcher(d Dispatcher) Option {
	return func(f *Forge) { f.dispatcher = d }
}

// WithCache enables caching of terminal job views.
func WithCache(c cache.Cache) Option {
	return func(f *Forge) { f.cache = c }
}

// WithRedis sets the client used for distributed locks.
func WithRedis(client redis.UniversalClient) Option {
	return func(f *Forge) { f.redis = client }
}

// WithQueue sets the queue lifecycle events are published on.
func WithQueue(q *Queue) Option {
	return func(f *Forge) { f.queue = q }
}

func WithUploader(u Uploader) Option {
	return func(f *Forge) { f.uploader = u }
}

// WithFeatures replaces the feature catalog built from the configuration.
func WithFeatures(r *FeatureRegistry) Option {
	return func(f *Forge) { f.features = r }
}

// NewForge builds a Forge from the loaded configuration. The worker client is created from the
// worker section unless a dispatcher is injected; cache, queue, redis and uploader stay disabled
// until provided.
func NewForge(db database.IDataSource, opts ...Option) (*Forge, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	f := &Forge{datasource: db, config: cfg}
	for _, opt := range opts {
		opt(f)
	}

	if f.features == nil {
		features, err := NewFeatureRegistry(cfg)
		if err != nil {
			return nil, err
		}
		f.features = features
	}
	if f.dispatcher == nil {
		f.dispatcher = dispatch.NewClient(cfg.Worker)
	}
	return f, nil
}

// Features returns the feature catalog.
func (f *Forge) Features() *FeatureRegistry {
	return f.features
}

// UploadsEnabled reports whether an uploader is configured.
func (f *Forge) UploadsEnabled() bool {
	return f.uploader != nil
}

func (f *Forge) jobViewTTL() time.Duration {
	return time.Duration(f.config.Cache.JobViewTTLSeconds) * time.Second
}
