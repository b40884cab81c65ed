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
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/forgelabs/forge/config"
	redis_db "github.com/forgelabs/forge/internal/redis-db"
)

const webhookMaxRetry = 10

// Queue publishes background tasks to Redis through asynq.
type Queue struct {
	Client       *asynq.Client
	Inspector    *asynq.Inspector
	webhookQueue string
}

// RedisClientOpt maps the redis configuration onto asynq connection options.
func RedisClientOpt(conf config.RedisConfig) (asynq.RedisClientOpt, error) {
	opts, err := redis_db.ParseRedisURL(conf.Dns, conf.SkipTLSVerify)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{
		Addr:      opts.Addr,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	}, nil
}

// NewQueue connects an asynq client and inspector to the configured Redis.
func NewQueue(conf *config.Configuration) (*Queue, error) {
	opt, err := RedisClientOpt(conf.Redis)
	if err != nil {
		return nil, err
	}
	return &Queue{
		Client:       asynq.NewClient(opt),
		Inspector:    asynq.NewInspector(opt),
		webhookQueue: conf.Queue.WebhookQueue,
	}, nil
}

// Close releases the client and inspector connections.
func (q *Queue) Close() error {
	if err := q.Inspector.Close(); err != nil {
		logrus.WithError(err).Warn("failed to close queue inspector")
	}
	return q.Client.Close()
}

// enqueueWebhook puts a webhook on the webhook queue. The task type equals the queue name
// so the worker mux can route on it.
func (q *Queue) enqueueWebhook(ctx context.Context, webhook NewWebhook) error {
	payload, err := json.Marshal(webhook)
	if err != nil {
		return err
	}

	task := asynq.NewTask(q.webhookQueue, payload,
		asynq.Queue(q.webhookQueue),
		asynq.MaxRetry(webhookMaxRetry),
		asynq.Timeout(30*time.Second),
	)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"event": webhook.Event, "task_id": info.ID}).Debug("webhook enqueued")
	return nil
}
