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
	"fmt"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/forgelabs/forge/config"
	"github.com/forgelabs/forge/internal/request"
	"github.com/forgelabs/forge/model"
)

const (
	EventJobProcessing  = "job.processing"
	EventJobCompleted   = "job.completed"
	EventJobFailed      = "job.failed"
	EventCreditsGranted = "credits.granted"
)

// NewWebhook is the envelope posted to the configured webhook URL.
type NewWebhook struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

func eventForStatus(status model.JobStatus) string {
	switch status {
	case model.StatusCompleted:
		return EventJobCompleted
	case model.StatusFailed:
		return EventJobFailed
	default:
		return EventJobProcessing
	}
}

// SendWebhook queues an event for delivery. It is a no-op when no webhook URL or queue is configured.
func (f *Forge) SendWebhook(ctx context.Context, webhook NewWebhook) error {
	if f.queue == nil || f.config.Notification.Webhook.Url == "" {
		return nil
	}
	return f.queue.enqueueWebhook(ctx, webhook)
}

// publishJob emits the lifecycle event matching the job's status. Delivery problems are logged only.
func (f *Forge) publishJob(ctx context.Context, job *model.Job) {
	view := f.viewOf(job)
	if err := f.SendWebhook(ctx, NewWebhook{Event: eventForStatus(job.Status), Payload: view}); err != nil {
		logrus.WithError(err).WithField("job_id", job.JobID).Warn("failed to enqueue job webhook")
	}
}

// ProcessWebhook delivers a queued webhook. A non-2xx answer fails the task so asynq retries it.
func ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	var webhook NewWebhook
	if err := json.Unmarshal(task.Payload(), &webhook); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	payload, err := request.ToJsonReq(webhook)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conf.Notification.Webhook.Url, payload)
	if err != nil {
		return err
	}
	for key, value := range conf.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}
	req.Header.Set("X-Forge-Event", webhook.Event)

	if _, err := request.Call(req, nil); err != nil {
		logrus.WithError(err).WithField("event", webhook.Event).Warn("webhook delivery failed")
		return err
	}
	logrus.WithField("event", webhook.Event).Info("webhook delivered")
	return nil
}
