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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/forgelabs/forge/config"
	"github.com/forgelabs/forge/internal/apierror"
	redlock "github.com/forgelabs/forge/internal/lock"
	"github.com/forgelabs/forge/model"
)

const (
	expiryLockKey      = "forge:expiry-sweep"
	minExpiryThreshold = 2 * time.Minute
)

// ExpirySweeper fails jobs that never received a worker callback.
type ExpirySweeper struct {
	forge        *Forge
	batchSize    int
	maxWorkers   int
	pollInterval time.Duration
	stopCh       chan struct{}
	wg           sync.WaitGroup
	running      bool
	mu           sync.Mutex
}

func NewExpirySweeper(f *Forge) *ExpirySweeper {
	cfg := f.config.Expiry
	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = config.DEFAULT_EXPIRY_MAX_WORKERS
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = config.DEFAULT_EXPIRY_BATCH_SIZE
	}
	poll := time.Duration(cfg.PollIntervalSeconds) * time.Second
	if poll <= 0 {
		poll = config.DEFAULT_EXPIRY_POLL_SECONDS * time.Second
	}

	return &ExpirySweeper{
		forge:        f,
		batchSize:    batchSize,
		maxWorkers:   maxWorkers,
		pollInterval: poll,
		stopCh:       make(chan struct{}),
	}
}

func (s *ExpirySweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()

	logrus.Info("Expiry sweeper started")
}

func (s *ExpirySweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	logrus.Info("Expiry sweeper stopped")
}

func (s *ExpirySweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *ExpirySweeper) run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepLocked(ctx)
		}
	}
}

// sweepLocked runs one sweep when no other instance holds the sweep lock.
func (s *ExpirySweeper) sweepLocked(ctx context.Context) {
	if s.forge.redis != nil {
		locker := redlock.NewLocker(s.forge.redis, expiryLockKey, model.GenerateUUIDWithSuffix("sweeper"))
		if err := locker.Lock(ctx, s.pollInterval); err != nil {
			if !errors.Is(err, redlock.ErrLockHeld) {
				logrus.WithError(err).Warn("failed to acquire expiry lock")
			}
			return
		}
		defer func() {
			if err := locker.Unlock(ctx); err != nil {
				logrus.WithError(err).Debug("expiry lock release failed")
			}
		}()
	}

	for _, descriptor := range s.forge.features.Enabled() {
		if _, err := s.sweep(ctx, descriptor, descriptor.ExpiryAfter); err != nil {
			logrus.Errorf("failed to get stale %s jobs: %v", descriptor.Kind, err)
		}
	}
}

// sweep fails the processing jobs of one feature older than threshold and returns how many it expired.
// Only the stale job query error is returned; failures on single jobs are logged.
func (s *ExpirySweeper) sweep(ctx context.Context, descriptor *FeatureDescriptor, threshold time.Duration) (int, error) {
	jobs, err := s.forge.datasource.GetStaleProcessingJobs(ctx, descriptor.Kind, threshold, s.batchSize)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	logrus.Infof("Expiring %d stale %s jobs with %d workers (threshold=%v)", len(jobs), descriptor.Kind, s.maxWorkers, threshold)

	var (
		expired int
		mu      sync.Mutex
		wg      sync.WaitGroup
	)
	sem := make(chan struct{}, s.maxWorkers)
	for i := range jobs {
		sem <- struct{}{}
		wg.Add(1)
		go func(job *model.Job) {
			defer wg.Done()
			defer func() { <-sem }()
			ok, err := s.expire(ctx, job, descriptor, threshold)
			if err != nil {
				logrus.Errorf("failed to expire job %s: %v", job.JobID, err)
				return
			}
			if ok {
				mu.Lock()
				expired++
				mu.Unlock()
			}
		}(&jobs[i])
	}
	wg.Wait()
	return expired, nil
}

func (s *ExpirySweeper) expire(ctx context.Context, job *model.Job, descriptor *FeatureDescriptor, threshold time.Duration) (bool, error) {
	detail := fmt.Sprintf("job expired: no worker callback within %s", threshold)
	failed, err := s.forge.datasource.UpdateJobTerminal(ctx, job.JobID, model.TerminalUpdate{
		Status:      model.StatusFailed,
		ErrorDetail: detail,
	})
	if err != nil {
		if apierror.Is(err, apierror.ErrAlreadyTerminal) {
			return false, nil
		}
		return false, err
	}
	ctx = context.WithoutCancel(ctx)

	if descriptor.RefundOnExpiry {
		if _, err := s.forge.refund(ctx, failed, detail); err != nil {
			logrus.WithError(err).WithField("job_id", job.JobID).Error("refund after expiry failed")
		}
	}
	s.forge.afterTransition(ctx, failed)
	return true, nil
}

// ExpireStaleJobs runs one sweep immediately over every enabled feature using threshold in place of
// the per feature expiry. Thresholds below two minutes are raised to two minutes.
func (f *Forge) ExpireStaleJobs(ctx context.Context, threshold time.Duration) (int, error) {
	if threshold < minExpiryThreshold {
		threshold = minExpiryThreshold
	}

	sweeper := NewExpirySweeper(f)
	total := 0
	for _, descriptor := range f.features.Enabled() {
		expired, err := sweeper.sweep(ctx, descriptor, threshold)
		total += expired
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
