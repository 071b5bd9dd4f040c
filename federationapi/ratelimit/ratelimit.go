// Copyright 2024 The Matrix.org Foundation C.I.C.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ratelimit limits the rate of incoming federation requests on a
// per-origin-server basis.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matrix-org/gomatrixserverlib/spec"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sloppyjuicy/synapse/setup/config"
)

var (
	requestsRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "synapse",
			Subsystem: "federationapi",
			Name:      "ratelimit_rejected_requests",
			Help:      "Number of incoming federation requests rejected for exceeding the rate limit",
		},
	)
	requestsDelayedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "synapse",
			Subsystem: "federationapi",
			Name:      "ratelimit_delayed_requests",
			Help:      "Number of incoming federation requests delayed for approaching the rate limit",
		},
	)
)

func init() {
	prometheus.MustRegister(
		requestsRejectedTotal, requestsDelayedTotal,
	)
}

// ErrRateLimited is returned when a request is rejected outright. RetryAfter
// tells the remote server how long to back off for.
type ErrRateLimited struct {
	RetryAfter time.Duration
}

func (e ErrRateLimited) Error() string {
	return fmt.Sprintf("request rate-limited, retry after %s", e.RetryAfter)
}

// A Limiter tracks how many requests each remote server has made recently
// and slows down or rejects servers that send too many. Each origin server
// gets its own sliding window.
type Limiter struct {
	cfg     config.FederationRateLimiting
	origins sync.Map // spec.ServerName -> *originLimiter

	// Overridden in tests.
	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
}

type originLimiter struct {
	mutex sync.Mutex
	// Arrival times of requests still inside the sliding window.
	recent []time.Time
	// Concurrency slots. A request holds a slot from acquisition until
	// its release func is called.
	slots chan struct{}
}

func NewLimiter(cfg config.FederationRateLimiting) *Limiter {
	return &Limiter{
		cfg:       cfg,
		nowFunc:   time.Now,
		sleepFunc: sleepWithContext,
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Acquire admits a request from the given origin server, blocking if the
// server already has too many requests in flight. The returned release
// function must be called once the request has been processed. Returns
// ErrRateLimited if the origin server has exceeded its reject limit.
func (l *Limiter) Acquire(ctx context.Context, origin spec.ServerName) (func(), error) {
	if !l.cfg.Enabled {
		return func() {}, nil
	}

	entry := l.originEntry(origin)
	window := time.Duration(l.cfg.WindowSizeMS) * time.Millisecond
	now := l.nowFunc()

	entry.mutex.Lock()
	// Drop request times that have fallen out of the window.
	cutoff := now.Add(-window)
	kept := entry.recent[:0]
	for _, t := range entry.recent {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	entry.recent = kept
	pending := int64(len(entry.recent))
	if pending >= l.cfg.RejectLimit {
		entry.mutex.Unlock()
		requestsRejectedTotal.Inc()
		return nil, ErrRateLimited{RetryAfter: window}
	}
	entry.recent = append(entry.recent, now)
	entry.mutex.Unlock()

	// Over the soft limit we don't reject, but we do make the origin
	// server wait a little before being processed.
	if pending >= l.cfg.SleepLimit {
		requestsDelayedTotal.Inc()
		delay := time.Duration(l.cfg.SleepDelayMS) * time.Millisecond
		if err := l.sleepFunc(ctx, delay); err != nil {
			return nil, err
		}
	}

	select {
	case entry.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return func() {
		<-entry.slots
	}, nil
}

func (l *Limiter) originEntry(origin spec.ServerName) *originLimiter {
	if entry, ok := l.origins.Load(origin); ok {
		return entry.(*originLimiter)
	}
	concurrent := l.cfg.ConcurrentRequests
	if concurrent < 1 {
		concurrent = 1
	}
	entry, _ := l.origins.LoadOrStore(origin, &originLimiter{
		slots: make(chan struct{}, concurrent),
	})
	return entry.(*originLimiter)
}
