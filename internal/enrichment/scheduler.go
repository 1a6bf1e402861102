// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package enrichment

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler runs periodic enrichment sweeps so items whose jobs were
// dropped during a provider outage eventually get embedded and tagged.
type Scheduler struct {
	pipeline  *Pipeline
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	stopChan  chan struct{}
}

// NewScheduler creates a sweep scheduler over a pipeline.
func NewScheduler(pipeline *Pipeline, interval time.Duration, batchSize int, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		pipeline:  pipeline,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (s *Scheduler) Start() {
	ticker := time.NewTicker(s.interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				if _, err := s.pipeline.Sweep(context.Background(), s.batchSize); err != nil {
					s.logger.Error("enrichment sweep failed", "error", err)
				}
			case <-s.stopChan:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the sweep loop.
func (s *Scheduler) Stop() {
	close(s.stopChan)
}
