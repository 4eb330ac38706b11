// AEEP - Agent-to-Agent Economic Exchange Protocol
// Copyright (C) 2025 X811-project
//
// This file is part of AEEP.
//
// AEEP is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// AEEP is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with AEEP. If not, see <https://www.gnu.org/licenses/>.

// Package batch collects verified interaction hashes and anchors them
// on chain. The buffer is a single in-memory queue; a size trigger
// fires on add, a time trigger fires from the scan loop. A failed
// submission re-prepends its hashes, so no hash is ever abandoned.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/x811-project/aeep/internal/metrics"
	"github.com/x811-project/aeep/pkg/core/merkle"
	"github.com/x811-project/aeep/pkg/server/relayer"
	"github.com/x811-project/aeep/pkg/server/store"
)

const (
	// DefaultSizeThreshold submits as soon as the buffer holds this many
	// hashes.
	DefaultSizeThreshold = 100
	// DefaultTimeThreshold submits a non-empty buffer this long after the
	// previous batch.
	DefaultTimeThreshold = 5 * time.Minute
	// ScanInterval is the cadence of the time-trigger check.
	ScanInterval = 30 * time.Second
)

// Service buffers interaction hashes and drives batch submission.
type Service struct {
	store   store.Store
	relayer relayer.Relayer

	mu          sync.Mutex
	buffer      []string
	lastBatchAt time.Time

	sizeThreshold int
	timeThreshold time.Duration
	now           func() time.Time
}

// New builds a batching service with the default thresholds.
func New(s store.Store, r relayer.Relayer) *Service {
	return &Service{
		store:         s,
		relayer:       r,
		lastBatchAt:   time.Now().UTC(),
		sizeThreshold: DefaultSizeThreshold,
		timeThreshold: DefaultTimeThreshold,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithThresholds overrides the submission triggers; used by tests and
// config.
func (s *Service) WithThresholds(size int, window time.Duration) *Service {
	if size > 0 {
		s.sizeThreshold = size
	}
	if window > 0 {
		s.timeThreshold = window
	}
	return s
}

// WithClock overrides the time source; used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.lastBatchAt = now()
	return s
}

// Add enqueues a verified interaction hash and submits when the size
// threshold is reached. Submission failure is absorbed; the hashes stay
// buffered for the next trigger.
func (s *Service) Add(ctx context.Context, interactionHash string) {
	s.mu.Lock()
	s.buffer = append(s.buffer, interactionHash)
	full := len(s.buffer) >= s.sizeThreshold
	metrics.BatchBufferSize.Set(float64(len(s.buffer)))
	s.mu.Unlock()

	if full {
		s.Flush(ctx)
	}
}

// Pending returns the number of buffered hashes.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Flush submits everything currently buffered as one batch. A relayer
// failure marks the batch failed and re-prepends the hashes.
func (s *Service) Flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return
	}
	hashes := s.buffer
	s.buffer = nil
	s.lastBatchAt = s.now()
	metrics.BatchBufferSize.Set(0)
	s.mu.Unlock()

	if err := s.submit(ctx, hashes); err != nil {
		metrics.BatchesSubmitted.WithLabelValues("failure").Inc()
		s.mu.Lock()
		s.buffer = append(append([]string(nil), hashes...), s.buffer...)
		metrics.BatchBufferSize.Set(float64(len(s.buffer)))
		s.mu.Unlock()
		return
	}
	metrics.BatchesSubmitted.WithLabelValues("success").Inc()
}

func (s *Service) submit(ctx context.Context, hashes []string) error {
	tree := merkle.New(hashes)
	now := s.now()

	b := &store.Batch{
		MerkleRoot:       tree.Root(),
		InteractionCount: len(hashes),
		Status:           store.BatchPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateBatch(ctx, b); err != nil {
		return err
	}

	for _, h := range hashes {
		siblings, err := tree.Proof(h)
		if err != nil {
			return err
		}
		if err := s.store.SaveProof(ctx, &store.Proof{
			InteractionHash: h,
			BatchID:         b.ID,
			LeafHash:        merkle.LeafHash(h),
			Siblings:        siblings,
			CreatedAt:       now,
		}); err != nil {
			return err
		}
		if err := s.store.SetInteractionBatchID(ctx, h, b.ID); err != nil {
			return err
		}
	}

	txHash, err := s.relayer.SubmitBatch(ctx, tree.Root(), len(hashes))
	if err != nil {
		// Leave the audit trail; the hashes go back to the buffer.
		_ = s.store.UpdateBatch(ctx, b.ID, store.BatchFailed, "")
		return err
	}
	return s.store.UpdateBatch(ctx, b.ID, store.BatchSubmitted, txHash)
}

// Run blocks, checking the time trigger every ScanInterval until ctx is
// done.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SubmitIfDue(ctx)
		}
	}
}

// SubmitIfDue fires the time trigger: a non-empty buffer older than the
// time threshold is flushed.
func (s *Service) SubmitIfDue(ctx context.Context) {
	s.mu.Lock()
	due := len(s.buffer) > 0 && s.now().Sub(s.lastBatchAt) >= s.timeThreshold
	s.mu.Unlock()
	if due {
		s.Flush(ctx)
	}
}
