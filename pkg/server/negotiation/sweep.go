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

package negotiation

import (
	"context"
	"time"

	"github.com/x811-project/aeep/internal/metrics"
	"github.com/x811-project/aeep/pkg/server/store"
)

// SweepInterval is the cadence of the TTL sweep.
const SweepInterval = 30 * time.Second

// StepTTL holds how long an interaction may sit in each non-terminal
// state before the sweep times it out.
var StepTTL = map[store.InteractionStatus]time.Duration{
	store.StatusPending:   60 * time.Second,
	store.StatusOffered:   300 * time.Second,
	store.StatusAccepted:  3600 * time.Second,
	store.StatusDelivered: 30 * time.Second,
	store.StatusVerified:  60 * time.Second,
	store.StatusDisputed:  30 * time.Second,
}

// Sweep forces timed-out rows out of the graph: every non-terminal
// status except disputed expires with outcome timeout; a disputed row
// past its window fails with outcome dispute, resolving against the
// provider. Idempotent; rows a concurrent transition already moved are
// skipped.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	now := e.now()
	swept := 0
	for status, ttl := range StepTTL {
		rows, err := e.store.ListInteractionsByStatus(ctx, status)
		if err != nil {
			return swept, err
		}
		for _, in := range rows {
			if now.Sub(in.UpdatedAt) <= ttl {
				continue
			}
			if status == store.StatusDisputed {
				out, err := e.transition(ctx, in.ID, status, func(row *store.Interaction) error {
					row.Status = store.StatusFailed
					row.Outcome = store.OutcomeDispute
					return nil
				})
				if err != nil {
					continue
				}
				if err := e.trust.RecordDispute(ctx, out.ProviderDID); err != nil {
					return swept, err
				}
			} else {
				if _, err := e.transition(ctx, in.ID, status, func(row *store.Interaction) error {
					row.Status = store.StatusExpired
					row.Outcome = store.OutcomeTimeout
					return nil
				}); err != nil {
					continue
				}
			}
			swept++
			metrics.SweepExpired.WithLabelValues("interaction").Inc()
		}
	}
	return swept, nil
}

// RunSweeper blocks, sweeping every interval until ctx is done.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = SweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}
