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

// Package trust computes the bounded agent reputation score. The formula
// is deterministic over the agent's counters; disputes weigh three times
// a plain failure, and inactivity decays the score toward half its last
// active value.
package trust

import (
	"context"
	"math"
	"time"

	"github.com/x811-project/aeep/internal/metrics"
	"github.com/x811-project/aeep/pkg/server/store"
)

const (
	// NeutralScore is the score of an agent with no history.
	NeutralScore = 0.50

	disputeWeight    = 3.0
	decayGraceDays   = 7.0
	decayHalfLife    = 60.0
	activityCeiling  = 3.0 // log10 scale: 1000 interactions saturate activity
	adjustedWeight   = 0.7
	rawWeight        = 0.2
	activityWeight   = 0.1
)

// Score computes the trust score from the agent's counters.
func Score(successful, failed, disputes int) float64 {
	total := successful + failed + disputes
	if total == 0 {
		return NeutralScore
	}
	raw := float64(successful) / float64(total)

	adjDen := float64(successful) + float64(failed) + disputeWeight*float64(disputes)
	adjusted := 0.0
	if adjDen > 0 {
		adjusted = float64(successful) / adjDen
	}

	activity := math.Log10(float64(total)+1) / activityCeiling
	if activity > 1 {
		activity = 1
	}

	score := adjustedWeight*adjusted + rawWeight*raw + activityWeight*activity
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return math.Round(score*100) / 100
}

// Decay applies the inactivity decay to a score. Within the grace period
// the score is unchanged; beyond it the factor halves every 60 days and
// floors at 0.5.
func Decay(score float64, daysInactive float64) float64 {
	if daysInactive <= decayGraceDays {
		return score
	}
	factor := 0.5 + 0.5*math.Pow(0.5, (daysInactive-decayGraceDays)/decayHalfLife)
	return score * factor
}

// Service recomputes and persists scores on terminal transitions.
type Service struct {
	agents store.AgentStore
}

// NewService builds a trust service over the agent store.
func NewService(agents store.AgentStore) *Service {
	return &Service{agents: agents}
}

// RecordSuccess increments both parties' success counters and recomputes
// their scores. Called on every completed interaction.
func (s *Service) RecordSuccess(ctx context.Context, dids ...string) error {
	for _, d := range dids {
		if err := s.bump(ctx, d, func(a *store.Agent) {
			a.InteractionCount++
			a.SuccessfulCount++
		}); err != nil {
			return err
		}
	}
	return nil
}

// RecordFailure increments an agent's failure counter and recomputes its
// score. Called against the initiator on payment failure.
func (s *Service) RecordFailure(ctx context.Context, did string) error {
	return s.bump(ctx, did, func(a *store.Agent) {
		a.InteractionCount++
		a.FailedCount++
	})
}

// RecordDispute increments an agent's dispute counter and recomputes its
// score. Called against the party a dispute resolved against.
func (s *Service) RecordDispute(ctx context.Context, did string) error {
	return s.bump(ctx, did, func(a *store.Agent) {
		a.InteractionCount++
		a.DisputeCount++
	})
}

// EffectiveScore returns the stored score with inactivity decay applied
// as of now. Read-only; the stored score is not rewritten.
func (s *Service) EffectiveScore(ctx context.Context, did string, now time.Time) (float64, error) {
	a, err := s.agents.GetAgentByDID(ctx, did)
	if err != nil {
		return 0, err
	}
	if a.LastSeenAt.IsZero() {
		return a.TrustScore, nil
	}
	days := now.Sub(a.LastSeenAt).Hours() / 24
	return Decay(a.TrustScore, days), nil
}

func (s *Service) bump(ctx context.Context, did string, apply func(*store.Agent)) error {
	a, err := s.agents.GetAgentByDID(ctx, did)
	if err != nil {
		return err
	}
	apply(a)
	a.TrustScore = Score(a.SuccessfulCount, a.FailedCount, a.DisputeCount)
	metrics.TrustRecomputed.Inc()
	return s.agents.UpdateAgent(ctx, a)
}
