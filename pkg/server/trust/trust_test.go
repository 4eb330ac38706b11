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

package trust_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x811-project/aeep/pkg/server/store"
	"github.com/x811-project/aeep/pkg/server/trust"
)

func TestScore_NeutralAtZero(t *testing.T) {
	assert.Equal(t, 0.50, trust.Score(0, 0, 0))
}

func TestScore_Bounded(t *testing.T) {
	cases := [][3]int{
		{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {0, 0, 1},
		{100, 0, 0}, {0, 100, 0}, {50, 50, 50}, {1000, 1, 0},
		{3, 7, 2}, {7, 3, 0},
	}
	for _, c := range cases {
		s := trust.Score(c[0], c[1], c[2])
		assert.GreaterOrEqual(t, s, 0.0, "case %v", c)
		assert.LessOrEqual(t, s, 1.0, "case %v", c)
	}
}

func TestScore_DisputePenaltyExceedsFailure(t *testing.T) {
	withFailure := trust.Score(10, 1, 0)
	withDispute := trust.Score(10, 0, 1)
	assert.Greater(t, withFailure, withDispute, "a dispute weighs more than a failure")
}

func TestScore_GrowsWithCleanHistory(t *testing.T) {
	prev := 0.0
	for _, n := range []int{1, 10, 100, 1000} {
		s := trust.Score(n, 0, 0)
		assert.Greater(t, s, prev)
		prev = s
	}
	// 1000 clean interactions saturate the activity term.
	assert.Equal(t, trust.Score(1000, 0, 0), trust.Score(10000, 0, 0))
}

func TestDecay_GraceThenMonotone(t *testing.T) {
	const base = 0.8
	assert.Equal(t, base, trust.Decay(base, 0))
	assert.Equal(t, base, trust.Decay(base, 7))

	prev := base
	for days := 8.0; days <= 700; days += 30 {
		d := trust.Decay(base, days)
		assert.LessOrEqual(t, d, prev, "decay must be non-increasing at day %v", days)
		prev = d
	}
	// Asymptote: half the last active score.
	assert.InDelta(t, base/2, trust.Decay(base, 100000), 0.001)
}

func TestService_Counters(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	for _, id := range []string{"i", "p"} {
		require.NoError(t, s.CreateAgent(ctx, &store.Agent{
			ID: id, DID: "did:aeep:" + id, Status: store.AgentActive, TrustScore: trust.NeutralScore,
		}))
	}
	svc := trust.NewService(s)

	require.NoError(t, svc.RecordSuccess(ctx, "did:aeep:i", "did:aeep:p"))
	a, err := s.GetAgentByDID(ctx, "did:aeep:i")
	require.NoError(t, err)
	assert.Equal(t, 1, a.InteractionCount)
	assert.Equal(t, 1, a.SuccessfulCount)
	assert.Greater(t, a.TrustScore, trust.NeutralScore, "first success lifts score above neutral")

	require.NoError(t, svc.RecordFailure(ctx, "did:aeep:i"))
	a, err = s.GetAgentByDID(ctx, "did:aeep:i")
	require.NoError(t, err)
	assert.Equal(t, 1, a.FailedCount)
	assert.Equal(t, 2, a.InteractionCount)

	require.NoError(t, svc.RecordDispute(ctx, "did:aeep:p"))
	p, err := s.GetAgentByDID(ctx, "did:aeep:p")
	require.NoError(t, err)
	assert.Equal(t, 1, p.DisputeCount)
}
