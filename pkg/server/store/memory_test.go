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

package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x811-project/aeep/pkg/server/store"
)

func TestAgentUniqueness(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	a := &store.Agent{ID: "alice", DID: "did:aeep:alice", Status: store.AgentActive}
	require.NoError(t, s.CreateAgent(ctx, a))
	require.ErrorIs(t, s.CreateAgent(ctx, a), store.ErrDuplicate)

	b := &store.Agent{ID: "alice2", DID: "did:aeep:alice"}
	require.ErrorIs(t, s.CreateAgent(ctx, b), store.ErrDuplicate)

	got, err := s.GetAgentByDID(ctx, "did:aeep:alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.ID)
}

func TestNonceInsertOnce(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	n := &store.NonceRecord{Nonce: "n1", DID: "did:aeep:a", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.InsertNonce(ctx, n))
	require.ErrorIs(t, s.InsertNonce(ctx, n), store.ErrDuplicate)
}

func TestNonceInsert_ConcurrentExactlyOne(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.InsertNonce(ctx, &store.NonceRecord{Nonce: "shared", DID: "d", ExpiresAt: time.Now().Add(time.Hour)})
		}()
	}
	wg.Wait()
	close(errs)
	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		} else {
			require.ErrorIs(t, err, store.ErrDuplicate)
		}
	}
	assert.Equal(t, 1, ok, "exactly one insert must win")
}

func TestNonceGC(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.InsertNonce(ctx, &store.NonceRecord{Nonce: "old", DID: "d", ExpiresAt: time.Now().Add(-time.Minute)}))
	require.NoError(t, s.InsertNonce(ctx, &store.NonceRecord{Nonce: "new", DID: "d", ExpiresAt: time.Now().Add(time.Hour)}))
	n, err := s.DeleteExpiredNonces(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	// The reaped nonce may be inserted again.
	require.NoError(t, s.InsertNonce(ctx, &store.NonceRecord{Nonce: "old", DID: "d", ExpiresAt: time.Now().Add(time.Hour)}))
}

func TestInteractionCAS(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	in := &store.Interaction{ID: "i1", Status: store.StatusPending, IdempotencyKey: "k1", InteractionHash: "h1",
		InitiatorDID: "did:aeep:i", ProviderDID: "did:aeep:p"}
	require.NoError(t, s.CreateInteraction(ctx, in))

	dup := &store.Interaction{ID: "i2", Status: store.StatusPending, IdempotencyKey: "k1"}
	require.ErrorIs(t, s.CreateInteraction(ctx, dup), store.ErrDuplicate)

	got, err := s.UpdateInteraction(ctx, "i1", store.StatusPending, func(x *store.Interaction) error {
		x.Status = store.StatusOffered
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, store.StatusOffered, got.Status)

	_, err = s.UpdateInteraction(ctx, "i1", store.StatusPending, func(x *store.Interaction) error {
		x.Status = store.StatusOffered
		return nil
	})
	require.ErrorIs(t, err, store.ErrConflict, "stale expectation must lose")

	byKey, err := s.GetInteractionByIdempotencyKey(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "i1", byKey.ID)

	byHash, err := s.GetInteractionByHash(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusOffered, byHash.Status)
}

func TestLatestInteractionFor(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.CreateInteraction(ctx, &store.Interaction{ID: "a", Status: store.StatusPending, InitiatorDID: "did:aeep:i", ProviderDID: "did:aeep:p", IdempotencyKey: "ka"}))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, s.CreateInteraction(ctx, &store.Interaction{ID: "b", Status: store.StatusPending, InitiatorDID: "did:aeep:i", ProviderDID: "did:aeep:p", IdempotencyKey: "kb"}))

	got, err := s.LatestInteractionFor(ctx, store.StatusPending, "did:aeep:p")
	require.NoError(t, err)
	assert.Equal(t, "b", got.ID)

	_, err = s.LatestInteractionFor(ctx, store.StatusPending, "did:aeep:stranger")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestPollMessagesConsuming(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	for _, id := range []string{"m1", "m2"} {
		require.NoError(t, s.EnqueueMessage(ctx, &store.Message{
			ID: id, ToDID: "did:aeep:bob", Envelope: []byte(`{}`),
			ExpiresAt: time.Now().Add(time.Hour),
		}))
	}
	require.NoError(t, s.EnqueueMessage(ctx, &store.Message{
		ID: "other", ToDID: "did:aeep:carol", Envelope: []byte(`{}`), ExpiresAt: time.Now().Add(time.Hour),
	}))

	msgs, err := s.PollMessages(ctx, "did:aeep:bob")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID, "created order")
	assert.Equal(t, store.MessageDelivered, msgs[0].Status)

	again, err := s.PollMessages(ctx, "did:aeep:bob")
	require.NoError(t, err)
	assert.Empty(t, again, "second poll is empty")
}

func TestMessageGC(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.EnqueueMessage(ctx, &store.Message{ID: "stale", ToDID: "d", Envelope: []byte(`{}`), ExpiresAt: time.Now().Add(-time.Minute)}))
	require.NoError(t, s.EnqueueMessage(ctx, &store.Message{ID: "fresh", ToDID: "d", Envelope: []byte(`{}`), ExpiresAt: time.Now().Add(time.Hour)}))
	n, err := s.DeleteExpiredMessages(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	msgs, err := s.PollMessages(ctx, "d")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "fresh", msgs[0].ID)
}

func TestDiscoverAgents_FilterAndOrder(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	mk := func(id string, trust float64, avail store.Availability) {
		require.NoError(t, s.CreateAgent(ctx, &store.Agent{
			ID: id, DID: "did:aeep:" + id, Status: store.AgentActive,
			Availability: avail, TrustScore: trust,
		}))
	}
	mk("low", 0.3, store.AvailabilityOnline)
	mk("mid", 0.5, store.AvailabilityOffline)
	mk("high", 0.9, store.AvailabilityOnline)
	require.NoError(t, s.ReplaceCapabilities(ctx, "high", []*store.Capability{{Name: "financial-analysis"}}))

	out, err := s.DiscoverAgents(ctx, store.DiscoveryFilter{})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "high", out[0].ID, "trust descending")

	out, err = s.DiscoverAgents(ctx, store.DiscoveryFilter{Capability: "financial-analysis"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "high", out[0].ID)

	out, err = s.DiscoverAgents(ctx, store.DiscoveryFilter{MinTrust: 0.4, HasMinTrust: true, Availability: store.AvailabilityOnline})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "high", out[0].ID)

	out, err = s.DiscoverAgents(ctx, store.DiscoveryFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "low", out[0].ID)
}

func TestBatchLifecycle(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	b := &store.Batch{MerkleRoot: "root", InteractionCount: 2, Status: store.BatchPending}
	require.NoError(t, s.CreateBatch(ctx, b))
	require.NotZero(t, b.ID)

	require.NoError(t, s.UpdateBatch(ctx, b.ID, store.BatchSubmitted, "0xabc"))
	got, err := s.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, store.BatchSubmitted, got.Status)
	assert.Equal(t, "0xabc", got.TxHash)

	n, err := s.CountBatches(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStaleAgentSweep(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.CreateAgent(ctx, &store.Agent{
		ID: "a", DID: "did:aeep:a", Status: store.AgentActive,
		Availability: store.AvailabilityOnline, LastSeenAt: time.Now().Add(-10 * time.Minute),
	}))
	n, err := s.MarkStaleAgentsUnknown(ctx, time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	a, err := s.GetAgent(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, store.AvailabilityUnknown, a.Availability)

	// Idempotent.
	n, err = s.MarkStaleAgentsUnknown(ctx, time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
}
