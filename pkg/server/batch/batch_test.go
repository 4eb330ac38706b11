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

package batch_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x811-project/aeep/pkg/server/batch"
	"github.com/x811-project/aeep/pkg/server/relayer"
	"github.com/x811-project/aeep/pkg/server/store"
)

func seedInteraction(t *testing.T, s *store.Memory, n int) string {
	t.Helper()
	sum := sha256.Sum256([]byte(fmt.Sprintf("interaction-%d", n)))
	hash := hex.EncodeToString(sum[:])
	require.NoError(t, s.CreateInteraction(context.Background(), &store.Interaction{
		ID:              fmt.Sprintf("in-%d", n),
		InteractionHash: hash,
		InitiatorDID:    "did:aeep:alice",
		ProviderDID:     "did:aeep:bob",
		Status:          store.StatusVerified,
		IdempotencyKey:  fmt.Sprintf("key-%d", n),
	}))
	return hash
}

func TestSizeTriggerSubmitsAndPersists(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	mock := relayer.NewMock()
	svc := batch.New(s, mock).WithThresholds(2, time.Hour)

	h1 := seedInteraction(t, s, 1)
	h2 := seedInteraction(t, s, 2)

	svc.Add(ctx, h1)
	assert.Equal(t, 1, svc.Pending())
	assert.Empty(t, mock.Submissions())

	svc.Add(ctx, h2)
	assert.Zero(t, svc.Pending())

	subs := mock.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, 2, subs[0].Count)

	batches, err := s.ListBatches(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, store.BatchSubmitted, batches[0].Status)
	assert.Equal(t, subs[0].RootHex, batches[0].MerkleRoot)
	assert.NotEmpty(t, batches[0].TxHash)

	for _, h := range []string{h1, h2} {
		p, err := s.GetProof(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, batches[0].ID, p.BatchID)

		ok, err := mock.VerifyInclusion(ctx, batches[0].MerkleRoot, p.LeafHash, p.Siblings)
		require.NoError(t, err)
		assert.True(t, ok, "persisted proof verifies against the root")

		in, err := s.GetInteractionByHash(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, batches[0].ID, in.BatchID)
	}
}

func TestFailedSubmissionRequeuesForRetry(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	mock := relayer.NewMock()
	mock.Fail(errors.New("rpc unreachable"))
	svc := batch.New(s, mock).WithThresholds(2, time.Hour)

	h1 := seedInteraction(t, s, 1)
	h2 := seedInteraction(t, s, 2)
	svc.Add(ctx, h1)
	svc.Add(ctx, h2)

	assert.Equal(t, 2, svc.Pending(), "hashes survive a failed submission")
	batches, err := s.ListBatches(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, store.BatchFailed, batches[0].Status)

	mock.Fail(nil)
	svc.Flush(ctx)
	assert.Zero(t, svc.Pending())
	subs := mock.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, 2, subs[0].Count, "retry carries both hashes")
}

func TestTimeTrigger(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	mock := relayer.NewMock()

	base := time.Now().UTC()
	now := base
	svc := batch.New(s, mock).
		WithThresholds(100, 5*time.Minute).
		WithClock(func() time.Time { return now })

	h := seedInteraction(t, s, 1)
	svc.Add(ctx, h)

	now = base.Add(4 * time.Minute)
	svc.SubmitIfDue(ctx)
	assert.Empty(t, mock.Submissions(), "window not yet elapsed")

	now = base.Add(5 * time.Minute)
	svc.SubmitIfDue(ctx)
	require.Len(t, mock.Submissions(), 1)
	assert.Equal(t, 1, mock.Submissions()[0].Count)

	// Empty buffer: the trigger is a no-op.
	now = base.Add(time.Hour)
	svc.SubmitIfDue(ctx)
	assert.Len(t, mock.Submissions(), 1)
}

func TestSingleLeafBatchRootEqualsLeaf(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	mock := relayer.NewMock()
	svc := batch.New(s, mock).WithThresholds(1, time.Hour)

	h := seedInteraction(t, s, 1)
	svc.Add(ctx, h)

	p, err := s.GetProof(ctx, h)
	require.NoError(t, err)
	assert.Empty(t, p.Siblings)

	batches, err := s.ListBatches(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, p.LeafHash, batches[0].MerkleRoot)
}
