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

package router_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x811-project/aeep/pkg/core/envelope"
	"github.com/x811-project/aeep/pkg/core/errcode"
	"github.com/x811-project/aeep/pkg/server/router"
	"github.com/x811-project/aeep/pkg/server/store"
)

func seedAgent(t *testing.T, s *store.Memory, id, didStr string, avail store.Availability) {
	t.Helper()
	require.NoError(t, s.CreateAgent(context.Background(), &store.Agent{
		ID: id, DID: didStr, Status: store.AgentActive, Availability: avail,
	}))
}

func heartbeatEnvelope(t *testing.T, from, to string) *envelope.Envelope {
	t.Helper()
	env, err := envelope.New(envelope.KindHeartbeat, from, to, envelope.HeartbeatPayload{Availability: "online"})
	require.NoError(t, err)
	return env
}

func TestDeliver_RecipientNotFound(t *testing.T) {
	r := router.New(store.NewMemory())
	_, err := r.Deliver(context.Background(), heartbeatEnvelope(t, "did:aeep:alice", "did:aeep:ghost"))
	assert.True(t, errcode.HasCode(err, errcode.RecipientNotFound))
}

func TestDeliverAndConsumingPoll(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	seedAgent(t, s, "bob", "did:aeep:bob", store.AvailabilityOnline)
	r := router.New(s)

	first := heartbeatEnvelope(t, "did:aeep:alice", "did:aeep:bob")
	second := heartbeatEnvelope(t, "did:aeep:carol", "did:aeep:bob")

	receipt, err := r.Deliver(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "queued", receipt.Status)
	assert.Equal(t, "online", receipt.RecipientAvailability)
	assert.NotEmpty(t, receipt.MessageID)

	_, err = r.Deliver(ctx, second)
	require.NoError(t, err)

	got, err := r.Poll(ctx, "did:aeep:bob")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, second.ID, got[1].ID)

	again, err := r.Poll(ctx, "did:aeep:bob")
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestPoll_MalformedStoredEnvelopeSkipped(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	seedAgent(t, s, "bob", "did:aeep:bob", store.AvailabilityOnline)
	r := router.New(s)

	require.NoError(t, s.EnqueueMessage(ctx, &store.Message{
		ID:        uuid.NewString(),
		ToDID:     "did:aeep:bob",
		Envelope:  json.RawMessage(`{not json`),
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
		Status:    store.MessageQueued,
	}))
	_, err := r.Deliver(ctx, heartbeatEnvelope(t, "did:aeep:alice", "did:aeep:bob"))
	require.NoError(t, err)

	got, err := r.Poll(ctx, "did:aeep:bob")
	require.NoError(t, err)
	assert.Len(t, got, 1, "malformed row is skipped, valid one survives")
}

func TestSweepExpiredMessages(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	seedAgent(t, s, "bob", "did:aeep:bob", store.AvailabilityOnline)

	now := time.Now().UTC()
	r := router.New(s).WithClock(func() time.Time { return now })

	env := heartbeatEnvelope(t, "did:aeep:alice", "did:aeep:bob")
	env.Expires = now.Add(time.Minute).Format(time.RFC3339)
	_, err := r.Deliver(ctx, env)
	require.NoError(t, err)

	r = router.New(s).WithClock(func() time.Time { return now.Add(2 * time.Minute) })
	n, err := r.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := r.Poll(ctx, "did:aeep:bob")
	require.NoError(t, err)
	assert.Empty(t, got)
}

// streamServer upgrades each request and hands the socket to mgr,
// reporting Serve's result on errs.
func streamServer(t *testing.T, mgr *router.StreamManager, agentID string, errs chan<- error) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ws, err := upgrader.Upgrade(w, req, nil)
		require.NoError(t, err)
		errs <- mgr.Serve(agentID, ws)
	}))
}

func dialStream(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return ws
}

func TestStream_BroadcastReachesSubscriber(t *testing.T) {
	mgr := router.NewStreamManager()
	errs := make(chan error, 1)
	srv := streamServer(t, mgr, "bob", errs)
	defer srv.Close()

	ws := dialStream(t, srv)
	defer ws.Close()

	require.Eventually(t, func() bool { return mgr.HasSubscribers("bob") }, time.Second, 10*time.Millisecond)

	mgr.Broadcast("bob", []byte(`{"hello":"bob"}`))

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello":"bob"}`, string(payload))
}

func TestStream_PerAgentLimit(t *testing.T) {
	mgr := router.NewStreamManager()
	errs := make(chan error, router.MaxStreamsPerAgent+1)
	srv := streamServer(t, mgr, "bob", errs)
	defer srv.Close()

	var conns []*websocket.Conn
	for i := 0; i < router.MaxStreamsPerAgent; i++ {
		conns = append(conns, dialStream(t, srv))
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()
	require.Eventually(t, func() bool { return mgr.Count() == router.MaxStreamsPerAgent }, time.Second, 10*time.Millisecond)

	over := dialStream(t, srv)
	defer over.Close()

	select {
	case err := <-errs:
		assert.True(t, errcode.HasCode(err, errcode.ConnectionLimit))
	case <-time.After(2 * time.Second):
		t.Fatal("fourth stream was not refused")
	}
}

func TestStream_DisconnectUnregisters(t *testing.T) {
	mgr := router.NewStreamManager()
	errs := make(chan error, 1)
	srv := streamServer(t, mgr, "bob", errs)
	defer srv.Close()

	ws := dialStream(t, srv)
	require.Eventually(t, func() bool { return mgr.Count() == 1 }, time.Second, 10*time.Millisecond)

	ws.Close()
	require.Eventually(t, func() bool { return mgr.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, <-errs)
}
