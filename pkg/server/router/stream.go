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

package router

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/x811-project/aeep/internal/metrics"
	"github.com/x811-project/aeep/pkg/core/errcode"
)

const (
	// MaxStreamsPerAgent caps concurrent push streams for one agent.
	MaxStreamsPerAgent = 3
	// MaxStreamsGlobal caps push streams across the whole server.
	MaxStreamsGlobal = 100
	// KeepAliveInterval is the ping cadence on an idle stream.
	KeepAliveInterval = 30 * time.Second

	streamWriteTimeout = 10 * time.Second
	streamSendBuffer   = 16
)

// StreamManager tracks live push connections per agent. Broadcast is
// best-effort: a subscriber whose write fails or whose buffer is full
// is evicted in place, never allowed to back-pressure the router.
type StreamManager struct {
	mu      sync.Mutex
	byAgent map[string][]*pushStream
	total   int

	keepAlive time.Duration
}

type pushStream struct {
	agentID string
	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
}

// NewStreamManager builds an empty manager.
func NewStreamManager() *StreamManager {
	return &StreamManager{byAgent: make(map[string][]*pushStream), keepAlive: KeepAliveInterval}
}

// WithKeepAlive overrides the ping cadence; used by tests.
func (m *StreamManager) WithKeepAlive(d time.Duration) *StreamManager {
	m.keepAlive = d
	return m
}

// Serve registers ws as a push stream for agentID and blocks until the
// client disconnects or the stream is evicted. The connection is closed
// before Serve returns.
func (m *StreamManager) Serve(agentID string, ws *websocket.Conn) error {
	st := &pushStream{
		agentID: agentID,
		ws:      ws,
		send:    make(chan []byte, streamSendBuffer),
		done:    make(chan struct{}),
	}
	if err := m.register(st); err != nil {
		ws.Close()
		return err
	}
	defer m.unregister(st)

	go st.writeLoop(m.keepAlive)

	// Inbound frames are not part of the protocol; the read loop only
	// detects client disconnect.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			st.close()
			return nil
		}
	}
}

// Broadcast sends event to every live stream of agentID. Streams that
// cannot take the event immediately are evicted.
func (m *StreamManager) Broadcast(agentID string, event []byte) {
	m.mu.Lock()
	streams := append([]*pushStream(nil), m.byAgent[agentID]...)
	m.mu.Unlock()

	for _, st := range streams {
		select {
		case st.send <- event:
		default:
			metrics.StreamEvictions.Inc()
			st.close()
		}
	}
}

// CanAccept reports whether a new stream for agentID would be admitted
// right now. Callers use it to refuse before upgrading the connection;
// registration re-checks under the lock.
func (m *StreamManager) CanAccept(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byAgent[agentID]) < MaxStreamsPerAgent && m.total < MaxStreamsGlobal
}

// HasSubscribers reports whether agentID holds at least one live stream.
func (m *StreamManager) HasSubscribers(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byAgent[agentID]) > 0
}

// Count returns the number of live streams across all agents.
func (m *StreamManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

func (m *StreamManager) register(st *pushStream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.byAgent[st.agentID]) >= MaxStreamsPerAgent {
		return errcode.Newf(errcode.ConnectionLimit, "agent %s already holds %d streams", st.agentID, MaxStreamsPerAgent)
	}
	if m.total >= MaxStreamsGlobal {
		return errcode.New(errcode.ConnectionLimit, "server stream capacity reached")
	}
	m.byAgent[st.agentID] = append(m.byAgent[st.agentID], st)
	m.total++
	metrics.StreamConnections.Inc()
	return nil
}

func (m *StreamManager) unregister(st *pushStream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.byAgent[st.agentID]
	for i, other := range list {
		if other == st {
			m.byAgent[st.agentID] = append(list[:i], list[i+1:]...)
			m.total--
			metrics.StreamConnections.Dec()
			break
		}
	}
	if len(m.byAgent[st.agentID]) == 0 {
		delete(m.byAgent, st.agentID)
	}
	st.close()
}

func (st *pushStream) close() {
	st.once.Do(func() {
		close(st.done)
		st.ws.Close()
	})
}

func (st *pushStream) writeLoop(keepAlive time.Duration) {
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-st.done:
			return
		case event := <-st.send:
			st.ws.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := st.ws.WriteMessage(websocket.TextMessage, event); err != nil {
				metrics.StreamEvictions.Inc()
				st.close()
				return
			}
		case <-ticker.C:
			st.ws.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := st.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				metrics.StreamEvictions.Inc()
				st.close()
				return
			}
		}
	}
}
