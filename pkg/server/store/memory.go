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

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is the in-process Store used for local runs and tests. All rows
// are deep-copied across the API boundary so callers never share state
// with the store.
type Memory struct {
	mu           sync.RWMutex
	agents       map[string]*Agent       // by id
	agentsByDID  map[string]string       // did -> id
	capabilities map[string][]*Capability // by agent id
	interactions map[string]*Interaction // by id
	byIdemKey    map[string]string       // idempotency key -> id
	byHash       map[string]string       // interaction hash -> id
	messages     map[string]*Message     // by id
	msgOrder     []string                // insertion order
	nonces       map[string]*NonceRecord // by nonce
	batches      map[int64]*Batch
	nextBatchID  int64
	proofs       map[string]*Proof // by interaction hash
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		agents:       make(map[string]*Agent),
		agentsByDID:  make(map[string]string),
		capabilities: make(map[string][]*Capability),
		interactions: make(map[string]*Interaction),
		byIdemKey:    make(map[string]string),
		byHash:       make(map[string]string),
		messages:     make(map[string]*Message),
		nonces:       make(map[string]*NonceRecord),
		batches:      make(map[int64]*Batch),
		proofs:       make(map[string]*Proof),
	}
}

var _ Store = (*Memory)(nil)

// --- agents ---

func (m *Memory) CreateAgent(_ context.Context, a *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[a.ID]; ok {
		return ErrDuplicate
	}
	if _, ok := m.agentsByDID[a.DID]; ok {
		return ErrDuplicate
	}
	cp := cloneAgent(a)
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.agents[cp.ID] = cp
	m.agentsByDID[cp.DID] = cp.ID
	return nil
}

func (m *Memory) GetAgent(_ context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAgent(a), nil
}

func (m *Memory) GetAgentByDID(_ context.Context, did string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.agentsByDID[did]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAgent(m.agents[id]), nil
}

func (m *Memory) UpdateAgent(_ context.Context, a *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[a.ID]; !ok {
		return ErrNotFound
	}
	cp := cloneAgent(a)
	cp.UpdatedAt = time.Now().UTC()
	m.agents[cp.ID] = cp
	return nil
}

func (m *Memory) DiscoverAgents(_ context.Context, f DiscoveryFilter) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Agent
	for _, a := range m.agents {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.Availability != "" && a.Availability != f.Availability {
			continue
		}
		if f.HasMinTrust && a.TrustScore < f.MinTrust {
			continue
		}
		if f.Capability != "" && !m.hasCapabilityLocked(a.ID, f.Capability) {
			continue
		}
		out = append(out, cloneAgent(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TrustScore != out[j].TrustScore {
			return out[i].TrustScore > out[j].TrustScore
		}
		return out[i].ID < out[j].ID
	})

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultDiscoveryLimit
	}
	if limit > MaxDiscoveryLimit {
		limit = MaxDiscoveryLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return nil, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

func (m *Memory) hasCapabilityLocked(agentID, name string) bool {
	for _, c := range m.capabilities[agentID] {
		if strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

func (m *Memory) CountAgents(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.agents), nil
}

func (m *Memory) MarkStaleAgentsUnknown(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.agents {
		if a.Availability != AvailabilityUnknown && a.LastSeenAt.Before(cutoff) {
			a.Availability = AvailabilityUnknown
			a.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

// --- capabilities ---

func (m *Memory) ReplaceCapabilities(_ context.Context, agentID string, caps []*Capability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[agentID]; !ok {
		return ErrNotFound
	}
	seen := make(map[string]bool, len(caps))
	replaced := make([]*Capability, 0, len(caps))
	for _, c := range caps {
		key := strings.ToLower(c.Name)
		if seen[key] {
			return ErrDuplicate
		}
		seen[key] = true
		cp := *c
		cp.AgentID = agentID
		cp.Metadata = append([]byte(nil), c.Metadata...)
		replaced = append(replaced, &cp)
	}
	m.capabilities[agentID] = replaced
	return nil
}

func (m *Memory) ListCapabilities(_ context.Context, agentID string) ([]*Capability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	caps := m.capabilities[agentID]
	out := make([]*Capability, 0, len(caps))
	for _, c := range caps {
		cp := *c
		cp.Metadata = append([]byte(nil), c.Metadata...)
		out = append(out, &cp)
	}
	return out, nil
}

// --- interactions ---

func (m *Memory) CreateInteraction(_ context.Context, in *Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.interactions[in.ID]; ok {
		return ErrDuplicate
	}
	if in.IdempotencyKey != "" {
		if _, ok := m.byIdemKey[in.IdempotencyKey]; ok {
			return ErrDuplicate
		}
	}
	cp := cloneInteraction(in)
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.interactions[cp.ID] = cp
	if cp.IdempotencyKey != "" {
		m.byIdemKey[cp.IdempotencyKey] = cp.ID
	}
	if cp.InteractionHash != "" {
		m.byHash[cp.InteractionHash] = cp.ID
	}
	return nil
}

func (m *Memory) GetInteraction(_ context.Context, id string) (*Interaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	in, ok := m.interactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneInteraction(in), nil
}

func (m *Memory) GetInteractionByHash(_ context.Context, hash string) (*Interaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byHash[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneInteraction(m.interactions[id]), nil
}

func (m *Memory) GetInteractionByIdempotencyKey(_ context.Context, key string) (*Interaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byIdemKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneInteraction(m.interactions[id]), nil
}

func (m *Memory) LatestInteractionFor(_ context.Context, status InteractionStatus, did string) (*Interaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *Interaction
	for _, in := range m.interactions {
		if in.Status != status {
			continue
		}
		if in.InitiatorDID != did && in.ProviderDID != did {
			continue
		}
		if best == nil || in.UpdatedAt.After(best.UpdatedAt) {
			best = in
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return cloneInteraction(best), nil
}

func (m *Memory) UpdateInteraction(_ context.Context, id string, expect InteractionStatus, mutate func(*Interaction) error) (*Interaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.interactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if cur.Status != expect {
		return nil, ErrConflict
	}
	next := cloneInteraction(cur)
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()
	m.interactions[id] = next
	return cloneInteraction(next), nil
}

func (m *Memory) ListInteractionsByStatus(_ context.Context, status InteractionStatus) ([]*Interaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Interaction
	for _, in := range m.interactions {
		if in.Status == status {
			out = append(out, cloneInteraction(in))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (m *Memory) CountInteractionsByStatus(_ context.Context, statuses ...InteractionStatus) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, in := range m.interactions {
		for _, s := range statuses {
			if in.Status == s {
				n++
				break
			}
		}
	}
	return n, nil
}

func (m *Memory) SetInteractionBatchID(_ context.Context, interactionHash string, batchID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byHash[interactionHash]
	if !ok {
		return ErrNotFound
	}
	m.interactions[id].BatchID = batchID
	return nil
}

// --- messages ---

func (m *Memory) EnqueueMessage(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[msg.ID]; ok {
		return ErrDuplicate
	}
	cp := cloneMessage(msg)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	if cp.Status == "" {
		cp.Status = MessageQueued
	}
	m.messages[cp.ID] = cp
	m.msgOrder = append(m.msgOrder, cp.ID)
	return nil
}

func (m *Memory) PollMessages(_ context.Context, toDID string) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	var out []*Message
	for _, id := range m.msgOrder {
		msg, ok := m.messages[id]
		if !ok || msg.Status != MessageQueued || msg.ToDID != toDID {
			continue
		}
		msg.Status = MessageDelivered
		t := now
		msg.DeliveredAt = &t
		out = append(out, cloneMessage(msg))
	}
	return out, nil
}

func (m *Memory) MarkMessageFailed(_ context.Context, id, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return ErrNotFound
	}
	msg.Status = MessageFailed
	msg.RetryCount++
	msg.LastError = lastError
	return nil
}

func (m *Memory) DeleteExpiredMessages(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	keep := m.msgOrder[:0]
	for _, id := range m.msgOrder {
		msg, ok := m.messages[id]
		if !ok {
			continue
		}
		if msg.Status == MessageQueued && !msg.ExpiresAt.IsZero() && msg.ExpiresAt.Before(now) {
			delete(m.messages, id)
			n++
			continue
		}
		keep = append(keep, id)
	}
	m.msgOrder = keep
	return n, nil
}

// --- nonces ---

func (m *Memory) InsertNonce(_ context.Context, n *NonceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nonces[n.Nonce]; ok {
		return ErrDuplicate
	}
	cp := *n
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.nonces[cp.Nonce] = &cp
	return nil
}

func (m *Memory) DeleteExpiredNonces(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for nonce, rec := range m.nonces {
		if rec.ExpiresAt.Before(now) {
			delete(m.nonces, nonce)
			n++
		}
	}
	return n, nil
}

// --- batches ---

func (m *Memory) CreateBatch(_ context.Context, b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextBatchID++
	b.ID = m.nextBatchID
	cp := *b
	now := time.Now().UTC()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.batches[cp.ID] = &cp
	return nil
}

func (m *Memory) GetBatch(_ context.Context, id int64) (*Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *Memory) ListBatches(_ context.Context, limit, offset int) ([]*Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Batch, 0, len(m.batches))
	for _, b := range m.batches {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpdateBatch(_ context.Context, id int64, status BatchStatus, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return ErrNotFound
	}
	b.Status = status
	if txHash != "" {
		b.TxHash = txHash
	}
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) CountBatches(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.batches), nil
}

// --- proofs ---

func (m *Memory) SaveProof(_ context.Context, p *Proof) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	cp.Siblings = append([]string(nil), p.Siblings...)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.proofs[cp.InteractionHash] = &cp
	return nil
}

func (m *Memory) GetProof(_ context.Context, interactionHash string) (*Proof, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.proofs[interactionHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	cp.Siblings = append([]string(nil), p.Siblings...)
	return &cp, nil
}

// --- clone helpers ---

func cloneAgent(a *Agent) *Agent {
	cp := *a
	cp.DIDDocument = append([]byte(nil), a.DIDDocument...)
	cp.AgentCard = append([]byte(nil), a.AgentCard...)
	return &cp
}

func cloneInteraction(in *Interaction) *Interaction {
	cp := *in
	cp.RequestPayload = append([]byte(nil), in.RequestPayload...)
	cp.OfferPayload = append([]byte(nil), in.OfferPayload...)
	cp.ResultPayload = append([]byte(nil), in.ResultPayload...)
	return &cp
}

func cloneMessage(msg *Message) *Message {
	cp := *msg
	cp.Envelope = append([]byte(nil), msg.Envelope...)
	if msg.DeliveredAt != nil {
		t := *msg.DeliveredAt
		cp.DeliveredAt = &t
	}
	return &cp
}
