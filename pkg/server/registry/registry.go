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

// Package registry owns the DID lifecycle: registration, updates,
// deactivation, heartbeats and capability-keyed discovery.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/x811-project/aeep/internal/metrics"
	"github.com/x811-project/aeep/pkg/core/did"
	"github.com/x811-project/aeep/pkg/core/envelope"
	"github.com/x811-project/aeep/pkg/core/errcode"
	"github.com/x811-project/aeep/pkg/server/store"
	"github.com/x811-project/aeep/pkg/server/trust"
)

// HeartbeatStaleAfter is how long an agent may stay silent before the
// sweep flips its availability to unknown.
const HeartbeatStaleAfter = 300 * time.Second

// CapabilitySpec describes one offered service in a registration or
// update payload. Metadata is opaque (pricing hints, schemas).
type CapabilitySpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// RegistrationPayload is the envelope payload of a registration call.
type RegistrationPayload struct {
	Name           string           `json:"name"`
	Description    string           `json:"description,omitempty"`
	Endpoint       string           `json:"endpoint,omitempty"`
	PaymentAddress string           `json:"payment_address,omitempty"`
	Capabilities   []CapabilitySpec `json:"capabilities,omitempty"`
}

// UpdateParams carries the mutable agent fields; nil pointers leave the
// stored value untouched. A non-nil Capabilities replaces the whole set.
type UpdateParams struct {
	Name           *string          `json:"name,omitempty"`
	Description    *string          `json:"description,omitempty"`
	Endpoint       *string          `json:"endpoint,omitempty"`
	PaymentAddress *string          `json:"payment_address,omitempty"`
	Capabilities   []CapabilitySpec `json:"capabilities,omitempty"`
}

// Summary is the flat discovery shape.
type Summary struct {
	ID           string    `json:"id"`
	DID          string    `json:"did"`
	Name         string    `json:"name"`
	TrustScore   float64   `json:"trust_score"`
	Capabilities []string  `json:"capabilities"`
	PricingHint  string    `json:"pricing_hint,omitempty"`
	Status       string    `json:"status"`
	Availability string    `json:"availability"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}

// Registry drives agent identity against the store.
type Registry struct {
	store store.Store
}

// New builds a registry over the store.
func New(s store.Store) *Registry {
	return &Registry{store: s}
}

// Register creates the agent row and its capabilities from a verified
// registration envelope. The DID suffix becomes the agent id.
func (r *Registry) Register(ctx context.Context, env *envelope.Envelope, didDocument json.RawMessage) (*store.Agent, error) {
	_, id, err := did.Parse(env.From)
	if err != nil {
		return nil, err
	}
	var payload RegistrationPayload
	if err := env.DecodePayload(&payload); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	agent := &store.Agent{
		ID:             id,
		DID:            env.From,
		Status:         store.AgentActive,
		Availability:   store.AvailabilityUnknown,
		LastSeenAt:     now,
		Name:           payload.Name,
		Description:    payload.Description,
		Endpoint:       payload.Endpoint,
		PaymentAddress: payload.PaymentAddress,
		TrustScore:     trust.NeutralScore,
		DIDDocument:    append([]byte(nil), didDocument...),
	}
	agent.AgentCard = buildCard(agent, payload.Capabilities)

	if err := r.store.CreateAgent(ctx, agent); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, errcode.Newf(errcode.AgentExists, "DID %s is already registered", env.From)
		}
		return nil, err
	}
	if err := r.store.ReplaceCapabilities(ctx, id, toCapabilities(id, payload.Capabilities)); err != nil {
		return nil, err
	}
	return agent, nil
}

// Update applies self-service changes; only the agent's own DID may call.
func (r *Registry) Update(ctx context.Context, agentID, callerDID string, params UpdateParams) (*store.Agent, error) {
	agent, err := r.ownedAgent(ctx, agentID, callerDID)
	if err != nil {
		return nil, err
	}
	if params.Name != nil {
		agent.Name = *params.Name
	}
	if params.Description != nil {
		agent.Description = *params.Description
	}
	if params.Endpoint != nil {
		agent.Endpoint = *params.Endpoint
	}
	if params.PaymentAddress != nil {
		agent.PaymentAddress = *params.PaymentAddress
	}
	if params.Capabilities != nil {
		if err := r.store.ReplaceCapabilities(ctx, agentID, toCapabilities(agentID, params.Capabilities)); err != nil {
			return nil, err
		}
	}
	caps, err := r.listCapabilitySpecs(ctx, agentID)
	if err != nil {
		return nil, err
	}
	agent.AgentCard = buildCard(agent, caps)
	if err := r.store.UpdateAgent(ctx, agent); err != nil {
		return nil, err
	}
	return agent, nil
}

// Deactivate sets status to deactivated and availability to offline.
func (r *Registry) Deactivate(ctx context.Context, agentID, callerDID string) error {
	agent, err := r.ownedAgent(ctx, agentID, callerDID)
	if err != nil {
		return err
	}
	if err := transitionStatus(agent.Status, store.AgentDeactivated); err != nil {
		return err
	}
	agent.Status = store.AgentDeactivated
	agent.Availability = store.AvailabilityOffline
	return r.store.UpdateAgent(ctx, agent)
}

// Reactivate returns a deactivated agent to active. Revoked DIDs stay
// revoked.
func (r *Registry) Reactivate(ctx context.Context, agentID, callerDID string) error {
	agent, err := r.ownedAgent(ctx, agentID, callerDID)
	if err != nil {
		return err
	}
	if err := transitionStatus(agent.Status, store.AgentActive); err != nil {
		return err
	}
	agent.Status = store.AgentActive
	return r.store.UpdateAgent(ctx, agent)
}

// Revoke permanently retires a DID.
func (r *Registry) Revoke(ctx context.Context, agentID string) error {
	agent, err := r.getAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if err := transitionStatus(agent.Status, store.AgentRevoked); err != nil {
		return err
	}
	agent.Status = store.AgentRevoked
	agent.Availability = store.AvailabilityOffline
	return r.store.UpdateAgent(ctx, agent)
}

// Heartbeat refreshes last-seen and availability. Repeating identical
// parameters is a no-op beyond the timestamp refresh.
func (r *Registry) Heartbeat(ctx context.Context, agentID, callerDID string, availability store.Availability) error {
	if !store.ValidAvailability(availability) {
		return errcode.Newf(errcode.MalformedEnvelope, "unknown availability %q", availability)
	}
	agent, err := r.ownedAgent(ctx, agentID, callerDID)
	if err != nil {
		return err
	}
	agent.Availability = availability
	agent.LastSeenAt = time.Now().UTC()
	return r.store.UpdateAgent(ctx, agent)
}

// Get returns the full agent record.
func (r *Registry) Get(ctx context.Context, agentID string) (*store.Agent, error) {
	return r.getAgent(ctx, agentID)
}

// Capabilities lists an agent's capability rows.
func (r *Registry) Capabilities(ctx context.Context, agentID string) ([]*store.Capability, error) {
	return r.store.ListCapabilities(ctx, agentID)
}

// Discover returns flat summaries matching all supplied filters, ordered
// by trust descending.
func (r *Registry) Discover(ctx context.Context, f store.DiscoveryFilter) ([]*Summary, error) {
	agents, err := r.store.DiscoverAgents(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]*Summary, 0, len(agents))
	for _, a := range agents {
		caps, err := r.store.ListCapabilities(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(caps))
		pricing := ""
		for _, c := range caps {
			names = append(names, c.Name)
			if pricing == "" {
				pricing = pricingHint(c.Metadata)
			}
		}
		out = append(out, &Summary{
			ID:           a.ID,
			DID:          a.DID,
			Name:         a.Name,
			TrustScore:   a.TrustScore,
			Capabilities: names,
			PricingHint:  pricing,
			Status:       string(a.Status),
			Availability: string(a.Availability),
			LastSeenAt:   a.LastSeenAt,
		})
	}
	return out, nil
}

// ExpireStaleAvailability flips agents unseen for HeartbeatStaleAfter to
// unknown. Run periodically; idempotent.
func (r *Registry) ExpireStaleAvailability(ctx context.Context) (int, error) {
	n, err := r.store.MarkStaleAgentsUnknown(ctx, time.Now().UTC().Add(-HeartbeatStaleAfter))
	if err == nil && n > 0 {
		metrics.SweepExpired.WithLabelValues("availability").Add(float64(n))
	}
	return n, err
}

func (r *Registry) getAgent(ctx context.Context, agentID string) (*store.Agent, error) {
	agent, err := r.store.GetAgent(ctx, agentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errcode.Newf(errcode.AgentNotFound, "agent %s is not registered", agentID)
	}
	return agent, err
}

func (r *Registry) ownedAgent(ctx context.Context, agentID, callerDID string) (*store.Agent, error) {
	agent, err := r.getAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.DID != callerDID {
		return nil, errcode.Newf(errcode.NotOwner, "%s does not own agent %s", callerDID, agentID)
	}
	return agent, nil
}

func (r *Registry) listCapabilitySpecs(ctx context.Context, agentID string) ([]CapabilitySpec, error) {
	caps, err := r.store.ListCapabilities(ctx, agentID)
	if err != nil {
		return nil, err
	}
	specs := make([]CapabilitySpec, 0, len(caps))
	for _, c := range caps {
		specs = append(specs, CapabilitySpec{Name: c.Name, Description: c.Description, Metadata: c.Metadata})
	}
	return specs, nil
}

func transitionStatus(from, to store.AgentStatus) error {
	allowed := map[store.AgentStatus][]store.AgentStatus{
		store.AgentActive:      {store.AgentRevoked, store.AgentDeactivated},
		store.AgentDeactivated: {store.AgentActive},
	}
	for _, t := range allowed[from] {
		if t == to {
			return nil
		}
	}
	return errcode.Newf(errcode.InvalidTransition, "DID status %s cannot become %s", from, to)
}

func toCapabilities(agentID string, specs []CapabilitySpec) []*store.Capability {
	caps := make([]*store.Capability, 0, len(specs))
	for _, sp := range specs {
		caps = append(caps, &store.Capability{
			AgentID:     agentID,
			Name:        sp.Name,
			Description: sp.Description,
			Metadata:    sp.Metadata,
		})
	}
	return caps
}

func pricingHint(metadata json.RawMessage) string {
	if len(metadata) == 0 {
		return ""
	}
	var m struct {
		PricingHint string `json:"pricing_hint"`
	}
	if err := json.Unmarshal(metadata, &m); err != nil {
		return ""
	}
	return m.PricingHint
}

func buildCard(a *store.Agent, caps []CapabilitySpec) json.RawMessage {
	card := map[string]any{
		"id":              a.ID,
		"did":             a.DID,
		"name":            a.Name,
		"description":     a.Description,
		"endpoint":        a.Endpoint,
		"payment_address": a.PaymentAddress,
		"capabilities":    caps,
	}
	raw, err := json.Marshal(card)
	if err != nil {
		return nil
	}
	return raw
}
