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

package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/x811-project/aeep/pkg/core/envelope"
	"github.com/x811-project/aeep/pkg/core/errcode"
	"github.com/x811-project/aeep/pkg/core/keys"
	"github.com/x811-project/aeep/pkg/server/registry"
	"github.com/x811-project/aeep/pkg/server/store"
)

// agentView is the JSON shape of a full agent record.
type agentView struct {
	ID               string    `json:"id"`
	DID              string    `json:"did"`
	Status           string    `json:"status"`
	Availability     string    `json:"availability"`
	LastSeenAt       time.Time `json:"last_seen_at"`
	Name             string    `json:"name"`
	Description      string    `json:"description,omitempty"`
	Endpoint         string    `json:"endpoint,omitempty"`
	PaymentAddress   string    `json:"payment_address,omitempty"`
	TrustScore       float64   `json:"trust_score"`
	InteractionCount int       `json:"interaction_count"`
	SuccessfulCount  int       `json:"successful_count"`
	FailedCount      int       `json:"failed_count"`
	DisputeCount     int       `json:"dispute_count"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func toAgentView(a *store.Agent) agentView {
	return agentView{
		ID:               a.ID,
		DID:              a.DID,
		Status:           string(a.Status),
		Availability:     string(a.Availability),
		LastSeenAt:       a.LastSeenAt,
		Name:             a.Name,
		Description:      a.Description,
		Endpoint:         a.Endpoint,
		PaymentAddress:   a.PaymentAddress,
		TrustScore:       a.TrustScore,
		InteractionCount: a.InteractionCount,
		SuccessfulCount:  a.SuccessfulCount,
		FailedCount:      a.FailedCount,
		DisputeCount:     a.DisputeCount,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

type registerBody struct {
	Envelope    *envelope.Envelope `json:"envelope"`
	DIDDocument json.RawMessage    `json:"did_document"`
	PublicKey   string             `json:"public_key"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body registerBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Envelope == nil {
		writeError(w, errcode.New(errcode.MalformedEnvelope, "envelope missing"))
		return
	}
	bootstrapKey, err := keys.DecodeEd25519PublicKey(body.PublicKey)
	if err != nil {
		writeError(w, errcode.Newf(errcode.MalformedEnvelope, "public_key: %v", err))
		return
	}
	if err := s.verifier.VerifyEnvelope(r.Context(), body.Envelope, bootstrapKey); err != nil {
		writeError(w, err)
		return
	}
	agent, err := s.registry.Register(r.Context(), body.Envelope, body.DIDDocument)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAgentView(agent))
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.DiscoveryFilter{
		Capability:   q.Get("capability"),
		Status:       store.AgentStatus(q.Get("status")),
		Availability: store.Availability(q.Get("availability")),
	}
	if v := q.Get("trust_min"); v != "" {
		min, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, errcode.Newf(errcode.MalformedEnvelope, "trust_min %q is not a number", v))
			return
		}
		f.MinTrust = min
		f.HasMinTrust = true
	}
	if v := q.Get("limit"); v != "" {
		f.Limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("offset"); v != "" {
		f.Offset, _ = strconv.Atoi(v)
	}

	agents, err := s.registry.Discover(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents, "count": len(agents)})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgentView(agent))
}

func (s *Server) handleGetCard(w http.ResponseWriter, r *http.Request) {
	agent, err := s.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(agent.AgentCard)
}

func (s *Server) handleGetDID(w http.ResponseWriter, r *http.Request) {
	agent, err := s.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(agent.DIDDocument)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	agent, err := s.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       agent.Status,
		"availability": agent.Availability,
		"last_seen_at": agent.LastSeenAt,
	})
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	env, err := s.authedEnvelope(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var params registry.UpdateParams
	if err := env.DecodePayload(&params); err != nil {
		writeError(w, err)
		return
	}
	agent, err := s.registry.Update(r.Context(), r.PathValue("id"), env.From, params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgentView(agent))
}

func (s *Server) handleDeactivateAgent(w http.ResponseWriter, r *http.Request) {
	env, err := s.authedEnvelope(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.registry.Deactivate(r.Context(), r.PathValue("id"), env.From); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": store.AgentDeactivated})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	env, err := s.authedEnvelope(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var hb envelope.HeartbeatPayload
	if err := env.DecodePayload(&hb); err != nil {
		writeError(w, err)
		return
	}
	if err := s.registry.Heartbeat(r.Context(), r.PathValue("id"), env.From, store.Availability(hb.Availability)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// authedEnvelope decodes the envelope body and runs the full auth
// pipeline over it.
func (s *Server) authedEnvelope(r *http.Request) (*envelope.Envelope, error) {
	var body envelopeBody
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}
	if body.Envelope == nil {
		return nil, errcode.New(errcode.MalformedEnvelope, "envelope missing")
	}
	if err := s.verifier.VerifyEnvelope(r.Context(), body.Envelope, nil); err != nil {
		return nil, err
	}
	return body.Envelope, nil
}
