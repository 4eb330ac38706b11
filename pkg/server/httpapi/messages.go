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
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/x811-project/aeep/pkg/core/envelope"
	"github.com/x811-project/aeep/pkg/core/errcode"
	"github.com/x811-project/aeep/pkg/server/store"
)

var streamUpgrader = websocket.Upgrader{
	// Agents connect from arbitrary origins; authentication is the DID
	// check, not the Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	env, err := s.authedEnvelope(r)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]any{}

	switch {
	case env.Type.Negotiation():
		in, err := s.engine.Handle(r.Context(), env)
		if err != nil {
			writeError(w, err)
			return
		}
		resp["interaction"] = map[string]any{
			"id":               in.ID,
			"interaction_hash": in.InteractionHash,
			"status":           in.Status,
		}
	case env.Type == envelope.KindHeartbeat:
		var hb envelope.HeartbeatPayload
		if err := env.DecodePayload(&hb); err != nil {
			writeError(w, err)
			return
		}
		agent, err := s.store.GetAgentByDID(r.Context(), env.From)
		if err != nil {
			writeError(w, errcode.Newf(errcode.AgentNotFound, "agent %s is not registered", env.From))
			return
		}
		if err := s.registry.Heartbeat(r.Context(), agent.ID, env.From, store.Availability(hb.Availability)); err != nil {
			writeError(w, err)
			return
		}
	}

	receipt, err := s.router.Deliver(r.Context(), env)
	if err != nil {
		writeError(w, err)
		return
	}
	resp["message_id"] = receipt.MessageID
	resp["status"] = receipt.Status
	resp["recipient_availability"] = receipt.RecipientAvailability
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handlePollMessages(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent_id")
	agent, err := s.verifier.VerifyPollAccess(r.Context(), agentID, r.URL.Query().Get("did"), bearerToken(r))
	if err != nil {
		writeError(w, err)
		return
	}
	msgs, err := s.router.Poll(r.Context(), agent.DID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs, "count": len(msgs)})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent_id")
	if _, err := s.verifier.VerifyPollAccess(r.Context(), agentID, r.URL.Query().Get("did"), bearerToken(r)); err != nil {
		writeError(w, err)
		return
	}
	if !s.router.Streams().CanAccept(agentID) {
		writeError(w, errcode.New(errcode.ConnectionLimit, "stream capacity reached"))
		return
	}
	ws, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		return
	}
	s.router.Streams().Serve(agentID, ws)
}
