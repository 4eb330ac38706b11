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

// Package httpapi is the server's HTTP surface. Handlers decode, call
// the domain services, and map coded errors to the
// {error:{code,message,details}} body with the status from the
// taxonomy. No protocol logic lives here.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/x811-project/aeep/pkg/core/envelope"
	"github.com/x811-project/aeep/pkg/core/errcode"
	"github.com/x811-project/aeep/pkg/server/auth"
	"github.com/x811-project/aeep/pkg/server/batch"
	"github.com/x811-project/aeep/pkg/server/negotiation"
	"github.com/x811-project/aeep/pkg/server/registry"
	"github.com/x811-project/aeep/pkg/server/relayer"
	"github.com/x811-project/aeep/pkg/server/router"
	"github.com/x811-project/aeep/pkg/server/store"
)

// Server wires the domain services behind the HTTP routes.
type Server struct {
	store     store.Store
	registry  *registry.Registry
	verifier  *auth.Verifier
	router    *router.Router
	engine    *negotiation.Engine
	batches   *batch.Service
	relayer   relayer.Relayer
	version   string
	serverDID string
	serverDoc json.RawMessage
	startedAt time.Time
}

// Config carries the assembled services into the server.
type Config struct {
	Store     store.Store
	Registry  *registry.Registry
	Verifier  *auth.Verifier
	Router    *router.Router
	Engine    *negotiation.Engine
	Batches   *batch.Service
	Relayer   relayer.Relayer
	Version   string
	ServerDID string
	ServerDoc json.RawMessage
}

// New builds the server.
func New(cfg Config) *Server {
	return &Server{
		store:     cfg.Store,
		registry:  cfg.Registry,
		verifier:  cfg.Verifier,
		router:    cfg.Router,
		engine:    cfg.Engine,
		batches:   cfg.Batches,
		relayer:   cfg.Relayer,
		version:   cfg.Version,
		serverDID: cfg.ServerDID,
		serverDoc: cfg.ServerDoc,
		startedAt: time.Now().UTC(),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/agents", s.handleRegister)
	mux.HandleFunc("GET /api/v1/agents", s.handleDiscover)
	mux.HandleFunc("GET /api/v1/agents/{id}", s.handleGetAgent)
	mux.HandleFunc("GET /api/v1/agents/{id}/card", s.handleGetCard)
	mux.HandleFunc("GET /api/v1/agents/{id}/did", s.handleGetDID)
	mux.HandleFunc("GET /api/v1/agents/{id}/status", s.handleGetStatus)
	mux.HandleFunc("PUT /api/v1/agents/{id}", s.handleUpdateAgent)
	mux.HandleFunc("DELETE /api/v1/agents/{id}", s.handleDeactivateAgent)
	mux.HandleFunc("POST /api/v1/agents/{id}/heartbeat", s.handleHeartbeat)

	mux.HandleFunc("POST /api/v1/messages", s.handleSendMessage)
	mux.HandleFunc("GET /api/v1/messages/{agent_id}", s.handlePollMessages)
	mux.HandleFunc("GET /api/v1/messages/{agent_id}/stream", s.handleStream)

	mux.HandleFunc("GET /api/v1/verify/{interaction_hash}", s.handleVerifyInteraction)
	mux.HandleFunc("GET /api/v1/batches", s.handleListBatches)
	mux.HandleFunc("GET /api/v1/batches/{id}", s.handleGetBatch)

	mux.HandleFunc("GET /.well-known/did.json", s.handleServerDID)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// envelopeBody is the shape of every write request.
type envelopeBody struct {
	Envelope *envelope.Envelope `json:"envelope"`
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return errcode.Newf(errcode.MalformedEnvelope, "request body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	e := errcode.From(err)
	writeJSON(w, e.HTTPStatus(), map[string]any{"error": e})
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}
