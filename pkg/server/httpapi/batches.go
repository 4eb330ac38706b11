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
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/x811-project/aeep/pkg/core/errcode"
	"github.com/x811-project/aeep/pkg/server/store"
)

type batchView struct {
	ID               int64     `json:"id"`
	MerkleRoot       string    `json:"merkle_root"`
	InteractionCount int       `json:"interaction_count"`
	TxHash           string    `json:"tx_hash,omitempty"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func toBatchView(b *store.Batch) batchView {
	return batchView{
		ID:               b.ID,
		MerkleRoot:       b.MerkleRoot,
		InteractionCount: b.InteractionCount,
		TxHash:           b.TxHash,
		Status:           string(b.Status),
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	if limit <= 0 {
		limit = store.DefaultDiscoveryLimit
	}

	batches, err := s.store.ListBatches(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]batchView, 0, len(batches))
	for _, b := range batches {
		views = append(views, toBatchView(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": views, "count": len(views)})
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, errcode.Newf(errcode.MalformedEnvelope, "batch id %q is not numeric", r.PathValue("id")))
		return
	}
	b, err := s.store.GetBatch(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, errcode.Newf(errcode.InteractionNotFound, "batch %d does not exist", id))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchView(b))
}

func (s *Server) handleVerifyInteraction(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("interaction_hash")
	proof, err := s.store.GetProof(r.Context(), hash)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, errcode.Newf(errcode.InteractionNotFound, "interaction %s is not anchored", hash))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	b, err := s.store.GetBatch(r.Context(), proof.BatchID)
	if err != nil {
		writeError(w, errcode.Newf(errcode.BatchInconsistency, "proof references missing batch %d", proof.BatchID))
		return
	}
	ok, err := s.relayer.VerifyInclusion(r.Context(), b.MerkleRoot, proof.LeafHash, proof.Siblings)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"interaction_hash": hash,
		"verified":         ok,
		"proof": map[string]any{
			"leaf_hash": proof.LeafHash,
			"siblings":  proof.Siblings,
		},
		"batch": toBatchView(b),
	})
}

func (s *Server) handleServerDID(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(s.serverDoc)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	agents, err := s.store.CountAgents(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	batches, err := s.store.CountBatches(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	pending, err := s.store.CountInteractionsByStatus(ctx,
		store.StatusPending, store.StatusOffered, store.StatusAccepted,
		store.StatusDelivered, store.StatusVerified, store.StatusDisputed)
	if err != nil {
		writeError(w, err)
		return
	}

	balance := "unknown"
	if bal, err := s.relayer.Balance(ctx); err == nil {
		balance = bal.String()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":               "ok",
		"version":              s.version,
		"agents_count":         agents,
		"batches_count":        batches,
		"pending_interactions": pending,
		"relayer_balance":      balance,
		"uptime_seconds":       int(time.Since(s.startedAt).Seconds()),
	})
}
