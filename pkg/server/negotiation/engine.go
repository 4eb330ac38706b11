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

// Package negotiation drives interactions through the ten-state graph:
//
//	pending   -> offered, expired, failed
//	offered   -> accepted, rejected, expired, failed
//	accepted  -> delivered, expired, failed
//	delivered -> verified, disputed, expired, failed
//	verified  -> completed, expired, failed
//	disputed  -> failed
//	completed, expired, rejected, failed   (terminal)
//
// Each message kind targets exactly one transition. Transitions commit
// through the store's compare-and-update, so two racing messages on the
// same interaction see exactly one winner; the loser gets
// INVALID_TRANSITION. A handler either commits the full transition or
// changes nothing.
package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/x811-project/aeep/internal/metrics"
	"github.com/x811-project/aeep/pkg/core/canonical"
	"github.com/x811-project/aeep/pkg/core/envelope"
	"github.com/x811-project/aeep/pkg/core/errcode"
	"github.com/x811-project/aeep/pkg/server/store"
	"github.com/x811-project/aeep/pkg/server/trust"
)

const (
	// ProtocolFeeRate is the fee charged on every offer price.
	ProtocolFeeRate = 0.025
	// AmountTolerance bounds rounding drift on fee, total and payment
	// amount comparisons.
	AmountTolerance = 1e-6
)

// BatchEnqueuer receives the hash of every verified interaction for
// on-chain anchoring.
type BatchEnqueuer interface {
	Add(ctx context.Context, interactionHash string)
}

// Engine dispatches negotiation envelopes to their transition handlers.
type Engine struct {
	store store.Store
	trust *trust.Service
	batch BatchEnqueuer
	now   func() time.Time
}

// New builds an engine. batch may be nil when anchoring is disabled.
func New(s store.Store, t *trust.Service, batch BatchEnqueuer) *Engine {
	return &Engine{store: s, trust: t, batch: batch, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the time source; used by tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

type handler func(ctx context.Context, env *envelope.Envelope) (*store.Interaction, error)

// Handle runs the transition for an authenticated negotiation envelope
// and returns the interaction after the commit.
func (e *Engine) Handle(ctx context.Context, env *envelope.Envelope) (*store.Interaction, error) {
	dispatch := map[envelope.Kind]handler{
		envelope.KindRequest:       e.handleRequest,
		envelope.KindOffer:         e.handleOffer,
		envelope.KindAccept:        e.handleAccept,
		envelope.KindReject:        e.handleReject,
		envelope.KindResult:        e.handleResult,
		envelope.KindVerify:        e.handleVerify,
		envelope.KindPayment:       e.handlePayment,
		envelope.KindPaymentFailed: e.handlePaymentFailed,
	}
	h, ok := dispatch[env.Type]
	if !ok {
		return nil, errcode.Newf(errcode.MalformedEnvelope, "%s is not a negotiation message", env.Type)
	}

	timer := prometheus.NewTimer(metrics.NegotiationDuration.WithLabelValues(string(env.Type)))
	defer timer.ObserveDuration()

	in, err := h(ctx, env)
	if err != nil {
		metrics.NegotiationFailures.WithLabelValues(string(errcode.From(err).Code)).Inc()
		return nil, err
	}
	metrics.NegotiationTransitions.WithLabelValues(string(in.Status)).Inc()
	return in, nil
}

func (e *Engine) handleRequest(ctx context.Context, env *envelope.Envelope) (*store.Interaction, error) {
	var p envelope.RequestPayload
	if err := env.DecodePayload(&p); err != nil {
		return nil, err
	}
	if p.IdempotencyKey == "" {
		return nil, errcode.New(errcode.MissingIdempotencyKey, "request requires an idempotency_key")
	}

	if existing, err := e.store.GetInteractionByIdempotencyKey(ctx, p.IdempotencyKey); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if _, err := e.store.GetAgentByDID(ctx, env.To); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errcode.Newf(errcode.ProviderNotFound, "provider %s is not registered", env.To)
		}
		return nil, err
	}

	hash, err := env.CanonicalHash()
	if err != nil {
		return nil, err
	}
	now := e.now()
	in := &store.Interaction{
		ID:              env.ID,
		InteractionHash: hash,
		InitiatorDID:    env.From,
		ProviderDID:     env.To,
		Capability:      p.TaskType,
		Status:          store.StatusPending,
		RequestPayload:  append([]byte(nil), env.Payload...),
		IdempotencyKey:  p.IdempotencyKey,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err = e.store.CreateInteraction(ctx, in)
	if errors.Is(err, store.ErrDuplicate) {
		// Lost the race on the idempotency key; the winner's row is the
		// answer.
		return e.store.GetInteractionByIdempotencyKey(ctx, p.IdempotencyKey)
	}
	if err != nil {
		return nil, err
	}
	return in, nil
}

func (e *Engine) handleOffer(ctx context.Context, env *envelope.Envelope) (*store.Interaction, error) {
	var p envelope.OfferPayload
	if err := env.DecodePayload(&p); err != nil {
		return nil, err
	}
	price, err := parseAmount(p.Price, "price")
	if err != nil {
		return nil, err
	}
	fee, err := parseAmount(p.ProtocolFee, "protocol_fee")
	if err != nil {
		return nil, err
	}
	total, err := parseAmount(p.TotalCost, "total_cost")
	if err != nil {
		return nil, err
	}
	if math.Abs(fee-round6(price*ProtocolFeeRate)) > AmountTolerance {
		return nil, errcode.Newf(errcode.InvalidFee, "protocol_fee %s is not 2.5%% of price %s", p.ProtocolFee, p.Price)
	}
	if math.Abs(total-round6(price+fee)) > AmountTolerance {
		return nil, errcode.Newf(errcode.InvalidTotal, "total_cost %s is not price plus fee", p.TotalCost)
	}

	in, err := e.lookup(ctx, p.RequestID, store.StatusPending, env.From)
	if err != nil {
		return nil, err
	}
	if in.ProviderDID != env.From {
		return nil, errcode.Newf(errcode.WrongRole, "only the provider may offer on interaction %s", in.ID)
	}

	var req envelope.RequestPayload
	if err := decodeStored(in.RequestPayload, &req); err != nil {
		return nil, err
	}
	if total > req.MaxBudget+AmountTolerance {
		return nil, errcode.Newf(errcode.BudgetExceeded, "total_cost %s exceeds max_budget %v", p.TotalCost, req.MaxBudget)
	}

	offerBytes, err := canonical.Transform(env.Payload)
	if err != nil {
		return nil, errcode.Newf(errcode.MalformedEnvelope, "offer payload: %v", err)
	}
	return e.transition(ctx, in.ID, store.StatusPending, func(row *store.Interaction) error {
		row.Status = store.StatusOffered
		row.OfferPayload = offerBytes
		return nil
	})
}

func (e *Engine) handleAccept(ctx context.Context, env *envelope.Envelope) (*store.Interaction, error) {
	var p envelope.AcceptPayload
	if err := env.DecodePayload(&p); err != nil {
		return nil, err
	}
	id := p.OfferID
	if id == "" {
		id = p.RequestID
	}
	in, err := e.lookup(ctx, id, store.StatusOffered, env.From)
	if err != nil {
		return nil, err
	}
	if in.InitiatorDID != env.From {
		return nil, errcode.Newf(errcode.WrongRole, "only the initiator may accept interaction %s", in.ID)
	}
	storedHash := canonical.HashBytes(in.OfferPayload)
	if p.OfferHash != storedHash {
		return nil, errcode.New(errcode.OfferHashMismatch, "offer_hash does not match the stored offer")
	}
	return e.transition(ctx, in.ID, store.StatusOffered, func(row *store.Interaction) error {
		row.Status = store.StatusAccepted
		return nil
	})
}

func (e *Engine) handleReject(ctx context.Context, env *envelope.Envelope) (*store.Interaction, error) {
	var p envelope.RejectPayload
	if err := env.DecodePayload(&p); err != nil {
		return nil, err
	}
	id := p.OfferID
	if id == "" {
		id = p.RequestID
	}
	in, err := e.lookup(ctx, id, store.StatusOffered, env.From)
	if err != nil {
		return nil, err
	}
	if in.InitiatorDID != env.From {
		return nil, errcode.Newf(errcode.WrongRole, "only the initiator may reject interaction %s", in.ID)
	}
	return e.transition(ctx, in.ID, store.StatusOffered, func(row *store.Interaction) error {
		row.Status = store.StatusRejected
		row.Outcome = store.OutcomeRejected
		return nil
	})
}

func (e *Engine) handleResult(ctx context.Context, env *envelope.Envelope) (*store.Interaction, error) {
	var p envelope.ResultPayload
	if err := env.DecodePayload(&p); err != nil {
		return nil, err
	}
	if p.ResultHash == "" {
		return nil, errcode.New(errcode.MissingResultHash, "result requires a result_hash")
	}
	in, err := e.lookup(ctx, p.RequestID, store.StatusAccepted, env.From)
	if err != nil {
		return nil, err
	}
	if in.ProviderDID != env.From {
		return nil, errcode.Newf(errcode.WrongRole, "only the provider may deliver interaction %s", in.ID)
	}
	result := append([]byte(nil), env.Payload...)
	return e.transition(ctx, in.ID, store.StatusAccepted, func(row *store.Interaction) error {
		row.Status = store.StatusDelivered
		row.ResultPayload = result
		return nil
	})
}

func (e *Engine) handleVerify(ctx context.Context, env *envelope.Envelope) (*store.Interaction, error) {
	var p envelope.VerifyPayload
	if err := env.DecodePayload(&p); err != nil {
		return nil, err
	}
	in, err := e.lookup(ctx, p.RequestID, store.StatusDelivered, env.From)
	if err != nil {
		return nil, err
	}
	if in.InitiatorDID != env.From {
		return nil, errcode.Newf(errcode.WrongRole, "only the initiator may verify interaction %s", in.ID)
	}
	if len(in.ResultPayload) > 0 {
		var stored envelope.ResultPayload
		if err := decodeStored(in.ResultPayload, &stored); err != nil {
			return nil, err
		}
		if p.ResultHash != stored.ResultHash {
			return nil, errcode.New(errcode.MissingResultHash, "result_hash does not match the delivered result")
		}
	}

	if !p.Verified {
		if p.DisputeCode == "" {
			return nil, errcode.New(errcode.MalformedEnvelope, "verify with verified=false requires a dispute_code")
		}
		return e.transition(ctx, in.ID, store.StatusDelivered, func(row *store.Interaction) error {
			row.Status = store.StatusDisputed
			return nil
		})
	}

	out, err := e.transition(ctx, in.ID, store.StatusDelivered, func(row *store.Interaction) error {
		row.Status = store.StatusVerified
		row.Outcome = store.OutcomeSuccess
		return nil
	})
	if err != nil {
		return nil, err
	}
	if e.batch != nil {
		e.batch.Add(ctx, out.InteractionHash)
	}
	return out, nil
}

func (e *Engine) handlePayment(ctx context.Context, env *envelope.Envelope) (*store.Interaction, error) {
	var p envelope.PaymentPayload
	if err := env.DecodePayload(&p); err != nil {
		return nil, err
	}
	if p.TxHash == "" {
		return nil, errcode.New(errcode.MalformedEnvelope, "payment requires a tx_hash")
	}
	in, err := e.lookup(ctx, p.RequestID, store.StatusVerified, env.From)
	if err != nil {
		return nil, err
	}
	if in.InitiatorDID != env.From {
		return nil, errcode.Newf(errcode.WrongRole, "only the initiator may pay interaction %s", in.ID)
	}
	var offer envelope.OfferPayload
	if err := decodeStored(in.OfferPayload, &offer); err != nil {
		return nil, err
	}
	total, err := parseAmount(offer.TotalCost, "total_cost")
	if err != nil {
		return nil, err
	}
	if math.Abs(p.Amount-total) > AmountTolerance {
		return nil, errcode.Newf(errcode.AmountMismatch, "payment amount %v does not equal agreed total %s", p.Amount, offer.TotalCost)
	}

	out, err := e.transition(ctx, in.ID, store.StatusVerified, func(row *store.Interaction) error {
		row.Status = store.StatusCompleted
		row.Outcome = store.OutcomeSuccess
		row.PaymentTxHash = p.TxHash
		row.PaymentAmount = p.Amount
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := e.trust.RecordSuccess(ctx, out.InitiatorDID, out.ProviderDID); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) handlePaymentFailed(ctx context.Context, env *envelope.Envelope) (*store.Interaction, error) {
	var p envelope.PaymentFailedPayload
	if err := env.DecodePayload(&p); err != nil {
		return nil, err
	}

	in, err := e.lookup(ctx, p.RequestID, store.StatusVerified, env.From)
	if errcode.HasCode(err, errcode.InteractionNotFound) {
		in, err = e.lookup(ctx, p.RequestID, store.StatusDisputed, env.From)
	}
	if err != nil {
		return nil, err
	}
	if env.From != in.InitiatorDID && env.From != in.ProviderDID {
		return nil, errcode.Newf(errcode.WrongRole, "sender is not a party to interaction %s", in.ID)
	}

	from := in.Status
	if from != store.StatusVerified && from != store.StatusDisputed {
		return nil, errcode.Newf(errcode.InvalidTransition, "cannot fail interaction %s from %s", in.ID, from)
	}
	outcome := store.OutcomeFailure
	if from == store.StatusDisputed {
		outcome = store.OutcomeDispute
	}
	out, err := e.transition(ctx, in.ID, from, func(row *store.Interaction) error {
		row.Status = store.StatusFailed
		row.Outcome = outcome
		return nil
	})
	if err != nil {
		return nil, err
	}

	if from == store.StatusDisputed {
		// The dispute resolved against the provider.
		if err := e.trust.RecordDispute(ctx, out.ProviderDID); err != nil {
			return nil, err
		}
	} else if err := e.trust.RecordFailure(ctx, out.InitiatorDID); err != nil {
		return nil, err
	}
	return out, nil
}

// lookup resolves the interaction a message refers to: first by id, then
// by the most-recently-updated row in the expected source state where
// the sender is a party. The fallback keeps clients that send
// envelope-id-as-request-id functional without widening authorization.
func (e *Engine) lookup(ctx context.Context, id string, expect store.InteractionStatus, senderDID string) (*store.Interaction, error) {
	if id != "" {
		in, err := e.store.GetInteraction(ctx, id)
		if err == nil {
			return in, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	in, err := e.store.LatestInteractionFor(ctx, expect, senderDID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errcode.Newf(errcode.InteractionNotFound, "no interaction in %s involving %s", expect, senderDID)
	}
	if err != nil {
		return nil, err
	}
	return in, nil
}

// transition commits one state change through the store's
// compare-and-update. A concurrent transition or a stale source state
// surfaces as INVALID_TRANSITION.
func (e *Engine) transition(ctx context.Context, id string, expect store.InteractionStatus, mutate func(*store.Interaction) error) (*store.Interaction, error) {
	now := e.now()
	out, err := e.store.UpdateInteraction(ctx, id, expect, func(row *store.Interaction) error {
		if err := mutate(row); err != nil {
			return err
		}
		row.UpdatedAt = now
		return nil
	})
	if errors.Is(err, store.ErrConflict) {
		return nil, errcode.Newf(errcode.InvalidTransition, "interaction %s is not in %s", id, expect)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, errcode.Newf(errcode.InteractionNotFound, "interaction %s does not exist", id)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func decodeStored(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return errcode.Newf(errcode.StoreError, "stored payload decode: %v", err)
	}
	return nil
}

func parseAmount(s, field string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errcode.Newf(errcode.MalformedEnvelope, "%s %q is not a decimal amount", field, s)
	}
	return v, nil
}

func round6(x float64) float64 {
	return math.Round(x*1e6) / 1e6
}
