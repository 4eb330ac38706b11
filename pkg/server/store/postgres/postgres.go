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

// Package postgres backs store.Store with PostgreSQL. Uniqueness
// constraints carry the replay and idempotency barriers; the
// interaction compare-and-update runs under SELECT FOR UPDATE. Payload
// and envelope columns are TEXT, not JSONB: the offer hash is defined
// over the stored bytes, so the database must never re-normalize them.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/x811-project/aeep/pkg/server/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS agents (
	id                TEXT PRIMARY KEY,
	did               TEXT NOT NULL UNIQUE,
	status            TEXT NOT NULL,
	availability      TEXT NOT NULL DEFAULT 'unknown',
	last_seen_at      TIMESTAMPTZ,
	name              TEXT NOT NULL DEFAULT '',
	description       TEXT NOT NULL DEFAULT '',
	endpoint          TEXT NOT NULL DEFAULT '',
	payment_address   TEXT NOT NULL DEFAULT '',
	trust_score       DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	interaction_count INTEGER NOT NULL DEFAULT 0,
	successful_count  INTEGER NOT NULL DEFAULT 0,
	failed_count      INTEGER NOT NULL DEFAULT 0,
	dispute_count     INTEGER NOT NULL DEFAULT 0,
	did_document      TEXT NOT NULL DEFAULT '',
	agent_card        TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS capabilities (
	agent_id    TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	metadata    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (agent_id, name)
);

CREATE TABLE IF NOT EXISTS interactions (
	id               TEXT PRIMARY KEY,
	interaction_hash TEXT NOT NULL UNIQUE,
	initiator_did    TEXT NOT NULL,
	provider_did     TEXT NOT NULL,
	capability       TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	outcome          TEXT NOT NULL DEFAULT '',
	payment_tx_hash  TEXT NOT NULL DEFAULT '',
	payment_amount   DOUBLE PRECISION NOT NULL DEFAULT 0,
	batch_id         BIGINT NOT NULL DEFAULT 0,
	request_payload  TEXT NOT NULL DEFAULT '',
	offer_payload    TEXT NOT NULL DEFAULT '',
	result_payload   TEXT NOT NULL DEFAULT '',
	idempotency_key  TEXT NOT NULL UNIQUE,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_interactions_status ON interactions(status);
CREATE INDEX IF NOT EXISTS idx_interactions_parties ON interactions(initiator_did, provider_did);

CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	type         TEXT NOT NULL DEFAULT '',
	from_did     TEXT NOT NULL DEFAULT '',
	to_did       TEXT NOT NULL,
	envelope     TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at   TIMESTAMPTZ NOT NULL,
	status       TEXT NOT NULL DEFAULT 'queued',
	delivered_at TIMESTAMPTZ,
	retry_count  INTEGER NOT NULL DEFAULT 0,
	last_error   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(to_did, status);
CREATE INDEX IF NOT EXISTS idx_messages_expiry ON messages(expires_at);

CREATE TABLE IF NOT EXISTS nonces (
	nonce      TEXT PRIMARY KEY,
	did        TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nonces_expiry ON nonces(expires_at);

CREATE TABLE IF NOT EXISTS batches (
	id                BIGSERIAL PRIMARY KEY,
	merkle_root       TEXT NOT NULL,
	interaction_count INTEGER NOT NULL,
	tx_hash           TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS proofs (
	interaction_hash TEXT PRIMARY KEY,
	batch_id         BIGINT NOT NULL,
	leaf_hash        TEXT NOT NULL,
	siblings         TEXT[] NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store is the PostgreSQL-backed persistence layer.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Connect opens the pool and ensures the schema exists.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: init schema: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func mapNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

// --- agents ---

const agentColumns = `id, did, status, availability, last_seen_at, name, description,
	endpoint, payment_address, trust_score, interaction_count, successful_count,
	failed_count, dispute_count, did_document, agent_card, created_at, updated_at`

func scanAgent(row pgx.Row) (*store.Agent, error) {
	var a store.Agent
	var lastSeen *time.Time
	var doc, card string
	err := row.Scan(&a.ID, &a.DID, &a.Status, &a.Availability, &lastSeen, &a.Name,
		&a.Description, &a.Endpoint, &a.PaymentAddress, &a.TrustScore,
		&a.InteractionCount, &a.SuccessfulCount, &a.FailedCount, &a.DisputeCount,
		&doc, &card, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if lastSeen != nil {
		a.LastSeenAt = *lastSeen
	}
	if doc != "" {
		a.DIDDocument = []byte(doc)
	}
	if card != "" {
		a.AgentCard = []byte(card)
	}
	return &a, nil
}

func (s *Store) CreateAgent(ctx context.Context, a *store.Agent) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agents (id, did, status, availability, last_seen_at, name,
			description, endpoint, payment_address, trust_score, interaction_count,
			successful_count, failed_count, dispute_count, did_document, agent_card,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		a.ID, a.DID, a.Status, a.Availability, nullableTime(a.LastSeenAt), a.Name,
		a.Description, a.Endpoint, a.PaymentAddress, a.TrustScore, a.InteractionCount,
		a.SuccessfulCount, a.FailedCount, a.DisputeCount, string(a.DIDDocument),
		string(a.AgentCard), a.CreatedAt, a.UpdatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *Store) GetAgent(ctx context.Context, id string) (*store.Agent, error) {
	return scanAgent(s.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
}

func (s *Store) GetAgentByDID(ctx context.Context, did string) (*store.Agent, error) {
	return scanAgent(s.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE did = $1`, did))
}

func (s *Store) UpdateAgent(ctx context.Context, a *store.Agent) error {
	a.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE agents SET status=$2, availability=$3, last_seen_at=$4, name=$5,
			description=$6, endpoint=$7, payment_address=$8, trust_score=$9,
			interaction_count=$10, successful_count=$11, failed_count=$12,
			dispute_count=$13, did_document=$14, agent_card=$15, updated_at=$16
		WHERE id = $1`,
		a.ID, a.Status, a.Availability, nullableTime(a.LastSeenAt), a.Name,
		a.Description, a.Endpoint, a.PaymentAddress, a.TrustScore,
		a.InteractionCount, a.SuccessfulCount, a.FailedCount, a.DisputeCount,
		string(a.DIDDocument), string(a.AgentCard), a.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DiscoverAgents(ctx context.Context, f store.DiscoveryFilter) ([]*store.Agent, error) {
	where := []string{"1=1"}
	args := []any{}
	n := 0
	arg := func(v any) string {
		n++
		args = append(args, v)
		return fmt.Sprintf("$%d", n)
	}
	if f.Status != "" {
		where = append(where, "a.status = "+arg(f.Status))
	}
	if f.Availability != "" {
		where = append(where, "a.availability = "+arg(f.Availability))
	}
	if f.HasMinTrust {
		where = append(where, "a.trust_score >= "+arg(f.MinTrust))
	}
	if f.Capability != "" {
		where = append(where, `EXISTS (SELECT 1 FROM capabilities c
			WHERE c.agent_id = a.id AND lower(c.name) = lower(`+arg(f.Capability)+`))`)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = store.DefaultDiscoveryLimit
	}
	if limit > store.MaxDiscoveryLimit {
		limit = store.MaxDiscoveryLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + agentColumns + ` FROM agents a
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY a.trust_score DESC, a.id ASC
		LIMIT ` + arg(limit) + ` OFFSET ` + arg(offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) CountAgents(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM agents`).Scan(&n)
	return n, err
}

func (s *Store) MarkStaleAgentsUnknown(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE agents SET availability = 'unknown', updated_at = now()
		WHERE availability <> 'unknown' AND last_seen_at IS NOT NULL AND last_seen_at < $1`,
		cutoff)
	return int(tag.RowsAffected()), err
}

// --- capabilities ---

func (s *Store) ReplaceCapabilities(ctx context.Context, agentID string, caps []*store.Capability) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM capabilities WHERE agent_id = $1`, agentID); err != nil {
		return err
	}
	for _, c := range caps {
		if _, err := tx.Exec(ctx, `
			INSERT INTO capabilities (agent_id, name, description, metadata)
			VALUES ($1, $2, $3, $4)`,
			agentID, c.Name, c.Description, string(c.Metadata)); err != nil {
			if isUniqueViolation(err) {
				return store.ErrDuplicate
			}
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) ListCapabilities(ctx context.Context, agentID string) ([]*store.Capability, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT agent_id, name, description, metadata FROM capabilities
		WHERE agent_id = $1 ORDER BY name`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Capability
	for rows.Next() {
		var c store.Capability
		var meta string
		if err := rows.Scan(&c.AgentID, &c.Name, &c.Description, &meta); err != nil {
			return nil, err
		}
		if meta != "" {
			c.Metadata = []byte(meta)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// --- interactions ---

const interactionColumns = `id, interaction_hash, initiator_did, provider_did,
	capability, status, outcome, payment_tx_hash, payment_amount, batch_id,
	request_payload, offer_payload, result_payload, idempotency_key,
	created_at, updated_at`

func scanInteraction(row pgx.Row) (*store.Interaction, error) {
	var in store.Interaction
	var req, offer, result string
	err := row.Scan(&in.ID, &in.InteractionHash, &in.InitiatorDID, &in.ProviderDID,
		&in.Capability, &in.Status, &in.Outcome, &in.PaymentTxHash, &in.PaymentAmount,
		&in.BatchID, &req, &offer, &result, &in.IdempotencyKey,
		&in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if req != "" {
		in.RequestPayload = []byte(req)
	}
	if offer != "" {
		in.OfferPayload = []byte(offer)
	}
	if result != "" {
		in.ResultPayload = []byte(result)
	}
	return &in, nil
}

func (s *Store) CreateInteraction(ctx context.Context, in *store.Interaction) error {
	now := time.Now().UTC()
	if in.CreatedAt.IsZero() {
		in.CreatedAt = now
	}
	if in.UpdatedAt.IsZero() {
		in.UpdatedAt = now
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO interactions (id, interaction_hash, initiator_did, provider_did,
			capability, status, outcome, payment_tx_hash, payment_amount, batch_id,
			request_payload, offer_payload, result_payload, idempotency_key,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		in.ID, in.InteractionHash, in.InitiatorDID, in.ProviderDID, in.Capability,
		in.Status, in.Outcome, in.PaymentTxHash, in.PaymentAmount, in.BatchID,
		string(in.RequestPayload), string(in.OfferPayload), string(in.ResultPayload),
		in.IdempotencyKey, in.CreatedAt, in.UpdatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *Store) GetInteraction(ctx context.Context, id string) (*store.Interaction, error) {
	return scanInteraction(s.pool.QueryRow(ctx,
		`SELECT `+interactionColumns+` FROM interactions WHERE id = $1`, id))
}

func (s *Store) GetInteractionByHash(ctx context.Context, hash string) (*store.Interaction, error) {
	return scanInteraction(s.pool.QueryRow(ctx,
		`SELECT `+interactionColumns+` FROM interactions WHERE interaction_hash = $1`, hash))
}

func (s *Store) GetInteractionByIdempotencyKey(ctx context.Context, key string) (*store.Interaction, error) {
	return scanInteraction(s.pool.QueryRow(ctx,
		`SELECT `+interactionColumns+` FROM interactions WHERE idempotency_key = $1`, key))
}

func (s *Store) LatestInteractionFor(ctx context.Context, status store.InteractionStatus, did string) (*store.Interaction, error) {
	return scanInteraction(s.pool.QueryRow(ctx, `
		SELECT `+interactionColumns+` FROM interactions
		WHERE status = $1 AND (initiator_did = $2 OR provider_did = $2)
		ORDER BY updated_at DESC LIMIT 1`, status, did))
}

func (s *Store) UpdateInteraction(ctx context.Context, id string, expect store.InteractionStatus, mutate func(*store.Interaction) error) (*store.Interaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	in, err := scanInteraction(tx.QueryRow(ctx,
		`SELECT `+interactionColumns+` FROM interactions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if in.Status != expect {
		return nil, store.ErrConflict
	}
	if err := mutate(in); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE interactions SET status=$2, outcome=$3, payment_tx_hash=$4,
			payment_amount=$5, offer_payload=$6, result_payload=$7, updated_at=$8
		WHERE id = $1`,
		in.ID, in.Status, in.Outcome, in.PaymentTxHash, in.PaymentAmount,
		string(in.OfferPayload), string(in.ResultPayload), in.UpdatedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return in, nil
}

func (s *Store) ListInteractionsByStatus(ctx context.Context, status store.InteractionStatus) ([]*store.Interaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+interactionColumns+` FROM interactions WHERE status = $1 ORDER BY updated_at`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Interaction
	for rows.Next() {
		in, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *Store) CountInteractionsByStatus(ctx context.Context, statuses ...store.InteractionStatus) (int, error) {
	list := make([]string, len(statuses))
	for i, st := range statuses {
		list[i] = string(st)
	}
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM interactions WHERE status = ANY($1)`, list).Scan(&n)
	return n, err
}

func (s *Store) SetInteractionBatchID(ctx context.Context, interactionHash string, batchID int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE interactions SET batch_id = $2 WHERE interaction_hash = $1`,
		interactionHash, batchID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- messages ---

func (s *Store) EnqueueMessage(ctx context.Context, m *store.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Status == "" {
		m.Status = store.MessageQueued
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, type, from_did, to_did, envelope, created_at,
			expires_at, status, retry_count, last_error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		m.ID, m.Type, m.FromDID, m.ToDID, string(m.Envelope), m.CreatedAt,
		m.ExpiresAt, m.Status, m.RetryCount, m.LastError)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *Store) PollMessages(ctx context.Context, toDID string) ([]*store.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, type, from_did, to_did, envelope, created_at, expires_at,
			status, delivered_at, retry_count, last_error
		FROM messages
		WHERE to_did = $1 AND status = 'queued'
		ORDER BY created_at
		FOR UPDATE`, toDID)
	if err != nil {
		return nil, err
	}

	var out []*store.Message
	var ids []string
	for rows.Next() {
		var m store.Message
		var env string
		if err := rows.Scan(&m.ID, &m.Type, &m.FromDID, &m.ToDID, &env, &m.CreatedAt,
			&m.ExpiresAt, &m.Status, &m.DeliveredAt, &m.RetryCount, &m.LastError); err != nil {
			rows.Close()
			return nil, err
		}
		m.Envelope = []byte(env)
		out = append(out, &m)
		ids = append(ids, m.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) > 0 {
		now := time.Now().UTC()
		if _, err := tx.Exec(ctx, `
			UPDATE messages SET status = 'delivered', delivered_at = $2
			WHERE id = ANY($1)`, ids, now); err != nil {
			return nil, err
		}
		for _, m := range out {
			m.Status = store.MessageDelivered
			t := now
			m.DeliveredAt = &t
		}
	}
	return out, tx.Commit(ctx)
}

func (s *Store) MarkMessageFailed(ctx context.Context, id, lastError string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET status = 'failed', last_error = $2,
			retry_count = retry_count + 1
		WHERE id = $1`, id, lastError)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteExpiredMessages(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE expires_at < $1`, now)
	return int(tag.RowsAffected()), err
}

// --- nonces ---

func (s *Store) InsertNonce(ctx context.Context, n *store.NonceRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO nonces (nonce, did, created_at, expires_at)
		VALUES ($1, $2, $3, $4)`,
		n.Nonce, n.DID, n.CreatedAt, n.ExpiresAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	return err
}

func (s *Store) DeleteExpiredNonces(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM nonces WHERE expires_at < $1`, now)
	return int(tag.RowsAffected()), err
}

// --- batches ---

func (s *Store) CreateBatch(ctx context.Context, b *store.Batch) error {
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now
	return s.pool.QueryRow(ctx, `
		INSERT INTO batches (merkle_root, interaction_count, tx_hash, status,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		b.MerkleRoot, b.InteractionCount, b.TxHash, b.Status, b.CreatedAt,
		b.UpdatedAt).Scan(&b.ID)
}

func (s *Store) GetBatch(ctx context.Context, id int64) (*store.Batch, error) {
	var b store.Batch
	err := s.pool.QueryRow(ctx, `
		SELECT id, merkle_root, interaction_count, tx_hash, status, created_at, updated_at
		FROM batches WHERE id = $1`, id).
		Scan(&b.ID, &b.MerkleRoot, &b.InteractionCount, &b.TxHash, &b.Status,
			&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &b, nil
}

func (s *Store) ListBatches(ctx context.Context, limit, offset int) ([]*store.Batch, error) {
	if limit <= 0 {
		limit = store.DefaultDiscoveryLimit
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, merkle_root, interaction_count, tx_hash, status, created_at, updated_at
		FROM batches ORDER BY id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Batch
	for rows.Next() {
		var b store.Batch
		if err := rows.Scan(&b.ID, &b.MerkleRoot, &b.InteractionCount, &b.TxHash,
			&b.Status, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

func (s *Store) UpdateBatch(ctx context.Context, id int64, status store.BatchStatus, txHash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE batches SET status = $2, tx_hash = $3, updated_at = now()
		WHERE id = $1`, id, status, txHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CountBatches(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM batches`).Scan(&n)
	return n, err
}

// --- proofs ---

func (s *Store) SaveProof(ctx context.Context, p *store.Proof) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO proofs (interaction_hash, batch_id, leaf_hash, siblings, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (interaction_hash) DO UPDATE
		SET batch_id = EXCLUDED.batch_id, leaf_hash = EXCLUDED.leaf_hash,
			siblings = EXCLUDED.siblings, created_at = EXCLUDED.created_at`,
		p.InteractionHash, p.BatchID, p.LeafHash, p.Siblings, p.CreatedAt)
	return err
}

func (s *Store) GetProof(ctx context.Context, interactionHash string) (*store.Proof, error) {
	var p store.Proof
	err := s.pool.QueryRow(ctx, `
		SELECT interaction_hash, batch_id, leaf_hash, siblings, created_at
		FROM proofs WHERE interaction_hash = $1`, interactionHash).
		Scan(&p.InteractionHash, &p.BatchID, &p.LeafHash, &p.Siblings, &p.CreatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &p, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
