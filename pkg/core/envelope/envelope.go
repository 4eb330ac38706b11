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

// Package envelope defines the signed unit of agent communication. The
// signature covers the canonical JSON of every field except "signature",
// signed with the Ed25519 key of the "from" DID.
package envelope

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/x811-project/aeep/pkg/core/canonical"
	"github.com/x811-project/aeep/pkg/core/errcode"
	"github.com/x811-project/aeep/pkg/core/keys"
)

// Version is the protocol version stamped on every envelope.
const Version = "0.1.0"

// Kind enumerates the message types on the wire.
type Kind string

const (
	KindRequest       Kind = "x811/request"
	KindOffer         Kind = "x811/offer"
	KindAccept        Kind = "x811/accept"
	KindReject        Kind = "x811/reject"
	KindResult        Kind = "x811/result"
	KindVerify        Kind = "x811/verify"
	KindPayment       Kind = "x811/payment"
	KindPaymentFailed Kind = "x811/payment-failed"
	KindHeartbeat     Kind = "x811/heartbeat"
)

// Negotiation reports whether envelopes of this kind drive the
// negotiation engine.
func (k Kind) Negotiation() bool {
	switch k {
	case KindRequest, KindOffer, KindAccept, KindReject,
		KindResult, KindVerify, KindPayment, KindPaymentFailed:
		return true
	}
	return false
}

// Valid reports whether k is a known message type.
func (k Kind) Valid() bool {
	return k.Negotiation() || k == KindHeartbeat
}

// Envelope is the canonical signed message unit.
type Envelope struct {
	Version   string          `json:"version"`
	ID        string          `json:"id"`
	Type      Kind            `json:"type"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Created   string          `json:"created"`
	Expires   string          `json:"expires,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Nonce     string          `json:"nonce"`
	Signature string          `json:"signature,omitempty"`
}

// New builds an unsigned envelope with a time-sortable id, a fresh nonce
// and the current timestamp.
func New(kind Kind, from, to string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errcode.Newf(errcode.MalformedEnvelope, "payload: %v", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Version: Version,
		ID:      id.String(),
		Type:    kind,
		From:    from,
		To:      to,
		Created: time.Now().UTC().Format(time.RFC3339),
		Payload: raw,
		Nonce:   uuid.NewString(),
	}, nil
}

// Validate checks the required envelope shape.
func (e *Envelope) Validate() error {
	switch {
	case e == nil:
		return errcode.New(errcode.MalformedEnvelope, "envelope missing")
	case e.Version == "" || e.ID == "" || e.From == "" || e.To == "" ||
		e.Created == "" || e.Nonce == "" || len(e.Payload) == 0:
		return errcode.New(errcode.MalformedEnvelope, "envelope missing required fields")
	case !e.Type.Valid():
		return errcode.Newf(errcode.MalformedEnvelope, "unknown message type %q", e.Type)
	}
	if _, err := e.CreatedTime(); err != nil {
		return errcode.New(errcode.MalformedEnvelope, "created is not a valid timestamp")
	}
	return nil
}

// SigningBytes returns the canonical form of all fields except the
// signature. Both signer and verifier derive this locally.
func (e *Envelope) SigningBytes() ([]byte, error) {
	clone := *e
	clone.Signature = ""
	return canonical.Marshal(&clone)
}

// Sign signs the envelope in place, encoding the signature as base64url.
func (e *Envelope) Sign(priv ed25519.PrivateKey) error {
	msg, err := e.SigningBytes()
	if err != nil {
		return err
	}
	e.Signature = base64.RawURLEncoding.EncodeToString(keys.Sign(priv, msg))
	return nil
}

// VerifySignature re-canonicalizes the envelope and checks the signature
// against pub.
func (e *Envelope) VerifySignature(pub ed25519.PublicKey) error {
	if e.Signature == "" {
		return errcode.New(errcode.InvalidSignature, "envelope is unsigned")
	}
	sig, err := base64.RawURLEncoding.DecodeString(e.Signature)
	if err != nil {
		// Tolerate padded base64url from older clients.
		sig, err = base64.URLEncoding.DecodeString(e.Signature)
		if err != nil {
			return errcode.New(errcode.InvalidSignature, "signature is not base64url")
		}
	}
	msg, err := e.SigningBytes()
	if err != nil {
		return err
	}
	if !keys.Verify(pub, msg, sig) {
		return errcode.New(errcode.InvalidSignature, "signature verification failed")
	}
	return nil
}

// CanonicalHash is the SHA-256 of the full canonical envelope, signature
// included. It is the interaction hash of a request envelope.
func (e *Envelope) CanonicalHash() (string, error) {
	return canonical.HashHex(e)
}

// CreatedTime parses the created timestamp.
func (e *Envelope) CreatedTime() (time.Time, error) {
	return time.Parse(time.RFC3339, e.Created)
}

// ExpiresTime parses the optional expiry; ok is false when absent.
func (e *Envelope) ExpiresTime() (t time.Time, ok bool, err error) {
	if e.Expires == "" {
		return time.Time{}, false, nil
	}
	t, err = time.Parse(time.RFC3339, e.Expires)
	return t, err == nil, err
}

// DecodePayload unmarshals the payload into a typed struct.
func (e *Envelope) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return errcode.Newf(errcode.MalformedEnvelope, "payload decode: %v", err)
	}
	return nil
}
