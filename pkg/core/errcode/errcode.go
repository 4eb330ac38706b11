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

// Package errcode defines the protocol error taxonomy. Every invariant
// violation in the server surfaces as an *Error carrying a stable code;
// the HTTP layer maps codes to status lines and serializes the
// {error:{code,message,details}} body.
package errcode

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, wire-visible error identifier.
type Code string

// Identity.
const (
	DIDNotFound      Code = "DID_NOT_FOUND"
	DIDRevoked       Code = "DID_REVOKED"
	DIDDeactivated   Code = "DID_DEACTIVATED"
	InvalidDIDFormat Code = "INVALID_DID_FORMAT"
)

// Authentication.
const (
	InvalidSignature  Code = "INVALID_SIGNATURE"
	NonceReused       Code = "NONCE_REUSED"
	ClockSkew         Code = "CLOCK_SKEW"
	MalformedEnvelope Code = "MALFORMED_ENVELOPE"
)

// Authorization.
const (
	NotOwner  Code = "NOT_OWNER"
	WrongRole Code = "WRONG_ROLE"
)

// Registry.
const (
	AgentExists       Code = "AGENT_EXISTS"
	AgentNotFound     Code = "AGENT_NOT_FOUND"
	ProviderNotFound  Code = "PROVIDER_NOT_FOUND"
	RecipientNotFound Code = "RECIPIENT_NOT_FOUND"
)

// State machine.
const (
	InvalidTransition   Code = "INVALID_TRANSITION"
	InteractionNotFound Code = "INTERACTION_NOT_FOUND"
)

// Negotiation integrity.
const (
	OfferHashMismatch     Code = "OFFER_HASH_MISMATCH"
	InvalidFee            Code = "INVALID_FEE"
	InvalidTotal          Code = "INVALID_TOTAL"
	BudgetExceeded        Code = "BUDGET_EXCEEDED"
	AmountMismatch        Code = "AMOUNT_MISMATCH"
	MissingResultHash     Code = "MISSING_RESULT_HASH"
	MissingIdempotencyKey Code = "MISSING_IDEMPOTENCY_KEY"
)

// Resource limits.
const (
	ConnectionLimit Code = "CONNECTION_LIMIT"
	RateLimited     Code = "RATE_LIMITED"
)

// Internal.
const (
	BatchInconsistency Code = "BATCH_INCONSISTENCY"
	StoreError         Code = "STORE_ERROR"
)

var httpStatus = map[Code]int{
	DIDNotFound:      http.StatusNotFound,
	DIDRevoked:       http.StatusForbidden,
	DIDDeactivated:   http.StatusForbidden,
	InvalidDIDFormat: http.StatusBadRequest,

	InvalidSignature:  http.StatusUnauthorized,
	NonceReused:       http.StatusUnauthorized,
	ClockSkew:         http.StatusUnauthorized,
	MalformedEnvelope: http.StatusBadRequest,

	NotOwner:  http.StatusForbidden,
	WrongRole: http.StatusForbidden,

	AgentExists:       http.StatusConflict,
	AgentNotFound:     http.StatusNotFound,
	ProviderNotFound:  http.StatusNotFound,
	RecipientNotFound: http.StatusNotFound,

	InvalidTransition:   http.StatusBadRequest,
	InteractionNotFound: http.StatusNotFound,

	OfferHashMismatch:     http.StatusBadRequest,
	InvalidFee:            http.StatusBadRequest,
	InvalidTotal:          http.StatusBadRequest,
	BudgetExceeded:        http.StatusBadRequest,
	AmountMismatch:        http.StatusBadRequest,
	MissingResultHash:     http.StatusBadRequest,
	MissingIdempotencyKey: http.StatusBadRequest,

	ConnectionLimit: http.StatusTooManyRequests,
	RateLimited:     http.StatusTooManyRequests,

	BatchInconsistency: http.StatusInternalServerError,
	StoreError:         http.StatusInternalServerError,
}

// Error is a coded protocol error.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// New builds an *Error with a fixed message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an *Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetail attaches one detail entry and returns the error for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatus returns the status line the code maps to; unknown codes are
// treated as internal.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Is matches two coded errors by code, so errors.Is(err, errcode.New(c, ""))
// works regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// From extracts an *Error from err, or wraps err as STORE_ERROR.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: StoreError, Message: err.Error()}
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
