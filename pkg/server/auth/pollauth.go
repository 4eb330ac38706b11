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

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/x811-project/aeep/pkg/core/did"
	"github.com/x811-project/aeep/pkg/core/errcode"
	"github.com/x811-project/aeep/pkg/server/store"
)

// VerifyPollAccess is the lightweight check for poll and stream
// endpoints: the agent must exist and the caller must prove the agent's
// DID, either by echoing it in the did query parameter or by presenting
// an EdDSA JWT whose subject is the DID, signed with the agent's
// registered verification key.
func (v *Verifier) VerifyPollAccess(ctx context.Context, agentID, didParam, bearer string) (*store.Agent, error) {
	agent, err := v.store.GetAgent(ctx, agentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errcode.Newf(errcode.AgentNotFound, "agent %s is not registered", agentID)
	}
	if err != nil {
		return nil, err
	}

	if bearer != "" {
		if err := v.verifyBearer(agent, bearer); err != nil {
			return nil, err
		}
		return agent, nil
	}

	if didParam == "" || didParam != agent.DID {
		return nil, errcode.Newf(errcode.NotOwner, "did parameter does not match agent %s", agentID)
	}
	return agent, nil
}

func (v *Verifier) verifyBearer(agent *store.Agent, bearer string) error {
	var doc did.Document
	if err := json.Unmarshal(agent.DIDDocument, &doc); err != nil {
		return errcode.New(errcode.InvalidSignature, "stored DID document is unreadable")
	}
	pub, err := doc.Ed25519Key()
	if err != nil {
		return err
	}

	token, err := jwt.Parse(bearer, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return pub, nil
	}, jwt.WithValidMethods([]string{"EdDSA"}))
	if err != nil || !token.Valid {
		return errcode.New(errcode.InvalidSignature, "bearer token verification failed")
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub != agent.DID {
		return errcode.Newf(errcode.NotOwner, "token subject does not match agent %s", agent.ID)
	}
	return nil
}
