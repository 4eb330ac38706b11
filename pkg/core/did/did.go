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

// Package did models decentralized identifiers and their documents. A DID
// names exactly one agent; its document lists one Ed25519 verification key
// and one X25519 key-agreement key, both multibase-encoded.
package did

import (
	"crypto/ed25519"
	"strings"

	"github.com/x811-project/aeep/pkg/core/errcode"
	"github.com/x811-project/aeep/pkg/core/keys"
)

const (
	typeEd25519Verification = "Ed25519VerificationKey2020"
	typeX25519KeyAgreement  = "X25519KeyAgreementKey2020"
)

// Parse splits a `did:<method>:<id>` string. The id suffix is the agent's
// primary key in the store.
func Parse(s string) (method, id string, err error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] != "did" || parts[1] == "" || parts[2] == "" {
		return "", "", errcode.Newf(errcode.InvalidDIDFormat, "not a valid DID: %q", s)
	}
	return parts[1], parts[2], nil
}

// AgentID returns the id suffix of a DID, or "" when malformed.
func AgentID(s string) string {
	_, id, err := Parse(s)
	if err != nil {
		return ""
	}
	return id
}

// VerificationMethod is one key entry of a DID document.
type VerificationMethod struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Controller         string `json:"controller"`
	PublicKeyMultibase string `json:"publicKeyMultibase"`
}

// Document is the public key material published for a DID.
type Document struct {
	Context            []string             `json:"@context,omitempty"`
	ID                 string               `json:"id"`
	VerificationMethod []VerificationMethod `json:"verificationMethod"`
	KeyAgreement       []VerificationMethod `json:"keyAgreement,omitempty"`
	Authentication     []string             `json:"authentication,omitempty"`
}

// NewDocument builds the standard two-key document for a DID.
func NewDocument(didStr string, edPub ed25519.PublicKey, xPub []byte) *Document {
	vmID := didStr + "#key-1"
	kaID := didStr + "#key-agreement-1"
	doc := &Document{
		Context: []string{"https://www.w3.org/ns/did/v1", "https://w3id.org/security/suites/ed25519-2020/v1"},
		ID:      didStr,
		VerificationMethod: []VerificationMethod{{
			ID:                 vmID,
			Type:               typeEd25519Verification,
			Controller:         didStr,
			PublicKeyMultibase: keys.EncodeEd25519PublicKey(edPub),
		}},
		Authentication: []string{vmID},
	}
	if len(xPub) > 0 {
		doc.KeyAgreement = []VerificationMethod{{
			ID:                 kaID,
			Type:               typeX25519KeyAgreement,
			Controller:         didStr,
			PublicKeyMultibase: keys.EncodeX25519PublicKey(xPub),
		}}
	}
	return doc
}

// Ed25519Key decodes the document's verification key. Decoding strips the
// multibase prefix and the multicodec tag and validates the curve point.
func (d *Document) Ed25519Key() (ed25519.PublicKey, error) {
	for _, vm := range d.VerificationMethod {
		if vm.Type != typeEd25519Verification || vm.PublicKeyMultibase == "" {
			continue
		}
		pub, err := keys.DecodeEd25519PublicKey(vm.PublicKeyMultibase)
		if err != nil {
			return nil, errcode.Newf(errcode.InvalidSignature, "verification key: %v", err)
		}
		return pub, nil
	}
	return nil, errcode.New(errcode.InvalidSignature, "no Ed25519 verification key in DID document")
}
