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

// Package keys holds the signing primitives of the protocol: Ed25519 for
// envelope signatures, X25519 for the key-agreement entry of a DID
// document, and the multibase codec both are published with.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// Ed25519KeySize is the raw public key length required by the pipeline.
const Ed25519KeySize = ed25519.PublicKeySize

// ErrInvalidKeyLength is returned when a decoded key is not 32 bytes.
var ErrInvalidKeyLength = errors.New("public key must be exactly 32 bytes")

// GenerateEd25519KeyPair mints a fresh signing keypair.
func GenerateEd25519KeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 keypair: %w", err)
	}
	return pub, priv, nil
}

// GenerateX25519KeyPair mints a key-agreement keypair. The private scalar
// is clamped by the curve operation itself.
func GenerateX25519KeyPair() (pub, priv []byte, err error) {
	priv = make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return nil, nil, fmt.Errorf("generate x25519 scalar: %w", err)
	}
	pub, err = curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, fmt.Errorf("derive x25519 public key: %w", err)
	}
	return pub, priv, nil
}

// Sign signs msg with an Ed25519 private key.
func Sign(priv ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(priv, msg)
}

// Verify reports whether sig is a valid Ed25519 signature of msg by pub.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != Ed25519KeySize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}
