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

package keys_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x811-project/aeep/pkg/core/keys"
)

func TestSignVerify_RoundTrip(t *testing.T) {
	pub, priv, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)

	msg := []byte("canonical bytes under signature")
	sig := keys.Sign(priv, msg)
	assert.True(t, keys.Verify(pub, msg, sig))

	otherPub, _, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	assert.False(t, keys.Verify(otherPub, msg, sig), "unrelated key must not verify")
	assert.False(t, keys.Verify(pub, append(msg, 'x'), sig), "tampered message must not verify")
}

func TestMultibase_Ed25519RoundTrip(t *testing.T) {
	pub, _, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)

	enc := keys.EncodeEd25519PublicKey(pub)
	assert.True(t, strings.HasPrefix(enc, "z"))

	dec, err := keys.DecodeEd25519PublicKey(enc)
	require.NoError(t, err)
	assert.Equal(t, []byte(pub), []byte(dec))
}

func TestMultibase_X25519RoundTrip(t *testing.T) {
	pub, priv, err := keys.GenerateX25519KeyPair()
	require.NoError(t, err)
	assert.Len(t, pub, 32)
	assert.Len(t, priv, 32)

	enc := keys.EncodeX25519PublicKey(pub)
	dec, err := keys.DecodeX25519PublicKey(enc)
	require.NoError(t, err)
	assert.Equal(t, pub, dec)
}

func TestMultibase_RejectsWrongCodec(t *testing.T) {
	pub, _, err := keys.GenerateX25519KeyPair()
	require.NoError(t, err)

	enc := keys.EncodeX25519PublicKey(pub)
	_, err = keys.DecodeEd25519PublicKey(enc)
	require.ErrorIs(t, err, keys.ErrWrongKeyCodec)
}

func TestMultibase_RejectsGarbage(t *testing.T) {
	_, err := keys.DecodeEd25519PublicKey("")
	require.Error(t, err)

	_, err = keys.DecodeEd25519PublicKey("mnot-base58btc")
	require.ErrorIs(t, err, keys.ErrInvalidMultibase)

	_, err = keys.DecodeEd25519PublicKey("z0OIl")
	require.Error(t, err)
}
