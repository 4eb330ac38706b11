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

package keys

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Multicodec varint prefixes for the two key types a DID document carries.
var (
	multicodecEd25519Pub = []byte{0xed, 0x01}
	multicodecX25519Pub  = []byte{0xec, 0x01}
)

const multibaseBase58BTC = 'z'

var (
	ErrInvalidMultibase = errors.New("invalid multibase encoding")
	ErrWrongKeyCodec    = errors.New("unexpected multicodec prefix")
	ErrInvalidKeyPoint  = errors.New("public key is not a valid curve point")
)

// EncodeEd25519PublicKey encodes pub as multibase base58btc with the
// ed25519-pub multicodec prefix.
func EncodeEd25519PublicKey(pub ed25519.PublicKey) string {
	return encodeMultibase(multicodecEd25519Pub, pub)
}

// EncodeX25519PublicKey encodes pub as multibase base58btc with the
// x25519-pub multicodec prefix.
func EncodeX25519PublicKey(pub []byte) string {
	return encodeMultibase(multicodecX25519Pub, pub)
}

// DecodeEd25519PublicKey reverses EncodeEd25519PublicKey and rejects keys
// that are not valid points on the edwards curve.
func DecodeEd25519PublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := decodeMultibase(s, multicodecEd25519Pub)
	if err != nil {
		return nil, err
	}
	if len(raw) != Ed25519KeySize {
		return nil, ErrInvalidKeyLength
	}
	if _, err := new(edwards25519.Point).SetBytes(raw); err != nil {
		return nil, ErrInvalidKeyPoint
	}
	return ed25519.PublicKey(raw), nil
}

// DecodeX25519PublicKey reverses EncodeX25519PublicKey.
func DecodeX25519PublicKey(s string) ([]byte, error) {
	raw, err := decodeMultibase(s, multicodecX25519Pub)
	if err != nil {
		return nil, err
	}
	if len(raw) != 32 {
		return nil, ErrInvalidKeyLength
	}
	return raw, nil
}

func encodeMultibase(codec, raw []byte) string {
	buf := make([]byte, 0, len(codec)+len(raw))
	buf = append(buf, codec...)
	buf = append(buf, raw...)
	return string(multibaseBase58BTC) + base58.Encode(buf)
}

func decodeMultibase(s string, codec []byte) ([]byte, error) {
	if len(s) < 2 || s[0] != multibaseBase58BTC {
		return nil, ErrInvalidMultibase
	}
	buf, err := base58.Decode(s[1:])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMultibase, err)
	}
	if len(buf) < len(codec) {
		return nil, ErrWrongKeyCodec
	}
	for i := range codec {
		if buf[i] != codec[i] {
			return nil, ErrWrongKeyCodec
		}
	}
	return buf[len(codec):], nil
}
