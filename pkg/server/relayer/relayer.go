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

// Package relayer anchors Merkle roots on chain. The batching service
// only sees the Relayer interface; the Ethereum client behind it is
// swappable for a mock in tests and for a no-op when anchoring is
// disabled.
package relayer

import (
	"context"
	"math/big"
)

// Relayer submits batch roots and answers inclusion queries.
type Relayer interface {
	// SubmitBatch anchors a hex-encoded Merkle root covering count
	// interactions and returns the transaction hash.
	SubmitBatch(ctx context.Context, rootHex string, count int) (txHash string, err error)
	// VerifyInclusion checks a leaf against an anchored root using the
	// ordered sibling path.
	VerifyInclusion(ctx context.Context, rootHex, leafHex string, siblings []string) (bool, error)
	// Balance reports the submitting account's balance in wei.
	Balance(ctx context.Context) (*big.Int, error)
}
