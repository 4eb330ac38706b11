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

package relayer

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/x811-project/aeep/pkg/core/merkle"
)

// anchorABI is the minimal surface of the anchoring contract.
const anchorABI = `[{"type":"function","name":"submitBatch","stateMutability":"nonpayable","inputs":[{"name":"root","type":"bytes32"},{"name":"count","type":"uint256"}],"outputs":[]}]`

// DefaultSubmitTimeout bounds one submission round trip.
const DefaultSubmitTimeout = 30 * time.Second

// Eth submits batch roots to the anchoring contract over JSON-RPC.
type Eth struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	opts     *bind.TransactOpts
	from     common.Address
	timeout  time.Duration
}

// NewEth connects to the chain and binds the anchoring contract.
// privKeyHex is the submitting account's key without the 0x prefix.
func NewEth(ctx context.Context, rpcURL, contractAddr, privKeyHex string, chainID *big.Int) (*Eth, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("relayer: dial %s: %w", rpcURL, err)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("relayer: private key: %w", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("relayer: transactor: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(anchorABI))
	if err != nil {
		return nil, fmt.Errorf("relayer: abi: %w", err)
	}
	addr := common.HexToAddress(contractAddr)
	return &Eth{
		client:   client,
		contract: bind.NewBoundContract(addr, parsed, client, client, client),
		opts:     opts,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		timeout:  DefaultSubmitTimeout,
	}, nil
}

// WithTimeout overrides the per-submission timeout.
func (e *Eth) WithTimeout(d time.Duration) *Eth {
	e.timeout = d
	return e
}

// SubmitBatch sends submitBatch(root, count) and returns the tx hash.
func (e *Eth) SubmitBatch(ctx context.Context, rootHex string, count int) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(rootHex, "0x"))
	if err != nil || len(raw) != 32 {
		return "", fmt.Errorf("relayer: root %q is not a 32-byte hex string", rootHex)
	}
	var root [32]byte
	copy(root[:], raw)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	opts := *e.opts
	opts.Context = ctx
	tx, err := e.contract.Transact(&opts, "submitBatch", root, big.NewInt(int64(count)))
	if err != nil {
		return "", fmt.Errorf("relayer: submitBatch: %w", err)
	}
	return tx.Hash().Hex(), nil
}

// VerifyInclusion replays the proof locally; the anchored root is the
// only chain-side fact needed.
func (e *Eth) VerifyInclusion(_ context.Context, rootHex, leafHex string, siblings []string) (bool, error) {
	return merkle.VerifyProof(leafHex, siblings, rootHex), nil
}

// Balance reports the submitting account's balance in wei.
func (e *Eth) Balance(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.client.BalanceAt(ctx, e.from, nil)
}
