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
	"fmt"
	"math/big"
	"sync"

	"github.com/x811-project/aeep/pkg/core/merkle"
)

// MockSubmission records one SubmitBatch call on the mock.
type MockSubmission struct {
	RootHex string
	Count   int
}

// Mock is an in-memory Relayer for tests and for running without a
// chain. Err, when set, fails every submission.
type Mock struct {
	mu          sync.Mutex
	submissions []MockSubmission
	Err         error
}

// NewMock builds an empty mock relayer.
func NewMock() *Mock {
	return &Mock{}
}

// SubmitBatch records the call and returns a synthetic tx hash.
func (m *Mock) SubmitBatch(_ context.Context, rootHex string, count int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	m.submissions = append(m.submissions, MockSubmission{RootHex: rootHex, Count: count})
	return fmt.Sprintf("0xmock%04d", len(m.submissions)), nil
}

// VerifyInclusion replays the proof locally.
func (m *Mock) VerifyInclusion(_ context.Context, rootHex, leafHex string, siblings []string) (bool, error) {
	return merkle.VerifyProof(leafHex, siblings, rootHex), nil
}

// Balance reports a fixed balance.
func (m *Mock) Balance(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000_000_000_000), nil
}

// Submissions returns a copy of the recorded calls.
func (m *Mock) Submissions() []MockSubmission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockSubmission(nil), m.submissions...)
}

// Fail makes subsequent submissions return err.
func (m *Mock) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}
