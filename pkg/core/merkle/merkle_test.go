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

package merkle_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x811-project/aeep/pkg/core/merkle"
)

func TestEmptyTree(t *testing.T) {
	tree := merkle.New(nil)
	assert.Equal(t, "", tree.Root())

	_, err := tree.Proof("anything")
	require.Error(t, err)
}

func TestSingleLeaf(t *testing.T) {
	tree := merkle.New([]string{"hash-a"})
	root := tree.Root()
	require.NotEmpty(t, root)
	assert.Equal(t, merkle.LeafHash("hash-a"), root)

	proof, err := tree.Proof("hash-a")
	require.NoError(t, err)
	assert.Empty(t, proof)
	assert.True(t, merkle.VerifyProof(merkle.LeafHash("hash-a"), proof, root))
}

func TestRoundTrip_AllLeavesVerify(t *testing.T) {
	for _, n := range []int{2, 3, 4, 5, 7, 8, 100} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			inputs := make([]string, n)
			for i := range inputs {
				inputs[i] = fmt.Sprintf("interaction-%03d", i)
			}
			tree := merkle.New(inputs)
			root := tree.Root()
			require.NotEmpty(t, root)

			for _, in := range inputs {
				proof, err := tree.Proof(in)
				require.NoError(t, err)
				assert.True(t, merkle.VerifyProof(merkle.LeafHash(in), proof, root))
			}
		})
	}
}

func TestRootIndependentOfInputOrder(t *testing.T) {
	a := merkle.New([]string{"x", "y", "z"})
	b := merkle.New([]string{"z", "x", "y"})
	assert.Equal(t, a.Root(), b.Root())
}

func TestTamperedProofFails(t *testing.T) {
	inputs := []string{"a", "b", "c", "d", "e"}
	tree := merkle.New(inputs)
	root := tree.Root()

	proof, err := tree.Proof("c")
	require.NoError(t, err)
	require.NotEmpty(t, proof)

	assert.False(t, merkle.VerifyProof(merkle.LeafHash("x"), proof, root), "wrong leaf")

	bad := append([]string(nil), proof...)
	bad[0] = merkle.LeafHash("forged")
	assert.False(t, merkle.VerifyProof(merkle.LeafHash("c"), bad, root), "forged sibling")

	assert.False(t, merkle.VerifyProof(merkle.LeafHash("c"), proof, merkle.LeafHash("other")), "wrong root")
	assert.False(t, merkle.VerifyProof(merkle.LeafHash("c"), proof, ""), "empty root")
}

func TestProofUnknownInput(t *testing.T) {
	tree := merkle.New([]string{"a", "b"})
	_, err := tree.Proof("missing")
	require.Error(t, err)
}
