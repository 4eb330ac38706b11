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

// Package merkle builds the sorted-leaf binary tree anchored on-chain.
// Leaves are the SHA-256 of each input hash, sorted lexicographically;
// every pair is hashed as min(L,R) || max(L,R), so proofs need no
// left/right direction flags. An odd layer pairs its last node with
// itself.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// Tree is an immutable merkle tree over a set of input hashes.
type Tree struct {
	inputs []string
	layers [][]string
}

// New builds a tree from input hashes (hex strings). An empty input set
// yields a tree whose root is the empty string.
func New(inputs []string) *Tree {
	t := &Tree{inputs: append([]string(nil), inputs...)}
	if len(inputs) == 0 {
		return t
	}

	leaves := make([]string, len(inputs))
	for i, in := range inputs {
		leaves[i] = hashHex(in)
	}
	sort.Strings(leaves)

	t.layers = append(t.layers, leaves)
	for len(t.layers[len(t.layers)-1]) > 1 {
		cur := t.layers[len(t.layers)-1]
		next := make([]string, 0, (len(cur)+1)/2)
		for i := 0; i < len(cur); i += 2 {
			left := cur[i]
			right := left
			if i+1 < len(cur) {
				right = cur[i+1]
			}
			next = append(next, hashPair(left, right))
		}
		t.layers = append(t.layers, next)
	}
	return t
}

// Root returns the hex root, or "" for the empty tree.
func (t *Tree) Root() string {
	if len(t.layers) == 0 {
		return ""
	}
	return t.layers[len(t.layers)-1][0]
}

// LeafHash returns the leaf derived from one input hash.
func LeafHash(input string) string {
	return hashHex(input)
}

// Proof returns the ordered sibling path for input, from the leaf layer
// up to but excluding the root.
func (t *Tree) Proof(input string) ([]string, error) {
	if len(t.layers) == 0 {
		return nil, fmt.Errorf("merkle: empty tree")
	}
	leaf := hashHex(input)
	idx := -1
	for i, l := range t.layers[0] {
		if l == leaf {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("merkle: input not in tree")
	}

	proof := make([]string, 0, len(t.layers)-1)
	for _, layer := range t.layers[:len(t.layers)-1] {
		sibling := idx ^ 1
		if sibling >= len(layer) {
			sibling = idx // odd layer, node paired with itself
		}
		proof = append(proof, layer[sibling])
		idx /= 2
	}
	return proof, nil
}

// VerifyProof replays a sibling path and reports whether it reconstructs
// root from leaf. A single-leaf tree has an empty proof and verifies when
// leaf equals root.
func VerifyProof(leaf string, proof []string, root string) bool {
	if root == "" {
		return false
	}
	cur := leaf
	for _, sibling := range proof {
		cur = hashPair(cur, sibling)
	}
	return cur == root
}

func hashPair(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return hashHex(a + b)
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
