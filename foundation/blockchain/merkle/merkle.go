// Package merkle computes merkle roots and inclusion proofs over the
// transaction hashes of a block.
package merkle

import (
	"crypto/sha256"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// Proof order markers. A proof hash with order Left is concatenated before
// the running hash, Right after it.
const (
	Left  int64 = 0
	Right int64 = 1
)

// ErrNotFound is returned when a proof is requested for an index outside
// of the set of leaves.
var ErrNotFound = errors.New("leaf not found in tree")

// Root returns the merkle root of the specified leaves. An empty set of
// leaves produces the zero hash. When a level has an odd number of nodes
// the last node is paired with itself.
func Root(leaves []common.Hash) common.Hash {
	if len(leaves) == 0 {
		return common.Hash{}
	}

	level := make([]common.Hash, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		level = nextLevel(level)
	}

	return level[0]
}

// Proof returns the set of hashes and the order of concatenating those
// hashes for proving the leaf at the specified index is in the tree.
//
// Process the leaf hash against the proof like this:
//
//	h = leaf
//	for i := range proof:
//	    if order[i] == Left:  h = sha256(proof[i] ‖ h)
//	    else:                 h = sha256(h ‖ proof[i])
//
// The calculated hash should match the merkle root.
func Proof(leaves []common.Hash, index int) ([]common.Hash, []int64, error) {
	if index < 0 || index >= len(leaves) {
		return nil, nil, ErrNotFound
	}

	level := make([]common.Hash, len(leaves))
	copy(level, leaves)

	var proof []common.Hash
	var order []int64

	for len(level) > 1 {
		sibling := index ^ 1
		if sibling >= len(level) {
			sibling = index
		}

		proof = append(proof, level[sibling])
		switch index % 2 {
		case 0:
			order = append(order, Right)
		default:
			order = append(order, Left)
		}

		level = nextLevel(level)
		index /= 2
	}

	return proof, order, nil
}

// VerifyProof recomputes the root from the leaf and proof and compares it
// with the specified root.
func VerifyProof(leaf common.Hash, proof []common.Hash, order []int64, root common.Hash) bool {
	if len(proof) != len(order) {
		return false
	}

	h := leaf
	for i := range proof {
		switch order[i] {
		case Left:
			h = hashPair(proof[i], h)
		case Right:
			h = hashPair(h, proof[i])
		default:
			return false
		}
	}

	return h == root
}

// =============================================================================

// nextLevel hashes the nodes of a level in pairs to produce the parent level.
func nextLevel(level []common.Hash) []common.Hash {
	parents := make([]common.Hash, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		right := i + 1
		if right == len(level) {
			right = i
		}
		parents = append(parents, hashPair(level[i], level[right]))
	}

	return parents
}

// hashPair returns sha256(left ‖ right).
func hashPair(left, right common.Hash) common.Hash {
	var buf [2 * common.HashLength]byte
	copy(buf[:common.HashLength], left[:])
	copy(buf[common.HashLength:], right[:])

	return sha256.Sum256(buf[:])
}
