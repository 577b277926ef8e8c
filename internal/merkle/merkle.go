// Package merkle builds coinbase-first transaction merkle trees. The tree keeps
// only the sibling hash of the leftmost path at each level, which is all that
// is needed to recompute the root when the coinbase changes per worker.
package merkle

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// levelPool reuses level slices across template rebuilds.
var levelPool = sync.Pool{
	New: func() any {
		s := make([]chainhash.Hash, 0, 4096)
		return &s
	},
}

// Tree is the result of Build.
type Tree struct {
	Root  chainhash.Hash
	Steps []chainhash.Hash
}

// Join returns double-SHA256(left || right).
func Join(left, right chainhash.Hash) chainhash.Hash {
	var buf [chainhash.HashSize * 2]byte
	copy(buf[:chainhash.HashSize], left[:])
	copy(buf[chainhash.HashSize:], right[:])
	return chainhash.DoubleHashH(buf[:])
}

// Build computes the merkle root and steps of leaves. leaves[0] is the
// coinbase hash; all hashes are in internal byte order. An empty input
// yields the zero tree.
func Build(leaves []chainhash.Hash) Tree {
	if len(leaves) == 0 {
		return Tree{}
	}
	steps := Steps(leaves[1:])
	return Tree{
		Root:  WithFirst(steps, leaves[0]),
		Steps: steps,
	}
}

// Steps computes the left-path siblings for a tree whose first leaf is not
// known yet. txs holds every leaf except the first.
func Steps(txs []chainhash.Hash) []chainhash.Hash {
	if len(txs) == 0 {
		return nil
	}

	lp := levelPool.Get().(*[]chainhash.Hash)
	level := append((*lp)[:0], chainhash.Hash{})
	level = append(level, txs...)

	var steps []chainhash.Hash
	for len(level) > 1 {
		steps = append(steps, level[1])
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		// level[0] stays a placeholder for the unknown left path; pairs from
		// index 2 onward are folded in place.
		next := 1
		for i := 2; i < len(level); i += 2 {
			level[next] = Join(level[i], level[i+1])
			next++
		}
		level = level[:next]
	}

	*lp = level
	levelPool.Put(lp)
	return steps
}

// WithFirst recomputes the root for a new first leaf. With no steps the leaf
// is its own root.
func WithFirst(steps []chainhash.Hash, first chainhash.Hash) chainhash.Hash {
	acc := first
	for _, s := range steps {
		acc = Join(acc, s)
	}
	return acc
}

// WithFirst recomputes the tree's root for a new first leaf.
func (t Tree) WithFirst(first chainhash.Hash) chainhash.Hash {
	return WithFirst(t.Steps, first)
}
