// Package merkle computes the append-only proof that accompanies each
// snapshot: a deterministic binary hash tree over the closure of CIDs
// reachable from the snapshot's live entries, plus the cross-snapshot
// non-deletion check.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/cuemby/caindex/pkg/types"
)

// Tree is a binary SHA-256 hash tree over a sorted set of CIDs.
type Tree struct {
	sortedCIDs []types.CID
	levels     [][][]byte
}

// Build constructs the tree over cids. Duplicates are collapsed before
// hashing and the leaf order is the sorted CID order, so the resulting
// root depends only on the CID set, never on multiplicity or the order
// cids were collected in.
func Build(cids []types.CID) *Tree {
	seen := make(map[types.CID]bool, len(cids))
	sorted := make([]types.CID, 0, len(cids))
	for _, c := range cids {
		if !seen[c] {
			seen[c] = true
			sorted = append(sorted, c)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	if len(sorted) == 0 {
		empty := sha256.Sum256(nil)
		return &Tree{sortedCIDs: sorted, levels: [][][]byte{{empty[:]}}}
	}

	leaves := make([][]byte, len(sorted))
	for i, c := range sorted {
		h := sha256.Sum256([]byte(c))
		leaves[i] = h[:]
	}

	levels := [][][]byte{leaves}
	current := leaves
	for len(current) > 1 {
		next := make([][]byte, 0, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			left := current[i]
			right := left
			if i+1 < len(current) {
				right = current[i+1]
			}
			h := sha256.Sum256(append(append([]byte(nil), left...), right...))
			next = append(next, h[:])
		}
		levels = append(levels, next)
		current = next
	}

	return &Tree{sortedCIDs: sorted, levels: levels}
}

// Root returns the tree's root as a 64-character hex digest.
func (t *Tree) Root() string {
	top := t.levels[len(t.levels)-1][0]
	return hex.EncodeToString(top)
}

// LeafCount returns the number of distinct CIDs the tree was built over.
func (t *Tree) LeafCount() int {
	return len(t.sortedCIDs)
}

// SortedCIDs returns the sorted CID list the tree was built over, for
// persisting as the snapshot's all_cids baseline.
func (t *Tree) SortedCIDs() []types.CID {
	return t.sortedCIDs
}
