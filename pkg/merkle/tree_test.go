package merkle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/caindex/pkg/types"
)

// TestBuildWorkedExample reproduces the tree over {"a", "b", "c"} exactly
// as worked through in the testable-properties scenario: sorted leaves,
// odd-level duplicate-last padding, root over the two level-1 nodes.
func TestBuildWorkedExample(t *testing.T) {
	tree := Build([]types.CID{"c", "a", "b"})

	assert.Equal(t, 3, tree.LeafCount())
	assert.Equal(t, []types.CID{"a", "b", "c"}, tree.SortedCIDs())
	assert.Equal(t, "d31a37ef6ac14a2db1470c4316beb5592e6afd4465022339adafda76a18ffabe", tree.Root())
}

func TestBuildRootIndependentOfInsertionOrder(t *testing.T) {
	a := Build([]types.CID{"x", "y", "z", "w"})
	b := Build([]types.CID{"w", "z", "y", "x"})

	assert.Equal(t, a.Root(), b.Root())
}

func TestBuildEmptySet(t *testing.T) {
	tree := Build(nil)

	assert.Equal(t, 0, tree.LeafCount())
	assert.NotEmpty(t, tree.Root())
}

func TestBuildSingleLeaf(t *testing.T) {
	tree := Build([]types.CID{"only"})

	assert.Equal(t, 1, tree.LeafCount())
	assert.Len(t, tree.Root(), 64)
}

// TestBuildDedupesRepeatedCIDs covers invariant 7 directly: a closure
// collected across several entries may reference the same CID more than
// once (a shared manifest component, say), and the tree must still
// depend only on the distinct set, not the multiset.
func TestBuildDedupesRepeatedCIDs(t *testing.T) {
	withDuplicates := Build([]types.CID{"a", "b", "a", "c", "b", "a"})
	distinctOnly := Build([]types.CID{"a", "b", "c"})

	assert.Equal(t, 3, withDuplicates.LeafCount())
	assert.Equal(t, distinctOnly.Root(), withDuplicates.Root())
	assert.Equal(t, []types.CID{"a", "b", "c"}, withDuplicates.SortedCIDs())
}
