package merkle

import "github.com/cuemby/caindex/pkg/types"

// Consistency compares a snapshot's CID closure against its predecessor's
// and reports whether the append-only invariant held. It never returns an
// error: a violation is recorded in the result, not thrown (§7, Kind
// Violation — surfaced loudly, doesn't abort the snapshot).
func Consistency(prevAllCIDs, currAllCIDs []types.CID) *types.Consistency {
	prevSet := toSet(prevAllCIDs)
	currSet := toSet(currAllCIDs)

	added := 0
	for c := range currSet {
		if !prevSet[c] {
			added++
		}
	}
	deleted := 0
	for c := range prevSet {
		if !currSet[c] {
			deleted++
		}
	}

	return &types.Consistency{
		PrevCIDCount: len(prevSet),
		CurrCIDCount: len(currSet),
		AddedCount:   added,
		DeletedCount: deleted,
		IsAppendOnly: deleted == 0,
	}
}

func toSet(cids []types.CID) map[types.CID]bool {
	set := make(map[types.CID]bool, len(cids))
	for _, c := range cids {
		set[c] = true
	}
	return set
}
