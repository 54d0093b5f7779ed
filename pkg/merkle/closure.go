package merkle

import (
	"context"

	"github.com/cuemby/caindex/pkg/storeclient"
	"github.com/cuemby/caindex/pkg/types"
)

// MaxVersionChainHops bounds a single entity's manifest-history walk
// (§4.6, §9): a safety cap against pathological or cyclic producers.
const MaxVersionChainHops = 100

// walkVersionChain walks a manifest's prev chain starting at tipCID,
// collecting the manifest CID and every components map value at each
// hop. It stops at MaxVersionChainHops, at a manifest CID it has already
// visited (its own seen-set breaks cyclic prev chains), or when a
// manifest cannot be fetched, whichever comes first; a fetch failure ends
// that entity's walk without failing the caller, since this data only
// enriches the proof.
func walkVersionChain(ctx context.Context, gw storeclient.Gateway, tipCID types.CID) []types.CID {
	var cids []types.CID
	seen := map[types.CID]bool{}

	current := tipCID
	for hop := 0; hop < MaxVersionChainHops && current != "" && !seen[current]; hop++ {
		seen[current] = true
		cids = append(cids, current)

		var manifest types.Manifest
		if err := gw.DagGet(ctx, current, &manifest); err != nil {
			break
		}
		for _, compCID := range manifest.Components {
			if compCID != "" {
				cids = append(cids, compCID)
			}
		}
		current = manifest.Prev
	}
	return cids
}

// CollectClosure walks the full closure of CIDs reachable from entries:
// each entry's chain_cid plus its complete manifest version history and
// every referenced component (§4.6 full collection).
func CollectClosure(ctx context.Context, gw storeclient.Gateway, entries []types.SnapshotEntry) []types.CID {
	var all []types.CID
	for _, e := range entries {
		if e.ChainCID != "" {
			all = append(all, e.ChainCID)
		}
		all = append(all, walkVersionChain(ctx, gw, e.TipCID)...)
	}
	return all
}

// CollectIncrementalClosure starts from a copy of prevAllCIDs and unions
// in fresh CIDs reachable only from the modified entries, since entries
// outside the modified set are unchanged by construction and contribute
// nothing new (§4.6 incremental collection). Cost scales with
// modifications, not total history.
func CollectIncrementalClosure(ctx context.Context, gw storeclient.Gateway, prevAllCIDs []types.CID, modified []types.SnapshotEntry) []types.CID {
	set := toSet(prevAllCIDs)
	for _, c := range CollectClosure(ctx, gw, modified) {
		set[c] = true
	}

	out := make([]types.CID, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}
