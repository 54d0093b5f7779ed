// Package snapshot walks the event chain into a materialized, verifiable
// image of the current entity set: the incremental snapshot builder and
// the file-system lock that keeps at most one build running at a time.
package snapshot

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/caindex/pkg/errs"
	"github.com/cuemby/caindex/pkg/log"
	"github.com/cuemby/caindex/pkg/merkle"
	"github.com/cuemby/caindex/pkg/pointer"
	"github.com/cuemby/caindex/pkg/storeclient"
	"github.com/cuemby/caindex/pkg/types"
)

// maxVersionHops is not referenced by the builder: per-entity manifest
// walks are bounded by merkle.MaxVersionChainHops, and event-chain cycles
// are broken by the seen-event sets in buildFull and buildIncremental.
const maxVersionHops = 100

// mode selects how Build materializes the snapshot (§4.5 mode selection).
type mode int

const (
	modeNoOp mode = iota
	modeFull
	modeIncremental
)

func selectMode(p types.Pointer) mode {
	if p.LatestSnapshotCID != "" && p.SnapshotEventCID != "" {
		if p.SnapshotEventCID == p.EventHead {
			return modeNoOp
		}
		return modeIncremental
	}
	return modeFull
}

// Builder produces new snapshot documents from the current event chain
// and atomically replaces the index pointer's snapshot stanza.
type Builder struct {
	gw       storeclient.Gateway
	ptr      *pointer.Store
	lockPath string
	log      zerolog.Logger
}

// New returns a Builder writing through gw, reading/writing the pointer
// via ptr, and guarding concurrent builds with a lock file at lockPath.
func New(gw storeclient.Gateway, ptr *pointer.Store, lockPath string) *Builder {
	return &Builder{gw: gw, ptr: ptr, lockPath: lockPath, log: log.WithComponent("snapshot")}
}

// Build runs one snapshot cycle. It returns (nil, nil) if the pointer's
// snapshot is already current with event_head (no-op mode, §4.5).
func (b *Builder) Build(ctx context.Context) (*types.Snapshot, error) {
	lock := NewLock(b.lockPath)
	if err := lock.Acquire(); err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			b.log.Warn().Err(err).Msg("failed to release snapshot lock")
		}
	}()

	p, err := b.ptr.Read(ctx)
	if err != nil {
		return nil, err
	}
	if p.EventHead == "" {
		return nil, errs.Fatalf("snapshot build refused: event chain is empty")
	}

	m := selectMode(p)
	if m == modeNoOp {
		b.log.Info().Msg("snapshot already current with event_head, nothing to do")
		return nil, nil
	}

	eventHeadAtStart := p.EventHead
	start := time.Now()

	var entries []types.SnapshotEntry
	var allCIDs []types.CID
	var consistency *types.Consistency
	prevSnapshotCID := p.LatestSnapshotCID

	switch m {
	case modeFull:
		entries, err = b.buildFull(ctx, eventHeadAtStart)
		if err != nil {
			return nil, err
		}
		allCIDs = merkle.CollectClosure(ctx, b.gw, entries)

	case modeIncremental:
		var prevSnap types.Snapshot
		if err := b.gw.DagGet(ctx, p.LatestSnapshotCID, &prevSnap); err != nil {
			return nil, errs.Wrap(errs.KindTransient, err, "load previous snapshot %s", p.LatestSnapshotCID)
		}

		var modified []types.SnapshotEntry
		entries, modified, err = b.buildIncremental(ctx, p, &prevSnap)
		if err != nil {
			return nil, err
		}

		allCIDs = merkle.CollectIncrementalClosure(ctx, b.gw, prevSnap.AllCIDs, modified)
		consistency = merkle.Consistency(prevSnap.AllCIDs, allCIDs)
		if !consistency.IsAppendOnly {
			b.log.Error().
				Str("prev_snapshot", string(prevSnapshotCID)).
				Int("deleted_count", consistency.DeletedCount).
				Msg("append-only consistency violation detected")
		}
	}

	tree := merkle.Build(allCIDs)

	snap := types.Snapshot{
		Schema:       types.SnapshotSchema,
		Seq:          p.SnapshotSeq + 1,
		TS:           nowRFC3339(),
		EventCID:     eventHeadAtStart,
		PrevSnapshot: prevSnapshotCID,
		TotalCount:   len(entries),
		Entries:      entries,
		MerkleRoot:   tree.Root(),
		CIDCount:     tree.LeafCount(),
		AllCIDs:      tree.SortedCIDs(),
		Consistency:  consistency,
	}

	cid, err := b.gw.DagPut(ctx, snap, storeclient.CodecJSON)
	if err != nil {
		return nil, err
	}

	p2, err := b.ptr.Read(ctx)
	if err != nil {
		return &snap, errs.Transientf("snapshot %s stored but pointer re-read failed: %v", cid, err)
	}
	p2.LatestSnapshotCID = cid
	p2.SnapshotEventCID = eventHeadAtStart
	p2.SnapshotSeq = snap.Seq
	p2.SnapshotCount = len(entries)
	p2.TotalCount = len(entries)
	p2.SnapshotTS = snap.TS

	if err := b.ptr.Write(ctx, p2); err != nil {
		return &snap, errs.Transientf("snapshot %s stored but pointer write failed: %v", cid, err)
	}

	b.log.Info().
		Str("mode", modeLabel(m)).
		Int("seq", snap.Seq).
		Int("entries", len(entries)).
		Int("cid_count", snap.CIDCount).
		Str("merkle_root", snap.MerkleRoot).
		Dur("duration", time.Since(start)).
		Msg("snapshot build complete")

	return &snap, nil
}

func modeLabel(m mode) string {
	switch m {
	case modeFull:
		return "full"
	case modeIncremental:
		return "incremental"
	default:
		return "noop"
	}
}

// buildFull walks the whole event chain from eventHead back to genesis,
// keeping only the first (newest) event seen for each PI (§4.5 full
// build + tie-break rule), then reverses to chronological order.
func (b *Builder) buildFull(ctx context.Context, eventHead types.CID) ([]types.SnapshotEntry, error) {
	seenPI := map[types.PI]bool{}
	seenEvent := map[types.CID]bool{}

	var entries []types.SnapshotEntry
	cur := eventHead
	for cur != "" {
		if seenEvent[cur] {
			b.log.Warn().Str("event_cid", string(cur)).Msg("event chain cycle detected, stopping walk")
			break
		}
		seenEvent[cur] = true

		var ev types.Event
		if err := b.gw.DagGet(ctx, cur, &ev); err != nil {
			b.log.Warn().Err(err).Str("event_cid", string(cur)).Msg("failed to fetch event, stopping walk")
			break
		}

		if ev.PI == "" {
			cur = ev.Prev
			continue
		}

		if !seenPI[ev.PI] {
			seenPI[ev.PI] = true
			if entry, ok := b.buildEntry(ctx, ev, cur); ok {
				entries = append(entries, entry)
			}
		}

		cur = ev.Prev
	}

	reverseEntries(entries)
	return entries, nil
}

// buildIncremental walks only the delta between event_head and the
// pointer's snapshot_event_cid, recomputing entries for touched PIs and
// leaving everything else as inherited from the previous snapshot
// (§4.5 incremental build).
func (b *Builder) buildIncremental(ctx context.Context, p types.Pointer, prevSnap *types.Snapshot) ([]types.SnapshotEntry, []types.SnapshotEntry, error) {
	byPI := make(map[types.PI]types.SnapshotEntry, len(prevSnap.Entries))
	for _, e := range prevSnap.Entries {
		byPI[e.PI] = e
	}

	touchedThisWalk := map[types.PI]bool{}
	seenEvent := map[types.CID]bool{}
	var modified []types.SnapshotEntry

	cur := p.EventHead
	for cur != "" && cur != p.SnapshotEventCID {
		if seenEvent[cur] {
			b.log.Warn().Str("event_cid", string(cur)).Msg("event chain cycle detected, stopping delta walk")
			break
		}
		seenEvent[cur] = true

		var ev types.Event
		if err := b.gw.DagGet(ctx, cur, &ev); err != nil {
			b.log.Warn().Err(err).Str("event_cid", string(cur)).Msg("failed to fetch event, stopping delta walk")
			break
		}

		if ev.PI == "" || touchedThisWalk[ev.PI] {
			cur = ev.Prev
			continue
		}
		touchedThisWalk[ev.PI] = true

		if entry, ok := b.buildEntry(ctx, ev, cur); ok {
			byPI[ev.PI] = entry
			modified = append(modified, entry)
		}

		cur = ev.Prev
	}

	entries := make([]types.SnapshotEntry, 0, len(byPI))
	for _, e := range byPI {
		entries = append(entries, e)
	}
	// Chronological order, since map hydration loses walk order.
	sort.Slice(entries, func(i, j int) bool { return entries[i].TS < entries[j].TS })

	return entries, modified, nil
}

// buildEntry materializes one snapshot entry from an event: read the
// entity's tip file, then its manifest for the version number. A
// tip-read failure skips the PI entirely; a manifest-fetch failure
// still emits the entry with ver=0 (§4.5 edge cases).
func (b *Builder) buildEntry(ctx context.Context, ev types.Event, eventCID types.CID) (types.SnapshotEntry, bool) {
	tipData, err := b.gw.FilesRead(ctx, tipPath(ev.PI))
	if err != nil {
		b.log.Warn().Err(err).Str("pi", string(ev.PI)).Msg("tip read failed, skipping PI")
		return types.SnapshotEntry{}, false
	}
	tipCID := types.CID(strings.TrimSpace(string(tipData)))

	ver := 0
	var manifest types.Manifest
	if err := b.gw.DagGet(ctx, tipCID, &manifest); err != nil {
		b.log.Warn().Err(err).Str("pi", string(ev.PI)).Msg("manifest fetch failed, emitting placeholder ver=0")
	} else {
		ver = manifest.Ver
	}

	return types.SnapshotEntry{
		PI:       ev.PI,
		Ver:      ver,
		TipCID:   tipCID,
		TS:       ev.TS,
		ChainCID: eventCID,
	}, true
}

// tipPath returns the store-mutable-namespace path of pi's tip file.
func tipPath(pi types.PI) string {
	return "index/" + pi.TipPath()
}

func reverseEntries(e []types.SnapshotEntry) {
	for i, j := 0, len(e)-1; i < j; i, j = i+1, j-1 {
		e[i], e[j] = e[j], e[i]
	}
}

func nowRFC3339() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
