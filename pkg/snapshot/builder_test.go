package snapshot

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/caindex/pkg/errs"
	"github.com/cuemby/caindex/pkg/eventlog"
	"github.com/cuemby/caindex/pkg/pointer"
	"github.com/cuemby/caindex/pkg/storeclient"
	"github.com/cuemby/caindex/pkg/types"
)

type testHarness struct {
	gw      storeclient.Gateway
	ptr     *pointer.Store
	chain   *eventlog.Chain
	builder *Builder
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	gw, err := storeclient.NewBoltGateway(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })

	ptr := pointer.New(gw, "index/index-pointer")
	chain := eventlog.New(gw, ptr)
	builder := New(gw, ptr, filepath.Join(t.TempDir(), "snapshot.lock"))

	return &testHarness{gw: gw, ptr: ptr, chain: chain, builder: builder}
}

func (h *testHarness) putTip(t *testing.T, pi types.PI, tipCID types.CID) {
	t.Helper()
	require.NoError(t, h.gw.FilesWrite(context.Background(), "index/"+pi.TipPath(), []byte(tipCID), true, true, true))
}

func TestBuildRefusesEmptyChain(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.builder.Build(context.Background())
	assert.True(t, errs.Is(err, errs.KindFatal))
}

// TestBuildFullMatchesScenario mirrors concrete scenario 2/3: three PIs
// each with a create, two of them updated afterward, so a full build
// materializes exactly three entries, one per PI, each carrying its
// latest version's tip.
func TestBuildFullMatchesScenario(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	h.putTip(t, "AAAA", "mA1")
	_, err := h.chain.Append(ctx, types.EventCreate, "AAAA", 1, "mA1")
	require.NoError(t, err)

	h.putTip(t, "BBBB", "mB1")
	_, err = h.chain.Append(ctx, types.EventCreate, "BBBB", 1, "mB1")
	require.NoError(t, err)

	h.putTip(t, "CCCC", "mC1")
	_, err = h.chain.Append(ctx, types.EventCreate, "CCCC", 1, "mC1")
	require.NoError(t, err)

	h.putTip(t, "BBBB", "mB2")
	_, err = h.chain.Append(ctx, types.EventUpdate, "BBBB", 2, "mB2")
	require.NoError(t, err)

	h.putTip(t, "AAAA", "mA2")
	_, err = h.chain.Append(ctx, types.EventUpdate, "AAAA", 2, "mA2")
	require.NoError(t, err)

	h.putTip(t, "AAAA", "mA3")
	_, err = h.chain.Append(ctx, types.EventUpdate, "AAAA", 3, "mA3")
	require.NoError(t, err)

	snap, err := h.builder.Build(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)

	assert.Equal(t, 3, snap.TotalCount)
	assert.Len(t, snap.Entries, 3)
	assert.Nil(t, snap.Consistency, "first snapshot has nothing to compare against")
	assert.NotEmpty(t, snap.MerkleRoot)

	byPI := map[types.PI]types.SnapshotEntry{}
	for _, e := range snap.Entries {
		byPI[e.PI] = e
	}
	assert.Equal(t, types.CID("mA3"), byPI["AAAA"].TipCID)
	assert.Equal(t, types.CID("mB2"), byPI["BBBB"].TipCID)
	assert.Equal(t, types.CID("mC1"), byPI["CCCC"].TipCID)

	// Chronological order: an entry takes the position of its PI's newest
	// event, and A's v3 update is the newest event in the chain, so A sorts
	// last even though it was created first.
	assert.Equal(t, types.PI("AAAA"), snap.Entries[2].PI)
}

func TestBuildIsNoOpWhenSnapshotAlreadyCurrent(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	h.putTip(t, "AAAA", "mA1")
	_, err := h.chain.Append(ctx, types.EventCreate, "AAAA", 1, "mA1")
	require.NoError(t, err)

	first, err := h.builder.Build(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := h.builder.Build(ctx)
	require.NoError(t, err)
	assert.Nil(t, second)
}

// TestBuildIncrementalMatchesFullEquivalence covers invariant 5: building
// incrementally after a delta produces the same entry set a from-scratch
// full build of the same chain would, and the append-only consistency
// check passes since nothing was deleted between builds.
func TestBuildIncrementalMatchesFullEquivalence(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	h.putTip(t, "AAAA", "mA1")
	_, err := h.chain.Append(ctx, types.EventCreate, "AAAA", 1, "mA1")
	require.NoError(t, err)
	h.putTip(t, "BBBB", "mB1")
	_, err = h.chain.Append(ctx, types.EventCreate, "BBBB", 1, "mB1")
	require.NoError(t, err)

	firstSnap, err := h.builder.Build(ctx)
	require.NoError(t, err)
	require.NotNil(t, firstSnap)

	h.putTip(t, "CCCC", "mC1")
	_, err = h.chain.Append(ctx, types.EventCreate, "CCCC", 1, "mC1")
	require.NoError(t, err)
	h.putTip(t, "AAAA", "mA2")
	_, err = h.chain.Append(ctx, types.EventUpdate, "AAAA", 2, "mA2")
	require.NoError(t, err)

	incrementalSnap, err := h.builder.Build(ctx)
	require.NoError(t, err)
	require.NotNil(t, incrementalSnap)

	require.NotNil(t, incrementalSnap.Consistency)
	assert.True(t, incrementalSnap.Consistency.IsAppendOnly)
	assert.Equal(t, 0, incrementalSnap.Consistency.DeletedCount)

	fullBuilder := New(h.gw, h.ptr, filepath.Join(t.TempDir(), "other.lock"))
	byPIIncremental := map[types.PI]types.SnapshotEntry{}
	for _, e := range incrementalSnap.Entries {
		byPIIncremental[e.PI] = e
	}

	full, err := fullBuilder.buildFull(ctx, incrementalSnap.EventCID)
	require.NoError(t, err)
	assert.Len(t, full, len(incrementalSnap.Entries))
	for _, e := range full {
		inc, ok := byPIIncremental[e.PI]
		require.True(t, ok)
		assert.Equal(t, e.Ver, inc.Ver)
		assert.Equal(t, e.TipCID, inc.TipCID)
	}
}

func TestBuildEntrySkipsPIWhenTipUnreadable(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	// No tip file written for this PI: the snapshot build must skip it
	// rather than fail the whole build.
	_, err := h.chain.Append(ctx, types.EventCreate, "AAAA", 1, "mA1")
	require.NoError(t, err)

	snap, err := h.builder.Build(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Empty(t, snap.Entries)
}
