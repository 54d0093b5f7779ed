package storeclient

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/caindex/pkg/errs"
	"github.com/cuemby/caindex/pkg/types"
)

func newTestGateway(t *testing.T) *BoltGateway {
	t.Helper()
	gw, err := NewBoltGateway(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })
	return gw
}

func TestDagPutGetRoundTripsCBOR(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	ev := types.Event{Schema: types.EventSchema, Type: types.EventCreate, PI: "abcd1234", Ver: 1, TipCID: "tip-cid", TS: "2026-01-01T00:00:00.000Z"}

	cid, err := gw.DagPut(ctx, ev, CodecCBOR)
	require.NoError(t, err)
	require.NotEmpty(t, cid)

	var got types.Event
	require.NoError(t, gw.DagGet(ctx, cid, &got))
	assert.Equal(t, ev, got)
}

func TestDagPutIsContentAddressed(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	m := types.Manifest{Ver: 1, Components: map[string]types.CID{"body": "x"}}

	cid1, err := gw.DagPut(ctx, m, CodecCBOR)
	require.NoError(t, err)
	cid2, err := gw.DagPut(ctx, m, CodecCBOR)
	require.NoError(t, err)

	assert.Equal(t, cid1, cid2, "identical logical documents must mint identical CIDs")
}

func TestDagGetMissingReturnsNotFound(t *testing.T) {
	gw := newTestGateway(t)

	var out types.Event
	err := gw.DagGet(context.Background(), "does-not-exist", &out)
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestFilesWriteReadRoundTrips(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	require.NoError(t, gw.FilesWrite(ctx, "index/ab/cd/abcd1234.tip", []byte("some-cid"), true, true, true))

	data, err := gw.FilesRead(ctx, "index/ab/cd/abcd1234.tip")
	require.NoError(t, err)
	assert.Equal(t, "some-cid", string(data))
}

func TestFilesReadMissingReturnsNotFound(t *testing.T) {
	gw := newTestGateway(t)

	_, err := gw.FilesRead(context.Background(), "index/does/not/exist.tip")
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestFilesWriteWithoutCreateRequiresExisting(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	err := gw.FilesWrite(ctx, "index/new-file", []byte("x"), false, true, true)
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

// TestDagExportWalksLinkedComponents covers the traversal side of a CAR
// export: a root document that embeds a child CID in the {"/": "..."}
// link encoding must pull the child block into the export alongside the
// root, including a link buried inside a nested map value (as a
// manifest's components map would be).
func TestDagExportWalksLinkedComponents(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	compCID, err := gw.DagPut(ctx, map[string]string{"k": "v"}, CodecCBOR)
	require.NoError(t, err)

	doc := map[string]any{"components": map[string]any{"body": compCID.Link()}}
	rootCID, err := gw.DagPut(ctx, doc, CodecCBOR)
	require.NoError(t, err)

	body, err := gw.DagExport(ctx, rootCID)
	require.NoError(t, err)
	defer body.Close()

	data := make([]byte, 0, 4096)
	buf := make([]byte, 512)
	for {
		n, readErr := body.Read(buf)
		data = append(data, buf[:n]...)
		if readErr != nil {
			break
		}
	}

	assert.Contains(t, string(data), string(rootCID))
	assert.Contains(t, string(data), string(compCID))
}

// TestDagExportWalksEventChain is the end-to-end case the archive export
// command exists for: events CBOR-encode Prev as a real IPLD link, so
// exporting the newest event in a chain pulls every ancestor block into
// the archive, not just the root.
func TestDagExportWalksEventChain(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	genesis := types.Event{Schema: types.EventSchema, Type: types.EventCreate, PI: "AAAA", Ver: 1, TipCID: "tip-1", TS: "2026-01-01T00:00:00.000Z"}
	genesisCID, err := gw.DagPut(ctx, genesis, CodecCBOR)
	require.NoError(t, err)

	update := types.Event{Schema: types.EventSchema, Type: types.EventUpdate, PI: "AAAA", Ver: 2, TipCID: "tip-2", TS: "2026-01-02T00:00:00.000Z", Prev: genesisCID}
	updateCID, err := gw.DagPut(ctx, update, CodecCBOR)
	require.NoError(t, err)

	body, err := gw.DagExport(ctx, updateCID)
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(data), string(updateCID))
	assert.Contains(t, string(data), string(genesisCID), "walk must follow Event.Prev back to the genesis block")
}

// TestDagExportWalksManifestComponents exercises the other linked shape
// in this system: a manifest's named components map, each value a CID
// link one level deeper than the manifest's own top-level fields.
func TestDagExportWalksManifestComponents(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	bodyCID, err := gw.DagPut(ctx, map[string]string{"payload": "v1"}, CodecCBOR)
	require.NoError(t, err)

	manifest := types.Manifest{Ver: 1, Components: map[string]types.CID{"body": bodyCID}}
	manifestCID, err := gw.DagPut(ctx, manifest, CodecCBOR)
	require.NoError(t, err)

	out, err := gw.DagExport(ctx, manifestCID)
	require.NoError(t, err)
	defer out.Close()

	data, err := io.ReadAll(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), string(manifestCID))
	assert.Contains(t, string(data), string(bodyCID), "walk must follow a components-map link")
}

// TestDagExportSkipsUnresolvableLink covers a link target that was never
// stored (e.g. a tip CID minted by an upstream collaborator the archive
// doesn't also hold): the walk must tolerate the miss rather than fail
// the whole export.
func TestDagExportSkipsUnresolvableLink(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	ev := types.Event{Schema: types.EventSchema, Type: types.EventCreate, PI: "AAAA", Ver: 1, TipCID: "tip-never-stored", TS: "2026-01-01T00:00:00.000Z"}
	cid, err := gw.DagPut(ctx, ev, CodecCBOR)
	require.NoError(t, err)

	body, err := gw.DagExport(ctx, cid)
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(data), string(cid))
}
