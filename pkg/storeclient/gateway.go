// Package storeclient is the typed wrapper over the external content-
// addressed store: dag_put/dag_get/pin, the mutable file namespace used
// for the pointer and tip files, and dag_export for archives. It is pure
// I/O; it knows nothing about events, manifests, or snapshots beyond the
// shape needed to encode and decode them.
package storeclient

import (
	"context"
	"io"

	"github.com/cuemby/caindex/pkg/types"
)

// Codec selects how dag_put/dag_get encode a logical document.
type Codec string

const (
	// CodecCBOR is the binary-efficient, link-aware codec used for
	// events and manifests (hot-path, durable objects).
	CodecCBOR Codec = "cbor"

	// CodecJSON is used for human-inspectable bodies such as the
	// snapshot document read back out through the HTTP façade.
	CodecJSON Codec = "json"
)

// Gateway is the typed surface every other component depends on. It never
// retries internally: Transient errors are the caller's to handle.
type Gateway interface {
	// DagPut serializes obj with codec, pins it, and returns its CID.
	DagPut(ctx context.Context, obj any, codec Codec) (types.CID, error)

	// DagGet fetches and deserializes the object at cid into out, a
	// pointer to a struct or a *map[string]any for untyped access.
	DagGet(ctx context.Context, cid types.CID, out any) error

	// DagGetRaw fetches the raw encoded bytes at cid, for streaming
	// passthrough (e.g. serving /snapshot/latest without decoding it).
	DagGetRaw(ctx context.Context, cid types.CID) (io.ReadCloser, error)

	// FilesRead reads the bytes at a mutable-namespace path.
	FilesRead(ctx context.Context, path string) ([]byte, error)

	// FilesWrite replaces the bytes at a mutable-namespace path.
	FilesWrite(ctx context.Context, path string, data []byte, create, truncate, parents bool) error

	// FilesMkdir creates a directory in the mutable namespace.
	FilesMkdir(ctx context.Context, path string, parents bool) error

	// DagExport streams an archive of the DAG rooted at cid: CAR bytes
	// from HTTPGateway, a JSON array of {cid, data} records from
	// BoltGateway.
	DagExport(ctx context.Context, root types.CID) (io.ReadCloser, error)
}
