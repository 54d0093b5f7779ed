package storeclient

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var cborEncMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

// cborDecMode decodes nested maps into map[string]any rather than the
// library default of map[any]any, so a generic decode of an unknown CBOR
// document (DagExport's DAG walk) sees the same shape a link-aware JSON
// decode would: map[string]any all the way down, walkable by
// types.ParseLink at any depth.
var cborDecMode = func() cbor.DecMode {
	opts := cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}
	mode, err := opts.DecMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

// marshal encodes obj with the given codec. CBOR uses canonical (sorted
// map-key) encoding so that dag_put is deterministic for identical logical
// documents, matching the content-addressing guarantee the store provides
// over the wire.
func marshal(obj any, codec Codec) ([]byte, error) {
	switch codec {
	case CodecCBOR:
		return cborEncMode.Marshal(obj)
	case CodecJSON:
		return json.Marshal(obj)
	default:
		return nil, fmt.Errorf("storeclient: unknown codec %q", codec)
	}
}

// unmarshal decodes data with the given codec into out.
func unmarshal(data []byte, out any, codec Codec) error {
	switch codec {
	case CodecCBOR:
		return cborDecMode.Unmarshal(data, out)
	case CodecJSON:
		return json.Unmarshal(data, out)
	default:
		return fmt.Errorf("storeclient: unknown codec %q", codec)
	}
}
