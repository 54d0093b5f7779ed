// Package types defines the data model shared across the index: content
// addresses, manifests, events, the index pointer, and snapshots.
package types

import (
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// CID is a content address minted by the store. Equality is by string;
// the core never interprets its internal structure.
type CID string

// Empty reports whether c is the unset CID.
func (c CID) Empty() bool {
	return c == ""
}

// Link renders c in the JSON-link encoding ({"/": "<cid>"}) used for
// in-memory and JSON-codec representations of references.
func (c CID) Link() map[string]string {
	return map[string]string{"/": string(c)}
}

// ParseLink extracts a CID from a decoded {"/": "..."} map, as produced by
// the JSON codec or by a dag_get of a document containing links.
func ParseLink(v any) (CID, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	s, ok := m["/"].(string)
	if !ok {
		return "", false
	}
	return CID(s), true
}

// MarshalCBOR implements cbor.Marshaler. It encodes c as the IPLD link
// map ({"/": "<cid>"}), the same shape Link returns, so that events and
// manifests (the CBOR-codec, durable objects) form a genuinely walkable
// DAG: a generic decode of the surrounding document recovers this CID as
// a link rather than an opaque string. An unset CID encodes as CBOR null
// so fields without an explicit link still round-trip.
func (c CID) MarshalCBOR() ([]byte, error) {
	if c.Empty() {
		return cbor.Marshal(nil)
	}
	return cbor.Marshal(c.Link())
}

// UnmarshalCBOR implements cbor.Unmarshaler. It accepts a link map
// ({"/": "<cid>"}), a plain string, or null, so the codec tolerates
// blocks written before the link convention as well as ones written
// under it.
func (c *CID) UnmarshalCBOR(data []byte) error {
	var raw any
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*c = ""
	case string:
		*c = CID(v)
	case map[string]any:
		if s, ok := v["/"].(string); ok {
			*c = CID(s)
		}
	case map[any]any:
		if s, ok := v["/"].(string); ok {
			*c = CID(s)
		}
	}
	return nil
}

// PI is an opaque, sortable persistent identifier assigned by an upstream
// collaborator. It must be at least 4 characters long.
type PI string

// Valid reports whether p meets the minimum-length requirement.
func (p PI) Valid() bool {
	return len(p) >= 4
}

// Shard returns the two-level directory shard ("sh1", "sh2") that tip
// files and other per-entity mutable paths live under: the first two
// characters, then the next two.
func (p PI) Shard() (string, string) {
	s := string(p)
	return s[0:2], s[2:4]
}

// TipPath returns the mutable-namespace path of p's tip file relative to
// the "index/" root that callers prepend, e.g. "<sh1>/<sh2>/<pi>.tip".
func (p PI) TipPath() string {
	sh1, sh2 := p.Shard()
	var b strings.Builder
	b.WriteString(sh1)
	b.WriteByte('/')
	b.WriteString(sh2)
	b.WriteByte('/')
	b.WriteString(string(p))
	b.WriteString(".tip")
	return b.String()
}

// EventType distinguishes entity creation from subsequent updates.
type EventType string

const (
	EventCreate EventType = "create"
	EventUpdate EventType = "update"
)

// Manifest is opaque to the core beyond the three fields it reads: the
// version number, the link to the previous version's manifest, and the
// named payload links. Produced by an upstream collaborator; the core
// never writes one.
type Manifest struct {
	Ver        int            `cbor:"ver" json:"ver"`
	Prev       CID            `cbor:"prev,omitempty" json:"prev,omitempty"`
	Components map[string]CID `cbor:"components" json:"components"`
}

// Event is an immutable, append-only log record. The chain invariant is
// that Prev is the CID of the event written immediately before this one,
// or empty for the genesis event.
type Event struct {
	Schema string    `cbor:"schema" json:"schema"`
	Type   EventType `cbor:"type" json:"type"`
	PI     PI        `cbor:"pi" json:"pi"`
	Ver    int       `cbor:"ver" json:"ver"`
	TipCID CID       `cbor:"tip_cid" json:"tip_cid"`
	TS     string    `cbor:"ts" json:"ts"`
	Prev   CID       `cbor:"prev,omitempty" json:"prev,omitempty"`
}

// EventSchema is the schema tag this implementation writes. Readers must
// also tolerate "v0" and "v1" events carrying no schema field at all.
const EventSchema = "v2"

// Pointer is the single durable document recording the current log head,
// counts, and the latest snapshot descriptor. It is the system's single
// source of truth and is always replaced wholesale, never patched.
type Pointer struct {
	EventHead          CID    `json:"event_head,omitempty"`
	EventCount         int    `json:"event_count"`
	LatestSnapshotCID  CID    `json:"latest_snapshot_cid,omitempty"`
	SnapshotEventCID   CID    `json:"snapshot_event_cid,omitempty"`
	SnapshotSeq        int    `json:"snapshot_seq"`
	SnapshotCount      int    `json:"snapshot_count"`
	SnapshotTS         string `json:"snapshot_ts,omitempty"`
	TotalCount         int    `json:"total_count"`
	LastSnapshotTrigger string `json:"last_snapshot_trigger,omitempty"`
	LastUpdated        string `json:"last_updated"`
}

// SnapshotEntry is one materialized (PI -> latest manifest) mapping in a
// snapshot, in the chronological position it was last touched.
type SnapshotEntry struct {
	PI       PI     `json:"pi"`
	Ver      int    `json:"ver"`
	TipCID   CID    `json:"tip_cid"`
	TS       string `json:"ts"`
	ChainCID CID    `json:"chain_cid"`
}

// Consistency records the result of comparing a snapshot's CID closure
// against its predecessor's. A nil *Consistency is valid: the first
// snapshot in a chain has nothing to compare against.
type Consistency struct {
	PrevCIDCount  int  `json:"prev_cid_count"`
	CurrCIDCount  int  `json:"curr_cid_count"`
	AddedCount    int  `json:"added_count"`
	DeletedCount  int  `json:"deleted_count"`
	IsAppendOnly bool `json:"is_append_only"`
}

// SnapshotSchema is the schema tag this implementation writes. Readers
// must also tolerate "snapshot@v1" documents carrying no proof fields.
const SnapshotSchema = "snapshot@v2"

// Snapshot is the immutable, verifiable image of the current entity set
// produced by the Snapshot Builder.
type Snapshot struct {
	Schema       string          `json:"schema"`
	Seq          int             `json:"seq"`
	TS           string          `json:"ts"`
	EventCID     CID             `json:"event_cid"`
	PrevSnapshot CID             `json:"prev_snapshot,omitempty"`
	TotalCount   int             `json:"total_count"`
	Entries      []SnapshotEntry `json:"entries"`
	MerkleRoot   string          `json:"merkle_root,omitempty"`
	CIDCount     int             `json:"cid_count"`
	AllCIDs      []CID           `json:"all_cids"`
	Consistency  *Consistency    `json:"consistency,omitempty"`
}
