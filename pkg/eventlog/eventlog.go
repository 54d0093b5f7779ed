// Package eventlog implements the singly-linked, content-addressed event
// chain: every entity mutation becomes an immutable event whose prev link
// is the CID of the event written immediately before it.
package eventlog

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/caindex/pkg/errs"
	"github.com/cuemby/caindex/pkg/pointer"
	"github.com/cuemby/caindex/pkg/storeclient"
	"github.com/cuemby/caindex/pkg/types"
)

// Chain appends events to the hash chain. Append and AppendBatch serialize
// against each other through an internal mutex: exactly one appender may
// hold the "log writer" right at any moment, the single-writer invariant
// the chain's correctness depends on (within the process; multi-process
// exclusion is out of scope).
type Chain struct {
	gw  storeclient.Gateway
	ptr *pointer.Store

	mu sync.Mutex
}

// New returns a Chain writing through gw and reading/writing the pointer
// via ptr.
func New(gw storeclient.Gateway, ptr *pointer.Store) *Chain {
	return &Chain{gw: gw, ptr: ptr}
}

// Append writes a single event and returns its CID. Contract (§4.3):
// read the pointer, link the new event to its current head, dag_put it,
// advance the pointer, write it back. If dag_put succeeds but the
// pointer write fails, the event is left dangling: stored and pinned but
// unreachable from event_head. This is recoverable — the next successful
// append overwrites the pointer and the orphan is harmless.
func (c *Chain) Append(ctx context.Context, typ types.EventType, pi types.PI, ver int, tipCID types.CID) (types.CID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.ptr.Read(ctx)
	if err != nil {
		return "", err
	}

	ev := types.Event{
		Schema: types.EventSchema,
		Type:   typ,
		PI:     pi,
		Ver:    ver,
		TipCID: tipCID,
		TS:     nowRFC3339(),
		Prev:   p.EventHead,
	}

	cid, err := c.gw.DagPut(ctx, ev, storeclient.CodecCBOR)
	if err != nil {
		return "", err
	}

	p.EventHead = cid
	p.EventCount++
	if typ == types.EventCreate {
		p.TotalCount++
	}

	if err := c.ptr.Write(ctx, p); err != nil {
		return cid, errs.Transientf("event %s stored but pointer write failed: %v", cid, err)
	}
	return cid, nil
}

// BatchItem is one queued mutation awaiting a batch append.
type BatchItem struct {
	Type   types.EventType
	PI     types.PI
	Ver    int
	TipCID types.CID
}

// BatchResult reports what happened to one item in AppendBatch.
type BatchResult struct {
	CID types.CID
	Err error
}

// AppendBatch writes a slice of events as a single pointer read/write
// cycle (§4.4 step 3): the pointer is read once, each item is dag_put in
// arrival order with prev set to the running head, and the pointer is
// written once after the whole batch. A single item's store failure is
// isolated — it is skipped and logged by the caller, and the running
// head does not advance past it — but does not abort the rest of the
// batch.
func (c *Chain) AppendBatch(ctx context.Context, items []BatchItem) ([]BatchResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	results := make([]BatchResult, len(items))

	p, err := c.ptr.Read(ctx)
	if err != nil {
		return nil, err
	}

	head := p.EventHead
	written := 0

	for i, item := range items {
		ev := types.Event{
			Schema: types.EventSchema,
			Type:   item.Type,
			PI:     item.PI,
			Ver:    item.Ver,
			TipCID: item.TipCID,
			TS:     nowRFC3339(),
			Prev:   head,
		}

		cid, err := c.gw.DagPut(ctx, ev, storeclient.CodecCBOR)
		if err != nil {
			results[i] = BatchResult{Err: err}
			continue
		}

		head = cid
		p.EventCount++
		if item.Type == types.EventCreate {
			p.TotalCount++
		}
		written++
		results[i] = BatchResult{CID: cid}
	}

	if written > 0 {
		p.EventHead = head
		if err := c.ptr.Write(ctx, p); err != nil {
			return results, errs.Transientf("batch of %d events stored but pointer write failed: %v", written, err)
		}
	}

	return results, nil
}

func nowRFC3339() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
