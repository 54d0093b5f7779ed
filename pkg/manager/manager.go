// Package manager is the orchestration facade wiring the store gateway,
// pointer, event log, ingest queue, and snapshot builder into the
// operations the HTTP surface and CLI actually call (§4.8 Query Paths
// plus the write path's entrypoint).
package manager

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/caindex/pkg/config"
	"github.com/cuemby/caindex/pkg/errs"
	"github.com/cuemby/caindex/pkg/eventlog"
	"github.com/cuemby/caindex/pkg/ingest"
	"github.com/cuemby/caindex/pkg/log"
	"github.com/cuemby/caindex/pkg/notify"
	"github.com/cuemby/caindex/pkg/pointer"
	"github.com/cuemby/caindex/pkg/snapshot"
	"github.com/cuemby/caindex/pkg/storeclient"
	"github.com/cuemby/caindex/pkg/types"
)

// maxListLimit caps a single /events page so a misbehaving client can't
// force an unbounded chain walk in one request.
const maxListLimit = 1000

// Manager owns every long-lived component and exposes the read/write
// operations the API and CLI layers call. It holds no HTTP or CLI
// concerns of its own.
type Manager struct {
	gw      storeclient.Gateway
	ptr     *pointer.Store
	chain   *eventlog.Chain
	queue   *ingest.Queue
	builder *snapshot.Builder
	broker  *notify.Broker
	log     zerolog.Logger
}

// New wires a Manager from cfg and gw. snapshotLockPath is the file-system
// lock path the snapshot builder guards itself with.
func New(gw storeclient.Gateway, cfg *config.Config, snapshotLockPath string) *Manager {
	ptr := pointer.New(gw, cfg.IndexPointerPath)
	chain := eventlog.New(gw, ptr)
	broker := notify.NewBroker()

	queue := ingest.New(chain, broker, log.WithComponent("ingest"), ingest.Config{
		Capacity:      cfg.QueueCapacity,
		BatchSize:     cfg.BatchSize,
		BatchTimeout:  cfg.BatchTimeout(),
		ShutdownGrace: cfg.ShutdownGrace(),
	})

	builder := snapshot.New(gw, ptr, snapshotLockPath)

	return &Manager{
		gw:      gw,
		ptr:     ptr,
		chain:   chain,
		queue:   queue,
		builder: builder,
		broker:  broker,
		log:     log.WithComponent("manager"),
	}
}

// Start launches the background ingest worker and the notification
// broker. Call once at service startup.
func (m *Manager) Start() {
	m.broker.Start()
	m.queue.Start()
}

// Stop drains the ingest queue (bounded by its configured grace period)
// and stops the notification broker.
func (m *Manager) Stop() {
	m.queue.Stop()
	m.broker.Stop()
}

// Append enqueues a mutation for batched durable append (§4.4). It
// returns immediately; the caller never blocks on the actual store I/O.
func (m *Manager) Append(typ types.EventType, pi types.PI, ver int, tipCID types.CID) (ingest.EnqueueResult, error) {
	if !pi.Valid() {
		return ingest.EnqueueResult{}, errs.Protocolf("pi %q is shorter than the minimum 4 characters", pi)
	}
	return m.queue.Enqueue(typ, pi, ver, tipCID)
}

// QueueStats reports the ingest queue's current depth and batching
// configuration, for GET /events/queue-stats.
func (m *Manager) QueueStats() ingest.Stats {
	return m.queue.Stats()
}

// GetPointer returns the index pointer document verbatim.
func (m *Manager) GetPointer(ctx context.Context) (types.Pointer, error) {
	return m.ptr.Read(ctx)
}

// EventPage is one page of a chain walk, as returned by GET /events.
type EventPage struct {
	Items       []types.Event
	TotalEvents int
	TotalPIs    int
	HasMore     bool
	NextCursor  types.CID
}

// ListEvents walks the chain from cursor (event_head if cursor is empty)
// back via prev, returning up to limit items (§4.8 List events).
func (m *Manager) ListEvents(ctx context.Context, cursor types.CID, limit int) (EventPage, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	p, err := m.ptr.Read(ctx)
	if err != nil {
		return EventPage{}, err
	}

	start := cursor
	if start == "" {
		start = p.EventHead
	}

	var items []types.Event
	cur := start
	for cur != "" && len(items) < limit {
		var ev types.Event
		if err := m.gw.DagGet(ctx, cur, &ev); err != nil {
			m.log.Warn().Err(err).Str("event_cid", string(cur)).Msg("failed to fetch event during list walk, stopping")
			cur = ""
			break
		}
		items = append(items, ev)
		cur = ev.Prev
	}

	return EventPage{
		Items:       items,
		TotalEvents: p.EventCount,
		TotalPIs:    p.TotalCount,
		HasMore:     cur != "",
		NextCursor:  cur,
	}, nil
}

// GetLatestSnapshotRaw streams the raw bytes of the latest snapshot
// document, for GET /snapshot/latest. Returns errs.NotFound if no
// snapshot has ever been built.
func (m *Manager) GetLatestSnapshotRaw(ctx context.Context) (io.ReadCloser, types.Pointer, error) {
	p, err := m.ptr.Read(ctx)
	if err != nil {
		return nil, types.Pointer{}, err
	}
	if p.LatestSnapshotCID == "" {
		return nil, types.Pointer{}, errs.NotFoundf("no snapshot has been built yet")
	}

	body, err := m.gw.DagGetRaw(ctx, p.LatestSnapshotCID)
	if err != nil {
		return nil, types.Pointer{}, err
	}
	return body, p, nil
}

// TriggerSnapshot stamps last_snapshot_trigger and runs the snapshot
// builder synchronously, returning the new snapshot (or nil if the
// pointer was already current). Callers that want fire-and-forget
// semantics (the scheduler) should call this from their own goroutine.
func (m *Manager) TriggerSnapshot(ctx context.Context) (*types.Snapshot, error) {
	if err := m.stampSnapshotTrigger(ctx); err != nil {
		m.log.Warn().Err(err).Msg("failed to stamp last_snapshot_trigger, proceeding with build anyway")
	}
	return m.builder.Build(ctx)
}

// stampSnapshotTrigger records that a build was requested. This is a
// read-modify-write of the pointer independent of the builder's own;
// per §9, last-write-wins on this field is acceptable since only the
// builder's completion stanza must be preserved.
func (m *Manager) stampSnapshotTrigger(ctx context.Context) error {
	p, err := m.ptr.Read(ctx)
	if err != nil {
		return err
	}
	p.LastSnapshotTrigger = time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	return m.ptr.Write(ctx, p)
}

// TotalCount is a small accessor the scheduler uses to decide whether a
// snapshot is worth building at all (§4.7 step 2).
func (m *Manager) TotalCount(ctx context.Context) (int, error) {
	p, err := m.ptr.Read(ctx)
	if err != nil {
		return 0, err
	}
	return p.TotalCount, nil
}

// Archive streams a CAR-format export of the DAG rooted at cid.
func (m *Manager) Archive(ctx context.Context, cid types.CID) (io.ReadCloser, error) {
	return m.gw.DagExport(ctx, cid)
}
