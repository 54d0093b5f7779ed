// Package pointer manages the single durable Index Pointer document: the
// system's source of truth for the current log head, counts, and the
// latest snapshot descriptor.
package pointer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cuemby/caindex/pkg/errs"
	"github.com/cuemby/caindex/pkg/storeclient"
	"github.com/cuemby/caindex/pkg/types"
)

// Store reads and writes the Index Pointer at a fixed mutable-namespace
// path. It never partially updates the document: every write is a full
// replacement.
type Store struct {
	gw   storeclient.Gateway
	path string
}

// New returns a pointer Store backed by gw, reading and writing at path.
func New(gw storeclient.Gateway, path string) *Store {
	return &Store{gw: gw, path: path}
}

// Read loads the pointer. If the underlying path does not exist, it
// returns a zero-valued pointer (all counts 0, all CIDs empty,
// LastUpdated stamped to now) rather than an error: an absent pointer is
// the expected state before the first event is ever appended.
func (s *Store) Read(ctx context.Context) (types.Pointer, error) {
	data, err := s.gw.FilesRead(ctx, s.path)
	if err != nil {
		if errs.Is(err, errs.KindNotFound) {
			return types.Pointer{LastUpdated: now()}, nil
		}
		return types.Pointer{}, err
	}

	var p types.Pointer
	if err := json.Unmarshal(data, &p); err != nil {
		return types.Pointer{}, errs.Protocolf("decode pointer: %v", err)
	}
	return p, nil
}

// Write replaces the pointer document wholesale, stamping LastUpdated to
// the current UTC time.
func (s *Store) Write(ctx context.Context, p types.Pointer) error {
	p.LastUpdated = now()

	data, err := json.Marshal(p)
	if err != nil {
		return errs.Protocolf("encode pointer: %v", err)
	}

	return s.gw.FilesWrite(ctx, s.path, data, true, true, true)
}

func now() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}
