package snapshot

import (
	"os"
	"time"

	"github.com/gofrs/flock"

	"github.com/cuemby/caindex/pkg/errs"
)

// StaleLockAge is how old an unacquirable lock file must be before a
// build is allowed to reclaim it. A crashed builder leaves its lock
// file behind forever since nothing else removes it; this bounds how
// long a single crash can block every subsequent build (§4.7, §9 —
// flock(2) preferred over a bare stat-based check, so real process
// death still releases the lock instantly on this host).
const StaleLockAge = 600 * time.Second

// Lock guards the single-builder invariant: at most one snapshot build
// runs at a time. It is a real OS advisory lock (released automatically
// if the holding process dies) plus an age-based reclaim for a lock
// file left by a process killed hard enough to leave the file in a
// state flock itself can't tell apart from "still held".
type Lock struct {
	path string
	fl   *flock.Flock
}

// NewLock returns a Lock backed by the file at path. The file is created
// on first Acquire if it doesn't exist.
func NewLock(path string) *Lock {
	return &Lock{path: path, fl: flock.New(path)}
}

// Acquire attempts to take the lock without blocking. Failure to acquire
// is a Fatal error per §7 — the caller decides what that means for it:
// the scheduler logs and waits for the next tick, while the standalone
// CLI build command exits non-zero. If the lock file exists but is
// older than StaleLockAge and unacquirable, it is removed and a single
// retry is attempted.
func (l *Lock) Acquire() error {
	ok, err := l.fl.TryLock()
	if err != nil {
		return errs.Fatalf("acquire snapshot lock %s: %v", l.path, err)
	}
	if ok {
		return nil
	}

	if l.reclaimStale() {
		ok, err = l.fl.TryLock()
		if err != nil {
			return errs.Fatalf("acquire snapshot lock %s after reclaim: %v", l.path, err)
		}
		if ok {
			return nil
		}
	}

	return errs.Fatalf("snapshot lock %s is held by another build", l.path)
}

// reclaimStale removes the lock file if it is older than StaleLockAge.
// It reports whether a removal happened.
func (l *Lock) reclaimStale() bool {
	info, err := os.Stat(l.path)
	if err != nil {
		return false
	}
	if time.Since(info.ModTime()) <= StaleLockAge {
		return false
	}
	_ = os.Remove(l.path)
	return true
}

// Release drops the lock. Safe to call even if Acquire never succeeded.
func (l *Lock) Release() error {
	if !l.fl.Locked() {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return errs.Transientf("release snapshot lock %s: %v", l.path, err)
	}
	return os.Remove(l.path)
}

// LockHeld reports whether a lock file is currently present at path,
// without attempting to acquire it. The scheduler uses this as a cheap
// pre-check (§4.7 step 1) before waking a build goroutine. It checks only
// that the file exists: a file left behind by a crashed build also counts
// as held here, even though Acquire could take or reclaim it.
func LockHeld(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
