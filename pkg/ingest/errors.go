package ingest

import "github.com/cuemby/caindex/pkg/errs"

var errQueueFull = errs.Transientf("ingest queue is full")
