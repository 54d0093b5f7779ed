package health

import (
	"context"
	"time"
)

// Prober runs a Checker on a fixed interval and reports each result to a
// callback, decoupling "is this dependency up" from whatever is serving
// requests right now. The store liveness check in cmd/caindex's serve
// command is built this way: the HTTP surface never blocks a request on
// a live probe of the store, it just reads whatever the last probe found.
type Prober struct {
	checker  Checker
	interval time.Duration
	timeout  time.Duration
	onResult func(Result)

	stopCh chan struct{}
}

// NewProber returns a Prober that runs checker every interval (with each
// individual check bounded by timeout) and invokes onResult with every
// outcome, starting with one immediate check.
func NewProber(checker Checker, interval, timeout time.Duration, onResult func(Result)) *Prober {
	return &Prober{
		checker:  checker,
		interval: interval,
		timeout:  timeout,
		onResult: onResult,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the probe loop in the background.
func (p *Prober) Start() {
	go p.run()
}

// Stop ends the probe loop. Safe to call even if Start was never called.
func (p *Prober) Stop() {
	close(p.stopCh)
}

func (p *Prober) run() {
	p.probeOnce()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.probeOnce()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Prober) probeOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	p.onResult(p.checker.Check(ctx))
}
