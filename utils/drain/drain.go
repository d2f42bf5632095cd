// Package drain provides a reference-counted shutdown latch. Callers
// that want to use a resource acquire a token first; tearing the
// resource down drains the latch, which rejects new tokens, signals
// the outstanding ones through their context, and blocks until every
// token has been released.
package drain

import (
	"context"
	"sync"

	"github.com/821684824/raftcore/utils"
)

// Drainer is the latch. The zero value is not usable; call New.
type Drainer struct {
	mu       sync.Mutex
	cond     *sync.Cond
	count    int
	draining bool
	ctx      context.Context
	cancel   context.CancelFunc
}

// Token represents one acquisition. Its context is canceled when the
// drainer starts draining.
type Token struct {
	d        *Drainer
	released bool
}

// New return a fresh, undrained Drainer.
func New() *Drainer {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Drainer{ctx: ctx, cancel: cancel}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Acquire take a token, or report false if draining already began.
func (d *Drainer) Acquire() (*Token, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.draining {
		return nil, false
	}
	d.count++
	return &Token{d: d}, true
}

// Context return a context canceled once Drain is called. Valid until
// the token is released.
func (t *Token) Context() context.Context {
	return t.d.ctx
}

// Release give the token back. Releasing twice is an error.
func (t *Token) Release() {
	d := t.d
	d.mu.Lock()
	defer d.mu.Unlock()

	utils.Assert(!t.released, "token released twice")
	t.released = true
	d.count--
	utils.Assert(d.count >= 0, "drainer count underflow")
	if d.count == 0 {
		d.cond.Broadcast()
	}
}

// Context return a context canceled once Drain is called. Waiters
// that hold no token may select on it to observe shutdown.
func (d *Drainer) Context() context.Context {
	return d.ctx
}

// Draining report whether Drain has been called.
func (d *Drainer) Draining() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.draining
}

// Drain reject further acquisitions, cancel outstanding token
// contexts, and block until the count drops to zero. Idempotent.
func (d *Drainer) Drain() {
	d.mu.Lock()
	d.draining = true
	d.cancel()
	for d.count > 0 {
		d.cond.Wait()
	}
	d.mu.Unlock()
}
