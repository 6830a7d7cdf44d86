// Package flow keeps per-viewer overlay state and drives the colorizer.
//
// The Controller is the only component that talks to a host viewer.  It
// owns a Registry of ReaderStates, installs one Watcher per instance and
// runs every apply and restore on a single event-loop goroutine, so the
// colorizer's running offset and node mutations never need locking.
package flow

import (
	"context"
	"errors"
	"time"

	"github.com/cptaffe/acme-flow/gradient"
	"github.com/cptaffe/acme-flow/logger"
	"github.com/cptaffe/acme-flow/textlayer"
	"go.uber.org/zap"
)

// callTimeout bounds how long a host waits for the event loop.
var callTimeout = 5 * time.Second

// Options configure a Controller.
type Options struct {
	Stops gradient.Stops
	Cycle int
	Delay time.Duration
	// Accepts reports whether a document type is text-bearing.  Nil
	// accepts everything.
	Accepts func(docType string) bool
}

// Snapshot is a point-in-time copy of one instance's state.
type Snapshot struct {
	ID       int
	DocType  string
	Enabled  bool
	Passes   int
	Watching bool
	Pending  bool
}

// Controller wires host viewer events to the registry, the watcher and
// the colorizer.
//
// reg is safe from any goroutine.  Everything reachable from a
// ReaderState is owned by the run loop.
type Controller struct {
	ctx       context.Context
	reg       *Registry
	watcher   *Watcher
	colorizer *textlayer.Colorizer
	accepts   func(string) bool
	cmdCh     chan func()
	done      chan struct{}
}

// NewController returns a controller whose loop runs until ctx is
// cancelled.  Start it with Run.
func NewController(ctx context.Context, opts Options) *Controller {
	c := &Controller{
		ctx:       ctx,
		reg:       NewRegistry(),
		colorizer: textlayer.NewColorizer(opts.Stops, opts.Cycle),
		accepts:   opts.Accepts,
		cmdCh:     make(chan func(), 64),
		done:      make(chan struct{}),
	}
	if c.accepts == nil {
		c.accepts = func(string) bool { return true }
	}
	c.watcher = NewWatcher(opts.Delay, c.submit)
	return c
}

// Run is the event loop.  When ctx is cancelled it restores every
// tracked instance, empties the registry and returns.
func (c *Controller) Run() {
	defer close(c.done)
	log := logger.L(c.ctx)
	log.Debug("flow controller running")
	for {
		select {
		case fn := <-c.cmdCh:
			fn()
		case <-c.ctx.Done():
			c.stopAll()
			log.Debug("flow controller stopped")
			return
		}
	}
}

// Done is closed once Run has returned.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// submit enqueues fn on the loop.  It drops fn once ctx is cancelled.
func (c *Controller) submit(fn func()) {
	select {
	case c.cmdCh <- fn:
	case <-c.ctx.Done():
	}
}

// call enqueues fn and waits for it to run.  It reports false if the
// loop stopped or did not answer within callTimeout.
func (c *Controller) call(fn func()) bool {
	_, ok := callResult(c, func() struct{} {
		fn()
		return struct{}{}
	})
	return ok
}

// callResult runs fn on the loop and returns its result.  The result only
// travels over a buffered channel, so a fn that runs after the caller gave
// up writes nowhere the caller can see.
func callResult[T any](c *Controller, fn func() T) (T, bool) {
	res := make(chan T, 1)
	c.submit(func() { res <- fn() })
	var zero T
	select {
	case v := <-res:
		return v, true
	case <-c.done:
		select {
		case v := <-res:
			return v, true
		default:
			return zero, false
		}
	case <-time.After(callTimeout):
		logger.L(c.ctx).Warn("call timed out; event loop unresponsive")
		return zero, false
	}
}

// toggleResult is what Toggle reads back from the loop.
type toggleResult struct {
	enabled, found bool
}

// Ready handles a viewer instance that is ready to render.  Documents
// that are not text-bearing are ignored.  It reports whether the
// instance is now tracked.
func (c *Controller) Ready(id int, docType string, root Root) bool {
	if !c.accepts(docType) {
		logger.L(c.ctx).Debug("ignoring document",
			zap.Int("instance", id), zap.String("doc", docType))
		return false
	}
	return c.call(func() {
		st := c.reg.Ensure(id)
		st.DocType = docType
		if root != nil {
			st.root = root
		}
		if err := c.watcher.Install(st, st.root, func() { c.apply(st) }); err != nil {
			c.log(st).Debug("watcher not installed", zap.Error(err))
		}
		c.apply(st)
	})
}

// Toggle flips the instance's enabled flag and re-applies at once.  ok is
// false when the instance is unknown.
func (c *Controller) Toggle(id int) (enabled, ok bool) {
	r, _ := callResult(c, func() toggleResult {
		st, found := c.reg.Get(id)
		if !found {
			return toggleResult{}
		}
		st.Enabled = !st.Enabled
		c.watcher.Cancel(st)
		c.apply(st)
		return toggleResult{enabled: st.Enabled, found: true}
	})
	return r.enabled, r.found
}

// SetEnabled sets the instance's enabled flag and re-applies at once.
func (c *Controller) SetEnabled(id int, enabled bool) bool {
	found, _ := callResult(c, func() bool {
		st, found := c.reg.Get(id)
		if !found {
			return false
		}
		st.Enabled = enabled
		c.watcher.Cancel(st)
		c.apply(st)
		return true
	})
	return found
}

// Refresh re-applies one instance, e.g. after a theme change.
func (c *Controller) Refresh(id int) bool {
	found, _ := callResult(c, func() bool {
		st, found := c.reg.Get(id)
		if !found {
			return false
		}
		c.watcher.Cancel(st)
		c.apply(st)
		return true
	})
	return found
}

// RefreshAll re-applies every tracked instance.
func (c *Controller) RefreshAll() {
	c.call(func() {
		for _, id := range c.reg.IDs() {
			if st, ok := c.reg.Get(id); ok {
				c.watcher.Cancel(st)
				c.apply(st)
			}
		}
	})
}

// Teardown releases the instance's watcher and timer, restores its
// content and forgets it.
func (c *Controller) Teardown(id int) {
	c.call(func() {
		st, ok := c.reg.Get(id)
		if !ok {
			return
		}
		c.teardown(st)
		c.reg.Remove(id)
	})
}

// Stop tears down every tracked instance.
func (c *Controller) Stop() {
	c.call(c.stopAll)
}

// State returns a snapshot of the instance.
func (c *Controller) State(id int) (Snapshot, bool) {
	snap, _ := callResult(c, func() *Snapshot {
		st, found := c.reg.Get(id)
		if !found {
			return nil
		}
		return &Snapshot{
			ID:       st.ID,
			DocType:  st.DocType,
			Enabled:  st.Enabled,
			Passes:   st.passes,
			Watching: st.watcher != nil,
			Pending:  st.pending != nil,
		}
	})
	if snap == nil {
		return Snapshot{}, false
	}
	return *snap, true
}

// IDs returns the tracked instance IDs in ascending order.
func (c *Controller) IDs() []int {
	return c.reg.IDs()
}

// ---- loop-owned helpers ----

func (c *Controller) log(st *ReaderState) *zap.Logger {
	return logger.L(c.ctx).With(zap.Int("instance", st.ID))
}

func (c *Controller) stopAll() {
	for _, id := range c.reg.IDs() {
		if st, ok := c.reg.Get(id); ok {
			c.teardown(st)
		}
	}
	c.reg.Clear()
}

func (c *Controller) teardown(st *ReaderState) {
	c.watcher.Uninstall(st)
	c.restore(st)
	c.log(st).Debug("instance torn down")
}

// apply colours st's content, or restores it when st is disabled.
func (c *Controller) apply(st *ReaderState) {
	if !st.Enabled {
		c.restore(st)
		return
	}
	if st.root == nil {
		return
	}
	log := c.log(st)
	lines, err := st.root.Lines()
	if err != nil {
		if !errors.Is(err, ErrUnavailable) {
			log.Warn("read lines", zap.Error(err))
		}
		log.Debug("content unavailable; skipping pass")
		return
	}
	mode := st.root.Mode()
	end := c.colorizer.Apply(st.segments, lines, mode)
	if err := st.root.Commit(lines); err != nil {
		log.Error("commit colorized lines", zap.Error(err))
		return
	}
	st.passes++
	log.Debug("applied",
		zap.Int("lines", len(lines)),
		zap.Int("chars", end),
		zap.Stringer("mode", mode))
}

// restore returns st's content to its original text.
func (c *Controller) restore(st *ReaderState) {
	n := c.colorizer.Restore(st.segments)
	if st.root == nil {
		return
	}
	log := c.log(st)
	lines, err := st.root.Lines()
	if err != nil {
		log.Debug("content unavailable; restore not committed", zap.Int("restored", n))
		return
	}
	if err := st.root.Commit(lines); err != nil {
		log.Error("commit restored lines", zap.Error(err))
		return
	}
	log.Debug("restored", zap.Int("restored", n))
}
