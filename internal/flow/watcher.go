package flow

import (
	"fmt"
	"time"
)

// DefaultDelay is the coalescing window.  Renderers emit many small
// mutation batches while laying out a page; recomputing on each would
// repaint the whole gradient for every one of them.
const DefaultDelay = 120 * time.Millisecond

// watch is an installed observation; its identity is the watcher handle.
type watch struct {
	obs Observation
}

// debounce is an armed recomputation timer; its identity is the pending
// timer handle.
type debounce struct {
	t *time.Timer
}

// Watcher installs change observers and debounces their callbacks.
//
// post must run its argument on the controller's event loop.  Every
// ReaderState field is touched only from inside post, so observers and
// timers firing on other goroutines never race the loop.
type Watcher struct {
	delay time.Duration
	post  func(func())
}

func NewWatcher(delay time.Duration, post func(func())) *Watcher {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Watcher{delay: delay, post: post}
}

// Install observes root on behalf of st.  It is a no-op when st already
// has a watcher, or when root is nil.
func (w *Watcher) Install(st *ReaderState, root Root, onChange func()) error {
	if st.watcher != nil || root == nil {
		return nil
	}
	h := &watch{}
	obs, err := root.Observe(func(batch []Added) {
		w.post(func() { w.changed(st, h, batch, onChange) })
	})
	if err != nil {
		return fmt.Errorf("observe instance %d: %w", st.ID, err)
	}
	h.obs = obs
	st.watcher = h
	return nil
}

// Uninstall cancels any pending timer and disconnects the observer.  It
// is safe to call when nothing is installed.
func (w *Watcher) Uninstall(st *ReaderState) {
	w.Cancel(st)
	if st.watcher == nil {
		return
	}
	if st.watcher.obs != nil {
		st.watcher.obs.Disconnect()
	}
	st.watcher = nil
}

// Cancel stops st's pending timer, if any.
func (w *Watcher) Cancel(st *ReaderState) {
	if st.pending == nil {
		return
	}
	st.pending.t.Stop()
	st.pending = nil
}

func (w *Watcher) changed(st *ReaderState, h *watch, batch []Added, onChange func()) {
	if st.watcher != h {
		return // uninstalled since the batch was queued
	}
	if !hasTextLayer(batch) {
		return
	}
	w.schedule(st, onChange)
}

// schedule replaces st's pending timer with a fresh one.  A superseded
// timer that already fired finds st.pending changed and does nothing.
func (w *Watcher) schedule(st *ReaderState, onChange func()) {
	w.Cancel(st)
	d := &debounce{}
	d.t = time.AfterFunc(w.delay, func() {
		w.post(func() {
			if st.pending != d {
				return
			}
			st.pending = nil
			onChange()
		})
	})
	st.pending = d
}

func hasTextLayer(batch []Added) bool {
	for _, a := range batch {
		if a.TextLayer {
			return true
		}
	}
	return false
}
