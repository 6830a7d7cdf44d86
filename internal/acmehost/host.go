// Package acmehost connects acme windows to the flow controller.
//
// Each window whose name the controller accepts becomes a flow instance:
// its body lines are the text layer, body edits are the mutations, and the
// colours are written into a layer of the acme-styles compositor.  The
// window's tag gets a command that toggles the overlay.
package acmehost

import (
	"context"
	"fmt"
	"sync"
	"time"

	"9fans.net/go/acme"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/cptaffe/acme-flow/gradient"
	"github.com/cptaffe/acme-flow/internal/flow"
	"github.com/cptaffe/acme-flow/logger"
)

// Options configure a Host.
type Options struct {
	Layer string // compositor layer name
	Tag   string // tag command that toggles a window; "" adds none
	Mode  func() gradient.Mode
}

type logReader interface {
	Read() (acme.LogEvent, error)
	Close() error
}

// Host tracks acme windows and hands them to a flow.Controller.
type Host struct {
	ctl  *flow.Controller
	opts Options

	mu   sync.Mutex
	wins map[int]*window

	windows  func() ([]acme.WinInfo, error)
	openLog  func() (logReader, error)
	open     func(id int) (acmeWin, error)
	openSink func(id int, name string) (sink, error)
}

// New returns a host for ctl.  Start it with Run.
func New(ctl *flow.Controller, opts Options) *Host {
	if opts.Layer == "" {
		opts.Layer = "flow"
	}
	return &Host{
		ctl:     ctl,
		opts:    opts,
		wins:    make(map[int]*window),
		windows: acme.Windows,
		openLog: func() (logReader, error) {
			lr, err := acme.Log()
			if err != nil {
				return nil, err
			}
			return lr, nil
		},
		open:     openAcme,
		openSink: openLayer,
	}
}

// Run seeds the host from the open windows and then follows acme's log
// until ctx is cancelled.
//
// acme.Windows and acme.Log are retried: when a previous process exits
// abruptly, 9pserve may still be clunking its fids and acme's fid table
// is briefly busy.
//
// lr.Read blocks, so each read runs in a goroutine and is raced against
// ctx.  The last one lingers until acme writes another log entry.
func (h *Host) Run(ctx context.Context) error {
	l := logger.L(ctx)

	wins, err := retryOn(ctx, 10, 200*time.Millisecond, h.windows)
	if err != nil {
		return fmt.Errorf("list windows: %w", err)
	}
	for _, w := range wins {
		h.add(ctx, w.ID, w.Name)
	}

	lr, err := retryOn(ctx, 10, 200*time.Millisecond, h.openLog)
	if err != nil {
		return fmt.Errorf("open acme log: %w", err)
	}
	defer lr.Close()

	type logResult struct {
		ev  acme.LogEvent
		err error
	}
	ch := make(chan logResult, 1)
	readNext := func() {
		go func() {
			ev, err := lr.Read()
			ch <- logResult{ev, err}
		}()
	}
	readNext()

	l.Info("following acme log", zap.Int("windows", len(wins)))
	for {
		select {
		case <-ctx.Done():
			return nil
		case res := <-ch:
			if res.err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("read acme log: %w", res.err)
			}
			h.handle(ctx, res.ev)
			readNext()
		}
	}
}

func (h *Host) handle(ctx context.Context, ev acme.LogEvent) {
	switch ev.Op {
	case "new", "get", "put":
		// A window is often named after its "new" entry; a get or put
		// is the next chance to see the real name.
		h.add(ctx, ev.ID, ev.Name)
	case "del":
		h.remove(ctx, ev.ID)
	}
}

// add offers window id to the controller and, the first time it is
// accepted, adds the toggle command to its tag.
func (h *Host) add(ctx context.Context, id int, name string) {
	h.mu.Lock()
	w, known := h.wins[id]
	if !known {
		w = h.newWindow(id)
	}
	h.mu.Unlock()

	if !h.ctl.Ready(id, name, w) {
		return
	}
	if known {
		return
	}
	h.mu.Lock()
	h.wins[id] = w
	h.mu.Unlock()

	l := logger.L(ctx).With(zap.Int("win", id), zap.String("name", name))
	l.Debug("window tracked")
	if h.opts.Tag == "" {
		return
	}
	if err := h.addTag(id); err != nil {
		l.Warn("add tag command", zap.Error(err))
	}
}

func (h *Host) addTag(id int) error {
	aw, err := h.open(id)
	if err != nil {
		return err
	}
	defer aw.CloseFiles()
	return aw.Fprintf("tag", " %s", h.opts.Tag)
}

func (h *Host) newWindow(id int) *window {
	return &window{
		id:        id,
		layerName: h.opts.Layer,
		tag:       h.opts.Tag,
		mode:      h.opts.Mode,
		onToggle:  func() { h.ctl.Toggle(id) },
		open:      h.open,
		openSink:  h.openSink,
	}
}

// remove tears down window id and deletes its layer.
func (h *Host) remove(ctx context.Context, id int) {
	h.mu.Lock()
	w, ok := h.wins[id]
	delete(h.wins, id)
	h.mu.Unlock()
	if !ok {
		return
	}
	h.ctl.Teardown(id)
	w.Close()
	logger.L(ctx).Debug("window released", zap.Int("win", id))
}

// Close deletes the layer of every tracked window.  Call it once the
// controller has stopped.
func (h *Host) Close() {
	h.mu.Lock()
	wins := h.wins
	h.wins = make(map[int]*window)
	h.mu.Unlock()
	for _, w := range wins {
		w.Close()
	}
}

// Windows returns the IDs of the tracked windows.
func (h *Host) Windows() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]int, 0, len(h.wins))
	for id := range h.wins {
		ids = append(ids, id)
	}
	return ids
}

// retryOn calls fn until it succeeds, ctx is cancelled or maxAttempts
// is exhausted, waiting delay between attempts.  The errors of every
// failed attempt are combined.
func retryOn[T any](ctx context.Context, maxAttempts int, delay time.Duration, fn func() (T, error)) (T, error) {
	var (
		zero T
		errs error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		errs = multierr.Append(errs, err)
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
	return zero, errs
}
