// Package pager is a terminal viewer for one file with the flow overlay.
//
// The pager is a flow host with a single instance.  Its content root is
// the file's lines; Commit redraws the screen from them, so colorized
// spans show in their gradient colours and restored lines in the
// terminal's default colour.
package pager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"
	"go.uber.org/zap"

	"github.com/cptaffe/acme-flow/gradient"
	"github.com/cptaffe/acme-flow/internal/flow"
	"github.com/cptaffe/acme-flow/logger"
	"github.com/cptaffe/acme-flow/textlayer"
)

// InstanceID is the pager's only flow instance.
const InstanceID = 1

const tabWidth = 8

// cell is one rune of a rendered row.
type cell struct {
	r     rune
	color gradient.RGB
	plain bool
}

// Pager shows one file on a tcell screen.
type Pager struct {
	ctx    context.Context
	ctl    *flow.Controller
	screen tcell.Screen
	path   string
	mode   func() gradient.Mode

	// Loop-owned: read by Lines, replaced after a reload.
	nodes []*textlayer.Node

	mu      sync.Mutex
	texts   []string // last loaded content
	stale   bool
	rows    [][]cell
	top     int
	enabled bool
}

var _ flow.Root = (*Pager)(nil)

// New loads path and returns a pager drawing on screen, which must
// already be initialised.
func New(ctx context.Context, ctl *flow.Controller, screen tcell.Screen, path string, mode func() gradient.Mode) (*Pager, error) {
	texts, err := readLines(path)
	if err != nil {
		return nil, err
	}
	p := &Pager{
		ctx:     ctx,
		ctl:     ctl,
		screen:  screen,
		path:    filepath.Clean(path),
		mode:    mode,
		texts:   texts,
		stale:   true,
		enabled: true,
	}
	return p, nil
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	s := strings.TrimSuffix(string(data), "\n")
	if s == "" {
		return nil, nil
	}
	return strings.Split(s, "\n"), nil
}

// ---- flow.Root ----

// Lines returns one node per line of the file, rebuilding the nodes
// after a reload.
func (p *Pager) Lines() ([]*textlayer.Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stale {
		p.nodes = make([]*textlayer.Node, len(p.texts))
		for i, s := range p.texts {
			p.nodes[i] = textlayer.NewNode(s)
			p.nodes[i].Offset = i
		}
		p.stale = false
	}
	return p.nodes, nil
}

func (p *Pager) Mode() gradient.Mode {
	if p.mode == nil {
		return gradient.Light
	}
	return p.mode()
}

// Commit renders lines into rows and redraws.
func (p *Pager) Commit(lines []*textlayer.Node) error {
	rows := make([][]cell, len(lines))
	for i, n := range lines {
		if spans := n.Spans(); spans != nil {
			row := make([]cell, 0, len(spans))
			for _, s := range spans {
				for _, r := range s.Text {
					row = append(row, cell{r: r, color: s.Color})
				}
			}
			rows[i] = row
			continue
		}
		for _, r := range n.Text() {
			rows[i] = append(rows[i], cell{r: r, plain: true})
		}
	}
	p.mu.Lock()
	p.rows = rows
	p.draw()
	p.mu.Unlock()
	return nil
}

type watch struct {
	w    *fsnotify.Watcher
	once sync.Once
}

func (o *watch) Disconnect() {
	o.once.Do(func() { o.w.Close() })
}

// Observe reloads the file whenever it is written and reports the lines
// that differ from the previous load as added text.
func (p *Pager) Observe(fn func([]flow.Added)) (flow.Observation, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(p.path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", p.path, err)
	}
	go func() {
		log := logger.L(p.ctx).With(zap.String("path", p.path))
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != p.path || !ev.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				added, err := p.reload()
				if err != nil {
					log.Warn("reload", zap.Error(err))
					continue
				}
				if len(added) > 0 {
					fn(added)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("file watcher", zap.Error(err))
			}
		}
	}()
	return &watch{w: w}, nil
}

// reload rereads the file.  It returns an Added for every line whose
// text differs from the line at the same position before.
func (p *Pager) reload() ([]flow.Added, error) {
	texts, err := readLines(p.path)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var added []flow.Added
	for i, s := range texts {
		if i >= len(p.texts) || p.texts[i] != s {
			added = append(added, flow.Added{Offset: i, TextLayer: true})
		}
	}
	if len(added) == 0 && len(texts) < len(p.texts) {
		// Only trailing lines were removed; the rest still needs a
		// redraw.
		added = append(added, flow.Added{Offset: len(texts), TextLayer: true})
	}
	if len(added) > 0 {
		p.texts = texts
		p.stale = true
	}
	return added, nil
}

// ---- terminal ----

// Run shows the file until the user quits or ctx is cancelled.  It
// registers the pager with the controller first and tears the instance
// down on the way out.
func (p *Pager) Run(ctx context.Context) error {
	if !p.ctl.Ready(InstanceID, p.path, p) {
		return fmt.Errorf("%s: not accepted as a text document", p.path)
	}
	defer p.ctl.Teardown(InstanceID)

	// PollEvent returns nil once the screen is finalised.
	events := make(chan tcell.Event, 16)
	go func() {
		for {
			ev := p.screen.PollEvent()
			if ev == nil {
				close(events)
				return
			}
			events <- ev
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev := ev.(type) {
			case *tcell.EventKey:
				if !p.handleKey(ev.Key(), ev.Rune()) {
					return nil
				}
			case *tcell.EventResize:
				p.mu.Lock()
				p.screen.Sync()
				p.draw()
				p.mu.Unlock()
			}
		}
	}
}

// handleKey acts on one key press.  It reports false when the pager
// should quit.
func (p *Pager) handleKey(key tcell.Key, r rune) bool {
	switch key {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return false
	case tcell.KeyUp:
		p.scroll(-1)
	case tcell.KeyDown, tcell.KeyEnter:
		p.scroll(1)
	case tcell.KeyPgUp:
		p.scroll(-p.page())
	case tcell.KeyPgDn:
		p.scroll(p.page())
	case tcell.KeyRune:
		switch r {
		case 'q':
			return false
		case 'f':
			if enabled, ok := p.ctl.Toggle(InstanceID); ok {
				p.mu.Lock()
				p.enabled = enabled
				p.draw()
				p.mu.Unlock()
			}
		case 'k':
			p.scroll(-1)
		case 'j':
			p.scroll(1)
		case ' ':
			p.scroll(p.page())
		case 'b':
			p.scroll(-p.page())
		}
	}
	return true
}

func (p *Pager) page() int {
	_, h := p.screen.Size()
	if h <= 2 {
		return 1
	}
	return h - 2
}

func (p *Pager) scroll(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	top := p.top + n
	if top > len(p.rows)-1 {
		top = len(p.rows) - 1
	}
	if top < 0 {
		top = 0
	}
	p.top = top
	p.draw()
}

func (p *Pager) redraw() {
	p.mu.Lock()
	p.draw()
	p.mu.Unlock()
}

// draw paints the visible rows and the status line.  p.mu must be held.
func (p *Pager) draw() {
	s := p.screen
	s.Clear()
	w, h := s.Size()
	for y := 0; y < h-1 && p.top+y < len(p.rows); y++ {
		x := 0
		for _, c := range p.rows[p.top+y] {
			if x >= w {
				break
			}
			st := tcell.StyleDefault
			if !c.plain {
				st = st.Foreground(tcell.NewRGBColor(int32(c.color.R), int32(c.color.G), int32(c.color.B)))
			}
			if c.r == '\t' {
				next := (x/tabWidth + 1) * tabWidth
				for ; x < next && x < w; x++ {
					s.SetContent(x, y, ' ', nil, st)
				}
				continue
			}
			s.SetContent(x, y, c.r, nil, st)
			x += runewidth.RuneWidth(c.r)
		}
	}
	p.drawStatus(w, h-1)
	s.Show()
}

// drawStatus shows whether the overlay is on: bold when it is, dimmed
// when it is not.
func (p *Pager) drawStatus(w, y int) {
	if y < 0 {
		return
	}
	label, st := "flow off", tcell.StyleDefault.Dim(true)
	if p.enabled {
		label, st = "flow on", tcell.StyleDefault.Bold(true)
	}
	x := 0
	for _, r := range label {
		p.screen.SetContent(x, y, r, nil, st)
		x += runewidth.RuneWidth(r)
	}
	name := " " + p.path
	for _, r := range name {
		if x+runewidth.RuneWidth(r) > w {
			break
		}
		p.screen.SetContent(x, y, r, nil, tcell.StyleDefault)
		x += runewidth.RuneWidth(r)
	}
}
