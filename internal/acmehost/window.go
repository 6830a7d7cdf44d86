package acmehost

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"9fans.net/go/acme"
	"github.com/cptaffe/acme-flow/gradient"
	"github.com/cptaffe/acme-flow/internal/flow"
	"github.com/cptaffe/acme-flow/layer"
	"github.com/cptaffe/acme-flow/style"
	"github.com/cptaffe/acme-flow/textlayer"
)

// acmeWin is the subset of *acme.Win a window root uses.
type acmeWin interface {
	ReadAll(file string) ([]byte, error)
	Fprintf(file, format string, args ...any) error
	OpenEvent() error
	ReadEvent() (*acme.Event, error)
	WriteEvent(e *acme.Event) error
	CloseFiles()
}

// sink receives composed style runs for one window.
type sink interface {
	Apply(palette []style.PaletteEntry, runs []style.StyleRun) error
	Delete()
}

func openAcme(id int) (acmeWin, error) {
	w, err := acme.Open(id, nil)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func openLayer(id int, name string) (sink, error) {
	sl, err := layer.Open(id, name)
	if err != nil {
		return nil, err
	}
	return sl, nil
}

// window is the content root of one acme window.  Each body line is a
// text layer line; Commit turns colorized lines into runs in the window's
// compositor layer.
type window struct {
	id        int
	layerName string
	tag       string
	mode      func() gradient.Mode
	onToggle  func()

	open     func(id int) (acmeWin, error)
	openSink func(id int, name string) (sink, error)

	mu       sync.Mutex
	lines    []*textlayer.Node
	stale    bool
	prevPal  []style.PaletteEntry
	prevRuns []style.StyleRun // as the compositor holds them after edits

	sink sink // owned by the controller loop via Commit, and by Close
}

var _ flow.Root = (*window)(nil)

// Lines returns the body split into lines.  The nodes are reused until an
// edit marks them stale, so annotations survive passes that only repaint.
func (w *window) Lines() ([]*textlayer.Node, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lines != nil && !w.stale {
		return w.lines, nil
	}
	aw, err := w.open(w.id)
	if err != nil {
		return nil, fmt.Errorf("open window %d: %w: %w", w.id, flow.ErrUnavailable, err)
	}
	defer aw.CloseFiles()
	body, err := aw.ReadAll("body")
	if err != nil {
		return nil, fmt.Errorf("read body of window %d: %w: %w", w.id, flow.ErrUnavailable, err)
	}
	w.lines = splitLines(string(body))
	w.stale = false
	return w.lines, nil
}

// splitLines returns one node per line, without the newline, with Offset
// set to the line's rune offset in body.
func splitLines(body string) []*textlayer.Node {
	var out []*textlayer.Node
	off := 0
	for {
		i := strings.IndexByte(body, '\n')
		if i < 0 {
			break
		}
		line := body[:i]
		n := textlayer.NewNode(line)
		n.Offset = off
		out = append(out, n)
		off += utf8.RuneCountInString(line) + 1
		body = body[i+1:]
	}
	if body != "" {
		n := textlayer.NewNode(body)
		n.Offset = off
		out = append(out, n)
	}
	return out
}

func (w *window) Mode() gradient.Mode {
	if w.mode == nil {
		return gradient.Light
	}
	return w.mode()
}

// edited records a body edit: n runes inserted at q0 when insert is set,
// runes [q0, q0+n) deleted otherwise.
func (w *window) edited(insert bool, q0, n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stale = true
	if insert {
		shiftInsert(w.prevRuns, q0, n)
	} else {
		w.prevRuns = shiftDelete(w.prevRuns, q0, q0+n)
	}
}

// Commit writes the colour runs of lines into the window's layer.  It
// skips the write when the composition is unchanged.
func (w *window) Commit(lines []*textlayer.Node) error {
	pal, runs := compose(lines)
	w.mu.Lock()
	_, _, changed := diffRuns(w.prevRuns, runs)
	changed = changed || !style.PalettesEqual(w.prevPal, pal)
	w.mu.Unlock()
	if !changed {
		return nil
	}
	if w.sink == nil {
		if len(runs) == 0 {
			return nil // nothing was ever written
		}
		s, err := w.openSink(w.id, w.layerName)
		if err != nil {
			return fmt.Errorf("open layer %q: %w", w.layerName, err)
		}
		w.sink = s
	}
	if err := w.sink.Apply(pal, runs); err != nil {
		return fmt.Errorf("write layer %q: %w", w.layerName, err)
	}
	w.mu.Lock()
	w.prevPal, w.prevRuns = pal, append([]style.StyleRun(nil), runs...)
	w.mu.Unlock()
	return nil
}

// Close deletes the window's layer.
func (w *window) Close() {
	if w.sink != nil {
		w.sink.Delete()
		w.sink = nil
	}
	w.mu.Lock()
	w.prevPal, w.prevRuns = nil, nil
	w.mu.Unlock()
}

// paletteName is the palette entry for colour c.
func paletteName(c gradient.RGB) string {
	return "flow_" + strings.TrimPrefix(c.Hex(), "#")
}

// compose turns the spans of colorized lines into a palette and sorted,
// coalesced runs.  Each span holds one rune, so span i of a line sits at
// rune offset line.Offset+i.
func compose(lines []*textlayer.Node) ([]style.PaletteEntry, []style.StyleRun) {
	seen := make(map[gradient.RGB]bool)
	var runs []style.StyleRun
	for _, n := range lines {
		for i, s := range n.Spans() {
			seen[s.Color] = true
			q := n.Offset + i
			runs = append(runs, style.StyleRun{Name: paletteName(s.Color), Start: q, End: q + 1})
		}
	}
	if len(runs) == 0 {
		return nil, nil
	}
	pal := make([]style.PaletteEntry, 0, len(seen))
	for c := range seen {
		pal = append(pal, style.PaletteEntry{Name: paletteName(c), FG: c.Hex()})
	}
	sort.Slice(pal, func(i, j int) bool { return pal[i].Name < pal[j].Name })
	return pal, style.Coalesce(runs)
}
