package textlayer

import (
	"strings"
	"unicode/utf8"

	"github.com/cptaffe/acme-flow/gradient"
)

// DefaultCycle is the number of characters after which the gradient
// pattern repeats.
const DefaultCycle = 48

// Segment annotates a node with the text it held before colorization.
//
// Original is captured on first contact and never overwritten: a second
// capture would read back generated spans as if they were the original.
type Segment struct {
	Original  string
	Colorized bool
}

// Segments is a per-instance side table of node annotations.  Keeping it
// off the node means two features colouring the same nodes cannot trample
// each other's markers.
type Segments struct {
	m map[*Node]*Segment
}

// NewSegments returns an empty table.
func NewSegments() *Segments {
	return &Segments{m: make(map[*Node]*Segment)}
}

// Lookup returns the annotation for n.
func (t *Segments) Lookup(n *Node) (*Segment, bool) {
	s, ok := t.m[n]
	return s, ok
}

// Len returns the number of annotated nodes.
func (t *Segments) Len() int { return len(t.m) }

// capture returns n's annotation, recording its live text if n has not
// been seen before.
func (t *Segments) capture(n *Node) *Segment {
	if s, ok := t.m[n]; ok {
		return s
	}
	s := &Segment{Original: n.Text()}
	t.m[n] = s
	return s
}

// Colorizer paints text layer lines with a gradient cycle.
type Colorizer struct {
	Stops gradient.Stops
	Cycle int
}

// NewColorizer returns a colorizer over stops.  A non-positive cycle
// selects DefaultCycle.
func NewColorizer(stops gradient.Stops, cycle int) *Colorizer {
	if cycle <= 0 {
		cycle = DefaultCycle
	}
	return &Colorizer{Stops: stops, Cycle: cycle}
}

// Apply colours every line in order and returns the final running offset.
//
// The offset is shared across lines so the gradient flows through the
// renderer's own fragmentation instead of restarting at every node.  The
// end colour is taken from mode on each call.  Whitespace-only lines stay
// uncoloured but still advance the offset.  Nodes no longer present in
// lines are restored and their annotations dropped.
func (c *Colorizer) Apply(tab *Segments, lines []*Node, mode gradient.Mode) int {
	cycle := c.Cycle
	if cycle <= 0 {
		cycle = DefaultCycle
	}
	palette := c.Stops.Cycle(cycle, c.Stops.End(mode))
	seen := make(map[*Node]bool, len(lines))
	offset := 0
	for _, n := range lines {
		if n == nil {
			continue
		}
		seen[n] = true
		orig := n.Text()
		if s, ok := tab.Lookup(n); ok {
			orig = s.Original
		}
		if strings.TrimSpace(orig) == "" {
			offset += utf8.RuneCountInString(orig)
			continue
		}
		seg := tab.capture(n)
		runes := []rune(seg.Original)
		spans := make([]Span, len(runes))
		for i, r := range runes {
			spans[i] = Span{Text: string(r), Color: palette[(offset+i)%cycle]}
		}
		n.ReplaceChildren(spans)
		seg.Colorized = true
		offset += len(runes)
	}
	for n, s := range tab.m {
		if seen[n] {
			continue
		}
		if s.Colorized {
			n.SetText(s.Original)
		}
		delete(tab.m, n)
	}
	return offset
}

// Restore puts back the captured original text of every colorized node
// and returns how many nodes were restored.  Nodes never colorized are
// left untouched.
func (c *Colorizer) Restore(tab *Segments) int {
	restored := 0
	for n, s := range tab.m {
		if !s.Colorized {
			continue
		}
		n.SetText(s.Original)
		s.Colorized = false
		restored++
	}
	clear(tab.m)
	return restored
}
