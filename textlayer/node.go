// Package textlayer recolours rendered text one character at a time.
//
// A Node is one text layer line as produced by a host renderer.  Its
// content is either a single text child (the renderer's own output) or,
// once colorized, a sequence of generated one-character Spans.  The
// Colorizer moves nodes between the two shapes and guarantees that the
// renderer's text comes back exactly as it was.
package textlayer

import (
	"strings"

	"github.com/cptaffe/acme-flow/gradient"
)

// Span is a generated child holding exactly one character.
type Span struct {
	Text  string
	Color gradient.RGB
}

// Node is a text layer line.
type Node struct {
	// Offset is a host-assigned position (for acme, the rune offset of
	// the line in the window body).  The colorizer does not read it.
	Offset int

	text  string
	spans []Span
}

// NewNode returns a node holding a single text child.
func NewNode(text string) *Node {
	return &Node{text: text}
}

// Text returns the node's live text content.
func (n *Node) Text() string {
	if n.spans == nil {
		return n.text
	}
	var sb strings.Builder
	for _, s := range n.spans {
		sb.WriteString(s.Text)
	}
	return sb.String()
}

// SetText replaces the node's children with a single text child.
func (n *Node) SetText(s string) {
	n.text = s
	n.spans = nil
}

// ReplaceChildren replaces the node's children with spans.
func (n *Node) ReplaceChildren(spans []Span) {
	n.text = ""
	n.spans = spans
}

// Spans returns the generated children, or nil when the node holds
// plain text.
func (n *Node) Spans() []Span {
	return n.spans
}

// Colorized reports whether the node currently holds generated spans.
func (n *Node) Colorized() bool {
	return n.spans != nil
}
