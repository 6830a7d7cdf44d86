package flow

import (
	"errors"

	"github.com/cptaffe/acme-flow/gradient"
	"github.com/cptaffe/acme-flow/textlayer"
)

// ErrUnavailable reports that a viewer's content is not laid out yet, or
// is being torn down.  Hosts wrap it; the controller treats it as a
// transient condition and waits for the next event.
var ErrUnavailable = errors.New("content unavailable")

// Added describes one node that appeared under a content root.
type Added struct {
	Offset    int
	TextLayer bool // the node is, or contains, a renderable text layer line
}

// Observation is a live subscription returned by Root.Observe.
type Observation interface {
	Disconnect()
}

// Root is a viewer instance's rendered content.
type Root interface {
	// Lines returns the text layer lines in document order.
	Lines() ([]*textlayer.Node, error)
	// Mode reports the current presentation mode.  It is queried on
	// every pass.
	Mode() gradient.Mode
	// Commit pushes the lines' current state to the viewer.
	Commit(lines []*textlayer.Node) error
	// Observe calls fn with each batch of structural changes until the
	// observation is disconnected.  fn may be called from any goroutine.
	Observe(fn func([]Added)) (Observation, error)
}
