// Package layer is the acme-flow client for the acme-styles compositor.
//
// The compositor is a 9P file server that keeps named layers of style
// runs per acme window and composes them into the window's style file.
// acme-flow owns one layer per window and replaces its contents on every
// gradient pass:
//
//	sl, err := layer.Open(winID, "flow")
//	if err != nil { ... }
//	defer sl.Delete()
//	sl.Apply(palette, runs)
package layer

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"9fans.net/go/plan9"
	"9fans.net/go/plan9/client"

	"github.com/cptaffe/acme-flow/style"
)

// StyleLayer is the flow layer of one acme window.  All layers in the
// process share one compositor mount, which is dropped on any error and
// remounted by the next call.
type StyleLayer struct {
	WinID   int
	LayerID int
	name    string
}

// Service is the name the compositor posts itself under.
var Service = "acme-styles"

var (
	connMu sync.Mutex
	fsys   *client.Fsys
)

// currentFsys returns the shared mount, mounting Service if there is none.
func currentFsys() (*client.Fsys, error) {
	connMu.Lock()
	defer connMu.Unlock()
	if fsys != nil {
		return fsys, nil
	}
	fs, err := client.MountService(Service)
	if err != nil {
		return nil, err
	}
	fsys = fs
	return fs, nil
}

// resetFsys forgets the shared mount after a failed operation.
func resetFsys() {
	connMu.Lock()
	fsys = nil
	connMu.Unlock()
}

// Open attaches to layer name of window winID, allocating it when the
// window has no layer of that name yet.
func Open(winID int, name string) (*StyleLayer, error) {
	fs, err := currentFsys()
	if err != nil {
		return nil, err
	}
	layID, err := FindOrCreate(fs, winID, name)
	if err != nil {
		resetFsys()
		return nil, err
	}
	return &StyleLayer{WinID: winID, LayerID: layID, name: name}, nil
}

// Apply replaces the layer's contents with palette and runs.  An empty
// run list clears the layer instead.  Opening the layer's style file
// OWRITE makes the compositor replace its contents atomically; the flush
// fires at fid clunk.
func (sl *StyleLayer) Apply(palette []style.PaletteEntry, runs []style.StyleRun) error {
	if sl == nil {
		return nil
	}
	if len(runs) == 0 {
		sl.Clear()
		return nil
	}
	return sl.Write(style.Format(palette, runs))
}

// Write replaces the layer with text, which is already in wire format.
func (sl *StyleLayer) Write(text string) error {
	if sl == nil {
		return nil
	}
	fid, err := sl.openStyle()
	if err != nil {
		return err
	}
	defer fid.Close()
	if _, err := fid.Write([]byte(text)); err != nil {
		resetFsys()
		return err
	}
	return nil
}

// openStyle opens the layer's style file for writing.  A failed open
// means the compositor lost the layer, so it is looked up or allocated
// again under the same name and the open retried once.
func (sl *StyleLayer) openStyle() (*client.Fid, error) {
	fs, err := currentFsys()
	if err != nil {
		return nil, err
	}
	if fid, err := fs.Open(sl.path("style"), plan9.OWRITE); err == nil {
		return fid, nil
	}
	resetFsys()
	if fs, err = currentFsys(); err != nil {
		return nil, err
	}
	id, err := FindOrCreate(fs, sl.WinID, sl.name)
	if err != nil {
		resetFsys()
		return nil, fmt.Errorf("reallocate layer %q: %w", sl.name, err)
	}
	sl.LayerID = id
	fid, err := fs.Open(sl.path("style"), plan9.OWRITE)
	if err != nil {
		resetFsys()
		return nil, err
	}
	return fid, nil
}

// path names file within the layer's directory.
func (sl *StyleLayer) path(file string) string {
	return fmt.Sprintf("%d/layers/%d/%s", sl.WinID, sl.LayerID, file)
}

// Clear empties the layer and makes the compositor repaint the window.
func (sl *StyleLayer) Clear() {
	if sl == nil {
		return
	}
	sl.ctl("clear\n")
}

// Delete removes the layer, taking its colours off the window.
func (sl *StyleLayer) Delete() {
	if sl == nil {
		return
	}
	sl.ctl("delete\n")
}

// ctl writes cmd to the layer's ctl file.  Failures only drop the mount.
func (sl *StyleLayer) ctl(cmd string) {
	fs, err := currentFsys()
	if err != nil {
		return
	}
	fid, err := fs.Open(sl.path("ctl"), plan9.OWRITE)
	if err != nil {
		resetFsys()
		return
	}
	if _, err := fid.Write([]byte(cmd)); err != nil {
		resetFsys()
	}
	fid.Close()
}

// Find reports the ID of layer name in window winID's layers/index.
func Find(fs *client.Fsys, winID int, name string) (int, bool) {
	fid, err := fs.Open(fmt.Sprintf("%d/layers/index", winID), plan9.OREAD)
	if err != nil {
		return 0, false
	}
	data, err := io.ReadAll(fid)
	fid.Close()
	if err != nil {
		return 0, false
	}
	return lookupIndex(string(data), name)
}

// lookupIndex finds name in the text of a layers/index file, whose lines
// read "<id> <name>".  The last matching line wins, since a compositor
// restart can leave a stale entry ahead of the live one.
func lookupIndex(index, name string) (id int, ok bool) {
	for _, line := range strings.Split(index, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 || fields[1] != name {
			continue
		}
		if n, err := strconv.Atoi(fields[0]); err == nil {
			id, ok = n, true
		}
	}
	return id, ok
}

// parseLayerID parses the content of a layers/new file.
func parseLayerID(data []byte) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse layer id %q: %w", string(data), err)
	}
	return id, nil
}

// FindOrCreate is Find, falling back to allocating a layer through
// layers/new and writing name to it.
func FindOrCreate(fs *client.Fsys, winID int, name string) (int, error) {
	if id, ok := Find(fs, winID, name); ok {
		return id, nil
	}

	newFid, err := fs.Open(fmt.Sprintf("%d/layers/new", winID), plan9.OREAD)
	if err != nil {
		return 0, fmt.Errorf("open layers/new: %w", err)
	}
	data, err := io.ReadAll(newFid)
	newFid.Close()
	if err != nil {
		return 0, fmt.Errorf("read layers/new: %w", err)
	}
	layID, err := parseLayerID(data)
	if err != nil {
		return 0, err
	}

	nameFid, err := fs.Open(fmt.Sprintf("%d/layers/%d/name", winID, layID), plan9.OWRITE)
	if err != nil {
		return 0, fmt.Errorf("open layer name: %w", err)
	}
	nameFid.Write([]byte(name)) //nolint:errcheck
	nameFid.Close()

	return layID, nil
}
