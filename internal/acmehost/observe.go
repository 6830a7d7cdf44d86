package acmehost

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cptaffe/acme-flow/internal/flow"
)

type observation struct {
	once sync.Once
	aw   acmeWin
}

func (o *observation) Disconnect() {
	o.once.Do(o.aw.CloseFiles)
}

// Observe opens the window's event file and reports body edits to fn
// until the observation is disconnected or the window goes away.
//
// Every insertion or deletion in the body is reported as a changed text
// layer line, since it moves the offsets of the lines after it.
// Executing the toggle command in the tag calls onToggle; all other
// executes and looks are handed back to acme.
func (w *window) Observe(fn func([]flow.Added)) (flow.Observation, error) {
	aw, err := w.open(w.id)
	if err != nil {
		return nil, fmt.Errorf("open window %d: %w", w.id, err)
	}
	if err := aw.OpenEvent(); err != nil {
		aw.CloseFiles()
		return nil, fmt.Errorf("open event file of window %d: %w", w.id, err)
	}
	o := &observation{aw: aw}
	go w.readEvents(aw, fn)
	return o, nil
}

func (w *window) readEvents(aw acmeWin, fn func([]flow.Added)) {
	for {
		ev, err := aw.ReadEvent()
		if err != nil {
			return
		}
		switch ev.C2 {
		case 'I', 'D':
			w.edited(ev.C2 == 'I', ev.Q0, ev.Q1-ev.Q0)
			fn([]flow.Added{{Offset: ev.Q0, TextLayer: true}})
		case 'x', 'X':
			if w.tag != "" && strings.TrimSpace(string(ev.Text)) == w.tag {
				if w.onToggle != nil {
					w.onToggle()
				}
				continue
			}
			aw.WriteEvent(ev) //nolint:errcheck
		case 'l', 'L':
			aw.WriteEvent(ev) //nolint:errcheck
		}
	}
}
