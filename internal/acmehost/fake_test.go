package acmehost

import (
	"errors"
	"fmt"
	"sync"

	"9fans.net/go/acme"

	"github.com/cptaffe/acme-flow/style"
)

// fakeAcme is one acme window.  Every open returns a new handle onto it.
type fakeAcme struct {
	mu       sync.Mutex
	body     string
	tag      string
	opens    int
	written  []*acme.Event
	events   chan *acme.Event
	failOpen bool
}

func newFakeAcme(body string) *fakeAcme {
	return &fakeAcme{body: body, events: make(chan *acme.Event, 16)}
}

func (a *fakeAcme) setBody(s string) {
	a.mu.Lock()
	a.body = s
	a.mu.Unlock()
}

func (a *fakeAcme) tagText() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tag
}

func (a *fakeAcme) writtenEvents() []*acme.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*acme.Event(nil), a.written...)
}

func (a *fakeAcme) openCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.opens
}

func (a *fakeAcme) open() (acmeWin, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failOpen {
		return nil, errors.New("fake: no such window")
	}
	a.opens++
	return &fakeHandle{a: a, closed: make(chan struct{})}, nil
}

type fakeHandle struct {
	a      *fakeAcme
	once   sync.Once
	closed chan struct{}
}

func (h *fakeHandle) ReadAll(file string) ([]byte, error) {
	if file != "body" {
		return nil, fmt.Errorf("fake: read %s", file)
	}
	h.a.mu.Lock()
	defer h.a.mu.Unlock()
	return []byte(h.a.body), nil
}

func (h *fakeHandle) Fprintf(file, format string, args ...any) error {
	if file != "tag" {
		return fmt.Errorf("fake: write %s", file)
	}
	h.a.mu.Lock()
	defer h.a.mu.Unlock()
	h.a.tag += fmt.Sprintf(format, args...)
	return nil
}

func (h *fakeHandle) OpenEvent() error { return nil }

func (h *fakeHandle) ReadEvent() (*acme.Event, error) {
	select {
	case ev := <-h.a.events:
		return ev, nil
	case <-h.closed:
		return nil, errors.New("fake: closed")
	}
}

func (h *fakeHandle) WriteEvent(e *acme.Event) error {
	h.a.mu.Lock()
	defer h.a.mu.Unlock()
	h.a.written = append(h.a.written, e)
	return nil
}

func (h *fakeHandle) CloseFiles() {
	h.once.Do(func() { close(h.closed) })
}

// fakeSink records what would be written to the compositor.
type fakeSink struct {
	mu      sync.Mutex
	applies int
	palette []style.PaletteEntry
	runs    []style.StyleRun
	deleted bool
}

func (s *fakeSink) Apply(palette []style.PaletteEntry, runs []style.StyleRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applies++
	s.palette = palette
	s.runs = append([]style.StyleRun(nil), runs...)
	return nil
}

func (s *fakeSink) Delete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = true
}

func (s *fakeSink) last() ([]style.StyleRun, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs, s.applies
}

func (s *fakeSink) isDeleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleted
}

// span returns the interval covered by runs.
func span(runs []style.StyleRun) (q0, q1 int) {
	if len(runs) == 0 {
		return 0, 0
	}
	return runs[0].Start, runs[len(runs)-1].End
}
