package acmehost

import (
	"errors"
	"sync"
	"testing"
	"time"

	"9fans.net/go/acme"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cptaffe/acme-flow/gradient"
	"github.com/cptaffe/acme-flow/internal/flow"
	"github.com/cptaffe/acme-flow/style"
	"github.com/cptaffe/acme-flow/textlayer"
)

func testWindow(a *fakeAcme, s *fakeSink) *window {
	return &window{
		id:        7,
		layerName: "flow",
		tag:       "Flow",
		open:      func(int) (acmeWin, error) { return a.open() },
		openSink: func(int, string) (sink, error) {
			if s == nil {
				return nil, errors.New("fake: compositor down")
			}
			return s, nil
		},
	}
}

func TestSplitLines(t *testing.T) {
	lines := splitLines("ab\n\ncé\nx")
	require.Len(t, lines, 4)
	var texts []string
	var offs []int
	for _, n := range lines {
		texts = append(texts, n.Text())
		offs = append(offs, n.Offset)
	}
	assert.Equal(t, []string{"ab", "", "cé", "x"}, texts)
	assert.Equal(t, []int{0, 3, 4, 7}, offs)

	assert.Len(t, splitLines("one\n"), 1, "no node after the final newline")
	assert.Empty(t, splitLines(""))
}

func TestLinesCachedUntilEdited(t *testing.T) {
	a := newFakeAcme("hello\nworld\n")
	w := testWindow(a, nil)

	first, err := w.Lines()
	require.NoError(t, err)
	again, err := w.Lines()
	require.NoError(t, err)
	assert.Same(t, first[0], again[0])
	assert.Equal(t, 1, a.openCount())

	a.setBody("hello\nthere\nworld\n")
	w.edited(true, 6, 6)
	fresh, err := w.Lines()
	require.NoError(t, err)
	require.Len(t, fresh, 3)
	assert.Equal(t, "there", fresh[1].Text())
	assert.Equal(t, 12, fresh[2].Offset)
}

func TestLinesUnavailable(t *testing.T) {
	a := newFakeAcme("x")
	a.failOpen = true
	_, err := testWindow(a, nil).Lines()
	assert.ErrorIs(t, err, flow.ErrUnavailable)
}

func TestCompose(t *testing.T) {
	a, b := textlayer.NewNode("ab"), textlayer.NewNode("a")
	b.Offset = 3
	lines := []*textlayer.Node{a, b}
	textlayer.NewColorizer(gradient.DefaultStops, 2).Apply(textlayer.NewSegments(), lines, gradient.Light)

	pal, runs := compose(lines)
	assert.Equal(t, []style.PaletteEntry{
		{Name: "flow_1a73e8", FG: "#1a73e8"},
		{Name: "flow_dc2626", FG: "#dc2626"},
	}, pal)
	assert.Equal(t, []style.StyleRun{
		{Name: "flow_1a73e8", Start: 0, End: 1},
		{Name: "flow_dc2626", Start: 1, End: 2},
		{Name: "flow_1a73e8", Start: 3, End: 4},
	}, runs)

	pal, runs = compose([]*textlayer.Node{textlayer.NewNode("plain")})
	assert.Nil(t, pal)
	assert.Nil(t, runs)
}

func TestCommit(t *testing.T) {
	s := &fakeSink{}
	w := testWindow(newFakeAcme(""), s)
	seg := textlayer.NewSegments()
	c := textlayer.NewColorizer(gradient.DefaultStops, 48)
	lines := []*textlayer.Node{textlayer.NewNode("hello")}

	require.NoError(t, w.Commit(lines), "plain lines never open the layer")
	assert.Nil(t, w.sink)

	c.Apply(seg, lines, gradient.Light)
	require.NoError(t, w.Commit(lines))
	require.NoError(t, w.Commit(lines))
	runs, applies := s.last()
	assert.Equal(t, 1, applies, "unchanged composition is not rewritten")
	q0, q1 := span(runs)
	assert.Equal(t, [2]int{0, 5}, [2]int{q0, q1})

	// An insertion before the line moves the compositor's runs along
	// with the text; the same colours one rune later need no write.
	w.edited(true, 0, 1)
	lines[0].Offset = 1
	require.NoError(t, w.Commit(lines))
	_, applies = s.last()
	assert.Equal(t, 1, applies)

	c.Restore(seg)
	require.NoError(t, w.Commit(lines))
	runs, applies = s.last()
	assert.Equal(t, 2, applies)
	assert.Empty(t, runs)

	w.Close()
	assert.True(t, s.isDeleted())
}

func TestCommitLayerUnreachable(t *testing.T) {
	w := testWindow(newFakeAcme(""), nil)
	lines := []*textlayer.Node{textlayer.NewNode("hi")}
	textlayer.NewColorizer(gradient.DefaultStops, 48).Apply(textlayer.NewSegments(), lines, gradient.Light)
	assert.ErrorContains(t, w.Commit(lines), `open layer "flow"`)
}

func TestObserve(t *testing.T) {
	a := newFakeAcme("hello\n")
	w := testWindow(a, nil)
	var (
		mu      sync.Mutex
		added   []flow.Added
		toggles int
	)
	w.onToggle = func() {
		mu.Lock()
		toggles++
		mu.Unlock()
	}
	obs, err := w.Observe(func(batch []flow.Added) {
		mu.Lock()
		added = append(added, batch...)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer obs.Disconnect()

	_, err = w.Lines()
	require.NoError(t, err)

	a.events <- &acme.Event{C1: 'K', C2: 'I', Q0: 2, Q1: 4, Nr: 2}
	a.events <- &acme.Event{C1: 'M', C2: 'x', Text: []byte("Flow")}
	a.events <- &acme.Event{C1: 'M', C2: 'x', Text: []byte("Put")}
	a.events <- &acme.Event{C1: 'M', C2: 'L', Q0: 0, Q1: 5, Text: []byte("hello")}
	a.events <- &acme.Event{C1: 'K', C2: 'i', Q0: 0, Q1: 1}

	assert.Eventually(t, func() bool { return len(a.writtenEvents()) == 2 }, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []flow.Added{{Offset: 2, TextLayer: true}}, added)
	assert.Equal(t, 1, toggles)
	mu.Unlock()

	written := a.writtenEvents()
	assert.Equal(t, "Put", string(written[0].Text))
	assert.Equal(t, int('L'), int(written[1].C2))

	w.mu.Lock()
	assert.True(t, w.stale)
	w.mu.Unlock()
}
