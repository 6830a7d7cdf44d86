package ctlfs

import (
	"context"
	"net"
	"sort"
	"sync"
	"testing"

	"9fans.net/go/plan9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cptaffe/acme-flow/internal/flow"
)

type fakeCtl struct {
	mu        sync.Mutex
	snaps     map[int]*flow.Snapshot
	refreshed []int
	all       int
	stopped   bool
}

func newFakeCtl(snaps ...flow.Snapshot) *fakeCtl {
	c := &fakeCtl{snaps: make(map[int]*flow.Snapshot)}
	for i := range snaps {
		c.snaps[snaps[i].ID] = &snaps[i]
	}
	return c
}

func (c *fakeCtl) IDs() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []int
	for id := range c.snaps {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (c *fakeCtl) State(id int) (flow.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.snaps[id]
	if !ok {
		return flow.Snapshot{}, false
	}
	return *s, true
}

func (c *fakeCtl) SetEnabled(id int, enabled bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.snaps[id]
	if ok {
		s.Enabled = enabled
	}
	return ok
}

func (c *fakeCtl) Toggle(id int) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.snaps[id]
	if !ok {
		return false, false
	}
	s.Enabled = !s.Enabled
	return s.Enabled, true
}

func (c *fakeCtl) Refresh(id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.snaps[id]
	if ok {
		c.refreshed = append(c.refreshed, id)
	}
	return ok
}

func (c *fakeCtl) RefreshAll() {
	c.mu.Lock()
	c.all++
	c.mu.Unlock()
}

func (c *fakeCtl) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.snaps = make(map[int]*flow.Snapshot)
	c.mu.Unlock()
}

// client drives a conn one Fcall at a time.
type client struct {
	t   *testing.T
	cn  *conn
	tag uint16
}

func newClient(t *testing.T, ctl Controller) *client {
	s := New(context.Background(), ctl)
	c := &client{t: t, cn: &conn{srv: s, fids: make(map[uint32]*fid), msize: 8192 + plan9.IOHDRSZ}}
	r := c.rpc(&plan9.Fcall{Type: plan9.Tversion, Msize: 8192, Version: "9P2000"})
	require.Equal(t, "9P2000", r.Version)
	c.rpc(&plan9.Fcall{Type: plan9.Tattach, Fid: 0, Afid: plan9.NOFID, Uname: "glenda"})
	return c
}

func (c *client) rpc(fc *plan9.Fcall) *plan9.Fcall {
	c.tag++
	fc.Tag = c.tag
	r := c.cn.dispatch(fc)
	require.Equal(c.t, fc.Tag, r.Tag)
	return r
}

// open walks from the root to path on newfid and opens it.
func (c *client) open(newfid uint32, mode uint8, path ...string) *plan9.Fcall {
	r := c.rpc(&plan9.Fcall{Type: plan9.Twalk, Fid: 0, Newfid: newfid, Wname: path})
	if r.Type == plan9.Rerror {
		return r
	}
	return c.rpc(&plan9.Fcall{Type: plan9.Topen, Fid: newfid, Mode: mode})
}

func (c *client) read(fid uint32) string {
	r := c.rpc(&plan9.Fcall{Type: plan9.Tread, Fid: fid, Count: 8192})
	require.Equal(c.t, uint8(plan9.Rread), r.Type, r.Ename)
	return string(r.Data)
}

func (c *client) write(fid uint32, s string) *plan9.Fcall {
	return c.rpc(&plan9.Fcall{Type: plan9.Twrite, Fid: fid, Data: []byte(s)})
}

func (c *client) clunk(fid uint32) *plan9.Fcall {
	return c.rpc(&plan9.Fcall{Type: plan9.Tclunk, Fid: fid})
}

func TestState(t *testing.T) {
	ctl := newFakeCtl(flow.Snapshot{ID: 12, DocType: "/n/notes.txt", Enabled: true, Passes: 3})
	c := newClient(t, ctl)

	r := c.open(1, plan9.OREAD, "12", "state")
	require.Equal(t, uint8(plan9.Ropen), r.Type, r.Ename)
	assert.Equal(t, "on\n/n/notes.txt\n3\n", c.read(1))
	c.clunk(1)

	r = c.open(2, plan9.OWRITE, "12", "state")
	assert.Equal(t, "permission denied", r.Ename)

	r = c.open(3, plan9.OREAD, "99", "state")
	assert.Equal(t, errNoFile.Error(), r.Ename)
}

func TestInstanceCtl(t *testing.T) {
	ctl := newFakeCtl(flow.Snapshot{ID: 5, Enabled: true})
	c := newClient(t, ctl)

	r := c.open(1, plan9.OWRITE, "5", "ctl")
	require.Equal(t, uint8(plan9.Ropen), r.Type, r.Ename)

	r = c.write(1, "off\n")
	require.Equal(t, uint8(plan9.Rwrite), r.Type, r.Ename)
	assert.Equal(t, uint32(4), r.Count)
	snap, _ := ctl.State(5)
	assert.False(t, snap.Enabled)

	c.write(1, "tog")
	snap, _ = ctl.State(5)
	assert.False(t, snap.Enabled, "partial line waits for its newline")
	c.write(1, "gle\nrefresh\n")
	snap, _ = ctl.State(5)
	assert.True(t, snap.Enabled)
	assert.Equal(t, []int{5}, ctl.refreshed)

	r = c.write(1, "explode\n")
	assert.Equal(t, "unknown ctl command: explode", r.Ename)

	c.write(1, "off")
	c.clunk(1)
	snap, _ = ctl.State(5)
	assert.False(t, snap.Enabled, "clunk runs the unterminated command")
}

func TestInstanceGone(t *testing.T) {
	ctl := newFakeCtl(flow.Snapshot{ID: 5})
	c := newClient(t, ctl)
	c.open(1, plan9.OWRITE, "5", "ctl")
	ctl.Stop()
	r := c.write(1, "on\n")
	assert.Equal(t, errGone.Error(), r.Ename)
}

func TestRootCtl(t *testing.T) {
	ctl := newFakeCtl(flow.Snapshot{ID: 1, Enabled: true}, flow.Snapshot{ID: 2, Enabled: true})
	c := newClient(t, ctl)

	c.open(1, plan9.OWRITE, "ctl")
	c.write(1, "off\n")
	for _, id := range []int{1, 2} {
		snap, _ := ctl.State(id)
		assert.False(t, snap.Enabled)
	}
	c.write(1, "refresh\nstop\n")
	assert.Equal(t, 1, ctl.all)
	assert.True(t, ctl.stopped)
}

func TestWalkAndReadDir(t *testing.T) {
	ctl := newFakeCtl(flow.Snapshot{ID: 3}, flow.Snapshot{ID: 8})
	c := newClient(t, ctl)

	r := c.rpc(&plan9.Fcall{Type: plan9.Twalk, Fid: 0, Newfid: 1, Wname: []string{"3", "..", "8", "state"}})
	require.Equal(t, uint8(plan9.Rwalk), r.Type, r.Ename)
	require.Len(t, r.Wqid, 4)
	assert.Equal(t, makePath(ftState, 8), r.Wqid[3].Path)

	r = c.rpc(&plan9.Fcall{Type: plan9.Twalk, Fid: 0, Newfid: 2, Wname: []string{"3", "nope"}})
	assert.Len(t, r.Wqid, 1, "partial walk")
	_, ok := c.cn.fids[2]
	assert.False(t, ok, "newfid is not bound by a partial walk")

	c.open(4, plan9.OREAD)
	data := []byte(c.read(4))
	var names []string
	for len(data) > 0 {
		n := int(data[0]) | int(data[1])<<8
		d, err := plan9.UnmarshalDir(data[:n+2])
		require.NoError(t, err)
		names = append(names, d.Name)
		data = data[n+2:]
	}
	assert.Equal(t, []string{"ctl", "3", "8"}, names)

	r = c.rpc(&plan9.Fcall{Type: plan9.Tstat, Fid: 4})
	require.Equal(t, uint8(plan9.Rstat), r.Type, r.Ename)
	d, err := plan9.UnmarshalDir(r.Stat)
	require.NoError(t, err)
	assert.True(t, d.Mode&plan9.DMDIR != 0)
}

func TestServeConn(t *testing.T) {
	ctl := newFakeCtl(flow.Snapshot{ID: 2, DocType: "x.txt"})
	s := New(context.Background(), ctl)
	cli, srv := net.Pipe()
	go s.ServeConn(srv)
	defer cli.Close()

	rpc := func(fc *plan9.Fcall) *plan9.Fcall {
		require.NoError(t, plan9.WriteFcall(cli, fc))
		r, err := plan9.ReadFcall(cli)
		require.NoError(t, err)
		return r
	}
	rpc(&plan9.Fcall{Type: plan9.Tversion, Tag: plan9.NOTAG, Msize: 8192, Version: "9P2000"})
	rpc(&plan9.Fcall{Type: plan9.Tattach, Tag: 1, Fid: 0, Afid: plan9.NOFID, Uname: "glenda"})
	rpc(&plan9.Fcall{Type: plan9.Twalk, Tag: 2, Fid: 0, Newfid: 1, Wname: []string{"2", "ctl"}})
	rpc(&plan9.Fcall{Type: plan9.Topen, Tag: 3, Fid: 1, Mode: plan9.OWRITE})
	r := rpc(&plan9.Fcall{Type: plan9.Twrite, Tag: 4, Fid: 1, Data: []byte("on\n")})
	assert.Equal(t, uint8(plan9.Rwrite), r.Type, r.Ename)

	snap, _ := ctl.State(2)
	assert.True(t, snap.Enabled)
}
