// Package ctlfs serves acme-flow's control file tree over 9P:
//
//	/ctl          write: stop | refresh | on | off
//	/<id>/ctl     write: on | off | toggle | refresh
//	/<id>/state   read:  on or off, the document name and the pass count
//
// It is posted as the "acme-flow" service so that the usual tools reach
// it, e.g. "9p write acme-flow/12/ctl".
package ctlfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"9fans.net/go/plan9"
	"go.uber.org/zap"

	"github.com/cptaffe/acme-flow/internal/flow"
	"github.com/cptaffe/acme-flow/logger"
)

// Controller is the part of flow.Controller the file tree drives.
type Controller interface {
	IDs() []int
	State(id int) (flow.Snapshot, bool)
	SetEnabled(id int, enabled bool) bool
	Toggle(id int) (enabled, ok bool)
	Refresh(id int) bool
	RefreshAll()
	Stop()
}

var (
	errNoFile = errors.New("no such file")
	errNotDir = errors.New("not a directory")
	errGone   = errors.New("instance gone")
)

// Server answers 9P requests against a Controller.
type Server struct {
	ctx context.Context
	ctl Controller
}

// New returns a server for ctl.  ctx carries the logger and ends Serve.
func New(ctx context.Context, ctl Controller) *Server {
	return &Server{ctx: ctx, ctl: ctl}
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ln net.Listener) error {
	go func() {
		<-s.ctx.Done()
		ln.Close()
	}()
	for {
		c, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			logger.L(s.ctx).Error("accept", zap.Error(err))
			continue
		}
		go s.ServeConn(c)
	}
}

// ServeConn speaks 9P on c until it fails or is closed.
func (s *Server) ServeConn(c io.ReadWriteCloser) {
	defer c.Close()
	log := logger.L(s.ctx)
	cn := &conn{srv: s, fids: make(map[uint32]*fid), msize: 8192 + plan9.IOHDRSZ}
	for {
		fc, err := plan9.ReadFcall(c)
		if err != nil {
			return
		}
		start := time.Now()
		resp := cn.dispatch(fc)
		if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
			log.Warn("slow dispatch",
				zap.String("type", fcallTypeName(fc.Type)),
				zap.Duration("elapsed", elapsed))
		}
		if err := plan9.WriteFcall(c, resp); err != nil {
			return
		}
	}
}

// ---- file tree ----

// File types; encoded into the top bits of Qid.Path.
const (
	ftRoot    = 0
	ftRootCtl = 1
	ftInst    = 2
	ftCtl     = 3
	ftState   = 4
)

func isDir(ft int) bool {
	return ft == ftRoot || ft == ftInst
}

// Qid path encoding: [ft:16][id:48]
func makePath(ft, id int) uint64 {
	return uint64(ft)<<48 | uint64(id)&(1<<48-1)
}

func makeQID(ft, id int) plan9.Qid {
	qt := uint8(plan9.QTFILE)
	if isDir(ft) {
		qt = plan9.QTDIR
	}
	return plan9.Qid{Type: qt, Path: makePath(ft, id)}
}

func makeDir(ft, id int) plan9.Dir {
	now := uint32(time.Now().Unix())
	var name string
	var mode plan9.Perm
	switch ft {
	case ftRoot:
		name, mode = "/", plan9.DMDIR|0555
	case ftInst:
		name, mode = strconv.Itoa(id), plan9.DMDIR|0555
	case ftRootCtl, ftCtl:
		name, mode = "ctl", 0222
	case ftState:
		name, mode = "state", 0444
	}
	return plan9.Dir{
		Qid:   makeQID(ft, id),
		Mode:  mode,
		Atime: now, Mtime: now,
		Name: name,
		Uid:  "none", Gid: "none", Muid: "none",
	}
}

// walkStep advances one path element from (ft, id).
func (s *Server) walkStep(ft, id int, name string) (int, int, error) {
	if name == ".." {
		switch ft {
		case ftRoot, ftInst:
			return ftRoot, 0, nil
		default:
			return 0, 0, errNotDir
		}
	}
	switch ft {
	case ftRoot:
		if name == "ctl" {
			return ftRootCtl, 0, nil
		}
		n, err := strconv.Atoi(name)
		if err != nil {
			return 0, 0, errNoFile
		}
		if _, ok := s.ctl.State(n); !ok {
			return 0, 0, errNoFile
		}
		return ftInst, n, nil
	case ftInst:
		switch name {
		case "ctl":
			return ftCtl, id, nil
		case "state":
			return ftState, id, nil
		}
		return 0, 0, errNoFile
	default:
		return 0, 0, errNotDir
	}
}

// readDir returns marshalled entries for the children of (ft, id).
func (s *Server) readDir(ft, id int) []byte {
	var dirs []plan9.Dir
	switch ft {
	case ftRoot:
		dirs = append(dirs, makeDir(ftRootCtl, 0))
		for _, n := range s.ctl.IDs() {
			dirs = append(dirs, makeDir(ftInst, n))
		}
	case ftInst:
		dirs = append(dirs, makeDir(ftCtl, id), makeDir(ftState, id))
	}
	var buf []byte
	for _, d := range dirs {
		if b, err := d.Bytes(); err == nil {
			buf = append(buf, b...)
		}
	}
	return buf
}

// stateText is the content of /<id>/state.
func stateText(snap flow.Snapshot) string {
	on := "off"
	if snap.Enabled {
		on = "on"
	}
	return fmt.Sprintf("%s\n%s\n%d\n", on, snap.DocType, snap.Passes)
}

// command runs one ctl line.  id is -1 for the root ctl file.
func (s *Server) command(id int, cmd string) error {
	if id < 0 {
		switch cmd {
		case "stop":
			s.ctl.Stop()
		case "refresh":
			s.ctl.RefreshAll()
		case "on", "off":
			for _, n := range s.ctl.IDs() {
				s.ctl.SetEnabled(n, cmd == "on")
			}
		default:
			return fmt.Errorf("unknown ctl command: %s", cmd)
		}
		return nil
	}
	var ok bool
	switch cmd {
	case "on", "off":
		ok = s.ctl.SetEnabled(id, cmd == "on")
	case "toggle":
		_, ok = s.ctl.Toggle(id)
	case "refresh":
		ok = s.ctl.Refresh(id)
	default:
		return fmt.Errorf("unknown ctl command: %s", cmd)
	}
	if !ok {
		return errGone
	}
	logger.L(s.ctx).Debug("ctl", zap.Int("instance", id), zap.String("cmd", cmd))
	return nil
}

// ---- per-connection state ----

type fid struct {
	ft   int
	id   int
	open bool
	buf  []byte // read content, fixed at Topen
	wbuf []byte // unterminated ctl input
}

// ctlID is the instance a ctl fid addresses, or -1 for the root.
func (f *fid) ctlID() int {
	if f.ft == ftRootCtl {
		return -1
	}
	return f.id
}

type conn struct {
	srv   *Server
	fids  map[uint32]*fid
	msize uint32
}

func rerr(tag uint16, msg string) *plan9.Fcall {
	return &plan9.Fcall{Type: plan9.Rerror, Tag: tag, Ename: msg}
}

func (cn *conn) dispatch(fc *plan9.Fcall) *plan9.Fcall {
	switch fc.Type {
	case plan9.Tversion:
		return cn.doVersion(fc)
	case plan9.Tauth:
		return rerr(fc.Tag, "no authentication required")
	case plan9.Tattach:
		cn.fids[fc.Fid] = &fid{ft: ftRoot}
		return &plan9.Fcall{Type: plan9.Rattach, Tag: fc.Tag, Qid: makeQID(ftRoot, 0)}
	case plan9.Tflush:
		return &plan9.Fcall{Type: plan9.Rflush, Tag: fc.Tag}
	case plan9.Twalk:
		return cn.doWalk(fc)
	case plan9.Topen:
		return cn.doOpen(fc)
	case plan9.Tread:
		return cn.doRead(fc)
	case plan9.Twrite:
		return cn.doWrite(fc)
	case plan9.Tclunk:
		return cn.doClunk(fc)
	case plan9.Tstat:
		return cn.doStat(fc)
	case plan9.Tcreate, plan9.Tremove, plan9.Twstat:
		return rerr(fc.Tag, "permission denied")
	default:
		return rerr(fc.Tag, "unknown message type")
	}
}

func (cn *conn) doVersion(fc *plan9.Fcall) *plan9.Fcall {
	msize := fc.Msize
	if msize > cn.msize {
		msize = cn.msize
	}
	cn.msize = msize
	cn.fids = make(map[uint32]*fid)
	ver := "9P2000"
	if !strings.HasPrefix(fc.Version, "9P2000") {
		ver = "unknown"
	}
	return &plan9.Fcall{Type: plan9.Rversion, Tag: fc.Tag, Msize: msize, Version: ver}
}

func (cn *conn) doWalk(fc *plan9.Fcall) *plan9.Fcall {
	f := cn.fids[fc.Fid]
	if f == nil {
		return rerr(fc.Tag, "fid unknown")
	}
	if f.open {
		return rerr(fc.Tag, "fid is open")
	}

	ft, id := f.ft, f.id
	wqids := make([]plan9.Qid, 0, len(fc.Wname))
	for i, name := range fc.Wname {
		nft, nid, err := cn.srv.walkStep(ft, id, name)
		if err != nil {
			if i == 0 {
				return rerr(fc.Tag, err.Error())
			}
			break
		}
		wqids = append(wqids, makeQID(nft, nid))
		ft, id = nft, nid
	}
	if len(wqids) == len(fc.Wname) {
		cn.fids[fc.Newfid] = &fid{ft: ft, id: id}
	}
	return &plan9.Fcall{Type: plan9.Rwalk, Tag: fc.Tag, Wqid: wqids}
}

func (cn *conn) doOpen(fc *plan9.Fcall) *plan9.Fcall {
	f := cn.fids[fc.Fid]
	if f == nil {
		return rerr(fc.Tag, "fid unknown")
	}
	if f.open {
		return rerr(fc.Tag, "already open")
	}
	mode := fc.Mode & 3
	switch f.ft {
	case ftRoot, ftInst:
		if mode != plan9.OREAD {
			return rerr(fc.Tag, "is a directory")
		}
		f.buf = cn.srv.readDir(f.ft, f.id)
	case ftState:
		if mode != plan9.OREAD {
			return rerr(fc.Tag, "permission denied")
		}
		snap, ok := cn.srv.ctl.State(f.id)
		if !ok {
			return rerr(fc.Tag, errGone.Error())
		}
		f.buf = []byte(stateText(snap))
	case ftRootCtl, ftCtl:
		if mode != plan9.OWRITE {
			return rerr(fc.Tag, "permission denied")
		}
	}
	f.open = true
	return &plan9.Fcall{
		Type:   plan9.Ropen,
		Tag:    fc.Tag,
		Qid:    makeQID(f.ft, f.id),
		Iounit: cn.msize - plan9.IOHDRSZ,
	}
}

func (cn *conn) doRead(fc *plan9.Fcall) *plan9.Fcall {
	f := cn.fids[fc.Fid]
	if f == nil {
		return rerr(fc.Tag, "fid unknown")
	}
	if !f.open {
		return rerr(fc.Tag, "not open")
	}
	off := fc.Offset
	if off >= uint64(len(f.buf)) {
		return &plan9.Fcall{Type: plan9.Rread, Tag: fc.Tag}
	}
	end := off + uint64(fc.Count)
	if end > uint64(len(f.buf)) {
		end = uint64(len(f.buf))
	}
	return &plan9.Fcall{Type: plan9.Rread, Tag: fc.Tag, Data: f.buf[off:end]}
}

func (cn *conn) doWrite(fc *plan9.Fcall) *plan9.Fcall {
	f := cn.fids[fc.Fid]
	if f == nil {
		return rerr(fc.Tag, "fid unknown")
	}
	if !f.open {
		return rerr(fc.Tag, "not open")
	}
	if f.ft != ftRootCtl && f.ft != ftCtl {
		return rerr(fc.Tag, "not writable")
	}
	f.wbuf = append(f.wbuf, fc.Data...)
	for {
		nl := bytes.IndexByte(f.wbuf, '\n')
		if nl < 0 {
			break
		}
		cmd := strings.TrimSpace(string(f.wbuf[:nl]))
		f.wbuf = f.wbuf[nl+1:]
		if cmd == "" {
			continue
		}
		if err := cn.srv.command(f.ctlID(), cmd); err != nil {
			return rerr(fc.Tag, err.Error())
		}
	}
	return &plan9.Fcall{Type: plan9.Rwrite, Tag: fc.Tag, Count: uint32(len(fc.Data))}
}

// doClunk runs a final unterminated ctl command.
func (cn *conn) doClunk(fc *plan9.Fcall) *plan9.Fcall {
	f := cn.fids[fc.Fid]
	delete(cn.fids, fc.Fid)
	if f != nil && f.open && (f.ft == ftRootCtl || f.ft == ftCtl) {
		if cmd := strings.TrimSpace(string(f.wbuf)); cmd != "" {
			if err := cn.srv.command(f.ctlID(), cmd); err != nil {
				return rerr(fc.Tag, err.Error())
			}
		}
	}
	return &plan9.Fcall{Type: plan9.Rclunk, Tag: fc.Tag}
}

func (cn *conn) doStat(fc *plan9.Fcall) *plan9.Fcall {
	f := cn.fids[fc.Fid]
	if f == nil {
		return rerr(fc.Tag, "fid unknown")
	}
	d := makeDir(f.ft, f.id)
	stat, err := d.Bytes()
	if err != nil {
		return rerr(fc.Tag, err.Error())
	}
	return &plan9.Fcall{Type: plan9.Rstat, Tag: fc.Tag, Stat: stat}
}

func fcallTypeName(t uint8) string {
	switch t {
	case plan9.Tversion:
		return "Tversion"
	case plan9.Tattach:
		return "Tattach"
	case plan9.Twalk:
		return "Twalk"
	case plan9.Topen:
		return "Topen"
	case plan9.Tread:
		return "Tread"
	case plan9.Twrite:
		return "Twrite"
	case plan9.Tclunk:
		return "Tclunk"
	case plan9.Tstat:
		return "Tstat"
	default:
		return fmt.Sprintf("T%d", t)
	}
}
