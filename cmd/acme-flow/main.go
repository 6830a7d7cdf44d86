// Command acme-flow colours the text of acme windows with a repeating
// gradient to guide the eye along lines.
//
// Windows get a Flow command in their tag that toggles the overlay.  The
// colours live in a layer of the acme-styles compositor, so acme-styles
// must be running.  A 9P control tree is posted as the acme-flow service:
//
//	echo off | 9p write acme-flow/ctl
//	9p read acme-flow/12/state
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"9fans.net/go/plan9/client"
	"go.uber.org/zap"

	"github.com/cptaffe/acme-flow/gradient"
	"github.com/cptaffe/acme-flow/internal/acmehost"
	"github.com/cptaffe/acme-flow/internal/config"
	"github.com/cptaffe/acme-flow/internal/ctlfs"
	"github.com/cptaffe/acme-flow/internal/flow"
	"github.com/cptaffe/acme-flow/internal/themewatch"
	"github.com/cptaffe/acme-flow/logger"
)

func main() {
	cfgPath := flag.String("config", "", "TOML config file (default: $HOME/lib/acme-flow.toml if present)")
	srv := flag.String("srv", "", "unix socket path (default: $NAMESPACE/acme-flow)")
	direct := flag.Bool("direct", false, "listen on the socket directly instead of through 9pserve")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	var err error
	var l *zap.Logger
	if *verbose {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	zap.ReplaceGlobals(l)
	defer l.Sync() //nolint:errcheck

	if *cfgPath == "" {
		*cfgPath = defaultConfigPath()
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		l.Fatal("load config", zap.String("path", *cfgPath), zap.Error(err))
	}
	stops, _ := cfg.Stops() // validated by Load

	srvPath := *srv
	if srvPath == "" {
		srvPath = client.Namespace() + "/acme-flow"
	}

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals...)
	defer stop()
	ctx = logger.NewContext(ctx, l)

	ctl := flow.NewController(ctx, flow.Options{
		Stops:   stops,
		Cycle:   cfg.Cycle,
		Delay:   cfg.Debounce(),
		Accepts: cfg.Accepts,
	})
	go ctl.Run()

	mode := cfg.ModeSource()
	host := acmehost.New(ctl, acmehost.Options{Layer: cfg.Layer, Tag: cfg.Tag, Mode: mode})
	go func() {
		if err := host.Run(ctx); err != nil {
			l.Error("acme", zap.Error(err))
			stop()
		}
	}()

	if cfg.ModeFile != "" {
		go func() {
			err := themewatch.Watch(ctx, cfg.ModeFile, mode, func(gradient.Mode) { ctl.RefreshAll() })
			if err != nil {
				l.Warn("mode file not watched", zap.Error(err))
			}
		}()
	}

	cs := ctlfs.New(ctx, ctl)
	if *direct {
		os.Remove(srvPath)
		ln, err := net.Listen("unix", srvPath)
		if err != nil {
			l.Fatal("listen", zap.String("path", srvPath), zap.Error(err))
		}
		defer os.Remove(srvPath)
		go func() {
			if err := cs.Serve(ln); err != nil {
				l.Error("serve", zap.Error(err))
			}
		}()
	} else {
		rw, cleanup, err := post(srvPath)
		if err != nil {
			l.Fatal("post service", zap.String("path", srvPath), zap.Error(err))
		}
		defer cleanup()
		go cs.ServeConn(rw)
	}
	l.Info("listening", zap.String("addr", srvPath), zap.Bool("direct", *direct))

	<-ctx.Done()

	l.Info("shutting down; restoring windows")
	select {
	case <-ctl.Done():
		host.Close()
		l.Info("shutdown complete")
	case <-time.After(5 * time.Second):
		l.Warn("shutdown timed out; exiting anyway")
	}
}

// defaultConfigPath returns $HOME/lib/acme-flow.toml when it exists.
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	p := filepath.Join(home, "lib", "acme-flow.toml")
	if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
		return ""
	}
	return p
}
