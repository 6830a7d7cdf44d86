// Command flowpager shows a text file in the terminal with the flow
// gradient overlay.
//
// Keys: f toggles the overlay, j/k and the arrow keys scroll a line,
// space/b and PgDn/PgUp scroll a page, q or Esc quits.  The file is
// reloaded when it changes on disk.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/gdamore/tcell/v2"
	"go.uber.org/zap"

	"github.com/cptaffe/acme-flow/gradient"
	"github.com/cptaffe/acme-flow/internal/config"
	"github.com/cptaffe/acme-flow/internal/flow"
	"github.com/cptaffe/acme-flow/internal/pager"
	"github.com/cptaffe/acme-flow/internal/themewatch"
	"github.com/cptaffe/acme-flow/logger"
)

func main() {
	cfgPath := flag.String("config", "", "TOML config file")
	modeFlag := flag.String("mode", "", "light or dark (default: from the config)")
	logPath := flag.String("log", "", "write logs to this file")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: flowpager [flags] file\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	// The terminal belongs to the pager, so logs only go to -log.
	l := zap.NewNop()
	if *logPath != "" {
		zc := zap.NewProductionConfig()
		if *verbose {
			zc = zap.NewDevelopmentConfig()
		}
		zc.OutputPaths = []string{*logPath}
		zc.ErrorOutputPaths = []string{*logPath}
		var err error
		if l, err = zc.Build(); err != nil {
			log.Fatalf("init logger: %v", err)
		}
	}
	zap.ReplaceGlobals(l)
	defer l.Sync() //nolint:errcheck

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *modeFlag != "" {
		cfg.Mode = *modeFlag
		cfg.ModeFile = ""
		if err := cfg.Validate(); err != nil {
			log.Fatalf("-mode: %v", err)
		}
	}
	stops, _ := cfg.Stops()
	mode := cfg.ModeSource()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = logger.NewContext(ctx, l)

	// The controller outlives the pager's Run so that quitting can still
	// tear the instance down.
	ctlCtx, stopCtl := context.WithCancel(ctx)
	ctl := flow.NewController(ctlCtx, flow.Options{
		Stops: stops,
		Cycle: cfg.Cycle,
		Delay: cfg.Debounce(),
	})
	go ctl.Run()

	screen, err := tcell.NewScreen()
	if err != nil {
		log.Fatalf("open terminal: %v", err)
	}
	if err := screen.Init(); err != nil {
		log.Fatalf("init terminal: %v", err)
	}

	p, err := pager.New(ctx, ctl, screen, flag.Arg(0), mode)
	if err != nil {
		screen.Fini()
		log.Fatal(err)
	}
	if cfg.ModeFile != "" {
		go themewatch.Watch(ctx, cfg.ModeFile, mode, func(gradient.Mode) { ctl.RefreshAll() }) //nolint:errcheck
	}

	runErr := p.Run(ctx)
	stopCtl()
	<-ctl.Done()
	screen.Fini()
	if runErr != nil {
		log.Fatal(runErr)
	}
}
