package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/matheus3301/wacrm/internal/bus"
	"github.com/matheus3301/wacrm/internal/config"
	"github.com/matheus3301/wacrm/internal/console"
	"github.com/matheus3301/wacrm/internal/lock"
	"github.com/matheus3301/wacrm/internal/logging"
	"github.com/matheus3301/wacrm/internal/outbox"
	"github.com/matheus3301/wacrm/internal/profile"
	"github.com/matheus3301/wacrm/internal/status"
	intsync "github.com/matheus3301/wacrm/internal/sync"
	"github.com/matheus3301/wacrm/internal/tui"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	headless := flag.Bool("headless", false, "run without the TUI, logging to stderr")
	debug := flag.Bool("debug", false, "log at debug level")
	flag.Parse()

	if err := run(*profileFlag, *headless, *debug); err != nil {
		var held *lock.HeldError
		if errors.As(err, &held) {
			fmt.Fprintf(os.Stderr, "error: another console is running this profile (PID %d)\n", held.PID)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(profileFlag string, headless, debug bool) error {
	name := profile.Resolve(profileFlag)
	if err := profile.ValidateName(name); err != nil {
		return err
	}
	if err := config.LoadEnv(profile.EnvPath(), ".env"); err != nil {
		return err
	}
	cfg, err := config.LoadOrDefault(profile.ConfigPath())
	if err != nil {
		return err
	}
	settings, err := config.Resolve(cfg)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := profile.EnsureDir(name); err != nil {
		return err
	}

	var logger *zap.Logger
	if headless {
		logger, err = logging.New(profile.LogPath(name), name)
	} else {
		level := zap.InfoLevel
		if debug {
			level = zap.DebugLevel
		}
		// stderr would corrupt the screen.
		logger, err = logging.NewFileOnly(profile.LogPath(name), name, level)
	}
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	var (
		engine   *intsync.Engine
		pipeline *outbox.Pipeline
		eventBus *bus.Bus
		machine  *status.Machine
	)
	app := fx.New(
		console.Module(console.Params{Profile: name, Settings: settings, Logger: logger}),
		fx.Populate(&engine, &pipeline, &eventBus, &machine),
		fx.WithLogger(func() fxevent.Logger { return &fxevent.ZapLogger{Logger: logger.Named("fx")} }),
	)
	if err := app.Err(); err != nil {
		return err
	}

	if headless {
		app.Run()
		return nil
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	ui, err := tui.NewApp(tui.Deps{
		Engine:   engine,
		Pipeline: pipeline,
		Bus:      eventBus,
		Machine:  machine,
		Profile:  name,
		Bell:     settings.Bell,
		Logger:   logger,
	})
	if err == nil {
		err = ui.Run()
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if stopErr := app.Stop(stopCtx); stopErr != nil && err == nil {
		err = stopErr
	}
	return err
}
