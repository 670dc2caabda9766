// Copyright 2026 The Waybridge Authors
// SPDX-License-Identifier: Apache-2.0

// waybridge-agent is the compositor-side endpoint of the rendering
// bridge. A host spawns it with --socket pointing at its control
// socket; the agent connects back, creates the layer surface the host
// describes, presents frames from the shared pixel file, and forwards
// input until told to shut down.
//
// The process exit code mirrors the protocol diagnostics: 0 for a
// clean shutdown, the wire error code for a fatal condition (so a
// supervisor can tell "compositor never configured" from "no
// layer-shell support" without parsing logs).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/waybridge-foundation/waybridge/lib/agent"
	"github.com/waybridge-foundation/waybridge/lib/compositor"
	_ "github.com/waybridge-foundation/waybridge/lib/compositor/headless"
	"github.com/waybridge-foundation/waybridge/lib/exitreport"
	"github.com/waybridge-foundation/waybridge/lib/version"
	"github.com/waybridge-foundation/waybridge/lib/wire"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(agent.ExitCode(err))
	}
}

func run() error {
	var (
		socketPath     string
		driverName     string
		exitReportPath string
		logLevel       string
	)

	flagSet := pflag.NewFlagSet("waybridge-agent", pflag.ContinueOnError)
	flagSet.StringVar(&socketPath, "socket", "", "host control socket path (required)")
	flagSet.StringVar(&driverName, "driver", "headless",
		"display driver ("+strings.Join(compositor.DriverNames(), ", ")+")")
	flagSet.StringVar(&exitReportPath, "exit-report", "", "write a failure record to this path on fatal exit")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("waybridge-agent")
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		fmt.Printf("waybridge-agent: compositor agent for the waybridge rendering bridge\n\n")
		flagSet.PrintDefaults()
		return nil
	}
	if socketPath == "" {
		return errors.New("--socket is required")
	}

	level, err := parseLevel(logLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	display, err := compositor.OpenDriver(driverName)
	if err != nil {
		fatalErr := &agent.FatalError{
			Code: wire.ErrCodeDisplayConnect,
			Err:  fmt.Errorf("opening display driver %q: %w", driverName, err),
		}
		// Run never starts, so the exit report is this function's job.
		if exitReportPath != "" {
			report := exitreport.Report{
				Code:      fatalErr.Code,
				Message:   fatalErr.Err.Error(),
				Timestamp: time.Now(),
			}
			if writeErr := exitreport.Write(exitReportPath, report); writeErr != nil {
				logger.Warn("writing exit report", "err", writeErr)
			}
		}
		return fatalErr
	}

	conn, err := agent.Dial(ctx, socketPath)
	if err != nil {
		display.Close()
		return err
	}

	logger.Info("agent connected", "socket", socketPath, "driver", driverName)
	return agent.Run(ctx, conn, agent.Options{
		Display:        display,
		Logger:         logger,
		ExitReportPath: exitReportPath,
	})
}

func parseLevel(name string) (slog.Level, error) {
	switch name {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q (want debug, info, warn, or error)", name)
}
