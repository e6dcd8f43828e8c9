// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ffutop/wago-modbus-bridge/internal/config"
	"github.com/ffutop/wago-modbus-bridge/internal/coupler"
	"github.com/ffutop/wago-modbus-bridge/internal/cycle"
	"github.com/ffutop/wago-modbus-bridge/internal/exitcode"
	"github.com/ffutop/wago-modbus-bridge/internal/image"
	"github.com/ffutop/wago-modbus-bridge/internal/modbusclient"
)

const (
	versionString = "wago-modbus-bridge 1.0.0"
	licenseText   = `Copyright (c) 2025 Li Jinling. All rights reserved.
This software may be modified and distributed under the terms
of the BSD-3 Clause License. See the LICENSE file for details.`
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, fs, err := config.ParseArgs(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fs.Usage()
		return exitcode.Usage
	}

	if cfg.Help {
		fs.Usage()
		return exitcode.OK
	}
	if cfg.Version {
		fmt.Println(versionString)
		return exitcode.OK
	}
	if cfg.License {
		fmt.Println(licenseText)
		return exitcode.OK
	}

	setupLogger(cfg.Debug, cfg.Quiet)

	client := modbusclient.New(cfg.Host, cfg.Service, cfg.Debug)
	engine := cycle.New(cycle.Config{
		Prefix:         cfg.Prefix,
		Force:          cfg.Force,
		Period:         cfg.Cycle,
		SuppressWarn:   cfg.NoCycleTimeWarn,
		SuppressFail:   cfg.NoCycleTimeFail,
		ReadStartImage: cfg.ReadStartImage,
	}, client, image.MmapFactory{})

	ctx, cancel := installTerminationContext()
	defer cancel()

	if err := engine.Init(ctx); err != nil {
		slog.Error("coupler init failed", "err", err)
		return exitcode.Unavailable
	}

	if !cfg.Quiet {
		printSummary(engine, client)
	}

	slog.Info("entering cycle loop", "host", cfg.Host, "service", cfg.Service, "period", cfg.Cycle)

	if err := engine.Run(ctx); err != nil {
		var overrun *cycle.CycleOverrunError
		if errors.As(err, &overrun) {
			slog.Error("cycle time repeatedly exceeded", "err", err)
			return exitcode.TempFail
		}
		slog.Error("cycle loop terminated", "err", err)
		return exitcode.Software
	}

	slog.Info("shut down cleanly")
	return exitcode.OK
}

func setupLogger(debug, quiet bool) {
	level := slog.LevelInfo
	switch {
	case debug:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelWarn
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// installTerminationContext cancels its context on receipt of any of
// the signals the bridge treats as a graceful-termination request.
func installTerminationContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGIO,
		syscall.SIGPIPE, syscall.SIGPOLL, syscall.SIGPROF, syscall.SIGUSR1,
		syscall.SIGUSR2, syscall.SIGVTALRM,
	)
	go func() {
		sig := <-sigChan
		slog.Info("received termination signal", "signal", sig)
		cancel()
	}()
	return ctx, cancel
}

func printSummary(engine *cycle.CycleEngine, client *modbusclient.Client) {
	info, err := coupler.ReadCouplerInfo(client)
	if err != nil {
		slog.Warn("reading coupler info for startup summary", "err", err)
	} else {
		for _, kv := range info {
			fmt.Printf("%-28s %s\n", kv.Label+":", kv.Value)
		}
	}

	roster := engine.Roster()
	fmt.Printf("%d clamp(s) detected:\n", len(roster))
	for i, c := range roster {
		fmt.Printf("  slot %2d: %-2s x%d\n", i+1, c.Kind, c.Channels)
	}
}
