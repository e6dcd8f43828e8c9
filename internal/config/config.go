// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package config parses the bridge's command-line interface and lets
// WAGO_*-prefixed environment variables supply any flag not given on
// the command line, for daemons launched from an init script where
// flags are awkward to template.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full set of settings a run of the bridge needs.
type Config struct {
	Host    string
	Service string

	Force           bool
	Quiet           bool
	Debug           bool
	Cycle           time.Duration
	NoCycleTimeFail bool
	NoCycleTimeWarn bool
	ReadStartImage  bool
	Prefix          string

	Version bool
	License bool
	Help    bool
}

// ParseArgs parses args (normally os.Args[1:]) into a Config, binding
// pflag-defined flags through viper so a WAGO_*-prefixed environment
// variable sets a flag that args do not give; a flag given in args
// takes precedence over the environment. The returned FlagSet's Usage
// output is what a UsageError should print.
func ParseArgs(args []string) (*Config, *pflag.FlagSet, error) {
	fs := pflag.NewFlagSet("wago-modbus-bridge", pflag.ContinueOnError)

	fs.Bool("force", false, "adopt an existing shared-memory region instead of requiring a fresh one")
	fs.BoolP("quiet", "q", false, "suppress the startup coupler/clamp summary")
	fs.BoolP("debug", "d", false, "trace every Modbus frame sent and received")
	fs.UintP("cycle", "c", 0, "cycle period in milliseconds (0 = as fast as possible)")
	fs.Bool("no-cycle-time-fail", false, "never terminate on repeated cycle overrun")
	fs.Bool("no-cycle-time-warn", false, "never log a cycle-overrun warning")
	fs.Bool("read-start-image", false, "fetch outputs as well as inputs during init")
	fs.StringP("prefix", "p", "wago_", "shared-memory region name prefix")
	fs.Bool("version", false, "print version and exit")
	fs.Bool("license", false, "print license and exit")
	fs.BoolP("help", "h", false, "print usage and exit")

	if err := fs.Parse(args); err != nil {
		return nil, fs, fmt.Errorf("config: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("wago")
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fs, fmt.Errorf("config: binding flags: %w", err)
	}

	cfg := &Config{
		Force:           v.GetBool("force"),
		Quiet:           v.GetBool("quiet"),
		Debug:           v.GetBool("debug"),
		Cycle:           time.Duration(v.GetInt("cycle")) * time.Millisecond,
		NoCycleTimeFail: v.GetBool("no-cycle-time-fail"),
		NoCycleTimeWarn: v.GetBool("no-cycle-time-warn"),
		ReadStartImage:  v.GetBool("read-start-image"),
		Prefix:          v.GetString("prefix"),
		Version:         v.GetBool("version"),
		License:         v.GetBool("license"),
		Help:            v.GetBool("help"),
	}

	if cfg.Version || cfg.License || cfg.Help {
		return cfg, fs, nil
	}

	positional := fs.Args()
	if len(positional) < 1 {
		return nil, fs, fmt.Errorf("config: missing required argument: host")
	}
	cfg.Host = positional[0]
	cfg.Service = "502"
	if len(positional) >= 2 {
		cfg.Service = positional[1]
	}

	return cfg, fs, nil
}
