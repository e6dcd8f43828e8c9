// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"testing"
	"time"
)

func TestParseArgs_Defaults(t *testing.T) {
	cfg, _, err := ParseArgs([]string{"192.168.1.10"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Host != "192.168.1.10" || cfg.Service != "502" {
		t.Errorf("got host=%q service=%q", cfg.Host, cfg.Service)
	}
	if cfg.Prefix != "wago_" {
		t.Errorf("Prefix = %q, want wago_", cfg.Prefix)
	}
	if cfg.Cycle != 0 {
		t.Errorf("Cycle = %v, want 0", cfg.Cycle)
	}
}

func TestParseArgs_ExplicitService(t *testing.T) {
	cfg, _, err := ParseArgs([]string{"192.168.1.10", "1502"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Service != "1502" {
		t.Errorf("Service = %q, want 1502", cfg.Service)
	}
}

func TestParseArgs_MissingHost(t *testing.T) {
	if _, _, err := ParseArgs([]string{}); err == nil {
		t.Fatal("expected error for missing host")
	}
}

func TestParseArgs_Flags(t *testing.T) {
	cfg, _, err := ParseArgs([]string{"--force", "-q", "-d", "-c", "20", "--prefix", "io_", "host"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Force || !cfg.Quiet || !cfg.Debug {
		t.Errorf("flags not applied: %+v", cfg)
	}
	if cfg.Cycle != 20*time.Millisecond {
		t.Errorf("Cycle = %v, want 20ms", cfg.Cycle)
	}
	if cfg.Prefix != "io_" {
		t.Errorf("Prefix = %q, want io_", cfg.Prefix)
	}
}

func TestParseArgs_VersionSkipsPositionalRequirement(t *testing.T) {
	cfg, _, err := ParseArgs([]string{"--version"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Version {
		t.Error("Version = false, want true")
	}
}
