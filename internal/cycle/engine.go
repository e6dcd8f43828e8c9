// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package cycle orchestrates coupler initialization, the cyclic
// fetch/send exchange, cycle-time enforcement, and orderly shutdown.
package cycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ffutop/wago-modbus-bridge/internal/clamp"
	"github.com/ffutop/wago-modbus-bridge/internal/coupler"
	"github.com/ffutop/wago-modbus-bridge/internal/image"
)

// State is the CycleEngine's lifecycle state.
type State int

const (
	StateFresh State = iota
	StateInitialized
	StateRunning
	StateDraining
	StateClosed
)

// client is the subset of *modbusclient.Client the engine depends on.
// Expressed as an interface so tests can substitute a fake session.
type client interface {
	Connect(ctx context.Context) error
	Disconnect() error
	ReadBits(addr uint16, n int, into []byte) error
	ReadInputBits(addr uint16, n int, into []byte) error
	ReadRegs(addr uint16, n int, into []uint16) error
	ReadInputRegs(addr uint16, n int, into []uint16) error
	WriteBits(addr uint16, n int, data []byte) error
	WriteRegs(addr uint16, n int, data []uint16) error
}

// CycleOverrunError reports that the fail counter exceeded its limit.
type CycleOverrunError struct {
	FailCount int
}

func (e *CycleOverrunError) Error() string {
	return fmt.Sprintf("cycle: cycle time repeatedly exceeded (fail counter %d)", e.FailCount)
}

const maxFailCount = 100
const failIncrement = 10

// Config holds the CycleEngine's tunables, sourced from CLI flags.
type Config struct {
	Prefix         string
	Force          bool
	Period         time.Duration
	SuppressWarn   bool
	SuppressFail   bool
	ReadStartImage bool
}

// CycleEngine drives one coupler: init, cyclic fetch/send, cycle-time
// enforcement, and shutdown.
type CycleEngine struct {
	cfg           Config
	client        client
	regionFactory image.SharedRegionFactory

	state     State
	roster    []clamp.Clamp
	layout    image.ImageLayout
	image     *image.ProcessImage
	next      time.Time
	failCount int
}

// New constructs a CycleEngine bound to an already-constructed client
// and region factory; neither is connected or allocated yet.
func New(cfg Config, c client, regionFactory image.SharedRegionFactory) *CycleEngine {
	return &CycleEngine{cfg: cfg, client: c, regionFactory: regionFactory, state: StateFresh}
}

// State reports the engine's current lifecycle state.
func (e *CycleEngine) State() State { return e.state }

// Roster reports the decoded clamp roster, valid after Init.
func (e *CycleEngine) Roster() []clamp.Clamp { return e.roster }

// Init connects, probes coupler identity, reads the clamp roster,
// computes the image layout, and allocates the process image. A
// failure after connecting but before the image is allocated leaves
// the connection closed; a failure after the image is partially
// allocated leaves no region dangling (image.NewProcessImage itself
// rolls back).
func (e *CycleEngine) Init(ctx context.Context) error {
	if e.state != StateFresh {
		return fmt.Errorf("cycle: Init called from state %v, want Fresh", e.state)
	}

	if err := e.client.Connect(ctx); err != nil {
		return fmt.Errorf("cycle: connecting: %w", err)
	}

	if err := coupler.CheckConstants(e.client); err != nil {
		e.client.Disconnect()
		return err
	}

	roster, err := coupler.ReadClampRoster(e.client)
	if err != nil {
		e.client.Disconnect()
		return err
	}
	e.roster = roster

	counts := channelCounts(roster)
	layout, err := image.ComputeLayout(counts)
	if err != nil {
		e.client.Disconnect()
		return err
	}
	e.layout = layout

	pi, err := image.NewProcessImage(e.regionFactory, e.cfg.Prefix, counts, e.cfg.Force)
	if err != nil {
		e.client.Disconnect()
		return err
	}
	e.image = pi

	if e.cfg.ReadStartImage {
		if err := e.Fetch(true); err != nil {
			pi.Close()
			e.client.Disconnect()
			return err
		}
	}

	e.state = StateInitialized
	return nil
}

func channelCounts(roster []clamp.Clamp) map[clamp.RegisterKind]int {
	counts := make(map[clamp.RegisterKind]int, 4)
	for _, c := range roster {
		counts[c.Kind] += c.Channels
	}
	return counts
}

// Fetch issues one read per DI and AI segment, always; if includeOutputs
// is set, DO and AO segments are also read back (read-back of outputs,
// not a substitute for Send).
func (e *CycleEngine) Fetch(includeOutputs bool) error {
	if err := e.fetchBits(clamp.DI, e.client.ReadInputBits); err != nil {
		return err
	}
	if err := e.fetchWords(clamp.AI, e.client.ReadInputRegs); err != nil {
		return err
	}
	if includeOutputs {
		if err := e.fetchBits(clamp.DO, e.client.ReadBits); err != nil {
			return err
		}
		if err := e.fetchWords(clamp.AO, e.client.ReadRegs); err != nil {
			return err
		}
	}
	return nil
}

// Send issues one write per DO and AO segment. AO is written through
// the holding-register write path, never the coil path.
func (e *CycleEngine) Send() error {
	if err := e.sendBits(clamp.DO, e.client.WriteBits); err != nil {
		return err
	}
	if err := e.sendWords(clamp.AO, e.client.WriteRegs); err != nil {
		return err
	}
	return nil
}

type readBitsFunc func(addr uint16, n int, into []byte) error
type readWordsFunc func(addr uint16, n int, into []uint16) error
type writeBitsFunc func(addr uint16, n int, data []byte) error
type writeWordsFunc func(addr uint16, n int, data []uint16) error

func (e *CycleEngine) fetchBits(kind clamp.RegisterKind, read readBitsFunc) error {
	region := e.image.Region(kind)
	for _, seg := range e.layout[kind] {
		buf := make([]byte, seg.Length)
		if err := read(seg.ModbusAddress, seg.Length, buf); err != nil {
			return err
		}
		for i, v := range buf {
			if err := region.WriteByte(seg.ImageOffset+i, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *CycleEngine) fetchWords(kind clamp.RegisterKind, read readWordsFunc) error {
	region := e.image.Region(kind)
	for _, seg := range e.layout[kind] {
		buf := make([]uint16, seg.Length)
		if err := read(seg.ModbusAddress, seg.Length, buf); err != nil {
			return err
		}
		for i, v := range buf {
			if err := region.WriteWord(seg.ImageOffset+i, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *CycleEngine) sendBits(kind clamp.RegisterKind, write writeBitsFunc) error {
	region := e.image.Region(kind)
	for _, seg := range e.layout[kind] {
		buf := make([]byte, seg.Length)
		for i := range buf {
			v, err := region.ReadByte(seg.ImageOffset + i)
			if err != nil {
				return err
			}
			buf[i] = v
		}
		if err := write(seg.ModbusAddress, seg.Length, buf); err != nil {
			return err
		}
	}
	return nil
}

func (e *CycleEngine) sendWords(kind clamp.RegisterKind, write writeWordsFunc) error {
	region := e.image.Region(kind)
	for _, seg := range e.layout[kind] {
		buf := make([]uint16, seg.Length)
		for i := range buf {
			v, err := region.ReadWord(seg.ImageOffset + i)
			if err != nil {
				return err
			}
			buf[i] = v
		}
		if err := write(seg.ModbusAddress, seg.Length, buf); err != nil {
			return err
		}
	}
	return nil
}

// Run drives the cyclic fetch/send loop until ctx is cancelled or a
// fatal error occurs. The terminate check happens only between cycles;
// a transaction in flight always runs to completion.
func (e *CycleEngine) Run(ctx context.Context) error {
	if e.state != StateInitialized {
		return fmt.Errorf("cycle: Run called from state %v, want Initialized", e.state)
	}
	e.state = StateRunning
	e.next = time.Now()

	for {
		select {
		case <-ctx.Done():
			e.state = StateDraining
			return e.shutdown(nil)
		default:
		}

		if err := e.Fetch(false); err != nil {
			e.state = StateDraining
			return e.shutdown(err)
		}
		if err := e.Send(); err != nil {
			e.state = StateDraining
			return e.shutdown(err)
		}

		if err := e.enforceCycleTime(); err != nil {
			e.state = StateDraining
			return e.shutdown(err)
		}
	}
}

// enforceCycleTime implements the deadline-based cycle scheduler: a
// late cycle is reported (unless suppressed) and penalizes the fail
// counter by 10; an on-time cycle relieves it by 1. The counter
// terminates the loop once it exceeds 100. A late cycle resets the
// deadline to now so a single stall does not cascade into every
// following cycle being reported late.
func (e *CycleEngine) enforceCycleTime() error {
	if e.cfg.Period <= 0 {
		return nil
	}

	e.next = e.next.Add(e.cfg.Period)
	now := time.Now()

	if now.After(e.next) {
		overrun := now.Sub(e.next)
		if !e.cfg.SuppressWarn {
			slog.Warn("cycle overrun", "overrun", overrun)
		}
		if !e.cfg.SuppressFail {
			e.failCount += failIncrement
			if e.failCount > maxFailCount {
				return &CycleOverrunError{FailCount: e.failCount}
			}
		}
		e.next = now
		return nil
	}

	if e.failCount > 0 {
		e.failCount--
	}
	time.Sleep(e.next.Sub(now))
	return nil
}

// shutdown disconnects the client and releases the process image,
// preserving the first error encountered (init/cycle error takes
// precedence over a shutdown-time error).
func (e *CycleEngine) shutdown(cause error) error {
	var closeErr error
	if e.image != nil {
		closeErr = e.image.Close()
	}
	discErr := e.client.Disconnect()
	e.state = StateClosed

	if cause != nil {
		return cause
	}
	if closeErr != nil {
		return closeErr
	}
	return discErr
}
