// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package image

import (
	"errors"
	"testing"

	"github.com/ffutop/wago-modbus-bridge/internal/clamp"
)

func TestProcessImage_BitRoundTrip(t *testing.T) {
	pi, err := NewProcessImage(MemoryFactory{}, "wago_", map[clamp.RegisterKind]int{
		clamp.DI: 4, clamp.DO: 4,
	}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer pi.Close()

	if err := pi.WriteBit(0, true); err != nil {
		t.Fatalf("WriteBit: %v", err)
	}
	got, err := pi.ReadBit(clamp.DO, 0)
	if err != nil {
		t.Fatalf("ReadBit: %v", err)
	}
	if !got {
		t.Errorf("ReadBit(DO, 0) = false, want true")
	}
	if di, _ := pi.ReadBit(clamp.DI, 0); di {
		t.Errorf("ReadBit(DI, 0) should be unaffected by a DO write")
	}
}

func TestProcessImage_WordRoundTrip(t *testing.T) {
	pi, err := NewProcessImage(MemoryFactory{}, "wago_", map[clamp.RegisterKind]int{
		clamp.AI: 2, clamp.AO: 2,
	}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer pi.Close()

	if err := pi.WriteWord(1, 0xBEEF); err != nil {
		t.Fatalf("WriteWord: %v", err)
	}
	got, err := pi.ReadWord(clamp.AO, 1)
	if err != nil {
		t.Fatalf("ReadWord: %v", err)
	}
	if got != 0xBEEF {
		t.Errorf("ReadWord(AO, 1) = 0x%04X, want 0xBEEF", got)
	}
}

func TestProcessImage_IndexOutOfRange(t *testing.T) {
	pi, err := NewProcessImage(MemoryFactory{}, "wago_", map[clamp.RegisterKind]int{clamp.DI: 2}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer pi.Close()

	if _, err := pi.ReadBit(clamp.DI, 2); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

type failingFactory struct {
	failOn clamp.RegisterKind
	closed []clamp.RegisterKind
}

// closeTracker wraps a region and reports each Close call.
type closeTracker struct {
	SharedRegion
	onClose func()
}

func (r closeTracker) Close() error {
	r.onClose()
	return r.SharedRegion.Close()
}

func (f *failingFactory) Create(name string, elemBytes, count int, force bool) (SharedRegion, error) {
	for kind, suffix := range kindSuffix {
		if name != "wago_"+suffix {
			continue
		}
		if kind == f.failOn {
			return nil, errors.New("boom")
		}
		region, err := MemoryFactory{}.Create(name, elemBytes, count, force)
		if err != nil {
			return nil, err
		}
		return closeTracker{region, func() { f.closed = append(f.closed, kind) }}, nil
	}
	return MemoryFactory{}.Create(name, elemBytes, count, force)
}

func TestNewProcessImage_PartialFailureClosesPriorRegions(t *testing.T) {
	f := &failingFactory{failOn: clamp.AI}
	_, err := NewProcessImage(f, "wago_", map[clamp.RegisterKind]int{
		clamp.DI: 1, clamp.DO: 1, clamp.AI: 1, clamp.AO: 1,
	}, false)
	if err == nil {
		t.Fatal("expected allocation error")
	}
	if len(f.closed) != 2 {
		t.Errorf("closed regions = %v, want DI and DO each closed once", f.closed)
	}
}
