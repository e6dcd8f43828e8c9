// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package coupler

import (
	"strings"
	"testing"
)

// fakeRegs is an in-memory regReader backed by two flat 16-bit tables,
// standing in for the coupler's AI and AO register spaces in tests.
type fakeRegs struct {
	ai map[uint16]uint16
	ao map[uint16]uint16
}

func newFakeRegs() *fakeRegs {
	return &fakeRegs{ai: map[uint16]uint16{}, ao: map[uint16]uint16{}}
}

func (f *fakeRegs) ReadInputRegs(addr uint16, n int, into []uint16) error {
	for i := 0; i < n; i++ {
		into[i] = f.ai[addr+uint16(i)]
	}
	return nil
}

func (f *fakeRegs) ReadRegs(addr uint16, n int, into []uint16) error {
	for i := 0; i < n; i++ {
		into[i] = f.ao[addr+uint16(i)]
	}
	return nil
}

func swap16(w uint16) uint16 { return w<<8 | w>>8 }

func withValidConstants(f *fakeRegs) {
	for i, w := range expectedConstants {
		f.ai[constantSignatureAddr+uint16(i)] = swap16(w)
	}
}

func TestCheckConstants_OK(t *testing.T) {
	f := newFakeRegs()
	withValidConstants(f)
	if err := CheckConstants(f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckConstants_Mismatch(t *testing.T) {
	f := newFakeRegs()
	withValidConstants(f)
	f.ai[constantSignatureAddr+2] = 0x0000 // corrupt the third word
	err := CheckConstants(f)
	if err == nil {
		t.Fatal("expected mismatch error")
	}
	if !strings.Contains(err.Error(), "0x2002") {
		t.Errorf("error should name the offending address: %v", err)
	}
}

func TestReadClampRoster_Empty(t *testing.T) {
	f := newFakeRegs()
	_, err := ReadClampRoster(f)
	if err == nil || !strings.Contains(err.Error(), "no modules detected") {
		t.Fatalf("expected 'no modules detected', got %v", err)
	}
}

func TestReadClampRoster_OneDigitalClamp(t *testing.T) {
	f := newFakeRegs()
	f.ao[clampConfigAddr] = 0 // coupler head, skipped
	f.ao[clampConfigAddr+1] = swap16(0x8401)

	roster, err := ReadClampRoster(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(roster) != 1 {
		t.Fatalf("len(roster) = %d, want 1", len(roster))
	}
	if roster[0].Channels != 4 {
		t.Errorf("channels = %d, want 4", roster[0].Channels)
	}
}

func TestReadClampRoster_AnalogID453(t *testing.T) {
	f := newFakeRegs()
	f.ao[clampConfigAddr] = 0
	f.ao[clampConfigAddr+1] = swap16(453)

	roster, err := ReadClampRoster(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(roster) != 1 || roster[0].Channels != 4 {
		t.Fatalf("got %+v, want one 4-channel analog clamp", roster)
	}
}
