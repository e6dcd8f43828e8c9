// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package clamp

import "testing"

func TestDecodeConfigWord_Digital(t *testing.T) {
	cases := []struct {
		word     uint16
		kind     RegisterKind
		channels int
	}{
		{0x8101, DI, 1},
		{0x8202, DO, 2},
		{0x8301, DI, 3},
		{0x8502, DO, 5},
		{0x8A01, DI, 10},
	}
	for _, tc := range cases {
		c, err := DecodeConfigWord(tc.word)
		if err != nil {
			t.Fatalf("DecodeConfigWord(0x%04X): unexpected error: %v", tc.word, err)
		}
		if c.Kind != tc.kind {
			t.Errorf("DecodeConfigWord(0x%04X): kind = %v, want %v", tc.word, c.Kind, tc.kind)
		}
		if c.Channels != tc.channels {
			t.Errorf("DecodeConfigWord(0x%04X): channels = %d, want %d", tc.word, c.Channels, tc.channels)
		}
	}
}

func TestDecodeConfigWord_Analog(t *testing.T) {
	c, err := DecodeConfigWord(453)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Kind != AI || c.Channels != 4 {
		t.Errorf("id 453: got kind=%v channels=%d, want AI/4", c.Kind, c.Channels)
	}

	c, err = DecodeConfigWord(553)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Kind != AO || c.Channels != 4 {
		t.Errorf("id 553: got kind=%v channels=%d, want AO/4", c.Kind, c.Channels)
	}
}

func TestDecodeConfigWord_UnknownDigitalSelector(t *testing.T) {
	if _, err := DecodeConfigWord(0x8000); err == nil {
		t.Fatal("expected error for digital selector 0b00")
	}
	if _, err := DecodeConfigWord(0x8003); err == nil {
		t.Fatal("expected error for digital selector 0b11")
	}
}

func TestDecodeConfigWord_UnknownAnalogID(t *testing.T) {
	if _, err := DecodeConfigWord(999); err == nil {
		t.Fatal("expected error for unrecognized analog product id")
	}
}
