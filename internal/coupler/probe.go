// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package coupler validates a WAGO coupler's identity and decodes its
// clamp roster and display metadata over an already-connected Modbus
// session.
package coupler

import (
	"fmt"

	"github.com/ffutop/wago-modbus-bridge/internal/clamp"
)

const (
	constantSignatureAddr = 0x2000
	constantSignatureLen  = 9

	clampConfigAddr = 0x2030
	clampConfigLen  = 65
)

// expectedConstants is the literal signature the coupler's identity
// registers must match, once normalized to host byte order.
var expectedConstants = [constantSignatureLen]uint16{
	0x0000, 0xFFFF, 0x1234, 0xAAAA, 0x5555, 0x7FFF, 0x8000, 0x3FFF, 0x4000,
}

// regReader is the subset of ModbusClient this package depends on. It is
// satisfied by *modbusclient.Client; expressing it as an interface here
// keeps probe.go testable against a fake.
type regReader interface {
	ReadInputRegs(addr uint16, n int, into []uint16) error
	ReadRegs(addr uint16, n int, into []uint16) error
}

// CheckConstants reads the coupler's identity registers and verifies
// them against the known signature. A mismatch at any offset is fatal
// and names the offending address.
func CheckConstants(c regReader) error {
	words := make([]uint16, constantSignatureLen)
	if err := c.ReadInputRegs(constantSignatureAddr, constantSignatureLen, words); err != nil {
		return fmt.Errorf("coupler: reading identity signature: %w", err)
	}
	for i, w := range words {
		normalized := normalize(w)
		if normalized != expectedConstants[i] {
			return fmt.Errorf("coupler: identity mismatch at 0x%04X: expected 0x%04X, observed 0x%04X",
				constantSignatureAddr+i, expectedConstants[i], normalized)
		}
	}
	return nil
}

// normalize performs the single little-endian-of-host byte swap every
// semantic coupler register requires after Modbus's big-endian decode.
func normalize(word uint16) uint16 {
	return word<<8 | word>>8
}

// ReadClampRoster reads the coupler's clamp configuration block and
// decodes it into an ordered roster of Clamp. The word describing the
// coupler head itself (slot 0) is skipped; the roster ends at the
// first zero word. An empty roster is fatal.
func ReadClampRoster(c regReader) ([]clamp.Clamp, error) {
	words := make([]uint16, clampConfigLen)
	if err := c.ReadRegs(clampConfigAddr, clampConfigLen, words); err != nil {
		return nil, fmt.Errorf("coupler: reading clamp config block: %w", err)
	}

	var roster []clamp.Clamp
	for _, raw := range words[1:] {
		word := normalize(raw)
		if word == 0 {
			break
		}
		c, err := clamp.DecodeConfigWord(word)
		if err != nil {
			return nil, fmt.Errorf("coupler: decoding clamp roster: %w", err)
		}
		roster = append(roster, c)
	}

	if len(roster) == 0 {
		return nil, fmt.Errorf("coupler: no modules detected")
	}
	return roster, nil
}

// Info is a label/value pair drawn from the coupler's display-only
// metadata registers, for human-readable startup output.
type Info struct {
	Label string
	Value string
}

// Display-only metadata register addresses, read once at startup purely
// for the operator-facing summary; none of these feed the cycle engine.
const (
	addrCouplerMAC      = 0x1031 // 3 regs: 6-byte MAC address
	addrNumAnalogOut    = 0x1022 // 4 regs: analog out, analog in, digital out, digital in counts
	addrFirmwareVersion = 0x2010 // 5 regs: fw version, series code, coupler code, fw major, fw minor
)

// ReadCouplerInfo reads the coupler's display-only metadata registers
// and formats them as label/value pairs suitable for a startup banner.
// Failures here are not fatal to the caller; the cycle engine does not
// depend on this data.
func ReadCouplerInfo(c regReader) ([]Info, error) {
	mac := make([]uint16, 3)
	if err := c.ReadInputRegs(addrCouplerMAC, 3, mac); err != nil {
		return nil, fmt.Errorf("coupler: reading MAC address: %w", err)
	}

	meta := make([]uint16, 5)
	if err := c.ReadInputRegs(addrFirmwareVersion, 5, meta); err != nil {
		return nil, fmt.Errorf("coupler: reading identity metadata: %w", err)
	}

	counts := make([]uint16, 4)
	if err := c.ReadInputRegs(addrNumAnalogOut, 4, counts); err != nil {
		return nil, fmt.Errorf("coupler: reading module counts: %w", err)
	}

	return []Info{
		{"MAC", fmt.Sprintf("%04X:%04X:%04X", mac[0], mac[1], mac[2])},
		{"Firmware version", fmt.Sprintf("%d", meta[0])},
		{"Series code", fmt.Sprintf("%d", meta[1])},
		{"Coupler code", fmt.Sprintf("%d", meta[2])},
		{"Firmware", fmt.Sprintf("%d.%d", meta[3], meta[4])},
		{"Analog output channels", fmt.Sprintf("%d", counts[0])},
		{"Analog input channels", fmt.Sprintf("%d", counts[1])},
		{"Digital output channels", fmt.Sprintf("%d", counts[2])},
		{"Digital input channels", fmt.Sprintf("%d", counts[3])},
	}, nil
}
