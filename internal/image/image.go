// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package image

import (
	"fmt"

	"github.com/ffutop/wago-modbus-bridge/internal/clamp"
)

// ProcessImage is the flat, indexable snapshot of a coupler's channels:
// four named shared regions, one per RegisterKind.
type ProcessImage struct {
	regions map[clamp.RegisterKind]SharedRegion
}

var kindSuffix = map[clamp.RegisterKind]string{
	clamp.DI: "DI",
	clamp.DO: "DO",
	clamp.AI: "AI",
	clamp.AO: "AO",
}

var kindElemBytes = map[clamp.RegisterKind]int{
	clamp.DI: 1,
	clamp.DO: 1,
	clamp.AI: 2,
	clamp.AO: 2,
}

// NewProcessImage allocates the four shared regions named
// `{prefix}DI/DO/AI/AO`, sized from counts. If allocation fails partway
// through, every region already created is closed before the error is
// returned.
func NewProcessImage(factory SharedRegionFactory, prefix string, counts map[clamp.RegisterKind]int, force bool) (*ProcessImage, error) {
	pi := &ProcessImage{regions: make(map[clamp.RegisterKind]SharedRegion, 4)}

	for _, kind := range []clamp.RegisterKind{clamp.DI, clamp.DO, clamp.AI, clamp.AO} {
		name := prefix + kindSuffix[kind]
		region, err := factory.Create(name, kindElemBytes[kind], counts[kind], force)
		if err != nil {
			pi.Close()
			return nil, fmt.Errorf("image: allocating region %q: %w", name, err)
		}
		pi.regions[kind] = region
	}

	return pi, nil
}

// Close releases every region this image holds. Regions that failed to
// allocate are simply absent and skipped.
func (pi *ProcessImage) Close() error {
	var firstErr error
	for _, region := range pi.regions {
		if err := region.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Region exposes the raw SharedRegion for a kind, for the cycle engine
// to drive bulk Modbus transfers directly against.
func (pi *ProcessImage) Region(kind clamp.RegisterKind) SharedRegion {
	return pi.regions[kind]
}

// ReadBit reads one DI or DO channel as a boolean (non-zero byte ⇒ true).
func (pi *ProcessImage) ReadBit(kind clamp.RegisterKind, index int) (bool, error) {
	v, err := pi.regions[kind].ReadByte(index)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// WriteBit stores a DO channel. DO writes always target the DO region,
// never the AO region's word accessor.
func (pi *ProcessImage) WriteBit(index int, value bool) error {
	var b byte
	if value {
		b = 1
	}
	return pi.regions[clamp.DO].WriteByte(index, b)
}

// ReadWord reads one AI or AO channel.
func (pi *ProcessImage) ReadWord(kind clamp.RegisterKind, index int) (uint16, error) {
	return pi.regions[kind].ReadWord(index)
}

// WriteWord stores an AO channel.
func (pi *ProcessImage) WriteWord(index int, value uint16) error {
	return pi.regions[clamp.AO].WriteWord(index, value)
}
