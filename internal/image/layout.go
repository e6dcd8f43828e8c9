// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package image computes the Modbus address mapping for a coupler's
// process image and provides the shared-memory regions that back it.
package image

import (
	"fmt"

	"github.com/ffutop/wago-modbus-bridge/internal/clamp"
)

// ImageSegment is one contiguous block reachable by a single Modbus
// transaction: a Modbus address, a channel count, and the offset into
// the process image it maps to.
type ImageSegment struct {
	ModbusAddress uint16
	Length        int
	ImageOffset   int
}

// ImageLayout maps each register kind to its ordered list of segments.
type ImageLayout map[clamp.RegisterKind][]ImageSegment

type window struct {
	addr uint16
	cap  int
}

// windows holds the two disjoint address windows the coupler exposes
// per register kind, per the coupler's register map.
var windows = map[clamp.RegisterKind][2]window{
	clamp.DI: {{0x0000, 512}, {0x8000, 1527}},
	clamp.DO: {{0x0200, 512}, {0x9000, 1527}},
	clamp.AI: {{0x0000, 256}, {0x6000, 764}},
	clamp.AO: {{0x0200, 256}, {0x7000, 764}},
}

// ComputeLayout is a pure function from per-kind channel counts to an
// ImageLayout. It is independent of any live coupler and fully
// unit-testable on its own.
func ComputeLayout(counts map[clamp.RegisterKind]int) (ImageLayout, error) {
	layout := make(ImageLayout)
	for kind, w := range windows {
		total := counts[kind]
		if total == 0 {
			continue
		}
		if total > w[0].cap+w[1].cap {
			return nil, fmt.Errorf("image: %s channel count %d exceeds combined window capacity %d", kind, total, w[0].cap+w[1].cap)
		}

		var segments []ImageSegment
		first := total
		if first > w[0].cap {
			first = w[0].cap
		}
		segments = append(segments, ImageSegment{ModbusAddress: w[0].addr, Length: first, ImageOffset: 0})

		if total > w[0].cap {
			segments = append(segments, ImageSegment{
				ModbusAddress: w[1].addr,
				Length:        total - w[0].cap,
				ImageOffset:   w[0].cap,
			})
		}
		layout[kind] = segments
	}
	return layout, nil
}
