// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package image

import "fmt"

// MemoryFactory creates in-process SharedRegions backed by a plain
// byte slice, standing in for the mmap-backed implementation in tests
// that do not need a real OS shared-memory object.
type MemoryFactory struct{}

func (MemoryFactory) Create(name string, elemBytes, count int, force bool) (SharedRegion, error) {
	return &memoryRegion{
		data:      make([]byte, elemBytes*count),
		count:     count,
		elemBytes: elemBytes,
	}, nil
}

type memoryRegion struct {
	data      []byte
	count     int
	elemBytes int
}

func (r *memoryRegion) Len() int { return r.count }

func (r *memoryRegion) ReadByte(index int) (byte, error) {
	if index < 0 || index >= r.count {
		return 0, fmt.Errorf("image: index %d out of range [0,%d)", index, r.count)
	}
	return r.data[index], nil
}

func (r *memoryRegion) WriteByte(index int, value byte) error {
	if index < 0 || index >= r.count {
		return fmt.Errorf("image: index %d out of range [0,%d)", index, r.count)
	}
	r.data[index] = value
	return nil
}

func (r *memoryRegion) ReadWord(index int) (uint16, error) {
	if index < 0 || index >= r.count {
		return 0, fmt.Errorf("image: index %d out of range [0,%d)", index, r.count)
	}
	off := index * 2
	return uint16(r.data[off]) | uint16(r.data[off+1])<<8, nil
}

func (r *memoryRegion) WriteWord(index int, value uint16) error {
	if index < 0 || index >= r.count {
		return fmt.Errorf("image: index %d out of range [0,%d)", index, r.count)
	}
	off := index * 2
	r.data[off] = byte(value)
	r.data[off+1] = byte(value >> 8)
	return nil
}

func (r *memoryRegion) Close() error { return nil }
