// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package image

import (
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"github.com/edsrzf/mmap-go"
)

// SharedRegion is a byte- or word-addressable block of memory exposed
// to external, unsynchronized reader processes. Byte regions (DI/DO)
// address one element per bit, stored as 0x00/0x01; word regions
// (AI/AO) address one native-endian 16-bit register per element.
type SharedRegion interface {
	Len() int
	ReadByte(index int) (byte, error)
	WriteByte(index int, value byte) error
	ReadWord(index int) (uint16, error)
	WriteWord(index int, value uint16) error
	Close() error
}

// SharedRegionFactory creates named SharedRegions, parameterizing the
// process image over its backing store so tests can substitute an
// in-process fake.
type SharedRegionFactory interface {
	// Create allocates or adopts a region named `name` holding `count`
	// elements of `elemBytes` bytes each (1 for byte regions, 2 for
	// word regions). If force is false, an existing region with this
	// name is an error; if true, an existing region is adopted as-is.
	Create(name string, elemBytes, count int, force bool) (SharedRegion, error)
}

// shmDir is where named shared-memory objects live, mirroring the
// POSIX shm_open convention the original coupler bridge relies on.
const shmDir = "/dev/shm"

// MmapFactory creates regions backed by memory-mapped files under
// shmDir, so that an external reader process can open the same path
// and observe live updates.
type MmapFactory struct{}

func (MmapFactory) Create(name string, elemBytes, count int, force bool) (SharedRegion, error) {
	size := elemBytes * count
	if size == 0 {
		return &mmapRegion{count: count, elemBytes: elemBytes}, nil
	}

	path := filepath.Join(shmDir, name)
	flags := os.O_RDWR | os.O_CREATE
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o666)
	if err != nil {
		return nil, fmt.Errorf("image: opening shared region %q: %w", name, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("image: sizing shared region %q: %w", name, err)
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("image: mapping shared region %q: %w", name, err)
	}

	r := &mmapRegion{file: f, data: data, count: count, elemBytes: elemBytes}
	if elemBytes == 2 {
		r.words = unsafe.Slice((*uint16)(unsafe.Pointer(&data[0])), count)
	}
	return r, nil
}

type mmapRegion struct {
	file      *os.File
	data      mmap.MMap
	words     []uint16
	count     int
	elemBytes int
}

func (r *mmapRegion) Len() int { return r.count }

func (r *mmapRegion) ReadByte(index int) (byte, error) {
	if index < 0 || index >= r.count {
		return 0, fmt.Errorf("image: index %d out of range [0,%d)", index, r.count)
	}
	return r.data[index], nil
}

func (r *mmapRegion) WriteByte(index int, value byte) error {
	if index < 0 || index >= r.count {
		return fmt.Errorf("image: index %d out of range [0,%d)", index, r.count)
	}
	r.data[index] = value
	return nil
}

func (r *mmapRegion) ReadWord(index int) (uint16, error) {
	if index < 0 || index >= r.count {
		return 0, fmt.Errorf("image: index %d out of range [0,%d)", index, r.count)
	}
	return r.words[index], nil
}

func (r *mmapRegion) WriteWord(index int, value uint16) error {
	if index < 0 || index >= r.count {
		return fmt.Errorf("image: index %d out of range [0,%d)", index, r.count)
	}
	r.words[index] = value
	return nil
}

func (r *mmapRegion) Close() error {
	if r.data == nil {
		return nil
	}
	if err := r.data.Unmap(); err != nil {
		r.file.Close()
		return fmt.Errorf("image: unmapping shared region: %w", err)
	}
	return r.file.Close()
}
