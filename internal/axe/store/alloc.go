// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package store

import (
	"golang.org/x/sys/unix"
)

// Allocator obtains and returns the memory standing in for the physical media.
// Free is called exactly once for every buffer returned by Alloc.
type Allocator interface {
	Alloc(size int64) ([]byte, error)
	Free(buf []byte) error
}

// MmapAllocator maps anonymous private memory for the backing buffer. The
// memory is zero filled by the kernel and returned to it on Free, so a
// released device does not keep its capacity on the go heap.
type MmapAllocator struct {
	// Lock pins the mapping into RAM so the device content is never
	// swapped out.
	Lock bool
}

func (a MmapAllocator) Alloc(size int64) ([]byte, error) {
	buf, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}

	if a.Lock {
		if err := unix.Mlock(buf); err != nil {
			unix.Munmap(buf)
			return nil, err
		}
	}

	return buf, nil
}

// Munmap implicitly removes the lock, there is no need to call Munlock.
func (a MmapAllocator) Free(buf []byte) error {
	return unix.Munmap(buf)
}
