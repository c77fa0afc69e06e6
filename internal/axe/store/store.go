// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package store implements the in-memory media of the device. It is a flat
// byte buffer with bounds-checked copies in and out and nothing else. It does
// not lock and does not log, serialization of requests is the job of the
// caller.
package store

import (
	"errors"
	"fmt"
)

var (
	// The requested byte range does not lie entirely within the device.
	ErrOutOfRange = errors.New("access beyond end of device")

	// The store was already released, its memory is gone.
	ErrReleased = errors.New("backing store released")

	// The memory region is shorter than the declared transfer length.
	ErrShortBuffer = errors.New("memory region shorter than transfer length")
)

// Direction of the copy from the device point of view.
type Direction int

const (
	Read Direction = iota
	Write
)

func (d Direction) String() string {
	switch d {
	case Read:
		return "read"
	case Write:
		return "write"
	}

	return fmt.Sprintf("direction(%d)", int(d))
}

// Store owns the backing buffer of exactly the device capacity.
type Store struct {
	data  []byte
	alloc Allocator
}

// Returns store with capacity bytes obtained from alloc.
func New(capacity int64, alloc Allocator) (*Store, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid capacity %d", capacity)
	}

	data, err := alloc.Alloc(capacity)
	if err != nil {
		return nil, err
	}

	if int64(len(data)) != capacity {
		alloc.Free(data)
		return nil, fmt.Errorf("allocator returned %d bytes instead of %d", len(data), capacity)
	}

	return &Store{data: data, alloc: alloc}, nil
}

// Capacity in bytes. Zero after Release.
func (s *Store) Capacity() int64 {
	return int64(len(s.data))
}

// Transfer copies length bytes between buf and the store at offset. Write
// copies from buf into the store, Read the other way. The copy is all or
// nothing, if the range does not fit nothing is copied.
func (s *Store) Transfer(offset, length int64, buf []byte, dir Direction) error {
	if s.data == nil {
		return ErrReleased
	}

	capacity := int64(len(s.data))

	// Written so that offset+length cannot overflow.
	if offset < 0 || length < 0 || offset > capacity || length > capacity-offset {
		return fmt.Errorf("%w: offset %d length %d capacity %d", ErrOutOfRange, offset, length, capacity)
	}

	if int64(len(buf)) < length {
		return fmt.Errorf("%w: %d < %d", ErrShortBuffer, len(buf), length)
	}

	media := s.data[offset : offset+length]

	switch dir {
	case Write:
		copy(media, buf[:length])
	case Read:
		copy(buf[:length], media)
	default:
		return fmt.Errorf("unknown %v", dir)
	}

	return nil
}

// Release returns the buffer to the allocator. Calling it more than once is
// safe, only the first call frees the memory.
func (s *Store) Release() error {
	if s.data == nil {
		return nil
	}

	data := s.data
	s.data = nil

	return s.alloc.Free(data)
}
