// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package translator turns one scatter-gather request into a sequence of
// sector addressed copies against the backing store.
package translator

import (
	"errors"
	"fmt"

	"github.com/asch/axe/internal/axe/store"
)

// Segment length is not a whole multiple of the sector size.
var ErrMisalignedSegment = errors.New("segment not aligned to sector size")

// Segment is one contiguous piece of caller memory. The whole Buf takes part
// in the transfer.
type Segment struct {
	Buf []byte
}

// Request is one I/O request. Segments are processed in order and each
// starts right behind the previous one on the device.
type Request struct {
	// First sector of the first segment.
	Sector int64

	Dir store.Direction

	Segments []Segment
}

// Length of the request in bytes.
func (r Request) Length() int64 {
	var length int64
	for _, s := range r.Segments {
		length += int64(len(s.Buf))
	}

	return length
}

// Translator drives the backing store one segment at a time. It is not safe
// for concurrent use.
type Translator struct {
	store      *store.Store
	sectorSize int64
}

func New(s *store.Store, sectorSize int64) *Translator {
	return &Translator{store: s, sectorSize: sectorSize}
}

// Translate executes the request and returns the sector cursor after the last
// processed segment. The whole request is validated first, a request which
// is misaligned or reaches beyond the device fails before anything is copied,
// hence a failed request never leaves partial data behind.
func (t *Translator) Translate(r Request) (int64, error) {
	if err := t.validate(r); err != nil {
		return r.Sector, err
	}

	cursor := r.Sector
	for i, s := range r.Segments {
		length := int64(len(s.Buf))
		offset := cursor * t.sectorSize

		if err := t.store.Transfer(offset, length, s.Buf, r.Dir); err != nil {
			return cursor, fmt.Errorf("segment %d: %w", i, err)
		}

		cursor += length / t.sectorSize
	}

	return cursor, nil
}

// Checks alignment of all segments and that the implied range lies within the
// device. Sector arithmetic is used so that huge sector numbers cannot
// overflow the byte offset.
func (t *Translator) validate(r Request) error {
	var sectors int64
	for i, s := range r.Segments {
		length := int64(len(s.Buf))
		if length%t.sectorSize != 0 {
			return fmt.Errorf("%w: segment %d has %d bytes, sector size %d",
				ErrMisalignedSegment, i, length, t.sectorSize)
		}
		sectors += length / t.sectorSize
	}

	deviceSectors := t.store.Capacity() / t.sectorSize
	if r.Sector < 0 || r.Sector > deviceSectors || sectors > deviceSectors-r.Sector {
		return fmt.Errorf("%w: sector %d count %d device sectors %d",
			store.ErrOutOfRange, r.Sector, sectors, deviceSectors)
	}

	return nil
}
