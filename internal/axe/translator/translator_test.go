// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package translator

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/asch/axe/internal/axe/store"
)

const (
	sectorSize = 512
	sectors    = 2048
	capacity   = sectors * sectorSize
)

type heap struct{}

func (heap) Alloc(size int64) ([]byte, error) { return make([]byte, size), nil }
func (heap) Free([]byte) error                { return nil }

func newTranslator(t *testing.T) *Translator {
	t.Helper()

	s, err := store.New(capacity, heap{})
	if err != nil {
		t.Fatal(err)
	}

	return New(s, sectorSize)
}

func pattern(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n*sectorSize)
}

func write(t *testing.T, tr *Translator, sector int64, bufs ...[]byte) int64 {
	t.Helper()

	r := Request{Sector: sector, Dir: store.Write}
	for _, b := range bufs {
		r.Segments = append(r.Segments, Segment{Buf: b})
	}

	cursor, err := tr.Translate(r)
	if err != nil {
		t.Fatalf("write at %d: %v", sector, err)
	}

	return cursor
}

func read(t *testing.T, tr *Translator, sector int64, n int) []byte {
	t.Helper()

	buf := make([]byte, n*sectorSize)
	if _, err := tr.Translate(Request{Sector: sector, Dir: store.Read, Segments: []Segment{{buf}}}); err != nil {
		t.Fatalf("read at %d: %v", sector, err)
	}

	return buf
}

func TestRoundTrip(t *testing.T) {
	tr := newTranslator(t)

	cursor := write(t, tr, 0, pattern(0xaa, 1))
	if cursor != 1 {
		t.Errorf("cursor %d, want 1", cursor)
	}

	if diff := cmp.Diff(pattern(0xaa, 1), read(t, tr, 0, 1)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestMultipleSegments(t *testing.T) {
	tr := newTranslator(t)

	cursor := write(t, tr, 0, pattern(0x11, 1), pattern(0x22, 1))
	if cursor != 2 {
		t.Errorf("cursor %d, want 2", cursor)
	}

	want := append(pattern(0x11, 1), pattern(0x22, 1)...)
	if diff := cmp.Diff(want, read(t, tr, 0, 2)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestScatterRead(t *testing.T) {
	tr := newTranslator(t)
	write(t, tr, 10, pattern(0x01, 2), pattern(0x02, 3))

	a := make([]byte, 3*sectorSize)
	b := make([]byte, 2*sectorSize)
	cursor, err := tr.Translate(Request{
		Sector:   10,
		Dir:      store.Read,
		Segments: []Segment{{a}, {b}},
	})
	if err != nil {
		t.Fatal(err)
	}

	if cursor != 15 {
		t.Errorf("cursor %d, want 15", cursor)
	}

	if diff := cmp.Diff(append(pattern(0x01, 2), pattern(0x02, 1)...), a); diff != "" {
		t.Errorf("first segment (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(pattern(0x02, 2), b); diff != "" {
		t.Errorf("second segment (-want +got):\n%s", diff)
	}
}

func TestOutOfRangeLeavesDeviceUntouched(t *testing.T) {
	tests := []struct {
		name     string
		sector   int64
		segments [][]byte
	}{
		{"last sector two long", sectors - 1, [][]byte{pattern(0xaa, 2)}},
		{"second segment past end", sectors - 2, [][]byte{pattern(0xaa, 1), pattern(0xbb, 2)}},
		{"beyond end", sectors, [][]byte{pattern(0xaa, 1)}},
		{"negative sector", -1, [][]byte{pattern(0xaa, 1)}},
		{"huge sector", int64(^uint64(0) >> 1), [][]byte{pattern(0xaa, 1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTranslator(t)

			r := Request{Sector: tt.sector, Dir: store.Write}
			for _, b := range tt.segments {
				r.Segments = append(r.Segments, Segment{b})
			}

			cursor, err := tr.Translate(r)
			if !errors.Is(err, store.ErrOutOfRange) {
				t.Fatalf("got %v, want ErrOutOfRange", err)
			}
			if cursor != tt.sector {
				t.Errorf("cursor %d, want %d", cursor, tt.sector)
			}

			if !bytes.Equal(read(t, tr, 0, sectors), make([]byte, capacity)) {
				t.Error("device modified by failed request")
			}
		})
	}
}

func TestMisalignedSegment(t *testing.T) {
	tr := newTranslator(t)

	_, err := tr.Translate(Request{
		Sector:   0,
		Dir:      store.Write,
		Segments: []Segment{{pattern(0x33, 1)}, {make([]byte, sectorSize+1)}},
	})
	if !errors.Is(err, ErrMisalignedSegment) {
		t.Fatalf("got %v, want ErrMisalignedSegment", err)
	}

	if !bytes.Equal(read(t, tr, 0, 1), make([]byte, sectorSize)) {
		t.Error("aligned segment was written although the request failed")
	}
}

func TestEmptyRequest(t *testing.T) {
	tr := newTranslator(t)

	cursor, err := tr.Translate(Request{Sector: 7, Dir: store.Read})
	if err != nil {
		t.Fatal(err)
	}
	if cursor != 7 {
		t.Errorf("cursor %d, want 7", cursor)
	}
}

func TestZeroLengthSegment(t *testing.T) {
	tr := newTranslator(t)

	cursor := write(t, tr, 3, []byte{}, pattern(0x44, 1))
	if cursor != 4 {
		t.Errorf("cursor %d, want 4", cursor)
	}
}

// Requests are applied in order, on overlap the later one wins.
func TestOrderOfOverlappingRequests(t *testing.T) {
	a := pattern(0x0a, 2) // sectors 0-1
	b := pattern(0x0b, 2) // sectors 1-2

	ab := newTranslator(t)
	write(t, ab, 0, a)
	write(t, ab, 1, b)

	ba := newTranslator(t)
	write(t, ba, 1, b)
	write(t, ba, 0, a)

	wantAB := append(pattern(0x0a, 1), pattern(0x0b, 2)...)
	wantBA := append(pattern(0x0a, 2), pattern(0x0b, 1)...)

	if diff := cmp.Diff(wantAB, read(t, ab, 0, 3)); diff != "" {
		t.Errorf("A then B (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantBA, read(t, ba, 0, 3)); diff != "" {
		t.Errorf("B then A (-want +got):\n%s", diff)
	}
}

// One request with two segments ends in the same state as two requests with
// one segment each.
func TestSegmentsEqualSequentialRequests(t *testing.T) {
	one := newTranslator(t)
	write(t, one, 5, pattern(0x51, 1), pattern(0x52, 2))

	two := newTranslator(t)
	write(t, two, 5, pattern(0x51, 1))
	write(t, two, 6, pattern(0x52, 2))

	if diff := cmp.Diff(read(t, two, 0, 16), read(t, one, 0, 16)); diff != "" {
		t.Errorf("(-sequential +segmented):\n%s", diff)
	}
}

func TestRequestLength(t *testing.T) {
	r := Request{Segments: []Segment{{make([]byte, 512)}, {make([]byte, 1024)}}}
	if r.Length() != 1536 {
		t.Errorf("length %d, want 1536", r.Length())
	}
}
