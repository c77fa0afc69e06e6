// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package busehost exposes a device through the BUSE kernel module as
// /dev/buse%d. The golang buse library does the communication with the
// kernel, this package only translates its read and write calls into device
// requests.
package busehost

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/asch/buse/lib/go/buse"
	"github.com/rs/zerolog/log"

	"github.com/asch/axe/internal/axe/store"
	"github.com/asch/axe/internal/axe/translator"
	"github.com/asch/axe/internal/host"
)

const (
	// Size of the metadata for one write in the write chunk read from the
	// kernel.
	writeItemSize = 32

	// Sector is a linux constant, which is always 512, no matter how big
	// your sectors or blocks are. Write metadata from the kernel are in
	// these units.
	sectorUnit = 512
)

// Options of the BUSE device which are not part of the device geometry.
type Options struct {
	Major          int64
	Threads        int
	QueueDepth     int64
	Scheduler      bool
	Durable        bool
	WriteChunkSize int64
	WriteShmSize   int64
	ReadShmSize    int64
	CollisionArea  int64
}

// Host implements host.Host on top of BUSE.
type Host struct {
	options Options
}

func New(o Options) *Host {
	return &Host{options: o}
}

// Register creates the BUSE device. It fails when the kernel refuses the
// device, e.g. because the major is already taken.
func (h *Host) Register(r host.Registration) (host.Handle, error) {
	g := r.Geometry
	if g.SectorSize != 512 && g.SectorSize != 4096 {
		return nil, fmt.Errorf("buse supports 512 and 4096 byte blocks only, got %d", g.SectorSize)
	}

	if h.options.WriteChunkSize <= 0 || h.options.WriteChunkSize%g.SectorSize != 0 {
		return nil, fmt.Errorf("write chunk size %d is not a multiple of block size %d",
			h.options.WriteChunkSize, g.SectorSize)
	}

	rw := newReadWriter(r.Handler, g.SectorSize, h.options.WriteChunkSize)

	b, err := buse.New(rw, buse.Options{
		Durable:        h.options.Durable,
		WriteChunkSize: h.options.WriteChunkSize,
		BlockSize:      g.SectorSize,
		Threads:        h.options.Threads,
		Major:          h.options.Major,
		WriteShmSize:   h.options.WriteShmSize,
		ReadShmSize:    h.options.ReadShmSize,
		Size:           g.CapacityBytes,
		CollisionArea:  h.options.CollisionArea,
		QueueDepth:     h.options.QueueDepth,
		Scheduler:      h.options.Scheduler,
	})
	if err != nil {
		return nil, err
	}

	log.Info().Msgf("BUSE device %d registered!", h.options.Major)

	return &handle{buse: b, major: h.options.Major}, nil
}

// Handle of the registered BUSE device.
type handle struct {
	buse  buse.Buse
	major int64
}

func (h *handle) Serve() {
	h.buse.Run()
}

func (h *handle) Stop() {
	log.Info().Msgf("Stopping buse%d device!", h.major)
	h.buse.StopDevice()
}

func (h *handle) Unregister() error {
	log.Info().Msgf("Removing buse%d", h.major)
	h.buse.RemoveDevice()

	return nil
}

// readWriter implements buse.BuseReadWriter and forwards everything to the
// device handler.
type readWriter struct {
	handler   host.Handler
	blockSize int64

	// Size of the chunk portion which contains all writes metadata. After
	// this offset real data are stored.
	metadataSize int64
}

func newReadWriter(handler host.Handler, blockSize, writeChunkSize int64) *readWriter {
	return &readWriter{
		handler:      handler,
		blockSize:    blockSize,
		metadataSize: writeChunkSize / blockSize * writeItemSize,
	}
}

// One write from the metadata part of the write chunk. Sector and Length are
// already in blocks.
type extent struct {
	Sector int64
	Length int64
	SeqNo  int64
	Flag   int64
}

// Parses write extent information from 32 bytes of raw memory.
func (rw *readWriter) parseExtent(b []byte) extent {
	return extent{
		Sector: int64(binary.LittleEndian.Uint64(b[:8]) * sectorUnit / uint64(rw.blockSize)),
		Length: int64(binary.LittleEndian.Uint64(b[8:16]) * sectorUnit / uint64(rw.blockSize)),
		SeqNo:  int64(binary.LittleEndian.Uint64(b[16:24])),
		Flag:   int64(binary.LittleEndian.Uint64(b[24:32])),
	}
}

// BuseWrite handles a batch of writes. The first metadataSize bytes of the
// chunk describe the writes, the data of all writes follow in the same order.
// Writes which continue exactly where the previous one ended are merged into
// one request with multiple segments. The batch fails on the first failing
// request.
func (rw *readWriter) BuseWrite(writes int64, chunk []byte) error {
	if writes*writeItemSize > rw.metadataSize || int64(len(chunk)) < rw.metadataSize {
		return fmt.Errorf("malformed write chunk: %d writes, %d bytes", writes, len(chunk))
	}

	metadata := chunk[:rw.metadataSize]
	data := chunk[rw.metadataSize:]

	var (
		r       translator.Request
		pending bool
	)

	for i := int64(0); i < writes; i++ {
		e := rw.parseExtent(metadata[:writeItemSize])
		metadata = metadata[writeItemSize:]

		size := e.Length * rw.blockSize
		if size < 0 || size > int64(len(data)) {
			return fmt.Errorf("write %d: %d bytes but only %d left in chunk", i, size, len(data))
		}

		if pending && r.Sector+r.Length()/rw.blockSize != e.Sector {
			if err := rw.handle(r); err != nil {
				return err
			}
			pending = false
		}

		if !pending {
			r = translator.Request{Sector: e.Sector, Dir: store.Write}
			pending = true
		}

		r.Segments = append(r.Segments, translator.Segment{Buf: data[:size]})
		data = data[size:]
	}

	if pending {
		return rw.handle(r)
	}

	return nil
}

// BuseRead reads length blocks starting at sector into chunk.
func (rw *readWriter) BuseRead(sector, length int64, chunk []byte) error {
	size := length * rw.blockSize
	if size < 0 || size > int64(len(chunk)) {
		return fmt.Errorf("read of %d blocks does not fit %d byte chunk", length, len(chunk))
	}

	return rw.handle(translator.Request{
		Sector:   sector,
		Dir:      store.Read,
		Segments: []translator.Segment{{Buf: chunk[:size]}},
	})
}

func (rw *readWriter) handle(r translator.Request) error {
	cursor, err := rw.handler.HandleRequest(r)
	if err != nil {
		log.Debug().
			Int64("sector", r.Sector).
			Str("dir", r.Dir.String()).
			Int("segments", len(r.Segments)).
			Err(err).
			Msg("request failed")
		return err
	}

	if want := r.Sector + r.Length()/rw.blockSize; cursor != want {
		return errors.New("request finished at unexpected sector")
	}

	return nil
}

func (rw *readWriter) BusePreRun() {
	log.Info().Msg("BUSE device is ready to serve requests")
}

func (rw *readWriter) BusePostRemove() {
	log.Info().Msg("BUSE device removed from kernel")
}
