// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package axe

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"github.com/asch/axe/internal/axe/reqproxy"
	"github.com/asch/axe/internal/axe/store"
	"github.com/asch/axe/internal/axe/translator"
	"github.com/asch/axe/internal/host"
)

var (
	// The backing buffer could not be obtained.
	ErrAllocationFailed = errors.New("cannot allocate backing store")

	// The host refused the device.
	ErrRegistrationFailed = errors.New("cannot register device")

	// The operation needs an active device.
	ErrNotActive = errors.New("device not active")

	// Geometry in the configuration is not usable.
	ErrInvalidConfig = errors.New("invalid device configuration")
)

// State of the device lifecycle. The only possible order is Uninitialized,
// Allocated, Active, Destroyed. Destroyed is terminal, registration failure
// goes straight from Allocated to Destroyed.
type State int

const (
	Uninitialized State = iota
	Allocated
	Active
	Destroyed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Allocated:
		return "allocated"
	case Active:
		return "active"
	case Destroyed:
		return "destroyed"
	}

	return fmt.Sprintf("state(%d)", int(s))
}

// Config of one device. It is fixed for the device lifetime.
type Config struct {
	// Identifier used at registration.
	Name string

	// Total size of the device. Multiple of SectorSize.
	CapacityBytes int64

	SectorSize int64
}

func (c Config) Validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidConfig)
	case c.SectorSize <= 0:
		return fmt.Errorf("%w: sector size %d", ErrInvalidConfig, c.SectorSize)
	case c.CapacityBytes <= 0:
		return fmt.Errorf("%w: capacity %d", ErrInvalidConfig, c.CapacityBytes)
	case c.CapacityBytes%c.SectorSize != 0:
		return fmt.Errorf("%w: capacity %d is not a multiple of sector size %d",
			ErrInvalidConfig, c.CapacityBytes, c.SectorSize)
	}

	return nil
}

// Device is one memory backed block device. Lifecycle methods must not be
// called concurrently with each other, HandleRequest may be called from any
// number of go routines.
type Device struct {
	mu sync.RWMutex

	cfg   Config
	state State

	// Exclusively owned, allocated iff state is Allocated or Active.
	store *store.Store

	// Serializes requests coming from the host. Exists only while Active.
	proxy *reqproxy.Proxy

	// Issued by the host during registration.
	handle host.Handle

	// Requests served by a proxy which was already closed.
	served int64
}

// Create allocates the backing store and returns device in the Allocated
// state. On failure nothing stays allocated.
func Create(cfg Config, alloc store.Allocator) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Device{cfg: cfg, state: Uninitialized}

	s, err := store.New(cfg.CapacityBytes, alloc)
	if err != nil {
		log.Error().Err(err).Str("name", cfg.Name).Msg("cannot allocate backing store")
		return nil, fmt.Errorf("%w: %s", ErrAllocationFailed, err)
	}

	d.store = s
	d.state = Allocated

	log.Info().
		Str("name", cfg.Name).
		Str("capacity", humanize.IBytes(uint64(cfg.CapacityBytes))).
		Int64("sector_size", cfg.SectorSize).
		Int64("sectors", d.Geometry().Sectors()).
		Msg("disk allocated")

	return d, nil
}

// Geometry published to the host.
func (d *Device) Geometry() host.Geometry {
	return host.Geometry{
		Name:          d.cfg.Name,
		CapacityBytes: d.cfg.CapacityBytes,
		SectorSize:    d.cfg.SectorSize,
	}
}

func (d *Device) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.state
}

// Number of requests served by the device.
func (d *Device) Requests() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.proxy != nil {
		return d.served + d.proxy.Requests()
	}

	return d.served
}

// Register binds the device to a handle issued by h and makes it Active. The
// device accepts requests already during the registration because the host
// may start dispatching before Register returns. If the host refuses the
// device, it is destroyed before the error is returned.
func (d *Device) Register(h host.Host) error {
	d.mu.Lock()
	if d.state != Allocated {
		state := d.state
		d.mu.Unlock()
		return fmt.Errorf("cannot register device in %s state", state)
	}

	d.proxy = reqproxy.New(translator.New(d.store, d.cfg.SectorSize))
	d.state = Active
	d.mu.Unlock()

	handle, err := h.Register(host.Registration{Geometry: d.Geometry(), Handler: d})
	if err != nil {
		log.Error().Err(err).Str("name", d.cfg.Name).Msg("cannot register device")
		d.Destroy()
		return fmt.Errorf("%w: %s", ErrRegistrationFailed, err)
	}

	d.mu.Lock()
	d.handle = handle
	d.mu.Unlock()

	log.Info().
		Str("name", d.cfg.Name).
		Int64("kernel_sectors", d.Geometry().KernelSectors()).
		Msg("device registered")

	return nil
}

// HandleRequest is the I/O entry point. Requests are executed one at a time in
// the order the proxy receives them. The returned value is the sector cursor
// after the request.
func (d *Device) HandleRequest(r translator.Request) (int64, error) {
	d.mu.RLock()
	p := d.proxy
	d.mu.RUnlock()

	if p == nil {
		return r.Sector, ErrNotActive
	}

	cursor, err := p.Translate(r)
	if errors.Is(err, reqproxy.ErrClosed) {
		err = ErrNotActive
	}

	return cursor, err
}

// Serve dispatches host requests until Stop is called or the host removes the
// device.
func (d *Device) Serve() error {
	handle, err := d.activeHandle()
	if err != nil {
		return err
	}

	handle.Serve()

	return nil
}

// Stop makes Serve return. The device stays registered until Destroy.
func (d *Device) Stop() error {
	handle, err := d.activeHandle()
	if err != nil {
		return err
	}

	handle.Stop()

	return nil
}

func (d *Device) activeHandle() (host.Handle, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.state != Active || d.handle == nil {
		return nil, ErrNotActive
	}

	return d.handle, nil
}

// Destroy unregisters the device, waits for the request in flight and
// releases the backing store. In this order, so no request can start on
// memory being freed. It works from any state, whatever was set up is torn
// down, and calling it again does nothing. Failures are only logged since
// there is nobody to report them to.
func (d *Device) Destroy() {
	d.mu.Lock()
	if d.state == Destroyed {
		d.mu.Unlock()
		return
	}

	handle, proxy, s := d.handle, d.proxy, d.store
	d.handle, d.proxy, d.store = nil, nil, nil
	d.state = Destroyed

	d.mu.Unlock()

	var err error

	if handle != nil {
		err = multierr.Append(err, handle.Unregister())
		log.Info().Str("name", d.cfg.Name).Msg("device unregistered")
	}

	if proxy != nil {
		proxy.Close()

		d.mu.Lock()
		d.served += proxy.Requests()
		d.mu.Unlock()
	}

	if s != nil {
		err = multierr.Append(err, s.Release())
	}

	if err != nil {
		log.Error().Err(err).Str("name", d.cfg.Name).Msg("teardown incomplete")
	}

	log.Info().Str("name", d.cfg.Name).Msg("device removed")
}
