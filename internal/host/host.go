// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package host defines the contract between the device and the environment
// which exposes it as a block device and routes I/O requests to it.
package host

import (
	"github.com/asch/axe/internal/axe/translator"
)

// Linux counts device capacity in 512 byte units no matter what the logical
// block size is.
const kernelSectorSize = 512

// Geometry published to the host at registration.
type Geometry struct {
	Name          string
	CapacityBytes int64
	SectorSize    int64
}

// Number of device sectors.
func (g Geometry) Sectors() int64 {
	return g.CapacityBytes / g.SectorSize
}

// Capacity in 512 byte units as the kernel expects it.
func (g Geometry) KernelSectors() int64 {
	return g.CapacityBytes / kernelSectorSize
}

// Handler is the I/O entry point of a device. It returns the sector cursor
// after the request.
type Handler interface {
	HandleRequest(r translator.Request) (int64, error)
}

// Registration is everything the host needs to expose a device.
type Registration struct {
	Geometry Geometry
	Handler  Handler
}

// Host issues handles for registered devices.
type Host interface {
	Register(r Registration) (Handle, error)
}

// Handle is a registered device. Requests are dispatched to the handler only
// while Serve runs.
type Handle interface {
	// Serve dispatches requests until Stop is called or the host goes
	// away.
	Serve()

	// Stop makes Serve return.
	Stop()

	// Unregister removes the device from the host. No request is
	// dispatched after it returns.
	Unregister() error
}
