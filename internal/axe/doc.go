// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// axe is a block device backed entirely by memory. The device is a linear
// space of equally sized sectors serving scatter-gather read and write
// requests.
//
// The package owns the device lifecycle. Creation allocates the backing store,
// registration makes the device visible to a host (see package host) and
// teardown reverses both in the opposite order, so no request can reach memory
// which is being released. Subpackages contain the backing store, the
// translation of requests into store copies and the serialization of
// concurrent requests.
package axe
