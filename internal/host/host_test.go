// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

package host

import "testing"

func TestGeometry(t *testing.T) {
	g := Geometry{Name: "axe", CapacityBytes: 1 << 20, SectorSize: 4096}

	if g.Sectors() != 256 {
		t.Errorf("Sectors() = %d, want 256", g.Sectors())
	}
	if g.KernelSectors() != 2048 {
		t.Errorf("KernelSectors() = %d, want 2048", g.KernelSectors())
	}
}
