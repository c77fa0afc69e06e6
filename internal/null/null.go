// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Null package does nothing but correctly.
package null

import (
	"github.com/asch/axe/internal/axe/translator"
)

// Null implementation of host.Handler. Usefull for measuring performance of
// the underlying host, i.e. BUSE and buse library, without any copying.
// Otherwise useless. Every request succeeds and the cursor advances as if all
// segments were transferred.
type null struct {
	sectorSize int64
}

func NewNull(sectorSize int64) *null {
	return &null{sectorSize: sectorSize}
}

func (n *null) HandleRequest(r translator.Request) (int64, error) {
	return r.Sector + r.Length()/n.sectorSize, nil
}
