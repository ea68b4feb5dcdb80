// Copyright 2026 The tofcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package imager

import "github.com/tofcore/tofcore/pseudodata"

func init() {
	Register(FamilyTable{
		Family:            pseudodata.FamilyM2450A12,
		PseudodataFamily:  pseudodata.FamilyM2450A12,
		Capacity:          32,
		CfgcntFlags:       0x0110,
		CfgcntPendingBit:  0x0001,
		ReconfigCounter:   0x0111,
		ExposureRegisters: []uint16{0x0120, 0x0121, 0x0122, 0x0123},
		FrameRateRegister: 0x0130,
	})
	Register(FamilyTable{
		Family:            pseudodata.FamilyM2453A11,
		PseudodataFamily:  pseudodata.FamilyM2453A11,
		Capacity:          32,
		CfgcntFlags:       0x0210,
		CfgcntPendingBit:  0x0001,
		ReconfigCounter:   0x0211,
		ExposureRegisters: []uint16{0x0220, 0x0221, 0x0222, 0x0223},
		FrameRateRegister: 0x0230,
	})
}
