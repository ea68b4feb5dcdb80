// Copyright 2026 The tofcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// tofcore-probe reads a module's I²C EEPROM and reports which configuration
// the Module Factory resolved it to.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tofcore/tofcore/factory"
	"github.com/tofcore/tofcore/pseudodata"
	"github.com/tofcore/tofcore/storage"

	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/host"
)

func mainImpl() error {
	i2cName := flag.String("i2c", "", "I²C bus to use")
	i2cHz := flag.Int("hz", 0, "I²C bus speed")
	addr := flag.Uint("addr", 0x50, "EEPROM I²C address")
	imageSize := flag.Uint("size", 2*1024*1024, "EEPROM image size in bytes")
	flag.Parse()

	if len(flag.Args()) != 0 {
		return fmt.Errorf("unexpected argument: %s", flag.Args())
	}

	if _, err := host.Init(); err != nil {
		return err
	}
	bus, err := i2creg.Open(*i2cName)
	if err != nil {
		return err
	}
	defer bus.Close()
	if *i2cHz != 0 {
		if err := bus.SetSpeed(int64(*i2cHz)); err != nil {
			return err
		}
	}

	eeprom := &storage.EEPROM{
		Dev:       &i2c.Dev{Bus: bus, Addr: uint16(*addr)},
		ImageSize: uint32(*imageSize),
	}

	f := factory.Factory{Table: defaultTable()}
	config, err := f.Probe(eeprom, uint32(*imageSize))
	if err != nil {
		return err
	}

	fmt.Printf("Module:        %s\n", config.Name)
	fmt.Printf("ImagerFamily:  %s\n", config.ImagerFamily)
	fmt.Printf("Calibration:   %d bytes\n", len(config.Calibration))
	return nil
}

// defaultTable is a stand-in for a real deployment's registered identifier
// table, which would be loaded from a configuration file rather than
// compiled in.
func defaultTable() factory.Table {
	return factory.Table{Entries: []factory.Entry{
		{Identifier: [4]byte{0x01, 0x00, 0x00, 0x00}, Config: factory.ModuleConfig{
			Name:         "generic-m2450a12",
			ImagerFamily: pseudodata.FamilyM2450A12,
		}},
	}}
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "\ntofcore-probe: %s.\n", err)
		os.Exit(1)
	}
}
