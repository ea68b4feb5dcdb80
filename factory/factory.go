// Copyright 2026 The tofcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package factory implements the Module Factory: probing a device's
// non-volatile storage for a module identifier, matching it against a
// registered table, and populating the full configuration (imager family,
// calibration data, processing parameters) the rest of the module needs.
// It ports the storage-identifier dispatch shape of
// ModuleConfigFactoryByStorageIdBase.hpp/ModuleConfigFactoryZwetschge.cpp
// (original_source/royale) into the idiom lepton.New uses for its own
// probe-then-initialize sequencing.
package factory

import (
	"github.com/tofcore/tofcore/eventqueue"
	"github.com/tofcore/tofcore/pseudodata"
	"github.com/tofcore/tofcore/status"
	"github.com/tofcore/tofcore/storage"
	"github.com/tofcore/tofcore/storageformat"
)

// ModuleConfig is the populated configuration for one recognized module.
// ProcessingParams is a passthrough bag for calibration numbers this module
// does not interpret itself (lens/illumination parameters live here
// undisturbed, per the original's ModuleConfig shape).
type ModuleConfig struct {
	Name             string
	ImagerFamily     pseudodata.Family
	Calibration      []byte
	RegisterMapTable []byte
	UseCaseList      []byte
	ProcessingParams map[string]float64
}

// Entry pairs a module identifier with the config served for it. Every
// entry, including one with a zero Identifier, is matched directly against
// a probed identifier; the entry whose Identifier equals Table.DefaultID is
// also served when no entry matches.
type Entry struct {
	Identifier [4]byte
	Config     ModuleConfig
}

// Table is a registered set of module identifier -> ModuleConfig mappings,
// mirroring ModuleConfigFactoryByStorageIdBase's constructor-supplied
// configs list plus optional defaultId.
type Table struct {
	Entries    []Entry
	DefaultID  [4]byte
	HasDefault bool
}

func (t Table) find(id [4]byte) (ModuleConfig, bool) {
	for _, e := range t.Entries {
		if e.Identifier == id {
			return e.Config, true
		}
	}
	if t.HasDefault {
		for _, e := range t.Entries {
			if e.Identifier == t.DefaultID {
				return e.Config, true
			}
		}
	}
	return ModuleConfig{}, false
}

// Factory probes storage for a module identifier and resolves it against a
// Table, emitting ImagerConfigNotFound on the supplied event queue when no
// entry matches.
type Factory struct {
	Table  Table
	Events *eventqueue.Queue
}

// Probe reads the Pico-legacy header from access (image size imageSize),
// looks its module identifier up in f.Table, and returns the matched
// config with calibration data populated from storage.
func (f Factory) Probe(access storage.Accessor, imageSize uint32) (ModuleConfig, error) {
	pl := storageformat.PicoLegacy{Access: access, ImageSize: imageSize}
	header, err := pl.ReadHeader()
	if err != nil {
		return ModuleConfig{}, err
	}
	id := header.ModuleIdentifier()

	config, ok := f.Table.find(id)
	if !ok {
		f.notifyNotFound(id)
		return ModuleConfig{}, status.New(status.CodeImagerConfigNotFound, "factory: no module config registered for identifier")
	}

	calib, err := pl.GetCalibrationData(header)
	if err != nil {
		return ModuleConfig{}, err
	}
	config.Calibration = calib
	return config, nil
}

// ProbeZwetschge reads a Zwetschge-formatted storage image directly: the
// calibration blob, register-map table and use-case list live inside the
// image itself, so no identifier table lookup is needed (this mirrors
// ModuleConfigFactoryZwetschge, which resolves a module entirely from the
// flash contents rather than matching a hardware identifier).
func (f Factory) ProbeZwetschge(access storage.Accessor, serial string, fallback storageformat.FallbackLoader) (ModuleConfig, error) {
	z := &storageformat.Zwetschge{Access: access, Serial: serial, Fallback: fallback}
	if err := z.ReadHeader(); err != nil {
		return ModuleConfig{}, err
	}
	toc, err := z.ReadToC()
	if err != nil {
		return ModuleConfig{}, err
	}
	calib, err := z.GetCalibrationData(toc)
	if err != nil {
		return ModuleConfig{}, err
	}
	regMaps, err := z.GetRegisterMapTable(toc)
	if err != nil {
		return ModuleConfig{}, err
	}
	useCases, err := z.GetUseCaseList(toc)
	if err != nil {
		return ModuleConfig{}, err
	}
	return ModuleConfig{
		Name:             serial,
		Calibration:      calib,
		RegisterMapTable: regMaps,
		UseCaseList:      useCases,
	}, nil
}

func (f Factory) notifyNotFound(id [4]byte) {
	if f.Events == nil {
		return
	}
	f.Events.Enqueue(eventqueue.Event{
		Severity: eventqueue.Error,
		Type:     eventqueue.TypeImagerConfigNotFound,
		Payload:  id,
	})
}
