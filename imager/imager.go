// Copyright 2026 The tofcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package imager implements the imager control state machine: use-case
// verification and execution, safe reconfiguration of exposure and frame
// rate, eye-safety gap enforcement, and per-family capability tables. It
// generalizes lepton.Dev's wrapping of a cci.Dev plus family-specific
// constants into a table keyed by imager Family, per DESIGN NOTES §9
// "Polymorphism by family".
package imager

import (
	"time"

	"github.com/tofcore/tofcore/pseudodata"
	"github.com/tofcore/tofcore/regaccess"
	"github.com/tofcore/tofcore/status"
	"github.com/tofcore/tofcore/usecase"
)

// VerifyResult is the outcome of verify_use_case.
type VerifyResult int

// Valid VerifyResult values.
const (
	Success VerifyResult = iota
	ExposureTime
	Framerate
	ModulationFrequency
	Phase
	Region
	DutyCycle
	Undefined
)

func (r VerifyResult) String() string {
	switch r {
	case Success:
		return "Success"
	case ExposureTime:
		return "ExposureTime"
	case Framerate:
		return "Framerate"
	case ModulationFrequency:
		return "ModulationFrequency"
	case Phase:
		return "Phase"
	case Region:
		return "Region"
	case DutyCycle:
		return "DutyCycle"
	default:
		return "Undefined"
	}
}

// Family identifies an imager hardware family; its capability table carries
// everything that varies across families so imager.Dev needs no subclasses.
type Family = pseudodata.Family

// FamilyTable is the per-family capability set: frame capacity, pseudodata
// requirements, and register addresses for configuration-change signaling.
// A new family must supply every field explicitly; Register panics rather
// than defaulting any of them (Open Question decision, spec §9: "do not
// guess for new families").
type FamilyTable struct {
	Family            Family
	PseudodataFamily  pseudodata.Family
	Capacity          int // max total raw frames per sequence, spec §3 (typically 32)
	CfgcntFlags       uint16
	CfgcntPendingBit  uint16
	ReconfigCounter   uint16 // register reporting the 12 bit reconfig index
	ExposureRegisters []uint16
	FrameRateRegister uint16
}

var familyTables = map[Family]FamilyTable{}

// Register adds a family's capability table. It panics if family is already
// registered or if any required field is left at its zero value, matching
// pseudodata.Register's fail-fast discipline.
func Register(t FamilyTable) {
	if _, ok := familyTables[t.Family]; ok {
		panic("imager: family " + string(t.Family) + " already registered")
	}
	if t.Family == "" || t.PseudodataFamily == "" || t.Capacity == 0 ||
		t.CfgcntFlags == 0 || t.CfgcntPendingBit == 0 || t.ReconfigCounter == 0 ||
		len(t.ExposureRegisters) == 0 || t.FrameRateRegister == 0 {
		panic("imager: family " + string(t.Family) + " registered with incomplete capability table")
	}
	familyTables[t.Family] = t
}

// Lookup returns the capability table for family, panicking if it was never
// registered — new imager families must be deliberately added, never
// silently defaulted.
func Lookup(family Family) FamilyTable {
	t, ok := familyTables[family]
	if !ok {
		panic("imager: family " + string(family) + " not registered")
	}
	return t
}

// Dev controls one imager instance: register access, use-case lifecycle and
// eye-safety gap enforcement.
type Dev struct {
	Reg    *regaccess.Dev
	Table  FamilyTable
	Config ExternalConfig

	state       usecase.ImagerState
	executing   *usecase.UseCaseDefinition
	reconfig    uint16
	stopAt      time.Time
	nowFunc     func() time.Time
	sleepFunc   func(time.Duration)
}

// ExternalConfig is the subset of a module's configuration the imager needs
// at construction time: whether register maps live on-device (flash-defined)
// or must be pushed by the host (software-defined), and an external trigger
// GPIO if configured.
type ExternalConfig struct {
	FlashDefined bool
	Trigger      TriggerMux
}

// TriggerMux muxes the external trigger GPIO when capture starts/stops. A
// nil Mux leaves the imager running on its internal clock.
type TriggerMux interface {
	Enable() error
	Disable() error
}

// New returns an imager Dev in the Virgin state.
func New(reg *regaccess.Dev, family Family, config ExternalConfig) *Dev {
	return &Dev{
		Reg:       reg,
		Table:     Lookup(family),
		Config:    config,
		state:     usecase.Virgin,
		nowFunc:   time.Now,
		sleepFunc: time.Sleep,
	}
}

// State returns the current lifecycle state.
func (d *Dev) State() usecase.ImagerState {
	return d.state
}

// Initialize transitions Virgin to Ready.
func (d *Dev) Initialize() error {
	if d.state != usecase.Virgin {
		return status.New(status.CodeWrongState, "imager: initialize requires Virgin")
	}
	d.state = usecase.Ready
	return nil
}

// Sleep transitions back to Virgin from any state.
func (d *Dev) Sleep() {
	d.state = usecase.Virgin
	d.executing = nil
}

// VerifyUseCase checks ucd against this imager's capabilities without device
// I/O (or read-only I/O only). It is pure and may be called in any state.
func (d *Dev) VerifyUseCase(ucd *usecase.UseCaseDefinition) VerifyResult {
	if err := ucd.Validate(d.Table.Capacity); err != nil {
		return Undefined
	}
	for _, eg := range ucd.ExposureGroups {
		if eg.CurrentExposureUs < eg.MinExposureUs || eg.CurrentExposureUs > eg.MaxExposureUs {
			return ExposureTime
		}
	}
	for _, rfs := range ucd.RawFrameSets {
		if rfs.ModulationFreqHz < 0 {
			return ModulationFrequency
		}
		if n := len(rfs.PhasesMilliDeg); n != 0 && n != 1 && n != 4 {
			return Phase
		}
	}
	if ucd.TargetFrameRateHz <= 0 {
		return Framerate
	}
	if ucd.Width <= 0 || ucd.Height <= 0 {
		return Region
	}
	return Success
}

// ExecuteUseCase transfers ucd's register sets to the imager. It must only
// be called in Ready; on success the imager tracks ucd as executing.
func (d *Dev) ExecuteUseCase(ucd *usecase.UseCaseDefinition, regs usecase.TimedRegisterList) error {
	if d.state != usecase.Ready {
		return status.New(status.CodeWrongState, "imager: execute_use_case requires Ready")
	}
	if r := d.VerifyUseCase(ucd); r != Success {
		return status.New(status.CodeInvalidValue, "imager: use case failed verification: "+r.String())
	}
	if err := d.Reg.TransferTimedRegisterList(regs); err != nil {
		return err
	}
	d.executing = ucd
	return nil
}

// StartCapture transitions Ready to Capturing, enforcing the eye-safety gap
// recorded by the previous StopCapture and, if a trigger is configured,
// muxing it in.
func (d *Dev) StartCapture() error {
	if d.state != usecase.Ready {
		return status.New(status.CodeWrongState, "imager: start_capture requires Ready")
	}
	if !d.stopAt.IsZero() && d.executing != nil {
		for _, rfs := range d.executing.RawFrameSets {
			deadline := d.stopAt.Add(rfs.TEyeSafety)
			if now := d.nowFunc(); now.Before(deadline) {
				d.sleepFunc(deadline.Sub(now))
			}
		}
	}
	if d.Config.Trigger != nil {
		if err := d.Config.Trigger.Enable(); err != nil {
			return err
		}
	}
	d.state = usecase.Capturing
	return nil
}

// StopCapture transitions Capturing to Ready. It is safe to call after a
// trigger-forced stop (i.e. when already Ready).
func (d *Dev) StopCapture() error {
	if d.state == usecase.Ready {
		return nil
	}
	if d.state != usecase.Capturing {
		return status.New(status.CodeWrongState, "imager: stop_capture requires Capturing or Ready")
	}
	if d.Config.Trigger != nil {
		if err := d.Config.Trigger.Disable(); err != nil {
			return err
		}
	}
	d.stopAt = d.nowFunc()
	d.state = usecase.Ready
	return nil
}

// ReconfigureExposureTimes writes new exposure times to the shadow registers
// and returns the 12 bit reconfig index the next frame's pseudodata will
// report once the change has taken effect. Valid only in Capturing.
func (d *Dev) ReconfigureExposureTimes(values []uint32) (uint16, error) {
	if d.state != usecase.Capturing {
		return 0, status.New(status.CodeWrongState, "imager: reconfigure_exposure_times requires Capturing")
	}
	if len(values) > len(d.Table.ExposureRegisters) {
		return 0, status.New(status.CodeInvalidValue, "imager: more exposure values than exposure registers")
	}
	return d.reconfigure(func() error {
		for i, v := range values {
			if err := d.Reg.Write(d.Table.ExposureRegisters[i], uint16(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReconfigureTargetFrameRate writes a new target frame rate and returns the
// reconfig index the change will be visible under. Valid only in Capturing.
func (d *Dev) ReconfigureTargetFrameRate(fps float64) (uint16, error) {
	if d.state != usecase.Capturing {
		return 0, status.New(status.CodeWrongState, "imager: reconfigure_target_frame_rate requires Capturing")
	}
	if fps <= 0 {
		return 0, status.New(status.CodeInvalidValue, "imager: frame rate must be positive")
	}
	return d.reconfigure(func() error {
		return d.Reg.Write(d.Table.FrameRateRegister, uint16(fps*100))
	})
}

// reconfigure runs the four-step CFGCNT_FLAGS protocol common to every safe
// reconfiguration: poll the pending bit clear, apply, signal change, read
// back the reconfig counter.
func (d *Dev) reconfigure(apply func() error) (uint16, error) {
	if err := d.Reg.PollUntilMasked(d.Table.CfgcntFlags, d.Table.CfgcntPendingBit, 0, 0, time.Millisecond); err != nil {
		return 0, err
	}
	if err := apply(); err != nil {
		return 0, status.Wrap(status.CodeValidButUnchanged, "imager: reconfiguration write failed, device unchanged", err)
	}
	if err := d.Reg.WriteMasked(d.Table.CfgcntFlags, d.Table.CfgcntPendingBit, d.Table.CfgcntPendingBit, 0); err != nil {
		return 0, err
	}
	counter, err := d.Reg.Read(d.Table.ReconfigCounter)
	if err != nil {
		return 0, err
	}
	d.reconfig = counter & 0x0FFF
	return d.reconfig, nil
}
