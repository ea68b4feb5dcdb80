// Copyright 2026 The tofcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package tofcore is the capture coordinator: it owns one module's Imager,
// Bridge, Frame Collector, Temperature Monitor and Event Queue, and is the
// only thing that calls into more than one of them. Per DESIGN NOTES §9
// "Cyclic ownership", the Bridge and Collector never reference each other
// directly — Module wires itself as the Bridge's buffer_callback and
// forwards into the Collector, so any back-reference from a listener
// routes through Module rather than looping between components. "Double
// dispatch over imager+bridge" (same section) is resolved once, here, at
// ExecuteUseCase time, into one concrete pipeline rather than a pair of
// interfaces still deciding on each other at call time.
package tofcore

import (
	"sync"
	"time"

	"github.com/tofcore/tofcore/bridge"
	"github.com/tofcore/tofcore/collector"
	"github.com/tofcore/tofcore/eventqueue"
	"github.com/tofcore/tofcore/factory"
	"github.com/tofcore/tofcore/imager"
	"github.com/tofcore/tofcore/pseudodata"
	"github.com/tofcore/tofcore/tempmonitor"
	"github.com/tofcore/tofcore/usecase"
	"periph.io/x/periph/conn/physic"
)

// Module is one physical ToF camera: an imager, its Bridge buffer pool, and
// the supporting Frame Collector, Temperature Monitor and Event Queue built
// for it.
type Module struct {
	Imager   *imager.Dev
	Bridge   *bridge.Pool
	Temp     *tempmonitor.Monitor
	Events   *eventqueue.Queue
	Config   factory.ModuleConfig

	interp pseudodata.Interpreter

	mu            sync.Mutex
	collector     *collector.Collector
	groupListener collector.Listener
	stopStats     func()
}

// New returns a Module wiring together an already-constructed Imager and
// Bridge for one physical device. interp decodes the imager family's
// pseudodata; config is the result of a factory.Factory probe.
func New(imagerDev *imager.Dev, bridgePool *bridge.Pool, interp pseudodata.Interpreter, config factory.ModuleConfig) *Module {
	m := &Module{
		Imager: imagerDev,
		Bridge: bridgePool,
		Temp:   tempmonitor.New(defaultSoftThreshold, defaultHardThreshold),
		Events: eventqueue.New(),
		Config: config,
		interp: interp,
	}
	m.Temp.SetListener(tempAlarmForwarder{m.Events})
	m.Events.Start()
	return m
}

// Default thresholds used until a caller overrides them via SetTempThresholds;
// no concrete per-family values are pinned by any available source, so these
// are conservative placeholders for a silicon sensor (Open Question
// decision, spec §9: thresholds are family/board specific and must come
// from the module's own calibration data in a real deployment).
var (
	defaultSoftThreshold = physic.ZeroCelsius + 40*physic.Celsius
	defaultHardThreshold = physic.ZeroCelsius + 55*physic.Celsius
)

// SetTempThresholds replaces the Temperature Monitor's soft/hard thresholds.
func (m *Module) SetTempThresholds(soft, hard physic.Temperature) {
	m.Temp = tempmonitor.New(soft, hard)
	m.Temp.SetListener(tempAlarmForwarder{m.Events})
}

// SetGroupListener registers the downstream processor that receives
// completed frame groups from the Frame Collector. It is the only listener
// Module ever forwards Collector output to.
func (m *Module) SetGroupListener(l collector.Listener) {
	m.mu.Lock()
	m.groupListener = l
	if m.collector != nil {
		m.collector.SetListener(l)
	}
	m.mu.Unlock()
}

// ExecuteUseCase transfers ucd to the imager, resizes the Bridge's buffer
// pool to ucd's dimensions reserving enough buffers for mixed-mode
// independent delivery, and rebuilds the Frame Collector for ucd.
func (m *Module) ExecuteUseCase(ucd *usecase.UseCaseDefinition, regs usecase.TimedRegisterList) error {
	if err := m.Imager.ExecuteUseCase(ucd, regs); err != nil {
		return err
	}
	bufferCount := collector.ReserveBufferCount(ucd)
	if bufferCount == 0 {
		bufferCount = 1
	}
	if _, err := m.Bridge.ExecuteUseCase(ucd.Width, ucd.Height, bufferCount); err != nil {
		return err
	}

	m.mu.Lock()
	if m.stopStats != nil {
		m.stopStats()
	}
	c := collector.New(ucd, m.interp)
	c.SetListener(m.groupListener)
	m.collector = c
	m.stopStats = c.StartPeriodicStats(statsInterval, func(s collector.Stats) {
		m.Events.Enqueue(eventqueue.Event{Type: eventqueue.TypeRawFrameStats, Payload: s})
	})
	m.mu.Unlock()

	m.Bridge.SetCaptureListener(m)
	return nil
}

// statsInterval is how often the Frame Collector's running counters are
// surfaced as a RawFrameStats event (spec §4.7 "emitted periodically").
const statsInterval = 5 * time.Second

// StartCapture starts the Bridge's acquisition loop before starting the
// imager, so the pipeline is ready to receive data the moment the imager's
// internal clock (or external trigger) begins producing frames.
func (m *Module) StartCapture() error {
	if err := m.Bridge.StartCapture(); err != nil {
		return err
	}
	if err := m.Imager.StartCapture(); err != nil {
		_ = m.Bridge.StopCapture()
		return err
	}
	return nil
}

// StopCapture stops the imager first, then drains and cancels the Bridge's
// acquisition loop.
func (m *Module) StopCapture() error {
	if err := m.Imager.StopCapture(); err != nil {
		return err
	}
	return m.Bridge.StopCapture()
}

// Sleep transitions the imager back to Virgin.
func (m *Module) Sleep() {
	m.Imager.Sleep()
}

// ReconfigureExposureTimes and ReconfigureTargetFrameRate pass straight
// through to the Imager; Module adds no behavior of its own here, it only
// owns the wiring between components.
func (m *Module) ReconfigureExposureTimes(values []uint32) (uint16, error) {
	return m.Imager.ReconfigureExposureTimes(values)
}

func (m *Module) ReconfigureTargetFrameRate(fps float64) (uint16, error) {
	return m.Imager.ReconfigureTargetFrameRate(fps)
}

// BufferCallback implements bridge.Listener. It decodes pseudodata once,
// samples the Temperature Monitor, and forwards the frame into the Frame
// Collector — the one path through which Bridge output ever reaches
// Collector, per the one-way ownership rule this package documents.
func (m *Module) BufferCallback(b *bridge.Buffer) {
	row := decodeRow(b.Data)
	frame, err := m.interp.Decode(row, len(row))
	if err != nil {
		_ = b.Release()
		return
	}

	m.mu.Lock()
	c := m.collector
	m.mu.Unlock()

	m.Temp.Sample(adcToTemperature(frame.ADCTemperature))
	if c == nil {
		_ = b.Release()
		return
	}
	_, release := c.Ingest(b, frame)
	for _, rb := range release {
		_ = rb.Release()
	}
}

func decodeRow(data []byte) []uint16 {
	row := make([]uint16, len(data)/2)
	for i := range row {
		row[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return row
}

// adcToTemperature converts a raw ADC temperature count to physic units.
// The real transfer function is sensor-calibration specific; no concrete
// coefficients are pinned by any available source (Open Question decision,
// spec §9), so this assumes a coarse linear approximation good enough for
// alarm-threshold comparisons and documents the gap rather than guessing a
// precise curve.
func adcToTemperature(raw uint16) physic.Temperature {
	return physic.ZeroCelsius + physic.Temperature(raw)*physic.MilliCelsius
}

type tempAlarmForwarder struct {
	events *eventqueue.Queue
}

func (f tempAlarmForwarder) Alarm(a tempmonitor.Alarm, sample physic.Temperature) {
	t := eventqueue.TypeSoftTempAlarm
	severity := eventqueue.Warning
	if a == tempmonitor.HardAlarm {
		t = eventqueue.TypeHardTempAlarm
		severity = eventqueue.Error
	}
	f.events.Enqueue(eventqueue.Event{Severity: severity, Type: t, Payload: sample})
}
