// Copyright 2026 The tofcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package collector implements the Frame Collector: it receives individual
// raw frames from the Bridge, groups them per stream by sequence index and
// wrap-around frame number, and delivers complete frame groups to a
// listener. It generalizes lepton.go's readFrame line-sync state machine —
// a sync counter checked against the previous line, discarding the frame on
// mismatch — from "lines within one frame" to "raw frames within one frame
// group" (spec §4.7).
package collector

import (
	"sync"
	"time"

	"github.com/tofcore/tofcore/bridge"
	"github.com/tofcore/tofcore/pseudodata"
	"github.com/tofcore/tofcore/usecase"
)

// Frame is one raw frame handed to the collector, still owned by the
// Bridge's buffer pool.
type Frame struct {
	Buffer *bridge.Buffer
	Data   pseudodata.Frame
}

// Group is a complete, ordered frame group ready for delivery to a
// processor.
type Group struct {
	Stream string
	Frames []*bridge.Buffer
}

// Listener receives completed frame groups.
type Listener interface {
	GroupCallback(g Group)
}

// Stats are the periodic counters spec §4.7 requires: total frames seen,
// frames dropped by the bridge (vendor channel error counters, supplied by
// the caller) and frames dropped by the collector itself (no matching
// stream, or a frame number mismatch with no usable position-0 anchor).
type Stats struct {
	Total              int
	DroppedByBridge    int
	DroppedByCollector int
}

// location is where, in the static use-case layout, one sequence index
// belongs: which stream, which position in that stream's ordered group
// list, and which slot within that group.
type location struct {
	stream   string
	groupIdx int
	pos      int
}

type streamState struct {
	name   string
	groups [][]int // groups[g] is the ordered list of sequence indices forming group g.

	activeGroup int
	base        uint16
	collected   map[int]*bridge.Buffer
}

// Collector assembles raw frames into frame groups for one executing use
// case.
type Collector struct {
	mu          sync.Mutex
	interpreter pseudodata.Interpreter
	locations   map[int]location
	streams     map[string]*streamState
	listener    Listener

	stats Stats

	stopStats chan struct{}
	statsWG   sync.WaitGroup
}

// New builds a Collector for ucd, decoding pseudodata with interp. ucd must
// already have passed usecase.UseCaseDefinition.Validate, which guarantees
// every RawFrameSet index is claimed by exactly one stream/group — the
// invariant the static sequence-index lookup below relies on.
func New(ucd *usecase.UseCaseDefinition, interp pseudodata.Interpreter) *Collector {
	c := &Collector{
		interpreter: interp,
		locations:   map[int]location{},
		streams:     map[string]*streamState{},
	}

	// Cumulative sequence-index offset of each RawFrameSet: the imager
	// captures RawFrameSets in order, each contributing RawFrameCount()
	// consecutive sequence indices.
	offsets := make([]int, len(ucd.RawFrameSets))
	next := 0
	for i, rfs := range ucd.RawFrameSets {
		offsets[i] = next
		next += rfs.RawFrameCount()
	}

	for _, s := range ucd.Streams {
		st := &streamState{name: s.Name, collected: map[int]*bridge.Buffer{}}
		for gi, grp := range s.FrameGroups {
			var seqs []int
			for _, rfsIdx := range grp {
				base := offsets[rfsIdx]
				count := ucd.RawFrameSets[rfsIdx].RawFrameCount()
				for k := 0; k < count; k++ {
					seq := base + k
					seqs = append(seqs, seq)
					c.locations[seq] = location{stream: s.Name, groupIdx: gi, pos: len(seqs) - 1}
				}
			}
			st.groups = append(st.groups, seqs)
		}
		c.streams[s.Name] = st
	}
	return c
}

// SetListener replaces the registered group listener.
func (c *Collector) SetListener(l Listener) {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
}

// Stats returns a snapshot of the running counters.
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// StartPeriodicStats launches a background goroutine that calls report with
// a Stats snapshot every interval, mirroring the Event Queue worker (spec
// §4.9) that ultimately carries these as RawFrameStats events. The returned
// func stops the goroutine.
func (c *Collector) StartPeriodicStats(interval time.Duration, report func(Stats)) func() {
	c.stopStats = make(chan struct{})
	c.statsWG.Add(1)
	go func() {
		defer c.statsWG.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-c.stopStats:
				return
			case <-t.C:
				report(c.Stats())
			}
		}
	}()
	return func() {
		close(c.stopStats)
		c.statsWG.Wait()
	}
}

// BufferCallback implements bridge.Listener, so a Collector can be wired
// directly as the Bridge's capture listener. Every buffer it receives is
// queued back exactly once, per spec invariant: either here, if decoding
// itself fails, or via Ingest's own release list.
func (c *Collector) BufferCallback(b *bridge.Buffer) {
	frame, err := c.interpreter.Decode(asUint16(b.Data), widthOf(b))
	if err != nil {
		c.mu.Lock()
		c.stats.DroppedByCollector++
		c.mu.Unlock()
		_ = b.Release()
		return
	}
	_, release := c.Ingest(b, frame)
	for _, rb := range release {
		_ = rb.Release()
	}
}

// Ingest feeds one decoded raw frame through the matching algorithm (spec
// §4.7 steps 1-4): locate the owning stream by sequence index, check the
// expected frame number against the family's wrap-around rule, and deliver
// the stream's group once every slot is filled.
//
// It returns the completed group, if any, and release: every buffer the
// caller must now return to the buffer pool via queue_buffer — the incoming
// buffer itself when dropped, plus any buffer evicted from an abandoned
// in-progress group. Buffers that end up part of a delivered group are the
// listener's responsibility to release once it is done reading them; they
// are never included in release.
func (c *Collector) Ingest(b *bridge.Buffer, frame pseudodata.Frame) (delivered *Group, release []*bridge.Buffer) {
	c.mu.Lock()
	c.stats.Total++

	loc, ok := c.locations[frame.SequenceIndex]
	if !ok {
		c.stats.DroppedByCollector++
		c.mu.Unlock()
		return nil, []*bridge.Buffer{b}
	}
	st := c.streams[loc.stream]

	var evicted []*bridge.Buffer
	switch {
	case loc.groupIdx != st.activeGroup:
		if loc.pos != 0 {
			// A frame from a group other than the one in progress, and not
			// at that group's first slot: there is no well-formed base to
			// anchor a restart on, so it is dropped rather than guessed.
			c.stats.DroppedByCollector++
			c.mu.Unlock()
			return nil, []*bridge.Buffer{b}
		}
		evicted = c.resetGroup(st, loc.groupIdx, frame.FrameNumber)
	case loc.pos == 0:
		evicted = c.resetGroup(st, loc.groupIdx, frame.FrameNumber)
	default:
		expected := pseudodata.FollowingFrameNumber(st.base, loc.pos, c.interpreter.PerSuperframe())
		if expected != frame.FrameNumber {
			// Mismatch: discard the group in progress and restart using
			// this frame as the new base, per spec §4.7 step 3. Since it
			// did not land at position 0, it can only seed a fresh attempt
			// rather than complete the group it was destined for.
			evicted = c.resetGroup(st, loc.groupIdx, frame.FrameNumber)
			c.stats.DroppedByCollector++
			c.mu.Unlock()
			return nil, append(evicted, b)
		}
	}

	st.collected[loc.pos] = b
	group := st.groups[st.activeGroup]
	complete := len(st.collected) == len(group)

	var listener Listener
	if complete {
		delivered = &Group{Stream: loc.stream, Frames: make([]*bridge.Buffer, len(group))}
		for i := range group {
			delivered.Frames[i] = st.collected[i]
		}
		listener = c.listener
		st.collected = map[int]*bridge.Buffer{}
		st.activeGroup = (st.activeGroup + 1) % len(st.groups)
	}
	c.mu.Unlock()

	if complete && listener != nil {
		listener.GroupCallback(*delivered)
	}
	return delivered, evicted
}

// RecordBridgeDrop adds n to the dropped-by-bridge counter, fed by the
// Bridge's vendor channel error counters (spec §4.7 "Statistics").
func (c *Collector) RecordBridgeDrop(n int) {
	c.mu.Lock()
	c.stats.DroppedByBridge += n
	c.mu.Unlock()
}

// resetGroup abandons st's in-progress group in favor of groupIdx/base,
// returning any buffers already collected for the abandoned group so the
// caller can release them (they will never complete now that the group in
// progress has changed out from under them).
func (c *Collector) resetGroup(st *streamState, groupIdx int, base uint16) []*bridge.Buffer {
	var evicted []*bridge.Buffer
	for _, b := range st.collected {
		evicted = append(evicted, b)
	}
	st.activeGroup = groupIdx
	st.base = base
	st.collected = map[int]*bridge.Buffer{}
	return evicted
}

func widthOf(b *bridge.Buffer) int {
	return len(b.Data) / 2
}

func asUint16(data []byte) []uint16 {
	out := make([]uint16, len(data)/2)
	for i := range out {
		out[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return out
}

// ReserveBufferCount computes the minimum buffer pool size that lets every
// stream in ucd deliver independently in mixed-mode use, per spec §4.7: one
// complete group for the stream with the largest group, plus room for every
// other stream's own in-flight group so a fast, low-latency stream is never
// starved waiting on a slow one to finish.
func ReserveBufferCount(ucd *usecase.UseCaseDefinition) int {
	total := 0
	for _, s := range ucd.Streams {
		max := 0
		for _, grp := range s.FrameGroups {
			n := 0
			for _, idx := range grp {
				n += ucd.RawFrameSets[idx].RawFrameCount()
			}
			if n > max {
				max = n
			}
		}
		total += max
	}
	return total
}
