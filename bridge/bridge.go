// Copyright 2026 The tofcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package bridge implements the Bridge buffer pool and acquisition loop: a
// vendor transport delivers raw buffers, which are normalized from RAW12 to
// RAW16 and handed to a single capture listener. It generalizes lepton.go's
// stream/readFrame goroutine-plus-channel acquisition pattern from a single
// fixed-size SPI frame to a pool of vendor-transport buffers.
package bridge

import (
	"sync"

	"github.com/tofcore/tofcore/status"
)

// Format is the wire representation of a buffer's pixel data.
type Format int

// Valid Format values.
const (
	Unknown Format = iota
	RAW12
	RAW16
)

// FamilyFormatTable lists the buffer sizes (in bytes) a family's vendor
// channel produces for each known wire format, used for auto-detection when
// Format is Unknown. Populated by the factory per matched module, not
// hardcoded here (Open Question decision, spec §9).
type FamilyFormatTable map[Format]int

// VendorChannel is the transport the acquisition loop blocks on: a USB bulk
// endpoint or an equivalent. Read fills buf with one buffer's worth of raw
// data and returns the number of bytes received. Cancel unblocks any Read in
// progress so stop_capture can return promptly (spec §5 targets ≤1s).
type VendorChannel interface {
	Read(buf []byte) (int, error)
	Cancel()
}

// Listener receives normalized buffers from the acquisition loop.
type Listener interface {
	BufferCallback(b *Buffer)
}

type bufferState int

const (
	stateQueued bufferState = iota
	stateInFlight
	stateDelivered
	statePendingDealloc
)

// Buffer is one raw-frame-sized slot in the pool, owned by the pool except
// while delivered to a Listener.
type Buffer struct {
	Data   []byte
	Format Format

	pool  *Pool
	state bufferState
}

// Pool owns a set of Buffers for the duration of an active use case. A
// buffer is always in exactly one of the four states spec §3 "Ownership"
// describes: queued, in-flight, delivered, or pending-dealloc.
type Pool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buffers  []*Buffer
	queue    []*Buffer
	channel  VendorChannel
	formats  FamilyFormatTable
	format   Format
	listener Listener

	capturing bool
	done      chan struct{}
	wg        sync.WaitGroup
}

// New returns a Pool reading from channel, auto-detecting or using the
// explicit configuredFormat (Unknown to auto-detect) per formats.
func New(channel VendorChannel, formats FamilyFormatTable, configuredFormat Format) *Pool {
	p := &Pool{channel: channel, formats: formats, format: configuredFormat}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// ExecuteUseCase (re)sizes the buffer pool for width x height frames,
// draining any previous pool first. It may allocate fewer than
// preferredBufferCount if the platform imposes a hard cap; the Pool itself
// imposes none, so it always honors the request.
func (p *Pool) ExecuteUseCase(width, height, preferredBufferCount int) (int, error) {
	if err := p.WaitCaptureBufferDealloc(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	size := width * height * 2 // RAW16 bytes per buffer; a RAW12-packed read fills 3/4 of it and expands back to RAW16 on normalize.
	p.buffers = make([]*Buffer, preferredBufferCount)
	p.queue = make([]*Buffer, 0, preferredBufferCount)
	for i := range p.buffers {
		b := &Buffer{Data: make([]byte, size), pool: p, state: stateQueued}
		p.buffers[i] = b
		p.queue = append(p.queue, b)
	}
	return preferredBufferCount, nil
}

// SetCaptureListener replaces the registered listener. A nil listener causes
// received buffers to be dropped and re-queued (spec §4.6).
func (p *Pool) SetCaptureListener(l Listener) {
	p.mu.Lock()
	p.listener = l
	p.mu.Unlock()
}

// StartCapture launches the acquisition loop.
func (p *Pool) StartCapture() error {
	p.mu.Lock()
	if p.capturing {
		p.mu.Unlock()
		return status.New(status.CodeWrongState, "bridge: start_capture called while already capturing")
	}
	p.capturing = true
	p.done = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go p.acquire(p.done)
	return nil
}

// StopCapture cancels the in-flight vendor read and waits for the
// acquisition loop to exit.
func (p *Pool) StopCapture() error {
	p.mu.Lock()
	if !p.capturing {
		p.mu.Unlock()
		return nil
	}
	p.capturing = false
	done := p.done
	p.mu.Unlock()

	close(done)
	p.channel.Cancel()
	p.cond.Broadcast()
	p.wg.Wait()
	return nil
}

// Release returns b to its owning pool. It lets anything holding a Buffer
// (a Listener that dropped it, or forwarded it on to its own consumer) queue
// it back without also needing a reference to the Pool itself.
func (b *Buffer) Release() error {
	return b.pool.QueueBuffer(b)
}

// QueueBuffer returns b to the pool. It rejects double-queuing a buffer
// still in the queued state (spec §4.6: "must reject double-queue").
func (p *Pool) QueueBuffer(b *Buffer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b.state == stateQueued {
		return status.New(status.CodeLogicError, "bridge: buffer already queued")
	}
	b.state = stateQueued
	p.queue = append(p.queue, b)
	p.cond.Broadcast()
	return nil
}

func (p *Pool) allQueuedLocked() bool {
	for _, b := range p.buffers {
		if b.state != stateQueued {
			return false
		}
	}
	return true
}

// WaitCaptureBufferDealloc blocks until every buffer is back in the queued
// state, marking any not-yet-returned buffer pending-dealloc so QueueBuffer
// knows to wake this call when it lands.
func (p *Pool) WaitCaptureBufferDealloc() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.buffers {
		if b.state == stateInFlight || b.state == stateDelivered {
			b.state = statePendingDealloc
		}
	}
	for !p.allQueuedLocked() {
		p.cond.Wait()
	}
	return nil
}

// Close releases the pool. Any buffer not in the queued state is
// deliberately leaked rather than freed, per spec §4.6's "leak over
// use-after-free on shutdown with outstanding buffers".
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := make([]*Buffer, 0, len(p.buffers))
	for _, b := range p.buffers {
		if b.state == stateQueued {
			continue
		}
		kept = append(kept, b)
	}
	p.buffers = kept
	p.queue = nil
}

// dequeue blocks until a buffer is available or the pool stops capturing,
// in which case it returns nil.
func (p *Pool) dequeue() *Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 && p.capturing {
		p.cond.Wait()
	}
	if len(p.queue) == 0 {
		return nil
	}
	b := p.queue[0]
	p.queue = p.queue[1:]
	b.state = stateInFlight
	return b
}

// acquire is the acquisition loop: dequeue a buffer, block on the vendor
// channel, normalize, deliver.
func (p *Pool) acquire(done <-chan struct{}) {
	defer p.wg.Done()
	for {
		b := p.dequeue()
		if b == nil {
			return
		}
		n, err := p.channel.Read(b.Data)
		select {
		case <-done:
			p.requeue(b)
			return
		default:
		}
		if err != nil {
			p.requeue(b)
			continue
		}
		p.detectFormat(n)
		b.Format = p.format
		normalize(b, n, p.format)

		p.mu.Lock()
		listener := p.listener
		capturing := p.capturing
		if b.state == statePendingDealloc {
			p.mu.Unlock()
			p.requeue(b)
			continue
		}
		if !capturing || listener == nil {
			p.mu.Unlock()
			p.requeue(b)
			continue
		}
		b.state = stateDelivered
		p.mu.Unlock()

		listener.BufferCallback(b)
	}
}

func (p *Pool) requeue(b *Buffer) {
	_ = p.QueueBuffer(b)
}

// detectFormat latches the wire format from the first received buffer's
// size, per spec §4.6; once latched it never changes even in mixed-mode use
// cases with variable superframe sizes.
func (p *Pool) detectFormat(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.format != Unknown {
		return
	}
	for format, size := range p.formats {
		if size == n {
			p.format = format
			return
		}
	}
}

// normalize converts a RAW12-packed buffer in place to RAW16, expanding each
// 3-byte/2-pixel group to 4 bytes/2 pixels. RAW16 buffers are left as-is.
func normalize(b *Buffer, n int, format Format) {
	if format != RAW12 {
		return
	}
	packed := b.Data[:n]
	out := make([]uint16, 0, n/3*2)
	for i := 0; i+3 <= len(packed); i += 3 {
		lo, mid, hi := packed[i], packed[i+1], packed[i+2]
		p0 := uint16(lo) | uint16(mid&0x0F)<<8
		p1 := uint16(mid>>4) | uint16(hi)<<4
		out = append(out, p0, p1)
	}
	raw16 := make([]byte, len(out)*2)
	for i, v := range out {
		raw16[2*i] = byte(v >> 8)
		raw16[2*i+1] = byte(v)
	}
	b.Data = raw16
}
