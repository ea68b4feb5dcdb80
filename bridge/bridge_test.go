// Copyright 2026 The tofcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bridge

import (
	"sync"
	"testing"
	"time"

	"github.com/tofcore/tofcore/status"
)

// fakeChannel hands out fixed-size buffers from a queue, blocking when empty
// until fed or cancelled.
type fakeChannel struct {
	mu       sync.Mutex
	cond     *sync.Cond
	frames   [][]byte
	canceled bool
}

func newFakeChannel() *fakeChannel {
	c := &fakeChannel{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *fakeChannel) push(frame []byte) {
	c.mu.Lock()
	c.frames = append(c.frames, frame)
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *fakeChannel) Read(buf []byte) (int, error) {
	c.mu.Lock()
	for len(c.frames) == 0 && !c.canceled {
		c.cond.Wait()
	}
	if c.canceled && len(c.frames) == 0 {
		c.mu.Unlock()
		return 0, status.New(status.CodeDisconnected, "bridge: channel canceled")
	}
	f := c.frames[0]
	c.frames = c.frames[1:]
	c.mu.Unlock()
	n := copy(buf, f)
	return n, nil
}

func (c *fakeChannel) Cancel() {
	c.mu.Lock()
	c.canceled = true
	c.cond.Broadcast()
	c.mu.Unlock()
}

type recordingListener struct {
	mu   sync.Mutex
	bufs []*Buffer
	got  chan struct{}
}

func newRecordingListener(capacity int) *recordingListener {
	return &recordingListener{got: make(chan struct{}, capacity)}
}

func (l *recordingListener) BufferCallback(b *Buffer) {
	l.mu.Lock()
	l.bufs = append(l.bufs, b)
	l.mu.Unlock()
	l.got <- struct{}{}
}

func TestExecuteUseCaseAllocatesRequestedCount(t *testing.T) {
	p := New(newFakeChannel(), FamilyFormatTable{RAW16: 640 * 480 * 2}, RAW16)
	n, err := p.ExecuteUseCase(640, 480, 4)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Fatalf("got %d buffers", n)
	}
	if len(p.buffers) != 4 || len(p.queue) != 4 {
		t.Fatalf("buffers=%d queue=%d", len(p.buffers), len(p.queue))
	}
}

func TestQueueBufferRejectsDoubleQueue(t *testing.T) {
	p := New(newFakeChannel(), nil, RAW16)
	if _, err := p.ExecuteUseCase(4, 4, 1); err != nil {
		t.Fatal(err)
	}
	b := p.buffers[0]
	if err := p.QueueBuffer(b); status.CodeOf(err) != status.CodeLogicError {
		t.Fatalf("err=%v", err)
	}
}

func TestStartStopCaptureDeliversBuffers(t *testing.T) {
	ch := newFakeChannel()
	p := New(ch, FamilyFormatTable{RAW16: 8}, RAW16)
	if _, err := p.ExecuteUseCase(2, 2, 2); err != nil {
		t.Fatal(err)
	}
	listener := newRecordingListener(2)
	p.SetCaptureListener(listener)

	if err := p.StartCapture(); err != nil {
		t.Fatal(err)
	}
	ch.push(make([]byte, 8))
	ch.push(make([]byte, 8))

	for i := 0; i < 2; i++ {
		select {
		case <-listener.got:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for delivered buffer")
		}
	}

	if err := p.StopCapture(); err != nil {
		t.Fatal(err)
	}
	listener.mu.Lock()
	defer listener.mu.Unlock()
	if len(listener.bufs) != 2 {
		t.Fatalf("delivered %d buffers", len(listener.bufs))
	}
}

func TestStartCaptureRejectsWhileCapturing(t *testing.T) {
	p := New(newFakeChannel(), FamilyFormatTable{RAW16: 8}, RAW16)
	if _, err := p.ExecuteUseCase(2, 2, 1); err != nil {
		t.Fatal(err)
	}
	if err := p.StartCapture(); err != nil {
		t.Fatal(err)
	}
	defer p.StopCapture()
	if err := p.StartCapture(); status.CodeOf(err) != status.CodeWrongState {
		t.Fatalf("err=%v", err)
	}
}

func TestFormatAutoDetectionLatches(t *testing.T) {
	ch := newFakeChannel()
	formats := FamilyFormatTable{RAW12: 6, RAW16: 8}
	p := New(ch, formats, Unknown)
	if _, err := p.ExecuteUseCase(2, 2, 2); err != nil {
		t.Fatal(err)
	}
	listener := newRecordingListener(2)
	p.SetCaptureListener(listener)
	if err := p.StartCapture(); err != nil {
		t.Fatal(err)
	}
	defer p.StopCapture()

	// RAW12-sized frame, two 3-byte/2-pixel groups.
	ch.push([]byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xAB})

	select {
	case <-listener.got:
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}

	p.mu.Lock()
	format := p.format
	p.mu.Unlock()
	if format != RAW12 {
		t.Fatalf("format=%v want RAW12", format)
	}

	listener.mu.Lock()
	defer listener.mu.Unlock()
	if len(listener.bufs) != 1 {
		t.Fatalf("delivered %d buffers", len(listener.bufs))
	}
	if listener.bufs[0].Format != RAW12 {
		t.Fatalf("buffer format=%v", listener.bufs[0].Format)
	}
	if len(listener.bufs[0].Data) != 8 {
		t.Fatalf("normalized data length=%d want 8", len(listener.bufs[0].Data))
	}
}

func TestNormalizeRAW12ToRAW16(t *testing.T) {
	b := &Buffer{Data: make([]byte, 6)}
	copy(b.Data, []byte{0x12, 0x34, 0x56, 0x78, 0x9A, 0xBC})
	normalize(b, 6, RAW12)
	if len(b.Data) != 4 {
		t.Fatalf("len=%d", len(b.Data))
	}
	p0 := uint16(0x12) | uint16(0x34&0x0F)<<8
	p1 := uint16(0x34>>4) | uint16(0x56)<<4
	got0 := uint16(b.Data[0])<<8 | uint16(b.Data[1])
	got1 := uint16(b.Data[2])<<8 | uint16(b.Data[3])
	if got0 != p0 || got1 != p1 {
		t.Fatalf("got (%x,%x) want (%x,%x)", got0, got1, p0, p1)
	}
}

func TestNormalizeLeavesRAW16Untouched(t *testing.T) {
	orig := []byte{1, 2, 3, 4}
	b := &Buffer{Data: append([]byte(nil), orig...)}
	normalize(b, 4, RAW16)
	if string(b.Data) != string(orig) {
		t.Fatalf("got %v want %v", b.Data, orig)
	}
}

func TestWaitCaptureBufferDeallocBlocksUntilQueued(t *testing.T) {
	p := New(newFakeChannel(), nil, RAW16)
	if _, err := p.ExecuteUseCase(2, 2, 1); err != nil {
		t.Fatal(err)
	}
	b := p.buffers[0]
	p.mu.Lock()
	p.queue = nil
	b.state = stateInFlight
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		if err := p.WaitCaptureBufferDealloc(); err != nil {
			t.Error(err)
		}
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("WaitCaptureBufferDealloc returned before the buffer was requeued")
	case <-time.After(50 * time.Millisecond):
	}

	if err := p.QueueBuffer(b); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitCaptureBufferDealloc did not unblock after requeue")
	}
}

func TestCloseLeaksOutstandingBuffers(t *testing.T) {
	p := New(newFakeChannel(), nil, RAW16)
	if _, err := p.ExecuteUseCase(2, 2, 3); err != nil {
		t.Fatal(err)
	}
	p.mu.Lock()
	p.buffers[0].state = stateDelivered
	p.queue = p.queue[1:]
	p.mu.Unlock()

	p.Close()

	if len(p.buffers) != 1 {
		t.Fatalf("kept %d buffers, want 1 leaked", len(p.buffers))
	}
	if p.buffers[0].state != stateDelivered {
		t.Fatalf("leaked buffer state=%v", p.buffers[0].state)
	}
}
