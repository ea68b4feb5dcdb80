// Copyright 2026 The tofcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package regaccess implements batched register access to a 16 bit-addressed
// imager register file: single/burst read and write, masked writes backed by
// a shadow cache, timed register list transfer with burst coalescing, and
// poll-until-value with bounded retries.
//
// It is built on periph.io/x/periph/conn/mmr the same way
// devices/lepton/cci.cciConn is: a conn.Conn plus a declared byte order.
package regaccess

import (
	"log"
	"sync"
	"time"

	"github.com/tofcore/tofcore/status"
	"github.com/tofcore/tofcore/usecase"
	"periph.io/x/periph/conn/mmr"
)

// pollRetries is the number of additional reads poll_until performs after
// its first read, per spec §4.1.
const pollRetries = 4

// sleep is overridden in tests to avoid real delays.
var sleep = time.Sleep

// Dev is a register-access front end to an imager's memory mapped register
// file. It is safe for concurrent use; callers that need read-modify-write
// atomicity around masked writes should serialize at a higher layer (spec
// §5: imager shadow registers are only touched from the application
// thread).
type Dev struct {
	R      mmr.Dev16
	Logger *log.Logger

	mu     sync.Mutex
	shadow map[uint16]uint16
}

// New returns a Dev that reads and writes through r.
func New(r mmr.Dev16) *Dev {
	return &Dev{R: r, shadow: map[uint16]uint16{}}
}

func (d *Dev) logf(format string, args ...interface{}) {
	if d.Logger != nil {
		d.Logger.Printf(format, args...)
	}
}

// Read reads a single register.
func (d *Dev) Read(addr uint16) (uint16, error) {
	v, err := d.R.ReadUint16(addr)
	if err != nil {
		return 0, status.Wrap(status.CodeRuntimeError, "regaccess: read failed", err)
	}
	return v, nil
}

// Write writes a single register. It does not touch the shadow cache; use
// TrackAndWrite when the shadow must stay consistent.
func (d *Dev) Write(addr, value uint16) error {
	if err := d.R.WriteUint16(addr, value); err != nil {
		return status.Wrap(status.CodeRuntimeError, "regaccess: write failed", err)
	}
	return nil
}

// ReadBurst reads count consecutive registers starting at firstAddr in a
// single bus transaction.
func (d *Dev) ReadBurst(firstAddr uint16, count int) ([]uint16, error) {
	if count <= 0 {
		return nil, status.New(status.CodeInvalidValue, "regaccess: count must be positive")
	}
	out := make([]uint16, count)
	if err := d.R.ReadStruct(firstAddr, out); err != nil {
		return nil, status.Wrap(status.CodeRuntimeError, "regaccess: read_burst failed", err)
	}
	return out, nil
}

// WriteBurst writes consecutive registers starting at firstAddr in a single
// bus transaction.
func (d *Dev) WriteBurst(firstAddr uint16, values []uint16) error {
	if len(values) == 0 {
		return status.New(status.CodeInvalidValue, "regaccess: values must not be empty")
	}
	if err := d.R.WriteStruct(firstAddr, values); err != nil {
		return status.Wrap(status.CodeRuntimeError, "regaccess: write_burst failed", err)
	}
	return nil
}

// TransferTimedRegisterList writes list to the device, coalescing maximal
// runs of consecutive addresses with a zero sleep into a single burst write.
// A nonzero sleep terminates the run it appears in (the entry carrying it is
// still part of the flushed burst) and is applied once that burst has been
// sent.
func (d *Dev) TransferTimedRegisterList(list usecase.TimedRegisterList) error {
	i := 0
	for i < len(list) {
		j := i + 1
		for j < len(list) &&
			list[j-1].SleepMicroseconds == 0 &&
			list[j].Addr == list[j-1].Addr+1 {
			j++
		}
		values := make([]uint16, j-i)
		for k := i; k < j; k++ {
			values[k-i] = list[k].Value
		}
		if len(values) == 1 {
			if err := d.Write(list[i].Addr, values[0]); err != nil {
				return err
			}
		} else {
			if err := d.WriteBurst(list[i].Addr, values); err != nil {
				return err
			}
		}
		if us := list[j-1].SleepMicroseconds; us > 0 {
			sleep(time.Duration(us) * time.Microsecond)
		}
		i = j
	}
	return nil
}

// PollUntil sleeps initialSleep, reads addr once, then retries up to 4 more
// times at pollInterval. It returns nil as soon as the read value equals
// expected, and a Timeout status error if it never is.
func (d *Dev) PollUntil(addr, expected uint16, initialSleep, pollInterval time.Duration) error {
	sleep(initialSleep)
	for attempt := 0; ; attempt++ {
		v, err := d.Read(addr)
		if err != nil {
			return err
		}
		if v == expected {
			return nil
		}
		if attempt >= pollRetries {
			return status.New(status.CodeTimeout, "regaccess: poll_until timed out")
		}
		sleep(pollInterval)
	}
}

// PollUntilMasked sleeps initialSleep, reads addr once, then retries up to 4
// more times at pollInterval. It returns nil as soon as (value & mask) ==
// expected, leaving every bit outside mask free to change for unrelated
// reasons without affecting the wait, and a Timeout status error if the
// masked bits never settle.
func (d *Dev) PollUntilMasked(addr, mask, expected uint16, initialSleep, pollInterval time.Duration) error {
	sleep(initialSleep)
	for attempt := 0; ; attempt++ {
		v, err := d.Read(addr)
		if err != nil {
			return err
		}
		if v&mask == expected {
			return nil
		}
		if attempt >= pollRetries {
			return status.New(status.CodeTimeout, "regaccess: poll_until_masked timed out")
		}
		sleep(pollInterval)
	}
}

// WriteMasked performs a read-modify-write using the shadow cache: if addr
// has a cached value it is used as the read-back, else resetValue is used.
// The new value is (cur &^ mask) | (value & mask); on a successful write the
// shadow cache is updated.
func (d *Dev) WriteMasked(addr, mask, value, resetValue uint16) error {
	d.mu.Lock()
	cur, ok := d.shadow[addr]
	d.mu.Unlock()
	if !ok {
		cur = resetValue
	}
	newValue := (cur &^ mask) | (value & mask)
	if err := d.Write(addr, newValue); err != nil {
		return err
	}
	d.mu.Lock()
	d.shadow[addr] = newValue
	d.mu.Unlock()
	return nil
}

// TrackAndWrite writes value to addr and, on success, updates the shadow
// cache entry for addr.
func (d *Dev) TrackAndWrite(addr, value uint16) error {
	if err := d.Write(addr, value); err != nil {
		return err
	}
	d.mu.Lock()
	d.shadow[addr] = value
	d.mu.Unlock()
	return nil
}

// InvalidateShadow removes addr from the shadow cache, e.g. because the
// device may change its value autonomously.
func (d *Dev) InvalidateShadow(addr uint16) {
	d.mu.Lock()
	delete(d.shadow, addr)
	d.mu.Unlock()
}

// ShadowedValue returns the cached value for addr, if any.
func (d *Dev) ShadowedValue(addr uint16) (uint16, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.shadow[addr]
	return v, ok
}

// ShadowedTransaction is a deferred/indirect write batch: registers are
// evicted from the shadow cache when the transaction is opened (their value
// is unknown until the device confirms the change) and only merged back in
// on CommitOrRollback(true).
type ShadowedTransaction struct {
	dev     *Dev
	pending map[uint16]uint16
}

// TrackShadowed opens a deferred write transaction, invalidating addrs in
// the shadow cache immediately.
func (d *Dev) TrackShadowed(addrs ...uint16) *ShadowedTransaction {
	d.mu.Lock()
	for _, a := range addrs {
		delete(d.shadow, a)
	}
	d.mu.Unlock()
	return &ShadowedTransaction{dev: d, pending: map[uint16]uint16{}}
}

// Stage records the value addr will have once the transaction commits. It
// does not touch the bus.
func (t *ShadowedTransaction) Stage(addr, value uint16) {
	t.pending[addr] = value
}

// CommitOrRollback merges the staged values into the shadow cache if success
// is true, and discards them (leaving the addresses uncached, so the next
// read hits the device) otherwise.
func (t *ShadowedTransaction) CommitOrRollback(success bool) {
	if success {
		t.dev.mu.Lock()
		for a, v := range t.pending {
			t.dev.shadow[a] = v
		}
		t.dev.mu.Unlock()
	}
	t.pending = nil
}
