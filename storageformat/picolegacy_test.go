// Copyright 2026 The tofcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package storageformat

import (
	"encoding/binary"
	"testing"

	"github.com/tofcore/tofcore/status"
)

// memAccessor is a trivial in-memory storage.Accessor for tests.
type memAccessor struct {
	buf []byte
}

func (m *memAccessor) Read(offset uint32, length int) ([]byte, error) {
	return m.buf[offset : offset+uint32(length)], nil
}

func (m *memAccessor) Write(offset uint32, data []byte) error {
	copy(m.buf[offset:], data)
	return nil
}

// buildFlexxImage mirrors the fixture a Pico Flexx module's flash carries:
// calibration bytes immediately followed by the fixed header, ending at
// imageSize.
func buildFlexxImage(imageSize uint32, serialNumber, hardwareRevision uint32, calib []byte) []byte {
	buf := make([]byte, imageSize)
	headerStart := int(imageSize) - picoLegacyHeaderSize
	copy(buf[headerStart-len(calib):headerStart], calib)

	h := buf[headerStart:]
	copy(h[0:6], []byte{'P', 'M', 'D', 'T', 'E', 'C'})
	binary.LittleEndian.PutUint32(h[8:12], 100)
	binary.LittleEndian.PutUint32(h[12:16], serialNumber)
	binary.LittleEndian.PutUint32(h[16:20], hardwareRevision)
	binary.LittleEndian.PutUint32(h[20:24], imageSize-uint32(picoLegacyHeaderSize)-uint32(len(calib)))
	binary.LittleEndian.PutUint32(h[24:28], uint32(len(calib)))
	return buf
}

func TestPicoLegacyReadHeaderAndCalibration(t *testing.T) {
	const imageSize = 2000000
	calib := []byte{1, 2, 3, 4}
	buf := buildFlexxImage(imageSize, 1234, 0x1156DA3A, calib)

	p := &PicoLegacy{Access: &memAccessor{buf: buf}, ImageSize: imageSize}
	h, err := p.ReadHeader()
	if err != nil {
		t.Fatal(err)
	}

	if got, want := h.ModuleIdentifier(), ([4]byte{0x3A, 0xDA, 0x56, 0x11}); got != want {
		t.Fatalf("ModuleIdentifier() = %v, want %v", got, want)
	}
	if got, want := h.SerialNumberString(), "1234"; got != want {
		t.Fatalf("SerialNumberString() = %q, want %q", got, want)
	}

	data, err := p.GetCalibrationData(h)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(calib) {
		t.Fatalf("calibration = %v, want %v", data, calib)
	}
}

func TestPicoLegacyHeaderTruncated(t *testing.T) {
	_, err := ParsePicoLegacyHeader(make([]byte, 10))
	if status.CodeOf(err) != status.CodeInvalidValue {
		t.Fatalf("err=%v", err)
	}
}

func TestPicoLegacyEmptyCalibration(t *testing.T) {
	const imageSize = 1024
	buf := buildFlexxImage(imageSize, 1, 2, nil)
	p := &PicoLegacy{Access: &memAccessor{buf: buf}, ImageSize: imageSize}
	h, err := p.ReadHeader()
	if err != nil {
		t.Fatal(err)
	}
	data, err := p.GetCalibrationData(h)
	if err != nil {
		t.Fatal(err)
	}
	if data != nil {
		t.Fatalf("data = %v, want nil", data)
	}
}
