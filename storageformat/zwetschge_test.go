// Copyright 2026 The tofcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package storageformat

import (
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/tofcore/tofcore/status"
)

func crcOf(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

func buildZwetschgeImage(calib, regMaps, useCases []byte) []byte {
	calibBlock := EncodeBlock(calib)
	regMapsBlock := EncodeBlock(regMaps)
	useCasesBlock := EncodeBlock(useCases)

	calibAddr := uint32(zwetschgeHeaderSize + tocSize)
	regMapsAddr := calibAddr + uint32(len(calibBlock))
	useCasesAddr := regMapsAddr + uint32(len(regMapsBlock))

	toc := TableOfContents{
		Calibration:  AddrAndSize{Addr: calibAddr, Size: uint32(len(calib)), CRC: crcOf(calib)},
		RegisterMaps: AddrAndSize{Addr: regMapsAddr, Size: uint32(len(regMaps)), CRC: crcOf(regMaps)},
		UseCaseList:  AddrAndSize{Addr: useCasesAddr, Size: uint32(len(useCases)), CRC: crcOf(useCases)},
	}

	buf := make([]byte, useCasesAddr+uint32(len(useCasesBlock)))
	copy(buf[0:4], zwetschgeMagic[:])
	binary.BigEndian.PutUint32(buf[4:8], 1)
	binary.BigEndian.PutUint32(buf[8:12], zwetschgeHeaderSize)
	copy(buf[zwetschgeHeaderSize:], EncodeToC(toc))
	copy(buf[calibAddr:], calibBlock)
	copy(buf[regMapsAddr:], regMapsBlock)
	copy(buf[useCasesAddr:], useCasesBlock)
	return buf
}

func TestZwetschgeReadToCAndBlocks(t *testing.T) {
	calib := []byte{1, 2, 3, 4, 5}
	regMaps := []byte{0xAA, 0xBB}
	useCases := []byte{0x10, 0x20, 0x30}
	buf := buildZwetschgeImage(calib, regMaps, useCases)

	z := &Zwetschge{Access: &memAccessor{buf: buf}}
	if err := z.ReadHeader(); err != nil {
		t.Fatal(err)
	}
	toc, err := z.ReadToC()
	if err != nil {
		t.Fatal(err)
	}

	got, err := z.GetCalibrationData(toc)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(calib) {
		t.Fatalf("calibration = %v want %v", got, calib)
	}

	regs, err := z.GetRegisterMapTable(toc)
	if err != nil {
		t.Fatal(err)
	}
	if string(regs) != string(regMaps) {
		t.Fatalf("register maps = %v want %v", regs, regMaps)
	}

	uc, err := z.GetUseCaseList(toc)
	if err != nil {
		t.Fatal(err)
	}
	if string(uc) != string(useCases) {
		t.Fatalf("use case list = %v want %v", uc, useCases)
	}
}

func TestZwetschgeHeaderMagicMismatch(t *testing.T) {
	buf := make([]byte, zwetschgeHeaderSize)
	z := &Zwetschge{Access: &memAccessor{buf: buf}}
	if err := z.ReadHeader(); status.CodeOf(err) != status.CodeInvalidValue {
		t.Fatalf("err=%v", err)
	}
}

func TestZwetschgeBlockCRCMismatch(t *testing.T) {
	calib := []byte{1, 2, 3}
	buf := buildZwetschgeImage(calib, nil, nil)
	// Corrupt the calibration payload after encoding so its trailing CRC no
	// longer matches.
	buf[zwetschgeHeaderSize+tocSize+4] ^= 0xFF

	z := &Zwetschge{Access: &memAccessor{buf: buf}}
	if err := z.ReadHeader(); err != nil {
		t.Fatal(err)
	}
	toc, err := z.ReadToC()
	if err != nil {
		t.Fatal(err)
	}
	_, err = z.GetCalibrationData(toc)
	if status.CodeOf(err) != status.CodeRuntimeError {
		t.Fatalf("err=%v", err)
	}
}

func TestZwetschgeCalibrationZeroCRCFallback(t *testing.T) {
	buf := buildZwetschgeImage([]byte{1, 2}, nil, nil)
	z := &Zwetschge{Access: &memAccessor{buf: buf}, Serial: "SN123"}
	if err := z.ReadHeader(); err != nil {
		t.Fatal(err)
	}
	toc, err := z.ReadToC()
	if err != nil {
		t.Fatal(err)
	}
	toc.Calibration.CRC = 0

	fallbackData := []byte{9, 9, 9}
	var requestedName string
	z.Fallback = func(name string) ([]byte, error) {
		requestedName = name
		return fallbackData, nil
	}
	got, err := z.GetCalibrationData(toc)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(fallbackData) {
		t.Fatalf("got %v want %v", got, fallbackData)
	}
	if requestedName != "SN123.zwetschge" {
		t.Fatalf("requested %q", requestedName)
	}
}

func TestZwetschgeCalibrationZeroCRCNoFallback(t *testing.T) {
	buf := buildZwetschgeImage([]byte{1, 2}, nil, nil)
	z := &Zwetschge{Access: &memAccessor{buf: buf}}
	if err := z.ReadHeader(); err != nil {
		t.Fatal(err)
	}
	toc, err := z.ReadToC()
	if err != nil {
		t.Fatal(err)
	}
	toc.Calibration.CRC = 0
	_, err = z.GetCalibrationData(toc)
	if status.CodeOf(err) != status.CodeRuntimeError {
		t.Fatalf("err=%v", err)
	}
}

func TestOSFallbackLoaderMissingFile(t *testing.T) {
	if _, err := OSFallbackLoader("/nonexistent/path/to/file.zwetschge"); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}
