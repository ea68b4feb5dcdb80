// Copyright 2026 The tofcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package storageformat

import (
	"encoding/binary"
	"hash/crc32"
	"os"

	"github.com/tofcore/tofcore/status"
	"github.com/tofcore/tofcore/storage"
)

// zwetschgeMagic opens a Zwetschge flash image.
var zwetschgeMagic = [4]byte{'Z', 'w', 'T', 'g'}

const (
	zwetschgeHeaderSize = 4 + 4 + 4 // magic, format version, ToC offset
	tocEntrySize        = 3 + 3 + 4 // 24 bit address, 24 bit size, CRC32
	tocSize             = 3 * tocEntrySize
)

func getU24(b []byte) uint32 {
	return uint32(b[2]) | uint32(b[1])<<8 | uint32(b[0])<<16
}

func putU24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

// AddrAndSize is one of the Zwetschge table of contents' "24p + 24s" entries:
// a 24 bit flash address, a 24 bit payload size, and the CRC32 the payload
// must match.
type AddrAndSize struct {
	Addr uint32
	Size uint32
	CRC  uint32
}

func parseAddrAndSize(buf []byte) AddrAndSize {
	return AddrAndSize{
		Addr: getU24(buf[0:3]),
		Size: getU24(buf[3:6]),
		CRC:  binary.BigEndian.Uint32(buf[6:10]),
	}
}

func (a AddrAndSize) encode(buf []byte) {
	putU24(buf[0:3], a.Addr)
	putU24(buf[3:6], a.Size)
	binary.BigEndian.PutUint32(buf[6:10], a.CRC)
}

// TableOfContents is the parsed Zwetschge index, naming the location, size
// and expected checksum of the three blocks a flash-defined module carries.
type TableOfContents struct {
	Calibration  AddrAndSize
	RegisterMaps AddrAndSize
	UseCaseList  AddrAndSize
}

func parseToC(buf []byte) (TableOfContents, error) {
	if len(buf) < tocSize {
		return TableOfContents{}, status.New(status.CodeInvalidValue, "storageformat: zwetschge toc truncated")
	}
	return TableOfContents{
		Calibration:  parseAddrAndSize(buf[0*tocEntrySize:]),
		RegisterMaps: parseAddrAndSize(buf[1*tocEntrySize:]),
		UseCaseList:  parseAddrAndSize(buf[2*tocEntrySize:]),
	}, nil
}

// EncodeToC serializes a TableOfContents in [calibration, imager-map-table,
// use-case-list] order.
func EncodeToC(t TableOfContents) []byte {
	buf := make([]byte, tocSize)
	t.Calibration.encode(buf[0*tocEntrySize:])
	t.RegisterMaps.encode(buf[1*tocEntrySize:])
	t.UseCaseList.encode(buf[2*tocEntrySize:])
	return buf
}

// FallbackLoader reads field-service override files (<serial>.zwetschge,
// <serial>.cal) from local storage. Left nil, the filesystem fallback
// described by spec §4.4 is disabled; callers that want it supply
// OSFallbackLoader or an equivalent explicitly.
type FallbackLoader func(name string) ([]byte, error)

// Zwetschge parses the structured Table-of-Contents storage format: a
// calibration blob, an imager use-case-register-map table, and a
// Royale-specific use-case list, each independently CRC32-checked.
type Zwetschge struct {
	Access   storage.Accessor
	Fallback FallbackLoader
	Serial   string

	FormatVersion uint32
	TocOffset     uint32
}

// ReadHeader reads the magic, format version and ToC offset from the start
// of flash.
func (z *Zwetschge) ReadHeader() error {
	buf, err := z.Access.Read(0, zwetschgeHeaderSize)
	if err != nil {
		return err
	}
	if buf[0] != zwetschgeMagic[0] || buf[1] != zwetschgeMagic[1] || buf[2] != zwetschgeMagic[2] || buf[3] != zwetschgeMagic[3] {
		return status.New(status.CodeInvalidValue, "storageformat: zwetschge magic mismatch")
	}
	z.FormatVersion = binary.BigEndian.Uint32(buf[4:8])
	z.TocOffset = binary.BigEndian.Uint32(buf[8:12])
	return nil
}

// ReadToC reads and parses the table of contents at TocOffset. ReadHeader
// must be called first to locate it.
func (z *Zwetschge) ReadToC() (TableOfContents, error) {
	buf, err := z.Access.Read(z.TocOffset, tocSize)
	if err != nil {
		return TableOfContents{}, err
	}
	return parseToC(buf)
}

// readBlock reads the 4-byte length prefix, payload and trailing CRC32 for
// entry, and verifies the length prefix, the trailing CRC, and the entry's
// own expected CRC all agree.
func (z *Zwetschge) readBlock(entry AddrAndSize) ([]byte, error) {
	if entry.Size == 0 {
		return nil, nil
	}
	total := 4 + int(entry.Size) + 4
	buf, err := z.Access.Read(entry.Addr, total)
	if err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(buf[0:4])
	if length != entry.Size {
		return nil, status.New(status.CodeRuntimeError, "storageformat: zwetschge block length prefix mismatch")
	}
	payload := buf[4 : 4+entry.Size]
	trailingCRC := binary.BigEndian.Uint32(buf[4+entry.Size:])
	crc := crc32.ChecksumIEEE(payload)
	if crc != trailingCRC || crc != entry.CRC {
		return nil, status.New(status.CodeRuntimeError, "storageformat: zwetschge block crc mismatch")
	}
	return payload, nil
}

// GetCalibrationData returns the calibration blob referenced by the ToC. If
// the entry's CRC is zero (the "miswritten flash" case spec §4.4 documents)
// and a FallbackLoader is configured, the fallback is tried before giving up.
func (z *Zwetschge) GetCalibrationData(toc TableOfContents) ([]byte, error) {
	if toc.Calibration.CRC == 0 {
		if z.Fallback != nil {
			data, ferr := z.Fallback(z.Serial + ".zwetschge")
			if ferr == nil {
				return data, nil
			}
		}
		return nil, status.New(status.CodeRuntimeError, "storageformat: zwetschge calibration crc is zero and no fallback available")
	}
	return z.readBlock(toc.Calibration)
}

// GetRegisterMapTable returns the raw imager use-case-register-map table
// referenced by the ToC.
func (z *Zwetschge) GetRegisterMapTable(toc TableOfContents) ([]byte, error) {
	return z.readBlock(toc.RegisterMaps)
}

// GetUseCaseList returns the raw Royale-specific use-case list referenced by
// the ToC.
func (z *Zwetschge) GetUseCaseList(toc TableOfContents) ([]byte, error) {
	return z.readBlock(toc.UseCaseList)
}

// EncodeBlock serializes payload with the 4-byte length prefix and trailing
// CRC32 a Zwetschge block is stored with.
func EncodeBlock(payload []byte) []byte {
	out := make([]byte, 4+len(payload)+4)
	binary.BigEndian.PutUint32(out[0:4], uint32(len(payload)))
	copy(out[4:], payload)
	binary.BigEndian.PutUint32(out[4+len(payload):], crc32.ChecksumIEEE(payload))
	return out
}

// OSFallbackLoader reads an override file relative to the process's working
// directory, the "field-service accommodation" spec §4.4 and §6 describe.
func OSFallbackLoader(name string) ([]byte, error) {
	return os.ReadFile(name)
}
