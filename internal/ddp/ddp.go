// Package ddp builds a minimal valid DDP (Dynamic Device Personalization)
// firmware package for the emulated device. The package satisfies the ice
// driver's validation chain so the driver does not fall back to Safe Mode:
// format version check, ICE segment discovery, and the embedded metadata
// section's version check.
package ddp

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	bufSize          = 4096
	pkgNameSize      = 32
	metaSectNameSize = 28

	segTypeMetadata = 0x00000001
	segTypeICEE810  = 0x00000010
	sidMetadata     = 1

	segHdrSize   = 44 // seg_type(4) + format_ver(4) + seg_size(4) + seg_id(32)
	metaSectSize = 36 // ver(4) + name(28) + track_id(4)
)

const (
	pkgName  = "ICE OS Default Package"
	segIDMet = "ICE Metadata"
	segIDICE = "ICE Configuration Data"
)

// version is the 4-byte ice_pkg_ver: major, minor, update, draft.
type version [4]byte

var (
	pkgFormatVer = version{1, 0, 0, 0}
	segVer       = version{1, 3, 0, 0}
)

// Build assembles the complete package: header, metadata segment, and the
// ICE E810 segment carrying one buffer with the metadata section. All
// multi-byte fields are little-endian.
func Build() []byte {
	metaSeg := buildMetadataSegment()
	iceSeg := buildICESegment()

	// Header: format_ver(4) + seg_count(4) + seg_offset[2](8).
	hdrSize := 4 + 4 + 4*2
	metaOff := hdrSize
	iceOff := metaOff + len(metaSeg)

	var pkg bytes.Buffer
	pkg.Write(pkgFormatVer[:])
	le32(&pkg, 2) // seg_count
	le32(&pkg, uint32(metaOff))
	le32(&pkg, uint32(iceOff))
	pkg.Write(metaSeg)
	pkg.Write(iceSeg)
	return pkg.Bytes()
}

// buildMetadataSegment renders ice_global_metadata_seg: the generic header
// plus pkg_ver, a reserved word, and the package name.
func buildMetadataSegment() []byte {
	var body bytes.Buffer
	body.Write(segVer[:]) // pkg_ver
	le32(&body, 0)        // rsvd
	body.Write(padName(pkgName, pkgNameSize))

	var seg bytes.Buffer
	writeSegHdr(&seg, segTypeMetadata, uint32(segHdrSize+body.Len()), segIDMet)
	seg.Write(body.Bytes())
	return seg.Bytes()
}

// buildICESegment renders the E810 segment: empty device table, empty NVM
// table, and a buffer table with a single buffer.
func buildICESegment() []byte {
	var body bytes.Buffer
	le32(&body, 0) // device_table_count
	le32(&body, 0) // nvm table_count
	le32(&body, 1) // buf_count
	body.Write(buildBuf())

	var seg bytes.Buffer
	writeSegHdr(&seg, segTypeICEE810, uint32(segHdrSize+body.Len()), segIDICE)
	seg.Write(body.Bytes())
	return seg.Bytes()
}

// buildBuf renders one fixed-size ice_buf holding the metadata section:
//
//	section_count(le16) data_end(le16)
//	section_entry[0]: type(le32) offset(le16) size(le16)
//	ice_meta_sect at offset 12: ver(4) name(28) track_id(le32)
func buildBuf() []byte {
	buf := make([]byte, bufSize)

	const sectionCount = 1
	dataOff := 4 + 8*sectionCount // header + entries
	dataEnd := dataOff + metaSectSize

	binary.LittleEndian.PutUint16(buf[0:], sectionCount)
	binary.LittleEndian.PutUint16(buf[2:], uint16(dataEnd))
	binary.LittleEndian.PutUint32(buf[4:], sidMetadata)
	binary.LittleEndian.PutUint16(buf[8:], uint16(dataOff))
	binary.LittleEndian.PutUint16(buf[10:], metaSectSize)

	copy(buf[dataOff:], segVer[:])
	copy(buf[dataOff+4:], padName(pkgName, metaSectNameSize))
	// track_id is zero, already in place.

	return buf
}

// Validate checks the invariants the driver's validation chain will enforce.
// It is run on every package before it is written out.
func Validate(data []byte) error {
	if len(data) < 16 {
		return fmt.Errorf("ddp: package truncated at %d bytes", len(data))
	}
	if !bytes.Equal(data[0:4], pkgFormatVer[:]) {
		return fmt.Errorf("ddp: bad format version %v", data[0:4])
	}
	if n := binary.LittleEndian.Uint32(data[4:]); n != 2 {
		return fmt.Errorf("ddp: bad segment count %d", n)
	}

	metaOff := int(binary.LittleEndian.Uint32(data[8:]))
	iceOff := int(binary.LittleEndian.Uint32(data[12:]))

	if err := checkSeg(data, metaOff, segTypeMetadata); err != nil {
		return err
	}
	if err := checkSeg(data, iceOff, segTypeICEE810); err != nil {
		return err
	}

	// First buffer starts after the segment header and the three table
	// count words.
	bufStart := iceOff + segHdrSize + 4 + 4 + 4
	if bufStart+bufSize > len(data) {
		return fmt.Errorf("ddp: buffer exceeds package")
	}
	buf := data[bufStart:]

	if n := binary.LittleEndian.Uint16(buf[0:]); n != 1 {
		return fmt.Errorf("ddp: bad section count %d", n)
	}
	if t := binary.LittleEndian.Uint32(buf[4:]); t != sidMetadata {
		return fmt.Errorf("ddp: bad section type %#x", t)
	}
	sectOff := int(binary.LittleEndian.Uint16(buf[8:]))
	sectSize := int(binary.LittleEndian.Uint16(buf[10:]))
	if sectOff < 12 || sectSize != metaSectSize || sectOff+sectSize > bufSize {
		return fmt.Errorf("ddp: bad section geometry offset=%d size=%d", sectOff, sectSize)
	}
	if !bytes.Equal(buf[sectOff:sectOff+4], segVer[:]) {
		return fmt.Errorf("ddp: bad metadata version %v", buf[sectOff:sectOff+4])
	}
	if !bytes.HasPrefix(buf[sectOff+4:sectOff+4+metaSectNameSize], []byte(pkgName)) {
		return fmt.Errorf("ddp: bad metadata name")
	}
	return nil
}

func checkSeg(data []byte, off int, wantType uint32) error {
	if off+segHdrSize > len(data) {
		return fmt.Errorf("ddp: segment offset %d exceeds package", off)
	}
	if t := binary.LittleEndian.Uint32(data[off:]); t != wantType {
		return fmt.Errorf("ddp: segment at %d has type %#x, want %#x", off, t, wantType)
	}
	size := int(binary.LittleEndian.Uint32(data[off+8:]))
	if off+size > len(data) {
		return fmt.Errorf("ddp: segment at %d exceeds package", off)
	}
	return nil
}

func writeSegHdr(w *bytes.Buffer, segType, segSize uint32, segID string) {
	le32(w, segType)
	w.Write(segVer[:])
	le32(w, segSize)
	w.Write(padName(segID, pkgNameSize))
}

func le32(w *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

func padName(s string, size int) []byte {
	b := make([]byte, size)
	copy(b, s)
	return b
}
