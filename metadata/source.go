package metadata

import (
	"bytes"
	"encoding/binary"
)

// Source is the container collaborator: it owns the image bytes, knows where
// the metadata root starts and translates RVAs to file offsets.
type Source interface {
	Bytes() []byte
	MetadataOffset() uint32
	RVAToOffset(rva uint32) (uint32, bool)
}

// Section maps a range of RVAs onto file bytes.
type Section struct {
	VirtualAddress   uint32
	VirtualSize      uint32
	PointerToRawData uint32
	SizeOfRawData    uint32
}

// ImageSource is a Source over an in-memory image. Without sections RVAs
// are file offsets.
type ImageSource struct {
	Data     []byte
	Root     uint32
	Sections []Section
}

// Bytes returns the image bytes.
func (s *ImageSource) Bytes() []byte { return s.Data }

// MetadataOffset returns the file offset of the metadata root.
func (s *ImageSource) MetadataOffset() uint32 { return s.Root }

// RVAToOffset translates rva through the section table.
func (s *ImageSource) RVAToOffset(rva uint32) (uint32, bool) {
	if len(s.Sections) == 0 {
		return rva, int(rva) < len(s.Data)
	}
	for _, sec := range s.Sections {
		size := sec.VirtualSize
		if sec.SizeOfRawData > size {
			size = sec.SizeOfRawData
		}
		if rva >= sec.VirtualAddress && rva-sec.VirtualAddress < size {
			delta := rva - sec.VirtualAddress
			if delta >= sec.SizeOfRawData {
				return 0, false
			}
			return sec.PointerToRawData + delta, true
		}
	}
	return 0, false
}

// ReadRVA returns size bytes of src starting at rva.
func ReadRVA(src Source, rva, size uint32) ([]byte, bool) {
	off, ok := src.RVAToOffset(rva)
	if !ok {
		return nil, false
	}
	data := src.Bytes()
	if uint64(off)+uint64(size) > uint64(len(data)) {
		return nil, false
	}
	return data[off : off+size], true
}

// ScanRoot finds the first metadata root signature in data.
func ScanRoot(data []byte) (uint32, bool) {
	var sig [4]byte
	binary.LittleEndian.PutUint32(sig[:], Signature)
	for from := 0; from < len(data); {
		i := bytes.Index(data[from:], sig[:])
		if i < 0 {
			return 0, false
		}
		at := from + i
		// A root is 4-byte aligned in every container layout.
		if at%4 == 0 {
			return uint32(at), true
		}
		from = at + 1
	}
	return 0, false
}
