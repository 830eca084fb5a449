package cntx

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	pfs0Magic          = "PFS0"
	pfs0HeaderSize     = 0x10
	pfs0FileEntrySize  = 0x18
)

type pfs0FileEntry struct {
	DataOffset        uint64
	Size              uint64
	StringTableOffset uint32
}

// PFS0 is a parsed "Partition FS" partition: a flat file table backed by
// a shared NUL-terminated name heap. See spec.md §4.5.
//
// Grounded on original_source/src/pfs0.rs's PFS0.
type PFS0 struct {
	reader       ReadSeek
	fileCount    uint32
	entries      []pfs0FileEntry
	stringTable  []byte
	dataBaseOffset int64
}

// newPFS0 parses the PFS0 header, file table, and string heap from the
// front of reader.
func newPFS0(reader ReadSeek) (*PFS0, error) {
	header := make([]byte, pfs0HeaderSize)
	if err := reader.ReadFull(header); err != nil {
		return nil, fmt.Errorf("cntx: pfs0: reading header: %w", err)
	}
	if string(header[0:4]) != pfs0Magic {
		return nil, fmt.Errorf("cntx: pfs0: %w", ErrInvalidMagic)
	}
	fileCount := binary.LittleEndian.Uint32(header[4:8])
	stringTableSize := binary.LittleEndian.Uint32(header[8:12])

	entries := make([]pfs0FileEntry, fileCount)
	for i := uint32(0); i < fileCount; i++ {
		buf := make([]byte, pfs0FileEntrySize)
		if err := reader.ReadFull(buf); err != nil {
			return nil, fmt.Errorf("cntx: pfs0: reading file entry %d: %w", i, err)
		}
		entries[i] = pfs0FileEntry{
			DataOffset:        binary.LittleEndian.Uint64(buf[0:8]),
			Size:              binary.LittleEndian.Uint64(buf[8:16]),
			StringTableOffset: binary.LittleEndian.Uint32(buf[16:20]),
		}
	}

	stringTable := make([]byte, stringTableSize)
	if err := reader.ReadFull(stringTable); err != nil {
		return nil, fmt.Errorf("cntx: pfs0: reading string table: %w", err)
	}

	dataBase := int64(pfs0HeaderSize) + int64(fileCount)*int64(pfs0FileEntrySize) + int64(stringTableSize)

	return &PFS0{
		reader:         reader,
		fileCount:      fileCount,
		entries:        entries,
		stringTable:    stringTable,
		dataBaseOffset: dataBase,
	}, nil
}

// ListFiles returns the partition's file names in table order.
func (p *PFS0) ListFiles() []string {
	names := make([]string, len(p.entries))
	for i, e := range p.entries {
		names[i] = p.nameAt(e.StringTableOffset)
	}
	return names
}

func (p *PFS0) nameAt(offset uint32) string {
	rest := p.stringTable[offset:]
	end := 0
	for end < len(rest) && rest[end] != 0 {
		end++
	}
	return string(rest[:end])
}

// FileCount returns the number of files in the partition.
func (p *PFS0) FileCount() int { return len(p.entries) }

// FileSize returns the size of file i, or ErrInvalidIndex if out of range.
func (p *PFS0) FileSize(i int) (uint64, error) {
	if i < 0 || i >= len(p.entries) {
		return 0, fmt.Errorf("cntx: pfs0: %w", ErrInvalidIndex)
	}
	return p.entries[i].Size, nil
}

// ReadFile reads len(buf) bytes of file i starting at offset into buf,
// returning the number of bytes read. Fails with ErrInvalidIndex if i is
// out of range, ErrUnexpectedEOF if offset+len(buf) exceeds the file's
// size (spec.md §4.5, testable property 3: buf is left untouched on this
// error path).
func (p *PFS0) ReadFile(i int, offset uint64, buf []byte) (int, error) {
	if i < 0 || i >= len(p.entries) {
		return 0, fmt.Errorf("cntx: pfs0: %w", ErrInvalidIndex)
	}
	entry := p.entries[i]
	if offset+uint64(len(buf)) > entry.Size {
		return 0, fmt.Errorf("cntx: pfs0: %w", ErrUnexpectedEOF)
	}

	readOffset := p.dataBaseOffset + int64(entry.DataOffset) + int64(offset)
	if _, err := p.reader.Seek(readOffset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("cntx: pfs0: %w", err)
	}
	n, err := p.reader.Read(buf)
	if err != nil {
		return n, fmt.Errorf("cntx: pfs0: %w", err)
	}
	return n, nil
}
