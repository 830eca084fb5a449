package cntx

import (
	"encoding/binary"
	"fmt"
)

const (
	ncaHeaderSize      = 0x400
	ncaFsHeaderSize    = 0x200
	ncaMaxFsCount      = 4
	ncaMediaUnitSize   = 0x200
	ncaMagic           = "NCA3"
	ncaKeyAreaSize     = 0x40
	ncaKeyAreaOffset   = 0x300
	ncaFsEntriesOffset = 0x240
	ncaFsHashesOffset  = 0x280
)

// FileSystemType is the kind of filesystem embedded in an NCA section.
type FileSystemType uint8

const (
	FileSystemTypeRomFs      FileSystemType = 0
	FileSystemTypePartitionFs FileSystemType = 1
)

// HashType discriminates how a FileSystemHeader's hash_info region is
// interpreted (spec.md §9's "discriminated union").
type HashType uint8

const (
	HashTypeAuto                  HashType = 0
	HashTypeHierarchicalSha256    HashType = 2
	HashTypeHierarchicalIntegrity HashType = 3
)

// EncryptionType is the per-section cipher mode. Only EncryptionTypeAesCtr
// is supported for opening; anything else yields ErrUnsupported.
type EncryptionType uint8

const (
	EncryptionTypeAuto      EncryptionType = 0
	EncryptionTypeNone      EncryptionType = 1
	EncryptionTypeAesCtrOld EncryptionType = 2
	EncryptionTypeAesCtr    EncryptionType = 3
	EncryptionTypeAesCtrEx  EncryptionType = 4
)

// KeyAreaEncryptionKeyIndex selects which of the keyset's three key-area
// key families decrypts this NCA's key area.
type KeyAreaEncryptionKeyIndex uint8

const (
	KeyAreaEncryptionKeyIndexApplication KeyAreaEncryptionKeyIndex = 0
	KeyAreaEncryptionKeyIndexOcean       KeyAreaEncryptionKeyIndex = 1
	KeyAreaEncryptionKeyIndexSystem      KeyAreaEncryptionKeyIndex = 2
)

// FileSystemEntry locates one section's byte range within the NCA, in
// media units of 0x200 bytes (spec.md §3).
type FileSystemEntry struct {
	StartOffset uint32
	EndOffset   uint32
}

// Header is the NCA's fixed 0x400-byte header, parsed field-by-field
// (spec.md §9: "reimplement by reading into a fixed-size byte array and
// parsing field-by-field" rather than overlaying a C struct).
type Header struct {
	Magic                        string
	DistributionType             uint8
	ContentType                  uint8
	KeyGenerationOld             uint8
	KeyAreaEncryptionKeyIndex    KeyAreaEncryptionKeyIndex
	ContentSize                  uint64
	ProgramID                    uint64
	ContentIndex                 uint32
	KeyGeneration                uint8
	Header1SignatureKeyGeneration uint8
	RightsID                     [0x10]byte
	FsEntries                    [ncaMaxFsCount]FileSystemEntry
}

// effectiveKeyGeneration applies the "subtract 1 if > 0" firmware quirk
// (spec.md §4.4 step 4, §9): both generation 0 and 1 select master key
// index 0.
func (h *Header) effectiveKeyGeneration() uint8 {
	gen := h.KeyGenerationOld
	if h.KeyGeneration > gen {
		gen = h.KeyGeneration
	}
	if gen > 0 {
		gen--
	}
	return gen
}

// HierarchicalSha256Info is the hash_info interpretation used by PFS0
// sections: a single-level SHA-256 hash table over the partition data.
type HierarchicalSha256Info struct {
	HashTableOffset uint64
	HashTableSize   uint64
	Pfs0Offset      uint64
	Pfs0Size        uint64
}

// HierarchicalIntegrityLevel is one IVFC level descriptor.
type HierarchicalIntegrityLevel struct {
	Offset uint64
	Size   uint64
}

// HierarchicalIntegrityInfo is the hash_info interpretation used by RomFS
// sections: a six-level IVFC hash tree; the last level is the data level.
type HierarchicalIntegrityInfo struct {
	Levels [6]HierarchicalIntegrityLevel
}

// FileSystemHeader is one of the NCA's four 0x200-byte section headers.
type FileSystemHeader struct {
	Version        uint16
	FsType         FileSystemType
	HashType       HashType
	EncryptionType EncryptionType
	Ctr            uint64

	HasSha256     bool
	Sha256        HierarchicalSha256Info
	HasIntegrity  bool
	Integrity     HierarchicalIntegrityInfo
}

// NCA is a parsed, header-decrypted Nintendo Content Archive. See
// spec.md §4.4. Construction decrypts the header and fs headers in
// place and derives the section AES-CTR key; no section data is read
// until a caller opens one.
//
// Grounded on original_source/src/nca.rs's NCA::new, adapted to
// field-by-field parsing and a Go ReadSeek/Shared source.
type NCA struct {
	source *Shared

	Header    Header
	fsHeaders []FileSystemHeader
	fsEntries []FileSystemEntry

	aesCtrKey [aesBlockSize]byte
}

// Open reads, authenticates the magic of, and decrypts an NCA's header
// and fs headers from source using keyset, retaining only those fs
// headers whose section is actually present.
func Open(source *Shared, keyset *Keyset) (*NCA, error) {
	r := source.share()

	headerBuf := make([]byte, ncaHeaderSize)
	if err := r.ReadFull(headerBuf); err != nil {
		return nil, fmt.Errorf("cntx: nca: reading header: %w", err)
	}

	var key1, key2 [aesBlockSize]byte
	copy(key1[:], keyset.HeaderKey[0:0x10])
	copy(key2[:], keyset.HeaderKey[0x10:0x20])
	if err := decryptXTSArea(headerBuf, key1, key2, 0); err != nil {
		return nil, fmt.Errorf("cntx: nca: decrypting header: %w", err)
	}

	if string(headerBuf[0x200:0x204]) != ncaMagic {
		return nil, fmt.Errorf("cntx: nca: %w", ErrInvalidMagic)
	}

	header := parseHeader(headerBuf)

	fsHeadersBuf := make([]byte, ncaFsHeaderSize*ncaMaxFsCount)
	if err := r.ReadFull(fsHeadersBuf); err != nil {
		return nil, fmt.Errorf("cntx: nca: reading fs headers: %w", err)
	}
	if err := decryptXTSArea(fsHeadersBuf, key1, key2, 2); err != nil {
		return nil, fmt.Errorf("cntx: nca: decrypting fs headers: %w", err)
	}

	allFsHeaders := make([]FileSystemHeader, ncaMaxFsCount)
	for i := 0; i < ncaMaxFsCount; i++ {
		allFsHeaders[i] = parseFsHeader(fsHeadersBuf[i*ncaFsHeaderSize : (i+1)*ncaFsHeaderSize])
	}

	keyGen := header.effectiveKeyGeneration()
	family, err := kaekFamilyFromIndex(header.KeyAreaEncryptionKeyIndex)
	if err != nil {
		return nil, fmt.Errorf("cntx: nca: %w", err)
	}
	kaek, err := keyset.keyAreaEncryptionKey(family, keyGen)
	if err != nil {
		return nil, err
	}

	keyArea := make([]byte, ncaKeyAreaSize)
	copy(keyArea, headerBuf[ncaKeyAreaOffset:ncaKeyAreaOffset+ncaKeyAreaSize])
	if err := decryptKeyAreaECB(keyArea, kaek); err != nil {
		return nil, fmt.Errorf("cntx: nca: decrypting key area: %w", err)
	}

	nca := &NCA{
		source: source,
		Header: header,
	}
	copy(nca.aesCtrKey[:], keyArea[0x20:0x30])

	for i := 0; i < ncaMaxFsCount; i++ {
		if header.FsEntries[i].StartOffset > 0 {
			nca.fsHeaders = append(nca.fsHeaders, allFsHeaders[i])
			nca.fsEntries = append(nca.fsEntries, header.FsEntries[i])
		}
	}

	return nca, nil
}

func kaekFamilyFromIndex(idx KeyAreaEncryptionKeyIndex) (kaekFamily, error) {
	switch idx {
	case KeyAreaEncryptionKeyIndexApplication:
		return kaekFamilyApplication, nil
	case KeyAreaEncryptionKeyIndexOcean:
		return kaekFamilyOcean, nil
	case KeyAreaEncryptionKeyIndexSystem:
		return kaekFamilySystem, nil
	default:
		return 0, fmt.Errorf("cntx: unknown key area encryption key index %d", idx)
	}
}

func parseHeader(b []byte) Header {
	var h Header
	h.Magic = string(b[0x200:0x204])
	h.DistributionType = b[0x204]
	h.ContentType = b[0x205]
	h.KeyGenerationOld = b[0x206]
	h.KeyAreaEncryptionKeyIndex = KeyAreaEncryptionKeyIndex(b[0x207])
	h.ContentSize = binary.LittleEndian.Uint64(b[0x208:0x210])
	h.ProgramID = binary.LittleEndian.Uint64(b[0x210:0x218])
	h.ContentIndex = binary.LittleEndian.Uint32(b[0x218:0x21C])
	h.KeyGeneration = b[0x220]
	h.Header1SignatureKeyGeneration = b[0x221]
	copy(h.RightsID[:], b[0x230:0x240])

	for i := 0; i < ncaMaxFsCount; i++ {
		off := ncaFsEntriesOffset + i*0x10
		h.FsEntries[i] = FileSystemEntry{
			StartOffset: binary.LittleEndian.Uint32(b[off : off+4]),
			EndOffset:   binary.LittleEndian.Uint32(b[off+4 : off+8]),
		}
	}
	return h
}

func parseFsHeader(b []byte) FileSystemHeader {
	var fh FileSystemHeader
	fh.Version = binary.LittleEndian.Uint16(b[0x0:0x2])
	fh.FsType = FileSystemType(b[0x2])
	fh.HashType = HashType(b[0x3])
	fh.EncryptionType = EncryptionType(b[0x4])

	const hashInfoOffset = 0x8
	switch fh.HashType {
	case HashTypeHierarchicalSha256:
		fh.HasSha256 = true
		fh.Sha256 = HierarchicalSha256Info{
			HashTableOffset: binary.LittleEndian.Uint64(b[hashInfoOffset+0x28 : hashInfoOffset+0x30]),
			HashTableSize:   binary.LittleEndian.Uint64(b[hashInfoOffset+0x30 : hashInfoOffset+0x38]),
			Pfs0Offset:      binary.LittleEndian.Uint64(b[hashInfoOffset+0x38 : hashInfoOffset+0x40]),
			Pfs0Size:        binary.LittleEndian.Uint64(b[hashInfoOffset+0x40 : hashInfoOffset+0x48]),
		}
	case HashTypeHierarchicalIntegrity:
		fh.HasIntegrity = true
		const levelsOffset = hashInfoOffset + 0x10
		for i := 0; i < 6; i++ {
			lo := levelsOffset + i*0x18
			fh.Integrity.Levels[i] = HierarchicalIntegrityLevel{
				Offset: binary.LittleEndian.Uint64(b[lo : lo+8]),
				Size:   binary.LittleEndian.Uint64(b[lo+8 : lo+16]),
			}
		}
	}

	const ctrOffset = 0x140
	fh.Ctr = binary.LittleEndian.Uint64(b[ctrOffset : ctrOffset+8])

	return fh
}

// SectionCount returns the number of retained (present) sections.
func (n *NCA) SectionCount() int { return len(n.fsHeaders) }

// FsHeader returns the retained fs header at index i.
func (n *NCA) FsHeader(i int) (FileSystemHeader, error) {
	if i < 0 || i >= len(n.fsHeaders) {
		return FileSystemHeader{}, fmt.Errorf("cntx: nca: %w", ErrInvalidIndex)
	}
	return n.fsHeaders[i], nil
}

func (n *NCA) sectionStartOffset(i int) int64 {
	return int64(n.fsEntries[i].StartOffset) * ncaMediaUnitSize
}

// OpenPFS0 opens the retained section at index i as a PFS0 partition
// filesystem. Fails with ErrInvalidIndex if i is out of range,
// ErrWrongType if the section is not a PartitionFs, ErrUnsupported if
// its encryption type is anything but plain AesCtr.
func (n *NCA) OpenPFS0(i int) (*PFS0, error) {
	fh, err := n.FsHeader(i)
	if err != nil {
		return nil, err
	}
	if fh.FsType != FileSystemTypePartitionFs {
		return nil, fmt.Errorf("cntx: nca: %w: section %d is not a PartitionFs", ErrWrongType, i)
	}
	if fh.EncryptionType != EncryptionTypeAesCtr {
		return nil, fmt.Errorf("cntx: nca: %w: encryption type %d", ErrUnsupported, fh.EncryptionType)
	}
	if !fh.HasSha256 {
		return nil, fmt.Errorf("cntx: nca: %w: section %d has no HierarchicalSha256 hash info", ErrUnsupported, i)
	}

	base := n.sectionStartOffset(i) + int64(fh.Sha256.Pfs0Offset)
	ctr, err := NewAes128CtrReader(n.source, base, fh.Ctr, n.aesCtrKey)
	if err != nil {
		return nil, err
	}
	return newPFS0(ctr)
}

// OpenRomFS opens the retained section at index i as a RomFS filesystem.
// Fails with ErrInvalidIndex if i is out of range, ErrWrongType if the
// section is not a RomFs, ErrUnsupported if its encryption type is
// anything but plain AesCtr.
func (n *NCA) OpenRomFS(i int) (*RomFs, error) {
	fh, err := n.FsHeader(i)
	if err != nil {
		return nil, err
	}
	if fh.FsType != FileSystemTypeRomFs {
		return nil, fmt.Errorf("cntx: nca: %w: section %d is not a RomFs", ErrWrongType, i)
	}
	if fh.EncryptionType != EncryptionTypeAesCtr {
		return nil, fmt.Errorf("cntx: nca: %w: encryption type %d", ErrUnsupported, fh.EncryptionType)
	}
	if !fh.HasIntegrity {
		return nil, fmt.Errorf("cntx: nca: %w: section %d has no HierarchicalIntegrity hash info", ErrUnsupported, i)
	}

	dataLevel := fh.Integrity.Levels[5]
	base := n.sectionStartOffset(i) + int64(dataLevel.Offset)
	ctr, err := NewAes128CtrReader(n.source, base, fh.Ctr, n.aesCtrKey)
	if err != nil {
		return nil, err
	}
	return newRomFs(ctr)
}
