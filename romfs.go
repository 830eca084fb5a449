package cntx

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
)

const (
	romFsHeaderSize        = 0x50
	romFsInvalidOffset     = 0xFFFFFFFF
	romFsRootDirOffset     = 0
	romFsHashSeed          = 123456789
	romFsDirInfoFixedSize  = 0x18
	romFsFileInfoFixedSize = 0x20
)

type romFsHeader struct {
	DirHashTableOffset  uint64
	DirHashTableSize    uint64
	DirTableOffset      uint64
	DirTableSize        uint64
	FileHashTableOffset uint64
	FileHashTableSize   uint64
	FileTableOffset     uint64
	FileTableSize       uint64
	FileDataOffset      uint64
}

type romFsDirInfo struct {
	ParentDirOffset     uint32
	SiblingDirOffset    uint32
	FirstChildDirOffset uint32
	FirstChildFileOffset uint32
	NextDirHash         uint32
	Name                string
}

type romFsFileInfo struct {
	ParentDirOffset   uint32
	SiblingFileOffset uint32
	DataOffset        uint64
	DataSize          uint64
	NextFileHash      uint32
	Name              string
}

// RomFs is a parsed hierarchical RomFS filesystem: a directory/file tree
// accelerated by hash buckets over sibling-linked records. See
// spec.md §4.6.
//
// Grounded on original_source/src/romfs.rs's RomFs; the path-lookup
// cache keyed by xxhash of the full path is an addition per SPEC_FULL.md
// §3, grounded in this example pack's widespread use of
// github.com/cespare/xxhash/v2 as a fast path/string hash.
type RomFs struct {
	reader ReadSeek
	header romFsHeader

	mu        sync.Mutex
	fileCache map[uint64]fileCacheEntry
	dirCache  map[uint64]dirCacheEntry
}

// fileCacheEntry/dirCacheEntry retain the original path alongside the
// xxhash-keyed lookup result, so a 64-bit hash collision between two
// distinct paths can never surface the wrong entry: every cache hit
// re-checks path equality before trusting the cached value.
type fileCacheEntry struct {
	path string
	info romFsFileInfo
}

type dirCacheEntry struct {
	path   string
	offset uint32
}

// newRomFs reads the 0x50-byte RomFS header from the front of reader.
func newRomFs(reader ReadSeek) (*RomFs, error) {
	buf := make([]byte, romFsHeaderSize)
	if err := reader.ReadFull(buf); err != nil {
		return nil, fmt.Errorf("cntx: romfs: reading header: %w", err)
	}

	h := romFsHeader{
		// header_size (buf[0:8]) is not needed beyond this point.
		DirHashTableOffset:  binary.LittleEndian.Uint64(buf[0x08:0x10]),
		DirHashTableSize:    binary.LittleEndian.Uint64(buf[0x10:0x18]),
		DirTableOffset:      binary.LittleEndian.Uint64(buf[0x18:0x20]),
		DirTableSize:        binary.LittleEndian.Uint64(buf[0x20:0x28]),
		FileHashTableOffset: binary.LittleEndian.Uint64(buf[0x28:0x30]),
		FileHashTableSize:   binary.LittleEndian.Uint64(buf[0x30:0x38]),
		FileTableOffset:     binary.LittleEndian.Uint64(buf[0x38:0x40]),
		FileTableSize:       binary.LittleEndian.Uint64(buf[0x40:0x48]),
		FileDataOffset:      binary.LittleEndian.Uint64(buf[0x48:0x50]),
	}

	return &RomFs{
		reader:    reader,
		header:    h,
		fileCache: make(map[uint64]fileCacheEntry),
		dirCache:  make(map[uint64]dirCacheEntry),
	}, nil
}

// computeHash implements the name hash used by both dir and file hash
// buckets (spec.md §4.6).
func computeHash(parentOffset uint32, name string, bucketCount uint32) uint32 {
	hash := parentOffset ^ romFsHashSeed
	for i := 0; i < len(name); i++ {
		hash = bits.RotateLeft32(hash, -5) ^ uint32(name[i])
	}
	if bucketCount == 0 {
		return 0
	}
	return hash % bucketCount
}

func (r *RomFs) readDirBucket(hash uint32) (uint32, error) {
	off := r.header.DirHashTableOffset + uint64(hash)*4
	if _, err := r.reader.Seek(int64(off), io.SeekStart); err != nil {
		return 0, err
	}
	var buf [4]byte
	if err := r.reader.ReadFull(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (r *RomFs) readFileBucket(hash uint32) (uint32, error) {
	off := r.header.FileHashTableOffset + uint64(hash)*4
	if _, err := r.reader.Seek(int64(off), io.SeekStart); err != nil {
		return 0, err
	}
	var buf [4]byte
	if err := r.reader.ReadFull(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (r *RomFs) readDirInfo(offset uint32) (romFsDirInfo, error) {
	if _, err := r.reader.Seek(int64(r.header.DirTableOffset)+int64(offset), io.SeekStart); err != nil {
		return romFsDirInfo{}, err
	}
	fixed := make([]byte, romFsDirInfoFixedSize)
	if err := r.reader.ReadFull(fixed); err != nil {
		return romFsDirInfo{}, err
	}
	nameLen := binary.LittleEndian.Uint32(fixed[0x14:0x18])
	name := make([]byte, nameLen)
	if err := r.reader.ReadFull(name); err != nil {
		return romFsDirInfo{}, err
	}
	if !utf8Valid(name) {
		return romFsDirInfo{}, fmt.Errorf("cntx: romfs: %w: directory name is not valid UTF-8", ErrUnsupported)
	}

	return romFsDirInfo{
		ParentDirOffset:      binary.LittleEndian.Uint32(fixed[0x00:0x04]),
		SiblingDirOffset:     binary.LittleEndian.Uint32(fixed[0x04:0x08]),
		FirstChildDirOffset:  binary.LittleEndian.Uint32(fixed[0x08:0x0C]),
		FirstChildFileOffset: binary.LittleEndian.Uint32(fixed[0x0C:0x10]),
		NextDirHash:          binary.LittleEndian.Uint32(fixed[0x10:0x14]),
		Name:                 string(name),
	}, nil
}

func (r *RomFs) readFileInfo(offset uint32) (romFsFileInfo, error) {
	if _, err := r.reader.Seek(int64(r.header.FileTableOffset)+int64(offset), io.SeekStart); err != nil {
		return romFsFileInfo{}, err
	}
	fixed := make([]byte, romFsFileInfoFixedSize)
	if err := r.reader.ReadFull(fixed); err != nil {
		return romFsFileInfo{}, err
	}
	nameLen := binary.LittleEndian.Uint32(fixed[0x1C:0x20])
	name := make([]byte, nameLen)
	if err := r.reader.ReadFull(name); err != nil {
		return romFsFileInfo{}, err
	}
	if !utf8Valid(name) {
		return romFsFileInfo{}, fmt.Errorf("cntx: romfs: %w: file name is not valid UTF-8", ErrUnsupported)
	}

	return romFsFileInfo{
		ParentDirOffset:   binary.LittleEndian.Uint32(fixed[0x00:0x04]),
		SiblingFileOffset: binary.LittleEndian.Uint32(fixed[0x04:0x08]),
		DataOffset:        binary.LittleEndian.Uint64(fixed[0x08:0x10]),
		DataSize:          binary.LittleEndian.Uint64(fixed[0x10:0x18]),
		NextFileHash:      binary.LittleEndian.Uint32(fixed[0x18:0x1C]),
		Name:              string(name),
	}, nil
}

func utf8Valid(b []byte) bool {
	return utf8.Valid(b)
}

func (r *RomFs) findDirOffset(parentDirOffset uint32, name string) (uint32, error) {
	bucketCount := uint32(r.header.DirHashTableSize / 4)
	hash := computeHash(parentDirOffset, name, bucketCount)
	cur, err := r.readDirBucket(hash)
	if err != nil {
		return 0, err
	}
	for cur != romFsInvalidOffset {
		info, err := r.readDirInfo(cur)
		if err != nil {
			return 0, err
		}
		if info.ParentDirOffset == parentDirOffset && info.Name == name {
			return cur, nil
		}
		cur = info.NextDirHash
	}
	return 0, fmt.Errorf("cntx: romfs: %w", ErrNotFound)
}

func (r *RomFs) findFileInfo(parentDirOffset uint32, name string) (romFsFileInfo, error) {
	bucketCount := uint32(r.header.FileHashTableSize / 4)
	hash := computeHash(parentDirOffset, name, bucketCount)
	cur, err := r.readFileBucket(hash)
	if err != nil {
		return romFsFileInfo{}, err
	}
	for cur != romFsInvalidOffset {
		info, err := r.readFileInfo(cur)
		if err != nil {
			return romFsFileInfo{}, err
		}
		if info.ParentDirOffset == parentDirOffset && info.Name == name {
			return info, nil
		}
		cur = info.NextFileHash
	}
	return romFsFileInfo{}, fmt.Errorf("cntx: romfs: %w", ErrNotFound)
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func pathHash(path string) uint64 { return xxhash.Sum64String(path) }

func (r *RomFs) findFile(path string) (romFsFileInfo, error) {
	key := pathHash(path)
	r.mu.Lock()
	if cached, ok := r.fileCache[key]; ok && cached.path == path {
		r.mu.Unlock()
		return cached.info, nil
	}
	r.mu.Unlock()

	segments := splitPath(path)
	if len(segments) == 0 {
		return romFsFileInfo{}, fmt.Errorf("cntx: romfs: %w", ErrNotFound)
	}
	fileName := segments[len(segments)-1]
	dirOffset := uint32(romFsRootDirOffset)
	for _, seg := range segments[:len(segments)-1] {
		var err error
		dirOffset, err = r.findDirOffset(dirOffset, seg)
		if err != nil {
			return romFsFileInfo{}, err
		}
	}

	info, err := r.findFileInfo(dirOffset, fileName)
	if err != nil {
		return romFsFileInfo{}, err
	}

	r.mu.Lock()
	r.fileCache[key] = fileCacheEntry{path: path, info: info}
	r.mu.Unlock()
	return info, nil
}

func (r *RomFs) findDir(path string) (uint32, error) {
	key := pathHash(path)
	r.mu.Lock()
	if cached, ok := r.dirCache[key]; ok && cached.path == path {
		r.mu.Unlock()
		return cached.offset, nil
	}
	r.mu.Unlock()

	segments := splitPath(path)
	dirOffset := uint32(romFsRootDirOffset)
	for _, seg := range segments {
		var err error
		dirOffset, err = r.findDirOffset(dirOffset, seg)
		if err != nil {
			return 0, err
		}
	}

	r.mu.Lock()
	r.dirCache[key] = dirCacheEntry{path: path, offset: dirOffset}
	r.mu.Unlock()
	return dirOffset, nil
}

// ExistsFile reports whether path names a file. Any lookup failure, not
// only ErrNotFound but also I/O and format errors, is treated as false
// here, matching the predicate contract in spec.md §4.6.
func (r *RomFs) ExistsFile(path string) bool {
	_, err := r.findFile(path)
	return err == nil
}

// ExistsDir reports whether path names a directory.
func (r *RomFs) ExistsDir(path string) bool {
	_, err := r.findDir(path)
	return err == nil
}

// FileSize returns the size of the file at path, or ErrNotFound.
func (r *RomFs) FileSize(path string) (uint64, error) {
	info, err := r.findFile(path)
	if err != nil {
		return 0, err
	}
	return info.DataSize, nil
}

// ReadFile reads len(buf) bytes of the file at path starting at offset.
// Fails with ErrNotFound if path doesn't name a file, ErrUnexpectedEOF if
// offset+len(buf) exceeds the file's size.
func (r *RomFs) ReadFile(path string, offset uint64, buf []byte) (int, error) {
	info, err := r.findFile(path)
	if err != nil {
		return 0, err
	}
	if offset+uint64(len(buf)) > info.DataSize {
		return 0, fmt.Errorf("cntx: romfs: %w", ErrUnexpectedEOF)
	}

	readOffset := int64(r.header.FileDataOffset) + int64(info.DataOffset) + int64(offset)
	if _, err := r.reader.Seek(readOffset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("cntx: romfs: %w", err)
	}
	n, err := r.reader.Read(buf)
	if err != nil {
		return n, fmt.Errorf("cntx: romfs: %w", err)
	}
	return n, nil
}

// DirIterator walks the children of one directory, exposed as two
// independent sub-cursors (directories, files) per spec.md §4.6.
type DirIterator struct {
	dirs  *DirCursor
	files *FileCursor
}

// Dirs returns the directory-name sub-cursor.
func (it *DirIterator) Dirs() *DirCursor { return it.dirs }

// Files returns the (name, size) sub-cursor.
func (it *DirIterator) Files() *FileCursor { return it.files }

type DirCursor struct {
	romfs   *RomFs
	entries []uint32
	pos     int
}

// Count returns the number of child directories.
func (c *DirCursor) Count() int { return len(c.entries) }

// Next returns the name of the next child directory, or ErrNotFound once
// exhausted.
func (c *DirCursor) Next() (string, error) {
	if c.pos >= len(c.entries) {
		return "", fmt.Errorf("cntx: romfs: %w", ErrNotFound)
	}
	info, err := c.romfs.readDirInfo(c.entries[c.pos])
	if err != nil {
		return "", err
	}
	c.pos++
	return info.Name, nil
}

// Rewind resets the cursor to the first child directory.
func (c *DirCursor) Rewind() { c.pos = 0 }

type FileCursor struct {
	romfs   *RomFs
	entries []uint32
	pos     int
}

// Count returns the number of child files.
func (c *FileCursor) Count() int { return len(c.entries) }

// Next returns the (name, size) of the next child file, or ErrNotFound
// once exhausted.
func (c *FileCursor) Next() (string, uint64, error) {
	if c.pos >= len(c.entries) {
		return "", 0, fmt.Errorf("cntx: romfs: %w", ErrNotFound)
	}
	info, err := c.romfs.readFileInfo(c.entries[c.pos])
	if err != nil {
		return "", 0, err
	}
	c.pos++
	return info.Name, info.DataSize, nil
}

// Rewind resets the cursor to the first child file.
func (c *FileCursor) Rewind() { c.pos = 0 }

// OpenDirIterator returns an iterator over the immediate children of the
// directory at path (empty path means root).
func (r *RomFs) OpenDirIterator(path string) (*DirIterator, error) {
	dirOffset, err := r.findDir(path)
	if err != nil {
		return nil, err
	}
	dirInfo, err := r.readDirInfo(dirOffset)
	if err != nil {
		return nil, err
	}

	var dirOffsets []uint32
	for cur := dirInfo.FirstChildDirOffset; cur != romFsInvalidOffset; {
		child, err := r.readDirInfo(cur)
		if err != nil {
			return nil, err
		}
		dirOffsets = append(dirOffsets, cur)
		cur = child.SiblingDirOffset
	}

	var fileOffsets []uint32
	for cur := dirInfo.FirstChildFileOffset; cur != romFsInvalidOffset; {
		child, err := r.readFileInfo(cur)
		if err != nil {
			return nil, err
		}
		fileOffsets = append(fileOffsets, cur)
		cur = child.SiblingFileOffset
	}

	return &DirIterator{
		dirs:  &DirCursor{romfs: r, entries: dirOffsets},
		files: &FileCursor{romfs: r, entries: fileOffsets},
	}, nil
}
