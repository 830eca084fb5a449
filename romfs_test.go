package cntx

import (
	"bytes"
	"encoding/binary"
	"testing"
)

type romfsDirSpec struct {
	name   string
	parent int // index into the dirs slice; dirs[0] is always the root
}

type romfsFileSpec struct {
	name   string
	parent int // index into the dirs slice
	data   []byte
}

const romfsDirBuckets = 4
const romfsFileBuckets = 4

// buildTestRomFS assembles a valid RomFS image from a small directory
// tree description, replicating the on-disk layout in spec.md §3/§4.6:
// hash buckets chaining to sibling-linked DirectoryInfo/FileInfo records.
func buildTestRomFS(t *testing.T, dirs []romfsDirSpec, files []romfsFileSpec) []byte {
	t.Helper()

	dirOffsets := make([]uint32, len(dirs))
	var dirTable bytes.Buffer
	for i, d := range dirs {
		dirOffsets[i] = uint32(dirTable.Len())
		dirTable.Write(make([]byte, romFsDirInfoFixedSize))
		dirTable.WriteString(d.name)
	}

	fileOffsets := make([]uint32, len(files))
	var fileTable bytes.Buffer
	for i, f := range files {
		fileOffsets[i] = uint32(fileTable.Len())
		fileTable.Write(make([]byte, romFsFileInfoFixedSize))
		fileTable.WriteString(f.name)
	}

	firstChildDir := make([]uint32, len(dirs))
	firstChildFile := make([]uint32, len(dirs))
	for i := range dirs {
		firstChildDir[i] = romFsInvalidOffset
		firstChildFile[i] = romFsInvalidOffset
	}
	siblingDir := make([]uint32, len(dirs))
	siblingFile := make([]uint32, len(files))
	for i := range siblingDir {
		siblingDir[i] = romFsInvalidOffset
	}
	for i := range siblingFile {
		siblingFile[i] = romFsInvalidOffset
	}

	lastChildDir := make(map[int]int)
	for i, d := range dirs {
		if i == 0 {
			continue
		}
		if prev, ok := lastChildDir[d.parent]; ok {
			siblingDir[prev] = dirOffsets[i]
		} else {
			firstChildDir[d.parent] = dirOffsets[i]
		}
		lastChildDir[d.parent] = i
	}

	lastChildFile := make(map[int]int)
	for i, f := range files {
		if prev, ok := lastChildFile[f.parent]; ok {
			siblingFile[prev] = fileOffsets[i]
		} else {
			firstChildFile[f.parent] = fileOffsets[i]
		}
		lastChildFile[f.parent] = i
	}

	dirHashBucket := make([]uint32, romfsDirBuckets)
	for i := range dirHashBucket {
		dirHashBucket[i] = romFsInvalidOffset
	}
	nextDirHash := make([]uint32, len(dirs))
	for i := range nextDirHash {
		nextDirHash[i] = romFsInvalidOffset
	}
	for i, d := range dirs {
		if i == 0 {
			continue
		}
		h := computeHash(dirOffsets[d.parent], d.name, romfsDirBuckets)
		nextDirHash[i] = dirHashBucket[h]
		dirHashBucket[h] = dirOffsets[i]
	}

	fileHashBucket := make([]uint32, romfsFileBuckets)
	for i := range fileHashBucket {
		fileHashBucket[i] = romFsInvalidOffset
	}
	nextFileHash := make([]uint32, len(files))
	for i := range nextFileHash {
		nextFileHash[i] = romFsInvalidOffset
	}
	for i, f := range files {
		h := computeHash(dirOffsets[f.parent], f.name, romfsFileBuckets)
		nextFileHash[i] = fileHashBucket[h]
		fileHashBucket[h] = fileOffsets[i]
	}

	dirTableBytes := dirTable.Bytes()
	for i, d := range dirs {
		off := dirOffsets[i]
		parentOffset := uint32(0)
		if i != 0 {
			parentOffset = dirOffsets[d.parent]
		}
		binary.LittleEndian.PutUint32(dirTableBytes[off+0x00:], parentOffset)
		binary.LittleEndian.PutUint32(dirTableBytes[off+0x04:], siblingDir[i])
		binary.LittleEndian.PutUint32(dirTableBytes[off+0x08:], firstChildDir[i])
		binary.LittleEndian.PutUint32(dirTableBytes[off+0x0C:], firstChildFile[i])
		binary.LittleEndian.PutUint32(dirTableBytes[off+0x10:], nextDirHash[i])
		binary.LittleEndian.PutUint32(dirTableBytes[off+0x14:], uint32(len(d.name)))
	}

	var fileDataBlob bytes.Buffer
	fileDataOffsets := make([]uint64, len(files))
	for i, f := range files {
		fileDataOffsets[i] = uint64(fileDataBlob.Len())
		fileDataBlob.Write(f.data)
	}

	fileTableBytes := fileTable.Bytes()
	for i, f := range files {
		off := fileOffsets[i]
		binary.LittleEndian.PutUint32(fileTableBytes[off+0x00:], dirOffsets[f.parent])
		binary.LittleEndian.PutUint32(fileTableBytes[off+0x04:], siblingFile[i])
		binary.LittleEndian.PutUint64(fileTableBytes[off+0x08:], fileDataOffsets[i])
		binary.LittleEndian.PutUint64(fileTableBytes[off+0x10:], uint64(len(f.data)))
		binary.LittleEndian.PutUint32(fileTableBytes[off+0x18:], nextFileHash[i])
		binary.LittleEndian.PutUint32(fileTableBytes[off+0x1C:], uint32(len(f.name)))
	}

	var dirHashTable bytes.Buffer
	for _, b := range dirHashBucket {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], b)
		dirHashTable.Write(buf[:])
	}
	var fileHashTable bytes.Buffer
	for _, b := range fileHashBucket {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], b)
		fileHashTable.Write(buf[:])
	}

	dirHashTableOffset := uint64(romFsHeaderSize)

	var out bytes.Buffer
	header := make([]byte, romFsHeaderSize)

	dirTableOffsetActual := dirHashTableOffset + uint64(dirHashTable.Len())
	fileHashTableOffsetActual := dirTableOffsetActual + uint64(len(dirTableBytes))
	fileTableOffsetActual := fileHashTableOffsetActual + uint64(fileHashTable.Len())
	fileDataOffsetActual := fileTableOffsetActual + uint64(len(fileTableBytes))

	binary.LittleEndian.PutUint64(header[0x08:0x10], dirHashTableOffset)
	binary.LittleEndian.PutUint64(header[0x10:0x18], uint64(dirHashTable.Len()))
	binary.LittleEndian.PutUint64(header[0x18:0x20], dirTableOffsetActual)
	binary.LittleEndian.PutUint64(header[0x20:0x28], uint64(len(dirTableBytes)))
	binary.LittleEndian.PutUint64(header[0x28:0x30], fileHashTableOffsetActual)
	binary.LittleEndian.PutUint64(header[0x30:0x38], uint64(fileHashTable.Len()))
	binary.LittleEndian.PutUint64(header[0x38:0x40], fileTableOffsetActual)
	binary.LittleEndian.PutUint64(header[0x40:0x48], uint64(len(fileTableBytes)))
	binary.LittleEndian.PutUint64(header[0x48:0x50], fileDataOffsetActual)

	out.Write(header)
	out.Write(dirHashTable.Bytes())
	out.Write(dirTableBytes)
	out.Write(fileHashTable.Bytes())
	out.Write(fileTableBytes)
	out.Write(fileDataBlob.Bytes())

	return out.Bytes()
}

// TestRomFSSingleZeroByteFile covers spec.md §8 boundary scenario E.
func TestRomFSSingleZeroByteFile(t *testing.T) {
	raw := buildTestRomFS(t,
		[]romfsDirSpec{{name: "", parent: 0}},
		[]romfsFileSpec{{name: "AtLeastOneFile", parent: 0, data: nil}},
	)

	r, err := newRomFs(NewDataReader(raw))
	if err != nil {
		t.Fatalf("newRomFs: %v", err)
	}

	if !r.ExistsFile("AtLeastOneFile") {
		t.Fatalf("expected AtLeastOneFile to exist")
	}
	size, err := r.FileSize("AtLeastOneFile")
	if err != nil || size != 0 {
		t.Fatalf("FileSize = %d, %v", size, err)
	}
	n, err := r.ReadFile("AtLeastOneFile", 0, nil)
	if err != nil || n != 0 {
		t.Fatalf("ReadFile = %d, %v", n, err)
	}
}

// TestRomFSSiblingDirectoriesDoNotCrossContaminate covers spec.md §8
// boundary scenario F.
func TestRomFSSiblingDirectoriesDoNotCrossContaminate(t *testing.T) {
	raw := buildTestRomFS(t,
		[]romfsDirSpec{
			{name: "", parent: 0},
			{name: "qwe", parent: 0},
			{name: "qwe2", parent: 0},
		},
		[]romfsFileSpec{
			{name: "b.txt", parent: 1, data: []byte("bbb")},
			{name: "a.txt", parent: 2, data: []byte("aaaa")},
		},
	)

	r, err := newRomFs(NewDataReader(raw))
	if err != nil {
		t.Fatalf("newRomFs: %v", err)
	}

	if r.ExistsFile("qwe/a.txt") {
		t.Fatalf("qwe/a.txt should not exist")
	}
	if r.ExistsFile("qwe2/b.txt") {
		t.Fatalf("qwe2/b.txt should not exist")
	}
	if !r.ExistsFile("qwe/b.txt") {
		t.Fatalf("qwe/b.txt should exist")
	}
	if !r.ExistsFile("qwe2/a.txt") {
		t.Fatalf("qwe2/a.txt should exist")
	}

	buf := make([]byte, 3)
	if _, err := r.ReadFile("qwe/b.txt", 0, buf); err != nil || !bytes.Equal(buf, []byte("bbb")) {
		t.Fatalf("qwe/b.txt content mismatch: %q, %v", buf, err)
	}
	buf2 := make([]byte, 4)
	if _, err := r.ReadFile("qwe2/a.txt", 0, buf2); err != nil || !bytes.Equal(buf2, []byte("aaaa")) {
		t.Fatalf("qwe2/a.txt content mismatch: %q, %v", buf2, err)
	}
}

// TestRomFSHashLookupMatchesTreeWalk covers spec.md §8 property 5.
func TestRomFSHashLookupMatchesTreeWalk(t *testing.T) {
	raw := buildTestRomFS(t,
		[]romfsDirSpec{
			{name: "", parent: 0},
			{name: "dir1", parent: 0},
		},
		[]romfsFileSpec{
			{name: "root.txt", parent: 0, data: []byte("r")},
			{name: "nested.txt", parent: 1, data: []byte("n1")},
		},
	)

	r, err := newRomFs(NewDataReader(raw))
	if err != nil {
		t.Fatalf("newRomFs: %v", err)
	}

	walked := map[string]uint64{}
	var walk func(dirPath string)
	walk = func(dirPath string) {
		it, err := r.OpenDirIterator(dirPath)
		if err != nil {
			t.Fatalf("OpenDirIterator(%q): %v", dirPath, err)
		}
		files := it.Files()
		for i := 0; i < files.Count(); i++ {
			name, size, err := files.Next()
			if err != nil {
				t.Fatalf("Files().Next(): %v", err)
			}
			walked[joinRomFsPath(dirPath, name)] = size
		}
		dirs := it.Dirs()
		for i := 0; i < dirs.Count(); i++ {
			name, err := dirs.Next()
			if err != nil {
				t.Fatalf("Dirs().Next(): %v", err)
			}
			walk(joinRomFsPath(dirPath, name))
		}
	}
	walk("")

	if len(walked) != 2 {
		t.Fatalf("expected 2 files walked, got %d: %v", len(walked), walked)
	}
	for path, walkedSize := range walked {
		lookupSize, err := r.FileSize(path)
		if err != nil {
			t.Fatalf("FileSize(%q): %v", path, err)
		}
		if lookupSize != walkedSize {
			t.Fatalf("%q: walked size %d != lookup size %d", path, walkedSize, lookupSize)
		}
	}
}

// TestRomFSExistsFileMatchesFileSize covers spec.md §8 property 4.
func TestRomFSExistsFileMatchesFileSize(t *testing.T) {
	raw := buildTestRomFS(t,
		[]romfsDirSpec{{name: "", parent: 0}},
		[]romfsFileSpec{{name: "present.txt", parent: 0, data: []byte("x")}},
	)
	r, err := newRomFs(NewDataReader(raw))
	if err != nil {
		t.Fatalf("newRomFs: %v", err)
	}

	if r.ExistsFile("present.txt") != true {
		t.Fatalf("present.txt should exist")
	}
	if _, err := r.FileSize("present.txt"); err != nil {
		t.Fatalf("FileSize(present.txt): %v", err)
	}

	if r.ExistsFile("absent.txt") {
		t.Fatalf("absent.txt should not exist")
	}
	if _, err := r.FileSize("absent.txt"); err == nil {
		t.Fatalf("expected FileSize(absent.txt) to fail")
	}
}
