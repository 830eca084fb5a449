package cntx

import (
	"io"
	"io/fs"
	"path"
	"time"
)

// FS returns an io/fs.FS view over the partition, so callers can use
// fs.WalkDir, fs.ReadFile, and the rest of the standard library's
// filesystem tooling against a PFS0. The partition is flat, so every
// entry appears directly under the root.
//
// Grounded on github.com/elliotnunn/BeHierarchic's fskeleton package,
// which adapts an archive's file table to io/fs.FS the same way.
func (p *PFS0) FS() fs.FS { return &pfs0FS{p: p} }

type pfs0FS struct{ p *PFS0 }

func (f *pfs0FS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	if name == "." {
		return &pfs0DirFile{fsys: f}, nil
	}
	for i, n := range f.p.ListFiles() {
		if n == name {
			size, _ := f.p.FileSize(i)
			return &pfs0File{p: f.p, index: i, size: size}, nil
		}
	}
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

type pfs0FileInfoEntry struct {
	name string
	size int64
}

func (e pfs0FileInfoEntry) Name() string               { return e.name }
func (e pfs0FileInfoEntry) Size() int64                { return e.size }
func (e pfs0FileInfoEntry) Mode() fs.FileMode          { return 0o444 }
func (e pfs0FileInfoEntry) ModTime() time.Time          { return time.Time{} }
func (e pfs0FileInfoEntry) IsDir() bool                { return false }
func (e pfs0FileInfoEntry) Sys() any                    { return nil }
func (e pfs0FileInfoEntry) Type() fs.FileMode          { return 0 }
func (e pfs0FileInfoEntry) Info() (fs.FileInfo, error) { return e, nil }

type pfs0File struct {
	p      *PFS0
	index  int
	size   uint64
	offset uint64
}

func (f *pfs0File) Stat() (fs.FileInfo, error) {
	name := f.p.ListFiles()[f.index]
	return pfs0FileInfoEntry{name: name, size: int64(f.size)}, nil
}

func (f *pfs0File) Read(buf []byte) (int, error) {
	if f.offset >= f.size {
		return 0, io.EOF
	}
	want := uint64(len(buf))
	if f.offset+want > f.size {
		want = f.size - f.offset
	}
	n, err := f.p.ReadFile(f.index, f.offset, buf[:want])
	f.offset += uint64(n)
	return n, err
}

func (f *pfs0File) Close() error { return nil }

type pfs0DirFile struct {
	fsys *pfs0FS
	pos  int
}

func (d *pfs0DirFile) Stat() (fs.FileInfo, error) {
	return romFsFileInfoEntry{name: ".", isDir: true}, nil
}
func (d *pfs0DirFile) Read([]byte) (int, error) { return 0, &fs.PathError{Op: "read", Path: ".", Err: fs.ErrInvalid} }
func (d *pfs0DirFile) Close() error              { return nil }

func (d *pfs0DirFile) ReadDir(n int) ([]fs.DirEntry, error) {
	names := d.fsys.p.ListFiles()
	var out []fs.DirEntry
	for ; d.pos < len(names) && (n <= 0 || len(out) < n); d.pos++ {
		size, _ := d.fsys.p.FileSize(d.pos)
		out = append(out, pfs0FileInfoEntry{name: names[d.pos], size: int64(size)})
	}
	if n > 0 && len(out) == 0 {
		return nil, io.EOF
	}
	return out, nil
}

// FS returns an io/fs.FS view over the RomFS tree, so callers can use
// fs.WalkDir, fs.ReadFile, and fs.Glob against a RomFs.
func (r *RomFs) FS() fs.FS { return &romFsFS{r: r} }

type romFsFS struct{ r *RomFs }

func (f *romFsFS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	clean := name
	if clean == "." {
		clean = ""
	}
	if f.r.ExistsDir(clean) {
		return &romFsDirFile{fsys: f, path: clean}, nil
	}
	if f.r.ExistsFile(clean) {
		size, err := f.r.FileSize(clean)
		if err != nil {
			return nil, &fs.PathError{Op: "open", Path: name, Err: err}
		}
		return &romFsFile{r: f.r, path: clean, size: size}, nil
	}
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

type romFsFileInfoEntry struct {
	name  string
	size  int64
	isDir bool
}

func (e romFsFileInfoEntry) Name() string      { return e.name }
func (e romFsFileInfoEntry) Size() int64       { return e.size }
func (e romFsFileInfoEntry) Mode() fs.FileMode {
	if e.isDir {
		return fs.ModeDir | 0o555
	}
	return 0o444
}
func (e romFsFileInfoEntry) ModTime() time.Time { return time.Time{} }
func (e romFsFileInfoEntry) IsDir() bool        { return e.isDir }
func (e romFsFileInfoEntry) Sys() any           { return nil }
func (e romFsFileInfoEntry) Type() fs.FileMode  { return e.Mode().Type() }
func (e romFsFileInfoEntry) Info() (fs.FileInfo, error) { return e, nil }

type romFsFile struct {
	r      *RomFs
	path   string
	size   uint64
	offset uint64
}

func (f *romFsFile) Stat() (fs.FileInfo, error) {
	return romFsFileInfoEntry{name: path.Base(f.path), size: int64(f.size)}, nil
}

func (f *romFsFile) Read(buf []byte) (int, error) {
	if f.offset >= f.size {
		return 0, io.EOF
	}
	want := uint64(len(buf))
	if f.offset+want > f.size {
		want = f.size - f.offset
	}
	n, err := f.r.ReadFile(f.path, f.offset, buf[:want])
	f.offset += uint64(n)
	return n, err
}

func (f *romFsFile) Close() error { return nil }

type romFsDirFile struct {
	fsys    *romFsFS
	path    string
	entries []fs.DirEntry
	loaded  bool
	pos     int
}

func (d *romFsDirFile) Stat() (fs.FileInfo, error) {
	return romFsFileInfoEntry{name: path.Base(d.path), isDir: true}, nil
}
func (d *romFsDirFile) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.path, Err: fs.ErrInvalid}
}
func (d *romFsDirFile) Close() error { return nil }

func (d *romFsDirFile) ReadDir(n int) ([]fs.DirEntry, error) {
	if !d.loaded {
		it, err := d.fsys.r.OpenDirIterator(d.path)
		if err != nil {
			return nil, err
		}
		dirs := it.Dirs()
		for i := 0; i < dirs.Count(); i++ {
			name, err := dirs.Next()
			if err != nil {
				break
			}
			d.entries = append(d.entries, romFsFileInfoEntry{name: name, isDir: true})
		}
		files := it.Files()
		for i := 0; i < files.Count(); i++ {
			name, size, err := files.Next()
			if err != nil {
				break
			}
			d.entries = append(d.entries, romFsFileInfoEntry{name: name, size: int64(size)})
		}
		d.loaded = true
	}

	var out []fs.DirEntry
	for ; d.pos < len(d.entries) && (n <= 0 || len(out) < n); d.pos++ {
		out = append(out, d.entries[d.pos])
	}
	if n > 0 && len(out) == 0 {
		return nil, io.EOF
	}
	return out, nil
}
