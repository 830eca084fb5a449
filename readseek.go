package cntx

import (
	"fmt"
	"io"
)

// ReadSeek is a polymorphic seekable byte source: the minimal contract
// every layer of this package is built on. A raw file, an in-memory
// buffer (DataReader), a network range-reader, and every decrypting
// wrapper this package constructs (Aes128CtrReader) all satisfy it.
//
// Sources are meant to be shared: an NCA holds one handle onto the raw
// source, and every section reader opened from it holds another wrapper
// around that same handle. Callers of distinct wrappers over the same
// underlying source must not interleave reads without resynchronizing
// seeks first — see spec.md §5.
type ReadSeek interface {
	// Read reads up to len(p) bytes, like io.Reader.
	Read(p []byte) (n int, err error)

	// ReadFull reads exactly len(p) bytes, or returns
	// io.ErrUnexpectedEOF on a short read.
	ReadFull(p []byte) error

	// Seek repositions the stream, like io.Seeker.
	Seek(offset int64, whence int) (int64, error)

	// Pos reports the current absolute position.
	Pos() (int64, error)
}

// readFull is the shared ReadFull implementation for ReadSeek
// implementations built directly on an io.Reader.
func readFull(r io.Reader, p []byte) error {
	_, err := io.ReadFull(r, p)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// DataReader is a minimal in-memory ReadSeek, for tests and small
// buffers. Grounded on original_source/src/util.rs's DataReader.
type DataReader struct {
	data   []byte
	offset int64
}

// NewDataReader wraps data as a ReadSeek. The returned reader does not
// copy data.
func NewDataReader(data []byte) *DataReader {
	return &DataReader{data: data}
}

func (d *DataReader) Read(p []byte) (int, error) {
	if d.offset >= int64(len(d.data)) {
		return 0, io.EOF
	}
	n := copy(p, d.data[d.offset:])
	d.offset += int64(n)
	return n, nil
}

func (d *DataReader) ReadFull(p []byte) error {
	return readFull(d, p)
}

func (d *DataReader) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = d.offset
	case io.SeekEnd:
		base = int64(len(d.data))
	default:
		return 0, fmt.Errorf("cntx: DataReader.Seek: invalid whence %d", whence)
	}

	newOffset := base + offset
	if newOffset < 0 {
		return 0, fmt.Errorf("cntx: DataReader.Seek: negative position")
	}
	d.offset = newOffset
	return d.offset, nil
}

func (d *DataReader) Pos() (int64, error) {
	return d.offset, nil
}
