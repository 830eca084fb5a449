package cntx

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/XorTroll/cntx/internal/blockcache"
)

const aesBlockSize = 0x10

// defaultBlockCacheBlocks bounds how many decrypted 16-byte AES blocks
// each Aes128CtrReader's shared cache retains. RomFS hash-chain walks
// and PFS0 string-heap scans both revisit nearby offsets, so a modest
// cache pays for itself without holding onto much memory.
const defaultBlockCacheBlocks = 4096

// Aes128CtrReader is a random-access AES-128-CTR decrypting wrapper over
// a shared ReadSeek. It implements ReadSeek itself, so filesystem readers
// (PFS0, RomFs) can sit on top of it exactly as they would on any other
// seekable source.
//
// Per spec.md §4.2: logical position is counted from baseOffset; a read
// of N bytes at logical offset L reads the smallest run of 16-byte AES
// blocks, aligned relative to baseOffset, covering [L, L+N), decrypts
// them independently by
// absolute block index, and copies out the requested slice. Every block
// decrypts independently, so random access is O(1) in the read size
// rather than the offset.
type Aes128CtrReader struct {
	base       *Shared
	baseOffset int64
	offset     int64 // logical position, counted from baseOffset
	ctr        uint64
	block      cipher.Block
	cache      *blockcache.Cache
	cacheTag   uint64 // identifies this section's blocks in a shared cache
}

// NewAes128CtrReader constructs a decrypting reader over base, starting
// at baseOffset, with the section's ctr high-64-bits and 16-byte CTR
// key. Each reader gets its own cache tag from nextCacheTag, so cached
// blocks from different readers never collide.
func NewAes128CtrReader(base *Shared, baseOffset int64, ctr uint64, key [aesBlockSize]byte) (*Aes128CtrReader, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("cntx: Aes128CtrReader: %w", err)
	}
	return &Aes128CtrReader{
		base:       base.share(),
		baseOffset: baseOffset,
		ctr:        ctr,
		block:      block,
		cache:      sharedBlockCache(),
		cacheTag:   nextCacheTag(),
	}, nil
}

// nextCacheTag hands out a process-unique identity per constructed
// reader, so the shared block cache can never confuse blocks belonging
// to two different (base reader, base offset, ctr) combinations — unlike
// deriving a tag from baseOffset/ctr by bit-packing, a monotonic counter
// can't collide.
var cacheTagCounter uint64

func nextCacheTag() uint64 {
	return atomic.AddUint64(&cacheTagCounter, 1)
}

// sharedBlockCache is process-wide: decrypted blocks are immutable given
// (key, ctr, absolute offset), and many Aes128CtrReaders over the same
// NCA (e.g. one per PFS0 file caller keeps open) benefit from sharing it.
var processBlockCache = blockcache.New(defaultBlockCacheBlocks)

func sharedBlockCache() *blockcache.Cache { return processBlockCache }

func alignDown(v, align int64) int64 { return v &^ (align - 1) }
func alignUp(v, align int64) int64   { return (v + align - 1) &^ (align - 1) }

// readTolerant reads into buf like io.ReadFull, but treats running out of
// underlying bytes as success rather than io.ErrUnexpectedEOF: whatever of
// buf wasn't filled stays zeroed. This mirrors
// original_source/src/util.rs's Aes128CtrReader::read, which reads into a
// zero-filled buffer and lets the caller's own bounds check (PFS0/RomFS's
// offset+len vs entry size) decide what's meaningful, rather than failing
// a read whose aligned-up block run pokes past the end of the underlying
// source. That happens routinely: a section's last AES block is padding
// out a source length that isn't itself 16-byte aligned.
func readTolerant(r io.Reader, buf []byte) error {
	for n := 0; n < len(buf); {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if m == 0 {
			return nil
		}
	}
	return nil
}

// decryptBlock decrypts the single 16-byte AES block whose absolute byte
// offset (from the start of the base reader) is blockOffset, consulting
// and populating the shared cache.
func (r *Aes128CtrReader) decryptBlock(blockOffset int64) ([]byte, error) {
	key := blockcache.Key{Section: r.cacheTag, Offset: blockOffset}
	if cached, ok := r.cache.Get(key); ok {
		return cached, nil
	}

	raw := make([]byte, aesBlockSize)
	if _, err := r.base.Seek(blockOffset, io.SeekStart); err != nil {
		return nil, err
	}
	if err := readTolerant(r.base, raw); err != nil {
		return nil, err
	}

	iv := nintendoTweak(uint64(blockOffset)>>4, r.ctr)
	stream := cipher.NewCTR(r.block, iv[:])
	stream.XORKeyStream(raw, raw)

	r.cache.Add(key, raw)
	return raw, nil
}

// Read implements ReadSeek.Read. It always fills p fully and returns
// len(p): bytes past the end of the underlying source are decrypted from
// zero-filled ciphertext rather than reported as a short read.
func (r *Aes128CtrReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	alignedBase := alignDown(r.offset, aesBlockSize)
	diff := r.offset - alignedBase
	rawSize := alignUp(int64(len(p))+diff, aesBlockSize)

	out := make([]byte, 0, rawSize)
	for off := alignedBase; off < alignedBase+rawSize; off += aesBlockSize {
		blk, err := r.decryptBlock(r.baseOffset + off)
		if err != nil {
			return 0, err
		}
		out = append(out, blk...)
	}

	n := copy(p, out[diff:diff+int64(len(p))])
	r.offset += int64(n)
	return n, nil
}

// ReadFull implements ReadSeek.ReadFull.
func (r *Aes128CtrReader) ReadFull(p []byte) error {
	return readFull(r, p)
}

// Seek implements ReadSeek.Seek. Positions are relative to baseOffset.
func (r *Aes128CtrReader) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		r.offset = offset
	case io.SeekCurrent:
		r.offset += offset
	case io.SeekEnd:
		// The reader has no independent notion of its section's length
		// (it sits over a shared base reader with no upper bound of its
		// own), so, per original_source/src/util.rs's Aes128CtrReader
		// Seek impl, SeekEnd is resolved the same way SeekCurrent is:
		// relative to the current logical offset.
		r.offset += offset
	default:
		return 0, fmt.Errorf("cntx: Aes128CtrReader.Seek: invalid whence %d", whence)
	}
	if r.offset < 0 {
		return 0, fmt.Errorf("cntx: Aes128CtrReader.Seek: negative position")
	}
	return r.offset, nil
}

// Pos implements ReadSeek.Pos.
func (r *Aes128CtrReader) Pos() (int64, error) {
	return r.offset, nil
}

// nintendoTweak builds the 128-bit big-endian IV used by the per-section
// AES-CTR stream: the upper 64 bits are the section's ctr high-half, the
// lower 64 bits are the absolute block index (the byte offset from the
// start of the base reader, divided by the AES block size). See
// spec.md §4.2 step 3.
func nintendoTweak(blockIndex, ctr uint64) [aesBlockSize]byte {
	var iv [aesBlockSize]byte
	putUint64BE(iv[0:8], ctr)
	putUint64BE(iv[8:16], blockIndex)
	return iv
}

func putUint64BE(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
