package cntx

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"io"
	"testing"
)

// encryptCtrFixture builds ciphertext for plaintext using the same
// block-at-a-time AES-CTR scheme Aes128CtrReader decrypts (spec.md
// §4.2), so the reader under test can be exercised against known bytes.
func encryptCtrFixture(t *testing.T, key [aesBlockSize]byte, ctr uint64, baseOffset int64, plaintext []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key[:])
	if err != nil {
		t.Fatalf("aes.NewCipher: %v", err)
	}
	out := make([]byte, len(plaintext))
	copy(out, plaintext)

	for off := int64(0); off < int64(len(out)); off += aesBlockSize {
		end := off + aesBlockSize
		if end > int64(len(out)) {
			end = int64(len(out))
		}
		blockIndex := uint64(baseOffset+off) >> 4
		iv := nintendoTweak(blockIndex, ctr)
		stream := cipher.NewCTR(block, iv[:])
		stream.XORKeyStream(out[off:end], out[off:end])
	}
	return out
}

func newTestCtrReader(t *testing.T, key [aesBlockSize]byte, ctr uint64, baseOffset int64, ciphertext []byte) *Aes128CtrReader {
	t.Helper()
	full := make([]byte, baseOffset+int64(len(ciphertext)))
	copy(full[baseOffset:], ciphertext)
	shared := NewShared(NewDataReader(full))
	r, err := NewAes128CtrReader(shared, baseOffset, ctr, key)
	if err != nil {
		t.Fatalf("NewAes128CtrReader: %v", err)
	}
	return r
}

func TestAes128CtrReaderDecryptsKnownPlaintext(t *testing.T) {
	var key [aesBlockSize]byte
	for i := range key {
		key[i] = byte(i * 7)
	}
	plaintext := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog! "), 4)
	const baseOffset = 0x130
	const ctr = 0xAABBCCDD11223344

	ciphertext := encryptCtrFixture(t, key, ctr, baseOffset, plaintext)
	r := newTestCtrReader(t, key, ctr, baseOffset, ciphertext)

	got := make([]byte, len(plaintext))
	if err := r.ReadFull(got); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("decrypted mismatch:\n got=%q\nwant=%q", got, plaintext)
	}
}

// TestAes128CtrReaderPositionIndependent covers spec.md §8 property 6:
// reading [L, L+N) in one call equals concatenating reads of any
// partition of that range.
func TestAes128CtrReaderPositionIndependent(t *testing.T) {
	var key [aesBlockSize]byte
	for i := range key {
		key[i] = byte(0xF0 ^ i)
	}
	plaintext := bytes.Repeat([]byte("0123456789abcdef"), 10)
	const baseOffset = 0x7
	const ctr = 42

	ciphertext := encryptCtrFixture(t, key, ctr, baseOffset, plaintext)

	whole := newTestCtrReader(t, key, ctr, baseOffset, ciphertext)
	wholeBuf := make([]byte, len(plaintext))
	if err := whole.ReadFull(wholeBuf); err != nil {
		t.Fatalf("ReadFull whole: %v", err)
	}

	splits := [][2]int{{0, 3}, {3, 11}, {14, len(plaintext) - 14}}
	split := newTestCtrReader(t, key, ctr, baseOffset, ciphertext)
	var splitBuf bytes.Buffer
	for _, s := range splits {
		buf := make([]byte, s[1])
		if err := split.ReadFull(buf); err != nil {
			t.Fatalf("ReadFull partition: %v", err)
		}
		splitBuf.Write(buf)
	}

	if !bytes.Equal(wholeBuf, splitBuf.Bytes()) {
		t.Fatalf("position-dependent decryption:\nwhole=%q\nsplit=%q", wholeBuf, splitBuf.Bytes())
	}
}

func TestAes128CtrReaderSeek(t *testing.T) {
	var key [aesBlockSize]byte
	plaintext := []byte("abcdefghijklmnopqrstuvwxyz012345")
	const baseOffset = 0x40
	const ctr = 9

	ciphertext := encryptCtrFixture(t, key, ctr, baseOffset, plaintext)
	r := newTestCtrReader(t, key, ctr, baseOffset, ciphertext)

	if _, err := r.Seek(10, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	got := make([]byte, 5)
	if err := r.ReadFull(got); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if !bytes.Equal(got, plaintext[10:15]) {
		t.Fatalf("got %q, want %q", got, plaintext[10:15])
	}
}

func TestAes128CtrReaderSeekEndIsRelativeToCurrent(t *testing.T) {
	var key [aesBlockSize]byte
	plaintext := []byte("abcdefghijklmnopqrstuvwxyz012345")
	const baseOffset = 0x40
	const ctr = 9

	ciphertext := encryptCtrFixture(t, key, ctr, baseOffset, plaintext)
	r := newTestCtrReader(t, key, ctr, baseOffset, ciphertext)

	if _, err := r.Seek(20, io.SeekStart); err != nil {
		t.Fatalf("Seek start: %v", err)
	}
	pos, err := r.Seek(-10, io.SeekEnd)
	if err != nil {
		t.Fatalf("Seek end: %v", err)
	}
	if pos != 10 {
		t.Fatalf("Seek end: got position %d, want 10", pos)
	}
	got := make([]byte, 5)
	if err := r.ReadFull(got); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if !bytes.Equal(got, plaintext[10:15]) {
		t.Fatalf("got %q, want %q", got, plaintext[10:15])
	}
}

// TestAes128CtrReaderReadPastNonAlignedSourceEnd is a regression test: the
// underlying source's length (baseOffset + len(ciphertext)) is not a
// multiple of the AES block size, so the last block's aligned-up read
// range pokes past the true end of the source. This must still succeed
// (spec.md §8 property 1) rather than fail with io.ErrUnexpectedEOF.
func TestAes128CtrReaderReadPastNonAlignedSourceEnd(t *testing.T) {
	var key [aesBlockSize]byte
	for i := range key {
		key[i] = byte(i * 5)
	}
	plaintext := bytes.Repeat([]byte("0123456789abcdef"), 10)[:157]
	const baseOffset = 0x7
	const ctr = 1

	ciphertext := encryptCtrFixture(t, key, ctr, baseOffset, plaintext)
	if (baseOffset+int64(len(ciphertext)))%aesBlockSize == 0 {
		t.Fatalf("fixture is accidentally block-aligned, adjust lengths")
	}

	r := newTestCtrReader(t, key, ctr, baseOffset, ciphertext)
	got := make([]byte, len(plaintext))
	if err := r.ReadFull(got); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("got %q, want %q", got, plaintext)
	}
}
