package cntx

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// sectorSize is the XTS sector size used for NCA header and fs-header
// decryption (spec.md §4.7): 0x200 bytes.
const sectorSize = 0x200

// decryptXTSArea decrypts data in place using AES-XTS with the Nintendo
// tweak: a per-sector tweak equal to the sector index encoded as 16
// bytes big-endian, rather than the little-endian 64-bit sector tweak
// golang.org/x/crypto/xts hardcodes. len(data) must be a multiple of
// sectorSize. startSector is the absolute sector index of data[0]; each
// successive sectorSize-byte sector's tweak increments it.
//
// Grounded on original_source/src/nca.rs, which builds an
// xts_mode::Xts128 with a pluggable get_nintendo_tweak closure — no
// library in the example pack or wider Go ecosystem parameterizes the
// XTS tweak function this way, so it is implemented directly against
// crypto/aes block primitives. See DESIGN.md for the full justification.
func decryptXTSArea(data []byte, key1, key2 [aesBlockSize]byte, startSector uint64) error {
	if len(data)%sectorSize != 0 {
		return fmt.Errorf("cntx: xts: data length %d is not a multiple of sector size", len(data))
	}
	dataCipher, err := aes.NewCipher(key1[:])
	if err != nil {
		return fmt.Errorf("cntx: xts: %w", err)
	}
	tweakCipher, err := aes.NewCipher(key2[:])
	if err != nil {
		return fmt.Errorf("cntx: xts: %w", err)
	}

	for sector := 0; sector*sectorSize < len(data); sector++ {
		sectorData := data[sector*sectorSize : (sector+1)*sectorSize]
		tweak := nintendoXTSTweak(startSector + uint64(sector))
		var encTweak [aesBlockSize]byte
		tweakCipher.Encrypt(encTweak[:], tweak[:])
		decryptXTSSector(dataCipher, sectorData, encTweak)
	}
	return nil
}

// nintendoXTSTweak encodes sectorIndex as 16 bytes big-endian (the
// "Nintendo tweak"; spec.md §4.7), then the tweak key encrypts it to
// produce the actual per-sector XTS tweak block.
func nintendoXTSTweak(sectorIndex uint64) [aesBlockSize]byte {
	var t [aesBlockSize]byte
	// sectorIndex never exceeds 64 bits in practice (NCA sections are
	// bounded well under 2^64 sectors), so the upper 8 bytes of the
	// 128-bit big-endian sector index are always zero.
	putUint64BE(t[8:16], sectorIndex)
	return t
}

// decryptXTSSector runs standard XTS block decryption over one sector
// given its already-encrypted tweak block, updating the tweak by
// multiplication by alpha=2 in GF(2^128) between AES blocks as XTS
// requires.
func decryptXTSSector(dataCipher cipher.Block, sector []byte, tweak [aesBlockSize]byte) {
	for off := 0; off < len(sector); off += aesBlockSize {
		block := sector[off : off+aesBlockSize]
		xorBlock(block, tweak[:])
		dataCipher.Decrypt(block, block)
		xorBlock(block, tweak[:])
		tweak = gfMulAlpha(tweak)
	}
}

func xorBlock(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}

// gfMulAlpha multiplies a 128-bit little-endian-ordered tweak block by
// alpha=2 in GF(2^128) per the XTS standard (IEEE 1619), treating the
// block as a little-endian polynomial with reduction modulus x^128 +
// x^7 + x^2 + x + 1.
func gfMulAlpha(t [aesBlockSize]byte) [aesBlockSize]byte {
	var out [aesBlockSize]byte
	var carry byte
	for i := 0; i < aesBlockSize; i++ {
		cur := t[i]
		out[i] = (cur << 1) | carry
		carry = cur >> 7
	}
	if carry != 0 {
		out[0] ^= 0x87
	}
	return out
}

// decryptKeyAreaECB decrypts the NCA's 0x40-byte encrypted key area with
// plain AES-128-ECB (no padding), a single-block-at-a-time operation
// rather than a cipher.BlockMode: Go's standard library deliberately has
// no ECB mode package (ECB is unsafe as a general-purpose mode), and
// here there is exactly one ciphertext size (4 blocks) known up front,
// so looping cipher.Block.Decrypt directly is the correct level of
// abstraction rather than a gap to fill with a third-party mode package.
func decryptKeyAreaECB(data []byte, key [kaekKeySize]byte) error {
	if len(data)%aesBlockSize != 0 {
		return fmt.Errorf("cntx: key area: length %d is not a multiple of the AES block size", len(data))
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return fmt.Errorf("cntx: key area: %w", err)
	}
	for off := 0; off < len(data); off += aesBlockSize {
		block.Decrypt(data[off:off+aesBlockSize], data[off:off+aesBlockSize])
	}
	return nil
}
