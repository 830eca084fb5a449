package cntx

import (
	"errors"
	"io"
)

// Sentinel errors, per spec.md §7. Compare with errors.Is; failures of
// these kinds are wrapped with fmt.Errorf("...: %w", err). Errors from
// the underlying source (including io.ErrUnexpectedEOF on a truncated
// read) are wrapped as they come rather than mapped onto a sentinel.
var (
	// ErrInvalidMagic is returned when a container's magic bytes do not
	// match what the format requires (NCA3, PFS0).
	ErrInvalidMagic = errors.New("cntx: invalid magic")

	// ErrInvalidIndex is returned for an out-of-range section or file index,
	// and for a retained fs header whose start offset was never non-zero.
	ErrInvalidIndex = errors.New("cntx: invalid index")

	// ErrNotFound is returned when a RomFS path does not resolve to a file
	// or directory.
	ErrNotFound = errors.New("cntx: not found")

	// ErrWrongType is returned when a section is opened as the wrong
	// filesystem kind (PFS0 requested on a RomFS section, or vice versa).
	ErrWrongType = errors.New("cntx: wrong filesystem type")

	// ErrUnsupported is returned for encryption types other than plain
	// AesCtr, for a section lacking the hash info its filesystem type
	// needs, and for RomFS names that are not valid UTF-8. A container
	// that isn't NCA3 fails with ErrInvalidMagic instead.
	ErrUnsupported = errors.New("cntx: unsupported")

	// ErrKeyNotFound is returned when the keyset lacks the key_area_key_*
	// an NCA requires at its key generation. A missing header_key is not
	// detected as such: the header then decrypts with an all-zero key and
	// fails the magic check with ErrInvalidMagic.
	ErrKeyNotFound = errors.New("cntx: key not found")

	// ErrParse is returned for keyset parse failures: a recognized key
	// whose value is not valid hex of the expected length.
	ErrParse = errors.New("cntx: parse error")
)

// ErrUnexpectedEOF is read past the end of a file within a section. It is
// io.ErrUnexpectedEOF itself rather than a new sentinel, so callers who
// already check for short reads against the stdlib error get this for
// free.
var ErrUnexpectedEOF = io.ErrUnexpectedEOF
