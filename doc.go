// Package cntx reads Nintendo Switch content archives (NCA) and the
// PFS0/RomFS filesystems embedded inside them.
//
// It is a read-only library: given a keyset and a seekable source it
// decrypts headers, derives section keys, and exposes a stream-oriented
// view that lets callers enumerate inner filesystems, list entries, and
// read file contents on demand. No signature or hash verification is
// performed, no NCA0/NCA2 legacy containers are accepted, and only plain
// AesCtr sections can be opened; see the package's individual doc
// comments for the exact surface.
package cntx
