// Package blockcache memoizes decrypted fixed-size byte blocks so that
// overlapping or re-visiting random-access reads don't pay for the same
// AES decryption twice.
//
// Grounded on github.com/elliotnunn/BeHierarchic's internal/spinner
// package, which caches decompressed archive blocks behind a
// github.com/dgryski/go-tinylfu cache for the same reason (an expensive
// per-block transform, here AES-CTR decryption rather than zlib
// inflate). The key hashing follows spinner's bhasher/rhasher: a
// maphash.Comparable over the struct key.
package blockcache

import (
	"hash/maphash"
	"sync"

	tinylfu "github.com/dgryski/go-tinylfu"
)

// Key identifies one decrypted block: which reader produced it (an
// arbitrary caller-chosen identity; Aes128CtrReader uses a per-reader
// counter) and the block's byte offset within the underlying source.
type Key struct {
	Section uint64
	Offset  int64
}

var seed = maphash.MakeSeed()

func hashKey(k Key) uint64 { return maphash.Comparable(seed, k) }

// Cache is a bounded cache of decrypted blocks, safe for concurrent use.
type Cache struct {
	mu sync.Mutex
	t  *tinylfu.T[Key, []byte]
}

// New creates a cache sized to hold approximately n blocks.
func New(n int) *Cache {
	if n <= 0 {
		n = 1
	}
	return &Cache{t: tinylfu.New[Key, []byte](n, n*10, hashKey)}
}

// Get returns the cached plaintext block for key, if present.
func (c *Cache) Get(key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t.Get(key)
}

// Add stores a decrypted block under key. The slice is retained by the
// cache; callers must not mutate it afterwards.
func (c *Cache) Add(key Key, block []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t.Add(key, block)
}
