package facts

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type cachedDocument struct {
	hash string
	doc  *Document
}

// DocumentCache holds the last decoded document per resource. An entry is
// only served while the raw bytes it was decoded from hash the same, so a
// change written by another process is picked up on the next read.
//
// The zero value is not usable; create one with NewDocumentCache.
type DocumentCache struct {
	entries *gocache.Cache
}

// NewDocumentCache creates a cache. A ttl of zero keeps entries until they
// are replaced.
func NewDocumentCache(ttl time.Duration) *DocumentCache {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &DocumentCache{entries: gocache.New(ttl, 10*time.Minute)}
}

// Decode returns the document for data, reusing the cached decode for
// resource when data is unchanged. The returned document is a copy the
// caller may modify.
func (c *DocumentCache) Decode(resource string, data []byte) (*Document, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	if v, ok := c.entries.Get(resource); ok {
		if e, ok := v.(cachedDocument); ok && e.hash == hash {
			return e.doc.Clone(), nil
		}
	}

	doc, err := Decode(data)
	if err != nil {
		return nil, err
	}

	c.entries.SetDefault(resource, cachedDocument{hash: hash, doc: doc.Clone()})
	return doc, nil
}

// Invalidate drops the entry for resource.
func (c *DocumentCache) Invalidate(resource string) {
	c.entries.Delete(resource)
}

// Len reports the number of cached resources.
func (c *DocumentCache) Len() int {
	return c.entries.ItemCount()
}
