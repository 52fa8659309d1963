// Package buffer pools the chunk buffers used by streaming compression and
// checksumming, bucketed by the engine's chunk ladder.
package buffer

import (
	"sync"

	"github.com/coldpack/coldpack/internal/engine"
)

// bucketSizes are the only chunk sizes the engine ever requests.
var bucketSizes = []int{engine.ChunkSmall, engine.ChunkMedium, engine.ChunkLarge}

var pools = func() map[int]*sync.Pool {
	m := make(map[int]*sync.Pool, len(bucketSizes))
	for _, size := range bucketSizes {
		size := size
		m[size] = &sync.Pool{
			New: func() interface{} {
				return make([]byte, size)
			},
		}
	}
	return m
}()

// Get returns a buffer of at least size bytes, pooled when size matches a
// chunk bucket.
func Get(size int) []byte {
	for _, bucket := range bucketSizes {
		if bucket >= size {
			return pools[bucket].Get().([]byte)[:size]
		}
	}
	return make([]byte, size)
}

// Put returns a buffer to its bucket. Buffers of non-bucket capacity are
// dropped for the GC.
func Put(buf []byte) {
	if buf == nil {
		return
	}
	if pool, ok := pools[cap(buf)]; ok {
		//nolint:staticcheck // SA6002: byte slices are the pooled type here
		pool.Put(buf[:cap(buf)])
	}
}
