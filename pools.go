package flatbuf

import "sync"

const (
	pooledBuilderSize = 1024
	maxPooledBuilder  = 1 << 20
)

var builderPool = &sync.Pool{
	New: func() any {
		return NewBuilder(pooledBuilderSize)
	},
}

// GetBuilder returns a reset Builder from a shared pool.
func GetBuilder() *Builder {
	b := builderPool.Get().(*Builder)
	b.Reset()
	return b
}

// PutBuilder returns b to the pool. Buffers obtained from b must not be used
// afterwards.
func PutBuilder(b *Builder) {
	if cap(b.buf) > maxPooledBuilder {
		return
	}
	b.Strict = false
	b.Reset()
	builderPool.Put(b)
}
