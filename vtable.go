package flatbuf

// vtableCache maps canonical vtable bytes to the offset where they were
// written. Keys are the exact serialized vtables, so tables declared with a
// different number of fields share a vtable as long as their truncated
// layouts match.
type vtableCache struct {
	m       map[string]UOffset
	scratch []byte
}

func (c *vtableCache) reset() {
	clear(c.m)
}

func (c *vtableCache) len() int {
	return len(c.m)
}

func (c *vtableCache) lookup(key []byte) (UOffset, bool) {
	off, ok := c.m[string(key)]
	return off, ok
}

func (c *vtableCache) add(key []byte, off UOffset) {
	if c.m == nil {
		c.m = make(map[string]UOffset)
	}
	c.m[string(key)] = off
}

// encode serializes a vtable for the given slot positions. slots hold
// Builder offsets captured right after each field was written (0 = absent),
// objectOffset is the offset of the table start. The result aliases an
// internal scratch buffer.
func (c *vtableCache) encode(slots []UOffset, objectOffset UOffset, inlineSize VOffset) []byte {
	n := (len(slots) + vtableMetadataFields) * SizeVOffset
	if cap(c.scratch) < n {
		c.scratch = make([]byte, n)
	}
	key := c.scratch[:n]
	le.PutUint16(key[0:], uint16(n))
	le.PutUint16(key[2:], uint16(inlineSize))
	for i, off := range slots {
		var v VOffset
		if off != 0 {
			v = VOffset(objectOffset - off)
		}
		le.PutUint16(key[vtableHeaderSize+i*SizeVOffset:], uint16(v))
	}
	return key
}
