package events

import (
	"bytes"
	"sync"
)

// bufferPool reuses encode buffers. A chatty command emits one event per
// output line, so every line would otherwise allocate.
var bufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

// getBuffer retrieves a buffer from the pool.
// Caller must call putBuffer() when done to return it to the pool.
func getBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// putBuffer returns a buffer to the pool for reuse.
// Only buffers under a size limit are returned to prevent holding large buffers.
func putBuffer(buf *bytes.Buffer) {
	const maxBufferSize = 16 * 1024 // 16KB
	if buf.Cap() <= maxBufferSize {
		bufferPool.Put(buf)
	}
}
