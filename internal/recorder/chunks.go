package recorder

import (
	"bytes"
	"sync"
)

// chunkSink is the in-memory destination for the container writer. Encoded
// bytes accumulate in the working buffer until Cut moves them into the chunk
// list; the final blob is the chunks in order.
type chunkSink struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	chunks [][]byte
	closed bool
}

func newChunkSink() *chunkSink {
	return &chunkSink{}
}

func (s *chunkSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

// Cut seals the working buffer into a chunk. Empty buffers produce no chunk.
func (s *chunkSink) Cut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cutLocked()
}

func (s *chunkSink) cutLocked() {
	if s.buf.Len() == 0 {
		return
	}
	chunk := make([]byte, s.buf.Len())
	copy(chunk, s.buf.Bytes())
	s.buf.Reset()
	s.chunks = append(s.chunks, chunk)
}

func (s *chunkSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cutLocked()
	s.closed = true
	return nil
}

// ChunkCount reports how many chunks have been sealed so far.
func (s *chunkSink) ChunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// Blob concatenates every sealed chunk.
func (s *chunkSink) Blob() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	size := 0
	for _, c := range s.chunks {
		size += len(c)
	}
	blob := make([]byte, 0, size)
	for _, c := range s.chunks {
		blob = append(blob, c...)
	}
	return blob
}
