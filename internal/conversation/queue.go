package conversation

import "github.com/sesli-ai/sesli/pkg/audio"

// Queue is the ingestion queue between capture and the recognition session:
// an unbounded FIFO of audio chunks.
//
// A Queue is owned by one goroutine and is not safe for concurrent use.
type Queue struct {
	items []audio.Chunk
	head  int
}

// Enqueue appends c. It always succeeds.
func (q *Queue) Enqueue(c audio.Chunk) {
	q.items = append(q.items, c)
}

// DrainOne removes and returns the oldest chunk. ok is false when the queue is
// empty.
func (q *Queue) DrainOne() (c audio.Chunk, ok bool) {
	if q.head >= len(q.items) {
		return audio.Chunk{}, false
	}
	c = q.items[q.head]
	q.items[q.head] = audio.Chunk{}
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	return c, true
}

// Len returns the number of queued chunks.
func (q *Queue) Len() int {
	return len(q.items) - q.head
}

// Reset drops every queued chunk.
func (q *Queue) Reset() {
	clear(q.items)
	q.items = q.items[:0]
	q.head = 0
}
