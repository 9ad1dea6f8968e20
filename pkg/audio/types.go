package audio

import "time"

// Chunk is one opaque blob of captured microphone audio. Chunks are produced
// at a fixed cadence while capture is active and are consumed exactly once by
// the recognition session.
type Chunk struct {
	// Data is the encoded or raw audio payload. The pipeline never inspects it.
	Data []byte

	// Seq is the capture order of this chunk, starting at 1 for each capture
	// session. Downstream stages must preserve it.
	Seq uint64

	// Captured is the wall-clock time the chunk was emitted by the capture unit.
	Captured time.Time
}

// Len returns the payload size in bytes.
func (c Chunk) Len() int { return len(c.Data) }
