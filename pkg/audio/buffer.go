package audio

import "github.com/voxcore/voxcore/internal/syncx"

// Buffer is a bounded ordered sequence of float32 samples: the Audio Buffer
// component. It supports a single producer (the ingest path) appending
// variable-size chunks and multiple consumers reading "latest N" or
// draining fixed-size windows. On overflow the oldest samples are dropped
// and overflowCount is incremented; totalSamples counts every sample ever
// appended, independent of how many are currently resident.
type Buffer struct {
	g *syncx.Guard[bufferState]
}

type bufferState struct {
	data          []float32
	capacity      int
	writeOffset   int // index into data, wraps
	filled        int // number of valid samples currently resident, <= capacity
	totalSamples  uint64
	overflowCount uint64
	drainCursor   int // logical offset of next undrained sample within the resident window
}

// NewBuffer constructs a Buffer with room for capacity samples.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{g: syncx.New(bufferState{
		data:     make([]float32, capacity),
		capacity: capacity,
	})}
}

// Append adds samples to the tail of the buffer. If the buffer would exceed
// capacity, the oldest samples are discarded and overflowCount increments
// by the number dropped.
func (b *Buffer) Append(samples []float32) {
	if len(samples) == 0 {
		return
	}
	b.g.Write(func(s *bufferState) {
		s.totalSamples += uint64(len(samples))

		dropped := 0
		if len(samples) >= s.capacity {
			// The new chunk alone overflows the ring; only its tail survives.
			dropped += s.filled + (len(samples) - s.capacity)
			samples = samples[len(samples)-s.capacity:]
			s.filled = 0
			s.writeOffset = 0
		} else if s.filled+len(samples) > s.capacity {
			dropped += s.filled + len(samples) - s.capacity
		}
		if dropped > 0 {
			s.overflowCount += uint64(dropped)
		}

		for _, v := range samples {
			s.data[s.writeOffset] = v
			s.writeOffset = (s.writeOffset + 1) % s.capacity
		}
		s.filled += len(samples)
		if s.filled > s.capacity {
			s.filled = s.capacity
		}
		if dropped > 0 {
			s.drainCursor -= dropped
			if s.drainCursor < 0 {
				s.drainCursor = 0
			}
		}
		if s.drainCursor > s.filled {
			s.drainCursor = s.filled
		}
	})
}

// Latest returns up to n most-recent samples, in chronological order. It
// never blocks and never errors; fewer than n samples are returned if the
// buffer holds fewer.
func (b *Buffer) Latest(n int) []float32 {
	var out []float32
	b.g.Read(func(s bufferState) {
		if n > s.filled {
			n = s.filled
		}
		if n <= 0 {
			return
		}
		out = make([]float32, n)
		start := (s.writeOffset - n + s.capacity*2) % s.capacity
		for i := 0; i < n; i++ {
			out[i] = s.data[(start+i)%s.capacity]
		}
	})
	return out
}

// DrainWindow returns the next unconsumed w-sized window if enough
// undrained samples are resident, advancing the internal drain cursor.
// Returns (nil, false) if fewer than w samples are available to drain.
func (b *Buffer) DrainWindow(w int) ([]float32, bool) {
	var out []float32
	var ok bool
	b.g.Write(func(s *bufferState) {
		undrained := s.filled - s.drainCursor
		if undrained < w {
			return
		}
		out = make([]float32, w)
		oldestOffset := (s.writeOffset - s.filled + s.capacity*2) % s.capacity
		start := (oldestOffset + s.drainCursor) % s.capacity
		for i := 0; i < w; i++ {
			out[i] = s.data[(start+i)%s.capacity]
		}
		s.drainCursor += w
		ok = true
	})
	return out, ok
}

// TotalSamples returns the count of every sample ever appended.
func (b *Buffer) TotalSamples() uint64 {
	var n uint64
	b.g.Read(func(s bufferState) { n = s.totalSamples })
	return n
}

// OverflowCount returns the number of samples ever discarded due to
// capacity overflow.
func (b *Buffer) OverflowCount() uint64 {
	var n uint64
	b.g.Read(func(s bufferState) { n = s.overflowCount })
	return n
}

// Len returns the number of samples currently resident.
func (b *Buffer) Len() int {
	var n int
	b.g.Read(func(s bufferState) { n = s.filled })
	return n
}

// Clear discards the buffer's contents. Statistics (totalSamples,
// overflowCount) persist across Clear; only Reset zeroes them.
func (b *Buffer) Clear() {
	b.g.Write(func(s *bufferState) {
		s.filled = 0
		s.writeOffset = 0
		s.drainCursor = 0
	})
}

// Reset discards contents and zeroes all statistics.
func (b *Buffer) Reset() {
	b.g.Write(func(s *bufferState) {
		s.filled = 0
		s.writeOffset = 0
		s.drainCursor = 0
		s.totalSamples = 0
		s.overflowCount = 0
	})
}
