package camera

import (
	"sync"
	"time"
)

// Frame is a captured JPEG image still owned by the driver. Callers must
// call Release exactly once when done; Release is idempotent and Bytes
// returns nil afterwards.
type Frame struct {
	Width      int
	Height     int
	CapturedAt time.Time
	Sequence   uint64

	mu       sync.Mutex
	data     []byte
	released bool
	release  func()
}

// NewFrame wraps data. release runs on the first Release call.
func NewFrame(data []byte, width, height int, release func()) *Frame {
	return &Frame{
		Width:      width,
		Height:     height,
		CapturedAt: time.Now(),
		data:       data,
		release:    release,
	}
}

// Bytes returns the encoded image, or nil once the frame has been released.
func (f *Frame) Bytes() []byte {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		return nil
	}
	return f.data
}

// Len reports the encoded size in bytes.
func (f *Frame) Len() int {
	return len(f.Bytes())
}

// Release hands the buffer back to the driver.
func (f *Frame) Release() {
	if f == nil {
		return
	}
	f.mu.Lock()
	if f.released {
		f.mu.Unlock()
		return
	}
	f.released = true
	f.data = nil
	release := f.release
	f.release = nil
	f.mu.Unlock()

	if release != nil {
		release()
	}
}

// Released reports whether Release has been called.
func (f *Frame) Released() bool {
	if f == nil {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

// slots bounds the number of frames a backend hands out at once.
type slots struct {
	mu          sync.Mutex
	capacity    int
	outstanding int
	seq         uint64
}

func newSlots(capacity int) *slots {
	if capacity <= 0 {
		capacity = 1
	}
	return &slots{capacity: capacity}
}

func (s *slots) take() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outstanding >= s.capacity {
		return 0, ErrFrameOutstanding
	}
	s.outstanding++
	s.seq++
	return s.seq, nil
}

func (s *slots) give() {
	s.mu.Lock()
	if s.outstanding > 0 {
		s.outstanding--
	}
	s.mu.Unlock()
}

func (s *slots) inUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstanding
}
