package upload

import (
	"errors"
	"fmt"

	"github.com/drksbr/facecam/internal/util/bytelimiter"
)

// ErrAllocation means the payload could not be reserved. No request is sent.
var ErrAllocation = errors.New("payload allocation failed")

// allocator hands out payload buffers. free must be called exactly once per
// successful alloc.
type allocator interface {
	alloc(size int) ([]byte, error)
	free(buf []byte)
}

// budgetAllocator charges every payload against a byte budget, standing in
// for the bounded heap of the capture device.
type budgetAllocator struct {
	budget *bytelimiter.ByteLimiter
}

func (a budgetAllocator) alloc(size int) ([]byte, error) {
	if !a.budget.TryAcquire(size) {
		return nil, fmt.Errorf("%w: %d bytes requested, %d of %d in use",
			ErrAllocation, size, a.budget.Used(), a.budget.Capacity())
	}
	return make([]byte, 0, size), nil
}

func (a budgetAllocator) free(buf []byte) {
	a.budget.Release(cap(buf))
}

// encode builds the multipart body in one buffer of exactly the payload
// size. The returned release func frees it.
func encode(a allocator, form Form, image []byte) ([]byte, func(), error) {
	size := form.PayloadSize(len(image))
	buf, err := a.alloc(size)
	if err != nil {
		return nil, nil, err
	}
	payload := form.AppendPayload(buf[:0], image)
	return payload, func() { a.free(buf) }, nil
}
