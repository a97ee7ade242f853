package divert

import (
	"sync/atomic"
)

const (
	stateClosing int64 = 1 << 62
	stateClosed  int64 = 1 << 61
	stateRefs    int64 = stateClosed - 1
)

// SharedHandle is a native handle shared by concurrent blocking calls. The
// native close runs exactly once, after Close was called and the last
// borrowed reference was released.
type SharedHandle struct {
	raw     uintptr
	invalid uintptr
	closeFn func(uintptr) error

	state atomic.Int64
	done  chan struct{}
	err   error
}

// NewSharedHandle wraps raw, closeFn is called with raw once the handle is
// closed and no longer borrowed.
func NewSharedHandle(raw, invalid uintptr, closeFn func(uintptr) error) *SharedHandle {
	return &SharedHandle{
		raw:     raw,
		invalid: invalid,
		closeFn: closeFn,
		done:    make(chan struct{}),
	}
}

func (h *SharedHandle) addRef() bool {
	for {
		s := h.state.Load()
		if s&(stateClosing|stateClosed) != 0 {
			return false
		}
		if h.state.CompareAndSwap(s, s+1) {
			return true
		}
	}
}

func (h *SharedHandle) dropRef() {
	if h.state.Add(-1) == stateClosing {
		h.finish()
	}
}

// Close marks the handle closing, later Acquire calls get the sentinel.
// It reports whether this call did the marking.
func (h *SharedHandle) Close() bool {
	for {
		s := h.state.Load()
		if s&stateClosing != 0 {
			return false
		}
		if h.state.CompareAndSwap(s, s|stateClosing) {
			if s&stateRefs == 0 {
				h.finish()
			}
			return true
		}
	}
}

func (h *SharedHandle) finish() {
	if !h.state.CompareAndSwap(stateClosing, stateClosing|stateClosed) {
		return
	}
	if h.closeFn != nil {
		h.err = h.closeFn(h.raw)
	}
	close(h.done)
}

// Done is closed after the native close returned.
func (h *SharedHandle) Done() <-chan struct{} { return h.done }

// Err is the native close result, valid after Done is closed.
func (h *SharedHandle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Refs is the number of borrowed references.
func (h *SharedHandle) Refs() int64 { return h.state.Load() & stateRefs }

func (h *SharedHandle) Closing() bool { return h.state.Load()&stateClosing != 0 }

func (h *SharedHandle) Closed() bool { return h.state.Load()&stateClosed != 0 }

// noCopy makes go vet's copylocks check flag copies of the struct
// embedding it.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Guard is a borrowed reference to a SharedHandle, the zero Guard holds
// nothing. A Guard must not be copied after Acquire, pass it by pointer.
type Guard struct {
	_ noCopy

	h       *SharedHandle
	raw     uintptr
	invalid uintptr
	held    bool
}

// Acquire borrows h for the duration of one native call. A nil, invalid or
// closing handle yields a guard exposing invalid without taking a reference.
func Acquire(h *SharedHandle, invalid uintptr) Guard {
	if h == nil || h.raw == h.invalid || !h.addRef() {
		return Guard{raw: invalid, invalid: invalid}
	}
	return Guard{h: h, raw: h.raw, invalid: invalid, held: true}
}

// Raw is the value to pass to the native call.
func (g *Guard) Raw() uintptr { return g.raw }

// Held reports whether g holds a reference.
func (g *Guard) Held() bool { return g.held }

// Release gives the reference back, it is safe to call more than once.
func (g *Guard) Release() {
	if !g.held {
		return
	}
	g.held = false
	g.raw = g.invalid
	g.h.dropRef()
}
