package divert

import (
	"runtime"
)

// PacketEnumerator walks the packets of a batch buffer in order, without
// copying. The buffer is pinned until Close; it must not be modified while
// the enumerator or any ParseResult it produced is in use.
//
//	e := divert.NewPacketEnumerator(buf[:n])
//	defer e.Close()
//	for e.Next() {
//		r := e.Result()
//		...
//	}
type PacketEnumerator struct {
	w      headerWalker
	pinner runtime.Pinner

	off, remaining int
	cur            ParseResult
	done           bool
}

func NewPacketEnumerator(buf []byte) *PacketEnumerator {
	e := &PacketEnumerator{}
	e.init(buf)
	return e
}

func (e *PacketEnumerator) init(buf []byte) {
	e.w = headerWalker{lib: lib, buf: buf}
	if len(buf) > 0 {
		e.pinner.Pin(&buf[0])
	}
	e.Reset()
}

// Next advances to the following packet, it reports false once the buffer
// is exhausted or a packet failed to parse, and keeps doing so until Reset.
func (e *PacketEnumerator) Next() bool {
	if e.done {
		return false
	}
	r, ok := e.w.walk(e.off, e.remaining)
	if !ok {
		e.done, e.cur = true, ParseResult{}
		return false
	}

	e.cur = r
	if r.Next.ok {
		e.off, e.remaining = r.Next.off, r.Next.n
	} else {
		e.off, e.remaining = len(e.w.buf), 0
	}
	return true
}

// Result is the packet Next moved to.
func (e *PacketEnumerator) Result() ParseResult { return e.cur }

// Reset rewinds to the first packet.
func (e *PacketEnumerator) Reset() {
	e.off, e.remaining = 0, len(e.w.buf)
	e.cur = ParseResult{}
	e.done = e.w.buf == nil
}

// Close unpins the buffer, the enumerator is exhausted afterwards.
func (e *PacketEnumerator) Close() {
	if e.w.buf == nil {
		return
	}
	e.pinner.Unpin()
	e.w.buf = nil
	e.off, e.remaining = 0, 0
	e.cur = ParseResult{}
	e.done = true
}

// IndexedPacketEnumerator is a PacketEnumerator that also counts packets,
// the index lines up with the Address slice of a batch receive.
type IndexedPacketEnumerator struct {
	PacketEnumerator
	index int
}

func NewIndexedPacketEnumerator(buf []byte) *IndexedPacketEnumerator {
	e := &IndexedPacketEnumerator{index: -1}
	e.PacketEnumerator.init(buf)
	return e
}

func (e *IndexedPacketEnumerator) Next() bool {
	if !e.PacketEnumerator.Next() {
		return false
	}
	e.index++
	return true
}

// Index is the position of the current packet, -1 before the first Next.
func (e *IndexedPacketEnumerator) Index() int { return e.index }

func (e *IndexedPacketEnumerator) Result() (int, ParseResult) {
	return e.index, e.cur
}

func (e *IndexedPacketEnumerator) Reset() {
	e.PacketEnumerator.Reset()
	e.index = -1
}

// Walk calls fn for every packet of buf and stops at the first error.
func Walk(buf []byte, fn func(i int, r *ParseResult) error) error {
	e := NewIndexedPacketEnumerator(buf)
	defer e.Close()

	for e.Next() {
		i, r := e.Result()
		if err := fn(i, &r); err != nil {
			return err
		}
	}
	return nil
}
