package divert

import (
	"gvisor.dev/gvisor/pkg/tcpip/header"
)

// Span is a borrowed region of a batch buffer. The zero Span is absent, a
// present Span may be empty.
type Span struct {
	off, n int
	ok     bool
}

func span(off, n int) Span { return Span{off: off, n: n, ok: true} }

func (s Span) Present() bool { return s.ok }
func (s Span) Offset() int   { return s.off }
func (s Span) Len() int      { return s.n }

func (s Span) shift(d int) Span {
	if !s.ok {
		return s
	}
	s.off += d
	return s
}

// ParseResult describes the first packet of a region: where each recognized
// header starts inside the shared buffer, and where the next packet begins.
// Its slices alias the buffer and are valid as long as the buffer is.
type ParseResult struct {
	buf []byte

	Packet   Span
	IPv4     Span
	IPv6     Span
	Protocol Proto
	ICMPv4   Span
	ICMPv6   Span
	TCP      Span
	UDP      Span
	Data     Span
	Next     Span
}

// Bytes returns the region s refers to, nil when absent.
func (r ParseResult) Bytes(s Span) []byte {
	if !s.ok {
		return nil
	}
	return r.buf[s.off : s.off+s.n : s.off+s.n]
}

func (r ParseResult) PacketBytes() []byte { return r.Bytes(r.Packet) }
func (r ParseResult) Payload() []byte     { return r.Bytes(r.Data) }

func (r ParseResult) IPv4Header() header.IPv4 { return header.IPv4(r.Bytes(r.IPv4)) }
func (r ParseResult) IPv6Header() header.IPv6 { return header.IPv6(r.Bytes(r.IPv6)) }
func (r ParseResult) TCPHeader() header.TCP   { return header.TCP(r.Bytes(r.TCP)) }
func (r ParseResult) UDPHeader() header.UDP   { return header.UDP(r.Bytes(r.UDP)) }

func (r ParseResult) ICMPv4Header() header.ICMPv4 { return header.ICMPv4(r.Bytes(r.ICMPv4)) }
func (r ParseResult) ICMPv6Header() header.ICMPv6 { return header.ICMPv6(r.Bytes(r.ICMPv6)) }
