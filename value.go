package divert

import (
	"encoding/binary"
	"net/netip"
	"strconv"
)

// IPv4Addr is an IPv4 address in host byte order, the representation
// WinDivert uses in address metadata and helper calls.
type IPv4Addr uint32

// NetworkIPv4Addr is an IPv4 address as it sits in a packet header.
type NetworkIPv4Addr uint32

// IPv6Addr is an IPv6 address in host byte order, word 3 holds the most
// significant 32 bits.
type IPv6Addr [4]uint32

// NetworkIPv6Addr is an IPv6 address as it sits in a packet header.
type NetworkIPv6Addr [4]uint32

// NetworkUint32 is a 32 bit integer stored in network byte order.
type NetworkUint32 uint32

func hton32(x uint32) uint32 {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], x)
	return binary.NativeEndian.Uint32(b[:])
}

func (a IPv4Addr) Network() NetworkIPv4Addr { return NetworkIPv4Addr(hton32(uint32(a))) }
func (n NetworkIPv4Addr) Host() IPv4Addr    { return IPv4Addr(hton32(uint32(n))) }

func (a IPv6Addr) Network() NetworkIPv6Addr {
	return NetworkIPv6Addr{hton32(a[3]), hton32(a[2]), hton32(a[1]), hton32(a[0])}
}

func (n NetworkIPv6Addr) Host() IPv6Addr {
	return IPv6Addr{hton32(n[3]), hton32(n[2]), hton32(n[1]), hton32(n[0])}
}

func NetworkUint32From(x uint32) NetworkUint32 { return NetworkUint32(hton32(x)) }
func (n NetworkUint32) Uint32() uint32         { return hton32(uint32(n)) }
func (n NetworkUint32) String() string         { return strconv.FormatUint(uint64(n.Uint32()), 10) }

func (a IPv4Addr) Addr() netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(a))
	return netip.AddrFrom4(b)
}

// IPv4AddrFrom converts addr, IPv4-mapped IPv6 addresses are unmapped.
func IPv4AddrFrom(addr netip.Addr) (IPv4Addr, bool) {
	addr = addr.Unmap()
	if !addr.Is4() {
		return 0, false
	}
	b := addr.As4()
	return IPv4Addr(binary.BigEndian.Uint32(b[:])), true
}

func (a IPv6Addr) Addr() netip.Addr {
	var b [16]byte
	for i := 0; i < 4; i++ {
		binary.BigEndian.PutUint32(b[i*4:], a[3-i])
	}
	return netip.AddrFrom16(b)
}

// IPv6AddrFrom converts addr, IPv4 addresses become IPv4-mapped.
func IPv6AddrFrom(addr netip.Addr) IPv6Addr {
	b := addr.As16()
	var a IPv6Addr
	for i := 0; i < 4; i++ {
		a[3-i] = binary.BigEndian.Uint32(b[i*4:])
	}
	return a
}

func (n NetworkIPv4Addr) Addr() netip.Addr { return n.Host().Addr() }
func (n NetworkIPv6Addr) Addr() netip.Addr { return n.Host().Addr() }

// ParseIPv4Addr parses s with the native address helper.
func ParseIPv4Addr(s string) (IPv4Addr, error) {
	v, err := lib.ParseIPv4Address(s)
	if err != nil {
		return 0, opError("WinDivertHelperParseIPv4Address", err)
	}
	return IPv4Addr(v), nil
}

// ParseIPv6Addr parses s with the native address helper.
func ParseIPv6Addr(s string) (IPv6Addr, error) {
	v, err := lib.ParseIPv6Address(s)
	if err != nil {
		return IPv6Addr{}, opError("WinDivertHelperParseIPv6Address", err)
	}
	return IPv6Addr(v), nil
}

// Format renders a with the native address helper.
func (a IPv4Addr) Format() (string, error) {
	s, err := lib.FormatIPv4Address(uint32(a))
	if err != nil {
		return "", opError("WinDivertHelperFormatIPv4Address", err)
	}
	return s, nil
}

func (a IPv4Addr) String() string {
	if s, err := a.Format(); err == nil {
		return s
	}
	return a.Addr().String()
}

// Format renders a with the native address helper.
func (a IPv6Addr) Format() (string, error) {
	s, err := lib.FormatIPv6Address([4]uint32(a))
	if err != nil {
		return "", opError("WinDivertHelperFormatIPv6Address", err)
	}
	return s, nil
}

func (a IPv6Addr) String() string {
	if s, err := a.Format(); err == nil {
		return s
	}
	return a.Addr().String()
}

func (n NetworkIPv4Addr) String() string { return n.Host().String() }
func (n NetworkIPv6Addr) String() string { return n.Host().String() }
