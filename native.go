package divert

// native is the WinDivert call surface. Kernel operations take the raw
// handle value a Guard exposes.
type native interface {
	Open(filter []byte, layer Layer, priority int16, flags Flag) (uintptr, error)
	RecvEx(h uintptr, packets []byte, addrs []Address) (recvLen, addrLen int, err error)
	SendEx(h uintptr, packets []byte, addrs []Address) (int, error)
	GetParam(h uintptr, p Param) (uint64, error)
	SetParam(h uintptr, p Param, v uint64) error
	Shutdown(h uintptr, how Shutdown) error
	Close(h uintptr) error

	// ParsePacket decodes the first packet of b, spans are relative to b.
	ParsePacket(b []byte) (packetInfo, bool)

	CompileFilter(filter string, layer Layer) ([]byte, error)
	FormatFilter(filter []byte, layer Layer) (string, error)
	EvalFilter(filter []byte, packet []byte, addr *Address) (bool, error)
	CalcChecksums(packet []byte, addr *Address, flags ChecksumFlag) error

	ParseIPv4Address(s string) (uint32, error)
	ParseIPv6Address(s string) ([4]uint32, error)
	FormatIPv4Address(a uint32) (string, error)
	FormatIPv6Address(a [4]uint32) (string, error)
}

var lib native = newNative()

// packetInfo is one parse of the first packet in a region.
type packetInfo struct {
	Protocol Proto

	IPv4, IPv6               Span
	ICMPv4, ICMPv6, TCP, UDP Span
	Data, Next               Span
}
