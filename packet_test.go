package divert

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/checksum"
	"gvisor.dev/gvisor/pkg/tcpip/header"
)

var (
	caddr = netip.MustParseAddrPort("10.0.0.2:19986")
	saddr = netip.MustParseAddrPort("10.0.0.1:8080")

	caddr6 = netip.MustParseAddrPort("[fd00::2]:19986")
	saddr6 = netip.MustParseAddrPort("[fd00::1]:8080")
)

func encodeIPv4(t *testing.T, b []byte, proto tcpip.TransportProtocolNumber, src, dst netip.Addr) header.IPv4 {
	iphdr := header.IPv4(b)
	iphdr.Encode(&header.IPv4Fields{
		TotalLength: uint16(len(b)),
		ID:          1,
		TTL:         128,
		Protocol:    uint8(proto),
		SrcAddr:     tcpip.AddrFrom4(src.As4()),
		DstAddr:     tcpip.AddrFrom4(dst.As4()),
	})
	iphdr.SetChecksum(^checksum.Checksum(b[:iphdr.HeaderLength()], 0))
	require.True(t, iphdr.IsChecksumValid())
	return iphdr
}

func buildUDP(t *testing.T, src, dst netip.AddrPort, payload []byte) []byte {
	var b = make([]byte, header.IPv4MinimumSize+header.UDPMinimumSize+len(payload))
	iphdr := encodeIPv4(t, b, header.UDPProtocolNumber, src.Addr(), dst.Addr())

	udphdr := header.UDP(iphdr.Payload())
	udphdr.Encode(&header.UDPFields{
		SrcPort: src.Port(),
		DstPort: dst.Port(),
		Length:  uint16(len(udphdr)),
	})
	n := copy(udphdr.Payload(), payload)
	require.Equal(t, len(payload), n)
	return b
}

func buildTCP(t *testing.T, src, dst netip.AddrPort, payload []byte) []byte {
	var b = make([]byte, header.IPv4MinimumSize+header.TCPMinimumSize+len(payload))
	iphdr := encodeIPv4(t, b, header.TCPProtocolNumber, src.Addr(), dst.Addr())

	tcphdr := header.TCP(iphdr.Payload())
	tcphdr.Encode(&header.TCPFields{
		SrcPort:    src.Port(),
		DstPort:    dst.Port(),
		SeqNum:     1,
		DataOffset: header.TCPMinimumSize,
		Flags:      header.TCPFlagAck | header.TCPFlagPsh,
		WindowSize: 0xffff,
	})
	n := copy(tcphdr.Payload(), payload)
	require.Equal(t, len(payload), n)
	return b
}

func buildICMPEcho(t *testing.T, src, dst netip.Addr) []byte {
	var b = make([]byte, header.IPv4MinimumSize+header.ICMPv4MinimumSize+4)
	iphdr := encodeIPv4(t, b, header.ICMPv4ProtocolNumber, src, dst)

	icmphdr := header.ICMPv4(iphdr.Payload())
	icmphdr.SetType(header.ICMPv4Echo)
	icmphdr.SetIdent(7)
	icmphdr.SetSequence(1)
	icmphdr.SetChecksum(^checksum.Checksum(icmphdr, 0))
	return b
}

func buildUDP6(t *testing.T, src, dst netip.AddrPort, payload []byte) []byte {
	var b = make([]byte, header.IPv6MinimumSize+header.UDPMinimumSize+len(payload))
	iphdr := header.IPv6(b)
	iphdr.Encode(&header.IPv6Fields{
		PayloadLength:     uint16(len(b) - header.IPv6MinimumSize),
		TransportProtocol: header.UDPProtocolNumber,
		HopLimit:          64,
		SrcAddr:           tcpip.AddrFrom16(src.Addr().As16()),
		DstAddr:           tcpip.AddrFrom16(dst.Addr().As16()),
	})

	udphdr := header.UDP(iphdr.Payload())
	udphdr.Encode(&header.UDPFields{
		SrcPort: src.Port(),
		DstPort: dst.Port(),
		Length:  uint16(len(udphdr)),
	})
	n := copy(udphdr.Payload(), payload)
	require.Equal(t, len(payload), n)
	return b
}

// withExt inserts the extension header ext, of type proto, right after the
// IPv6 header of packet. ext carries its own next header byte.
func withExt(packet []byte, proto Proto, ext []byte) []byte {
	b := concat(packet[:header.IPv6MinimumSize], ext, packet[header.IPv6MinimumSize:])
	iphdr := header.IPv6(b)
	iphdr.SetNextHeader(uint8(proto))
	iphdr.SetPayloadLength(uint16(len(b) - header.IPv6MinimumSize))
	return b
}

func concat(packets ...[]byte) []byte {
	var b []byte
	for _, p := range packets {
		b = append(b, p...)
	}
	return b
}
