package divert

import (
	"gvisor.dev/gvisor/pkg/tcpip/header"
)

// decodePacket is the Go rendition of WinDivertHelperParsePacket, it
// locates the headers of the first packet in b.
func decodePacket(b []byte) (packetInfo, bool) {
	var info packetInfo
	if len(b) == 0 {
		return info, false
	}

	var (
		end      int // end of the first packet
		off      int // cursor, start of the transport header
		proto    uint8
		fragment bool
	)
	switch header.IPVersion(b) {
	case header.IPv4Version:
		if len(b) < header.IPv4MinimumSize {
			return info, false
		}
		ip := header.IPv4(b)
		hlen, total := int(ip.HeaderLength()), int(ip.TotalLength())
		if hlen < header.IPv4MinimumSize || total < hlen || total > len(b) {
			return info, false
		}
		info.IPv4 = span(0, hlen)
		end, off, proto = total, hlen, ip.Protocol()
		fragment = ip.Flags()&header.IPv4FlagMoreFragments != 0 || ip.FragmentOffset() != 0
	case header.IPv6Version:
		if len(b) < header.IPv6MinimumSize {
			return info, false
		}
		ip := header.IPv6(b)
		total := header.IPv6MinimumSize + int(ip.PayloadLength())
		if total > len(b) {
			return info, false
		}
		info.IPv6 = span(0, header.IPv6MinimumSize)
		end, off, proto = total, header.IPv6MinimumSize, ip.NextHeader()
		off, proto, fragment = skipExtensions(b[:end], off, proto)
	default:
		info.Data = span(0, len(b))
		return info, true
	}
	info.Protocol = Proto(proto)

	if !fragment {
		rest := end - off
		switch {
		case proto == uint8(TCP) && rest >= header.TCPMinimumSize:
			doff := int(header.TCP(b[off:end]).DataOffset())
			if doff >= header.TCPMinimumSize && doff <= rest {
				info.TCP = span(off, doff)
				off += doff
			}
		case proto == uint8(UDP) && rest >= header.UDPMinimumSize:
			info.UDP = span(off, header.UDPMinimumSize)
			off += header.UDPMinimumSize
		case proto == uint8(ICMP) && info.IPv4.Present() && rest >= header.ICMPv4MinimumSize:
			info.ICMPv4 = span(off, header.ICMPv4MinimumSize)
			off += header.ICMPv4MinimumSize
		case proto == uint8(ICMPv6) && info.IPv6.Present() && rest >= header.ICMPv6MinimumSize:
			info.ICMPv6 = span(off, header.ICMPv6MinimumSize)
			off += header.ICMPv6MinimumSize
		}
	}

	info.Data = span(off, end-off)
	if end < len(b) {
		info.Next = span(end, len(b)-end)
	}
	return info, true
}

// skipExtensions walks the IPv6 extension header chain starting at off.
// It returns the offset and number of the upper layer header, fragment is
// set for a non first fragment.
func skipExtensions(b []byte, off int, proto uint8) (int, uint8, bool) {
	for {
		var n int
		switch Proto(proto) {
		case HopOpts, DstOpts, Routing:
			if off+2 > len(b) {
				return off, proto, false
			}
			n = (int(b[off+1]) + 1) * 8
		case AH:
			if off+2 > len(b) {
				return off, proto, false
			}
			n = (int(b[off+1]) + 2) * 4
		case Fragment:
			if off+8 > len(b) {
				return off, proto, false
			}
			n = 8
			if fragOff := (uint16(b[off+2])<<8 | uint16(b[off+3])) &^ 0x7; fragOff != 0 {
				return off + n, b[off], true
			}
		default:
			return off, proto, false
		}
		if off+n > len(b) {
			return off, proto, false
		}
		proto = b[off]
		off += n
	}
}
