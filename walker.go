package divert

import (
	"github.com/sirupsen/logrus"
)

// headerWalker parses one packet at a time out of a batch buffer.
type headerWalker struct {
	lib native
	buf []byte
}

// walk parses the first packet of buf[off:off+n]. The returned result is
// rebased onto buf, its Next span is the cursor of the following packet.
func (w headerWalker) walk(off, n int) (ParseResult, bool) {
	if n <= 0 || off < 0 || off+n > len(w.buf) {
		return ParseResult{}, false
	}

	info, ok := w.lib.ParsePacket(w.buf[off : off+n])
	if !ok {
		logger.WithFields(logrus.Fields{"offset": off, "remaining": n}).
			Debug("divert: packet parse failed, batch walk ends here")
		return ParseResult{}, false
	}

	r := ParseResult{
		buf:      w.buf,
		Protocol: info.Protocol,
		IPv4:     info.IPv4.shift(off),
		IPv6:     info.IPv6.shift(off),
		ICMPv4:   info.ICMPv4.shift(off),
		ICMPv6:   info.ICMPv6.shift(off),
		TCP:      info.TCP.shift(off),
		UDP:      info.UDP.shift(off),
		Data:     info.Data.shift(off),
	}

	r.Packet = span(off, n)
	if info.Next.ok && info.Next.n > 0 {
		if info.Next.off <= 0 || info.Next.off+info.Next.n != n {
			logger.WithFields(logrus.Fields{"offset": off, "next": info.Next.off}).
				Debug("divert: packet parse did not advance, batch walk ends here")
			return ParseResult{}, false
		}
		r.Packet = span(off, info.Next.off)
		r.Next = info.Next.shift(off)
	}
	return r, true
}
