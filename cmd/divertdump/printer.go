package main

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/netdivert/divert"
)

// printer writes one line per received event. Packets are decoded with
// gopacket, the layers are reused between calls.
type printer struct {
	w io.Writer

	ip4     layers.IPv4
	ip6     layers.IPv6
	tcp     layers.TCP
	udp     layers.UDP
	icmp4   layers.ICMPv4
	icmp6   layers.ICMPv6
	payload gopacket.Payload

	parse4, parse6 *gopacket.DecodingLayerParser
	decoded        []gopacket.LayerType
}

func newPrinter(w io.Writer) *printer {
	p := &printer{w: w, decoded: make([]gopacket.LayerType, 0, 4)}
	decoders := []gopacket.DecodingLayer{&p.ip4, &p.ip6, &p.tcp, &p.udp, &p.icmp4, &p.icmp6, &p.payload}

	p.parse4 = gopacket.NewDecodingLayerParser(layers.LayerTypeIPv4, decoders...)
	p.parse4.IgnoreUnsupported = true
	p.parse6 = gopacket.NewDecodingLayerParser(layers.LayerTypeIPv6, decoders...)
	p.parse6.IgnoreUnsupported = true
	return p
}

// packet prints the i-th packet of a batch with its address.
func (p *printer) packet(i int, addr *divert.Address, packet []byte, ipv6 bool) {
	var ifIdx uint32
	if d, ok := addr.Data().(divert.NetworkData); ok {
		ifIdx = d.IfIdx
	}
	fmt.Fprintf(p.w, "%d %s if=%d %s\n", i, direction(addr.Flags), ifIdx, p.summary(packet, ipv6))
}

// event prints the i-th event of a flow, socket or reflect handle, those
// carry no packet.
func (p *printer) event(i int, addr *divert.Address) {
	var s string
	switch d := addr.Data().(type) {
	case divert.FlowData:
		s = flowSummary(d)
	case divert.SocketData:
		s = flowSummary(d.FlowData)
	case divert.ReflectData:
		s = fmt.Sprintf("pid=%d layer=%s priority=%d flags=%#x", d.ProcessID, d.Layer, d.Priority, uint64(d.Flags))
	default:
		s = "layer=" + addr.Layer.String()
	}
	fmt.Fprintf(p.w, "%d %s %s\n", i, addr.Event, s)
}

func flowSummary(d divert.FlowData) string {
	return fmt.Sprintf("%s %s > %s pid=%d", d.Protocol, d.LocalAddrPort(), d.RemoteAddrPort(), d.ProcessID)
}

func direction(f divert.Flags) string {
	dir := "in"
	if f.Outbound() {
		dir = "out"
	}
	if f.Loopback() {
		dir += "/lo"
	}
	return dir
}

// summary renders one IP packet as a single line.
func (p *printer) summary(packet []byte, ipv6 bool) string {
	parser := p.parse4
	if ipv6 {
		parser = p.parse6
	}
	err := parser.DecodeLayers(packet, &p.decoded)

	var (
		b        strings.Builder
		src, dst net.IP
	)
	for _, typ := range p.decoded {
		switch typ {
		case layers.LayerTypeIPv4:
			src, dst = p.ip4.SrcIP, p.ip4.DstIP
			fmt.Fprintf(&b, "IPv4 %s > %s", src, dst)
		case layers.LayerTypeIPv6:
			src, dst = p.ip6.SrcIP, p.ip6.DstIP
			fmt.Fprintf(&b, "IPv6 %s > %s", src, dst)
		case layers.LayerTypeTCP:
			b.Reset()
			fmt.Fprintf(&b, "TCP %s > %s [%s] seq=%d", hostPort(src, int(p.tcp.SrcPort)), hostPort(dst, int(p.tcp.DstPort)), tcpFlags(&p.tcp), p.tcp.Seq)
		case layers.LayerTypeUDP:
			b.Reset()
			fmt.Fprintf(&b, "UDP %s > %s", hostPort(src, int(p.udp.SrcPort)), hostPort(dst, int(p.udp.DstPort)))
		case layers.LayerTypeICMPv4:
			fmt.Fprintf(&b, " ICMPv4 %s", p.icmp4.TypeCode)
		case layers.LayerTypeICMPv6:
			fmt.Fprintf(&b, " ICMPv6 %s", p.icmp6.TypeCode)
		}
	}
	fmt.Fprintf(&b, " len=%d", len(packet))
	if err != nil {
		fmt.Fprintf(&b, " (%v)", err)
	}
	return strings.TrimSpace(b.String())
}

func hostPort(ip net.IP, port int) string {
	return net.JoinHostPort(ip.String(), strconv.Itoa(port))
}

func tcpFlags(t *layers.TCP) string {
	var f []string
	for _, c := range []struct {
		set  bool
		name string
	}{
		{t.SYN, "S"}, {t.FIN, "F"}, {t.RST, "R"}, {t.PSH, "P"}, {t.ACK, "."},
	} {
		if c.set {
			f = append(f, c.name)
		}
	}
	return strings.Join(f, "")
}
