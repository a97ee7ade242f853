package divert

import (
	"encoding/binary"
	"net/netip"
)

// Address is the metadata WinDivert attaches to every received packet, and
// the routing information it needs for every sent one. Its layout matches
// WINDIVERT_ADDRESS, so slices of Address are handed to the driver as is.
type Address struct {
	Timestamp int64

	Layer Layer // Packet's layer.
	Event Event // Packet event.
	Flags Flags

	reserved1 uint8
	reserved2 uint32

	// DATA_NETWORK, DATA_FLOW, DATA_SOCKET or DATA_REFLECT, selected by Layer.
	data [64]byte
}

// LayerData is the layer specific part of an Address: one of NetworkData,
// FlowData, SocketData or ReflectData.
type LayerData interface {
	layer() Layer
}

// Data decodes the layer specific payload selected by a.Layer, nil for an
// unknown layer.
func (a *Address) Data() LayerData {
	switch a.Layer {
	case Network, NetworkForward:
		return NetworkData{
			IfIdx:    binary.NativeEndian.Uint32(a.data[0:]),
			SubIfIdx: binary.NativeEndian.Uint32(a.data[4:]),
		}
	case Flow:
		return decodeFlow(&a.data)
	case Socket:
		return SocketData{decodeFlow(&a.data)}
	case Reflect:
		return ReflectData{
			Timestamp: int64(binary.NativeEndian.Uint64(a.data[0:])),
			ProcessID: binary.NativeEndian.Uint32(a.data[8:]),
			Layer:     Layer(binary.NativeEndian.Uint32(a.data[12:])),
			Flags:     Flag(binary.NativeEndian.Uint64(a.data[16:])),
			Priority:  int16(binary.NativeEndian.Uint16(a.data[24:])),
		}
	default:
		return nil
	}
}

// SetData replaces the layer specific payload and sets Layer to match it.
// NetworkData keeps a NetworkForward layer.
func (a *Address) SetData(d LayerData) {
	a.data = [64]byte{}
	switch d := d.(type) {
	case NetworkData:
		binary.NativeEndian.PutUint32(a.data[0:], d.IfIdx)
		binary.NativeEndian.PutUint32(a.data[4:], d.SubIfIdx)
		if a.Layer != NetworkForward {
			a.Layer = Network
		}
		return
	case FlowData:
		d.encode(&a.data)
	case SocketData:
		d.FlowData.encode(&a.data)
	case ReflectData:
		binary.NativeEndian.PutUint64(a.data[0:], uint64(d.Timestamp))
		binary.NativeEndian.PutUint32(a.data[8:], d.ProcessID)
		binary.NativeEndian.PutUint32(a.data[12:], uint32(d.Layer))
		binary.NativeEndian.PutUint64(a.data[16:], uint64(d.Flags))
		binary.NativeEndian.PutUint16(a.data[24:], uint16(d.Priority))
	default:
		return
	}
	a.Layer = d.layer()
}

type NetworkData struct {
	IfIdx    uint32 // Packet's interface index.
	SubIfIdx uint32 // Packet's sub-interface index.
}

func (NetworkData) layer() Layer { return Network }

type FlowData struct {
	EndpointID       uint64
	ParentEndpointID uint64
	ProcessID        uint32
	LocalAddr        IPv6Addr
	RemoteAddr       IPv6Addr
	LocalPort        uint16
	RemotePort       uint16
	Protocol         Proto
}

func (FlowData) layer() Layer { return Flow }

func (d FlowData) LocalAddrPort() netip.AddrPort {
	return netip.AddrPortFrom(d.LocalAddr.Addr().Unmap(), d.LocalPort)
}

func (d FlowData) RemoteAddrPort() netip.AddrPort {
	return netip.AddrPortFrom(d.RemoteAddr.Addr().Unmap(), d.RemotePort)
}

func decodeFlow(b *[64]byte) FlowData {
	d := FlowData{
		EndpointID:       binary.NativeEndian.Uint64(b[0:]),
		ParentEndpointID: binary.NativeEndian.Uint64(b[8:]),
		ProcessID:        binary.NativeEndian.Uint32(b[16:]),
		LocalPort:        binary.NativeEndian.Uint16(b[52:]),
		RemotePort:       binary.NativeEndian.Uint16(b[54:]),
		Protocol:         Proto(b[56]),
	}
	for i := 0; i < 4; i++ {
		d.LocalAddr[i] = binary.NativeEndian.Uint32(b[20+4*i:])
		d.RemoteAddr[i] = binary.NativeEndian.Uint32(b[36+4*i:])
	}
	return d
}

func (d FlowData) encode(b *[64]byte) {
	binary.NativeEndian.PutUint64(b[0:], d.EndpointID)
	binary.NativeEndian.PutUint64(b[8:], d.ParentEndpointID)
	binary.NativeEndian.PutUint32(b[16:], d.ProcessID)
	for i := 0; i < 4; i++ {
		binary.NativeEndian.PutUint32(b[20+4*i:], d.LocalAddr[i])
		binary.NativeEndian.PutUint32(b[36+4*i:], d.RemoteAddr[i])
	}
	binary.NativeEndian.PutUint16(b[52:], d.LocalPort)
	binary.NativeEndian.PutUint16(b[54:], d.RemotePort)
	b[56] = byte(d.Protocol)
}

// SocketData shares the flow layout.
type SocketData struct{ FlowData }

func (SocketData) layer() Layer { return Socket }

type ReflectData struct {
	Timestamp int64  // Handle open time.
	ProcessID uint32 // Handle process ID.
	Layer     Layer  // Handle layer.
	Flags     Flag   // Handle flags.
	Priority  int16  // Handle priority.
}

func (ReflectData) layer() Layer { return Reflect }

// Flags holds the WINDIVERT_ADDRESS bit fields.
type Flags uint8

const (
	flagSniffed Flags = 1 << iota
	flagOutbound
	flagLoopback
	flagImpostor
	flagIPv6
	flagIPChecksum
	flagTCPChecksum
	flagUDPChecksum
)

func (f *Flags) set(bit Flags, v bool) {
	if v {
		*f |= bit
	} else {
		*f &^= bit
	}
}

func (f Flags) Sniffed() bool     { return f&flagSniffed != 0 }
func (f Flags) Outbound() bool    { return f&flagOutbound != 0 }
func (f Flags) Loopback() bool    { return f&flagLoopback != 0 }
func (f Flags) Impostor() bool    { return f&flagImpostor != 0 }
func (f Flags) IPv6() bool        { return f&flagIPv6 != 0 }
func (f Flags) IPChecksum() bool  { return f&flagIPChecksum != 0 }
func (f Flags) TCPChecksum() bool { return f&flagTCPChecksum != 0 }
func (f Flags) UDPChecksum() bool { return f&flagUDPChecksum != 0 }

func (f *Flags) SetSniffed(v bool)     { f.set(flagSniffed, v) }
func (f *Flags) SetOutbound(v bool)    { f.set(flagOutbound, v) }
func (f *Flags) SetLoopback(v bool)    { f.set(flagLoopback, v) }
func (f *Flags) SetImpostor(v bool)    { f.set(flagImpostor, v) }
func (f *Flags) SetIPv6(v bool)        { f.set(flagIPv6, v) }
func (f *Flags) SetIPChecksum(v bool)  { f.set(flagIPChecksum, v) }
func (f *Flags) SetTCPChecksum(v bool) { f.set(flagTCPChecksum, v) }
func (f *Flags) SetUDPChecksum(v bool) { f.set(flagUDPChecksum, v) }
