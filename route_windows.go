package divert

import (
	"net"
	"net/netip"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

// Loopback reports whether a packet from src to dst stays on this host. An
// unspecified src is resolved to the address of the outgoing interface.
func Loopback(src, dst netip.Addr) bool {
	if src.IsUnspecified() {
		var err error
		if src, _, err = Gateway(dst); err != nil {
			return false
		}
	}
	return src == dst
}

// Gateway returns the local address and index of the interface windows
// routes dst through.
func Gateway(dst netip.Addr) (gateway netip.Addr, ifIdx uint32, err error) {
	var idx uint32
	if dst.Is4() {
		err = windows.GetBestInterfaceEx(&windows.SockaddrInet4{Addr: dst.As4()}, &idx)
	} else {
		err = windows.GetBestInterfaceEx(&windows.SockaddrInet6{Addr: dst.As16()}, &idx)
	}
	if err != nil {
		return netip.Addr{}, 0, errors.WithStack(err)
	}

	addrs, err := (&net.Interface{Index: int(idx)}).Addrs()
	if err != nil {
		return netip.Addr{}, 0, errors.WithStack(err)
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if a, ok := netip.AddrFromSlice(ipnet.IP); ok && a.Unmap().BitLen() == dst.BitLen() {
			return a.Unmap(), idx, nil
		}
	}
	return netip.Addr{}, idx, errors.Errorf("interface %d has no %d bit address", idx, dst.BitLen())
}

// OutboundAddress builds the metadata to inject a packet for dst on the
// network layer: the outgoing interface, the direction and loopback flags.
func OutboundAddress(src, dst netip.Addr) (Address, error) {
	gateway, idx, err := Gateway(dst)
	if err != nil {
		return Address{}, err
	}
	if src.IsUnspecified() {
		src = gateway
	}

	var addr Address
	addr.SetData(NetworkData{IfIdx: idx})
	addr.Flags.SetOutbound(true)
	addr.Flags.SetLoopback(src == dst)
	addr.Flags.SetIPv6(dst.Is6() && !dst.Is4In6())
	return addr, nil
}
