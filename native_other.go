//go:build !windows
// +build !windows

package divert

import (
	"net/netip"

	"github.com/pkg/errors"
)

// portable serves the parsing and address helpers in Go, everything that
// needs the driver reports ErrNotSupported.
type portable struct{}

func newNative() native { return portable{} }

// SetDLL reports ErrNotSupported outside windows.
func SetDLL(string) error { return errors.WithStack(ErrNotSupported{}) }

func (portable) Open([]byte, Layer, int16, Flag) (uintptr, error) {
	return InvalidHandle, ErrNotSupported{}
}

func (portable) RecvEx(uintptr, []byte, []Address) (int, int, error) {
	return 0, 0, ErrNotSupported{}
}

func (portable) SendEx(uintptr, []byte, []Address) (int, error) { return 0, ErrNotSupported{} }
func (portable) GetParam(uintptr, Param) (uint64, error)        { return 0, ErrNotSupported{} }
func (portable) SetParam(uintptr, Param, uint64) error          { return ErrNotSupported{} }
func (portable) Shutdown(uintptr, Shutdown) error               { return ErrNotSupported{} }
func (portable) Close(uintptr) error                            { return ErrNotSupported{} }

func (portable) ParsePacket(b []byte) (packetInfo, bool) { return decodePacket(b) }

func (portable) CompileFilter(string, Layer) ([]byte, error) { return nil, ErrNotSupported{} }
func (portable) FormatFilter([]byte, Layer) (string, error)  { return "", ErrNotSupported{} }

func (portable) EvalFilter([]byte, []byte, *Address) (bool, error) {
	return false, ErrNotSupported{}
}

func (portable) CalcChecksums([]byte, *Address, ChecksumFlag) error { return ErrNotSupported{} }

func (portable) ParseIPv4Address(s string) (uint32, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return 0, err
	}
	v, ok := IPv4AddrFrom(addr)
	if !ok || !addr.Is4() {
		return 0, errors.Errorf("%q is not an IPv4 address", s)
	}
	return uint32(v), nil
}

func (portable) ParseIPv6Address(s string) ([4]uint32, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return [4]uint32{}, err
	}
	if !addr.Is6() {
		return [4]uint32{}, errors.Errorf("%q is not an IPv6 address", s)
	}
	return [4]uint32(IPv6AddrFrom(addr)), nil
}

func (portable) FormatIPv4Address(a uint32) (string, error) {
	return IPv4Addr(a).Addr().String(), nil
}

func (portable) FormatIPv6Address(a [4]uint32) (string, error) {
	return IPv6Addr(a).Addr().String(), nil
}
