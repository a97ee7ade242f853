//go:build windows
// +build windows

package divert

import (
	"io"
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

// winDivert calls into WinDivert.dll.
type winDivert struct{}

func newNative() native { return winDivert{} }

const addrSize = uint32(unsafe.Sizeof(Address{}))

// handleError classifies the last error of a failed native call.
func handleError(e syscall.Errno) error {
	switch e {
	case windows.ERROR_INVALID_HANDLE, // close before the call
		windows.ERROR_OPERATION_ABORTED: // close during the call
		return ErrClosed{}
	case windows.ERROR_NO_DATA:
		return ErrShutdown{}
	case windows.ERROR_INSUFFICIENT_BUFFER:
		return io.ErrShortBuffer
	case 0:
		return syscall.EINVAL
	default:
		return e
	}
}

// u64 spreads a 64 bit argument over the argument slots it takes.
func u64(v uint64) []uintptr {
	if unsafe.Sizeof(uintptr(0)) == 8 {
		return []uintptr{uintptr(v)}
	}
	return []uintptr{uintptr(uint32(v)), uintptr(v >> 32)}
}

// cstr returns b NUL terminated.
func cstr(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == 0 {
		return b
	}
	return append(append(make([]byte, 0, len(b)+1), b...), 0)
}

func gostr(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func (winDivert) Open(filter []byte, layer Layer, priority int16, flags Flag) (uintptr, error) {
	if err := procOpen.Find(); err != nil {
		return InvalidHandle, errors.WithStack(err)
	}
	f := cstr(filter)
	args := append([]uintptr{uintptr(unsafe.Pointer(&f[0])), uintptr(layer), uintptr(priority)}, u64(uint64(flags))...)
	r1, _, e := syscall.SyscallN(procOpen.Addr(), args...)
	if r1 == InvalidHandle {
		return InvalidHandle, handleError(e)
	}
	return r1, nil
}

func (winDivert) RecvEx(h uintptr, packets []byte, addrs []Address) (int, int, error) {
	var recvLen uint32
	addrLen := uint32(len(addrs)) * addrSize

	var pAddrLen *uint32
	if len(addrs) > 0 {
		pAddrLen = &addrLen
	}
	r1, _, e := syscall.SyscallN(
		procRecvEx.Addr(),
		h,
		uintptr(unsafe.Pointer(unsafe.SliceData(packets))), // pPacket
		uintptr(len(packets)),                              // packetLen
		uintptr(unsafe.Pointer(&recvLen)),                  // pRecvLen
		0,                                                  // flags
		uintptr(unsafe.Pointer(unsafe.SliceData(addrs))),   // pAddr
		uintptr(unsafe.Pointer(pAddrLen)),                  // pAddrLen
		0,                                                  // lpOverlapped
	)
	if r1 == 0 {
		return 0, 0, handleError(e)
	}
	return int(recvLen), int(addrLen / addrSize), nil
}

func (winDivert) SendEx(h uintptr, packets []byte, addrs []Address) (int, error) {
	var sendLen uint32
	r1, _, e := syscall.SyscallN(
		procSendEx.Addr(),
		h,
		uintptr(unsafe.Pointer(unsafe.SliceData(packets))), // pPacket
		uintptr(len(packets)),                              // packetLen
		uintptr(unsafe.Pointer(&sendLen)),                  // pSendLen
		0,                                                  // flags
		uintptr(unsafe.Pointer(unsafe.SliceData(addrs))),   // pAddr
		uintptr(uint32(len(addrs))*addrSize),               // addrLen
		0,                                                  // lpOverlapped
	)
	if r1 == 0 {
		return 0, handleError(e)
	}
	return int(sendLen), nil
}

func (winDivert) GetParam(h uintptr, p Param) (uint64, error) {
	var v uint64
	r1, _, e := syscall.SyscallN(procGetParam.Addr(), h, uintptr(p), uintptr(unsafe.Pointer(&v)))
	if r1 == 0 {
		return 0, handleError(e)
	}
	return v, nil
}

func (winDivert) SetParam(h uintptr, p Param, v uint64) error {
	r1, _, e := syscall.SyscallN(procSetParam.Addr(), append([]uintptr{h, uintptr(p)}, u64(v)...)...)
	if r1 == 0 {
		return handleError(e)
	}
	return nil
}

func (winDivert) Shutdown(h uintptr, how Shutdown) error {
	r1, _, e := syscall.SyscallN(procShutdown.Addr(), h, uintptr(how))
	if r1 == 0 {
		return handleError(e)
	}
	return nil
}

func (winDivert) Close(h uintptr) error {
	r1, _, e := syscall.SyscallN(procClose.Addr(), h)
	if r1 == 0 {
		return handleError(e)
	}
	return nil
}

func (winDivert) ParsePacket(b []byte) (packetInfo, bool) {
	var info packetInfo
	if len(b) == 0 {
		return info, false
	}
	if procParsePacket.Find() != nil {
		return info, false
	}

	var (
		ipv4, ipv6, icmpv4, icmpv6, tcp, udp, data, next uintptr
		protocol                                         uint8
		dataLen, nextLen                                 uint32
	)
	r1, _, _ := syscall.SyscallN(
		procParsePacket.Addr(),
		uintptr(unsafe.Pointer(&b[0])),
		uintptr(len(b)),
		uintptr(unsafe.Pointer(&ipv4)),
		uintptr(unsafe.Pointer(&ipv6)),
		uintptr(unsafe.Pointer(&protocol)),
		uintptr(unsafe.Pointer(&icmpv4)),
		uintptr(unsafe.Pointer(&icmpv6)),
		uintptr(unsafe.Pointer(&tcp)),
		uintptr(unsafe.Pointer(&udp)),
		uintptr(unsafe.Pointer(&data)),
		uintptr(unsafe.Pointer(&dataLen)),
		uintptr(unsafe.Pointer(&next)),
		uintptr(unsafe.Pointer(&nextLen)),
	)
	if r1 == 0 {
		return info, false
	}

	base := uintptr(unsafe.Pointer(&b[0]))
	at := func(p uintptr) int { return int(p - base) }

	end := len(b)
	if next != 0 && nextLen > 0 {
		info.Next = span(at(next), int(nextLen))
		end = info.Next.off
	}
	info.Protocol = Proto(protocol)
	if ipv4 != 0 {
		off := at(ipv4)
		info.IPv4 = span(off, int(b[off]&0x0f)*4)
	}
	if ipv6 != 0 {
		info.IPv6 = span(at(ipv6), 40)
	}
	if icmpv4 != 0 {
		info.ICMPv4 = span(at(icmpv4), 8)
	}
	if icmpv6 != 0 {
		info.ICMPv6 = span(at(icmpv6), 8)
	}
	if tcp != 0 {
		off := at(tcp)
		info.TCP = span(off, int(b[off+12]>>4)*4)
	}
	if udp != 0 {
		info.UDP = span(at(udp), 8)
	}
	if data != 0 && dataLen > 0 {
		info.Data = span(at(data), int(dataLen))
	} else {
		info.Data = span(end, 0)
	}
	return info, true
}

func (winDivert) CompileFilter(filter string, layer Layer) ([]byte, error) {
	if err := procCompileFilter.Find(); err != nil {
		return nil, errors.WithStack(err)
	}
	pf, err := windows.BytePtrFromString(filter)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var (
		obj    = make([]byte, 256*24)
		errStr *byte
		errPos uint32
	)
	r1, _, e := syscall.SyscallN(
		procCompileFilter.Addr(),
		uintptr(unsafe.Pointer(pf)),
		uintptr(layer),
		uintptr(unsafe.Pointer(&obj[0])),
		uintptr(len(obj)),
		uintptr(unsafe.Pointer(&errStr)),
		uintptr(unsafe.Pointer(&errPos)),
	)
	if r1 == 0 {
		if errStr != nil {
			return nil, &InvalidFilterError{Filter: filter, Msg: windows.BytePtrToString(errStr), Pos: errPos}
		}
		return nil, handleError(e)
	}

	n := min(len(gostr(obj))+1, len(obj))
	return append([]byte(nil), obj[:n]...), nil
}

func (winDivert) FormatFilter(filter []byte, layer Layer) (string, error) {
	if err := procFormatFilter.Find(); err != nil {
		return "", errors.WithStack(err)
	}
	f := cstr(filter)
	buf := make([]byte, 30000)
	r1, _, e := syscall.SyscallN(
		procFormatFilter.Addr(),
		uintptr(unsafe.Pointer(&f[0])),
		uintptr(layer),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(len(buf)),
	)
	if r1 == 0 {
		return "", handleError(e)
	}
	return gostr(buf), nil
}

func (winDivert) EvalFilter(filter []byte, packet []byte, addr *Address) (bool, error) {
	if err := procEvalFilter.Find(); err != nil {
		return false, errors.WithStack(err)
	}
	f := cstr(filter)
	r1, _, e := syscall.SyscallN(
		procEvalFilter.Addr(),
		uintptr(unsafe.Pointer(&f[0])),
		uintptr(unsafe.Pointer(unsafe.SliceData(packet))),
		uintptr(len(packet)),
		uintptr(unsafe.Pointer(addr)),
	)
	if r1 == 0 {
		// a mismatch leaves the last error untouched
		if e == windows.ERROR_INVALID_PARAMETER {
			return false, e
		}
		return false, nil
	}
	return true, nil
}

func (winDivert) CalcChecksums(packet []byte, addr *Address, flags ChecksumFlag) error {
	if err := procCalcChecksums.Find(); err != nil {
		return errors.WithStack(err)
	}
	args := append([]uintptr{
		uintptr(unsafe.Pointer(unsafe.SliceData(packet))),
		uintptr(len(packet)),
		uintptr(unsafe.Pointer(addr)),
	}, u64(uint64(flags))...)
	r1, _, e := syscall.SyscallN(procCalcChecksums.Addr(), args...)
	if r1 == 0 {
		return handleError(e)
	}
	return nil
}

func (winDivert) ParseIPv4Address(s string) (uint32, error) {
	if err := procParseIPv4Address.Find(); err != nil {
		return 0, errors.WithStack(err)
	}
	p, err := windows.BytePtrFromString(s)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	var v uint32
	r1, _, e := syscall.SyscallN(procParseIPv4Address.Addr(), uintptr(unsafe.Pointer(p)), uintptr(unsafe.Pointer(&v)))
	if r1 == 0 {
		return 0, errors.Wrapf(handleError(e), "parse %q", s)
	}
	return v, nil
}

func (winDivert) ParseIPv6Address(s string) ([4]uint32, error) {
	if err := procParseIPv6Address.Find(); err != nil {
		return [4]uint32{}, errors.WithStack(err)
	}
	p, err := windows.BytePtrFromString(s)
	if err != nil {
		return [4]uint32{}, errors.WithStack(err)
	}
	var v [4]uint32
	r1, _, e := syscall.SyscallN(procParseIPv6Address.Addr(), uintptr(unsafe.Pointer(p)), uintptr(unsafe.Pointer(&v[0])))
	if r1 == 0 {
		return [4]uint32{}, errors.Wrapf(handleError(e), "parse %q", s)
	}
	return v, nil
}

func (winDivert) FormatIPv4Address(a uint32) (string, error) {
	if err := procFormatIPv4Address.Find(); err != nil {
		return "", errors.WithStack(err)
	}
	buf := make([]byte, 16)
	r1, _, e := syscall.SyscallN(procFormatIPv4Address.Addr(), uintptr(a), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if r1 == 0 {
		return "", handleError(e)
	}
	return gostr(buf), nil
}

func (winDivert) FormatIPv6Address(a [4]uint32) (string, error) {
	if err := procFormatIPv6Address.Find(); err != nil {
		return "", errors.WithStack(err)
	}
	buf := make([]byte, 46)
	r1, _, e := syscall.SyscallN(procFormatIPv6Address.Addr(), uintptr(unsafe.Pointer(&a[0])), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if r1 == 0 {
		return "", handleError(e)
	}
	return gostr(buf), nil
}
