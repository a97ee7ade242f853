package divert

import (
	"testing"

	"github.com/stretchr/testify/mock"
)

type mockNative struct{ mock.Mock }

var _ native = (*mockNative)(nil)

// useNative routes package calls to n for the duration of t.
func useNative(t *testing.T, n native) {
	old := lib
	lib = n
	t.Cleanup(func() { lib = old })
}

func (m *mockNative) Open(filter []byte, layer Layer, priority int16, flags Flag) (uintptr, error) {
	args := m.Called(filter, layer, priority, flags)
	return args.Get(0).(uintptr), args.Error(1)
}

func (m *mockNative) RecvEx(h uintptr, packets []byte, addrs []Address) (int, int, error) {
	args := m.Called(h, packets, addrs)
	return args.Int(0), args.Int(1), args.Error(2)
}

func (m *mockNative) SendEx(h uintptr, packets []byte, addrs []Address) (int, error) {
	args := m.Called(h, packets, addrs)
	return args.Int(0), args.Error(1)
}

func (m *mockNative) GetParam(h uintptr, p Param) (uint64, error) {
	args := m.Called(h, p)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockNative) SetParam(h uintptr, p Param, v uint64) error {
	return m.Called(h, p, v).Error(0)
}

func (m *mockNative) Shutdown(h uintptr, how Shutdown) error {
	return m.Called(h, how).Error(0)
}

func (m *mockNative) Close(h uintptr) error {
	return m.Called(h).Error(0)
}

func (m *mockNative) ParsePacket(b []byte) (packetInfo, bool) { return decodePacket(b) }

func (m *mockNative) CompileFilter(filter string, layer Layer) ([]byte, error) {
	args := m.Called(filter, layer)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

func (m *mockNative) FormatFilter(filter []byte, layer Layer) (string, error) {
	args := m.Called(filter, layer)
	return args.String(0), args.Error(1)
}

func (m *mockNative) EvalFilter(filter []byte, packet []byte, addr *Address) (bool, error) {
	args := m.Called(filter, packet, addr)
	return args.Bool(0), args.Error(1)
}

func (m *mockNative) CalcChecksums(packet []byte, addr *Address, flags ChecksumFlag) error {
	return m.Called(packet, addr, flags).Error(0)
}

func (m *mockNative) ParseIPv4Address(s string) (uint32, error) {
	args := m.Called(s)
	return args.Get(0).(uint32), args.Error(1)
}

func (m *mockNative) ParseIPv6Address(s string) ([4]uint32, error) {
	args := m.Called(s)
	return args.Get(0).([4]uint32), args.Error(1)
}

func (m *mockNative) FormatIPv4Address(a uint32) (string, error) {
	args := m.Called(a)
	return args.String(0), args.Error(1)
}

func (m *mockNative) FormatIPv6Address(a [4]uint32) (string, error) {
	args := m.Called(a)
	return args.String(0), args.Error(1)
}

// parser overrides the parse primitive of a mockNative.
type parser struct {
	*mockNative
	parse func(b []byte) (packetInfo, bool)
}

func (p parser) ParsePacket(b []byte) (packetInfo, bool) { return p.parse(b) }
