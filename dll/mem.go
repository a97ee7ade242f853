//go:build windows
// +build windows

package dll

import (
	"github.com/pkg/errors"
	"golang.zx2c4.com/wireguard/windows/driver/memmod"
)

type mem struct {
	data []byte
	dll  *memmod.Module
}

var _ source = (*mem)(nil)

func (m *mem) load() error {
	if m.dll != nil {
		return nil
	}
	dll, err := memmod.LoadLibrary(m.data)
	if err != nil {
		return errors.WithStack(err)
	}
	m.dll = dll
	return nil
}

func (m *mem) proc(name string) (uintptr, error) {
	addr, err := m.dll.ProcAddressByName(name)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return addr, nil
}

func (m *mem) loaded() bool { return m.dll != nil }

func (m *mem) release() error {
	if m.dll != nil {
		m.dll.Free()
		m.dll = nil
	}
	return nil
}
