//go:build windows
// +build windows

package dll

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

type file struct {
	name string
	dll  *windows.DLL
}

var _ source = (*file)(nil)

func (f *file) load() error {
	if f.dll != nil {
		return nil
	}
	dll, err := windows.LoadDLL(f.name)
	if err != nil {
		return errors.WithStack(err)
	}
	f.dll = dll
	return nil
}

func (f *file) proc(name string) (uintptr, error) {
	p, err := f.dll.FindProc(name)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return p.Addr(), nil
}

func (f *file) loaded() bool { return f.dll != nil }

func (f *file) release() error {
	if f.dll == nil {
		return nil
	}
	err := f.dll.Release()
	f.dll = nil
	return errors.WithStack(err)
}
