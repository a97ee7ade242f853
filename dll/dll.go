//go:build windows
// +build windows

package dll

import (
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/pkg/errors"
)

type source interface {
	load() error
	proc(name string) (uintptr, error)
	release() error
	loaded() bool
}

// LazyDLL is a DLL loaded on the first procedure lookup.
type LazyDLL struct {
	mu    sync.Mutex
	src   source
	procs []*LazyProc
}

func newSource[T string | []byte](src T) source {
	switch src := any(src).(type) {
	case string:
		return &file{name: src}
	case []byte:
		return &mem{data: src}
	default:
		panic("unreachable")
	}
}

// NewLazyDLL describes a DLL by file name or by its in-memory image.
func NewLazyDLL[T string | []byte](src T) *LazyDLL {
	return &LazyDLL{src: newSource(src)}
}

// Reset points dll at another source, the dll must not be loaded yet.
func Reset[T string | []byte](dll *LazyDLL, src T) error {
	dll.mu.Lock()
	defer dll.mu.Unlock()
	if dll.src.loaded() {
		return errors.New("can't reset a loaded dll")
	}
	dll.src = newSource(src)
	return nil
}

func (d *LazyDLL) Load() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.src.load()
}

func (d *LazyDLL) Loaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.src.loaded()
}

// Release unloads the dll, procedures resolve again on next use.
func (d *LazyDLL) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.procs {
		p.addr.Store(0)
	}
	return d.src.release()
}

func (d *LazyDLL) NewProc(name string) *LazyProc {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := &LazyProc{Name: name, dll: d}
	d.procs = append(d.procs, p)
	return p
}

func (d *LazyDLL) find(name string) (uintptr, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.src.load(); err != nil {
		return 0, err
	}
	return d.src.proc(name)
}

type LazyProc struct {
	Name string

	dll  *LazyDLL
	addr atomic.Uintptr
}

// Find loads the dll if needed and resolves the procedure.
func (p *LazyProc) Find() error {
	if p.addr.Load() != 0 {
		return nil
	}
	addr, err := p.dll.find(p.Name)
	if err != nil {
		return err
	}
	p.addr.Store(addr)
	return nil
}

// Addr is the procedure address, it panics when the procedure can't be
// found.
func (p *LazyProc) Addr() uintptr {
	if err := p.Find(); err != nil {
		panic(err)
	}
	return p.addr.Load()
}

func (p *LazyProc) Call(a ...uintptr) (r1, r2 uintptr, lastErr error) {
	return syscall.SyscallN(p.Addr(), a...)
}
