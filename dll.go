//go:build windows
// +build windows

package divert

import (
	"sync"

	"github.com/netdivert/divert/dll"
	"github.com/pkg/errors"
)

var (
	loadMu    sync.Mutex
	divertDLL = dll.NewLazyDLL("WinDivert.dll")

	procOpen     = divertDLL.NewProc("WinDivertOpen")
	procRecvEx   = divertDLL.NewProc("WinDivertRecvEx")
	procSendEx   = divertDLL.NewProc("WinDivertSendEx")
	procShutdown = divertDLL.NewProc("WinDivertShutdown")
	procClose    = divertDLL.NewProc("WinDivertClose")
	procSetParam = divertDLL.NewProc("WinDivertSetParam")
	procGetParam = divertDLL.NewProc("WinDivertGetParam")

	procParsePacket       = divertDLL.NewProc("WinDivertHelperParsePacket")
	procCompileFilter     = divertDLL.NewProc("WinDivertHelperCompileFilter")
	procEvalFilter        = divertDLL.NewProc("WinDivertHelperEvalFilter")
	procFormatFilter      = divertDLL.NewProc("WinDivertHelperFormatFilter")
	procCalcChecksums     = divertDLL.NewProc("WinDivertHelperCalcChecksums")
	procParseIPv4Address  = divertDLL.NewProc("WinDivertHelperParseIPv4Address")
	procParseIPv6Address  = divertDLL.NewProc("WinDivertHelperParseIPv6Address")
	procFormatIPv4Address = divertDLL.NewProc("WinDivertHelperFormatIPv4Address")
	procFormatIPv6Address = divertDLL.NewProc("WinDivertHelperFormatIPv6Address")
)

// SetDLL loads WinDivert.dll from path instead of the default search
// order. The driver is installed by the dll itself on first Open.
func SetDLL(path string) error {
	loadMu.Lock()
	defer loadMu.Unlock()

	if err := dll.Reset(divertDLL, path); err != nil {
		return errors.WithStack(ErrLoaded{})
	}
	openFlags.And(^uint64(NoInstall))
	logger.WithField("path", path).Debug("divert: dll source set")
	return nil
}

// LoadMemory loads WinDivert.dll from its image and installs the driver
// from sys, the .sys file matching the dll.
func LoadMemory(image, sys []byte) error {
	loadMu.Lock()
	defer loadMu.Unlock()

	if divertDLL.Loaded() {
		return errors.WithStack(ErrLoaded{})
	}
	if err := installDriver(sys); err != nil {
		return err
	}
	if err := dll.Reset(divertDLL, image); err != nil {
		return errors.WithStack(ErrLoaded{})
	}
	if err := divertDLL.Load(); err != nil {
		return err
	}

	// the driver is already in place, the dll must not look for a .sys next
	// to itself
	openFlags.Or(uint64(NoInstall))
	logger.WithField("size", len(image)).Debug("divert: dll loaded from memory")
	return nil
}

// Release unloads the dll. Handles must be closed before.
func Release() error {
	loadMu.Lock()
	defer loadMu.Unlock()

	if !divertDLL.Loaded() {
		return errors.WithStack(ErrNotLoad{})
	}
	logger.Debug("divert: dll released")
	return divertDLL.Release()
}
