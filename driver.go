//go:build windows
// +build windows

package divert

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"
)

const (
	deviceName         = "WinDivert"
	driverInstallMutex = "WinDivertDriverInstallMutex"
)

// installDriver writes sys to the temp directory and registers it as the
// WinDivert kernel service.
func installDriver(sys []byte) error {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("WinDivert%d.sys", unsafe.Sizeof(uintptr(0))*8))

	old, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.WithStack(err)
	}
	if !bytes.Equal(old, sys) {
		if err := os.WriteFile(path, sys, 0o644); err != nil {
			// the running service keeps the old file locked
			logger.WithError(err).WithField("path", path).Warn("divert: driver file not replaced")
		}
	}
	return startDriver(path)
}

func startDriver(sysPath string) error {
	if installed, err := driverInstalled(); err != nil {
		return err
	} else if installed {
		return nil
	}
	mu, err := newDriverMutex()
	if err != nil {
		return err
	}
	if err := mu.Lock(); err != nil {
		return err
	}
	defer mu.Unlock()

	manager, err := windows.OpenSCManager(nil, nil, windows.SC_MANAGER_ALL_ACCESS)
	if err != nil {
		return errors.WithStack(err)
	}
	defer windows.CloseServiceHandle(manager)

	pdevice, err := windows.UTF16PtrFromString(deviceName)
	if err != nil {
		return errors.WithStack(err)
	}
	service, err := windows.OpenService(manager, pdevice, windows.SERVICE_ALL_ACCESS)
	if errors.Is(err, windows.ERROR_SERVICE_DOES_NOT_EXIST) {
		psysPath, err := windows.UTF16PtrFromString(sysPath)
		if err != nil {
			return errors.WithStack(err)
		}
		service, err = windows.CreateService(
			manager,                       // hSCManager
			pdevice,                       // lpServiceName
			pdevice,                       // lpDisplayName
			windows.SERVICE_ALL_ACCESS,    // dwDesiredAccess
			windows.SERVICE_KERNEL_DRIVER, // dwServiceType
			windows.SERVICE_DEMAND_START,  // dwStartType
			windows.SERVICE_ERROR_NORMAL,  // dwErrorControl
			psysPath,                      // lpBinaryPathName
			nil, nil, nil, nil, nil,
		)
		if errors.Is(err, windows.ERROR_SERVICE_EXISTS) {
			service, err = windows.OpenService(manager, pdevice, windows.SERVICE_ALL_ACCESS)
		}
		if err != nil {
			return errors.WithStack(err)
		}
	} else if err != nil {
		return errors.WithStack(err)
	}
	defer windows.CloseServiceHandle(service)

	if err = windows.StartService(service, 0, nil); err != nil && !errors.Is(err, windows.ERROR_SERVICE_ALREADY_RUNNING) {
		return errors.WithStack(err)
	}

	// a running service is only removed once it stops or the system reboots
	if err := windows.DeleteService(service); err != nil {
		logger.WithError(err).Debug("divert: mark driver service for deletion")
	}
	logger.WithField("path", sysPath).Debug("divert: driver started")
	return nil
}

// UninstallDriver stops the WinDivert service and waits until it is gone.
// Every handle, in this process or another, must be closed before.
func UninstallDriver() error {
	if installed, err := driverInstalled(); err != nil {
		return err
	} else if !installed {
		return nil
	}
	mu, err := newDriverMutex()
	if err != nil {
		return err
	}
	if err := mu.Lock(); err != nil {
		return err
	}
	defer mu.Unlock()

	manager, err := windows.OpenSCManager(nil, nil, windows.SC_MANAGER_ALL_ACCESS)
	if err != nil {
		return errors.WithStack(err)
	}
	defer windows.CloseServiceHandle(manager)

	pdevice, err := windows.UTF16PtrFromString(deviceName)
	if err != nil {
		return errors.WithStack(err)
	}
	service, err := windows.OpenService(manager, pdevice, windows.SERVICE_ALL_ACCESS)
	if errors.Is(err, windows.ERROR_SERVICE_DOES_NOT_EXIST) {
		return nil
	} else if err != nil {
		return errors.WithStack(err)
	}
	defer windows.CloseServiceHandle(service)

	var status windows.SERVICE_STATUS
	if err := windows.ControlService(service, windows.SERVICE_CONTROL_STOP, &status); err != nil {
		return errors.WithStack(err)
	}
	for i := 0; status.CurrentState != windows.SERVICE_STOPPED; i++ {
		if err := windows.QueryServiceStatus(service, &status); err != nil {
			return errors.WithStack(err)
		}
		if status.CurrentState != windows.SERVICE_STOPPED {
			logger.WithFields(logrus.Fields{"state": status.CurrentState, "retry": i}).Warn("divert: waiting for driver to stop")
			time.Sleep(time.Second)
		}
	}
	return errors.WithStack(windows.DeleteService(service))
}

type driverMutex windows.Handle

// newDriverMutex opens the named mutex that keeps two processes from
// installing the driver at the same time.
func newDriverMutex() (driverMutex, error) {
	pmu, err := windows.UTF16PtrFromString(driverInstallMutex)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	mutex, err := windows.CreateMutex(nil, false, pmu)
	if err != nil && !errors.Is(err, windows.ERROR_ALREADY_EXISTS) {
		return 0, errors.WithStack(err)
	}
	return driverMutex(mutex), nil
}

func (m driverMutex) Lock() error {
	event, err := windows.WaitForSingleObject(windows.Handle(m), windows.INFINITE)
	if err != nil {
		return errors.WithStack(err)
	} else if event != windows.WAIT_OBJECT_0 && event != windows.WAIT_ABANDONED {
		return errors.Errorf("WaitForSingleObject event %d", event)
	}
	return nil
}

func (m driverMutex) Unlock() {
	windows.ReleaseMutex(windows.Handle(m))
	windows.Close(windows.Handle(m))
}

func driverInstalled() (bool, error) {
	pname, err := windows.UTF16PtrFromString(`\\.\` + deviceName)
	if err != nil {
		return false, errors.WithStack(err)
	}

	h, err := windows.CreateFile(
		pname,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		0,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_ATTRIBUTE_NORMAL|windows.FILE_FLAG_OVERLAPPED,
		0,
	)
	if errors.Is(err, windows.ERROR_FILE_NOT_FOUND) || errors.Is(err, windows.ERROR_PATH_NOT_FOUND) {
		return false, nil
	} else if err != nil {
		return false, errors.WithStack(err)
	}
	windows.Close(h)
	return true, nil
}
