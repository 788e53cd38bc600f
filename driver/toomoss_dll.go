//go:build windows

package driver

import (
	"fmt"
	"log"
	"sync"
	"syscall"
	"unsafe"
)

// USB2XXX.dll 中用到的函数
type usb2xxx struct {
	dll              syscall.Handle
	usbScanDevice    uintptr
	usbOpenDevice    uintptr
	usbCloseDevice   uintptr
	canfdInit        uintptr
	canfdStartGetMsg uintptr
	canfdStopGetMsg  uintptr
	canfdGetMsg      uintptr
	canfdSendMsg     uintptr
	canfdGetSpeedArg uintptr
}

var (
	usbLib     usb2xxx
	usbLibErr  error
	usbLibOnce sync.Once
)

// loadUSB2XXX 首次使用时加载DLL，而不是在包初始化时
func loadUSB2XXX() (*usb2xxx, error) {
	usbLibOnce.Do(func() {
		if _, err := syscall.LoadLibrary(toomossDLLDir + "libusb-1.0.dll"); err != nil {
			usbLibErr = fmt.Errorf("load libusb-1.0.dll: %w", err)
			return
		}
		dll, err := syscall.LoadLibrary(toomossDLLDir + "USB2XXX.dll")
		if err != nil {
			usbLibErr = fmt.Errorf("load USB2XXX.dll: %w", err)
			return
		}
		usbLib.dll = dll
		procs := []struct {
			name string
			dst  *uintptr
		}{
			{"USB_ScanDevice", &usbLib.usbScanDevice},
			{"USB_OpenDevice", &usbLib.usbOpenDevice},
			{"USB_CloseDevice", &usbLib.usbCloseDevice},
			{"CANFD_Init", &usbLib.canfdInit},
			{"CANFD_StartGetMsg", &usbLib.canfdStartGetMsg},
			{"CANFD_StopGetMsg", &usbLib.canfdStopGetMsg},
			{"CANFD_GetMsg", &usbLib.canfdGetMsg},
			{"CANFD_SendMsg", &usbLib.canfdSendMsg},
			{"CANFD_GetCANSpeedArg", &usbLib.canfdGetSpeedArg},
		}
		for _, p := range procs {
			addr, err := syscall.GetProcAddress(dll, p.name)
			if err != nil {
				usbLibErr = fmt.Errorf("USB2XXX.dll: %s: %w", p.name, err)
				return
			}
			*p.dst = addr
		}
		log.Println("Loaded " + toomossDLLDir + "USB2XXX.dll")
	})
	if usbLibErr != nil {
		return nil, usbLibErr
	}
	return &usbLib, nil
}

// scanDevices 返回扫描到的设备句柄
func (u *usb2xxx) scanDevices() []int32 {
	var handles [maxToomossDevices]int32
	n, _, _ := syscall.SyscallN(u.usbScanDevice, uintptr(unsafe.Pointer(&handles[0])))
	if int(n) <= 0 {
		return nil
	}
	return handles[:min(int(n), maxToomossDevices)]
}

func (u *usb2xxx) open(handle int32) bool {
	ret, _, _ := syscall.SyscallN(u.usbOpenDevice, uintptr(handle))
	return ret >= 1
}

func (u *usb2xxx) close(handle int32) bool {
	ret, _, _ := syscall.SyscallN(u.usbCloseDevice, uintptr(handle))
	return ret >= 1
}
