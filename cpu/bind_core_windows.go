//go:build windows

package cpu

import (
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

var procSetThreadAffinityMask = windows.NewLazySystemDLL("kernel32.dll").NewProc("SetThreadAffinityMask")

func setAffinity(mask uintptr) bool {
	_, _, err := procSetThreadAffinityMask.Call(uintptr(windows.CurrentThread()), mask)
	return errors.Is(err, windows.NOERROR)
}

func BindCpuCore(core int) bool {
	if core < 0 || core >= runtime.NumCPU() {
		return false
	}
	runtime.LockOSThread()
	if !setAffinity(1 << core) {
		runtime.UnlockOSThread()
		return false
	}
	return true
}

func UnbindCpuCore() bool {
	var mask uintptr
	for core := 0; core < runtime.NumCPU(); core++ {
		mask |= 1 << core
	}
	if !setAffinity(mask) {
		return false
	}
	runtime.UnlockOSThread()
	return true
}
