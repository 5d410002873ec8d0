//go:build linux

package cpu

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// BindCpuCore locks the calling goroutine to its thread and pins that thread
// to core.
func BindCpuCore(core int) bool {
	if core < 0 || core >= runtime.NumCPU() {
		return false
	}
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Set(core)
	err := unix.SchedSetaffinity(0, &set)
	if err != nil {
		runtime.UnlockOSThread()
		return false
	}
	return true
}

func UnbindCpuCore() bool {
	var set unix.CPUSet
	for core := 0; core < runtime.NumCPU(); core++ {
		set.Set(core)
	}
	err := unix.SchedSetaffinity(0, &set)
	if err != nil {
		return false
	}
	runtime.UnlockOSThread()
	return true
}
