//go:build !linux && !windows

package cpu

// BindCpuCore is unsupported here and always reports failure.
func BindCpuCore(core int) bool {
	return false
}

func UnbindCpuCore() bool {
	return true
}
