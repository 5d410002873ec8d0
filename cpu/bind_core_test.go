//go:build linux

package cpu

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestBindCpuCore(t *testing.T) {
	require.False(t, BindCpuCore(-1))
	require.False(t, BindCpuCore(runtime.NumCPU()))

	var allowed unix.CPUSet
	require.NoError(t, unix.SchedGetaffinity(0, &allowed))
	core := -1
	for i := 0; i < runtime.NumCPU(); i++ {
		if allowed.IsSet(i) {
			core = i
			break
		}
	}
	if core < 0 {
		t.Skip("no usable core")
	}
	require.True(t, BindCpuCore(core))
	var set unix.CPUSet
	require.NoError(t, unix.SchedGetaffinity(0, &set))
	require.Equal(t, 1, set.Count())
	require.True(t, set.IsSet(core))
	UnbindCpuCore()
}
