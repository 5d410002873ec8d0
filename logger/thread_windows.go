//go:build windows

package logger

import (
	"golang.org/x/sys/windows"
)

func threadId() int {
	return int(windows.GetCurrentThreadId())
}
