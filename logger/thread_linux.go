//go:build linux

package logger

import (
	"golang.org/x/sys/unix"
)

func threadId() int {
	return unix.Gettid()
}
