//go:build !linux && !windows

package logger

// threadId is unknown here.
func threadId() int {
	return -1
}
