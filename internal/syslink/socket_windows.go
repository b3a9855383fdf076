//go:build windows
// +build windows

package syslink

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// controlSocket enables broadcast and address reuse on the announce socket (Windows)
func controlSocket(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		h := windows.Handle(fd)
		if sockErr = windows.SetsockoptInt(h, windows.SOL_SOCKET, windows.SO_REUSEADDR, 1); sockErr != nil {
			return
		}
		sockErr = windows.SetsockoptInt(h, windows.SOL_SOCKET, windows.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
