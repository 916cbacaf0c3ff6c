//go:build !windows

package main

import "syscall"

// getDaemonSysProcAttr detaches the background daemon from the
// controlling terminal.
func getDaemonSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setsid: true,
	}
}
