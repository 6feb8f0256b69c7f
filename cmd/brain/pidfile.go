package main

import (
	"fmt"
	"os"
	"strconv"
	"syscall"
)

// acquirePIDLock checks for a running daemon and, if none is found, writes
// the current process's PID to path. Grounded on the retrieved daemon
// command's acquirePIDLock: liveness is checked with a signal-0 probe
// rather than trusting the file's mere presence, so a crash that leaves a
// stale PID file behind does not permanently block restarts.
func acquirePIDLock(path string) error {
	if data, err := os.ReadFile(path); err == nil {
		if pid, err := strconv.Atoi(string(data)); err == nil {
			if process, err := os.FindProcess(pid); err == nil {
				if err := process.Signal(syscall.Signal(0)); err == nil {
					return fmt.Errorf("daemon already running (pid %d)", pid)
				}
			}
		}
		// Stale file from a prior crash; remove and proceed.
		_ = os.Remove(path)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600)
}

// readPIDLock returns the PID recorded in path and whether that process is
// still alive, used by `daemon stop` and `daemon status`.
func readPIDLock(path string) (pid int, alive bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false, err
	}
	pid, err = strconv.Atoi(string(data))
	if err != nil {
		return 0, false, fmt.Errorf("malformed pid file %s: %w", path, err)
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return pid, false, nil
	}
	alive = process.Signal(syscall.Signal(0)) == nil
	return pid, alive, nil
}
