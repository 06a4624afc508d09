// Package sysutil provides thin, retry-on-EINTR wrappers over the POSIX
// primitives the executor needs beyond what os/exec already wraps: raw
// pipe/dup/close plumbing and terminal foreground-group control. Callers
// never see a raw EINTR; unrecoverable failures come back as a
// *FatalError the caller is expected to turn into os.Exit(13).
package sysutil

import (
	"fmt"
	"syscall"
	"unsafe"
)

// FatalError marks a syscall failure spec.md treats as unrecoverable for
// the whole interpreter (fork/pipe-equivalent failures).
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("%s: %s", e.Op, e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// Pipe creates a pipe, retrying on EINTR, and reports a *FatalError on
// any other failure.
func Pipe() (r, w int, err error) {
	var fds [2]int
	for {
		e := syscall.Pipe(fds[:])
		if e == nil {
			return fds[0], fds[1], nil
		}
		if e != syscall.EINTR {
			return -1, -1, &FatalError{Op: "pipe", Err: e}
		}
	}
}

// Dup duplicates oldfd, retrying on EINTR.
func Dup(oldfd int) (int, error) {
	for {
		fd, e := syscall.Dup(oldfd)
		if e == nil {
			return fd, nil
		}
		if e != syscall.EINTR {
			return -1, fmt.Errorf("dup: %w", e)
		}
	}
}

// Dup2 duplicates oldfd onto newfd, retrying on EINTR.
func Dup2(oldfd, newfd int) error {
	for {
		e := syscall.Dup2(oldfd, newfd)
		if e == nil {
			return nil
		}
		if e != syscall.EINTR {
			return fmt.Errorf("dup2: %w", e)
		}
	}
}

// Close closes fd. Unlike the other wrappers it does not retry: POSIX
// says a second close after an interrupted one may close an unrelated,
// since-reused descriptor, so a failure here is merely reported.
func Close(fd int) error {
	if e := syscall.Close(fd); e != nil {
		return fmt.Errorf("close: %w", e)
	}
	return nil
}

// Open opens path with the given flags and mode, retrying on EINTR.
func Open(path string, flags int, mode uint32) (int, error) {
	for {
		fd, e := syscall.Open(path, flags, mode)
		if e == nil {
			return fd, nil
		}
		if e != syscall.EINTR {
			return -1, fmt.Errorf("open failed for %s: %w", path, e)
		}
	}
}

// Kill sends sig to the process group (when pid is negative) or process
// identified by pid.
func Kill(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}

// Setpgid assigns pid to process group pgid, retrying on EINTR.
func Setpgid(pid, pgid int) error {
	for {
		e := syscall.Setpgid(pid, pgid)
		if e == nil {
			return nil
		}
		if e != syscall.EINTR {
			return fmt.Errorf("setpgid: %w", e)
		}
	}
}

// Tcsetpgrp makes pgid the foreground process group of the terminal
// connected to fd.
func Tcsetpgrp(fd int, pgid int) error {
	p := int32(pgid)
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd), uintptr(syscall.TIOCSPGRP), uintptr(unsafe.Pointer(&p)))
	if errno != 0 {
		return fmt.Errorf("tcsetpgrp: %w", errno)
	}
	return nil
}

// Tcgetpgrp returns the foreground process group of the terminal
// connected to fd.
func Tcgetpgrp(fd int) (int, error) {
	var p int32
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd), uintptr(syscall.TIOCGPGRP), uintptr(unsafe.Pointer(&p)))
	if errno != 0 {
		return 0, fmt.Errorf("tcgetpgrp: %w", errno)
	}
	return int(p), nil
}
