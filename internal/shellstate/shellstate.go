// Package shellstate holds the interpreter's process-wide state and the
// signal regime it switches between while executing foreground jobs.
package shellstate

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"unsafe"

	"wsh/internal/sysutil"
)

// State is the shell's process-wide, mutable state: created once at
// startup, never torn down while the interpreter runs.
type State struct {
	LastStatus   int
	Pgid         int
	TtyFd        int // -1 when stdin is not a terminal
	InBackground bool
	InPipeline   bool

	haveSigint atomic.Bool
	sigchldCh  chan os.Signal
	reap       atomic.Bool
}

// New creates and initializes shell state: it ignores SIGTTOU, installs
// the SIGINT flag handler, and starts background zombie reaping.
func New() *State {
	s := &State{TtyFd: -1}
	if isTerminal(os.Stdin.Fd()) {
		s.TtyFd = int(os.Stdin.Fd())
	}
	s.Pgid = syscall.Getpgrp()

	signal.Ignore(syscall.SIGTTOU)

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT)
	go func() {
		for range sigint {
			s.haveSigint.Store(true)
		}
	}()

	s.sigchldCh = make(chan os.Signal, 16)
	signal.Notify(s.sigchldCh, syscall.SIGCHLD)
	go s.reapLoop()
	s.EnableZombieCleanup()

	return s
}

// HaveSigint reports and clears whether SIGINT has been observed since
// the last call. It is the Go analogue of spec.md's atomic
// have_sigint flag: a signal-handler-to-main communication channel.
func (s *State) HaveSigint() bool {
	return s.haveSigint.Swap(false)
}

// reapLoop waits for SIGCHLD and, while zombie cleanup is enabled, reaps
// any terminated children with a non-blocking waitpid loop. It is
// disabled during a foreground wait so the synchronous Wait there owns
// reaping that child.
func (s *State) reapLoop() {
	for range s.sigchldCh {
		if !s.reap.Load() {
			continue
		}
		for {
			var ws syscall.WaitStatus
			pid, err := syscall.Wait4(-1, &ws, syscall.WNOHANG, nil)
			if pid <= 0 || err != nil {
				break
			}
		}
	}
}

// EnableZombieCleanup turns on background reaping of backgrounded
// children, the default outside of a foreground wait.
func (s *State) EnableZombieCleanup() {
	s.reap.Store(true)
}

// DisableZombieCleanup turns off background reaping so a synchronous
// foreground wait can observe the child's exit itself.
func (s *State) DisableZombieCleanup() {
	s.reap.Store(false)
}

// SetForeground transfers the terminal's foreground process group to
// pgrp, unless running in the background or there is no controlling
// terminal.
func (s *State) SetForeground(pgrp int) {
	if s.TtyFd == -1 || s.InBackground {
		return
	}
	_ = sysutil.Tcsetpgrp(s.TtyFd, pgrp)
}

// RestoreForeground gives the terminal's foreground process group back
// to the shell itself.
func (s *State) RestoreForeground() {
	if s.TtyFd == -1 || s.InBackground {
		return
	}
	_ = sysutil.Tcsetpgrp(s.TtyFd, s.Pgid)
}

func isTerminal(fd uintptr) bool {
	var ws [4]uint16
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, fd, syscall.TIOCGWINSZ, uintptr(unsafe.Pointer(&ws)))
	return errno == 0
}
