package executor

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"wsh/internal/job"
)

// BuiltinFunc runs a builtin with its own argv (argv[0] is the builtin
// name) against the given stdio triple, returning an exit status.
type BuiltinFunc func(argv []string, io stdio) int

// Registry maps builtin names to their implementation.
type Registry struct {
	fns map[string]BuiltinFunc
}

// Lookup returns the builtin registered under argv[0], if any.
func (r *Registry) Lookup(name string) (BuiltinFunc, bool) {
	fn, ok := r.fns[name]
	return fn, ok
}

func defaultRegistry(e *Executor) *Registry {
	r := &Registry{fns: make(map[string]BuiltinFunc)}
	r.fns["cd"] = e.builtinCd
	r.fns["pwd"] = e.builtinPwd
	r.fns["echo"] = e.builtinEcho
	r.fns["export"] = e.builtinExport
	r.fns["exit"] = e.builtinExit
	r.fns["jobs"] = e.builtinJobs
	r.fns["fg"] = e.builtinFg
	r.fns["bg"] = e.builtinBg
	return r
}

func (e *Executor) builtinCd(argv []string, io stdio) int {
	dir := os.Getenv("HOME")
	switch {
	case len(argv) > 1 && argv[1] == "-":
		dir = os.Getenv("OLDPWD")
		if dir == "" {
			fmt.Fprintln(io.err, "cd: OLDPWD not set")
			return 1
		}
	case len(argv) > 1:
		dir = argv[1]
	}
	old, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		fmt.Fprintf(io.err, "cd: %s: %s\n", dir, err)
		return 1
	}
	os.Setenv("OLDPWD", old)
	wd, _ := os.Getwd()
	os.Setenv("PWD", wd)
	return 0
}

func (e *Executor) builtinPwd(argv []string, io stdio) int {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(io.err, "pwd: %s\n", err)
		return 1
	}
	fmt.Fprintln(io.out, wd)
	return 0
}

func (e *Executor) builtinEcho(argv []string, io stdio) int {
	args := argv[1:]
	noNewline := false
	if len(args) > 0 && args[0] == "-n" {
		noNewline = true
		args = args[1:]
	}
	fmt.Fprint(io.out, strings.Join(args, " "))
	if !noNewline {
		fmt.Fprintln(io.out)
	}
	return 0
}

func (e *Executor) builtinExport(argv []string, io stdio) int {
	for _, kv := range argv[1:] {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			fmt.Fprintf(io.err, "export: %s: not a valid assignment\n", kv)
			return 1
		}
		if err := os.Setenv(parts[0], parts[1]); err != nil {
			fmt.Fprintf(io.err, "export: %s\n", err)
			return 1
		}
	}
	return 0
}

func (e *Executor) builtinExit(argv []string, io stdio) int {
	code := e.State.LastStatus
	if len(argv) > 1 {
		if n, err := strconv.Atoi(argv[1]); err == nil {
			code = n & 0xff
		}
	}
	os.Exit(code)
	return code
}

func (e *Executor) builtinJobs(argv []string, io stdio) int {
	for _, j := range e.Jobs.List() {
		fmt.Fprintln(io.out, j.String())
	}
	return 0
}

func (e *Executor) builtinFg(argv []string, io stdio) int {
	spec := ""
	if len(argv) > 1 {
		spec = argv[1]
	}
	j, err := job.ParseSpec(e.Jobs, spec)
	if err != nil {
		fmt.Fprintf(io.err, "fg: %s\n", err)
		return 1
	}
	fmt.Fprintln(io.out, j.String())
	_ = j.Signal(syscall.SIGCONT)
	j.State = job.Running
	e.State.SetForeground(j.Pgid)
	status := e.waitJob(j)
	e.State.RestoreForeground()
	return status
}

func (e *Executor) builtinBg(argv []string, io stdio) int {
	spec := ""
	if len(argv) > 1 {
		spec = argv[1]
	}
	j, err := job.ParseSpec(e.Jobs, spec)
	if err != nil {
		fmt.Fprintf(io.err, "bg: %s\n", err)
		return 1
	}
	if err := j.Signal(syscall.SIGCONT); err != nil {
		fmt.Fprintf(io.err, "bg: %s\n", err)
		return 1
	}
	j.State = job.Running
	fmt.Fprintln(io.out, j.String())
	return 0
}

// waitJob blocks until a process in the job's process group exits or is
// killed by a signal, waiting on the pgid recorded in the table. The
// goroutine started by execBackground waits on the same process; if
// that wait reaps it first, Wait4 here fails and the job's ExitStatus
// field is returned.
func (e *Executor) waitJob(j *job.Job) int {
	e.State.DisableZombieCleanup()
	defer e.State.EnableZombieCleanup()
	for {
		var ws syscall.WaitStatus
		pid, err := syscall.Wait4(-j.Pgid, &ws, 0, nil)
		if err != nil || pid <= 0 {
			break
		}
		if ws.Exited() || ws.Signaled() {
			j.State = job.Done
			if ws.Signaled() {
				j.ExitStatus = 128 + int(ws.Signal())
			} else {
				j.ExitStatus = ws.ExitStatus()
			}
			e.Jobs.Remove(j.ID)
			return j.ExitStatus
		}
		if ws.Stopped() {
			j.State = job.Stopped
			return 128 + int(ws.StopSignal())
		}
	}
	return j.ExitStatus
}
