// Package executor walks an ast.Node tree and carries it out: starting
// processes, wiring pipes and redirections, placing jobs in their own
// process groups, and propagating exit status back up the tree.
package executor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"wsh/internal/job"
	"wsh/internal/shellstate"
	"wsh/internal/sysutil"
	"wsh/pkg/ast"
)

// Executor walks an AST and runs it against the host OS.
type Executor struct {
	State    *shellstate.State
	Jobs     *job.Table
	Builtins *Registry
	Verbose  bool
}

// New returns an Executor wired to state and jobs, with the standard
// builtin set registered.
func New(state *shellstate.State, jobs *job.Table) *Executor {
	e := &Executor{State: state, Jobs: jobs}
	e.Builtins = defaultRegistry(e)
	return e
}

// Run executes a top-level sequence, threading last_status between
// statements and returning the final one.
func (e *Executor) Run(seq *ast.Sequence) int {
	status := 0
	for _, stmt := range seq.Statements {
		status = e.execNode(stmt, stdio{os.Stdin, os.Stdout, os.Stderr})
		e.State.LastStatus = status
	}
	return status
}

// stdio is the file-descriptor triple a node executes against. It is
// threaded down the tree and overridden locally by redirections and
// pipeline stages.
type stdio struct {
	in, out, err *os.File
}

func (e *Executor) execNode(n ast.Node, io stdio) int {
	switch node := n.(type) {
	case *ast.Command:
		return e.execCommand(node, io)
	case *ast.Redirection:
		return e.execRedirection(node, io)
	case *ast.Pipeline:
		return e.execPipeline(node, io)
	case *ast.Logical:
		return e.execLogical(node, io)
	case *ast.Background:
		return e.execBackground(node)
	case *ast.Subshell:
		return e.execSubshell(node, io)
	case *ast.Sequence:
		status := 0
		for _, stmt := range node.Statements {
			status = e.execNode(stmt, io)
		}
		return status
	default:
		fmt.Fprintf(io.err, "wsh: unknown node type %T\n", n)
		return 1
	}
}

// execCommand runs a single foreground command: a builtin in-process,
// or an external program placed in its own process group and given
// the controlling terminal via os/exec.
func (e *Executor) execCommand(c *ast.Command, io stdio) int {
	if len(c.Argv) == 0 {
		return 0
	}
	if fn, ok := e.Builtins.Lookup(c.Argv[0]); ok {
		return fn(c.Argv, io)
	}

	cmd := exec.Command(c.Argv[0], c.Argv[1:]...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = io.in, io.out, io.err
	cmd.SysProcAttr = e.foregroundAttr()
	if err := cmd.Start(); err != nil {
		fmt.Fprintf(io.err, "wsh: %s: %s\n", c.Argv[0], describeStartErr(err))
		return 127
	}
	e.State.SetForeground(cmd.Process.Pid)
	defer e.State.RestoreForeground()
	return e.waitForeground(cmd)
}

// foregroundAttr builds the SysProcAttr that places a freshly started
// foreground job in its own process group and hands it the controlling
// terminal, closing the classic fork/setpgid/tcsetpgrp race in one
// step.
func (e *Executor) foregroundAttr() *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{Setpgid: true, Pgid: 0}
	if e.State.TtyFd != -1 && !e.State.InBackground {
		attr.Foreground = true
		attr.Ctty = e.State.TtyFd
	}
	return attr
}

func (e *Executor) waitForeground(cmd *exec.Cmd) int {
	e.State.DisableZombieCleanup()
	defer e.State.EnableZombieCleanup()
	err := cmd.Wait()
	return exitStatus(err)
}

func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return 128 + int(ws.Signal())
			}
			return ws.ExitStatus()
		}
	}
	return 1
}

func describeStartErr(err error) string {
	if os.IsNotExist(err) || errors.Is(err, exec.ErrNotFound) {
		return "command not found"
	}
	return err.Error()
}

// execRedirection opens each entry's file, dup2's it onto the target
// fd, and restores the previous fd binding afterward (LIFO, matching
// nested scoping).
func (e *Executor) execRedirection(r *ast.Redirection, io stdio) int {
	type saved struct {
		fd     int
		dup    int
		opened int
	}
	var restores []saved
	var handles []*os.File
	cur := io

	cleanup := func() {
		for _, h := range handles {
			_ = h.Close()
		}
		for i := len(restores) - 1; i >= 0; i-- {
			s := restores[i]
			_ = sysutil.Dup2(s.dup, s.fd)
			_ = sysutil.Close(s.dup)
			_ = sysutil.Close(s.opened)
		}
	}

	for i, ent := range r.Entries {
		flags, mode := redirOpenFlags(ent.Kind)
		fd, err := sysutil.Open(ent.Filename, flags, mode)
		if err != nil {
			cleanup()
			fmt.Fprintf(io.err, "wsh: %s\n", err)
			return 1
		}
		r.Entries[i].SrcFd = fd
		savedFd, err := sysutil.Dup(ent.TargetFd)
		if err != nil {
			savedFd = -1
		}
		if err := sysutil.Dup2(fd, ent.TargetFd); err != nil {
			_ = sysutil.Close(fd)
			cleanup()
			fmt.Fprintf(io.err, "wsh: dup2: %s\n", err)
			return 1
		}
		if savedFd != -1 {
			restores = append(restores, saved{fd: ent.TargetFd, dup: savedFd, opened: fd})
		}
		h := os.NewFile(uintptr(ent.TargetFd), ent.Filename)
		handles = append(handles, h)
		cur = rebind(cur, ent.TargetFd, h)
	}
	defer cleanup()

	return e.execNode(r.Child, cur)
}

func redirOpenFlags(kind ast.RedirKind) (int, uint32) {
	switch kind {
	case ast.RedirIn:
		return syscall.O_RDONLY, 0
	case ast.RedirAppend:
		return syscall.O_WRONLY | syscall.O_CREAT | syscall.O_APPEND, 0666
	default:
		return syscall.O_WRONLY | syscall.O_CREAT | syscall.O_TRUNC, 0666
	}
}

// rebind updates the stdio triple's in-process *os.File handle for a
// well-known fd (0/1/2) so that subsequently-spawned builtins, which
// read io.in/io.out/io.err directly rather than through the raw fd
// table, see the redirection too.
func rebind(s stdio, fd int, f *os.File) stdio {
	switch fd {
	case 0:
		s.in = f
	case 1:
		s.out = f
	case 2:
		s.err = f
	}
	return s
}

// execPipeline runs each stage concurrently, connecting adjacent
// stages with real OS pipes, and waits for all of them with an
// errgroup so a stage's Wait error doesn't stop its siblings from
// being collected. It reports the last stage's exit status, per
// POSIX pipeline semantics.
func (e *Executor) execPipeline(p *ast.Pipeline, io stdio) int {
	n := len(p.Stages)
	stageIO := make([]stdio, n)
	stageIO[0] = stdio{io.in, nil, io.err}
	stageIO[n-1] = stdio{nil, io.out, io.err}

	var writeEnds, readEnds []*os.File
	for i := 0; i < n-1; i++ {
		r, w, err := os.Pipe()
		if err != nil {
			fmt.Fprintf(io.err, "wsh: pipe: %s\n", err)
			os.Exit(13)
		}
		stageIO[i].out = w
		stageIO[i+1].in = r
		writeEnds = append(writeEnds, w)
		readEnds = append(readEnds, r)
	}
	for i := 1; i < n-1; i++ {
		stageIO[i].err = io.err
	}

	cmds := make([]*exec.Cmd, n)
	isBuiltin := make([]bool, n)
	var allOpened []*os.File
	for i, stage := range p.Stages {
		cmd, opened, err := e.buildStageCmd(stage, stageIO[i])
		allOpened = append(allOpened, opened...)
		if err != nil {
			fmt.Fprintf(io.err, "wsh: %s\n", err)
			cmds[i] = nil
			continue
		}
		cmds[i] = cmd
		if cmd.Path == "" {
			isBuiltin[i] = true
			continue // runs in-process against stageIO[i] in waitStage
		}
		if err := cmd.Start(); err != nil {
			fmt.Fprintf(io.err, "wsh: %s: %s\n", cmdName(stage), describeStartErr(err))
			cmds[i] = nil
		}
	}

	// The parent must close the copy of each pipe fd it handed to a
	// forked child, or a downstream reader never sees EOF. A builtin
	// stage runs in-process rather than being forked, so its end of the
	// pipe must stay open until it finishes; waitStage closes those.
	for i, f := range writeEnds {
		if !isBuiltin[i] {
			_ = f.Close()
		}
	}
	for i, f := range readEnds {
		if !isBuiltin[i+1] {
			_ = f.Close()
		}
	}

	results := make([]int, n)
	var eg errgroup.Group
	for i, stage := range p.Stages {
		i, stage, cmd, builtin := i, stage, cmds[i], isBuiltin[i]
		eg.Go(func() error {
			results[i] = e.waitStage(stage, cmd, stageIO[i])
			if builtin {
				if stageIO[i].out != nil && i < n-1 {
					_ = stageIO[i].out.Close()
				}
				if stageIO[i].in != nil && i > 0 {
					_ = stageIO[i].in.Close()
				}
			}
			return nil
		})
	}
	_ = eg.Wait()

	for _, f := range allOpened {
		_ = f.Close()
	}

	return results[n-1]
}

// buildStageCmd starts building an *exec.Cmd for an external-command
// pipeline stage, unwrapping any redirection entries attached to it
// (e.g. the trailing "> file" in "a | b > file") by opening the named
// files directly against the stage's own stdio rather than the
// save/restore dance execRedirection uses for a foreground command,
// since a pipeline stage's fd bindings never need to be restored. An
// empty Path on the returned Cmd signals a builtin, which buildStageCmd
// cannot run itself since a builtin has no process to Start;
// waitStage runs it in-process instead.
func (e *Executor) buildStageCmd(stage ast.Node, io stdio) (*exec.Cmd, []*os.File, error) {
	var opened []*os.File
	node := stage
	if r, ok := node.(*ast.Redirection); ok {
		for i, ent := range r.Entries {
			flags, mode := redirOpenFlags(ent.Kind)
			f, err := os.OpenFile(ent.Filename, flags, os.FileMode(mode))
			if err != nil {
				for _, o := range opened {
					_ = o.Close()
				}
				return nil, nil, err
			}
			r.Entries[i].SrcFd = int(f.Fd())
			opened = append(opened, f)
			io = rebind(io, ent.TargetFd, f)
		}
		node = r.Child
	}

	c, ok := node.(*ast.Command)
	if !ok {
		return nil, opened, fmt.Errorf("unsupported pipeline stage %T", node)
	}
	if len(c.Argv) == 0 || e.isBuiltinStage(c.Argv[0]) {
		return &exec.Cmd{}, opened, nil
	}
	cmd := exec.Command(c.Argv[0], c.Argv[1:]...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = io.in, io.out, io.err
	return cmd, opened, nil
}

func (e *Executor) isBuiltinStage(name string) bool {
	_, ok := e.Builtins.Lookup(name)
	return ok
}

func (e *Executor) waitStage(stage ast.Node, cmd *exec.Cmd, io stdio) int {
	c := stageCommand(stage)
	if cmd == nil {
		return 127
	}
	if cmd.Path == "" {
		if c == nil || len(c.Argv) == 0 {
			return 0
		}
		fn, _ := e.Builtins.Lookup(c.Argv[0])
		return fn(c.Argv, io)
	}
	return exitStatus(cmd.Wait())
}

// stageCommand unwraps a pipeline stage down to its underlying
// Command, looking through a single layer of trailing Redirection.
func stageCommand(stage ast.Node) *ast.Command {
	if r, ok := stage.(*ast.Redirection); ok {
		stage = r.Child
	}
	c, _ := stage.(*ast.Command)
	return c
}

func cmdName(stage ast.Node) string {
	if c := stageCommand(stage); c != nil && len(c.Argv) > 0 {
		return c.Argv[0]
	}
	return "?"
}

func (e *Executor) execLogical(l *ast.Logical, io stdio) int {
	left := e.execNode(l.Left, io)
	switch l.Kind {
	case ast.LogicalAnd:
		if left != 0 {
			return left
		}
	case ast.LogicalOr:
		if left == 0 {
			return left
		}
	}
	return e.execNode(l.Right, io)
}

// execBackground launches Child asynchronously in its own process
// group and returns 0 immediately without waiting. Child can be any
// subtree the grammar allows under `&` (a pipeline, a subshell, a
// logical chain, a redirection, not just a bare command), so it is
// re-rendered to source text and handed to a freshly exec'd copy of
// the interpreter, the same re-exec trick execSubshell uses.
func (e *Executor) execBackground(b *ast.Background) int {
	script := renderNode(b.Child)
	if script == "" {
		return 0
	}
	cmd := exec.Command(selfExe(), "-c", script)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: 0}
	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "wsh: %s\n", describeStartErr(err))
		return 127
	}

	j := e.Jobs.Add(&job.Job{Pgid: cmd.Process.Pid, Command: script, State: job.Running})
	go func() {
		err := cmd.Wait()
		j.ExitStatus = exitStatus(err)
		j.State = job.Done
	}()
	fmt.Fprintf(os.Stdout, "[%d] %d\n", j.ID, cmd.Process.Pid)
	return 0
}

// execSubshell runs Body in a forked child: the child has its own
// copy of process state (working directory, etc.) so none of its
// side effects are visible to the parent once it exits.
func (e *Executor) execSubshell(s *ast.Subshell, io stdio) int {
	cmd := exec.Command(selfExe(), "-c", subshellScript(s))
	cmd.Stdin, cmd.Stdout, cmd.Stderr = io.in, io.out, io.err
	cmd.SysProcAttr = e.foregroundAttr()
	if err := cmd.Start(); err != nil {
		fmt.Fprintf(io.err, "wsh: subshell: %s\n", err)
		return 1
	}
	e.State.SetForeground(cmd.Process.Pid)
	defer e.State.RestoreForeground()
	return e.waitForeground(cmd)
}

func selfExe() string {
	if exe, err := os.Executable(); err == nil {
		return exe
	}
	return os.Args[0]
}

// subshellScript re-renders a parsed body back into source text so it
// can be handed to a fresh interpreter instance via -c. This is a
// deliberate simplification: a subshell re-lexes and re-parses its own
// body rather than sharing the parent's AST across the fork boundary.
func subshellScript(s *ast.Subshell) string {
	var b strings.Builder
	for i, stmt := range s.Body {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(renderNode(stmt))
	}
	return b.String()
}

func renderNode(n ast.Node) string {
	switch node := n.(type) {
	case *ast.Command:
		return strings.Join(node.Argv, " ")
	case *ast.Background:
		return renderNode(node.Child) + " &"
	case *ast.Logical:
		op := "&&"
		if node.Kind == ast.LogicalOr {
			op = "||"
		}
		return renderNode(node.Left) + " " + op + " " + renderNode(node.Right)
	case *ast.Pipeline:
		parts := make([]string, len(node.Stages))
		for i, st := range node.Stages {
			parts[i] = renderNode(st)
		}
		return strings.Join(parts, " | ")
	case *ast.Redirection:
		var b strings.Builder
		b.WriteString(renderNode(node.Child))
		for _, ent := range node.Entries {
			b.WriteByte(' ')
			b.WriteString(strconv.Itoa(ent.TargetFd))
			switch ent.Kind {
			case ast.RedirIn:
				b.WriteString("<")
			case ast.RedirAppend:
				b.WriteString(">>")
			default:
				b.WriteString(">")
			}
			b.WriteString(ent.Filename)
		}
		return b.String()
	case *ast.Subshell:
		return "(" + subshellScript(node) + ")"
	default:
		return ""
	}
}
