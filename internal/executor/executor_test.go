package executor

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"wsh/internal/job"
	"wsh/internal/shellstate"
	"wsh/pkg/ast"
	"wsh/pkg/lexer"
	"wsh/pkg/parser"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	state := &shellstate.State{TtyFd: -1, Pgid: os.Getpid()}
	return New(state, job.NewTable())
}

func mustLex(t *testing.T, line string) []lexer.Token {
	t.Helper()
	l := lexer.New()
	for i := 0; i < len(line); i++ {
		l.Feed(line[i])
	}
	toks, err := l.End()
	require.NoError(t, err)
	return toks
}

func mustParse(t *testing.T, line string) *ast.Sequence {
	t.Helper()
	seq, err := parser.ParseTokens(mustLex(t, line))
	require.NoError(t, err)
	return seq
}

func TestExecutorSimpleCommand(t *testing.T) {
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true not on PATH")
	}
	ex := newTestExecutor(t)
	status := ex.Run(mustParse(t, "true"))
	require.Equal(t, 0, status)
}

func TestExecutorCommandNotFound(t *testing.T) {
	ex := newTestExecutor(t)
	status := ex.Run(mustParse(t, "this-command-does-not-exist-anywhere"))
	require.Equal(t, 127, status)
}

func TestExecutorLogicalShortCircuit(t *testing.T) {
	ex := newTestExecutor(t)
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")

	status := ex.Run(mustParse(t, "false && echo should-not-run > "+marker))
	require.NotEqual(t, 0, status)
	_, err := os.Stat(marker)
	require.True(t, os.IsNotExist(err), "&& must not run its right side after a failing left side")
}

func TestExecutorLogicalOr(t *testing.T) {
	ex := newTestExecutor(t)
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")

	status := ex.Run(mustParse(t, "false || echo ran > "+marker))
	require.Equal(t, 0, status)
	_, err := os.Stat(marker)
	require.NoError(t, err, "|| must run its right side after a failing left side")
}

func TestExecutorRedirectionOut(t *testing.T) {
	ex := newTestExecutor(t)
	dir := t.TempDir()
	target := filepath.Join(dir, "out.txt")

	status := ex.Run(mustParse(t, "echo hello > "+target))
	require.Equal(t, 0, status)

	content, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(content))
}

func TestExecutorRedirectionAppend(t *testing.T) {
	ex := newTestExecutor(t)
	dir := t.TempDir()
	target := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(target, []byte("first\n"), 0644))

	status := ex.Run(mustParse(t, "echo second >> "+target))
	require.Equal(t, 0, status)

	content, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "first\nsecond\n", string(content))
}

func TestExecutorPipeline(t *testing.T) {
	if _, err := exec.LookPath("tr"); err != nil {
		t.Skip("tr not on PATH")
	}
	ex := newTestExecutor(t)
	dir := t.TempDir()
	target := filepath.Join(dir, "out.txt")

	status := ex.Run(mustParse(t, "echo hi | tr a-z A-Z > "+target))
	require.Equal(t, 0, status)

	content, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "HI\n", string(content))
}

func TestBuiltinEcho(t *testing.T) {
	ex := newTestExecutor(t)
	var out bytes.Buffer
	tmp, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer tmp.Close()

	status := ex.builtinEcho([]string{"echo", "-n", "hi", "there"}, stdio{out: tmp})
	require.Equal(t, 0, status)

	content, err := os.ReadFile(tmp.Name())
	require.NoError(t, err)
	require.Equal(t, "hi there", string(content))
	_ = out
}

func TestBuiltinCd(t *testing.T) {
	ex := newTestExecutor(t)
	orig, err := os.Getwd()
	require.NoError(t, err)
	defer os.Chdir(orig)

	dir := t.TempDir()
	status := ex.builtinCd([]string{"cd", dir}, stdio{err: os.Stderr})
	require.Equal(t, 0, status)

	wd, err := os.Getwd()
	require.NoError(t, err)
	resolvedWant, _ := filepath.EvalSymlinks(dir)
	resolvedGot, _ := filepath.EvalSymlinks(wd)
	require.Equal(t, resolvedWant, resolvedGot)
}
