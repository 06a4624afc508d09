package parser

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"wsh/pkg/ast"
	"wsh/pkg/lexer"
)

func tokenize(t *testing.T, line string) []lexer.Token {
	t.Helper()
	l := lexer.New()
	for i := 0; i < len(line); i++ {
		l.Feed(line[i])
	}
	toks, err := l.End()
	require.NoError(t, err)
	return toks
}

func parse(t *testing.T, line string) (*ast.Sequence, error) {
	t.Helper()
	return ParseTokens(tokenize(t, line))
}

func TestParserSimpleCommand(t *testing.T) {
	seq, err := parse(t, "echo hello world")
	require.NoError(t, err)
	want := &ast.Sequence{Statements: []ast.Node{
		&ast.Command{Argv: []string{"echo", "hello", "world"}},
	}}
	if diff := cmp.Diff(want, seq); diff != "" {
		t.Errorf("AST mismatch (-want +got):\n%s", diff)
	}
}

func TestParserPipeline(t *testing.T) {
	seq, err := parse(t, "echo hi | tr h H")
	require.NoError(t, err)
	want := &ast.Sequence{Statements: []ast.Node{
		&ast.Pipeline{Stages: []ast.Node{
			&ast.Command{Argv: []string{"echo", "hi"}},
			&ast.Command{Argv: []string{"tr", "h", "H"}},
		}},
	}}
	if diff := cmp.Diff(want, seq); diff != "" {
		t.Errorf("AST mismatch (-want +got):\n%s", diff)
	}
}

func TestParserLogicalLeftAssociative(t *testing.T) {
	seq, err := parse(t, "false || echo ok && echo done")
	require.NoError(t, err)
	want := &ast.Sequence{Statements: []ast.Node{
		&ast.Logical{
			Kind: ast.LogicalAnd,
			Left: &ast.Logical{
				Kind: ast.LogicalOr,
				Left: &ast.Command{Argv: []string{"false"}},
				Right: &ast.Command{Argv: []string{"echo", "ok"}},
			},
			Right: &ast.Command{Argv: []string{"echo", "done"}},
		},
	}}
	if diff := cmp.Diff(want, seq); diff != "" {
		t.Errorf("AST mismatch (-want +got):\n%s", diff)
	}
}

func TestParserRedirectionChain(t *testing.T) {
	seq, err := parse(t, "echo a > /tmp/t 2>> /tmp/err")
	require.NoError(t, err)
	require.Len(t, seq.Statements, 1)
	redir, ok := seq.Statements[0].(*ast.Redirection)
	require.True(t, ok)
	require.Len(t, redir.Entries, 2)
	require.Equal(t, ast.RedirOut, redir.Entries[0].Kind)
	require.Equal(t, "/tmp/t", redir.Entries[0].Filename)
	require.Equal(t, 1, redir.Entries[0].TargetFd)
	require.Equal(t, ast.RedirAppend, redir.Entries[1].Kind)
	require.Equal(t, "/tmp/err", redir.Entries[1].Filename)
	require.Equal(t, 2, redir.Entries[1].TargetFd)
}

func TestParserBackground(t *testing.T) {
	seq, err := parse(t, "sleep 0 &")
	require.NoError(t, err)
	want := &ast.Sequence{Statements: []ast.Node{
		&ast.Background{Child: &ast.Command{Argv: []string{"sleep", "0"}}},
	}}
	if diff := cmp.Diff(want, seq); diff != "" {
		t.Errorf("AST mismatch (-want +got):\n%s", diff)
	}
}

func TestParserSubshell(t *testing.T) {
	seq, err := parse(t, "(echo a; echo b)")
	require.NoError(t, err)
	want := &ast.Sequence{Statements: []ast.Node{
		&ast.Subshell{Body: []ast.Node{
			&ast.Command{Argv: []string{"echo", "a"}},
			&ast.Command{Argv: []string{"echo", "b"}},
		}},
	}}
	if diff := cmp.Diff(want, seq); diff != "" {
		t.Errorf("AST mismatch (-want +got):\n%s", diff)
	}
}

func TestParserEmptySubshellIsError(t *testing.T) {
	_, err := parse(t, "( )")
	require.Error(t, err)
}

func TestParserUnexpectedRightParen(t *testing.T) {
	_, err := parse(t, "echo )")
	require.Error(t, err)
	perr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, UnexpectedToken, perr.Kind)
	require.Equal(t, "syntax error near right parenthesis", perr.Error())
}

func TestParserUnexpectedEnd(t *testing.T) {
	_, err := parse(t, "echo &&")
	require.Error(t, err)
	perr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, UnexpectedEnd, perr.Kind)
	require.Equal(t, "syntax error near end of line", perr.Error())
}

func TestParserSequence(t *testing.T) {
	seq, err := parse(t, "echo a; echo b; echo c")
	require.NoError(t, err)
	require.Len(t, seq.Statements, 3)
}
