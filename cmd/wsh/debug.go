package main

import (
	"fmt"
	"os"
	"strings"

	"wsh/pkg/ast"
	"wsh/pkg/lexer"
)

// dumpTokens prints the token stream a line lexed to, in the same
// "([value] kind)" shape the original debug printer used.
func dumpTokens(tokens []lexer.Token) {
	fmt.Fprint(os.Stderr, "LOG: TOKENS:\n")
	for i, t := range tokens {
		sep := " "
		if i == len(tokens)-1 {
			sep = "\n"
		}
		fmt.Fprintf(os.Stderr, "([%s] %s)%s", t.Value, lexer.KindName(t.Kind), sep)
	}
	if len(tokens) == 0 {
		fmt.Fprintln(os.Stderr)
	}
}

// dumpAST prints an indented tree of a parsed statement sequence.
func dumpAST(seq *ast.Sequence) {
	fmt.Fprint(os.Stderr, "LOG: AST:\n")
	fmt.Fprint(os.Stderr, "list:\n")
	for _, n := range seq.Statements {
		dumpNode(n, 1)
	}
}

func dumpNode(n ast.Node, depth int) {
	tabs := strings.Repeat("\t", depth)
	if n == nil {
		fmt.Fprintf(os.Stderr, "%s<empty>\n", tabs)
		return
	}
	switch node := n.(type) {
	case *ast.Subshell:
		fmt.Fprintf(os.Stderr, "%ssubshell:\n", tabs)
		for _, c := range node.Body {
			dumpNode(c, depth+1)
		}
	case *ast.Command:
		fmt.Fprintf(os.Stderr, "%scommand: [%s]\n", tabs, strings.Join(node.Argv, ", "))
	case *ast.Logical:
		name := "and"
		if node.Kind == ast.LogicalOr {
			name = "or"
		}
		fmt.Fprintf(os.Stderr, "%s%s:\n", tabs, name)
		dumpNode(node.Left, depth+1)
		dumpNode(node.Right, depth+1)
	case *ast.Background:
		fmt.Fprintf(os.Stderr, "%sbackground:\n", tabs)
		dumpNode(node.Child, depth+1)
	case *ast.Pipeline:
		fmt.Fprintf(os.Stderr, "%spipeline:\n", tabs)
		for _, st := range node.Stages {
			dumpNode(st, depth+1)
		}
	case *ast.Redirection:
		fmt.Fprintf(os.Stderr, "%sredirection:\n", tabs)
		for _, ent := range node.Entries {
			fmt.Fprintf(os.Stderr, "%s\t%d %s %s\n", tabs, ent.TargetFd, redirKindName(ent.Kind), ent.Filename)
		}
		dumpNode(node.Child, depth+1)
	default:
		fmt.Fprintf(os.Stderr, "%s<unknown node>\n", tabs)
	}
}

func redirKindName(k ast.RedirKind) string {
	switch k {
	case ast.RedirIn:
		return "redir in"
	case ast.RedirAppend:
		return "redir append"
	default:
		return "redir out"
	}
}
