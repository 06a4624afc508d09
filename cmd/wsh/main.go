// wsh is a POSIX-like interactive shell: a lexer, a recursive-descent
// parser, and an executor built on os/exec and raw process-group
// syscalls for job control.
//
// Usage:
//
//	wsh [-c command] [-i] [-v] [script]
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/pborman/getopt"

	"wsh/internal/executor"
	"wsh/internal/job"
	"wsh/internal/shellstate"
	"wsh/pkg/lexer"
	"wsh/pkg/parser"
)

func main() {
	var command string
	var interactive, verbose bool

	getopt.FlagLong(&command, "command", 'c', "execute command and exit")
	getopt.FlagLong(&interactive, "interactive", 'i', "force interactive mode")
	getopt.FlagLong(&verbose, "verbose", 'v', "dump tokens and AST before executing")
	getopt.SetParameters("[script]")

	if err := getopt.Getopt(nil); err != nil {
		fmt.Fprintln(os.Stderr, err)
		getopt.PrintUsage(os.Stderr)
		os.Exit(13)
	}

	state := shellstate.New()
	jobs := job.NewTable()
	ex := executor.New(state, jobs)
	ex.Verbose = verbose

	if command != "" {
		os.Exit(runLine(ex, command))
	}

	args := getopt.Args()
	if len(args) > 0 {
		f, err := os.Open(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "wsh: %s: %s\n", args[0], err)
			os.Exit(13)
		}
		defer f.Close()
		os.Exit(runStream(ex, f, false))
	}

	interactive = interactive || isTerminal(os.Stdin)
	os.Exit(runStream(ex, os.Stdin, interactive))
}

// runStream drives the read-eval loop over r, byte by byte, so that a
// backslash-newline continuation inside the lexer can span physical
// input lines before a statement is handed to the parser.
func runStream(ex *executor.Executor, r io.Reader, interactive bool) int {
	br := bufio.NewReader(r)
	lx := lexer.New()

	for {
		if interactive {
			fmt.Fprint(os.Stdout, "> ")
		}
		lx.Start()
		eof := false
		for {
			ch, err := br.ReadByte()
			if err != nil {
				eof = true
				break
			}
			lx.Feed(ch)
			if lx.EOL() {
				break
			}
		}

		tokens, err := lx.End()
		if err != nil {
			fmt.Fprintf(os.Stderr, "lexer error: %s\n", err)
			if eof {
				return 13
			}
			continue
		}
		if len(tokens) > 0 {
			runTokens(ex, tokens)
		}
		if eof {
			fmt.Fprintln(os.Stdout)
			return 0
		}
	}
}

func runLine(ex *executor.Executor, line string) int {
	lx := lexer.New()
	for i := 0; i < len(line); i++ {
		lx.Feed(line[i])
	}
	lx.Feed('\n')
	tokens, err := lx.End()
	if err != nil {
		fmt.Fprintf(os.Stderr, "lexer error: %s\n", err)
		return 13
	}
	return runTokens(ex, tokens)
}

func runTokens(ex *executor.Executor, tokens []lexer.Token) int {
	if ex.Verbose {
		dumpTokens(tokens)
	}
	seq, err := parser.ParseTokens(tokens)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		return 2
	}
	if ex.Verbose {
		dumpAST(seq)
	}
	return ex.Run(seq)
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
