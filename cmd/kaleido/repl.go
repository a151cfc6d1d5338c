package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nikandfor/errors"
	"github.com/peterh/liner"

	"kaleido/internal/driver"
	"kaleido/internal/lexer"
	"kaleido/internal/parser"
)

const (
	historyFile = ".kaleido_history"
	promptMain  = "ready> "
	promptCont  = "  ...> "
)

const replHelp = `REPL commands:
  :funcs   list known functions
  :dump    print the module
  :help    show this text
  :quit    exit
`

func cmdRepl(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("repl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var sf sessionFlags
	sf.register(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	d, err := driver.New(sf.options(stdout, stderr))
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}

	fmt.Fprintf(stdout, "Kaleido %s REPL (%s backend)\nCtrl+C cancels input, Ctrl+D exits. Type :help for commands.\n", VERSION, sf.backend)

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	for {
		src, ok := readItem(ln)
		if !ok {
			fmt.Fprintln(stdout)
			return 0
		}

		line := strings.TrimSpace(src)
		if line == "" {
			continue
		}
		ln.AppendHistory(strings.ReplaceAll(src, "\n", " "))

		if strings.HasPrefix(line, ":") {
			if quit := replCommand(d, line, stdout); quit {
				return 0
			}
			continue
		}

		// Failures are already on stderr and leave the session usable.
		_ = d.CompileSource(src)
	}
}

func replCommand(d *driver.Driver, cmd string, stdout io.Writer) (quit bool) {
	switch strings.ToLower(cmd) {
	case ":quit", ":q":
		return true
	case ":funcs":
		for _, name := range d.Functions() {
			fmt.Fprintln(stdout, name)
		}
	case ":dump":
		fmt.Fprint(stdout, d.Dump())
	case ":help":
		fmt.Fprint(stdout, replHelp)
	default:
		fmt.Fprintf(stdout, "unknown command %s. Type :help for commands.\n", cmd)
	}
	return false
}

// readItem reads lines until they form complete input. Input is incomplete
// while the only problems are reported at end of input.
func readItem(ln *liner.State) (string, bool) {
	var b strings.Builder

	for {
		prompt := promptMain
		if b.Len() > 0 {
			prompt = promptCont
		}
		line, err := ln.Prompt(prompt)
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if errors.Is(err, liner.ErrPromptAborted) {
			b.Reset()
			continue
		}
		if err != nil {
			return "", false
		}

		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)

		src := b.String()
		if strings.HasPrefix(strings.TrimSpace(src), ":") || !incomplete(src) {
			return src, true
		}
	}
}

func incomplete(src string) bool {
	tokens, lexErrs := lexer.Lex(src)
	if len(lexErrs) > 0 {
		return false
	}
	_, parseErrs := parser.Parse(tokens)
	if len(parseErrs) == 0 {
		return false
	}

	eof := tokens[len(tokens)-1]
	for _, e := range parseErrs {
		if e.Line != eof.Line || e.Column != eof.Column {
			return false
		}
	}
	return true
}
