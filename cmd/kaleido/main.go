package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"

	"kaleido/internal/ast"
	"kaleido/internal/astjson"
	"kaleido/internal/driver"
	"kaleido/internal/lexer"
	"kaleido/internal/parser"
)

const VERSION = "0.3.0"

const usageText = `Kaleido compiler V` + VERSION + `

Usage:
  kaleido build   [flags] <file>   lower a program and print the module
  kaleido run     [flags] <file>   lower a program and evaluate its top-level expressions
  kaleido ast     [flags] <file>   print the syntax tree as JSON
  kaleido repl    [flags]          interactive session
  kaleido watch   [flags] <file>   rebuild the program whenever it changes
  kaleido version                  print the version

Files ending in .json are read as encoded syntax trees.
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprint(stderr, usageText)
		return 2
	}

	switch args[0] {
	case "build":
		return cmdBuild(args[1:], stdout, stderr)
	case "run":
		return cmdRun(args[1:], stdout, stderr)
	case "ast":
		return cmdAST(args[1:], stdout, stderr)
	case "repl":
		return cmdRepl(args[1:], stdout, stderr)
	case "watch":
		return cmdWatch(args[1:], stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, VERSION)
		return 0
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usageText)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usageText)
		return 2
	}
}

// ---------------------------------------------------------------------------
// Shared flags
// ---------------------------------------------------------------------------

type sessionFlags struct {
	backend  string
	noOpt    bool
	passes   string
	verbose  bool
	debug    string
	maxSteps int
	json     bool
}

func (f *sessionFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.backend, "backend", string(driver.BackendIR), "code generation backend: ir or llvm")
	fs.BoolVar(&f.noOpt, "O0", false, "do not run optimization passes")
	fs.StringVar(&f.passes, "passes", "", "comma separated pass list (default: all)")
	fs.BoolVar(&f.verbose, "v", false, "dump every lowered function to stderr")
	fs.StringVar(&f.debug, "debug", "", "enable debug logging for topics (lower,scope,functab,driver,passes,eval,watch)")
	fs.IntVar(&f.maxSteps, "max-steps", 0, "instruction budget per evaluation (0: default)")
	fs.BoolVar(&f.json, "json", false, "read the input as an encoded syntax tree")
}

func (f *sessionFlags) options(stdout, stderr io.Writer) *driver.Options {
	if f.debug != "" {
		tlog.SetVerbosity(f.debug)
	}

	opts := driver.DefaultOptions()
	opts.Backend = driver.Backend(f.backend)
	opts.Optimize = !f.noOpt
	opts.Verbose = f.verbose
	opts.Out = stdout
	opts.Diag = stderr
	if f.passes != "" {
		opts.Passes = strings.Split(f.passes, ",")
	}
	if f.maxSteps > 0 {
		opts.MaxSteps = f.maxSteps
	}
	return opts
}

func (f *sessionFlags) isJSON(path string) bool {
	return f.json || strings.EqualFold(filepath.Ext(path), ".json")
}

// compileFile feeds one input file to the session. Item failures are already
// reported by the driver; only I/O and decode errors are returned as is.
func compileFile(d *driver.Driver, path string, asJSON bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read")
	}
	if !asJSON {
		return d.CompileSource(string(data))
	}
	items, err := astjson.DecodeBytes(data)
	if err != nil {
		return errors.Wrap(err, "decode %s", path)
	}
	return d.Run(items)
}

func singleFile(fs *flag.FlagSet, stderr io.Writer) (string, bool) {
	if fs.NArg() != 1 {
		fmt.Fprintf(stderr, "usage: kaleido %s [flags] <file>\n", fs.Name())
		return "", false
	}
	return fs.Arg(0), true
}

// ---------------------------------------------------------------------------
// build / run
// ---------------------------------------------------------------------------

func cmdBuild(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var sf sessionFlags
	sf.register(fs)
	output := fs.String("o", "", "write the module to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	path, ok := singleFile(fs, stderr)
	if !ok {
		return 2
	}

	opts := sf.options(stdout, stderr)
	opts.Eval = false
	d, err := driver.New(opts)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}

	tlog.V("driver").Printw("build", "file", path, "backend", opts.Backend)
	failed := compileFile(d, path, sf.isJSON(path))
	if failed != nil && !errors.Is(failed, driver.ErrFailed) {
		fmt.Fprintf(stderr, "error: %v\n", failed)
		return 1
	}

	dump := d.Dump()
	if *output == "" {
		fmt.Fprint(stdout, dump)
	} else if err := os.WriteFile(*output, []byte(dump), 0o644); err != nil {
		fmt.Fprintf(stderr, "error: write %s: %v\n", *output, err)
		return 1
	}

	if failed != nil {
		return 1
	}
	return 0
}

func cmdRun(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var sf sessionFlags
	sf.register(fs)
	call := fs.String("call", "", "after loading, call this function with the remaining arguments")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(stderr, "usage: kaleido run [flags] <file> [args...]")
		return 2
	}
	path := fs.Arg(0)

	callArgs := make([]float64, 0, fs.NArg()-1)
	for _, a := range fs.Args()[1:] {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			fmt.Fprintf(stderr, "error: argument %q is not a number\n", a)
			return 2
		}
		callArgs = append(callArgs, v)
	}
	if *call == "" && len(callArgs) > 0 {
		fmt.Fprintln(stderr, "error: arguments given without -call")
		return 2
	}

	d, err := driver.New(sf.options(stdout, stderr))
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}

	code := 0
	if err := compileFile(d, path, sf.isJSON(path)); err != nil {
		if !errors.Is(err, driver.ErrFailed) {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		code = 1
	}

	if *call != "" {
		v, err := d.Call(*call, callArgs...)
		if err != nil {
			fmt.Fprintf(stderr, "error: call %s: %v\n", *call, err)
			return 1
		}
		fmt.Fprintf(stdout, "%s returned %g\n", *call, v)
	}
	return code
}

// ---------------------------------------------------------------------------
// ast
// ---------------------------------------------------------------------------

func cmdAST(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ast", flag.ContinueOnError)
	fs.SetOutput(stderr)
	asJSON := fs.Bool("json", false, "read the input as an encoded syntax tree")
	tree := fs.Bool("tree", false, "print the indented debug tree instead of JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	path, ok := singleFile(fs, stderr)
	if !ok {
		return 2
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	var items []ast.TopLevel
	if *asJSON || strings.EqualFold(filepath.Ext(path), ".json") {
		items, err = astjson.DecodeBytes(data)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
	} else {
		items, ok = parseSource(string(data), stderr)
		if !ok {
			return 1
		}
	}

	if *tree {
		fmt.Fprint(stdout, ast.DebugString(items))
		return 0
	}
	if err := astjson.Encode(stdout, items); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// parseSource reports every front-end error in the driver's line format.
func parseSource(src string, stderr io.Writer) ([]ast.TopLevel, bool) {
	tokens, lexErrs := lexer.Lex(src)
	for _, e := range lexErrs {
		fmt.Fprintf(stderr, "%d:%d: error: %s (got %q)\n", e.Line, e.Column, e.Message, e.Lexeme)
	}
	items, parseErrs := parser.Parse(tokens)
	for _, e := range parseErrs {
		fmt.Fprintf(stderr, "%d:%d: error: %s\n", e.Line, e.Column, e.Message)
	}
	return items, len(lexErrs)+len(parseErrs) == 0
}

// ---------------------------------------------------------------------------
// watch
// ---------------------------------------------------------------------------

func cmdWatch(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var sf sessionFlags
	sf.register(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	path, ok := singleFile(fs, stderr)
	if !ok {
		return 2
	}

	opts := sf.options(stdout, stderr)
	if _, err := driver.New(opts); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := &watcher{
		path:   path,
		json:   sf.isJSON(path),
		opts:   opts,
		stdout: stdout,
		stderr: stderr,
	}
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
