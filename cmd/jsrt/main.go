// Command jsrt runs JavaScript files, inline code or an interactive REPL on
// a jsrt runtime.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/buke/jsrt-go"
	"github.com/buke/jsrt-go/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/term"
)

const version = "0.1.0"

type config struct {
	eval        string
	storage     bool
	storagePath string
	timing      bool
	disableEval bool
	memoryLimit uint64
	verbose     bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var cfg config
	code := 0

	cmd := &cobra.Command{
		Use:           "jsrt [flags] [files...]",
		Short:         "Run JavaScript on the jsrt runtime",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, files []string) error {
			var err error
			code, err = execute(cfg, files, stdin, stdout, stderr)
			return err
		},
	}
	cmd.SetArgs(args)
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.Flags()
	flags.StringVarP(&cfg.eval, "eval", "e", "", "evaluate code and exit")
	flags.BoolVar(&cfg.storage, "local-storage", false, "provide a persistent localStorage global")
	flags.StringVar(&cfg.storagePath, "storage-path", "", "localStorage database `path`, implies --local-storage (default in the user config dir)")
	flags.BoolVar(&cfg.timing, "timing", false, "show execution time")
	flags.BoolVar(&cfg.disableEval, "disable-eval", false, "disallow eval and Function in scripts")
	flags.Uint64Var(&cfg.memoryLimit, "memory-limit", 0, "runtime memory limit in bytes, 0 for none")
	flags.BoolVarP(&cfg.verbose, "verbose", "v", false, "log runtime diagnostics to stderr")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(stderr, renderError(err, cfg.verbose))
		if code == 0 {
			code = 1
		}
	}
	return code
}

// execute sets up the runtime and dispatches to -e, files, stdin or the
// REPL. The returned error has already been counted in the exit code.
func execute(cfg config, files []string, stdin io.Reader, stdout, stderr io.Writer) (code int, err error) {
	initSyntaxHighlighter()

	diag := zap.NewNop()
	if cfg.verbose {
		diag = newDiagnosticLogger(stderr)
	}
	defer func() { _ = diag.Sync() }()

	attrs := jsrt.AttributeAllowScriptInterrupt
	if cfg.disableEval {
		attrs |= jsrt.AttributeDisableEval
	}
	rt, err := jsrt.NewRuntime(
		jsrt.WithAttributes(attrs),
		jsrt.WithMemoryLimit(cfg.memoryLimit),
		jsrt.WithLogger(diag),
		jsrt.WithBackgroundWorkers(1),
	)
	if err != nil {
		return 1, fmt.Errorf("failed to create runtime: %w", err)
	}
	ctx, err := rt.NewContext()
	if err != nil {
		return 1, multierr.Append(fmt.Errorf("failed to create context: %w", err), rt.Dispose())
	}

	r := &runner{ctx: ctx, timing: cfg.timing, out: stdout, logger: diag}
	if err := ctx.InstallConsole(jsrt.ZapConsoleListener(newConsoleLogger(stdout, stderr, cfg.verbose))); err != nil {
		return 1, multierr.Append(err, rt.Dispose())
	}

	var store *storage.Store
	if cfg.storage || cfg.storagePath != "" {
		store, err = openStorage(cfg.storagePath)
		if err == nil {
			err = installLocalStorage(ctx, store)
		}
		if err != nil {
			if store != nil {
				err = multierr.Append(err, store.Close())
			}
			return 1, multierr.Append(err, rt.Dispose())
		}
	}

	defer func() {
		var closeErr error
		if store != nil {
			closeErr = store.Close()
		}
		closeErr = multierr.Append(closeErr, rt.Dispose())
		if closeErr != nil {
			err = multierr.Append(err, closeErr)
			if code == 0 {
				code = 1
			}
		}
	}()

	switch {
	case cfg.eval != "":
		err = r.evalAndPrint("<eval>", cfg.eval)
	case len(files) > 0:
		for _, f := range files {
			if err = r.runFile(f); err != nil {
				break
			}
		}
	case !isTerminal(stdin):
		var src []byte
		src, err = io.ReadAll(stdin)
		if err == nil {
			err = r.run("<stdin>", string(src))
		}
	default:
		err = newREPL(r, rt).loop()
	}
	if err != nil {
		return 1, err
	}
	return 0, nil
}

func openStorage(path string) (*storage.Store, error) {
	if path == "" {
		var err error
		if path, err = storage.DefaultPath(); err != nil {
			return nil, err
		}
	}
	return storage.Open(path)
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func renderError(err error, verbose bool) string {
	msg := errorStyle.Render("Error:") + " " + errorMsgStyle.Render(err.Error())
	var jerr *jsrt.Error
	if verbose && errors.As(err, &jerr) && jerr.Stack != "" {
		msg += "\n" + dimStyle.Render(jerr.Stack)
	}
	return msg
}

func printTiming(w io.Writer, d time.Duration) {
	style := successStyle
	switch {
	case d >= 100*time.Millisecond:
		style = errorStyle
	case d >= 10*time.Millisecond:
		style = warnStyle
	}
	fmt.Fprintln(w, style.Render(fmt.Sprintf("took %v", d)))
}
