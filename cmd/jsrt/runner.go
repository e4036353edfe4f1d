package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/buke/jsrt-go"
	"go.uber.org/zap"
)

// runner executes sources on one context.
type runner struct {
	ctx    *jsrt.Context
	timing bool
	out    io.Writer
	logger *zap.Logger

	evalCount int
}

func (r *runner) runFile(name string) error {
	data, err := os.ReadFile(name)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := r.run(name, string(data)); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// run executes src and discards its completion value.
func (r *runner) run(name, src string) error {
	v, err := r.timed(func() (jsrt.Value, error) { return r.ctx.RunScript(src, jsrt.WithSourceURL(name)) })
	if v != nil {
		v.Free()
	}
	return err
}

// evalAndPrint executes src and prints a non-undefined result.
func (r *runner) evalAndPrint(name, src string) error {
	r.evalCount++
	v, err := r.timed(func() (jsrt.Value, error) { return r.ctx.RunScript(src, jsrt.WithSourceURL(name)) })
	if v != nil {
		if v.Type() != jsrt.TypeUndefined {
			fmt.Fprintln(r.out, formatResult(v))
		}
		v.Free()
	}
	return err
}

func (r *runner) timed(fn func() (jsrt.Value, error)) (jsrt.Value, error) {
	stop := r.interruptible()
	start := time.Now()
	v, err := fn()
	elapsed := time.Since(start)
	stop()
	if r.timing {
		printTiming(r.out, elapsed)
	}
	return v, err
}

// interruptible terminates the running script on SIGINT. The returned
// function restores default signal handling and re-enables execution.
func (r *runner) interruptible() func() {
	rt := r.ctx.Runtime()
	sig := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sig, os.Interrupt)
	go func() {
		select {
		case <-sig:
			if err := rt.DisableExecution(); err != nil {
				r.logger.Warn("failed to interrupt script", zap.Error(err))
			}
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sig)
		close(done)
		if disabled, _ := rt.IsExecutionDisabled(); disabled {
			_ = rt.EnableExecution()
		}
	}
}
