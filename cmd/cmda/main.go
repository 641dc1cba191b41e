// Package main provides the cmda CLI entrypoint.
//
// Usage:
//
//	cmda [--profile <profile>] [--function <fn>] [--bucket <bucket>] <command> [args...]
//
// Exit codes:
//   - exec: the remote process's status (128+n when killed by signal n)
//   - 127: the remote command was not found
//   - 1: any other failure
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/lambci/cmda/cli/cmd"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := cmd.NewApp(commit, cmd.AWSBackend{})
	app.ExitErrHandler = exitErrHandler

	if err := app.RunContext(ctx, os.Args); err != nil {
		// ExitErrHandler already exited for command errors.
		// This branch handles flag parsing and other early failures.
		stop()
		os.Exit(1)
	}
}

// exitErrHandler reports err and exits with the code it maps to.
func exitErrHandler(c *cli.Context, err error) {
	if err == nil {
		return
	}
	os.Exit(handleError(c, os.Stderr, err))
}

// handleError prints err to w and returns the process exit code.
// cli.Exit errors keep their code; everything else exits 1.
func handleError(c *cli.Context, w io.Writer, err error) int {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() returns "exit status N"; those carry no message.
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(w, msg)
		}
		return code
	}

	cmd.ReportError(w, err, cmd.ReportOptionsFrom(c))
	return 1
}
