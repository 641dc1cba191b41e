package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/lambci/cmda/codec"
	"github.com/lambci/cmda/types"
)

// ExitCommandNotFound is the exit status used when the remote command does
// not exist.
const ExitCommandNotFound = 127

// Exec runs args remotely, replays its output and returns its exit status.
//
// A command that cannot be found prints "command not found: <cmd>" and
// yields ExitCommandNotFound with a nil error. Other spawn failures return
// the remote error. A process killed by a signal yields 128+n.
func (c *Client) Exec(ctx context.Context, args []string) (int, error) {
	defer c.logMetrics()

	if len(args) == 0 || args[0] == "" {
		return 1, errors.New("exec requires a command")
	}

	var res types.ExecResult
	opts := types.ExecOptions{Cmd: args[0], Args: args[1:]}
	if err := c.invoke(ctx, types.ActionExec, opts, &res); err != nil {
		return 1, err
	}

	if err := c.replay(res); err != nil {
		return 1, err
	}

	if res.Error != nil {
		if res.Error.OSErrorCode == "ENOENT" {
			_, _ = fmt.Fprintf(c.Stderr, "command not found: %s\n", args[0])
			return ExitCommandNotFound, nil
		}
		return 1, codec.DecodeError(res.Error)
	}

	switch {
	case res.Status != nil:
		return *res.Status, nil
	case res.Signal != "":
		c.logger().Debug("remote process terminated by signal", map[string]any{"signal": res.Signal})
		return codec.SignalExitCode(res.Signal), nil
	default:
		return 1, nil
	}
}

// replay writes decoded stdout then stderr.
func (c *Client) replay(res types.ExecResult) error {
	stdout, err := codec.DecodeBytes(res.Stdout)
	if err != nil {
		return fmt.Errorf("stdout: %w", err)
	}
	stderr, err := codec.DecodeBytes(res.Stderr)
	if err != nil {
		return fmt.Errorf("stderr: %w", err)
	}
	if len(stdout) > 0 {
		if _, err := c.Stdout.Write(stdout); err != nil {
			return err
		}
	}
	if len(stderr) > 0 {
		if _, err := c.Stderr.Write(stderr); err != nil {
			return err
		}
	}
	return nil
}
