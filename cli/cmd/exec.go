package cmd

import (
	"github.com/urfave/cli/v2"
)

// shortcuts run as `exec <name> ...`.
var shortcuts = []string{"cp", "mv", "rm", "mkdir", "ls", "cat", "touch", "sh"}

// ExecCommand returns the exec command. Everything after the command name
// is passed to the remote process untouched.
func ExecCommand(backend Backend) *cli.Command {
	return &cli.Command{
		Name:            "exec",
		Usage:           "Execute <cmd> <options> remotely on Lambda, eg 'exec ls -la'",
		ArgsUsage:       "<cmd> [args...]",
		SkipFlagParsing: true,
		Action: func(c *cli.Context) error {
			return runExec(c, backend, c.Args().Slice())
		},
	}
}

// ShortcutCommands returns the commands that behave like `exec <name>`.
func ShortcutCommands(backend Backend) []*cli.Command {
	commands := make([]*cli.Command, 0, len(shortcuts))
	for _, name := range shortcuts {
		commands = append(commands, &cli.Command{
			Name:            name,
			Usage:           "Shortcut for 'exec " + name + "'",
			ArgsUsage:       "[args...]",
			SkipFlagParsing: true,
			Action: func(c *cli.Context) error {
				return runExec(c, backend, append([]string{name}, c.Args().Slice()...))
			},
		})
	}
	return commands
}

func runExec(c *cli.Context, backend Backend, args []string) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	cl, err := s.client(c, backend, "exec")
	if err != nil {
		return s.finish(err)
	}

	code, err := cl.Exec(c.Context, args)
	if err != nil {
		return s.finish(err)
	}
	if code != 0 {
		return s.finish(cli.Exit("", code))
	}
	return s.finish(nil)
}
