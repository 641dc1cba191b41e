package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/lambci/cmda/types"
)

// NewApp builds the cmda CLI. The caller installs an ExitErrHandler.
func NewApp(commit string, backend Backend) *cli.App {
	commands := []*cli.Command{
		InfoCommand(backend),
		ExecCommand(backend),
		UploadCommand(backend),
		DownloadCommand(backend),
		VPCEndpointCommand(backend),
		VersionCommand(commit),
	}
	commands = append(commands, ShortcutCommands(backend)...)

	return &cli.App{
		Name:            "cmda",
		Usage:           "Execute commands on, and copy files to/from AWS Lambda",
		UsageText:       "cmda [global options] <command> [command options]",
		Version:         fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		Flags:           GlobalFlags(),
		Commands:        commands,
		HideHelpCommand: true,
	}
}
