package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/lambci/cmda/cli/render"
	"github.com/lambci/cmda/types"
)

// VersionCommand returns the version command.
// The CLI and the agent share a single version. It must not contact the
// endpoint; `info` reports the agent side.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  []cli.Flag{FormatFlag},
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c.String(FormatFlag.Name), c.App.Writer)
		if err != nil {
			return err
		}

		return r.Render(render.Pairs{
			{Key: "version", Value: types.Version},
			{Key: "commit", Value: commit},
		})
	}
}
