package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/lambci/cmda/cli/render"
)

// InfoCommand returns the info command.
func InfoCommand(backend Backend) *cli.Command {
	return &cli.Command{
		Name:   "info",
		Usage:  "Info about the cmda Lambda function and configured S3 bucket",
		Flags:  []cli.Flag{FormatFlag},
		Action: infoAction(backend),
	}
}

func infoAction(backend Backend) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c.String(FormatFlag.Name), c.App.Writer)
		if err != nil {
			return err
		}

		s, err := newSession(c)
		if err != nil {
			return err
		}
		cl, err := s.client(c, backend, "info")
		if err != nil {
			return s.finish(err)
		}

		kvs, err := cl.Info(c.Context)
		if err != nil {
			return s.finish(err)
		}

		pairs := make(render.Pairs, 0, len(kvs))
		for _, kv := range kvs {
			pairs = append(pairs, render.Pair{Key: kv.Key, Value: kv.Value})
		}
		return s.finish(r.Render(pairs))
	}
}
