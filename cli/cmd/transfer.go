package cmd

import (
	"github.com/urfave/cli/v2"
)

// UploadCommand returns the upload command.
func UploadCommand(backend Backend) *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Aliases:   []string{"ul"},
		Usage:     "Upload local files to <dest> on the Lambda filesystem",
		ArgsUsage: "<file1> [file2...] <dest>",
		Action: func(c *cli.Context) error {
			return runTransfer(c, backend, "upload")
		},
	}
}

// DownloadCommand returns the download command.
func DownloadCommand(backend Backend) *cli.Command {
	return &cli.Command{
		Name:      "download",
		Aliases:   []string{"dl"},
		Usage:     "Download files from the Lambda filesystem to local <dest>",
		ArgsUsage: "<file1> [file2...] <dest>",
		Action: func(c *cli.Context) error {
			return runTransfer(c, backend, "download")
		},
	}
}

func runTransfer(c *cli.Context, backend Backend, operation string) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	cl, err := s.client(c, backend, operation)
	if err != nil {
		return s.finish(err)
	}

	args := c.Args().Slice()
	if operation == "upload" {
		return s.finish(cl.Upload(c.Context, args, s.settings.Bucket))
	}
	return s.finish(cl.Download(c.Context, args, s.settings.Bucket))
}
