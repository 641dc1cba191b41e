// Package cmd provides CLI commands for the cmda binary.
package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/lambci/cmda/cli/config"
)

// Global flags. They must precede the command name.
var (
	ProfileFlag = &cli.StringFlag{
		Name:    "profile",
		Usage:   "AWS profile to use (default: AWS_PROFILE env or 'default')",
		EnvVars: []string{config.EnvProfile},
	}

	FunctionFlag = &cli.StringFlag{
		Name:    "function",
		Aliases: []string{"function-name"},
		Usage:   "Lambda function name",
		EnvVars: []string{config.EnvFunction},
	}

	BucketFlag = &cli.StringFlag{
		Name:    "bucket",
		Usage:   "S3 bucket to use for transfers (determined from Lambda if not given)",
		EnvVars: []string{config.EnvBucket},
	}

	RegionFlag = &cli.StringFlag{
		Name:    "region",
		Usage:   "AWS region",
		EnvVars: []string{config.EnvRegion},
	}

	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "Path to a YAML config file (default: ~/" + config.DefaultFileName + ")",
		EnvVars: []string{config.EnvConfig},
	}

	VerboseFlag = &cli.BoolFlag{
		Name:  "verbose",
		Usage: "Log debug output and show remote error traces",
	}

	QuietFlag = &cli.BoolFlag{
		Name:  "quiet",
		Usage: "Suppress status output",
	}

	// NoColorFlag disables colored error output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// FormatFlag selects output format: text, json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: text, json, table, yaml",
	}
)

// GlobalFlags returns the flags accepted before any command.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		ProfileFlag,
		FunctionFlag,
		BucketFlag,
		RegionFlag,
		ConfigFlag,
		VerboseFlag,
		QuietFlag,
		NoColorFlag,
	}
}

func flagValues(c *cli.Context) config.Flags {
	return config.Flags{
		Profile:  c.String(ProfileFlag.Name),
		Function: c.String(FunctionFlag.Name),
		Bucket:   c.String(BucketFlag.Name),
		Region:   c.String(RegionFlag.Name),
	}
}
