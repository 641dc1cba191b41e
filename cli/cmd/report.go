package cmd

import (
	"errors"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/lambci/cmda/cli/render"
	"github.com/lambci/cmda/codec"
	"github.com/lambci/cmda/staging"
)

// ReportOptions controls how ReportError prints.
type ReportOptions struct {
	Verbose bool
	NoColor bool
	// Profile is named in the credentials hint when set.
	Profile string
}

// ReportOptionsFrom reads the global flags from c. A nil context yields
// the defaults.
func ReportOptionsFrom(c *cli.Context) ReportOptions {
	_, noColor := os.LookupEnv("NO_COLOR")
	if c == nil {
		return ReportOptions{NoColor: noColor}
	}
	return ReportOptions{
		Verbose: c.Bool(VerboseFlag.Name),
		NoColor: noColor || c.Bool(NoColorFlag.Name),
		Profile: c.String(ProfileFlag.Name),
	}
}

// ReportError prints a failed command's error to w. Local credential
// failures are replaced by instructions for refreshing them.
func ReportError(w io.Writer, err error, opts ReportOptions) {
	if err == nil {
		return
	}
	p := render.NewErrorPrinter(w, opts.Verbose, opts.NoColor)

	var remote *codec.RemoteError
	if !errors.As(err, &remote) && staging.IsCredentialError(err) {
		p.Hint(
			"Could not find valid AWS credentials. Try running the AWS CLI to refresh credentials and then try again:",
			"",
			credentialCheck(opts.Profile),
		)
		if opts.Verbose {
			p.Print(err)
		}
		return
	}

	p.Print(err)
}

func credentialCheck(profile string) string {
	if profile == "" {
		return "aws sts get-caller-identity"
	}
	return "aws --profile " + profile + " sts get-caller-identity"
}
