package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/lambci/cmda/cli/render"
	"github.com/lambci/cmda/provision"
)

// VPCEndpointCommand returns the vpc-endpoint command. It gives a
// VPC-attached function a network path to the staging bucket.
func VPCEndpointCommand(backend Backend) *cli.Command {
	return &cli.Command{
		Name:   "vpc-endpoint",
		Usage:  "Create an S3 gateway endpoint in the Lambda function's VPC",
		Flags:  []cli.Flag{FormatFlag},
		Action: vpcEndpointAction(backend),
	}
}

func vpcEndpointAction(backend Backend) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c.String(FormatFlag.Name), c.App.Writer)
		if err != nil {
			return err
		}

		s, err := newSession(c)
		if err != nil {
			return err
		}

		bucket := s.settings.Bucket
		if bucket == "" {
			cl, err := s.client(c, backend, "vpc-endpoint")
			if err != nil {
				return s.finish(err)
			}
			if bucket, err = cl.ResolveBucket(c.Context, bucket); err != nil {
				return s.finish(err)
			}
		}

		p, err := backend.Provisioner(c.Context, s.settings, s.logger)
		if err != nil {
			return s.finish(err)
		}

		s.status.Line("Creating S3 endpoint...")
		endpoints, err := p.CreateS3Endpoint(c.Context, provision.Request{
			FunctionName: s.settings.Function,
			Bucket:       bucket,
			Region:       s.settings.Region,
		})
		if err != nil {
			return s.finish(err)
		}
		s.status.Done("Created " + pluralEndpoints(len(endpoints)))
		return s.finish(r.Render(endpoints))
	}
}

func pluralEndpoints(n int) string {
	if n == 1 {
		return "1 endpoint"
	}
	return fmt.Sprintf("%d endpoints", n)
}
