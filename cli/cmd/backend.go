package cmd

import (
	"context"

	"github.com/lambci/cmda/cli/config"
	"github.com/lambci/cmda/client"
	"github.com/lambci/cmda/invoke"
	"github.com/lambci/cmda/log"
	"github.com/lambci/cmda/provision"
	"github.com/lambci/cmda/staging"
)

// EndpointCreator provisions S3 gateway endpoints for a function.
type EndpointCreator interface {
	CreateS3Endpoint(ctx context.Context, req provision.Request) ([]provision.Endpoint, error)
}

// Backend builds the remote collaborators for one CLI run.
type Backend interface {
	Remote(ctx context.Context, s config.Settings, logger *log.Logger) (invoke.Invoker, client.Store, error)
	Provisioner(ctx context.Context, s config.Settings, logger *log.Logger) (EndpointCreator, error)
}

// AWSBackend talks to Lambda, S3 and EC2 using the resolved settings.
type AWSBackend struct{}

// Remote returns a Lambda invoker and an S3 stager.
func (AWSBackend) Remote(ctx context.Context, s config.Settings, logger *log.Logger) (invoke.Invoker, client.Store, error) {
	awsCfg, err := s.AWSConfig(ctx, 0)
	if err != nil {
		return nil, nil, err
	}
	inv := invoke.NewLambda(awsCfg, s.Function,
		invoke.WithLogger(logger),
		invoke.WithLogTail(s.Invoke.LogTail),
	)
	return inv, staging.New(awsCfg, s.StagingConfig()), nil
}

// Provisioner returns an EC2-backed endpoint provisioner.
func (AWSBackend) Provisioner(ctx context.Context, s config.Settings, logger *log.Logger) (EndpointCreator, error) {
	awsCfg, err := s.AWSConfig(ctx, 0)
	if err != nil {
		return nil, err
	}
	return provision.New(awsCfg, logger), nil
}
