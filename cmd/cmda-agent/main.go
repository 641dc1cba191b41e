// Package main provides the cmda-agent entrypoint that runs inside the
// remote function.
//
// The agent reads its configuration from the environment:
//   - CMDA_BUCKET: default staging bucket
//   - AWS_LAMBDA_FUNCTION_NAME: reported by the info action
//
// Logs are JSON lines on stderr.
package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"go.uber.org/zap/zapcore"

	"github.com/lambci/cmda/agent"
	"github.com/lambci/cmda/invoke"
	"github.com/lambci/cmda/log"
	"github.com/lambci/cmda/staging"
)

func main() {
	logger := log.NewLogger("cmda-agent", zapcore.InfoLevel)
	defer func() { _ = logger.Sync() }()

	// Staging transfers may run as long as the invocation itself.
	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithHTTPClient(awshttp.NewBuildableClient().WithTimeout(invoke.Timeout)),
	)
	if err != nil {
		logger.Error("failed to load AWS configuration", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	cfg := agent.ConfigFromEnv(os.Getenv)
	logger.Info("agent starting", map[string]any{
		"function": cfg.FunctionName,
		"bucket":   cfg.Bucket,
		"version":  cfg.Version,
	})

	handler := agent.New(cfg, staging.New(awsCfg, staging.Config{}), agent.WithLogger(logger))
	lambda.StartWithOptions(handler.Invoke,
		lambda.WithEnableSIGTERM(func() {
			logger.Info("agent shutting down", nil)
			_ = logger.Sync()
		}),
	)
}
