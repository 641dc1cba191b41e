package config

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/lambci/cmda/staging"
)

// Environment variables consulted when resolving Settings.
const (
	EnvFunction = "CMDA_FUNCTION"
	EnvBucket   = "CMDA_BUCKET"
	EnvConfig   = "CMDA_CONFIG"
	EnvProfile  = "AWS_PROFILE"
	EnvRegion   = "AWS_REGION"
)

// DefaultProfile is used when no profile is selected anywhere.
const DefaultProfile = "default"

// ErrNoFunction is returned when no function name could be resolved.
var ErrNoFunction = errors.New("Unknown Lambda function. Please specify --function or CMDA_FUNCTION env") //nolint:staticcheck // user-facing message

// Flags are the global CLI flag values. Empty means unset.
type Flags struct {
	Profile  string
	Function string
	Bucket   string
	Region   string
}

// Settings is the resolved configuration for one CLI run.
type Settings struct {
	// Profile is the AWS profile name. ProfileExplicit reports whether it
	// was chosen rather than defaulted.
	Profile         string
	ProfileExplicit bool
	Function        string
	Bucket          string
	Region          string
	Storage         StorageConfig
	Invoke          InvokeConfig
}

// Resolve merges configuration sources with precedence
// flag > environment > .env > config file profile.
func Resolve(flags Flags, getenv func(string) string, dotenv map[string]string, file *Config) Settings {
	pick := func(flag, key string) string {
		if flag != "" {
			return flag
		}
		if v := getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}

	s := Settings{Profile: pick(flags.Profile, EnvProfile)}
	s.ProfileExplicit = s.Profile != ""
	if !s.ProfileExplicit {
		s.Profile = DefaultProfile
	}

	profile := file.Profile(s.Profile)
	s.Function = orDefault(pick(flags.Function, EnvFunction), profile.Function)
	s.Bucket = orDefault(pick(flags.Bucket, EnvBucket), profile.Bucket)
	s.Region = orDefault(pick(flags.Region, EnvRegion), profile.Region)
	if file != nil {
		s.Storage = file.Storage
		s.Invoke = file.Invoke
	}
	return s
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

// RequireFunction returns ErrNoFunction when no function name is set.
func (s Settings) RequireFunction() error {
	if s.Function == "" {
		return ErrNoFunction
	}
	return nil
}

// StagingConfig returns the staging store options.
func (s Settings) StagingConfig() staging.Config {
	return staging.Config{
		Endpoint:     s.Storage.Endpoint,
		UsePathStyle: s.Storage.S3PathStyle,
		ProbeTimeout: s.Storage.ProbeTimeout.Duration,
		PartSize:     s.Storage.PartSize,
		Concurrency:  s.Storage.Concurrency,
	}
}

// AWSConfig builds the AWS configuration for this run. requestTimeout
// bounds each HTTP request; zero leaves the SDK default.
func (s Settings) AWSConfig(ctx context.Context, requestTimeout time.Duration) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if s.ProfileExplicit {
		opts = append(opts, awsconfig.WithSharedConfigProfile(s.Profile))
	}
	if s.Region != "" {
		opts = append(opts, awsconfig.WithRegion(s.Region))
	}
	if requestTimeout > 0 {
		opts = append(opts, awsconfig.WithHTTPClient(awshttp.NewBuildableClient().WithTimeout(requestTimeout)))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}
