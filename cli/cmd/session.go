package cmd

import (
	"io"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"

	"github.com/lambci/cmda/cli/config"
	"github.com/lambci/cmda/client"
	"github.com/lambci/cmda/log"
	"github.com/lambci/cmda/metrics"
	"github.com/lambci/cmda/progress"
)

// dotEnvFile is read from the working directory.
const dotEnvFile = ".env"

// session holds everything one command needs.
type session struct {
	settings config.Settings
	logger   *log.Logger
	status   *progress.Reporter
}

// loadSettings resolves flags, environment, .env and the YAML config file.
func loadSettings(c *cli.Context) (config.Settings, error) {
	dotenv, err := config.ReadDotEnv(dotEnvFile)
	if err != nil {
		return config.Settings{}, err
	}
	lookup := config.Lookup(os.LookupEnv, config.MapLookup(dotenv))

	path := c.String(ConfigFlag.Name)
	if path == "" {
		path = dotenv[config.EnvConfig]
	}

	var file *config.Config
	if path != "" {
		file, err = config.LoadWith(path, lookup)
	} else {
		file, err = config.LoadDefault(lookup)
	}
	if err != nil {
		return config.Settings{}, err
	}

	return config.Resolve(flagValues(c), os.Getenv, dotenv, file), nil
}

func newSession(c *cli.Context) (*session, error) {
	settings, err := loadSettings(c)
	if err != nil {
		return nil, err
	}
	if err := settings.RequireFunction(); err != nil {
		return nil, err
	}

	level := zapcore.WarnLevel
	if c.Bool(VerboseFlag.Name) {
		level = zapcore.DebugLevel
	}

	return &session{
		settings: settings,
		logger:   log.NewLoggerWithWriter(c.App.ErrWriter, "cmda", level).With("function", settings.Function),
		status:   statusReporter(c.App.Writer, c.Bool(QuietFlag.Name)),
	}, nil
}

// client builds the orchestrator for operation.
func (s *session) client(c *cli.Context, backend Backend, operation string) (*client.Client, error) {
	inv, store, err := backend.Remote(c.Context, s.settings, s.logger)
	if err != nil {
		return nil, err
	}

	cl := client.New(inv, store)
	cl.Stdout = c.App.Writer
	cl.Stderr = c.App.ErrWriter
	cl.Status = s.status
	cl.Logger = s.logger
	cl.Metrics = metrics.NewCollector(operation, s.settings.Function, s.settings.Bucket)
	if s.settings.Invoke.MaxRetries != nil {
		cl.MaxRetries = *s.settings.Invoke.MaxRetries
	}
	return cl, nil
}

// finish clears a half-written status line so errors start on a clean line.
func (s *session) finish(err error) error {
	if err != nil {
		s.status.Clear()
	}
	_ = s.logger.Sync()
	return err
}

func statusReporter(w io.Writer, quiet bool) *progress.Reporter {
	if f, ok := w.(*os.File); ok {
		return progress.ForTerminal(f, quiet)
	}
	if quiet {
		return progress.Discard()
	}
	return progress.New(w, false)
}
