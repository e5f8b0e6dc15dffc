package main

import (
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/timetravel/backend/internal/config"
)

type app struct {
	cfg *config.Config

	port     string
	dataDir  string
	backend  string
	logLevel string
	logFmt   string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Error().Err(err).Msg("timetravel failed")
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "timetravel",
		Short:         "TimeTravel Chat backend: talk to historical figures and unlock new ones",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.port, "port", "", "listen port or address (overrides PORT)")
	flags.StringVar(&a.dataDir, "data-dir", "", "directory for users.db (overrides DATA_DIR)")
	flags.StringVar(&a.backend, "backend", "", "session backend: sqlite, redis or memory (overrides SESSION_BACKEND)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	flags.StringVar(&a.logFmt, "log-format", "", "log format: console or json (overrides LOG_FORMAT)")

	root.AddCommand(newServeCommand(a), newPersonasCommand(a))
	return root
}

// load reads .env, the environment and flag overrides, then configures logging.
func (a *app) load(cmd *cobra.Command) error {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		addr, err := config.ParseAddr(a.port)
		if err != nil {
			return err
		}
		cfg.Server.Addr = addr
	}
	if flags.Changed("data-dir") {
		cfg.Storage.DataDir = a.dataDir
	}
	if flags.Changed("backend") {
		switch a.backend {
		case config.BackendSQLite, config.BackendRedis, config.BackendMemory:
			cfg.Storage.Backend = a.backend
		default:
			return errors.Errorf("invalid --backend value %q", a.backend)
		}
	}
	if flags.Changed("log-level") {
		level, err := config.ParseLogLevel(a.logLevel)
		if err != nil {
			return err
		}
		cfg.Log.Level = level
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = a.logFmt
	}

	setupLogging(cfg.Log)
	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		log.Warn().Err(envErr).Msg("failed to load .env file, continuing with the process environment")
	}

	a.cfg = cfg
	return nil
}

func setupLogging(cfg config.LogConfig) {
	zerolog.SetGlobalLevel(cfg.Level)
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
