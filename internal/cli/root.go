package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tikalk/timewatch/internal/config"
	"github.com/tikalk/timewatch/internal/cookies"
	"go.uber.org/zap"
)

// rootOptions holds the persistent flags.
type rootOptions struct {
	ConfigPath string
	EnvFile    string
	Backend    string
	DataDir    string
	Verbose    bool
}

// app carries what every subcommand needs once flags are parsed.
type app struct {
	cfg    config.Config
	logger *zap.Logger
}

// NewRootCommand creates the root command.
func NewRootCommand(version string) *cobra.Command {
	opts := &rootOptions{}
	a := &app{logger: zap.NewNop()}

	cmd := &cobra.Command{
		Use:           "timejar",
		Short:         "timejar - inspect the timewatch cookie store",
		Long:          "timejar reads and edits the persistent cookie store the timewatch client keeps between sessions.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.configure(cmd, opts)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.ConfigPath, "config", "c", config.DefaultPath(), "Config file")
	flags.StringVar(&opts.EnvFile, "env-file", ".env", "Dotenv file with TIMEWATCH_* overrides")
	flags.StringVarP(&opts.Backend, "backend", "b", "", "Store backend (sqlite, bolt, file, memory)")
	flags.StringVarP(&opts.DataDir, "data-dir", "d", "", "Directory holding the cookie database")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "Enable debug logging")

	// Add subcommands
	cmd.AddCommand(
		newListCommand(a),
		newGetCommand(a),
		newSetCommand(a),
		newRemoveCommand(a),
		newURIsCommand(a),
		newClearCommand(a),
	)

	return cmd
}

// configure loads the config file and environment, then applies the flags
// the user set explicitly.
func (a *app) configure(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := config.Load(opts.ConfigPath, opts.EnvFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = opts.Backend
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = opts.DataDir
	}
	if flags.Changed("verbose") {
		cfg.Verbose = opts.Verbose
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	if cfg.Verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		a.logger = logger
	}
	return nil
}

// withJar opens the configured store, loads a jar over it and closes the
// store once fn returns.
func (a *app) withJar(fn func(jar *cookies.PersistentJar) error) error {
	store, err := openStore(a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			a.logger.Warn("failed to close cookie store", zap.Error(err))
		}
		_ = a.logger.Sync()
	}()

	jar, err := cookies.NewPersistentJar(store, cookies.WithLogger(a.logger))
	if err != nil {
		return err
	}
	return fn(jar)
}
