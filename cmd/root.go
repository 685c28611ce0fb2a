package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"eventvault/internal/archive"
	"eventvault/internal/backup"
	"eventvault/internal/blob"
	"eventvault/internal/config"
	"eventvault/internal/event"
	"eventvault/internal/handler"
	"eventvault/internal/logging"
	"eventvault/internal/users"
)

var (
	cfgFile string
	verbose bool
	quiet   bool
	noColor bool
	logFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "eventvault",
	Short: "Backup and restore engine for event-sourced applications",
	Long: `EventVault exports an application's complete event history and binary
attachments into a portable archive, and replays archives back into the same
or a different deployment with collision-free identifiers.

Examples:
  # Back up an app and wait for completion
  eventvault backup start --app my-app

  # List backups for an app
  eventvault backup list --app my-app

  # Restore an archive into a fresh app
  eventvault restore start --archive archives/my-app/<job-id>.zip

  # Check the state of the most recent restore
  eventvault restore status`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor || !isatty.IsTerminal(os.Stdout.Fd()) {
			color.NoColor = true
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., $HOME/.config/eventvault, /etc/eventvault)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to file")

	rootCmd.AddCommand(createVersionCommand())
}

// engine bundles everything a command needs, wired once per invocation.
type engine struct {
	cfg      *config.Config
	logger   *logging.Logger
	apps     *backup.BlobAppDirectory
	backups  *backup.BackupService
	restores *backup.RestoreService
}

// buildEngine loads configuration and wires the full engine: blob stores,
// event store, handler registry, ledger, processors and services. It also
// reconciles jobs left running by a previous process.
func buildEngine(ctx context.Context) (*engine, error) {
	cfg, err := config.NewLoader().Load(cfgFile)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:   logLevel(cfg),
		Format:  cfg.Logging.Format,
		LogFile: logFileOrConfig(cfg),
	})
	if err != nil {
		return nil, err
	}

	factory := blob.NewFactory()
	archives, err := factory.CreateStore(ctx, cfg.Storage.Archives)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive store: %w", err)
	}
	assets, err := factory.CreateStore(ctx, cfg.Storage.Assets)
	if err != nil {
		return nil, fmt.Errorf("failed to open asset store: %w", err)
	}

	events, err := event.NewFileStore(cfg.EventStore.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open event store: %w", err)
	}

	registry, err := handler.NewDefaultRegistry(handler.UnknownKindPolicy(cfg.Restore.UnknownKinds))
	if err != nil {
		return nil, err
	}

	ledger := backup.NewJobLedger(archives)
	apps := backup.NewBlobAppDirectory(archives)
	directory := users.NewStaticDirectory(cfg.Users)

	procOpts := processorOptions(cfg)
	processor := backup.NewProcessor(events, assets, archives, apps, ledger, registry, logger, procOpts)
	restoreProcessor := backup.NewRestoreProcessor(events, assets, archives, apps, directory, ledger, registry, logger,
		backup.RestoreOptions{
			ProcessorOptions: procOpts,
			PreserveIdentity: cfg.Restore.PreserveIdentity,
		})

	backups := backup.NewBackupService(processor, ledger, archives, logger)
	restores := backup.NewRestoreService(restoreProcessor, ledger, logger)

	if _, err := backups.Recover(ctx); err != nil {
		return nil, fmt.Errorf("failed to reconcile backup jobs: %w", err)
	}
	if _, err := restores.Recover(ctx); err != nil {
		return nil, fmt.Errorf("failed to reconcile restore jobs: %w", err)
	}

	return &engine{
		cfg:      cfg,
		logger:   logger,
		apps:     apps,
		backups:  backups,
		restores: restores,
	}, nil
}

func processorOptions(cfg *config.Config) backup.ProcessorOptions {
	return backup.ProcessorOptions{
		Codec:             archive.CodecType(cfg.Archive.Codec),
		CodecLevel:        cfg.Archive.Level,
		Passphrase:        cfg.Archive.EncryptionPassphrase,
		AttachmentRetries: cfg.Jobs.AttachmentRetries,
		ProgressInterval:  cfg.Jobs.ProgressInterval,
		TempDir:           cfg.Jobs.TempDir,
	}
}

func logLevel(cfg *config.Config) logging.LogLevel {
	switch {
	case quiet:
		return logging.LogLevelQuiet
	case verbose:
		return logging.LogLevelVerbose
	default:
		return logging.LogLevel(cfg.Logging.Level)
	}
}

func logFileOrConfig(cfg *config.Config) string {
	if logFile != "" {
		return logFile
	}
	return cfg.Logging.LogFile
}

// Shared status colors for command output.
var (
	statusGreen  = color.New(color.FgGreen)
	statusRed    = color.New(color.FgRed)
	statusYellow = color.New(color.FgYellow)
)

func statusString(status backup.JobStatus) string {
	switch status {
	case backup.JobStatusCompleted:
		return statusGreen.Sprint(string(status))
	case backup.JobStatusFailed:
		return statusRed.Sprint(string(status))
	default:
		return statusYellow.Sprint(string(status))
	}
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("eventvault version %s\n", version)
			fmt.Printf("Built: %s\n", buildTime)
			fmt.Printf("Commit: %s\n", gitCommit)
			fmt.Printf("Go version: %s\n", goVersion)
		},
	}
}
