// Package config defines the engine configuration and its loader. Values
// come from a YAML config file, environment variables with the EVENTVAULT
// prefix, and CLI flags bound through viper, in ascending precedence.
package config

import (
	"errors"
	"fmt"
	"os"

	"eventvault/internal/archive"
	"eventvault/internal/blob"
	"eventvault/internal/handler"
)

// Config is the root engine configuration.
type Config struct {
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
	EventStore EventStoreConfig `mapstructure:"event_store" yaml:"event_store"`
	Archive    ArchiveConfig    `mapstructure:"archive" yaml:"archive"`
	Restore    RestoreConfig    `mapstructure:"restore" yaml:"restore"`
	Jobs       JobsConfig       `mapstructure:"jobs" yaml:"jobs"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`

	// Users maps stable external user keys to target user references for
	// the restore user directory.
	Users map[string]string `mapstructure:"users" yaml:"users"`
}

// StorageConfig selects the blob stores the engine runs on. Archives holds
// finalized backups and the job ledger; Assets is the live asset binary
// store.
type StorageConfig struct {
	Archives blob.Config `mapstructure:"archives" yaml:"archives"`
	Assets   blob.Config `mapstructure:"assets" yaml:"assets"`
}

// EventStoreConfig configures the file-backed event store.
type EventStoreConfig struct {
	BasePath string `mapstructure:"base_path" yaml:"base_path"`
}

// ArchiveConfig configures how archives are written.
type ArchiveConfig struct {
	Codec string `mapstructure:"codec" yaml:"codec"`
	Level int    `mapstructure:"level" yaml:"level"`

	// EncryptionPassphrase enables journal encryption when non-empty. It is
	// normally supplied through EVENTVAULT_ARCHIVE_ENCRYPTION_PASSPHRASE
	// rather than the config file.
	EncryptionPassphrase string `mapstructure:"encryption_passphrase" yaml:"encryption_passphrase"`
}

// RestoreConfig configures restore behavior.
type RestoreConfig struct {
	// UnknownKinds selects what happens to events whose entity kind has no
	// registered handler: "fail" or "passthrough".
	UnknownKinds string `mapstructure:"unknown_kinds" yaml:"unknown_kinds"`

	// PreserveIdentity keeps source entity ids unchanged on restore, for
	// same-system re-import of a deleted app.
	PreserveIdentity bool `mapstructure:"preserve_identity" yaml:"preserve_identity"`
}

// JobsConfig tunes processor behavior shared by backup and restore.
type JobsConfig struct {
	AttachmentRetries int    `mapstructure:"attachment_retries" yaml:"attachment_retries"`
	ProgressInterval  int64  `mapstructure:"progress_interval" yaml:"progress_interval"`
	TempDir           string `mapstructure:"temp_dir" yaml:"temp_dir"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level   string `mapstructure:"level" yaml:"level"`
	Format  string `mapstructure:"format" yaml:"format"`
	LogFile string `mapstructure:"log_file" yaml:"log_file"`
}

// SetDefaults fills unset fields with working defaults: local storage under
// the data directory, gzip journals, fail-closed unknown kinds.
func (c *Config) SetDefaults() {
	if c.Storage.Archives.Provider == "" {
		c.Storage.Archives.Provider = blob.ProviderLocal
		c.Storage.Archives.Local = &blob.LocalConfig{BasePath: "./data/archives"}
	}
	if c.Storage.Assets.Provider == "" {
		c.Storage.Assets.Provider = blob.ProviderLocal
		c.Storage.Assets.Local = &blob.LocalConfig{BasePath: "./data/assets"}
	}
	if c.EventStore.BasePath == "" {
		c.EventStore.BasePath = "./data/events"
	}
	if c.Archive.Codec == "" {
		c.Archive.Codec = string(archive.CodecGzip)
	}
	if c.Restore.UnknownKinds == "" {
		c.Restore.UnknownKinds = string(handler.UnknownKindFail)
	}
	if c.Jobs.AttachmentRetries == 0 {
		c.Jobs.AttachmentRetries = 3
	}
	if c.Jobs.ProgressInterval == 0 {
		c.Jobs.ProgressInterval = 100
	}
	if c.Jobs.TempDir == "" {
		c.Jobs.TempDir = os.TempDir()
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "normal"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Storage.Archives.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("storage.archives: %w", err))
	}
	if err := c.Storage.Assets.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("storage.assets: %w", err))
	}
	if c.EventStore.BasePath == "" {
		errs = append(errs, errors.New("event_store.base_path is required"))
	}

	switch archive.CodecType(c.Archive.Codec) {
	case archive.CodecNone, archive.CodecGzip, archive.CodecLZ4, archive.CodecZstd:
	default:
		errs = append(errs, fmt.Errorf("archive.codec: unsupported codec %q", c.Archive.Codec))
	}

	switch handler.UnknownKindPolicy(c.Restore.UnknownKinds) {
	case handler.UnknownKindFail, handler.UnknownKindPassThrough:
	default:
		errs = append(errs, fmt.Errorf("restore.unknown_kinds: must be %q or %q",
			handler.UnknownKindFail, handler.UnknownKindPassThrough))
	}

	if c.Jobs.AttachmentRetries < 0 {
		errs = append(errs, errors.New("jobs.attachment_retries must not be negative"))
	}
	if c.Jobs.ProgressInterval < 1 {
		errs = append(errs, errors.New("jobs.progress_interval must be at least 1"))
	}

	return errors.Join(errs...)
}
