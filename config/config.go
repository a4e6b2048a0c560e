// Package config provides a single, explicitly-constructed configuration
// struct for the whole module. There is no package-level singleton: every
// constructor in this repo takes a *Config (or the fields it needs) so that
// tests can build a fresh Config with overrides instead of mutating ambient
// process state (spec.md section 9, "Global mutable singletons").
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// StorageMode selects which UnitOfWork implementation a process wires up.
type StorageMode string

const (
	StorageInMemory StorageMode = "inmemory"
	StorageSQL      StorageMode = "sql"
)

// Config holds every recognized option from spec.md section 6.
type Config struct {
	StorageMode        StorageMode
	PrimaryDBURL       string
	CheckpointStoreURL string
	FileStoreRoot      string

	OutboxPollInterval       time.Duration
	OutboxBatchSize          int
	OutboxRetentionDays      int
	OutboxMaxRetries         int
	OutboxStrictVerification bool

	CleanupMaxFiles int

	// IdempotencyWindow is how long an idempotency key stays deduplicated.
	// Open Question 2 (spec.md section 9) resolves this to default to
	// OutboxRetentionDays when zero.
	IdempotencyWindow time.Duration

	// ClaimLockURL is loaded from the environment, but nothing in this
	// module reads it: wire.NewProcessor builds no claim lock from it. A
	// Redis-backed lock (outboxproc.RedisClaimLock) is used only when passed
	// via outboxproc.WithClaimLock, and it sits in front of the conditional
	// UPDATE claim rather than replacing it.
	ClaimLockURL string
}

// Default returns a Config with the defaults named in spec.md section 6.
func Default() Config {
	return Config{
		StorageMode:         StorageInMemory,
		FileStoreRoot:       "./data/files",
		OutboxPollInterval:  time.Second,
		OutboxBatchSize:     50,
		OutboxRetentionDays: 7,
		OutboxMaxRetries:    5,
		CleanupMaxFiles:     100,
	}
}

// Load reads configuration from environment variables, optionally loading a
// .env file first (ignored if absent). Unset variables keep Default()'s
// values. This is the only place in the module that reads the process
// environment; everything downstream takes an explicit Config.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: loading %s: %w", envFile, err)
		}
	}

	cfg := Default()

	if v := os.Getenv("WTB_STORAGE_MODE"); v != "" {
		cfg.StorageMode = StorageMode(v)
	}
	if v := os.Getenv("WTB_PRIMARY_DB_URL"); v != "" {
		cfg.PrimaryDBURL = v
	}
	if v := os.Getenv("WTB_CHECKPOINT_STORE_URL"); v != "" {
		cfg.CheckpointStoreURL = v
	}
	if v := os.Getenv("WTB_FILE_STORE_ROOT"); v != "" {
		cfg.FileStoreRoot = v
	}
	if v := os.Getenv("WTB_CLAIM_LOCK_URL"); v != "" {
		cfg.ClaimLockURL = v
	}

	if err := setDuration(os.Getenv("WTB_OUTBOX_POLL_INTERVAL"), &cfg.OutboxPollInterval); err != nil {
		return Config{}, err
	}
	if err := setInt(os.Getenv("WTB_OUTBOX_BATCH_SIZE"), &cfg.OutboxBatchSize); err != nil {
		return Config{}, err
	}
	if err := setInt(os.Getenv("WTB_OUTBOX_RETENTION_DAYS"), &cfg.OutboxRetentionDays); err != nil {
		return Config{}, err
	}
	if err := setInt(os.Getenv("WTB_OUTBOX_MAX_RETRIES"), &cfg.OutboxMaxRetries); err != nil {
		return Config{}, err
	}
	if err := setInt(os.Getenv("WTB_CLEANUP_MAX_FILES"), &cfg.CleanupMaxFiles); err != nil {
		return Config{}, err
	}
	if err := setDuration(os.Getenv("WTB_IDEMPOTENCY_WINDOW"), &cfg.IdempotencyWindow); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("WTB_OUTBOX_STRICT_VERIFICATION"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: WTB_OUTBOX_STRICT_VERIFICATION: %w", err)
		}
		cfg.OutboxStrictVerification = b
	}

	if cfg.IdempotencyWindow == 0 {
		cfg.IdempotencyWindow = time.Duration(cfg.OutboxRetentionDays) * 24 * time.Hour
	}

	return cfg, cfg.Validate()
}

// Validate rejects configurations that would make the system misbehave
// rather than failing late inside a background goroutine.
func (c Config) Validate() error {
	switch c.StorageMode {
	case StorageInMemory, StorageSQL:
	default:
		return fmt.Errorf("config: unrecognized storage_mode %q", c.StorageMode)
	}
	if c.StorageMode == StorageSQL && c.PrimaryDBURL == "" {
		return fmt.Errorf("config: primary_db_url is required when storage_mode=sql")
	}
	if c.OutboxBatchSize <= 0 {
		return fmt.Errorf("config: outbox_batch_size must be positive")
	}
	if c.OutboxMaxRetries < 0 {
		return fmt.Errorf("config: outbox_max_retries must not be negative")
	}
	if c.CleanupMaxFiles <= 0 {
		return fmt.Errorf("config: cleanup_max_files must be positive")
	}
	return nil
}

func setInt(v string, dst *int) error {
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: invalid integer %q: %w", v, err)
	}
	*dst = n
	return nil
}

func setDuration(v string, dst *time.Duration) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", v, err)
	}
	*dst = d
	return nil
}
