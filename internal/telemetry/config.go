package telemetry

import "time"

const (
	defaultDirPerm = 0o755
	defaultDBPath  = "/var/lib/anemeter/telemetry.db"

	DefaultBatchSize    = 16
	DefaultBatchTimeout = 30 * time.Second
)

type Config struct {
	DBPath       string
	Enabled      bool
	BatchSize    int           // snapshots buffered before a flush
	BatchTimeout time.Duration // upper bound on how long a snapshot sits unflushed
}

func DefaultConfig() Config {
	return Config{
		DBPath:       defaultDBPath,
		Enabled:      false,
		BatchSize:    DefaultBatchSize,
		BatchTimeout: DefaultBatchTimeout,
	}
}

func (c Config) Validate() error {
	if c.Enabled && c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}

	return nil
}
