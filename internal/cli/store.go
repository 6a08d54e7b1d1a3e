package cli

import (
	"fmt"
	"os"

	"github.com/tikalk/timewatch/internal/config"
	"github.com/tikalk/timewatch/internal/cookies"
	"github.com/tikalk/timewatch/internal/cookies/bolt"
	"github.com/tikalk/timewatch/internal/cookies/filestore"
	"github.com/tikalk/timewatch/internal/cookies/memory"
	"github.com/tikalk/timewatch/internal/cookies/sqlite"
	"go.uber.org/zap"
)

// openStore opens the backend cfg names.
func openStore(cfg config.Config, logger *zap.Logger) (cookies.Store, error) {
	if cfg.Backend == config.BackendMemory {
		return memory.New(), nil
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	path := cfg.StorePath()
	logger.Debug("opening cookie store", zap.String("backend", cfg.Backend), zap.String("path", path))

	switch cfg.Backend {
	case config.BackendSQLite:
		return sqlite.New(path)
	case config.BackendBolt:
		return bolt.Open(path, bolt.WithLogger(logger))
	case config.BackendFile:
		return filestore.NewOS(path)
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}
