package cmd

import (
	"log/slog"

	"github.com/MeKo-Tech/osm-engine/internal/engine"
)

// engineHandle aliases engine.Engine so subcommand files only need to
// import this package, not internal/engine directly.
type engineHandle = engine.Engine

// buildEngine wires a fresh Engine from the CLI's bound flags.
func buildEngine(cachePath string, endpoints []string, logger *slog.Logger) (*engineHandle, error) {
	return engine.New(engine.Config{
		CachePath: cachePath,
		Endpoints: endpoints,
		Logger:    logger,
	})
}
