package cli

import (
	"context"
	"database/sql"
	"log/slog"
	"os"

	"pmt-pipeline/internal/config"
	"pmt-pipeline/internal/domain"
	"pmt-pipeline/internal/history"
	"pmt-pipeline/internal/pipeline"
	"pmt-pipeline/internal/spatial"
	"pmt-pipeline/internal/tableio"
)

// runtime bundles the process-wide collaborators a command needs: the
// config loaded once at start, the logger, the optional DuckDB store, and
// the run-history repository.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	duckDB *sql.DB
	runs   domain.RunRepository

	historyDB *sql.DB
}

// newRuntime loads configuration and opens the history store and, when
// configured, the DuckDB analytical store with its spatial relator.
func newRuntime(ctx context.Context, envFile string) (*runtime, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	rt := &runtime{cfg: cfg, logger: logger}

	rt.historyDB, err = history.Open(cfg.HistoryDBPath)
	if err != nil {
		rt.close()
		return nil, err
	}
	if err := history.Migrate(rt.historyDB); err != nil {
		rt.close()
		return nil, err
	}
	rt.runs = history.NewStore(rt.historyDB)

	if cfg.DuckDBPath != "" {
		rt.duckDB, err = tableio.OpenDuckDB(cfg.DuckDBPath)
		if err != nil {
			rt.close()
			return nil, err
		}
	}

	return rt, nil
}

// runner wires a pipeline Runner from the runtime. The spatial relator is
// only available when a DuckDB store is open.
func (rt *runtime) runner(ctx context.Context, needSpatial bool) (*pipeline.Runner, error) {
	var relator domain.SpatialRelator
	if rt.duckDB != nil {
		if needSpatial {
			if err := spatial.EnsureSpatial(ctx, rt.duckDB); err != nil {
				return nil, err
			}
		}
		relator = spatial.NewDuckRelator(rt.duckDB, rt.logger)
	}
	return pipeline.NewRunner(rt.cfg, rt.duckDB, relator, rt.runs, rt.logger), nil
}

func (rt *runtime) close() {
	if rt.duckDB != nil {
		_ = rt.duckDB.Close()
	}
	if rt.historyDB != nil {
		_ = rt.historyDB.Close()
	}
}
