package surreallms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/surrealdb/surreallms/pkg/models"
	"github.com/surrealdb/surreallms/pkg/write/postgres"
)

// Migrate creates the authoritative tables and the derived store schema.
// Redis and the in-memory stores need no schema.
func (a *App) Migrate(ctx context.Context, cmd *MigrateCommand) error {
	a.Log.Info("running migrations", "store", a.Config.Store, "search", a.Config.Search)
	if a.pg != nil {
		if err := a.pg.Migrate(ctx, models.All()...); err != nil {
			return fmt.Errorf("failed to migrate postgres: %w", err)
		}
	}
	if a.surreal != nil {
		tables := make([]string, 0, len(models.Tables()))
		for _, t := range models.Tables() {
			tables = append(tables, t.Name)
		}
		if err := a.surreal.Migrate(ctx, tables, SearchIndexes()...); err != nil {
			return fmt.Errorf("failed to migrate surrealdb: %w", err)
		}
	}
	a.Log.Info("migrations completed")
	return nil
}

// Reap removes expired rows once and returns how many were removed.
func (a *App) Reap(ctx context.Context, cmd *ReapCommand) (int64, error) {
	var n int64
	switch {
	case a.pg != nil:
		var err error
		if n, err = a.pg.Sweep(ctx); err != nil {
			return 0, fmt.Errorf("failed to sweep: %w", err)
		}
	case a.mem != nil:
		n = int64(a.mem.Sweep())
	default:
		// Redis expires keys itself.
	}
	a.Log.Info("expired rows removed", "rows", n)
	return n, nil
}

// Run starts the expiry reaper and serves metrics until ctx is done.
func (a *App) Run(ctx context.Context, cmd *RunCommand) error {
	if a.pg != nil {
		go postgres.NewReaper(a.pg, a.Config.ReapInterval, a.Log).Run(ctx)
	}

	server := &http.Server{
		Addr:              cmd.MetricsAddr,
		Handler:           a.Metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.Log.Info("serving metrics", "addr", cmd.MetricsAddr)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.Log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}
