package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RunCrashGuard marks answer sessions stuck in "streaming" as failed on
// startup. A session stays in that state only if the process serving the
// stream died before recording its outcome.
func RunCrashGuard(ctx context.Context, pool *pgxpool.Pool, streamStaleMin int) error {
	tag, err := pool.Exec(ctx,
		`UPDATE answer_sessions
		 SET status = 'failed',
		     error = 'interrupted: stream never completed (service restarted)',
		     updated_at = now()
		 WHERE status = 'streaming'
		   AND updated_at < now() - make_interval(mins => $1)`,
		streamStaleMin,
	)
	if err != nil {
		return fmt.Errorf("crash guard (streaming): %w", err)
	}
	if tag.RowsAffected() > 0 {
		slog.Warn("crash guard: marked stale streaming sessions as failed",
			"count", tag.RowsAffected(),
			"stale_minutes", streamStaleMin,
		)
	}

	slog.Info("crash guard complete")
	return nil
}
