package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// RunPaymentExpirer cancels payments that stayed created or pending for longer
// than retention. It checks every interval and returns when ctx is done.
func RunPaymentExpirer(
	ctx context.Context,
	db *sql.DB,
	interval time.Duration,
	retention time.Duration,
	log *zap.Logger,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			res, err := db.ExecContext(ctx, `
				UPDATE payments SET status = 'canceled', updated_at = NOW()
				 WHERE status = ANY($1)
				   AND created_at < $2
			`, pq.Array([]string{"created", "pending"}), cutoff)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error("failed to expire stale payments", zap.Error(err))
				continue
			}
			if rows, _ := res.RowsAffected(); rows > 0 {
				log.Info("expired stale payments", zap.Int64("canceled", rows))
			}
		}
	}
}
