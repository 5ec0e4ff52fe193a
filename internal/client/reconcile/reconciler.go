// Package reconcile keeps the displayed balance fresh while the balance view is open.
package reconcile

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mishura/stylist/internal/client/account"
	"github.com/mishura/stylist/internal/client/api"
)

// BalanceSource reads the authoritative balance.
type BalanceSource interface {
	FetchBalance(ctx context.Context, userID string) (int, error)
}

// Reconciler runs one background loop between Enter and Leave.
type Reconciler struct {
	source   BalanceSource
	ledger   *account.Ledger
	notify   account.Notifier
	log      *zap.Logger
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a reconciler that ticks every interval.
func New(source BalanceSource, ledger *account.Ledger, notify account.Notifier, log *zap.Logger, interval time.Duration) *Reconciler {
	if notify == nil {
		notify = account.Discard
	}
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reconciler{
		source:   source,
		ledger:   ledger,
		notify:   notify,
		log:      log,
		interval: interval,
	}
}

// Enter starts the loop. Calling it again while the loop runs does nothing.
func (r *Reconciler) Enter() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(ctx, r.done)
	r.log.Debug("balance reconciler started", zap.Duration("interval", r.interval))
}

// Leave stops the loop and waits for it to exit. Enter may be called again afterwards.
func (r *Reconciler) Leave() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.log.Debug("balance reconciler stopped")
}

// Running reports whether the loop is active.
func (r *Reconciler) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

func (r *Reconciler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick fetches the balance once and reports a change. A failed fetch leaves the
// display as is, and so does a reading overtaken by a newer balance write.
func (r *Reconciler) Tick(ctx context.Context) {
	version := r.ledger.Version()
	userID := r.ledger.UserID()
	b, err := r.source.FetchBalance(ctx, userID)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Warn("balance reconcile failed",
				zap.String("kind", string(api.KindOf(err))),
				zap.Error(err),
			)
		}
		return
	}
	delta, changed, stale := r.ledger.SetBalanceAt(version, b)
	if stale {
		r.log.Debug("discarding stale balance reading", zap.Int("balance", b))
		return
	}
	if !changed {
		return
	}
	r.log.Info("balance changed on server", zap.Int("delta", delta), zap.Int("balance", b))
	r.notify.Notify(account.BalanceEvent(delta, b))
}
