package payment

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mishura/stylist/internal/client/account"
	"github.com/mishura/stylist/internal/client/api"
)

// Poll is the handle of one running status poller.
type Poll struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the poller and waits for it to exit. It is safe to call more than once.
func (p *Poll) Stop() {
	p.cancel()
	<-p.done
}

// Done is closed when the poller has exited.
func (p *Poll) Done() <-chan struct{} { return p.done }

// run checks the payment status every interval until a terminal status is observed,
// the poll is stopped or its context hits the deadline (the polling budget).
func (c *Controller) run(p *Poll, gen uint64, paymentID string) {
	defer close(p.done)
	defer p.cancel()
	ctx := p.ctx

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	failing := false
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				c.expire(gen, paymentID)
			}
			return
		case <-ticker.C:
			status, err := c.backend.PaymentStatus(ctx, paymentID)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				c.log.Warn("payment status check failed",
					zap.String("payment_id", paymentID),
					zap.String("kind", string(api.KindOf(err))),
					zap.Error(err),
				)
				if !failing {
					failing = true
					c.notify.Notify(account.Event{
						Kind:      account.PaymentCheckFailed,
						PaymentID: paymentID,
						Message:   api.AsError("payment status", err).UserMessage(),
					})
				}
				continue
			}
			failing = false
			if c.observe(gen, paymentID, status) {
				return
			}
		}
	}
}
