// Package submit sends analysis requests with at most one in flight per coordinator.
package submit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mishura/stylist/internal/client/account"
	"github.com/mishura/stylist/internal/client/api"
)

const (
	op = "submit analysis"

	MinCompareImages = 2
	MaxCompareImages = 4
)

// ErrInFlight is returned when Submit is called while another analysis is pending.
// The call is dropped; nothing is queued.
var ErrInFlight = errors.New("submit: analysis already in progress")

// Backend is the part of the remote client the coordinator needs.
type Backend interface {
	SubmitAnalysis(ctx context.Context, r api.AnalysisRequest) (*api.AnalysisResult, error)
	FetchBalance(ctx context.Context, userID string) (int, error)
}

// Request is one user-triggered analysis.
type Request struct {
	Kind        account.AnalysisKind
	Images      []api.Image
	Occasion    string
	Preferences string
}

// Coordinator validates and sends analysis requests.
type Coordinator struct {
	backend Backend
	ledger  *account.Ledger
	notify  account.Notifier
	log     *zap.Logger
	timeout time.Duration

	cost    atomic.Int64
	pending atomic.Bool
	seq     atomic.Uint64
}

// New creates a coordinator. timeout bounds how long Submit waits for the backend;
// cost is the price of one consultation used by the balance precondition.
func New(backend Backend, ledger *account.Ledger, notify account.Notifier, log *zap.Logger, timeout time.Duration, cost int) *Coordinator {
	if notify == nil {
		notify = account.Discard
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &Coordinator{
		backend: backend,
		ledger:  ledger,
		notify:  notify,
		log:     log,
		timeout: timeout,
	}
	c.cost.Store(int64(cost))
	return c
}

// SetCost updates the consultation price, e.g. from the backend's init response.
func (c *Coordinator) SetCost(cost int) {
	if cost > 0 {
		c.cost.Store(int64(cost))
	}
}

// Cost returns the current consultation price.
func (c *Coordinator) Cost() int { return int(c.cost.Load()) }

// Pending reports whether an analysis is in flight.
func (c *Coordinator) Pending() bool { return c.pending.Load() }

type outcome struct {
	res *api.AnalysisResult
	err error
}

// Submit validates r, sends it and waits for the result or the timeout, whichever
// comes first. On success the consultation is appended to the ledger and the balance
// is taken from the response, or re-read when the response has none.
//
// A timed-out request is not canceled. If it completes later its result is dropped.
func (c *Coordinator) Submit(ctx context.Context, r Request) (*account.Consultation, error) {
	if !c.pending.CompareAndSwap(false, true) {
		c.log.Debug("analysis submit dropped, one is pending")
		return nil, ErrInFlight
	}
	defer c.pending.Store(false)

	if err := c.validate(r); err != nil {
		return nil, err
	}

	seq := c.seq.Add(1)
	userID := c.ledger.UserID()
	req := api.AnalysisRequest{
		UserID:      userID,
		Kind:        r.Kind,
		Images:      r.Images,
		Occasion:    strings.TrimSpace(r.Occasion),
		Preferences: strings.TrimSpace(r.Preferences),
	}

	// Two writers race for one slot: the backend call and the timer.
	slot := make(chan outcome, 1)
	var claimed atomic.Bool
	claim := func(o outcome) bool {
		if !claimed.CompareAndSwap(false, true) {
			return false
		}
		slot <- o
		return true
	}

	started := time.Now()
	go func() {
		res, err := c.backend.SubmitAnalysis(context.WithoutCancel(ctx), req)
		if !claim(outcome{res: res, err: err}) {
			c.log.Warn("discarding late analysis response",
				zap.Uint64("seq", seq),
				zap.Duration("after", time.Since(started)),
				zap.Bool("success", err == nil),
			)
		}
	}()

	timer := time.AfterFunc(c.timeout, func() {
		claim(outcome{err: &api.Error{
			Kind:     api.KindTimeout,
			Op:       op,
			Endpoint: "/analyze",
			Err:      fmt.Errorf("no response within %s", c.timeout),
		}})
	})
	defer timer.Stop()

	var o outcome
	select {
	case o = <-slot:
	case <-ctx.Done():
		claim(outcome{err: api.AsError(op, ctx.Err())})
		o = <-slot
	}

	if o.err == nil && o.res == nil {
		o.err = &api.Error{Kind: api.KindServer, Op: op, Endpoint: "/analyze", Err: errors.New("empty response")}
	}
	if o.err != nil {
		apiErr := api.AsError(op, o.err)
		c.log.Info("analysis failed",
			zap.Uint64("seq", seq),
			zap.String("kind", string(apiErr.Kind)),
			zap.Error(o.err),
		)
		return nil, apiErr
	}

	return c.apply(ctx, seq, r, o.res), nil
}

// apply records a confirmed result.
func (c *Coordinator) apply(ctx context.Context, seq uint64, r Request, res *api.AnalysisResult) *account.Consultation {
	cons := account.Consultation{
		ID:          res.ConsultationID,
		Occasion:    strings.TrimSpace(r.Occasion),
		Preferences: strings.TrimSpace(r.Preferences),
		AdviceText:  res.AdviceText,
		CreatedAt:   res.CreatedAt,
		ImagesCount: res.ImagesCount,
		Type:        r.Kind,
	}
	if cons.ID == "" {
		cons.ID = uuid.NewString()
	}
	if cons.CreatedAt.IsZero() {
		cons.CreatedAt = time.Now().UTC()
	}
	c.ledger.AppendConsultation(cons)
	c.notify.Notify(account.Event{Kind: account.ConsultationAdded, Message: cons.Occasion})

	var balance int
	if res.Balance != nil {
		balance = *res.Balance
	} else {
		b, err := c.backend.FetchBalance(ctx, c.ledger.UserID())
		if err != nil {
			c.log.Warn("balance refresh after analysis failed",
				zap.Uint64("seq", seq),
				zap.Error(err),
			)
			return &cons
		}
		balance = b
	}
	if delta, changed := c.ledger.SetBalance(balance); changed {
		c.notify.Notify(account.BalanceEvent(delta, balance))
	}
	return &cons
}

func (c *Coordinator) validate(r Request) error {
	if strings.TrimSpace(r.Occasion) == "" {
		return api.Validation(op, "Please describe the occasion.")
	}

	switch r.Kind {
	case account.Single:
		if len(r.Images) != 1 {
			return api.Validation(op, "Upload exactly one photo.")
		}
	case account.Compare:
		if len(r.Images) < MinCompareImages || len(r.Images) > MaxCompareImages {
			return api.Validation(op, fmt.Sprintf("Upload from %d to %d photos to compare.", MinCompareImages, MaxCompareImages))
		}
	default:
		return api.Validation(op, fmt.Sprintf("Unknown analysis mode %q.", r.Kind))
	}
	for i, img := range r.Images {
		if len(img.Data) == 0 {
			return api.Validation(op, fmt.Sprintf("Photo %d is empty.", i+1))
		}
	}

	balance, known := c.ledger.Balance()
	if !known {
		return api.Validation(op, "Balance is not available yet. Check your connection and try again.")
	}
	if cost := c.Cost(); balance < cost {
		return api.Validation(op, fmt.Sprintf("Not enough STcoin: one consultation costs %d, you have %d.", cost, balance))
	}
	return nil
}
