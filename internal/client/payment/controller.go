// Package payment drives a top-up from package selection to a settled or abandoned
// payment. At most one payment intent and one status poller exist at a time.
package payment

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mishura/stylist/internal/client/account"
	"github.com/mishura/stylist/internal/client/api"
)

// State is the controller state.
type State string

const (
	Idle                 State = "idle"
	PackageSelected      State = "package_selected"
	IntentCreated        State = "intent_created"
	AwaitingConfirmation State = "awaiting_confirmation"
	Succeeded            State = "succeeded"
	Canceled             State = "canceled"
	Expired              State = "expired"
)

const opCreate = "create payment"

var (
	// ErrBusy is returned when an intent is already being created.
	ErrBusy = errors.New("payment: intent creation in progress")
	// ErrSuperseded is returned when the flow was replaced or canceled while the
	// intent was being created.
	ErrSuperseded = errors.New("payment: flow superseded")
)

// Backend is the part of the remote client the controller needs.
type Backend interface {
	Packages(ctx context.Context) (account.Catalog, error)
	CreatePayment(ctx context.Context, userID, packageID, returnURL string) (*account.PaymentIntent, error)
	PaymentStatus(ctx context.Context, paymentID string) (account.PaymentStatus, error)
	FetchBalance(ctx context.Context, userID string) (int, error)
}

// Opener hands the confirmation URL to the user, e.g. by launching a browser.
type Opener interface {
	Open(ctx context.Context, url string) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, url string) error

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, url string) error { return f(ctx, url) }

// Options tune polling.
type Options struct {
	PollInterval time.Duration
	PollBudget   time.Duration
	ReturnURL    string
}

// Controller is the payment state machine.
type Controller struct {
	backend Backend
	ledger  *account.Ledger
	notify  account.Notifier
	opener  Opener
	log     *zap.Logger
	opts    Options

	base   context.Context
	cancel context.CancelFunc
	group  singleflight.Group

	mu       sync.Mutex
	state    State
	selected *account.Package
	intent   *account.PaymentIntent
	poll     *Poll
	gen      uint64
	catalog  account.Catalog

	// creating is set while an intent is created for flow creatingGen.
	creating    bool
	creatingGen uint64
}

// New creates a controller. opener and notify may be nil.
func New(backend Backend, ledger *account.Ledger, notify account.Notifier, opener Opener, log *zap.Logger, opts Options) *Controller {
	if notify == nil {
		notify = account.Discard
	}
	if opener == nil {
		opener = OpenerFunc(func(context.Context, string) error { return nil })
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.PollBudget <= 0 {
		opts.PollBudget = 10 * time.Minute
	}
	base, cancel := context.WithCancel(context.Background())
	return &Controller{
		backend: backend,
		ledger:  ledger,
		notify:  notify,
		opener:  opener,
		log:     log,
		opts:    opts,
		base:    base,
		cancel:  cancel,
		state:   Idle,
	}
}

// Catalog returns the package catalog, fetching it once. Concurrent callers share one
// request.
func (c *Controller) Catalog(ctx context.Context) (account.Catalog, error) {
	c.mu.Lock()
	if c.catalog != nil {
		cat := maps.Clone(c.catalog)
		c.mu.Unlock()
		return cat, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do("catalog", func() (any, error) {
		return c.backend.Packages(ctx)
	})
	if err != nil {
		return nil, api.AsError("fetch packages", err)
	}
	cat := v.(account.Catalog)

	c.mu.Lock()
	c.catalog = cat
	c.mu.Unlock()
	return maps.Clone(cat), nil
}

// InvalidateCatalog drops the cached catalog; the next Catalog call fetches it again.
func (c *Controller) InvalidateCatalog() {
	c.mu.Lock()
	c.catalog = nil
	c.mu.Unlock()
}

// Select starts a new flow for packageID. An active flow is abandoned and its poller
// stopped before Select returns.
func (c *Controller) Select(ctx context.Context, packageID string) (account.Package, error) {
	cat, err := c.Catalog(ctx)
	if err != nil {
		return account.Package{}, err
	}
	pkg, ok := cat[packageID]
	if !ok {
		return account.Package{}, &api.Error{
			Kind:    api.KindInvalidPackage,
			Op:      "select package",
			Message: fmt.Sprintf("Package %q is not available.", packageID),
		}
	}

	c.mu.Lock()
	old := c.resetLocked()
	c.selected = &pkg
	c.state = PackageSelected
	c.mu.Unlock()

	c.stop(old)
	return pkg, nil
}

// Start creates the intent for the selected package, hands the confirmation URL to the
// opener and starts polling. On failure the controller returns to Idle and keeps the
// selection so that Retry can create the intent again.
func (c *Controller) Start(ctx context.Context) (*account.PaymentIntent, error) {
	c.mu.Lock()
	switch {
	case c.selected == nil:
		c.mu.Unlock()
		return nil, api.Validation(opCreate, "Choose a package first.")
	case c.intent != nil:
		c.mu.Unlock()
		return nil, api.Validation(opCreate, "A payment is already in progress.")
	case c.creating && c.creatingGen == c.gen:
		c.mu.Unlock()
		return nil, ErrBusy
	}
	// a creation still running for an abandoned flow does not block this one
	pkg := *c.selected
	gen := c.gen
	c.creating, c.creatingGen = true, gen
	c.mu.Unlock()

	intent, err := c.backend.CreatePayment(ctx, c.ledger.UserID(), pkg.ID, c.opts.ReturnURL)

	c.mu.Lock()
	if c.creatingGen == gen {
		c.creating = false
	}
	if gen != c.gen {
		c.mu.Unlock()
		if err == nil {
			c.log.Info("payment intent superseded before polling", zap.String("payment_id", intent.ID))
		}
		return nil, ErrSuperseded
	}
	if err != nil {
		apiErr := api.AsError(opCreate, err)
		c.state = Idle
		if apiErr.Kind == api.KindInvalidPackage {
			c.selected = nil
			c.catalog = nil
		}
		c.mu.Unlock()
		c.log.Warn("payment intent creation failed",
			zap.String("package_id", pkg.ID),
			zap.String("kind", string(apiErr.Kind)),
			zap.Error(err),
		)
		return nil, apiErr
	}

	c.intent = intent
	c.state = IntentCreated
	pctx, cancel := context.WithTimeout(c.base, c.opts.PollBudget)
	p := &Poll{ctx: pctx, cancel: cancel, done: make(chan struct{})}
	c.poll = p
	c.state = AwaitingConfirmation
	out := *intent
	c.mu.Unlock()

	go c.run(p, gen, intent.ID)

	if err := c.opener.Open(ctx, intent.ConfirmationURL); err != nil {
		c.log.Warn("could not open confirmation url", zap.String("payment_id", intent.ID), zap.Error(err))
	}
	c.notify.Notify(account.Event{
		Kind:      account.PaymentAwaiting,
		PaymentID: intent.ID,
		Message:   intent.ConfirmationURL,
	})
	c.log.Info("payment awaiting confirmation",
		zap.String("payment_id", intent.ID),
		zap.String("package_id", pkg.ID),
		zap.Int("stcoin", intent.StcoinAmount),
	)
	return &out, nil
}

// Buy selects packageID and starts the flow.
func (c *Controller) Buy(ctx context.Context, packageID string) (*account.PaymentIntent, error) {
	if _, err := c.Select(ctx, packageID); err != nil {
		return nil, err
	}
	return c.Start(ctx)
}

// Retry creates the intent for the kept selection, after a failed Start or when a
// selection has no intent yet. Already created intents are never recreated.
func (c *Controller) Retry(ctx context.Context) (*account.PaymentIntent, error) {
	c.mu.Lock()
	ok := (c.state == Idle || c.state == PackageSelected) && c.selected != nil && c.intent == nil
	c.mu.Unlock()
	if !ok {
		return nil, api.Validation(opCreate, "There is no failed payment to retry.")
	}
	return c.Start(ctx)
}

// Cancel abandons the current flow. The payment is left as is on the server; the
// controller just stops watching it. It reports whether anything was active.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	active := c.selected != nil || c.intent != nil
	old := c.resetLocked()
	c.state = Idle
	c.mu.Unlock()

	c.stop(old)
	return active
}

// Close stops polling for good.
func (c *Controller) Close() {
	c.Cancel()
	c.cancel()
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active returns a copy of the active intent, or nil.
func (c *Controller) Active() *account.PaymentIntent {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.intent == nil {
		return nil
	}
	in := *c.intent
	return &in
}

// Selected returns the selected package, if any.
func (c *Controller) Selected() (account.Package, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected == nil {
		return account.Package{}, false
	}
	return *c.selected, true
}

// resetLocked clears the flow and returns the poller the caller must stop after
// releasing the lock.
func (c *Controller) resetLocked() *Poll {
	old := c.poll
	c.poll = nil
	c.intent = nil
	c.selected = nil
	c.gen++
	return old
}

func (c *Controller) stop(p *Poll) {
	if p == nil {
		return
	}
	p.Stop()
	c.log.Debug("payment poller stopped")
}

// observe applies one status reading. It returns true when polling should stop.
// A reading for a flow that is no longer current is ignored.
func (c *Controller) observe(gen uint64, paymentID string, status account.PaymentStatus) bool {
	c.mu.Lock()
	if gen != c.gen || c.intent == nil || c.intent.ID != paymentID {
		c.mu.Unlock()
		return true
	}

	switch status {
	case account.StatusSucceeded:
		intent := *c.intent
		c.finishLocked(Succeeded)
		c.mu.Unlock()
		c.credit(intent)
		return true

	case account.StatusCanceled:
		c.finishLocked(Canceled)
		c.mu.Unlock()
		c.log.Info("payment canceled", zap.String("payment_id", paymentID))
		c.notify.Notify(account.Event{Kind: account.PaymentCanceled, PaymentID: paymentID})
		return true

	default:
		c.intent.Status = status
		c.mu.Unlock()
		return false
	}
}

func (c *Controller) finishLocked(s State) {
	c.state = s
	c.intent = nil
	c.selected = nil
	c.poll = nil
}

// expire ends a flow whose polling budget ran out. The payment stays pending on the
// server.
func (c *Controller) expire(gen uint64, paymentID string) {
	c.mu.Lock()
	if gen != c.gen || c.intent == nil || c.intent.ID != paymentID {
		c.mu.Unlock()
		return
	}
	c.finishLocked(Expired)
	c.mu.Unlock()

	c.log.Info("payment polling budget exhausted",
		zap.String("payment_id", paymentID),
		zap.Duration("budget", c.opts.PollBudget),
	)
	c.notify.Notify(account.Event{Kind: account.PaymentExpired, PaymentID: paymentID})
}

// credit runs once per settled intent. The balance shown afterwards is the one the
// backend reports, not a local sum.
func (c *Controller) credit(intent account.PaymentIntent) {
	ev := account.Event{
		Kind:      account.PaymentSucceeded,
		PaymentID: intent.ID,
		Delta:     intent.StcoinAmount,
	}

	ctx, cancel := context.WithTimeout(c.base, c.opts.PollInterval*2+10*time.Second)
	defer cancel()
	b, err := c.backend.FetchBalance(ctx, c.ledger.UserID())
	if err != nil {
		c.log.Warn("balance refresh after payment failed",
			zap.String("payment_id", intent.ID),
			zap.Error(err),
		)
		ev.Balance, _ = c.ledger.Balance()
		ev.Message = "Balance will update shortly."
	} else {
		c.ledger.SetBalance(b)
		ev.Balance = b
	}

	c.log.Info("payment succeeded",
		zap.String("payment_id", intent.ID),
		zap.Int("stcoin", intent.StcoinAmount),
		zap.Int("balance", ev.Balance),
	)
	c.notify.Notify(ev)
}
