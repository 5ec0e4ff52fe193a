// Package session wires the account components for one user into an AccountSession.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mishura/stylist/internal/client/account"
	"github.com/mishura/stylist/internal/client/api"
	"github.com/mishura/stylist/internal/client/payment"
	"github.com/mishura/stylist/internal/client/reconcile"
	"github.com/mishura/stylist/internal/client/submit"
)

// Mode tells whether the backend accepted the session.
type Mode string

const (
	// Offline means Start has not been called yet.
	Offline Mode = "offline"
	// Online means the user was initialized on the backend.
	Online Mode = "online"
	// Degraded means initialization failed; only local data is shown until a retry succeeds.
	Degraded Mode = "degraded"
)

// Backend is the full remote surface. *api.Client implements it.
type Backend interface {
	InitializeUser(ctx context.Context, id account.Identity) (*api.InitResult, error)
	FetchBalance(ctx context.Context, userID string) (int, error)
	FetchHistory(ctx context.Context, userID string, limit int) ([]account.Consultation, error)
	Packages(ctx context.Context) (account.Catalog, error)
	CreatePayment(ctx context.Context, userID, packageID, returnURL string) (*account.PaymentIntent, error)
	PaymentStatus(ctx context.Context, paymentID string) (account.PaymentStatus, error)
	SubmitAnalysis(ctx context.Context, r api.AnalysisRequest) (*api.AnalysisResult, error)
}

// IdentityStore persists the device identity. *cache.LocalCache implements it.
type IdentityStore interface {
	ResolveIdentity(platformID string) (string, error)
	MarkSynced(t time.Time) error
}

// Config holds the session timings.
type Config struct {
	AnalysisTimeout   time.Duration
	PollInterval      time.Duration
	PollBudget        time.Duration
	ReconcileInterval time.Duration
	ConsultationCost  int
	HistoryLimit      int
	ReturnURL         string
}

// Session is the AccountSession: the one owner of the ledger and the components that
// read or write it.
type Session struct {
	backend Backend
	store   IdentityStore
	notify  account.Notifier
	log     *zap.Logger
	cfg     Config

	ledger    *account.Ledger
	submitter *submit.Coordinator
	payments  *payment.Controller
	reconcile *reconcile.Reconciler

	mu       sync.Mutex
	mode     Mode
	identity account.Identity
}

// New builds a session. Nothing talks to the backend until Start.
func New(backend Backend, store IdentityStore, opener payment.Opener, notify account.Notifier, log *zap.Logger, cfg Config) *Session {
	if notify == nil {
		notify = account.Discard
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	ledger := account.NewLedger("")
	return &Session{
		backend:   backend,
		store:     store,
		notify:    notify,
		log:       log,
		cfg:       cfg,
		ledger:    ledger,
		submitter: submit.New(backend, ledger, notify, log.Named("submit"), cfg.AnalysisTimeout, cfg.ConsultationCost),
		payments: payment.New(backend, ledger, notify, opener, log.Named("payment"), payment.Options{
			PollInterval: cfg.PollInterval,
			PollBudget:   cfg.PollBudget,
			ReturnURL:    cfg.ReturnURL,
		}),
		reconcile: reconcile.New(backend, ledger, notify, log.Named("reconcile"), cfg.ReconcileInterval),
		mode:      Offline,
	}
}

// StartResult describes a successful Start.
type StartResult struct {
	UserID string
	IsNew  bool
}

// Start resolves the identity and registers it with the backend. platform.UserID may
// be empty, in which case the stored device identity is used.
//
// When the backend cannot be reached the session switches to Degraded and returns the
// classified error; Start may be called again later.
func (s *Session) Start(ctx context.Context, platform account.Identity) (*StartResult, error) {
	userID, err := s.store.ResolveIdentity(platform.UserID)
	if err != nil {
		s.log.Error("identity resolution failed", zap.Error(err))
		return nil, &api.Error{Kind: api.KindValidation, Op: "resolve identity",
			Message: "Could not read the local identity file.", Err: err}
	}
	id := platform
	id.UserID = userID
	s.ledger.SetUser(userID)

	s.mu.Lock()
	s.identity = id
	s.mu.Unlock()

	res, err := s.backend.InitializeUser(ctx, id)
	if err != nil {
		s.setMode(Degraded)
		apiErr := api.AsError("initialize user", err)
		s.log.Warn("backend unavailable, running in degraded mode",
			zap.String("user_id", userID),
			zap.String("kind", string(apiErr.Kind)),
			zap.Error(err),
		)
		return nil, apiErr
	}

	s.ledger.SetBalance(res.Account.Balance)
	s.ledger.SetConsultationsUsed(res.Account.ConsultationsUsed)
	s.submitter.SetCost(res.ConsultationCost)
	s.setMode(Online)

	if err := s.store.MarkSynced(time.Now()); err != nil {
		s.log.Warn("could not record sync time", zap.Error(err))
	}
	if _, err := s.History(ctx); err != nil {
		s.log.Warn("history load failed", zap.Error(err))
	}

	s.log.Info("session started",
		zap.String("user_id", userID),
		zap.Bool("new_user", res.IsNew),
		zap.Int("balance", res.Account.Balance),
	)
	return &StartResult{UserID: userID, IsNew: res.IsNew}, nil
}

func (s *Session) setMode(m Mode) {
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
}

// Mode returns the session mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Identity returns the identity the session acts as.
func (s *Session) Identity() account.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Refresh re-reads the balance. In Degraded mode it retries initialization instead.
func (s *Session) Refresh(ctx context.Context) error {
	if s.Mode() != Online {
		_, err := s.Start(ctx, s.Identity())
		return err
	}
	version := s.ledger.Version()
	b, err := s.backend.FetchBalance(ctx, s.ledger.UserID())
	if err != nil {
		return api.AsError("fetch balance", err)
	}
	if delta, changed, _ := s.ledger.SetBalanceAt(version, b); changed {
		s.notify.Notify(account.BalanceEvent(delta, b))
	}
	return nil
}

// History loads the latest consultations from the backend. On failure the previously
// loaded history is returned together with the error.
func (s *Session) History(ctx context.Context) ([]account.Consultation, error) {
	items, err := s.backend.FetchHistory(ctx, s.ledger.UserID(), s.cfg.HistoryLimit)
	if err != nil {
		return s.ledger.History(), api.AsError("fetch history", err)
	}
	s.ledger.ReplaceHistory(items)
	return s.ledger.History(), nil
}

// Account returns the displayed account and whether the balance is known.
func (s *Session) Account() (account.UserAccount, bool) {
	_, known := s.ledger.Balance()
	return s.ledger.Snapshot(), known
}

// Submit sends an analysis through the coordinator.
func (s *Session) Submit(ctx context.Context, r submit.Request) (*account.Consultation, error) {
	return s.submitter.Submit(ctx, r)
}

// ConsultationCost is the current price of one consultation.
func (s *Session) ConsultationCost() int { return s.submitter.Cost() }

// Payments returns the payment controller.
func (s *Session) Payments() *payment.Controller { return s.payments }

// EnterBalanceView starts background balance refresh.
func (s *Session) EnterBalanceView() { s.reconcile.Enter() }

// LeaveBalanceView stops background balance refresh.
func (s *Session) LeaveBalanceView() { s.reconcile.Leave() }

// Watching reports whether background refresh is running.
func (s *Session) Watching() bool { return s.reconcile.Running() }

// Close stops every background task.
func (s *Session) Close() {
	s.reconcile.Leave()
	s.payments.Close()
}
