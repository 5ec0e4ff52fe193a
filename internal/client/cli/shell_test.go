package cli

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mishura/stylist/internal/client/account"
	"github.com/mishura/stylist/internal/client/api"
	"github.com/mishura/stylist/internal/client/cache"
	"github.com/mishura/stylist/internal/client/session"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type fakeBackend struct {
	mu       sync.Mutex
	initErr  error
	balance  int
	requests []api.AnalysisRequest
}

func (f *fakeBackend) InitializeUser(ctx context.Context, id account.Identity) (*api.InitResult, error) {
	if f.initErr != nil {
		return nil, f.initErr
	}
	return &api.InitResult{Account: account.UserAccount{UserID: id.UserID, Balance: f.balance}, ConsultationCost: 10}, nil
}

func (f *fakeBackend) FetchBalance(ctx context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeBackend) FetchHistory(ctx context.Context, userID string, limit int) ([]account.Consultation, error) {
	return []account.Consultation{{
		ID: "c1", Occasion: "work", Type: account.Single, ImagesCount: 1,
		CreatedAt: time.Date(2025, 1, 2, 3, 4, 0, 0, time.UTC),
	}}, nil
}

func (f *fakeBackend) Packages(ctx context.Context) (account.Catalog, error) {
	return account.Catalog{
		"vip":   {ID: "vip", Name: "VIP", PriceFiat: 500, StcoinAmount: 500, ConsultationsEquivalent: 50},
		"basic": {ID: "basic", Name: "Базовый", PriceFiat: 150, StcoinAmount: 100, ConsultationsEquivalent: 10},
	}, nil
}

func (f *fakeBackend) CreatePayment(ctx context.Context, userID, packageID, returnURL string) (*account.PaymentIntent, error) {
	return &account.PaymentIntent{ID: "p1", PackageID: packageID, StcoinAmount: 100, AmountFiat: 150,
		ConfirmationURL: "https://pay/p1", Status: account.StatusPending}, nil
}

func (f *fakeBackend) PaymentStatus(ctx context.Context, paymentID string) (account.PaymentStatus, error) {
	return account.StatusPending, nil
}

func (f *fakeBackend) SubmitAnalysis(ctx context.Context, r api.AnalysisRequest) (*api.AnalysisResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r)
	f.balance -= 10
	b := f.balance
	return &api.AnalysisResult{AdviceText: "Добавьте яркий аксессуар", ConsultationID: "c2", Balance: &b}, nil
}

func newShell(t *testing.T, be *fakeBackend, input string) (*Shell, *bytes.Buffer, *session.Session) {
	t.Helper()
	var out bytes.Buffer
	p := NewPrinter(&out)
	sess := session.New(be, cache.New(filepath.Join(t.TempDir(), "state.json")), nil, p, zap.NewNop(), session.Config{
		AnalysisTimeout:   time.Second,
		PollInterval:      time.Hour,
		PollBudget:        2 * time.Hour,
		ReconcileInterval: time.Hour,
		ConsultationCost:  10,
	})
	t.Cleanup(sess.Close)
	_, _ = sess.Start(context.Background(), account.Identity{UserID: "tg_1"})
	return NewShell(sess, strings.NewReader(input), p), &out, sess
}

func TestRun_BasicCommands(t *testing.T) {
	sh, out, _ := newShell(t, &fakeBackend{balance: 200}, "help\nstatus\nhistory\npackages\nfoo\nexit\nstatus\n")
	require.NoError(t, sh.Run(context.Background()))

	s := out.String()
	assert.Contains(t, s, "Available commands")
	assert.Contains(t, s, "User: tg_1 (online)")
	assert.Contains(t, s, "Balance: 200 STcoin (20 consultations at 10 each)")
	assert.Contains(t, s, "work")
	assert.Less(t, strings.Index(s, "basic"), strings.Index(s, "vip"), "packages sorted by price")
	assert.Contains(t, s, "Unknown command")
	assert.Contains(t, s, "Bye")
	assert.Equal(t, 1, strings.Count(s, "User: tg_1"), "nothing runs after exit")
}

func TestRun_Analyze(t *testing.T) {
	img := filepath.Join(t.TempDir(), "look.png")
	require.NoError(t, os.WriteFile(img, pngHeader, 0o600))

	be := &fakeBackend{balance: 200}
	sh, out, sess := newShell(t, be, "analyze\n"+img+"\nвечеринка\n\nexit\n")
	require.NoError(t, sh.Run(context.Background()))

	assert.Contains(t, out.String(), "Добавьте яркий аксессуар")
	require.Len(t, be.requests, 1)
	assert.Equal(t, "вечеринка", be.requests[0].Occasion)
	assert.Equal(t, "image/png", be.requests[0].Images[0].ContentType)
	acc, _ := sess.Account()
	assert.Equal(t, 190, acc.Balance)
}

func TestRun_AnalyzeValidation(t *testing.T) {
	be := &fakeBackend{balance: 200}
	missing := filepath.Join(t.TempDir(), "missing.jpg")
	sh, out, _ := newShell(t, be, "compare\n"+missing+"\ndetails\nexit\n")
	require.NoError(t, sh.Run(context.Background()))

	s := out.String()
	assert.Contains(t, s, "❌ Photo 1 could not be read.")
	// file system details are only shown on request
	before, after, found := strings.Cut(s, "Photo 1 could not be read.")
	require.True(t, found)
	assert.NotContains(t, before+strings.SplitN(after, "\n", 2)[0], "no such file")
	assert.Contains(t, after, missing)
	assert.Empty(t, be.requests)
}

func TestRun_BuyAndCancel(t *testing.T) {
	sh, out, sess := newShell(t, &fakeBackend{balance: 200}, "buy basic\npayment\ncancel\ncancel\nbuy gold\nexit\n")
	require.NoError(t, sh.Run(context.Background()))

	s := out.String()
	assert.Contains(t, s, "Open this link to pay: https://pay/p1")
	assert.Contains(t, s, "Payment state: awaiting_confirmation")
	assert.Contains(t, s, "Stopped waiting for the payment.")
	assert.Contains(t, s, "No active payment.")
	assert.Contains(t, s, `Package "gold" is not available.`)
	assert.Nil(t, sess.Payments().Active())
}

func TestRun_DegradedShowsDetails(t *testing.T) {
	be := &fakeBackend{initErr: &api.Error{Kind: api.KindNetwork, Op: "initialize user", Endpoint: "/api/v1/user/init"}}
	sh, out, _ := newShell(t, be, "status\nbalance\ndetails\nexit\n")
	require.NoError(t, sh.Run(context.Background()))

	s := out.String()
	assert.Contains(t, s, "Balance: unknown")
	assert.Contains(t, s, "Offline")
	assert.Contains(t, s, "Connection problem")
	assert.Contains(t, s, "initialize user: network")
}

func TestPromptAnalysis_InputClosed(t *testing.T) {
	var out bytes.Buffer
	_, err := PromptAnalysis(bufio.NewScanner(strings.NewReader("")), NewPrinter(&out), account.Single)
	assert.ErrorIs(t, err, errInputClosed)
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "ok.png")
	require.NoError(t, os.WriteFile(good, pngHeader, 0o600))
	img, err := LoadImage(good)
	require.NoError(t, err)
	assert.Equal(t, "ok.png", img.Name)

	text := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(text, []byte("hello"), 0o600))
	_, err = LoadImage(text)
	assert.ErrorIs(t, err, ErrNotAnImage)

	empty := filepath.Join(dir, "empty.png")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err = LoadImage(empty)
	assert.ErrorIs(t, err, ErrImageEmpty)

	big := filepath.Join(dir, "big.png")
	require.NoError(t, os.WriteFile(big, append(pngHeader, make([]byte, MaxImageBytes)...), 0o600))
	_, err = LoadImage(big)
	assert.ErrorIs(t, err, ErrImageTooLarge)

	_, err = LoadImage(filepath.Join(dir, "missing.png"))
	assert.ErrorIs(t, err, ErrImageUnreadable)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPromptAnalysis_ImageErrorHidesCause(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "ok.png")
	require.NoError(t, os.WriteFile(good, pngHeader, 0o600))
	missing := filepath.Join(dir, "gone.png")

	var out bytes.Buffer
	in := bufio.NewScanner(strings.NewReader(good + " " + missing + "\n"))
	_, err := PromptAnalysis(in, NewPrinter(&out), account.Compare)

	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.KindValidation, apiErr.Kind)
	assert.Equal(t, "Photo 2 could not be read.", apiErr.UserMessage())
	assert.NotContains(t, apiErr.UserMessage(), dir)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, apiErr.Diagnostic(), missing)
}

func TestPrinter_Notify(t *testing.T) {
	var out bytes.Buffer
	p := NewPrinter(&out)
	p.Notify(account.BalanceEvent(100, 300))
	p.Notify(account.Event{Kind: account.PaymentSucceeded, Delta: 100, Balance: 300})
	p.Notify(account.Event{Kind: account.PaymentCanceled})
	p.Notify(account.Event{Kind: account.ConsultationAdded})

	s := out.String()
	assert.Contains(t, s, "+100 STcoin, balance 300")
	assert.Contains(t, s, "Payment confirmed")
	assert.Contains(t, s, "Payment canceled")
}
