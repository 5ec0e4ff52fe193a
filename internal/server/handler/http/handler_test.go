package http_test

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mishura/stylist/internal/advisor"
	"github.com/mishura/stylist/internal/client/account"
	"github.com/mishura/stylist/internal/client/api"
	"github.com/mishura/stylist/internal/models"
	handler "github.com/mishura/stylist/internal/server/handler/http"
	"github.com/mishura/stylist/internal/service"
)

var pngData = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

// memStore is an in-memory stand-in for the Postgres repositories.
type memStore struct {
	mu            sync.Mutex
	users         map[string]*models.User
	consultations []models.Consultation
	payments      map[string]*models.Payment
}

func newMemStore() *memStore {
	return &memStore{users: map[string]*models.User{}, payments: map[string]*models.Payment{}}
}

func (m *memStore) UpsertUser(_ context.Context, id, username string, startingBalance int) (models.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return *u, false, nil
	}
	u := &models.User{ID: id, Username: username, Balance: startingBalance}
	m.users[id] = u
	return *u, true, nil
}

func (m *memStore) GetUser(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, service.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) History(_ context.Context, userID string, limit int) ([]models.Consultation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Consultation
	for i := len(m.consultations) - 1; i >= 0 && len(out) < limit; i-- {
		if m.consultations[i].UserID == userID {
			out = append(out, m.consultations[i])
		}
	}
	return out, nil
}

func (m *memStore) ChargeConsultation(_ context.Context, c models.Consultation) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[c.UserID]
	if !ok {
		return 0, service.ErrUserNotFound
	}
	if u.Balance < c.Cost {
		return 0, service.ErrInsufficientBalance
	}
	u.Balance -= c.Cost
	u.ConsultationsUsed++
	m.consultations = append(m.consultations, c)
	return u.Balance, nil
}

func (m *memStore) CreatePayment(_ context.Context, p models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = &p
	return nil
}

func (m *memStore) GetPayment(_ context.Context, id string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, service.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) SettlePayment(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	switch {
	case !ok:
		return false, service.ErrPaymentNotFound
	case p.Status == models.PaymentSucceeded:
		return false, nil
	case !p.Status.Open():
		return false, service.ErrPaymentClosed
	}
	p.Status = models.PaymentSucceeded
	m.users[p.UserID].Balance += p.Stcoins
	return true, nil
}

func (m *memStore) CancelPayment(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	switch {
	case !ok:
		return service.ErrPaymentNotFound
	case p.Status == models.PaymentSucceeded:
		return service.ErrPaymentClosed
	}
	p.Status = models.PaymentCanceled
	return nil
}

type advisorFunc func(ctx context.Context, req advisor.Request) (string, error)

func (f advisorFunc) Advise(ctx context.Context, req advisor.Request) (string, error) { return f(ctx, req) }

type testServer struct {
	*httptest.Server
	router http.Handler
	store  *memStore
	client *api.Client
}

func newTestServer(t *testing.T, adv advisor.Advisor) *testServer {
	t.Helper()
	return newServer(t, adv, true)
}

func newServer(t *testing.T, adv advisor.Advisor, sandbox bool) *testServer {
	t.Helper()
	store := newMemStore()
	log := zap.NewNop()

	var srv *httptest.Server
	var provider service.Provider = service.NoProvider{}
	if sandbox {
		provider = lazyProvider(func() string { return srv.URL + "/api/v1" })
	}

	router := handler.NewRouter(
		&handler.AccountHandler{AccountService: service.NewAccountService(store, 200, 10), Log: log},
		&handler.AnalysisHandler{AnalysisService: service.NewAnalysisService(store, adv, 10, log), Log: log},
		&handler.PaymentHandler{
			PaymentService: service.NewPaymentService(store, store, provider, service.DefaultCatalog(), log),
			Log:            log,
			SandboxEnabled: sandbox,
		},
		log,
	)
	srv = httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{
		Server: srv,
		router: router,
		store:  store,
		client: api.New(srv.URL+"/api/v1", api.WithRequestTimeout(5*time.Second)),
	}
}

// lazyProvider builds sandbox links once the test server URL is known.
type lazyProvider func() string

func (l lazyProvider) Checkout(ctx context.Context, p models.Payment, returnURL string) (string, error) {
	return service.SandboxProvider{BaseURL: l()}.Checkout(ctx, p, returnURL)
}

func okAdvisor(text string) advisor.Advisor {
	return advisorFunc(func(context.Context, advisor.Request) (string, error) { return text, nil })
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, advisor.Unavailable{})
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d; want 200", resp.StatusCode)
	}
}

func TestInitBalanceHistory(t *testing.T) {
	ts := newTestServer(t, advisor.Unavailable{})
	ctx := context.Background()

	first, err := ts.client.InitializeUser(ctx, account.Identity{UserID: "tg_7", Username: "anna"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !first.IsNew || first.Account.Balance != 200 || first.ConsultationCost != 10 {
		t.Errorf("unexpected first init %+v", first)
	}

	again, err := ts.client.InitializeUser(ctx, account.Identity{UserID: "tg_7"})
	if err != nil {
		t.Fatalf("second init: %v", err)
	}
	if again.IsNew || again.Account.Balance != 200 {
		t.Errorf("returning user must keep the balance: %+v", again)
	}

	balance, err := ts.client.FetchBalance(ctx, "tg_7")
	if err != nil || balance != 200 {
		t.Errorf("balance = %d, %v; want 200", balance, err)
	}

	history, err := ts.client.FetchHistory(ctx, "tg_7", 5)
	if err != nil || len(history) != 0 {
		t.Errorf("history = %v, %v; want empty", history, err)
	}

	if _, err := ts.client.FetchBalance(ctx, "nobody"); api.KindOf(err) != api.KindServer {
		t.Errorf("unknown user: kind = %v, err = %v", api.KindOf(err), err)
	}
}

func TestAnalyze(t *testing.T) {
	ts := newTestServer(t, okAdvisor("Добавьте пояс"))
	ctx := context.Background()
	if _, err := ts.client.InitializeUser(ctx, account.Identity{UserID: "tg_1"}); err != nil {
		t.Fatal(err)
	}

	res, err := ts.client.SubmitAnalysis(ctx, api.AnalysisRequest{
		UserID:   "tg_1",
		Kind:     account.Compare,
		Occasion: "офис",
		Images: []api.Image{
			{Name: "a.png", ContentType: "image/png", Data: pngData},
			{Name: "b.png", ContentType: "image/png", Data: pngData},
		},
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.AdviceText != "Добавьте пояс" || res.Balance == nil || *res.Balance != 190 || res.ImagesCount != 2 {
		t.Errorf("unexpected result %+v", res)
	}
	if res.ConsultationID == "" || res.CreatedAt.IsZero() {
		t.Errorf("metadata missing: %+v", res)
	}

	history, err := ts.client.FetchHistory(ctx, "tg_1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].ID != res.ConsultationID || history[0].Type != account.Compare {
		t.Errorf("unexpected history %+v", history)
	}
}

func TestAnalyze_Rejected(t *testing.T) {
	ts := newTestServer(t, okAdvisor("ok"))
	ctx := context.Background()
	if _, err := ts.client.InitializeUser(ctx, account.Identity{UserID: "tg_1"}); err != nil {
		t.Fatal(err)
	}
	single := func(data []byte) api.AnalysisRequest {
		return api.AnalysisRequest{UserID: "tg_1", Kind: account.Single, Occasion: "work",
			Images: []api.Image{{Name: "a.png", Data: data}}}
	}

	_, err := ts.client.SubmitAnalysis(ctx, single([]byte("hello")))
	if e, ok := err.(*api.Error); !ok || e.Kind != api.KindValidation || !strings.Contains(e.Message, "not an image") {
		t.Errorf("expected image validation error, got %v", err)
	}

	ts.store.mu.Lock()
	ts.store.users["tg_1"].Balance = 5
	ts.store.mu.Unlock()
	_, err = ts.client.SubmitAnalysis(ctx, single(pngData))
	if e, ok := err.(*api.Error); !ok || e.Kind != api.KindValidation || e.Status != http.StatusPaymentRequired {
		t.Errorf("expected insufficient balance, got %v", err)
	}
}

func TestAnalyze_AdvisorUnavailable(t *testing.T) {
	ts := newTestServer(t, advisor.Unavailable{})
	ctx := context.Background()
	if _, err := ts.client.InitializeUser(ctx, account.Identity{UserID: "tg_1"}); err != nil {
		t.Fatal(err)
	}

	_, err := ts.client.SubmitAnalysis(ctx, api.AnalysisRequest{UserID: "tg_1", Kind: account.Single, Occasion: "work",
		Images: []api.Image{{Name: "a.png", Data: pngData}}})
	e, ok := err.(*api.Error)
	if !ok || e.Kind != api.KindServer || e.Status != http.StatusServiceUnavailable || e.Code != handler.CodeAIUnavailable {
		t.Fatalf("expected AI_UNAVAILABLE, got %#v", err)
	}
	if b, _ := ts.client.FetchBalance(ctx, "tg_1"); b != 200 {
		t.Errorf("user must not be charged, balance %d", b)
	}
}

func TestPaymentFlow(t *testing.T) {
	ts := newTestServer(t, advisor.Unavailable{})
	ctx := context.Background()
	if _, err := ts.client.InitializeUser(ctx, account.Identity{UserID: "tg_1"}); err != nil {
		t.Fatal(err)
	}

	cat, err := ts.client.Packages(ctx)
	if err != nil {
		t.Fatalf("packages: %v", err)
	}
	ids := make([]string, 0, len(cat))
	for id := range cat {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if strings.Join(ids, ",") != "basic,premium,vip" || !cat["premium"].IsFeatured || cat["basic"].StcoinAmount != 100 {
		t.Errorf("unexpected catalog %+v", cat)
	}

	intent, err := ts.client.CreatePayment(ctx, "tg_1", "basic", "https://app.example/back")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if intent.Status != account.StatusPending || intent.StcoinAmount != 100 || intent.AmountFiat != 150 {
		t.Errorf("unexpected intent %+v", intent)
	}
	if !strings.HasPrefix(intent.ConfirmationURL, ts.URL+"/api/v1/payments/sandbox/"+intent.ID) {
		t.Errorf("unexpected confirmation url %s", intent.ConfirmationURL)
	}

	status, err := ts.client.PaymentStatus(ctx, intent.ID)
	if err != nil || status != account.StatusPending {
		t.Fatalf("status = %s, %v", status, err)
	}

	noRedirect := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := noRedirect.Get(intent.ConfirmationURL + "&outcome=succeeded")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "https://app.example/back" {
		t.Errorf("sandbox: status %d location %q", resp.StatusCode, resp.Header.Get("Location"))
	}

	status, _ = ts.client.PaymentStatus(ctx, intent.ID)
	if status != account.StatusSucceeded {
		t.Errorf("status after confirm = %s", status)
	}

	// the provider may deliver the same notification twice
	for range 2 {
		body := `{"event":"payment.succeeded","object":{"id":"` + intent.ID + `"}}`
		resp, err := http.Post(ts.URL+"/api/v1/payments/webhook", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("webhook status %d", resp.StatusCode)
		}
	}
	if b, _ := ts.client.FetchBalance(ctx, "tg_1"); b != 300 {
		t.Errorf("balance = %d; want 300 (credited once)", b)
	}
}

func TestPaymentErrors(t *testing.T) {
	ts := newTestServer(t, advisor.Unavailable{})
	ctx := context.Background()
	if _, err := ts.client.InitializeUser(ctx, account.Identity{UserID: "tg_1"}); err != nil {
		t.Fatal(err)
	}

	if _, err := ts.client.CreatePayment(ctx, "tg_1", "gold", ""); api.KindOf(err) != api.KindInvalidPackage {
		t.Errorf("unknown package: kind %v, err %v", api.KindOf(err), err)
	}
	if _, err := ts.client.PaymentStatus(ctx, "missing"); api.KindOf(err) != api.KindPaymentProvider {
		t.Errorf("unknown payment: kind %v, err %v", api.KindOf(err), err)
	}

	intent, err := ts.client.CreatePayment(ctx, "tg_1", "vip", "")
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Get(intent.ConfirmationURL + "?outcome=canceled")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if status, _ := ts.client.PaymentStatus(ctx, intent.ID); status != account.StatusCanceled {
		t.Errorf("status after cancel = %s", status)
	}
}

func TestPayments_WithoutSandbox(t *testing.T) {
	ts := newServer(t, advisor.Unavailable{}, false)
	ctx := context.Background()
	if _, err := ts.client.InitializeUser(ctx, account.Identity{UserID: "tg_1"}); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(ts.URL + "/api/v1/payments/sandbox/p1?outcome=succeeded")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("sandbox page status = %d, want 404", resp.StatusCode)
	}

	_, err = ts.client.CreatePayment(ctx, "tg_1", "basic", "")
	var apiErr *api.Error
	if !errors.As(err, &apiErr) || apiErr.Kind != api.KindPaymentProvider || apiErr.Code != "PAYMENT_PROVIDER_ERROR" {
		t.Fatalf("create without provider: %v", err)
	}
	if b, _ := ts.client.FetchBalance(ctx, "tg_1"); b != 200 {
		t.Errorf("balance = %d, want 200", b)
	}
}

func TestSandboxPage(t *testing.T) {
	ts := newTestServer(t, advisor.Unavailable{})
	ctx := context.Background()
	if _, err := ts.client.InitializeUser(ctx, account.Identity{UserID: "tg_1"}); err != nil {
		t.Fatal(err)
	}
	intent, err := ts.client.CreatePayment(ctx, "tg_1", "basic", "https://app.example/back")
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(intent.ConfirmationURL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	page := string(data)
	if !strings.Contains(page, "outcome=succeeded") || !strings.Contains(page, "outcome=canceled") {
		t.Errorf("checkout links missing:\n%s", page)
	}
	if status, _ := ts.client.PaymentStatus(ctx, intent.ID); status != account.StatusPending {
		t.Errorf("viewing the page must not settle the payment, status %s", status)
	}
}

func TestRequestValidation(t *testing.T) {
	ts := newTestServer(t, advisor.Unavailable{})

	tests := []struct {
		name     string
		method   string
		path     string
		ct       string
		body     string
		wantCode int
		wantErr  string
	}{
		{"init needs json", http.MethodPost, "/api/v1/user/init", "text/plain", "userId=1", http.StatusUnsupportedMediaType, ""},
		{"init bad body", http.MethodPost, "/api/v1/user/init", "application/json", "{", http.StatusBadRequest, handler.CodeInvalidRequest},
		{"init empty id", http.MethodPost, "/api/v1/user/init", "application/json", `{"userId":""}`, http.StatusBadRequest, handler.CodeInvalidRequest},
		{"bad history limit", http.MethodGet, "/api/v1/user/tg_1/history?limit=ten", "", "", http.StatusBadRequest, handler.CodeInvalidRequest},
		{"webhook without id", http.MethodPost, "/api/v1/payments/webhook", "application/json", `{"event":"payment.succeeded"}`, http.StatusBadRequest, handler.CodeInvalidRequest},
		{"analyze needs multipart", http.MethodPost, "/api/v1/analyze", "application/json", "{}", http.StatusUnsupportedMediaType, ""},
		{"unknown sandbox outcome", http.MethodGet, "/api/v1/payments/sandbox/p1?outcome=maybe", "", "", http.StatusBadRequest, handler.CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			if tt.ct != "" {
				req.Header.Set("Content-Type", tt.ct)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantCode {
				t.Errorf("status = %d; want %d", resp.StatusCode, tt.wantCode)
			}
			if tt.wantErr == "" {
				return
			}
			var body struct {
				Status string `json:"status"`
				Code   string `json:"code"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Status != "error" || body.Code != tt.wantErr {
				t.Errorf("body = %+v; want code %s", body, tt.wantErr)
			}
		})
	}
}

func TestDeviceCertificateMustMatchUser(t *testing.T) {
	ts := newTestServer(t, advisor.Unavailable{})

	withPeer := func(req *http.Request, cn string) *http.Request {
		req.TLS = &tls.ConnectionState{PeerCertificates: []*x509.Certificate{{Subject: pkix.Name{CommonName: cn}}}}
		return req
	}
	initReq := func(cn string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/user/init", strings.NewReader(`{"userId":"tg_1"}`))
		req.Header.Set("Content-Type", "application/json")
		return withPeer(req, cn)
	}

	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, initReq("tg_2"))
	if rec.Code != http.StatusForbidden || !strings.Contains(rec.Body.String(), handler.CodeForbidden) {
		t.Errorf("foreign certificate: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, initReq("tg_1"))
	if rec.Code != http.StatusOK {
		t.Errorf("own certificate: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, withPeer(httptest.NewRequest(http.MethodGet, "/api/v1/user/tg_1/balance", nil), "tg_2"))
	if rec.Code != http.StatusForbidden {
		t.Errorf("balance with foreign certificate: status %d", rec.Code)
	}
}
