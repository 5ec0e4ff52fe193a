// Package main runs the MISHURA backend: account ledger, outfit analysis
// through Gemini and STcoin package sales.
package main

import (
	"cmp"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	nethttp "net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mishura/stylist/internal/advisor"
	"github.com/mishura/stylist/internal/config"
	"github.com/mishura/stylist/internal/db"
	"github.com/mishura/stylist/internal/logger"
	"github.com/mishura/stylist/internal/repository"
	"github.com/mishura/stylist/internal/server/handler/http"
	"github.com/mishura/stylist/internal/service"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

const shutdownTimeout = 10 * time.Second

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-version" {
		fmt.Printf("MISHURA Server\nVersion: %s\nBuild Date: %s\n", cmp.Or(version, "N/A"), cmp.Or(buildDate, "N/A"))
		return
	}

	options, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logger.New()
	if err := log.Init(options.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, "failed to init logger:", err)
		os.Exit(2)
	}
	defer func() { _ = log.Log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, options, log.Log); err != nil {
		log.Log.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, options *config.Options, log *zap.Logger) error {
	log.Info("starting", zap.String("version", cmp.Or(version, "N/A")), zap.String("build_date", cmp.Or(buildDate, "N/A")))

	postgresDB, err := db.InitPostgres(ctx, options.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("cannot init database: %w", err)
	}
	defer postgresDB.Close()

	userRepo := repository.NewPostgresUserRepository(postgresDB)
	paymentRepo := repository.NewPostgresPaymentRepository(postgresDB)

	var stylist advisor.Advisor = advisor.Unavailable{}
	if options.GeminiAPIKey != "" {
		stylist = advisor.NewGemini(options.GeminiAPIKey, options.GeminiModel, log.Named("gemini"))
	} else {
		log.Warn("no Gemini API key configured, analysis requests will fail")
	}

	var provider service.Provider = service.NoProvider{}
	if options.SandboxPayments {
		provider = service.SandboxProvider{BaseURL: publicBase(options)}
		log.Warn("sandbox payments enabled, purchases are confirmed without charge")
	}

	accountHandler := &http.AccountHandler{
		AccountService: service.NewAccountService(userRepo, options.StartingBalance, options.ConsultationCost),
		Log:            log,
	}
	analysisHandler := &http.AnalysisHandler{
		AnalysisService: service.NewAnalysisService(userRepo, stylist, options.ConsultationCost, log.Named("analysis")),
		Log:             log,
	}
	paymentHandler := &http.PaymentHandler{
		PaymentService: service.NewPaymentService(paymentRepo, userRepo, provider, service.DefaultCatalog(), log.Named("payments")),
		Log:            log,
		SandboxEnabled: options.SandboxPayments,
	}

	server := &nethttp.Server{
		Addr:              options.Port,
		Handler:           http.NewRouter(accountHandler, analysisHandler, paymentHandler, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if options.TLSClientCA != "" {
		cfg, err := clientAuthTLS(options.TLSClientCA)
		if err != nil {
			return err
		}
		server.TLSConfig = cfg
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", options.Port), zap.Bool("tls", options.TLSCert != ""))
		var err error
		if options.TLSCert != "" {
			err = server.ListenAndServeTLS(options.TLSCert, options.TLSKey)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, nethttp.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		db.RunPaymentExpirer(ctx, postgresDB, options.ExpireInterval, options.PaymentRetention, log.Named("expirer"))
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// publicBase is the API root the sandbox checkout links point at.
func publicBase(options *config.Options) string {
	if options.PublicURL != "" {
		return strings.TrimRight(options.PublicURL, "/") + "/api/v1"
	}
	scheme := "http://"
	if options.TLSCert != "" {
		scheme = "https://"
	}
	return scheme + options.Port + "/api/v1"
}

// clientAuthTLS accepts device certificates signed by the CA in caFile.
// Devices without a certificate are still served.
func clientAuthTLS(caFile string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read client CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to append client CA")
	}
	return &tls.Config{
		ClientAuth: tls.VerifyClientCertIfGiven,
		ClientCAs:  pool,
		MinVersion: tls.VersionTLS12,
	}, nil
}
