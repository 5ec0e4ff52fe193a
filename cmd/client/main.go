// Package main runs the MISHURA command-line client.
package main

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mishura/stylist/internal/client/account"
	"github.com/mishura/stylist/internal/client/api"
	"github.com/mishura/stylist/internal/client/cache"
	"github.com/mishura/stylist/internal/client/cli"
	"github.com/mishura/stylist/internal/client/config"
	"github.com/mishura/stylist/internal/client/session"
	"github.com/mishura/stylist/internal/logger"
)

var (
	version   string
	buildDate string
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-version" {
		fmt.Printf("MISHURA Client\nVersion: %s\nBuild Date: %s\n", cmp.Or(version, "N/A"), cmp.Or(buildDate, "N/A"))
		return
	}

	opts, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logger.New()
	if err := log.InitConsole(opts.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, "failed to init logger:", err)
		os.Exit(2)
	}
	defer func() { _ = log.Log.Sync() }()

	httpClient, err := api.NewHTTPClient(api.TLSFiles{CA: opts.CAFile, Cert: opts.CertFile, Key: opts.KeyFile})
	if err != nil {
		log.Log.Fatal("cannot build http client", zap.Error(err))
	}
	client := api.New(opts.ServerURL,
		api.WithHTTPClient(httpClient),
		api.WithRequestTimeout(opts.RequestTimeout.D()),
		api.WithRateLimit(opts.RequestsPerSecond, 2),
		api.WithLogger(log.Log.Named("api")),
	)

	printer := cli.NewPrinter(os.Stdout)
	sess := session.New(client, cache.New(opts.StatePath), nil, printer, log.Log, session.Config{
		AnalysisTimeout:   opts.AnalysisTimeout.D(),
		PollInterval:      opts.PollInterval.D(),
		PollBudget:        opts.PollBudget.D(),
		ReconcileInterval: opts.ReconcileInterval.D(),
		ConsultationCost:  opts.ConsultationCost,
		HistoryLimit:      opts.HistoryLimit,
		ReturnURL:         opts.ReturnURL,
	})
	defer sess.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := sess.Start(ctx, account.Identity{UserID: opts.UserID, Username: opts.Username})
	switch {
	case err != nil:
		printer.Printf("⚠️  %s Working offline; run 'balance' to reconnect.\n", api.AsError("start", err).UserMessage())
	case res.IsNew:
		printer.Println("Welcome to MISHURA! Your starting balance is ready.")
	}
	printer.Println("Type 'help' for a list of commands.")

	if err := cli.NewShell(sess, os.Stdin, printer).Run(ctx); err != nil && ctx.Err() == nil {
		log.Log.Error("shell stopped", zap.Error(err))
	}
}
