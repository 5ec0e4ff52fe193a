// Package cli is the interactive shell over an AccountSession.
package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/mishura/stylist/internal/client/account"
	"github.com/mishura/stylist/internal/client/api"
	"github.com/mishura/stylist/internal/client/payment"
	"github.com/mishura/stylist/internal/client/session"
	"github.com/mishura/stylist/internal/client/submit"
)

const helpText = `Available commands:
  status            session and balance
  balance           refresh the balance from the server
  history [n]       last consultations
  analyze           get advice for one outfit
  compare           compare 2-4 outfits
  packages          STcoin packages
  buy <id>          buy a package
  retry             retry a failed payment creation
  cancel            stop waiting for the current payment
  payment           current payment state
  watch | unwatch   start or stop background balance refresh
  details           diagnostic text of the last error
  exit`

// Shell reads commands line by line.
type Shell struct {
	sess    *session.Session
	in      *bufio.Scanner
	out     *Printer
	lastErr *api.Error
}

// NewShell creates a shell. out should be the same Printer given to the session as
// its notifier so that background messages do not interleave with command output.
func NewShell(sess *session.Session, in io.Reader, out *Printer) *Shell {
	return &Shell{sess: sess, in: bufio.NewScanner(in), out: out}
}

// Run executes commands until "exit", end of input or ctx cancellation.
func (sh *Shell) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sh.out.Printf("mishura> ")
		if !sh.in.Scan() {
			return sh.in.Err()
		}
		args := strings.Fields(sh.in.Text())
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" || args[0] == "quit" {
			sh.out.Println("Bye")
			return nil
		}
		if err := sh.Exec(ctx, args); err != nil {
			if errors.Is(err, errInputClosed) {
				return nil
			}
			sh.report(err)
		}
	}
}

// Exec runs one command.
func (sh *Shell) Exec(ctx context.Context, args []string) error {
	switch args[0] {
	case "help":
		sh.out.Println(helpText)
	case "status":
		sh.status()
	case "balance":
		if err := sh.sess.Refresh(ctx); err != nil {
			return err
		}
		sh.status()
	case "history":
		return sh.history(ctx, args[1:])
	case "analyze":
		return sh.analyze(ctx, account.Single)
	case "compare":
		return sh.analyze(ctx, account.Compare)
	case "packages":
		return sh.packages(ctx)
	case "buy":
		if len(args) < 2 {
			sh.out.Println("Usage: buy <id>")
			return nil
		}
		if _, err := sh.sess.Payments().Buy(ctx, args[1]); err != nil {
			return err
		}
	case "retry":
		if _, err := sh.sess.Payments().Retry(ctx); err != nil {
			return err
		}
	case "cancel":
		if sh.sess.Payments().Cancel() {
			sh.out.Println("Stopped waiting for the payment.")
		} else {
			sh.out.Println("No active payment.")
		}
	case "payment":
		sh.payment()
	case "watch":
		sh.sess.EnterBalanceView()
		sh.out.Println("Balance refresh is on.")
	case "unwatch":
		sh.sess.LeaveBalanceView()
		sh.out.Println("Balance refresh is off.")
	case "details":
		if sh.lastErr == nil {
			sh.out.Println("No errors.")
		} else {
			sh.out.Println(sh.lastErr.Diagnostic())
		}
	default:
		sh.out.Println("Unknown command. Type 'help' for a list of commands.")
	}
	return nil
}

func (sh *Shell) report(err error) {
	switch {
	case errors.Is(err, submit.ErrInFlight):
		sh.out.Println("An analysis is already running.")
		return
	case errors.Is(err, payment.ErrBusy):
		sh.out.Println("A payment is being created, please wait.")
		return
	case errors.Is(err, payment.ErrSuperseded):
		sh.out.Println("The payment was replaced by a newer one.")
		return
	}
	apiErr := api.AsError("command", err)
	sh.lastErr = apiErr
	sh.out.Printf("❌ %s\n", apiErr.UserMessage())
	if apiErr.Kind != api.KindValidation && apiErr.Kind != api.KindInvalidPackage {
		sh.out.Println("Type 'details' for more information.")
	}
}

func (sh *Shell) status() {
	acc, known := sh.sess.Account()
	mode := sh.sess.Mode()
	sh.out.Printf("User: %s (%s)\n", acc.UserID, mode)
	if !known {
		sh.out.Println("Balance: unknown")
	} else {
		sh.out.Printf("Balance: %d STcoin (%d consultations at %d each)\n",
			acc.Balance, acc.Balance/max(sh.sess.ConsultationCost(), 1), sh.sess.ConsultationCost())
	}
	sh.out.Printf("Consultations used: %d\n", acc.ConsultationsUsed)
	if mode == session.Degraded {
		sh.out.Println("Offline: run 'balance' to reconnect.")
	}
}

func (sh *Shell) history(ctx context.Context, args []string) error {
	n := 5
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			sh.out.Println("Usage: history [n]")
			return nil
		}
		n = v
	}
	items, err := sh.sess.History(ctx)
	if len(items) == 0 {
		if err != nil {
			return err
		}
		sh.out.Println("No consultations yet.")
		return nil
	}
	if err != nil {
		sh.out.Println("Showing saved history, the server did not respond.")
	}
	for i, c := range items {
		if i == n {
			break
		}
		sh.out.Printf("%s  %-8s %-16s %d photo(s)\n",
			c.CreatedAt.Local().Format("2006-01-02 15:04"), c.Type, c.Occasion, c.ImagesCount)
	}
	return nil
}

func (sh *Shell) analyze(ctx context.Context, kind account.AnalysisKind) error {
	req, err := PromptAnalysis(sh.in, sh.out, kind)
	if err != nil {
		return err
	}
	sh.out.Println("Analyzing, this can take a minute...")
	cons, err := sh.sess.Submit(ctx, req)
	if err != nil {
		return err
	}
	sh.out.Printf("\n%s\n\n", cons.AdviceText)
	return nil
}

func (sh *Shell) packages(ctx context.Context) error {
	cat, err := sh.sess.Payments().Catalog(ctx)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(cat))
	for id := range cat {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return cat[ids[i]].PriceFiat < cat[ids[j]].PriceFiat })
	for _, id := range ids {
		p := cat[id]
		mark := ""
		if p.IsFeatured {
			mark = " ⭐"
		}
		sh.out.Printf("%-8s %s%s: %d STcoin (%d consultations) for %.0f RUB\n",
			id, p.Name, mark, p.StcoinAmount, p.ConsultationsEquivalent, p.PriceFiat)
		if p.Description != "" {
			sh.out.Printf("         %s\n", p.Description)
		}
	}
	return nil
}

func (sh *Shell) payment() {
	pay := sh.sess.Payments()
	state := pay.State()
	sh.out.Printf("Payment state: %s\n", state)
	if in := pay.Active(); in != nil {
		sh.out.Printf("Payment %s: %d STcoin for %.0f RUB, status %s\n%s\n",
			in.ID, in.StcoinAmount, in.AmountFiat, in.Status, in.ConfirmationURL)
		return
	}
	if pkg, ok := pay.Selected(); ok && state == payment.Idle {
		sh.out.Printf("Package %s is selected; run 'retry' to try again.\n", pkg.ID)
	}
}
