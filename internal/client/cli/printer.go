package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/mishura/stylist/internal/client/account"
)

// Printer writes shell output and background notifications to one writer.
// It implements account.Notifier.
type Printer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewPrinter returns a printer writing to out.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// Printf writes formatted output.
func (p *Printer) Printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

// Println writes a line.
func (p *Printer) Println(args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, args...)
}

// Notify prints an event.
func (p *Printer) Notify(e account.Event) {
	switch e.Kind {
	case account.BalanceCredited:
		p.Printf("\n💰 +%d STcoin, balance %d\n", e.Delta, e.Balance)
	case account.BalanceDebited:
		p.Printf("\n💸 %d STcoin, balance %d\n", e.Delta, e.Balance)
	case account.PaymentAwaiting:
		p.Printf("Open this link to pay: %s\nWaiting for confirmation...\n", e.Message)
	case account.PaymentSucceeded:
		p.Printf("\n✅ Payment confirmed: +%d STcoin, balance %d\n", e.Delta, e.Balance)
		if e.Message != "" {
			p.Println(e.Message)
		}
	case account.PaymentCanceled:
		p.Println("\nPayment canceled. Your balance has not changed.")
	case account.PaymentExpired:
		p.Println("\nStopped waiting for the payment. If you paid, the balance will update on the next refresh.")
	case account.PaymentCheckFailed:
		p.Printf("\nCould not check the payment status: %s Still trying.\n", e.Message)
	}
}
