package account

import "sync"

// Ledger holds the displayed balance and consultation history.
//
// Every write carries a value that came back from the backend: SetBalance takes a
// server-reported balance and AppendConsultation a server-confirmed consultation.
// Nothing here adds or subtracts STcoin locally.
type Ledger struct {
	mu      sync.Mutex
	account UserAccount
	known   bool
	history []Consultation
	// version counts balance writes and user switches.
	version uint64
}

// NewLedger returns an empty ledger for the given user.
func NewLedger(userID string) *Ledger {
	return &Ledger{account: UserAccount{UserID: userID}}
}

// SetUser switches the ledger to another user and forgets the previous state.
func (l *Ledger) SetUser(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.account.UserID == userID {
		return
	}
	l.account = UserAccount{UserID: userID}
	l.known = false
	l.history = nil
	l.version++
}

// UserID returns the user the ledger belongs to.
func (l *Ledger) UserID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account.UserID
}

// SetBalance stores a server-reported balance and returns the difference to the
// previously displayed value. changed is false when the value is the same or when
// no balance was known before.
func (l *Ledger) SetBalance(balance int) (delta int, changed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.setBalanceLocked(balance)
}

// Version identifies the current balance. Read it before a background fetch and
// pass it to SetBalanceAt.
func (l *Ledger) Version() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.version
}

// SetBalanceAt is SetBalance for a value fetched when the ledger was at version.
// If the balance was written or the user switched since then, the value is stale
// and dropped; stale is true in that case.
func (l *Ledger) SetBalanceAt(version uint64, balance int) (delta int, changed, stale bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.version != version {
		return 0, false, true
	}
	delta, changed = l.setBalanceLocked(balance)
	return delta, changed, false
}

func (l *Ledger) setBalanceLocked(balance int) (int, bool) {
	prev, known := l.account.Balance, l.known
	l.account.Balance = balance
	l.known = true
	l.version++
	if !known || prev == balance {
		return 0, false
	}
	return balance - prev, true
}

// Balance returns the displayed balance and whether the backend has reported one yet.
func (l *Ledger) Balance() (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account.Balance, l.known
}

// SetConsultationsUsed stores the server counter; lower values are ignored.
func (l *Ledger) SetConsultationsUsed(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n > l.account.ConsultationsUsed {
		l.account.ConsultationsUsed = n
	}
}

// ReplaceHistory installs history as returned by the backend, newest first.
func (l *Ledger) ReplaceHistory(items []Consultation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = append([]Consultation(nil), items...)
	if len(l.history) > l.account.ConsultationsUsed {
		l.account.ConsultationsUsed = len(l.history)
	}
}

// AppendConsultation records a confirmed consultation at the head of the history.
func (l *Ledger) AppendConsultation(c Consultation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = append([]Consultation{c}, l.history...)
	l.account.ConsultationsUsed++
}

// History returns a copy of the history, newest first.
func (l *Ledger) History() []Consultation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Consultation(nil), l.history...)
}

// Snapshot returns the current account state.
func (l *Ledger) Snapshot() UserAccount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account
}
