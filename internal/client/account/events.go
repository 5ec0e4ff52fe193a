package account

// EventKind classifies notifications sent to the presentation layer.
type EventKind string

const (
	BalanceCredited    EventKind = "balance_credited"
	BalanceDebited     EventKind = "balance_debited"
	ConsultationAdded  EventKind = "consultation_added"
	PaymentAwaiting    EventKind = "payment_awaiting"
	PaymentSucceeded   EventKind = "payment_succeeded"
	PaymentCanceled    EventKind = "payment_canceled"
	PaymentExpired     EventKind = "payment_expired"
	PaymentCheckFailed EventKind = "payment_check_failed"
)

// Event is a plain notification; it carries no timers or handles.
type Event struct {
	Kind      EventKind
	Message   string
	Delta     int
	Balance   int
	PaymentID string
}

// Notifier receives events. Implementations must not block for long; they may be
// called from background goroutines.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

// Notify calls f(e).
func (f NotifierFunc) Notify(e Event) { f(e) }

// Discard drops every event.
var Discard Notifier = NotifierFunc(func(Event) {})

// BalanceEvent frames a balance change as a credit or a debit.
func BalanceEvent(delta, balance int) Event {
	if delta > 0 {
		return Event{Kind: BalanceCredited, Delta: delta, Balance: balance}
	}
	return Event{Kind: BalanceDebited, Delta: delta, Balance: balance}
}
