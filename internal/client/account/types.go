// Package account defines the client-side view of a MISHURA user account:
// balance, consultation history, payment intents and the package catalog.
package account

import "time"

// Identity describes who the session acts for. UserID is either a
// platform-provided identifier or a device identifier from the local cache.
type Identity struct {
	UserID    string
	Username  string
	FirstName string
	LastName  string
}

// UserAccount mirrors the server ledger for one user.
type UserAccount struct {
	// UserID is the stable identifier used on every backend call.
	UserID string
	// Balance is the STcoin count last returned by the backend.
	Balance int
	// ConsultationsUsed never decreases.
	ConsultationsUsed int
}

// AnalysisKind selects between analysing one outfit and comparing several.
type AnalysisKind string

const (
	// Single analyses exactly one image.
	Single AnalysisKind = "single"
	// Compare compares two to four images.
	Compare AnalysisKind = "compare"
)

// Consultation is one completed analysis with its advice text.
// It is created only from a successful backend response and never changed afterwards.
type Consultation struct {
	ID          string       `json:"id"`
	Occasion    string       `json:"occasion"`
	Preferences string       `json:"preferences,omitempty"`
	AdviceText  string       `json:"advice"`
	CreatedAt   time.Time    `json:"createdAt"`
	ImagesCount int          `json:"imagesCount"`
	Type        AnalysisKind `json:"type"`
}

// PaymentStatus is the backend-reported state of a payment.
type PaymentStatus string

const (
	StatusCreated   PaymentStatus = "created"
	StatusPending   PaymentStatus = "pending"
	StatusSucceeded PaymentStatus = "succeeded"
	StatusCanceled  PaymentStatus = "canceled"
)

// Terminal reports whether no further transitions are expected.
func (s PaymentStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusCanceled
}

// PaymentIntent is a server-tracked payment that has not been settled yet.
type PaymentIntent struct {
	ID              string
	PackageID       string
	AmountFiat      float64
	StcoinAmount    int
	ConfirmationURL string
	Status          PaymentStatus
}

// Package is a purchasable STcoin bundle.
type Package struct {
	ID                      string
	Name                    string
	PriceFiat               float64
	StcoinAmount            int
	ConsultationsEquivalent int
	Description             string
	IsFeatured              bool
}

// Catalog maps package IDs to packages.
type Catalog map[string]Package
