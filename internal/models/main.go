// Package models defines the core data structures for users, consultations and payments.
package models

import "time"

// User represents a MISHURA account.
type User struct {
	// ID is the platform or device identifier chosen by the client.
	ID string
	// Username is the optional display name.
	Username string
	// Balance is the STcoin balance. It never goes below zero.
	Balance int
	// ConsultationsUsed counts paid analyses.
	ConsultationsUsed int
}

// AnalysisKind is the consultation mode.
type AnalysisKind string

const (
	// SingleAnalysis is advice on one outfit.
	SingleAnalysis AnalysisKind = "single"
	// CompareAnalysis compares several outfits.
	CompareAnalysis AnalysisKind = "compare"
)

// Consultation is one completed, paid analysis.
type Consultation struct {
	ID          string       `json:"id"`
	UserID      string       `json:"-"`
	Kind        AnalysisKind `json:"type"`
	Occasion    string       `json:"occasion"`
	Preferences string       `json:"preferences,omitempty"`
	Advice      string       `json:"advice"`
	ImagesCount int          `json:"imagesCount"`
	Cost        int          `json:"cost"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// PaymentStatus is the lifecycle state of a payment.
type PaymentStatus string

const (
	PaymentCreated   PaymentStatus = "created"
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentCanceled  PaymentStatus = "canceled"
)

// Open reports whether the payment can still be settled or canceled.
func (s PaymentStatus) Open() bool {
	return s == PaymentCreated || s == PaymentPending
}

// Payment is a purchase of an STcoin package.
type Payment struct {
	ID              string
	UserID          string
	PackageID       string
	Amount          float64
	Stcoins         int
	Status          PaymentStatus
	ConfirmationURL string
	CreatedAt       time.Time
}

// Package is a purchasable STcoin bundle.
type Package struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	Stcoins       int     `json:"stcoins"`
	Consultations int     `json:"consultations"`
	Description   string  `json:"description"`
	Popular       bool    `json:"popular"`
}

// Image is one uploaded photo.
type Image struct {
	Name     string
	MIMEType string
	Data     []byte
}
