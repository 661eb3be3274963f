package entity

import (
	"strings"
	"time"
)

// Package is a purchasable bundle of credits
type Package struct {
	Slug       string `json:"slug"`
	Name       string `json:"name"`
	Credits    int64  `json:"credits"`
	PriceCents int64  `json:"price_cents"`
	Currency   string `json:"currency"`
}

// DefaultPackages returns the packages offered when none are configured
func DefaultPackages() []Package {
	return []Package{
		{Slug: "starter", Name: "Starter", Credits: 100, PriceCents: 1990, Currency: "BRL"},
		{Slug: "pro", Name: "Pro", Credits: 500, PriceCents: 7990, Currency: "BRL"},
		{Slug: "business", Name: "Business", Credits: 1500, PriceCents: 19990, Currency: "BRL"},
	}
}

// Balance is the spendable credit of an owner
type Balance struct {
	OwnerID   string    `json:"owner_id"`
	Credits   int64     `json:"credits"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LedgerStatus is the state of a ledger entry
type LedgerStatus string

const (
	LedgerReserved  LedgerStatus = "reserved"
	LedgerCommitted LedgerStatus = "committed"
	LedgerReleased  LedgerStatus = "released"
)

// LedgerEntry records one balance change. Reference is unique.
type LedgerEntry struct {
	ID        string       `json:"id"`
	OwnerID   string       `json:"owner_id"`
	Reference string       `json:"reference"`
	Operation string       `json:"operation"`
	Delta     int64        `json:"delta"`
	Status    LedgerStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// PaymentMethod is how a purchase is paid
type PaymentMethod string

const (
	MethodPix        PaymentMethod = "pix"
	MethodCreditCard PaymentMethod = "credit_card"
)

// ParsePaymentMethod converts a string into a PaymentMethod
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodPix, MethodCreditCard:
		return m, nil
	}
	return "", ErrInvalidPaymentMethod
}

// PurchaseStatus represents the status of a purchase
type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseApproved  PurchaseStatus = "approved"
	PurchaseRejected  PurchaseStatus = "rejected"
	PurchaseCancelled PurchaseStatus = "cancelled"
)

// IsTerminal reports whether no further change can happen
func (s PurchaseStatus) IsTerminal() bool {
	return s == PurchaseApproved || s == PurchaseRejected || s == PurchaseCancelled
}

// CanTransitionTo reports whether a purchase can move from s to next
func (s PurchaseStatus) CanTransitionTo(next PurchaseStatus) bool {
	return s == PurchasePending && next.IsTerminal()
}

// Instructions tell the buyer how to pay
type Instructions struct {
	QRCode      string `json:"qr_code,omitempty"`
	CopyPaste   string `json:"copy_paste,omitempty"`
	CheckoutURL string `json:"checkout_url,omitempty"`
}

// Purchase is a credit package order
type Purchase struct {
	ID            string         `json:"id"`
	OwnerID       string         `json:"owner_id"`
	PackageSlug   string         `json:"package"`
	Credits       int64          `json:"credits"`
	AmountCents   int64          `json:"amount_cents"`
	Currency      string         `json:"currency"`
	PaymentMethod PaymentMethod  `json:"payment_method"`
	Status        PurchaseStatus `json:"status"`
	Instructions  Instructions   `json:"instructions"`
	GatewayID     string         `json:"gateway_id"`
	Reference     string         `json:"reference"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// CreditReference is the ledger reference that credits an approved purchase
func (p *Purchase) CreditReference() string {
	return "purchase:" + p.ID
}

// NormalizeCPF strips formatting from a CPF
func NormalizeCPF(cpf string) string {
	var b strings.Builder
	for _, r := range cpf {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidCPF reports whether cpf is a well-formed Brazilian taxpayer number
func ValidCPF(cpf string) bool {
	digits := NormalizeCPF(cpf)
	if len(digits) != 11 {
		return false
	}

	same := true
	for i := 1; i < 11; i++ {
		if digits[i] != digits[0] {
			same = false
			break
		}
	}
	if same {
		return false
	}

	for _, n := range []int{9, 10} {
		sum := 0
		for i := 0; i < n; i++ {
			sum += int(digits[i]-'0') * (n + 1 - i)
		}
		check := sum * 10 % 11
		if check == 10 {
			check = 0
		}
		if check != int(digits[n]-'0') {
			return false
		}
	}
	return true
}
