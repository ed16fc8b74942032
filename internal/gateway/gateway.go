// Package gateway talks to the payment provider that collects customer
// payments and disburses payouts to bank accounts.
package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// SessionStatus is the provider-side state of a payment session.
type SessionStatus string

const (
	SessionPending   SessionStatus = "PENDING"
	SessionPaid      SessionStatus = "PAID"
	SessionCancelled SessionStatus = "CANCELLED"
	SessionExpired   SessionStatus = "EXPIRED"
)

// PaymentSessionRequest opens a checkout for a customer payment.
type PaymentSessionRequest struct {
	Amount         decimal.Decimal
	Currency       string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// PaymentSession is the provider's answer to a PaymentSessionRequest.
type PaymentSession struct {
	SessionID   string
	CheckoutURL string
}

// PayoutRequest disburses funds to a bank account.
type PayoutRequest struct {
	Amount            decimal.Decimal
	Currency          string
	AccountNumber     string
	AccountHolderName string
	BankCode          string
	Description       string
	Metadata          map[string]string
	IdempotencyKey    string
}

// SessionInfo is returned by a session lookup.
type SessionInfo struct {
	CheckoutURL string
	Status      SessionStatus
}

// Client is the narrow contract the contract workflows need from the provider.
// Every mutating call carries an idempotency key so a retried call never
// charges or pays twice.
type Client interface {
	CreatePaymentSession(ctx context.Context, req PaymentSessionRequest) (PaymentSession, error)
	CreatePayoutSession(ctx context.Context, req PayoutRequest) (string, error)
	GetPaymentSession(ctx context.Context, sessionID string) (SessionInfo, error)
}

var (
	ErrMissingIdempotencyKey = errors.New("gateway: idempotency key required")
	ErrSessionNotFound       = errors.New("gateway: session not found")
)

// permanentError marks a failure that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Retrying gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
