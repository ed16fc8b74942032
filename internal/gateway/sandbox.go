package gateway

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Sandbox is an in-memory provider used in development and tests.
// Calls are idempotent by key, like the real provider.
type Sandbox struct {
	mu       sync.Mutex
	byKey    map[string]string
	sessions map[string]*sandboxSession
	payouts  []SandboxPayout
	failures []error
}

type sandboxSession struct {
	req    PaymentSessionRequest
	url    string
	status SessionStatus
}

// SandboxPayout is a payout the sandbox accepted.
type SandboxPayout struct {
	SessionID string
	Request   PayoutRequest
}

func NewSandbox() *Sandbox {
	return &Sandbox{
		byKey:    make(map[string]string),
		sessions: make(map[string]*sandboxSession),
	}
}

// FailNext makes the next len(errs) calls fail with errs, in order.
func (s *Sandbox) FailNext(errs ...error) {
	s.mu.Lock()
	s.failures = append(s.failures, errs...)
	s.mu.Unlock()
}

func (s *Sandbox) popFailure() error {
	if len(s.failures) == 0 {
		return nil
	}
	err := s.failures[0]
	s.failures = s.failures[1:]
	return err
}

func (s *Sandbox) CreatePaymentSession(ctx context.Context, req PaymentSessionRequest) (PaymentSession, error) {
	if err := ctx.Err(); err != nil {
		return PaymentSession{}, err
	}
	if req.IdempotencyKey == "" {
		return PaymentSession{}, Permanent(ErrMissingIdempotencyKey)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.popFailure(); err != nil {
		return PaymentSession{}, err
	}
	if id, ok := s.byKey[req.IdempotencyKey]; ok {
		return PaymentSession{SessionID: id, CheckoutURL: s.sessions[id].url}, nil
	}
	id := "ps_" + uuid.NewString()
	sess := &sandboxSession{req: req, url: "https://sandbox.local/checkout/" + id, status: SessionPending}
	s.sessions[id] = sess
	s.byKey[req.IdempotencyKey] = id
	return PaymentSession{SessionID: id, CheckoutURL: sess.url}, nil
}

func (s *Sandbox) CreatePayoutSession(ctx context.Context, req PayoutRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.IdempotencyKey == "" {
		return "", Permanent(ErrMissingIdempotencyKey)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.popFailure(); err != nil {
		return "", err
	}
	if id, ok := s.byKey[req.IdempotencyKey]; ok {
		return id, nil
	}
	id := "po_" + uuid.NewString()
	s.byKey[req.IdempotencyKey] = id
	s.payouts = append(s.payouts, SandboxPayout{SessionID: id, Request: req})
	return id, nil
}

func (s *Sandbox) GetPaymentSession(ctx context.Context, sessionID string) (SessionInfo, error) {
	if err := ctx.Err(); err != nil {
		return SessionInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.popFailure(); err != nil {
		return SessionInfo{}, err
	}
	sess, ok := s.sessions[sessionID]
	if !ok {
		return SessionInfo{}, Permanent(ErrSessionNotFound)
	}
	return SessionInfo{CheckoutURL: sess.url, Status: sess.status}, nil
}

// MarkPaid flips a payment session to PAID, as if the customer checked out.
func (s *Sandbox) MarkPaid(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if ok {
		sess.status = SessionPaid
	}
	return ok
}

// Payouts returns the accepted payouts in call order.
func (s *Sandbox) Payouts() []SandboxPayout {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SandboxPayout, len(s.payouts))
	copy(out, s.payouts)
	return out
}

// SessionRequest returns the request a payment session was opened with.
func (s *Sandbox) SessionRequest(sessionID string) (PaymentSessionRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return PaymentSessionRequest{}, false
	}
	return sess.req, true
}
