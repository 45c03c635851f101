// Package unlock implements the client side of the payment flow: a state
// machine that fetches a 402 challenge, funds the payment, signs a proof and
// retries the request with exponential backoff until the content unlocks.
package unlock

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/basedotnews/basepost/internal/paywall"
)

// State is one phase of the unlock flow.
type State int

const (
	StateIdle State = iota
	StateEnsuringFunds
	StateBuildingProof
	StateRequesting
	StateRetrying
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEnsuringFunds:
		return "ensuring_funds"
	case StateBuildingProof:
		return "building_proof"
	case StateRequesting:
		return "requesting"
	case StateRetrying:
		return "retrying"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Clock abstracts timer creation so tests can drive the retry schedule.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// ProofBuilder signs a payment proof bound to one challenge. A fresh proof is
// requested for every attempt; authorizations carry nonces and must never be
// reused.
type ProofBuilder interface {
	Build(ctx context.Context, requirements paywall.PaymentRequirements) (*paywall.PaymentPayload, error)
}

// ProofBuilderFunc adapts a function to the ProofBuilder interface.
type ProofBuilderFunc func(ctx context.Context, requirements paywall.PaymentRequirements) (*paywall.PaymentPayload, error)

func (f ProofBuilderFunc) Build(ctx context.Context, requirements paywall.PaymentRequirements) (*paywall.PaymentPayload, error) {
	return f(ctx, requirements)
}

// Recorder reports a successful unlock back to the service. Failures are
// logged and swallowed; the unlock already succeeded.
type Recorder interface {
	RecordPurchase(ctx context.Context, resourceURL string) error
}

// DefaultMaxRetries is the paid-attempt budget per unlock.
const DefaultMaxRetries = 5

// Machine drives one unlock at a time through the payment flow.
type Machine struct {
	httpClient *http.Client
	funder     Funder
	confirm    ConfirmationStrategy
	proofs     ProofBuilder
	recorder   Recorder
	clock      Clock
	logger     *slog.Logger
	maxRetries int
}

// Option configures a Machine.
type Option func(*Machine)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Machine) { m.httpClient = c }
}

// WithFunder sets the funding boundary. Without one the machine assumes the
// payer wallet is already funded.
func WithFunder(f Funder, confirm ConfirmationStrategy) Option {
	return func(m *Machine) {
		m.funder = f
		m.confirm = confirm
	}
}

// WithRecorder sets the best-effort purchase recorder.
func WithRecorder(r Recorder) Option {
	return func(m *Machine) { m.recorder = r }
}

// WithClock injects the retry clock.
func WithClock(c Clock) Option {
	return func(m *Machine) { m.clock = c }
}

// WithMaxRetries overrides the paid-attempt budget.
func WithMaxRetries(n int) Option {
	return func(m *Machine) { m.maxRetries = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) { m.logger = logger }
}

// New creates an unlock machine around the proof builder.
func New(proofs ProofBuilder, opts ...Option) *Machine {
	m := &Machine{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		proofs:     proofs,
		clock:      realClock{},
		logger:     slog.Default(),
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(m)
	}
	// At least one paid attempt, or Unlock could return without a result
	// or an error.
	if m.maxRetries < 1 {
		m.maxRetries = 1
	}
	return m
}

// Result is a successful unlock.
type Result struct {
	Content  []byte
	State    State
	Attempts int
}

// Unlock runs the full flow against resourceURL and returns the unlocked
// content. The flow is cancellable at every wait through ctx. A terminal
// failure returns the last attempt's error unchanged.
func (m *Machine) Unlock(ctx context.Context, resourceURL string) (*Result, error) {
	requirements, free, err := m.fetchChallenge(ctx, resourceURL)
	if err != nil {
		return nil, err
	}
	if free != nil {
		// The resource answered 200 without payment.
		return &Result{Content: free, State: StateSucceeded}, nil
	}

	if m.funder != nil {
		m.logger.Debug("unlock state", "state", StateEnsuringFunds, "url", resourceURL)
		txHash, err := m.funder.EnsureFunds(ctx, requirements.Amount, requirements.Network)
		if err != nil {
			// Insufficient funds cannot heal through retries.
			return nil, err
		}
		if txHash != "" && m.confirm != nil {
			if err := m.confirm.WaitConfirmed(ctx, txHash); err != nil {
				return nil, err
			}
		}
	}

	var lastErr error
	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		m.logger.Debug("unlock state", "state", StateBuildingProof, "url", resourceURL, "attempt", attempt)
		proof, err := m.proofs.Build(ctx, *requirements)
		if err != nil {
			return nil, errors.Wrap(err, "build payment proof")
		}

		m.logger.Debug("unlock state", "state", StateRequesting, "url", resourceURL, "attempt", attempt)
		content, challenge, err := m.request(ctx, resourceURL, proof)
		if err == nil {
			m.logger.Info("resource unlocked", "url", resourceURL, "attempts", attempt)
			m.recordPurchase(ctx, resourceURL)
			return &Result{Content: content, State: StateSucceeded, Attempts: attempt}, nil
		}
		lastErr = err
		if challenge != nil {
			// The server re-challenged; the next proof binds to the
			// current terms.
			requirements = challenge
		}

		m.logger.Warn("unlock attempt failed",
			"url", resourceURL,
			"attempt", attempt,
			"max", m.maxRetries,
			"error", err)

		delay := time.Duration(1<<attempt) * time.Second
		m.logger.Debug("unlock state", "state", StateRetrying, "url", resourceURL, "delay", delay)
		select {
		case <-m.clock.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// fetchChallenge requests the resource without payment. A 402 yields the
// challenge terms; a 200 yields the content directly.
func (m *Machine) fetchChallenge(ctx context.Context, resourceURL string) (*paywall.PaymentRequirements, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resourceURL, nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "build challenge request")
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, nil, errors.Wrap(err, "fetch challenge")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, nil, errors.Wrap(err, "read challenge response")
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return nil, body, nil
	case http.StatusPaymentRequired:
		requirements, err := parseChallenge(body)
		if err != nil {
			return nil, nil, err
		}
		return requirements, nil, nil
	default:
		return nil, nil, errors.Newf("resource %s returned %d: %s", resourceURL, resp.StatusCode, body)
	}
}

// request performs one paid attempt. When the server answers with a fresh
// 402, its requirements come back alongside the error so the next proof can
// bind to them.
func (m *Machine) request(ctx context.Context, resourceURL string, proof *paywall.PaymentPayload) ([]byte, *paywall.PaymentRequirements, error) {
	header, err := paywall.EncodePaymentHeader(*proof)
	if err != nil {
		return nil, nil, errors.Wrap(err, "encode payment header")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resourceURL, nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "build paid request")
	}
	req.Header.Set(paywall.HeaderPayment, header)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, nil, errors.Wrap(err, "paid request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, nil, errors.Wrap(err, "read paid response")
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil, nil
	case http.StatusPaymentRequired:
		var reason string
		requirements, perr := parseChallenge(body)
		if perr != nil {
			return nil, nil, errors.Newf("payment rejected: %s", body)
		}
		if reason = challengeReason(body); reason == "" {
			reason = "payment rejected"
		}
		return nil, requirements, errors.New(reason)
	default:
		return nil, nil, errors.Newf("resource %s returned %d: %s", resourceURL, resp.StatusCode, body)
	}
}

func (m *Machine) recordPurchase(ctx context.Context, resourceURL string) {
	if m.recorder == nil {
		return
	}
	if err := m.recorder.RecordPurchase(ctx, resourceURL); err != nil {
		m.logger.Warn("purchase recording failed",
			"url", resourceURL,
			"error", err)
	}
}
