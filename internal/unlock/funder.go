package unlock

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/basedotnews/basepost/internal/paywall"
)

// ErrInsufficientFunds is returned by a Funder when the wallet cannot cover
// the payment. It is terminal: retrying cannot create funds.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Funder moves spendable balance to the payer wallet before an unlock, for
// setups where the paying key is a sub-account topped up on demand. The
// returned transaction hash is empty when no transfer was needed.
type Funder interface {
	EnsureFunds(ctx context.Context, amount string, network paywall.Network) (txHash string, err error)
}

// ConfirmationStrategy waits until a funding transfer is spendable.
type ConfirmationStrategy interface {
	WaitConfirmed(ctx context.Context, txHash string) error
}

// DefaultConfirmationDelay is how long FixedDelay waits by default. Base
// blocks land in about two seconds; three covers a missed slot.
const DefaultConfirmationDelay = 3 * time.Second

// FixedDelay confirms by waiting a flat duration. Simple and good enough for
// low-value content payments.
type FixedDelay struct {
	Delay time.Duration
	Clock Clock
}

func (f FixedDelay) WaitConfirmed(ctx context.Context, _ string) error {
	delay := f.Delay
	if delay == 0 {
		delay = DefaultConfirmationDelay
	}
	clock := f.Clock
	if clock == nil {
		clock = realClock{}
	}
	select {
	case <-clock.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PollReceipt confirms by polling a receipt check until it reports the
// transaction mined, for callers that cannot tolerate the flat-delay guess.
type PollReceipt struct {
	// Check reports whether the transaction is confirmed.
	Check    func(ctx context.Context, txHash string) (bool, error)
	Interval time.Duration
	MaxWait  time.Duration
	Clock    Clock
}

func (p PollReceipt) WaitConfirmed(ctx context.Context, txHash string) error {
	interval := p.Interval
	if interval == 0 {
		interval = time.Second
	}
	maxWait := p.MaxWait
	if maxWait == 0 {
		maxWait = 30 * time.Second
	}
	clock := p.Clock
	if clock == nil {
		clock = realClock{}
	}

	deadline := clock.After(maxWait)
	for {
		confirmed, err := p.Check(ctx, txHash)
		if err != nil {
			return errors.Wrapf(err, "check receipt for %s", txHash)
		}
		if confirmed {
			return nil
		}

		select {
		case <-clock.After(interval):
		case <-deadline:
			return errors.Newf("transaction %s not confirmed within %s", txHash, maxWait)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
