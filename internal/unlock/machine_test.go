package unlock

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basedotnews/basepost/internal/paywall"
)

const (
	testAuthor = "0x2222222222222222222222222222222222222222"
	testAsset  = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
)

// fakeClock releases every wait immediately and records the requested
// durations.
type fakeClock struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func (c *fakeClock) recorded() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

// blockedClock never fires, for cancellation tests.
type blockedClock struct{}

func (blockedClock) After(time.Duration) <-chan time.Time {
	return make(chan time.Time)
}

// firstOnlyClock fires its first wait immediately and blocks all later ones.
type firstOnlyClock struct {
	mu    sync.Mutex
	calls int
}

func (c *firstOnlyClock) After(time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls == 1 {
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}
	return make(chan time.Time)
}

// afterFirstClock blocks its first wait and fires all later ones.
type afterFirstClock struct {
	mu    sync.Mutex
	calls int
}

func (c *afterFirstClock) After(time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls == 1 {
		return make(chan time.Time)
	}
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func testRequirements(amount string) paywall.PaymentRequirements {
	return paywall.PaymentRequirements{
		Scheme:            paywall.SchemeExact,
		Network:           paywall.NetworkBaseSepolia,
		Asset:             testAsset,
		Amount:            amount,
		PayTo:             testAuthor,
		MaxTimeoutSeconds: 300,
	}
}

func writeChallenge(w http.ResponseWriter, reason, amount string) {
	w.WriteHeader(http.StatusPaymentRequired)
	json.NewEncoder(w).Encode(paywall.PaymentRequired{
		X402Version: paywall.ProtocolVersion,
		Error:       reason,
		Accepts:     []paywall.PaymentRequirements{testRequirements(amount)},
	})
}

// trackingBuilder records the requirements each proof was bound to.
type trackingBuilder struct {
	mu    sync.Mutex
	bound []paywall.PaymentRequirements
}

func (b *trackingBuilder) Build(_ context.Context, requirements paywall.PaymentRequirements) (*paywall.PaymentPayload, error) {
	b.mu.Lock()
	b.bound = append(b.bound, requirements)
	b.mu.Unlock()
	return &paywall.PaymentPayload{
		X402Version: paywall.ProtocolVersion,
		Payload:     map[string]interface{}{"signature": "0xsigned"},
		Accepted:    requirements,
	}, nil
}

func (b *trackingBuilder) builds() []paywall.PaymentRequirements {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]paywall.PaymentRequirements(nil), b.bound...)
}

type stubRecorder struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (r *stubRecorder) RecordPurchase(_ context.Context, resourceURL string) error {
	r.mu.Lock()
	r.urls = append(r.urls, resourceURL)
	r.mu.Unlock()
	return r.err
}

func TestUnlockFirstAttemptSucceeds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(paywall.HeaderPayment) == "" {
			writeChallenge(w, "", "3000")
			return
		}
		w.Write([]byte("the full article"))
	}))
	defer server.Close()

	clock := &fakeClock{}
	builder := &trackingBuilder{}
	recorder := &stubRecorder{}
	machine := New(builder, WithClock(clock), WithRecorder(recorder))

	result, err := machine.Unlock(context.Background(), server.URL+"/resources/intro-to-defi")
	require.NoError(t, err)
	assert.Equal(t, "the full article", string(result.Content))
	assert.Equal(t, 1, result.Attempts)
	assert.Empty(t, clock.recorded(), "no backoff on first success")

	require.Len(t, builder.builds(), 1)
	assert.Equal(t, "3000", builder.builds()[0].Amount)

	require.Len(t, recorder.urls, 1)
	assert.Equal(t, server.URL+"/resources/intro-to-defi", recorder.urls[0])
}

func TestUnlockRetryExhaustion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(paywall.HeaderPayment) == "" {
			writeChallenge(w, "", "3000")
			return
		}
		http.Error(w, "payment verification temporarily unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	clock := &fakeClock{}
	builder := &trackingBuilder{}
	machine := New(builder, WithClock(clock))

	_, err := machine.Unlock(context.Background(), server.URL+"/resources/intro-to-defi")
	require.Error(t, err)
	assert.ErrorContains(t, err, "503")

	assert.Len(t, builder.builds(), 5, "exactly five paid attempts")
	assert.Equal(t, []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
	}, clock.recorded())
}

func TestUnlockBudgetClampedToOneAttempt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeChallenge(w, "declined", "3000")
	}))
	defer server.Close()

	builder := &trackingBuilder{}
	machine := New(builder, WithClock(&fakeClock{}), WithMaxRetries(0))

	result, err := machine.Unlock(context.Background(), server.URL+"/resources/intro-to-defi")
	require.Error(t, err, "a zero budget still makes one attempt and reports its failure")
	assert.Nil(t, result)
	assert.Len(t, builder.builds(), 1)
}

func TestUnlockLastErrorSurfacedVerbatim(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(paywall.HeaderPayment) == "" {
			writeChallenge(w, "", "3000")
			return
		}
		writeChallenge(w, "authorization nonce already used", "3000")
	}))
	defer server.Close()

	machine := New(&trackingBuilder{}, WithClock(&fakeClock{}), WithMaxRetries(2))

	_, err := machine.Unlock(context.Background(), server.URL+"/resources/intro-to-defi")
	require.Error(t, err)
	assert.Equal(t, "authorization nonce already used", err.Error())
}

func TestUnlockRebindsProofToFreshChallenge(t *testing.T) {
	// The price changes underneath the client: each re-challenge advertises
	// the new amount and the next proof must bind to it.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(paywall.HeaderPayment) == "" {
			writeChallenge(w, "", "3000")
			return
		}
		payload, err := paywall.DecodePaymentHeader(r.Header.Get(paywall.HeaderPayment))
		if err != nil || payload.Accepted.Amount != "4000" {
			writeChallenge(w, "payment requirements mismatch", "4000")
			return
		}
		w.Write([]byte("the full article"))
	}))
	defer server.Close()

	builder := &trackingBuilder{}
	machine := New(builder, WithClock(&fakeClock{}))

	result, err := machine.Unlock(context.Background(), server.URL+"/resources/intro-to-defi")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Attempts)

	builds := builder.builds()
	require.Len(t, builds, 2)
	assert.Equal(t, "3000", builds[0].Amount)
	assert.Equal(t, "4000", builds[1].Amount, "fresh proof binds to the new terms")
}

func TestUnlockCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeChallenge(w, "declined", "3000")
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	machine := New(&trackingBuilder{}, WithClock(blockedClock{}))

	done := make(chan error, 1)
	go func() {
		_, err := machine.Unlock(ctx, server.URL+"/resources/intro-to-defi")
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("unlock did not observe cancellation")
	}
}

type stubFunder struct {
	txHash string
	err    error
	calls  int
}

func (f *stubFunder) EnsureFunds(context.Context, string, paywall.Network) (string, error) {
	f.calls++
	return f.txHash, f.err
}

func TestUnlockInsufficientFundsIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeChallenge(w, "", "3000")
	}))
	defer server.Close()

	builder := &trackingBuilder{}
	funder := &stubFunder{err: ErrInsufficientFunds}
	machine := New(builder,
		WithClock(&fakeClock{}),
		WithFunder(funder, FixedDelay{Clock: &fakeClock{}}))

	_, err := machine.Unlock(context.Background(), server.URL+"/resources/intro-to-defi")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientFunds))
	assert.Empty(t, builder.builds(), "no proof is built without funds")
}

func TestUnlockWaitsForFundingConfirmation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(paywall.HeaderPayment) == "" {
			writeChallenge(w, "", "3000")
			return
		}
		w.Write([]byte("the full article"))
	}))
	defer server.Close()

	confirmClock := &fakeClock{}
	funder := &stubFunder{txHash: "0xfund"}
	machine := New(&trackingBuilder{},
		WithClock(&fakeClock{}),
		WithFunder(funder, FixedDelay{Clock: confirmClock}))

	_, err := machine.Unlock(context.Background(), server.URL+"/resources/intro-to-defi")
	require.NoError(t, err)
	assert.Equal(t, 1, funder.calls)
	assert.Equal(t, []time.Duration{DefaultConfirmationDelay}, confirmClock.recorded())
}

func TestUnlockFreeResource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("free content"))
	}))
	defer server.Close()

	builder := &trackingBuilder{}
	machine := New(builder, WithClock(&fakeClock{}))

	result, err := machine.Unlock(context.Background(), server.URL+"/free")
	require.NoError(t, err)
	assert.Equal(t, "free content", string(result.Content))
	assert.Empty(t, builder.builds())
}

func TestUnlockSucceedsEvenWhenRecordingFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(paywall.HeaderPayment) == "" {
			writeChallenge(w, "", "3000")
			return
		}
		w.Write([]byte("the full article"))
	}))
	defer server.Close()

	recorder := &stubRecorder{err: errors.New("records endpoint down")}
	machine := New(&trackingBuilder{}, WithClock(&fakeClock{}), WithRecorder(recorder))

	result, err := machine.Unlock(context.Background(), server.URL+"/resources/intro-to-defi")
	require.NoError(t, err, "recording is best effort")
	assert.Equal(t, "the full article", string(result.Content))
}

func TestPollReceiptConfirms(t *testing.T) {
	// The deadline (first wait) blocks; interval waits fire immediately.
	var checks int
	strategy := PollReceipt{
		Check: func(context.Context, string) (bool, error) {
			checks++
			return checks >= 3, nil
		},
		Clock: &afterFirstClock{},
	}

	require.NoError(t, strategy.WaitConfirmed(context.Background(), "0xfund"))
	assert.Equal(t, 3, checks)
}

func TestPollReceiptTimesOut(t *testing.T) {
	// Only the first wait (the deadline) ever fires; interval waits block.
	strategy := PollReceipt{
		Check: func(context.Context, string) (bool, error) {
			return false, nil
		},
		Clock: &firstOnlyClock{},
	}

	err := strategy.WaitConfirmed(context.Background(), "0xfund")
	require.Error(t, err)
	assert.ErrorContains(t, err, "not confirmed")
}