package paywall

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ErrFacilitatorUnavailable marks transport-level facilitator failures, as
// opposed to the facilitator answering that a payment is invalid. The
// middleware maps marked errors to 503 so clients know to retry rather than
// re-sign.
var ErrFacilitatorUnavailable = errors.New("facilitator unavailable")

// ErrResourceNotFound marks Resolver errors that mean the slug is unknown,
// as opposed to the catalog store failing. Unknown slugs answer 404; store
// failures answer 500.
var ErrResourceNotFound = errors.New("resource not found")

// Facilitator verifies and settles payments against an external facilitator
// service.
type Facilitator interface {
	Verify(ctx context.Context, req *VerifyRequest) (*VerifyResponse, error)
	Settle(ctx context.Context, req *SettleRequest) (*SettleResponse, error)
}

// Pricing is the payment terms for one gated resource, resolved fresh on
// every request so catalog edits take effect without a restart.
type Pricing struct {
	Amount      string
	PayTo       string
	Network     Network
	Description string
	MimeType    string
}

// Resolver supplies per-request resource lookups for the middleware.
type Resolver interface {
	// Exists reports whether the slug names a known resource. A non-nil
	// error means the catalog itself could not answer.
	Exists(slug string) (bool, error)
	// Pricing returns the payment terms for the slug. Unknown slugs are
	// marked with ErrResourceNotFound.
	Pricing(slug string) (*Pricing, error)
}

// VerifiedPayment is placed in the request context once the facilitator has
// accepted a payment, for handlers and logging downstream.
type VerifiedPayment struct {
	Payer  string
	Slug   string
	Amount string
	PayTo  string
}

const paymentContextKey = "paywall.payment"

// PaymentFromContext returns the verified payment for the request, if any.
func PaymentFromContext(c *gin.Context) (*VerifiedPayment, bool) {
	v, ok := c.Get(paymentContextKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*VerifiedPayment)
	return p, ok
}

// Config configures the payment middleware.
type Config struct {
	Resolver    Resolver
	Facilitator Facilitator
	Settlements *SettlementCache

	// PlatformFee gates the publish endpoint. Nil leaves publishing free.
	PlatformFee *Pricing

	// BaseURL prefixes resource URLs in challenge bodies.
	BaseURL string

	// MaxTimeoutSeconds is advertised in challenges as the window within
	// which the payment authorization must remain valid. Defaults to 300.
	MaxTimeoutSeconds int

	// SettleTimeout bounds each settlement call. Defaults to 30s.
	SettleTimeout time.Duration

	// OnSettleFailure is invoked when a payment verified but settlement
	// failed after the response was already served. Optional.
	OnSettleFailure func(slug, payer string, err error)

	Logger *slog.Logger
}

// Middleware returns a gin middleware that gates protected resources behind
// x402 payment challenges. Requests are classified on every call; protected
// requests without a valid X-PAYMENT header receive a 402 challenge, and
// verified requests are served immediately with settlement submitted
// asynchronously.
func Middleware(cfg Config) gin.HandlerFunc {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxTimeoutSeconds == 0 {
		cfg.MaxTimeoutSeconds = 300
	}
	if cfg.SettleTimeout == 0 {
		cfg.SettleTimeout = 30 * time.Second
	}
	if cfg.Settlements == nil {
		cfg.Settlements = NewSettlementCache(10 * time.Minute)
	}

	return func(c *gin.Context) {
		// Classify stays pure; a catalog failure during the lookup is
		// captured here and answered as an infrastructure error, never as
		// "not found".
		var lookupErr error
		decision := Classify(c.Request.Method, c.Request.URL.Path, func(slug string) bool {
			ok, err := cfg.Resolver.Exists(slug)
			if err != nil {
				lookupErr = err
			}
			return ok
		})
		if lookupErr != nil {
			cfg.Logger.Error("catalog lookup failed",
				"path", c.Request.URL.Path,
				"error", lookupErr)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "internal server error",
			})
			return
		}

		switch decision.Kind {
		case DecisionPassThrough:
			c.Next()
			return
		case DecisionNotFound:
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"error": "article not found",
			})
			return
		}

		pricing, err := resolvePricing(cfg, decision)
		if err != nil {
			if errors.Is(err, ErrResourceNotFound) {
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
					"error": "article not found",
				})
				return
			}
			cfg.Logger.Error("pricing resolution failed",
				"slug", decision.Slug,
				"error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "internal server error",
			})
			return
		}
		if pricing == nil {
			// Publishing without a configured platform fee is open.
			c.Next()
			return
		}

		requirements, err := buildRequirements(cfg, c, pricing)
		if err != nil {
			cfg.Logger.Error("challenge construction failed",
				"slug", decision.Slug,
				"error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "internal server error",
			})
			return
		}
		resource := &ResourceInfo{
			URL:         cfg.BaseURL + c.Request.URL.Path,
			Description: pricing.Description,
			MimeType:    pricing.MimeType,
		}

		header := c.GetHeader(HeaderPayment)
		if header == "" {
			challenge(c, resource, requirements, "")
			return
		}

		payload, err := DecodePaymentHeader(header)
		if err != nil {
			challenge(c, resource, requirements, "invalid payment header")
			return
		}
		if !payload.Accepted.Binds(requirements) {
			// The price or payee changed since the client fetched its
			// challenge. A fresh challenge lets it rebuild the proof.
			challenge(c, resource, requirements, "payment requirements mismatch")
			return
		}

		verifyResp, err := cfg.Facilitator.Verify(c.Request.Context(), &VerifyRequest{
			X402Version:         ProtocolVersion,
			PaymentPayload:      *payload,
			PaymentRequirements: requirements,
		})
		if err != nil {
			if errors.Is(err, ErrFacilitatorUnavailable) {
				cfg.Logger.Error("facilitator unreachable during verify",
					"slug", decision.Slug,
					"error", err)
				c.Header("Retry-After", "10")
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error": "payment verification temporarily unavailable",
				})
				return
			}
			// Verification internals stay in the log, off the surface.
			cfg.Logger.Error("payment verification failed",
				"slug", decision.Slug,
				"error", err)
			challenge(c, resource, requirements, "payment verification failed")
			return
		}
		if !verifyResp.IsValid {
			cfg.Logger.Info("payment declined",
				"slug", decision.Slug,
				"reason", verifyResp.InvalidReason)
			challenge(c, resource, requirements, verifyResp.InvalidReason)
			return
		}

		c.Set(paymentContextKey, &VerifiedPayment{
			Payer:  verifyResp.Payer,
			Slug:   decision.Slug,
			Amount: requirements.Amount,
			PayTo:  requirements.PayTo,
		})

		// Idempotent retries of an already-settled payment get the receipt
		// attached to the response.
		key := SettlementKey([]byte(header))
		if cached := cfg.Settlements.Get(key); cached != nil {
			if encoded, err := EncodeSettleResponseHeader(*cached); err == nil {
				c.Header(HeaderPaymentResponse, encoded)
			}
		}

		c.Next()

		if c.Writer.Status() >= 400 {
			return
		}
		settleAsync(cfg, key, decision.Slug, verifyResp.Payer, payload, requirements)
	}
}

func resolvePricing(cfg Config, decision Decision) (*Pricing, error) {
	if decision.Kind == DecisionPlatformFee {
		return cfg.PlatformFee, nil
	}
	return cfg.Resolver.Pricing(decision.Slug)
}

func buildRequirements(cfg Config, c *gin.Context, p *Pricing) (PaymentRequirements, error) {
	asset, err := p.Network.USDCAsset()
	if err != nil {
		return PaymentRequirements{}, err
	}
	return PaymentRequirements{
		Scheme:            SchemeExact,
		Network:           p.Network,
		Asset:             asset,
		Amount:            p.Amount,
		PayTo:             p.PayTo,
		MaxTimeoutSeconds: cfg.MaxTimeoutSeconds,
		Extra: map[string]interface{}{
			"requestId":   uuid.NewString(),
			"description": p.Description,
		},
	}, nil
}

func challenge(c *gin.Context, resource *ResourceInfo, requirements PaymentRequirements, reason string) {
	c.AbortWithStatusJSON(http.StatusPaymentRequired, PaymentRequired{
		X402Version: ProtocolVersion,
		Error:       reason,
		Resource:    resource,
		Accepts:     []PaymentRequirements{requirements},
	})
}

// settleAsync submits settlement after the response has been served. The
// settlement cache ensures each authorization is submitted at most once even
// when the client retries the request. Failures after a served response are
// reported through OnSettleFailure for reconciliation.
func settleAsync(cfg Config, key, slug, payer string, payload *PaymentPayload, requirements PaymentRequirements) {
	if !cfg.Settlements.Begin(key) {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.SettleTimeout)
		defer cancel()

		resp, err := cfg.Facilitator.Settle(ctx, &SettleRequest{
			X402Version:         ProtocolVersion,
			PaymentPayload:      *payload,
			PaymentRequirements: requirements,
		})
		if err == nil && !resp.Success {
			err = NewPaymentError(ErrCodeSettlementFailed, resp.ErrorReason, nil)
		}
		if err != nil {
			cfg.Settlements.Fail(key)
			cfg.Logger.Error("settlement failed after response served",
				"slug", slug,
				"payer", payer,
				"error", err)
			if cfg.OnSettleFailure != nil {
				cfg.OnSettleFailure(slug, payer, err)
			}
			return
		}

		cfg.Settlements.Complete(key, resp)
		cfg.Logger.Info("payment settled",
			"slug", slug,
			"payer", resp.Payer,
			"transaction", resp.Transaction,
			"network", resp.Network)
	}()
}
