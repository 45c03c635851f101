// Package paywall implements the x402 payment-challenge router: wire types,
// request classification, the gin middleware that gates protected resources
// behind HTTP 402, and the settlement idempotency cache.
package paywall

import (
	"fmt"
	"strings"
)

// ProtocolVersion is the x402 protocol version this service speaks.
const ProtocolVersion = 1

// Scheme is the only payment scheme the service accepts: a transfer of the
// exact challenge amount to the payee.
const SchemeExact = "exact"

// Network represents a blockchain network identifier in CAIP-2 format
// (namespace:reference, e.g. "eip155:8453" for Base mainnet).
type Network string

const (
	NetworkBase        Network = "eip155:8453"
	NetworkBaseSepolia Network = "eip155:84532"
)

// ParseNetwork maps the human-readable network names used in configuration
// and article metadata onto CAIP-2 identifiers. CAIP-2 input passes through.
func ParseNetwork(s string) (Network, error) {
	switch s {
	case "base":
		return NetworkBase, nil
	case "base-sepolia":
		return NetworkBaseSepolia, nil
	}
	if strings.Count(s, ":") == 1 {
		return Network(s), nil
	}
	return "", fmt.Errorf("unknown network: %s", s)
}

// Parse splits the network into namespace and reference components.
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.Split(string(n), ":")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid network format: %s", n)
	}
	return parts[0], parts[1], nil
}

// USDCAsset returns the USDC contract address for the network, the asset all
// challenges are denominated in.
func (n Network) USDCAsset() (string, error) {
	switch n {
	case NetworkBase:
		return "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", nil
	case NetworkBaseSepolia:
		return "0x036CbD53842c5426634e7929541eC2318f3dCF7e", nil
	}
	return "", fmt.Errorf("no USDC asset registered for network %s", n)
}

// PaymentRequirements defines what payment is acceptable for a resource.
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme"`
	Network           Network                `json:"network"`
	Asset             string                 `json:"asset"`
	Amount            string                 `json:"amount"`
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// Binds reports whether the requirement is bound to the same payment terms as
// other: scheme, network, asset, amount and payee all equal. Extra is excluded
// because it carries per-challenge metadata (request id, description).
func (r PaymentRequirements) Binds(other PaymentRequirements) bool {
	return r.Scheme == other.Scheme &&
		r.Network == other.Network &&
		r.Asset == other.Asset &&
		r.Amount == other.Amount &&
		strings.EqualFold(r.PayTo, other.PayTo)
}

// ResourceInfo describes the resource being accessed in challenge responses.
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

// PaymentPayload contains the signed payment authorization from a client.
// The payload map is the chain-specific signed authorization and is opaque to
// this service; only the facilitator interprets it.
type PaymentPayload struct {
	X402Version int                    `json:"x402Version"`
	Payload     map[string]interface{} `json:"payload"`
	Accepted    PaymentRequirements    `json:"accepted"`
	Resource    *ResourceInfo          `json:"resource,omitempty"`
}

// PaymentRequired is the 402 response body sent to clients.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error,omitempty"`
	Resource    *ResourceInfo         `json:"resource,omitempty"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// VerifyRequest contains the payment to verify.
type VerifyRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// VerifyResponse contains the verification result.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleRequest contains the payment to settle.
type SettleRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// SettleResponse contains the settlement result.
type SettleResponse struct {
	Success     bool    `json:"success"`
	ErrorReason string  `json:"errorReason,omitempty"`
	Payer       string  `json:"payer,omitempty"`
	Transaction string  `json:"transaction"`
	Network     Network `json:"network"`
}

// ValidatePaymentRequirements performs basic validation on payment requirements.
func ValidatePaymentRequirements(r PaymentRequirements) error {
	if r.Scheme == "" {
		return fmt.Errorf("payment scheme is required")
	}
	if r.Network == "" {
		return fmt.Errorf("payment network is required")
	}
	if r.Asset == "" {
		return fmt.Errorf("payment asset is required")
	}
	if r.Amount == "" {
		return fmt.Errorf("payment amount is required")
	}
	if r.PayTo == "" {
		return fmt.Errorf("payment recipient is required")
	}
	return nil
}

// ValidatePaymentPayload performs basic validation on a payment payload.
func ValidatePaymentPayload(p PaymentPayload) error {
	if p.X402Version != ProtocolVersion {
		return fmt.Errorf("unsupported x402 version: %d", p.X402Version)
	}
	if p.Payload == nil {
		return fmt.Errorf("payment payload is required")
	}
	return ValidatePaymentRequirements(p.Accepted)
}
