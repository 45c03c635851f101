package paywall

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
)

// Payment proof transport headers. The header value is a base64-encoded JSON
// PaymentPayload; the signed authorization inside it is opaque to this service.
const (
	HeaderPayment         = "X-PAYMENT"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
)

var base64Regex = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

// EncodePaymentHeader encodes a payment payload for the X-PAYMENT header.
func EncodePaymentHeader(payload PaymentPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentHeader validates and decodes an X-PAYMENT header value.
// It checks base64 format, JSON structure and the payload's required fields,
// returning a descriptive error for each failure mode.
func DecodePaymentHeader(header string) (*PaymentPayload, error) {
	if header == "" {
		return nil, fmt.Errorf("payment header is empty")
	}
	if !base64Regex.MatchString(header) {
		return nil, fmt.Errorf("invalid payment header format: not valid base64")
	}

	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("invalid payment header format: base64 decoding failed - %v", err)
	}

	var payload PaymentPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, fmt.Errorf("invalid payment header format: not valid JSON - %v", err)
	}
	if err := ValidatePaymentPayload(payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// EncodeSettleResponseHeader encodes a settlement response for the
// X-PAYMENT-RESPONSE header.
func EncodeSettleResponseHeader(resp SettleResponse) (string, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settle response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeSettleResponseHeader decodes an X-PAYMENT-RESPONSE header value.
func DecodeSettleResponseHeader(header string) (SettleResponse, error) {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return SettleResponse{}, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	var resp SettleResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return SettleResponse{}, fmt.Errorf("invalid settle response JSON: %w", err)
	}
	return resp, nil
}
