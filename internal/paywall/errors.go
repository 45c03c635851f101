package paywall

import "fmt"

// PaymentError represents a payment-specific error.
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes.
const (
	ErrCodeInvalidPayment    = "invalid_payment"
	ErrCodePaymentRequired   = "payment_required"
	ErrCodePaymentDeclined   = "payment_declined"
	ErrCodeSettlementFailed  = "settlement_failed"
	ErrCodeUnsupportedScheme = "unsupported_scheme"
	ErrCodeInvalidAmount     = "invalid_amount"
)

// NewPaymentError creates a new payment error.
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}
