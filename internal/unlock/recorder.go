package unlock

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
)

// HTTPRecorder reports purchases to the service's purchase endpoint
// (POST {resource}/purchase).
type HTTPRecorder struct {
	// BuyerAddress is the buyer's universal wallet address.
	BuyerAddress string
	// PayerAddress is the address that signed the payment, when it differs
	// from the buyer (sub-account setups).
	PayerAddress string
	Username     string
	DisplayName  string
	AvatarURL    string

	HTTPClient *http.Client
}

func (r *HTTPRecorder) client() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// RecordPurchase posts the purchase report.
func (r *HTTPRecorder) RecordPurchase(ctx context.Context, resourceURL string) error {
	payer := r.PayerAddress
	if payer == "" {
		payer = r.BuyerAddress
	}
	body, err := json.Marshal(map[string]string{
		"buyerAddress": r.BuyerAddress,
		"payerAddress": payer,
		"username":     r.Username,
		"displayName":  r.DisplayName,
		"avatarUrl":    r.AvatarURL,
	})
	if err != nil {
		return errors.Wrap(err, "encode purchase report")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		resourceURL+"/purchase", bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build purchase report")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client().Do(req)
	if err != nil {
		return errors.Wrap(err, "post purchase report")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Newf("purchase report returned %d: %s", resp.StatusCode, respBody)
	}
	return nil
}
