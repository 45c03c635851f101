package identity

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
)

// ENS resolves addresses through an ENS reverse-lookup HTTP API
// (GET {base}/{address} returning the primary name and avatar).
type ENS struct {
	baseURL    string
	httpClient *http.Client
}

// NewENS creates an ENS resolver.
func NewENS(baseURL string) *ENS {
	return &ENS{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Resolve looks up the address's primary ENS name. Addresses without one
// resolve to (nil, nil).
func (e *ENS) Resolve(ctx context.Context, address string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/"+address, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build ens request")
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "ens lookup")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.Newf("ens lookup returned %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		ENS    string `json:"ens"`
		Avatar string `json:"avatar"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.Wrap(err, "decode ens response")
	}
	if payload.ENS == "" {
		return nil, nil
	}
	return &Profile{
		Username:    payload.ENS,
		DisplayName: payload.ENS,
		AvatarURL:   payload.Avatar,
	}, nil
}
