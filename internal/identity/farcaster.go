package identity

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Farcaster resolves addresses through a Farcaster indexer's bulk
// user-by-address endpoint.
type Farcaster struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewFarcaster creates a Farcaster resolver. baseURL is the indexer API root.
func NewFarcaster(baseURL, apiKey string) *Farcaster {
	return &Farcaster{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

type farcasterUser struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	PfpURL      string `json:"pfp_url"`
}

// Resolve looks the address up. Addresses unknown to the indexer resolve to
// (nil, nil).
func (f *Farcaster) Resolve(ctx context.Context, address string) (*Profile, error) {
	endpoint := f.baseURL + "/v2/farcaster/user/bulk-by-address?addresses=" +
		url.QueryEscape(strings.ToLower(address))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build farcaster request")
	}
	if f.apiKey != "" {
		req.Header.Set("x-api-key", f.apiKey)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "farcaster lookup")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.Newf("farcaster lookup returned %d: %s", resp.StatusCode, body)
	}

	// The bulk endpoint keys results by lowercase address.
	var payload map[string][]farcasterUser
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.Wrap(err, "decode farcaster response")
	}

	users := payload[strings.ToLower(address)]
	if len(users) == 0 {
		return nil, nil
	}
	return &Profile{
		Username:    users[0].Username,
		DisplayName: users[0].DisplayName,
		AvatarURL:   users[0].PfpURL,
	}, nil
}
