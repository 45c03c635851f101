package unlock

import (
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/basedotnews/basepost/internal/paywall"
)

// parseChallenge extracts usable payment terms from a 402 response body,
// preferring the exact-transfer scheme.
func parseChallenge(body []byte) (*paywall.PaymentRequirements, error) {
	var challenge paywall.PaymentRequired
	if err := json.Unmarshal(body, &challenge); err != nil {
		return nil, errors.Wrap(err, "decode payment challenge")
	}
	if len(challenge.Accepts) == 0 {
		return nil, errors.New("payment challenge offers no payment options")
	}

	for _, requirements := range challenge.Accepts {
		if requirements.Scheme == paywall.SchemeExact {
			if err := paywall.ValidatePaymentRequirements(requirements); err != nil {
				return nil, errors.Wrap(err, "challenge requirements")
			}
			return &requirements, nil
		}
	}
	return nil, errors.Newf("no supported payment scheme in challenge (offered %d)", len(challenge.Accepts))
}

// challengeReason pulls the server's rejection reason out of a 402 body.
func challengeReason(body []byte) string {
	var challenge paywall.PaymentRequired
	if err := json.Unmarshal(body, &challenge); err != nil {
		return ""
	}
	return challenge.Error
}
