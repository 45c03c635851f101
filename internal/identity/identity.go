// Package identity resolves a wallet address into a displayable author
// profile. Resolvers are tried in order; the last one in a chain should be
// Truncated, which always answers with a shortened address.
package identity

import (
	"context"
	"log/slog"
)

// Profile is a displayable identity for a wallet address.
type Profile struct {
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Resolver maps an address to a profile. A (nil, nil) return means the
// resolver has no answer for this address; errors mean the lookup itself
// failed. Both let a chain move on to the next resolver.
type Resolver interface {
	Resolve(ctx context.Context, address string) (*Profile, error)
}

// Chain tries resolvers in order until one answers. Lookup failures are
// logged and skipped; they never fail the chain.
type Chain struct {
	resolvers []Resolver
	logger    *slog.Logger
}

// NewChain builds a resolver chain.
func NewChain(logger *slog.Logger, resolvers ...Resolver) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{resolvers: resolvers, logger: logger}
}

// Resolve returns the first answer in the chain, or (nil, nil) when no
// resolver answers.
func (c *Chain) Resolve(ctx context.Context, address string) (*Profile, error) {
	for _, r := range c.resolvers {
		profile, err := r.Resolve(ctx, address)
		if err != nil {
			c.logger.Warn("identity lookup failed",
				"address", address,
				"error", err)
			continue
		}
		if profile != nil {
			return profile, nil
		}
	}
	return nil, nil
}

// Truncated always answers with a shortened form of the address itself
// ("0x1234…abcd"). Place it last in a chain as the fallback.
type Truncated struct{}

func (Truncated) Resolve(_ context.Context, address string) (*Profile, error) {
	short := TruncateAddress(address)
	return &Profile{Username: short, DisplayName: short}, nil
}

// TruncateAddress shortens an address to its first six and last four
// characters.
func TruncateAddress(address string) string {
	if len(address) <= 10 {
		return address
	}
	return address[:6] + "…" + address[len(address)-4:]
}
