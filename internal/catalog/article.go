// Package catalog holds the article catalog: a file-backed store wrapped in a
// short TTL cache with explicit invalidation from the publish path.
package catalog

import (
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"

	"github.com/basedotnews/basepost/internal/paywall"
)

// Article is one payable piece of content. Body is only delivered through the
// paywalled content endpoint; everywhere else the article travels without it.
type Article struct {
	Slug              string    `json:"slug"`
	Title             string    `json:"title"`
	Teaser            string    `json:"teaser,omitempty"`
	Body              string    `json:"body,omitempty"`
	ImageURL          string    `json:"imageUrl,omitempty"`
	Price             string    `json:"price"`
	AuthorAddress     string    `json:"authorAddress"`
	AuthorUsername    string    `json:"authorUsername,omitempty"`
	AuthorDisplayName string    `json:"authorDisplayName,omitempty"`
	AuthorAvatarURL   string    `json:"authorAvatarUrl,omitempty"`
	PublishedAt       time.Time `json:"publishedAt"`
}

// Validate checks the invariants every stored article must hold: a slug, a
// title, a positive USDC price and a well-formed author payout address.
func (a Article) Validate() error {
	if a.Slug == "" {
		return errors.New("article slug is required")
	}
	if a.Title == "" {
		return errors.New("article title is required")
	}
	if _, err := paywall.ParseMoney(a.Price); err != nil {
		return errors.Wrapf(err, "article %q price", a.Slug)
	}
	if !common.IsHexAddress(a.AuthorAddress) {
		return errors.Newf("article %q author address is not a valid address: %s",
			a.Slug, a.AuthorAddress)
	}
	return nil
}

// WithoutBody returns a copy safe for listings and stats responses.
func (a Article) WithoutBody() Article {
	a.Body = ""
	return a
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify derives a URL slug from an article title.
func Slugify(title string) string {
	slug := strings.ToLower(strings.TrimSpace(title))
	slug = slugStrip.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 80 {
		slug = strings.Trim(slug[:80], "-")
	}
	if slug == "" {
		slug = "untitled"
	}
	return slug
}
