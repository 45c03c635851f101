package catalog

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrNotFound is returned when no article carries the requested slug.
var ErrNotFound = errors.New("article not found")

// DefaultTTL bounds how stale a cached catalog snapshot may get before the
// next read reloads it from the store.
const DefaultTTL = 5 * time.Second

// Catalog serves article lookups from an in-memory snapshot of the store,
// refreshed when the TTL lapses or Invalidate is called. Reads are served
// concurrently; a refresh swaps the whole snapshot under the write lock.
type Catalog struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger

	mu       sync.RWMutex
	bySlug   map[string]Article
	ordered  []Article
	loadedAt time.Time
	stale    bool

	// publishMu serializes writers so concurrent publishes cannot lose
	// each other's articles in the load-append-save cycle.
	publishMu sync.Mutex
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithTTL overrides the snapshot TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Catalog) { c.ttl = ttl }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) { c.logger = logger }
}

// New creates a catalog over the store. The first read loads the snapshot.
func New(store Store, opts ...Option) *Catalog {
	c := &Catalog{
		store:  store,
		ttl:    DefaultTTL,
		logger: slog.Default(),
		stale:  true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns the article with the given slug, including its body.
// Returns ErrNotFound when the slug is unknown.
func (c *Catalog) Resolve(slug string) (*Article, error) {
	if err := c.ensureFresh(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	article, ok := c.bySlug[slug]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "slug %q", slug)
	}
	return &article, nil
}

// Exists reports whether the slug names a known article. A store failure is
// an error, not "unknown": callers must answer it as an infrastructure
// failure rather than a missing article.
func (c *Catalog) Exists(slug string) (bool, error) {
	if err := c.ensureFresh(); err != nil {
		return false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.bySlug[slug]
	return ok, nil
}

// List returns all articles newest first, bodies stripped.
func (c *Catalog) List() ([]Article, error) {
	if err := c.ensureFresh(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Article, 0, len(c.ordered))
	for i := len(c.ordered) - 1; i >= 0; i-- {
		out = append(out, c.ordered[i].WithoutBody())
	}
	return out, nil
}

// Slugs returns the slugs of all articles, newest first.
func (c *Catalog) Slugs() ([]string, error) {
	articles, err := c.List()
	if err != nil {
		return nil, err
	}
	slugs := make([]string, len(articles))
	for i, a := range articles {
		slugs[i] = a.Slug
	}
	return slugs, nil
}

// Invalidate marks the snapshot stale so the next read reloads from the
// store, regardless of TTL.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.stale = true
	c.mu.Unlock()
}

// Publish validates and persists a new article and invalidates the snapshot.
// The slug is derived from the title and de-duplicated against the store.
// Returns the assigned slug.
func (c *Catalog) Publish(article Article) (string, error) {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	articles, err := c.store.Load()
	if err != nil {
		return "", errors.Wrap(err, "load catalog for publish")
	}

	taken := make(map[string]struct{}, len(articles))
	for _, a := range articles {
		taken[a.Slug] = struct{}{}
	}

	if article.Slug == "" {
		article.Slug = Slugify(article.Title)
	}
	base := article.Slug
	for n := 2; ; n++ {
		if _, ok := taken[article.Slug]; !ok {
			break
		}
		article.Slug = base + "-" + strconv.Itoa(n)
	}

	if article.PublishedAt.IsZero() {
		article.PublishedAt = time.Now().UTC()
	}
	if err := article.Validate(); err != nil {
		return "", err
	}

	if err := c.store.Save(append(articles, article)); err != nil {
		return "", errors.Wrap(err, "save catalog")
	}
	c.Invalidate()

	c.logger.Info("article published",
		"slug", article.Slug,
		"author", article.AuthorAddress,
		"price", article.Price)
	return article.Slug, nil
}

func (c *Catalog) ensureFresh() error {
	c.mu.RLock()
	fresh := !c.stale && time.Since(c.loadedAt) < c.ttl
	c.mu.RUnlock()
	if fresh {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stale && time.Since(c.loadedAt) < c.ttl {
		return nil
	}

	articles, err := c.store.Load()
	if err != nil {
		return errors.Wrap(err, "refresh catalog")
	}

	bySlug := make(map[string]Article, len(articles))
	for _, a := range articles {
		bySlug[a.Slug] = a
	}
	c.bySlug = bySlug
	c.ordered = articles
	c.loadedAt = time.Now()
	c.stale = false
	return nil
}
