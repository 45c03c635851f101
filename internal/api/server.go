// Package api holds the REST handlers. Payment gating happens in the paywall
// middleware before these handlers run; here a request has either passed
// through freely or already carries a verified payment.
package api

import (
	"log/slog"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"github.com/basedotnews/basepost/internal/catalog"
	"github.com/basedotnews/basepost/internal/identity"
	"github.com/basedotnews/basepost/internal/paywall"
	"github.com/basedotnews/basepost/internal/records"
)

// Server wires handlers to their dependencies.
type Server struct {
	catalog    *catalog.Catalog
	records    *records.Store
	identities *identity.Chain
	network    paywall.Network
	uploadsDir string
	logger     *slog.Logger
}

// New creates the handler set.
func New(cat *catalog.Catalog, recs *records.Store, ids *identity.Chain, network paywall.Network, uploadsDir string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		catalog:    cat,
		records:    recs,
		identities: ids,
		network:    network,
		uploadsDir: uploadsDir,
		logger:     logger,
	}
}

// RegisterRoutes attaches all routes to the engine. The paywall middleware
// must already be installed on the engine.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)

	r.GET("/resources", s.listArticles)
	r.GET("/resources/stats", s.bulkStats)
	r.GET("/resources/:slug", s.articleContent)
	r.GET("/resources/:slug/stats", s.articleStats)
	r.POST("/resources/:slug/purchase", s.recordPurchase)
	r.POST("/resources/:slug/rating", s.recordRating)
	r.GET("/resources/:slug/rating", s.userRating)

	r.POST("/publish", s.publish)

	if s.uploadsDir != "" {
		r.Static("/uploads", s.uploadsDir)
	}
}

// PaywallResolver adapts the catalog to the paywall middleware: each request
// resolves the article fresh so price or payee edits take effect immediately.
type PaywallResolver struct {
	Catalog *catalog.Catalog
	Network paywall.Network
}

func (r *PaywallResolver) Exists(slug string) (bool, error) {
	return r.Catalog.Exists(slug)
}

func (r *PaywallResolver) Pricing(slug string) (*paywall.Pricing, error) {
	article, err := r.Catalog.Resolve(slug)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, errors.Mark(err, paywall.ErrResourceNotFound)
		}
		return nil, err
	}
	amount, err := paywall.ParseMoney(article.Price)
	if err != nil {
		return nil, err
	}
	return &paywall.Pricing{
		Amount:      amount,
		PayTo:       article.AuthorAddress,
		Network:     r.Network,
		Description: article.Title,
		MimeType:    "application/json",
	}, nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func abortError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

// requireArticle aborts with 404 for unknown slugs and 500 for catalog
// failures. Returns false when the request was aborted.
func (s *Server) requireArticle(c *gin.Context, slug string) bool {
	ok, err := s.catalog.Exists(slug)
	if err != nil {
		s.logger.Error("catalog lookup failed", "slug", slug, "error", err)
		abortError(c, http.StatusInternalServerError, "internal server error")
		return false
	}
	if !ok {
		abortError(c, http.StatusNotFound, "article not found")
		return false
	}
	return true
}
