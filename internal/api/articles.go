package api

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"github.com/basedotnews/basepost/internal/catalog"
)

// listArticles returns the catalog without bodies. Unprotected.
func (s *Server) listArticles(c *gin.Context) {
	articles, err := s.catalog.List()
	if err != nil {
		s.logger.Error("catalog list failed", "error", err)
		abortError(c, http.StatusInternalServerError, "internal server error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"articles": articles})
}

// articleContent returns the full article including its body. The paywall
// middleware has already enforced payment by the time this runs.
func (s *Server) articleContent(c *gin.Context) {
	slug := c.Param("slug")
	article, err := s.catalog.Resolve(slug)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			abortError(c, http.StatusNotFound, "article not found")
			return
		}
		s.logger.Error("catalog resolve failed", "slug", slug, "error", err)
		abortError(c, http.StatusInternalServerError, "internal server error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"content": article})
}

// articleStats returns one article's aggregates.
func (s *Server) articleStats(c *gin.Context) {
	slug := c.Param("slug")
	if !s.requireArticle(c, slug) {
		return
	}

	stats, err := s.records.Stats(slug)
	if err != nil {
		s.logger.Error("stats lookup failed", "slug", slug, "error", err)
		abortError(c, http.StatusInternalServerError, "internal server error")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// bulkStats returns aggregates for every article in the catalog.
func (s *Server) bulkStats(c *gin.Context) {
	slugs, err := s.catalog.Slugs()
	if err != nil {
		s.logger.Error("catalog list failed", "error", err)
		abortError(c, http.StatusInternalServerError, "internal server error")
		return
	}

	stats, err := s.records.StatsBulk(slugs)
	if err != nil {
		s.logger.Error("bulk stats failed", "error", err)
		abortError(c, http.StatusInternalServerError, "internal server error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}
