package api

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/basedotnews/basepost/internal/records"
)

type purchaseRequest struct {
	BuyerAddress string `json:"buyerAddress"`
	PayerAddress string `json:"payerAddress"`
	Username     string `json:"username"`
	DisplayName  string `json:"displayName"`
	AvatarURL    string `json:"avatarUrl"`
}

// recordPurchase stores a client-reported unlock. Unprotected: it is social
// proof reported after the fact, not part of the payment flow.
func (s *Server) recordPurchase(c *gin.Context) {
	slug := c.Param("slug")
	if !s.requireArticle(c, slug) {
		return
	}

	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if !common.IsHexAddress(req.BuyerAddress) {
		abortError(c, http.StatusBadRequest, "buyerAddress is missing or malformed")
		return
	}
	if req.PayerAddress != "" && !common.IsHexAddress(req.PayerAddress) {
		abortError(c, http.StatusBadRequest, "payerAddress is malformed")
		return
	}

	// Fill identity fields the client left blank.
	if req.Username == "" {
		if profile, err := s.identities.Resolve(c.Request.Context(), req.BuyerAddress); err == nil && profile != nil {
			req.Username = profile.Username
			if req.DisplayName == "" {
				req.DisplayName = profile.DisplayName
			}
			if req.AvatarURL == "" {
				req.AvatarURL = profile.AvatarURL
			}
		}
	}

	err := s.records.RecordPurchase(slug, records.PurchaseRecord{
		BuyerAddress: req.BuyerAddress,
		PayerAddress: req.PayerAddress,
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		AvatarURL:    req.AvatarURL,
	})
	if err != nil {
		s.logger.Error("purchase recording failed", "slug", slug, "error", err)
		abortError(c, http.StatusInternalServerError, "internal server error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type ratingRequest struct {
	BuyerAddress string `json:"buyerAddress"`
	Score        int    `json:"score"`
}

// recordRating stores a buyer's score for an article.
func (s *Server) recordRating(c *gin.Context) {
	slug := c.Param("slug")
	if !s.requireArticle(c, slug) {
		return
	}

	var req ratingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if !common.IsHexAddress(req.BuyerAddress) {
		abortError(c, http.StatusBadRequest, "buyerAddress is missing or malformed")
		return
	}

	if err := s.records.RecordRating(slug, req.BuyerAddress, req.Score); err != nil {
		if errors.Is(err, records.ErrInvalidScore) {
			abortError(c, http.StatusBadRequest, "score must be between 1 and 5")
			return
		}
		s.logger.Error("rating recording failed", "slug", slug, "error", err)
		abortError(c, http.StatusInternalServerError, "internal server error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// userRating returns the buyer's rating for an article, null when unrated.
func (s *Server) userRating(c *gin.Context) {
	slug := c.Param("slug")
	if !s.requireArticle(c, slug) {
		return
	}

	buyer := c.Query("buyerAddress")
	if !common.IsHexAddress(buyer) {
		abortError(c, http.StatusBadRequest, "buyerAddress is missing or malformed")
		return
	}

	rating, err := s.records.UserRating(slug, buyer)
	if err != nil {
		s.logger.Error("rating lookup failed", "slug", slug, "error", err)
		abortError(c, http.StatusInternalServerError, "internal server error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"rating": rating})
}
