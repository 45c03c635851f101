package api

import (
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/basedotnews/basepost/internal/catalog"
	"github.com/basedotnews/basepost/internal/paywall"
)

// maxImageSize caps uploaded cover images at 5 MiB.
const maxImageSize = 5 << 20

// publish accepts a new article as a multipart form. The paywall middleware
// has already collected the platform fee when one is configured.
func (s *Server) publish(c *gin.Context) {
	title := c.PostForm("title")
	price := c.PostForm("price")
	authorAddress := c.PostForm("authorAddress")

	if title == "" {
		abortError(c, http.StatusBadRequest, "title is required")
		return
	}
	if _, err := paywall.ParseMoney(price); err != nil {
		abortError(c, http.StatusBadRequest, "price is missing or malformed")
		return
	}
	if !common.IsHexAddress(authorAddress) {
		abortError(c, http.StatusBadRequest, "authorAddress is missing or malformed")
		return
	}

	imageURL := c.PostForm("imageUrl")
	if file, err := c.FormFile("image"); err == nil {
		stored, err := s.storeImage(file)
		if err != nil {
			s.logger.Error("image upload failed", "error", err)
			abortError(c, http.StatusInternalServerError, "internal server error")
			return
		}
		imageURL = stored
	}

	article := catalog.Article{
		Title:         title,
		Teaser:        c.PostForm("teaser"),
		Body:          c.PostForm("body"),
		ImageURL:      imageURL,
		Price:         price,
		AuthorAddress: authorAddress,
	}

	// Decorate the author with a resolved identity.
	if profile, err := s.identities.Resolve(c.Request.Context(), authorAddress); err == nil && profile != nil {
		article.AuthorUsername = profile.Username
		article.AuthorDisplayName = profile.DisplayName
		article.AuthorAvatarURL = profile.AvatarURL
	}

	slug, err := s.catalog.Publish(article)
	if err != nil {
		s.logger.Error("publish failed", "title", title, "error", err)
		abortError(c, http.StatusInternalServerError, "internal server error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"slug": slug})
}

// storeImage saves an uploaded cover image under the uploads dir and returns
// its public path.
func (s *Server) storeImage(file *multipart.FileHeader) (string, error) {
	if s.uploadsDir == "" {
		return "", errors.New("uploads are not configured")
	}
	if err := os.MkdirAll(s.uploadsDir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create uploads dir %s", s.uploadsDir)
	}

	src, err := file.Open()
	if err != nil {
		return "", errors.Wrap(err, "open uploaded image")
	}
	defer src.Close()

	name := uuid.NewString() + filepath.Ext(file.Filename)
	dst, err := os.Create(filepath.Join(s.uploadsDir, name))
	if err != nil {
		return "", errors.Wrap(err, "create image file")
	}
	defer dst.Close()

	if _, err := io.Copy(dst, io.LimitReader(src, maxImageSize)); err != nil {
		return "", errors.Wrap(err, "write image file")
	}
	return "/uploads/" + name, nil
}
