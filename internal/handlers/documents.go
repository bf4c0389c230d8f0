package handlers

import (
	"fmt"
	"net/url"
	"path"

	"github.com/gofiber/fiber/v2"

	"github.com/Ananth-NQI/signdesk-backend/internal/apperr"
	"github.com/Ananth-NQI/signdesk-backend/internal/services"
)

// BlobHandler serves artifacts behind signed download links.
type BlobHandler struct {
	documents *services.DocumentService
}

func NewBlobHandler(documents *services.DocumentService) *BlobHandler {
	return &BlobHandler{documents: documents}
}

// Serve handles GET /blobs. The link signature and expiry are the only credentials.
func (h *BlobHandler) Serve(c *fiber.Ctx) error {
	link, err := url.Parse(c.OriginalURL())
	if err != nil {
		return apperr.InvalidArgument("malformed download link")
	}

	data, err := h.documents.OpenArtifact(c.UserContext(), link)
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, path.Base(link.Query().Get("obj"))))
	c.Set(fiber.HeaderCacheControl, "private, no-store")
	return c.Send(data)
}
