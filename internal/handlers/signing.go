package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Ananth-NQI/signdesk-backend/internal/apperr"
	"github.com/Ananth-NQI/signdesk-backend/internal/middleware"
	"github.com/Ananth-NQI/signdesk-backend/internal/services"
)

// IdempotencyHeader carries the client's retry key for session creation.
const IdempotencyHeader = "Idempotency-Key"

// SigningHandler handles signing session requests
type SigningHandler struct {
	signing   *services.SigningService
	otp       *services.OTPService
	documents *services.DocumentService
}

// NewSigningHandler creates a new signing handler
func NewSigningHandler(signing *services.SigningService, otp *services.OTPService, documents *services.DocumentService) *SigningHandler {
	return &SigningHandler{signing: signing, otp: otp, documents: documents}
}

// CreateSession handles POST /api/signing/sessions
func (h *SigningHandler) CreateSession(c *fiber.Ctx) error {
	var req services.CreateSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.InvalidArgument("invalid request body")
	}
	req.IdempotencyKey = c.Get(IdempotencyHeader)

	result, err := h.signing.CreateSession(c.UserContext(), middleware.CallerFrom(c), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

// GetSession handles GET /api/signing/sessions/:id
func (h *SigningHandler) GetSession(c *fiber.Ctx) error {
	session, err := h.signing.GetSession(c.UserContext(), middleware.CallerFrom(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(session)
}

// CancelSession handles POST /api/signing/sessions/:id/cancel
func (h *SigningHandler) CancelSession(c *fiber.Ctx) error {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := parseBody(c, &req); err != nil {
		return err
	}

	session, err := h.signing.CancelSession(c.UserContext(), middleware.CallerFrom(c), c.Params("id"), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(session)
}

// SendReminders handles POST /api/signing/sessions/:id/reminders
func (h *SigningHandler) SendReminders(c *fiber.Ctx) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := parseBody(c, &req); err != nil {
		return err
	}

	reminded, err := h.signing.ResendReminder(c.UserContext(), middleware.CallerFrom(c), c.Params("id"), req.Email)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"reminded": reminded})
}

// IssueOTP handles POST /api/signing/sessions/:id/otp
func (h *SigningHandler) IssueOTP(c *fiber.Ctx) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.BodyParser(&req); err != nil {
		return apperr.InvalidArgument("invalid request body")
	}

	if err := h.otp.IssueOTP(c.UserContext(), c.Params("id"), req.Email); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "sent"})
}

// VerifyOTP handles POST /api/signing/sessions/:id/otp/verify
func (h *SigningHandler) VerifyOTP(c *fiber.Ctx) error {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := c.BodyParser(&req); err != nil {
		return apperr.InvalidArgument("invalid request body")
	}

	signingURL, err := h.otp.VerifyOTP(c.UserContext(), c.Params("id"), req.Email, req.Code)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"signingUrl": signingURL})
}

// GetDocument handles GET /api/signing/sessions/:id/documents/:kind
func (h *SigningHandler) GetDocument(c *fiber.Ctx) error {
	link, err := h.documents.GetDownloadURL(c.UserContext(), middleware.CallerFrom(c), c.Params("id"), c.Params("kind"))
	if err != nil {
		return err
	}
	return c.JSON(link)
}
