package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/ticket-gate/internal/issuance"
	"github.com/iliyamo/ticket-gate/internal/middleware"
	"github.com/iliyamo/ticket-gate/internal/model"
	"github.com/iliyamo/ticket-gate/internal/redemption"
	"github.com/iliyamo/ticket-gate/internal/repository"
)

// Redeemer is implemented by *redemption.Service.
type Redeemer interface {
	Redeem(ctx context.Context, payload string, actor redemption.Actor) (redemption.Result, error)
	Reset(ctx context.Context, orderID string, actor redemption.Actor) error
}

// TicketIssuer is implemented by *issuance.Issuer.
type TicketIssuer interface {
	Issue(ctx context.Context, orderID string) (*issuance.Ticket, error)
	Image(ctx context.Context, orderID string, who issuance.Requester) ([]byte, error)
}

// TicketHandler serves the door scanner and ticket endpoints.
type TicketHandler struct {
	Redeemer Redeemer
	Issuer   TicketIssuer
	Log      *zap.Logger
}

func NewTicketHandler(r Redeemer, i TicketIssuer, log *zap.Logger) *TicketHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &TicketHandler{Redeemer: r, Issuer: i, Log: log}
}

type verifyReq struct {
	QRCodeData string `json:"qrCodeData"`
}

type verifyResp struct {
	Success    bool   `json:"success"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	UserName   string `json:"userName,omitempty"`
	EventTitle string `json:"eventTitle,omitempty"`
}

// outcomeStatus maps each rejection to the status and message the scanner
// app shows.
var outcomeStatus = map[redemption.Outcome]struct {
	status  int
	message string
}{
	redemption.OutcomeRedeemed:            {http.StatusOK, "ticket verified"},
	redemption.OutcomeMalformedPayload:    {http.StatusBadRequest, "invalid QR code"},
	redemption.OutcomeChecksumMismatch:    {http.StatusBadRequest, "invalid QR code"},
	redemption.OutcomeExpired:             {http.StatusBadRequest, "QR code expired"},
	redemption.OutcomeOrderNotFound:       {http.StatusNotFound, "ticket not found"},
	redemption.OutcomeAlreadyUsed:         {http.StatusConflict, "ticket already used"},
	redemption.OutcomePaymentNotConfirmed: {http.StatusBadRequest, "payment not confirmed"},
}

func actor(c echo.Context) redemption.Actor {
	return redemption.Actor{ID: middleware.UserID(c), Role: middleware.Role(c)}
}

// VerifyTicket redeems a scanned QR payload.
func (h *TicketHandler) VerifyTicket(c echo.Context) error {
	var req verifyReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, verifyResp{Code: "INVALID_BODY", Message: "invalid body"})
	}
	if strings.TrimSpace(req.QRCodeData) == "" {
		return c.JSON(http.StatusBadRequest, verifyResp{Code: "MISSING_QR_CODE", Message: "qrCodeData required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	res, err := h.Redeemer.Redeem(ctx, req.QRCodeData, actor(c))
	if err != nil {
		h.Log.Error("verify ticket", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, verifyResp{
			Code:    "INTERNAL",
			Message: "could not verify ticket, try again",
		})
	}

	m, ok := outcomeStatus[res.Outcome]
	if !ok {
		m.status, m.message = http.StatusBadRequest, "invalid QR code"
	}
	return c.JSON(m.status, verifyResp{
		Success:    res.OK(),
		Code:       string(res.Outcome),
		Message:    m.message,
		UserName:   res.UserName,
		EventTitle: res.EventTitle,
	})
}

// ResetTicket returns a redeemed ticket to unused.
func (h *TicketHandler) ResetTicket(c echo.Context) error {
	orderID := strings.TrimSpace(c.Param("orderId"))
	if orderID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "order id required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Redeemer.Reset(ctx, orderID, actor(c)); err != nil {
		if errors.Is(err, redemption.ErrOrderNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "order not found"})
		}
		h.Log.Error("reset ticket", zap.String("order_id", orderID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "reset failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "ticket reset", "orderId": orderID})
}

// IssueTicket (re)issues the ticket for a paid or courtesy order.
func (h *TicketHandler) IssueTicket(c echo.Context) error {
	orderID := strings.TrimSpace(c.Param("id"))

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	t, err := h.Issuer.Issue(ctx, orderID)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "order not found"})
	case errors.Is(err, issuance.ErrNotRedeemable):
		return c.JSON(http.StatusConflict, echo.Map{"error": "payment not confirmed"})
	default:
		h.Log.Error("issue ticket", zap.String("order_id", orderID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue failed"})
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"orderId":     t.OrderID,
		"qrCodeData":  t.Payload,
		"qrCodeS3Url": t.ImageURL,
	})
}

// TicketImage renders the holder's QR code as PNG.
func (h *TicketHandler) TicketImage(c echo.Context) error {
	orderID := strings.TrimSpace(c.Param("id"))
	who := issuance.Requester{UserID: middleware.UserID(c), Admin: middleware.Role(c) == model.RoleAdmin}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	png, err := h.Issuer.Image(ctx, orderID, who)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrForbidden):
		// do not reveal whether someone else's order exists
		return c.JSON(http.StatusNotFound, echo.Map{"error": "order not found"})
	case errors.Is(err, issuance.ErrNoTicket):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "ticket not issued yet"})
	default:
		h.Log.Error("render ticket", zap.String("order_id", orderID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "render failed"})
	}
	c.Response().Header().Set("Cache-Control", "private, no-store")
	return c.Blob(http.StatusOK, "image/png", png)
}
