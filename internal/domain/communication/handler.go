package communication

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cardia/referral-intake/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "physician", "nurse", "intake"))
	g.GET("/referrals/:id/communications", h.ListByReferral)
	g.GET("/referrals/:id/escalations", h.PendingEscalations)
	g.POST("/referrals/:id/communications", h.Send)
	g.POST("/communications/:id/response", h.RecordResponse)
	g.POST("/communications/:id/failure", h.RecordFailure)
	g.POST("/communications/:id/sent", h.MarkSent)

	admin := api.Group("", auth.RequireRole("admin"))
	admin.POST("/escalations/run", h.RunEscalations)
}

func (h *Handler) Send(c echo.Context) error {
	referralID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.ReferralID = referralID
	if req.Initiator == "" {
		req.Initiator = InitiatorHuman
	}
	comm, err := h.svc.Send(c.Request().Context(), req, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, comm)
}

func (h *Handler) ListByReferral(c echo.Context) error {
	referralID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	comms, err := h.svc.ListByReferral(c.Request().Context(), referralID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, comms)
}

func (h *Handler) PendingEscalations(c echo.Context) error {
	referralID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pending, err := h.svc.PendingEscalations(c.Request().Context(), referralID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pending)
}

type responseRequest struct {
	ReceivedAt *time.Time `json:"received_at"`
}

func (h *Handler) RecordResponse(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req responseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	receivedAt := time.Now().UTC()
	if req.ReceivedAt != nil {
		receivedAt = *req.ReceivedAt
	}
	comm, err := h.svc.RecordResponse(c.Request().Context(), id, receivedAt, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, comm)
}

type failureRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) RecordFailure(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req failureRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Reason == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "reason is required")
	}
	comm, err := h.svc.RecordFailure(c.Request().Context(), id, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, comm)
}

type sentRequest struct {
	GatewayRef string `json:"gateway_ref"`
}

func (h *Handler) MarkSent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req sentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	comm, err := h.svc.MarkSent(c.Request().Context(), id, req.GatewayRef)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, comm)
}

func (h *Handler) RunEscalations(c echo.Context) error {
	created, err := h.svc.EscalateDue(c.Request().Context(), time.Now().UTC())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"escalated": len(created)})
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrCommunicationNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNoRecipientContact),
		errors.Is(err, ErrInvalidChannel),
		errors.Is(err, ErrInvalidStrategy):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

func actorFrom(c echo.Context) string {
	if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
		return "human:" + uid
	}
	return "system"
}
