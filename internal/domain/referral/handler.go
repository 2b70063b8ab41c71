package referral

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cardia/referral-intake/internal/domain/segmentation"
	"github.com/cardia/referral-intake/internal/platform/auth"
	"github.com/cardia/referral-intake/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "physician", "nurse", "intake"))
	g.POST("/referrals", h.Create)
	g.GET("/referrals", h.List)
	g.GET("/referrals/:id", h.Get)
	g.GET("/referrals/:id/review-required", h.ReviewRequired)
	g.GET("/referrals/:id/documents", h.ListDocuments)
	g.POST("/referrals/:id/confirm-urgency", h.ConfirmUrgency)
	g.POST("/referrals/:id/advance", h.Advance)
	g.POST("/referrals/:id/route", h.RouteTo)
	g.POST("/referrals/:id/decline", h.Decline)
	g.POST("/referrals/:id/lock", h.Lock)
	g.POST("/referrals/:id/unlock", h.Unlock)
	g.POST("/referrals/:id/documents", h.AttachDocument)
	g.POST("/referrals/:id/split", h.SplitTransmission)
}

func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ref, err := h.svc.Create(c.Request().Context(), req, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, ref)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ref, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ref)
}

func (h *Handler) List(c echo.Context) error {
	status := c.QueryParam("status")
	if status == "" {
		status = StatusTriage
	}
	p := pagination.FromContext(c)
	refs, total, err := h.svc.ListByStatus(c.Request().Context(), status, p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(refs, total, p.Limit, p.Offset))
}

type confirmUrgencyRequest struct {
	Rating      string `json:"rating"`
	Confidence  int    `json:"confidence"`
	ConfirmedBy string `json:"confirmed_by"`
}

func (h *Handler) ConfirmUrgency(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req confirmUrgencyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ConfirmedBy == "" {
		req.ConfirmedBy = ConfirmedByHuman
	}
	ref, err := h.svc.ConfirmUrgency(c.Request().Context(), id, req.Rating, req.Confidence, req.ConfirmedBy, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ref)
}

type advanceRequest struct {
	To             string `json:"to"`
	Override       bool   `json:"override"`
	OverrideReason string `json:"override_reason"`
}

func (h *Handler) Advance(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req advanceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ref, err := h.svc.Advance(c.Request().Context(), id, req.To, actorFrom(c), req.Override, req.OverrideReason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ref)
}

type routeRequest struct {
	SpecialistID uuid.UUID `json:"specialist_id"`
}

func (h *Handler) RouteTo(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req routeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ref, err := h.svc.RouteTo(c.Request().Context(), id, req.SpecialistID, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ref)
}

type declineRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Decline(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req declineRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ref, err := h.svc.Decline(c.Request().Context(), id, req.Reason, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ref)
}

func (h *Handler) Lock(c echo.Context) error {
	return h.lockAction(c, h.svc.Lock)
}

func (h *Handler) Unlock(c echo.Context) error {
	return h.lockAction(c, h.svc.Unlock)
}

func (h *Handler) lockAction(c echo.Context, fn func(ctx context.Context, id uuid.UUID, actor string) (*Referral, error)) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ref, err := fn(c.Request().Context(), id, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ref)
}

func (h *Handler) AttachDocument(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var input DocumentInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	doc, err := h.svc.AttachDocument(c.Request().Context(), id, input, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, doc)
}

func (h *Handler) ListDocuments(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	docs, err := h.svc.ListDocuments(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, docs)
}

type splitRequest struct {
	Segments []segmentation.Segment `json:"segments"`
}

func (h *Handler) SplitTransmission(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req splitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	children, err := h.svc.SplitTransmission(c.Request().Context(), id, req.Segments, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, children)
}

func (h *Handler) ReviewRequired(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	required, err := h.svc.ReviewRequired(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"review_required": required})
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrLockConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrUrgencyNotConfirmed),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrReferralTerminal),
		errors.Is(err, ErrSpecialistRequired),
		errors.Is(err, ErrDeclineReasonRequired),
		errors.Is(err, ErrOverrideReasonRequired),
		errors.Is(err, ErrPatientNotMatched):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

func actorFrom(c echo.Context) string {
	if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
		return "human:" + uid
	}
	return "system"
}
