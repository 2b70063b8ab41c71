package completeness

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cardia/referral-intake/internal/platform/auth"
)

type Handler struct {
	svc    *Service
	policy AutoFilePolicy
}

func NewHandler(svc *Service, policy AutoFilePolicy) *Handler {
	return &Handler{svc: svc, policy: policy}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "physician", "nurse", "intake"))
	g.GET("/referrals/:id/items", h.ListItems)
	g.GET("/referrals/:id/completeness", h.GetCompleteness)
	g.GET("/auto-file/eligibility", h.AutoFileEligibility)
	g.POST("/referrals/:id/items", h.SeedItems)
	g.POST("/items/:id/found", h.MarkFound)
	g.POST("/items/:id/missing", h.MarkMissing)
	g.POST("/items/:id/uncertain", h.MarkUncertain)
}

type seedRequest struct {
	Items []ItemSeed `json:"items"`
}

func (h *Handler) SeedItems(c echo.Context) error {
	referralID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req seedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	items, err := h.svc.SeedItems(c.Request().Context(), referralID, actorFrom(c), req.Items)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, items)
}

func (h *Handler) ListItems(c echo.Context) error {
	referralID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.ListByReferral(c.Request().Context(), referralID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

type completenessResponse struct {
	Score        int  `json:"score"`
	ManualReview bool `json:"needs_manual_review"`
}

func (h *Handler) GetCompleteness(c echo.Context) error {
	referralID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.ListByReferral(c.Request().Context(), referralID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	// Overall AI confidence comes from the referral record; the worklist
	// passes it through so the review gate can be computed in one place.
	aiConfidence := 100
	if v := c.QueryParam("ai_confidence"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 100 {
			aiConfidence = n
		}
	}
	return c.JSON(http.StatusOK, completenessResponse{
		Score:        Score(items),
		ManualReview: NeedsManualReview(aiConfidence, items),
	})
}

type eligibilityResponse struct {
	DocType    string `json:"doc_type"`
	Confidence int    `json:"confidence"`
	Band       string `json:"band"`
	Threshold  int    `json:"threshold"`
	AutoFile   bool   `json:"auto_file"`
	ShadowMode bool   `json:"shadow_mode"`
}

// AutoFileEligibility answers whether a classified document may skip review
// under the active policy.
func (h *Handler) AutoFileEligibility(c echo.Context) error {
	docType := c.QueryParam("doc_type")
	if docType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "doc_type is required")
	}
	confidence, err := strconv.Atoi(c.QueryParam("confidence"))
	if err != nil || confidence < 0 || confidence > 100 {
		return echo.NewHTTPError(http.StatusBadRequest, "confidence must be 0-100")
	}
	return c.JSON(http.StatusOK, eligibilityResponse{
		DocType:    docType,
		Confidence: confidence,
		Band:       Band(confidence),
		Threshold:  h.policy.Threshold(docType),
		AutoFile:   h.policy.AllowAutoFile(docType, confidence),
		ShadowMode: h.policy.ShadowMode,
	})
}

func (h *Handler) MarkFound(c echo.Context) error {
	return h.mark(c, h.svc.MarkFound)
}

func (h *Handler) MarkMissing(c echo.Context) error {
	return h.mark(c, h.svc.MarkMissing)
}

func (h *Handler) MarkUncertain(c echo.Context) error {
	return h.mark(c, h.svc.MarkUncertain)
}

func (h *Handler) mark(c echo.Context, fn func(ctx context.Context, id uuid.UUID, actor string) (*Item, error)) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	item, err := fn(c.Request().Context(), id, actorFrom(c))
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, item)
}

func actorFrom(c echo.Context) string {
	if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
		return "human:" + uid
	}
	return "system"
}
