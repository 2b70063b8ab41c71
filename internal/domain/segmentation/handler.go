package segmentation

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cardia/referral-intake/internal/platform/auth"
)

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "physician", "nurse", "intake"))
	g.POST("/segmentation/analyze", h.Analyze)
}

type analyzeRequest struct {
	Pages []Page `json:"pages"`
}

func (h *Handler) Analyze(c echo.Context) error {
	var req analyzeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Pages) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "pages are required")
	}
	return c.JSON(http.StatusOK, Detect(req.Pages))
}
