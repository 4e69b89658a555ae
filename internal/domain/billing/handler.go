package billing

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/serenity/billing/internal/platform/clearinghouse"
	"github.com/serenity/billing/internal/platform/x12"
	"github.com/serenity/billing/pkg/pagination"
)

// maxRemittanceBody bounds an uploaded 835.
const maxRemittanceBody = 10 << 20

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// claimsRequest is the body of generate and submit.
type claimsRequest struct {
	Claims []*x12.Claim `json:"claims"`
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/billing")

	g.POST("/claims/validate", h.ValidateClaim)
	g.POST("/claims/generate", h.GenerateClaims)
	g.POST("/claims/submit", h.SubmitClaims)

	g.GET("/submissions", h.ListSubmissions)
	g.GET("/submissions/history", h.SubmissionHistory)
	g.GET("/submissions/:id", h.GetSubmission)
	g.POST("/submissions/:id/acknowledgment", h.RefreshAcknowledgment)

	g.GET("/remittances", h.ListRemittances)
	g.POST("/remittances", h.PostRemittance)
	g.GET("/remittances/available", h.AvailableRemittances)
	g.POST("/remittances/import/:remittance_id", h.ImportRemittance)
	g.GET("/remittances/:id", h.GetRemittance)
	g.GET("/remittances/:id/file", h.GetRemittanceFile)

	g.GET("/metrics", h.Metrics)
}

// -- Claim Handlers --

func (h *Handler) ValidateClaim(c echo.Context) error {
	var claim x12.Claim
	if err := c.Bind(&claim); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, h.svc.ValidateClaim(&claim))
}

// GenerateClaims renders an 837P without sending it. ?format=x12 returns the
// raw interchange as text.
func (h *Handler) GenerateClaims(c echo.Context) error {
	var req claimsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	file, err := h.svc.GenerateClaims(c.Request().Context(), req.Claims)
	if err != nil {
		return httpError(err)
	}
	if c.QueryParam("format") == "x12" {
		return c.String(http.StatusOK, file.Content)
	}
	return c.JSON(http.StatusOK, file)
}

func (h *Handler) SubmitClaims(c echo.Context) error {
	var req claimsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.svc.SubmitClaims(c.Request().Context(), req.Claims)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

// -- Submission Handlers --

func (h *Handler) ListSubmissions(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListSubmissions(c.Request().Context(), c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*SubmissionRecord{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg, c.Request().URL.Path))
}

func (h *Handler) GetSubmission(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, err := h.svc.GetSubmission(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) RefreshAcknowledgment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, err := h.svc.RefreshAcknowledgment(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) SubmissionHistory(c echo.Context) error {
	days := 0
	if v := c.QueryParam("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "days must be a positive integer")
		}
		days = n
	}
	items, err := h.svc.SubmissionHistory(c.Request().Context(), days)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}

// -- Remittance Handlers --

func (h *Handler) AvailableRemittances(c echo.Context) error {
	start, err := time.Parse("2006-01-02", c.QueryParam("start"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "start must be YYYY-MM-DD")
	}
	end, err := time.Parse("2006-01-02", c.QueryParam("end"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "end must be YYYY-MM-DD")
	}
	if end.Before(start) {
		return echo.NewHTTPError(http.StatusBadRequest, "end is before start")
	}

	items, err := h.svc.AvailableRemittances(c.Request().Context(), clearinghouse.DateRange{Start: start, End: end})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}

func (h *Handler) ImportRemittance(c echo.Context) error {
	rec, created, err := h.svc.ImportRemittance(c.Request().Context(), c.Param("remittance_id"))
	if err != nil {
		return httpError(err)
	}
	if !created {
		return c.JSON(http.StatusOK, rec)
	}
	return c.JSON(http.StatusCreated, rec)
}

// PostRemittance accepts a raw 835 as the request body.
func (h *Handler) PostRemittance(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxRemittanceBody+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(body) > maxRemittanceBody {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "remittance file too large")
	}
	if len(body) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "empty remittance file")
	}
	rec, err := h.svc.PostRemittance(c.Request().Context(), string(body))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) ListRemittances(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListRemittances(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*RemittanceRecord{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg, c.Request().URL.Path))
}

func (h *Handler) GetRemittance(c echo.Context) error {
	rec, err := h.remittance(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) GetRemittanceFile(c echo.Context) error {
	rec, err := h.remittance(c)
	if err != nil {
		return err
	}
	return c.String(http.StatusOK, rec.Content)
}

func (h *Handler) remittance(c echo.Context) (*RemittanceRecord, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, err := h.svc.GetRemittance(c.Request().Context(), id)
	if err != nil {
		return nil, httpError(err)
	}
	return rec, nil
}

// -- Metrics --

func (h *Handler) Metrics(c echo.Context) error {
	m, err := h.svc.Metrics(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

// httpError maps service errors to responses. Validation findings go back
// verbatim; transport details stay in the logs.
func httpError(err error) error {
	var vErr *clearinghouse.ValidationError
	var decErr *x12.DecodeError
	var tErr *clearinghouse.TransportError

	switch {
	case errors.As(err, &vErr):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{
			"message": "claim validation failed",
			"errors":  vErr.ClaimErrors,
		})
	case errors.As(err, &decErr):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, decErr.Error())
	case errors.Is(err, clearinghouse.ErrNoClaims):
		return echo.NewHTTPError(http.StatusBadRequest, "at least one claim is required")
	case errors.Is(err, ErrSubmissionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "submission not found")
	case errors.Is(err, ErrRemittanceNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "remittance not found")
	case errors.Is(err, clearinghouse.ErrNotConfigured):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "clearinghouse is not configured")
	case errors.As(err, &tErr):
		return echo.NewHTTPError(http.StatusBadGateway, "clearinghouse request failed")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}
