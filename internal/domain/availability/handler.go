package availability

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dmac/telehealth/internal/platform/directory"
	"github.com/dmac/telehealth/internal/platform/timezone"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.PUT("/consultants/:id/availability", h.UpsertAvailability)
	g.GET("/consultants/:id/availability", h.ListAvailability)
	g.POST("/consultants/:id/day-off", h.ToggleDayOff)
	g.PATCH("/consultants/:id/slots", h.UpdateSlot)
	g.GET("/consultants/:id/available-slots", h.ListAvailableSlots)
}

type upsertRequest struct {
	Entries []LocalEntry `json:"entries"`
}

type dayOffRequest struct {
	Date   string `json:"date"`
	DayOff bool   `json:"day_off"`
}

type slotUpdateRequest struct {
	Date        string `json:"date"`
	StartTime   string `json:"start_time"`
	IsAvailable bool   `json:"is_available"`
}

func (h *Handler) UpsertAvailability(c echo.Context) error {
	id, err := consultantParam(c)
	if err != nil {
		return err
	}
	var req upsertRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n, err := h.svc.UpsertLocalAvailability(c.Request().Context(), id, req.Entries)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"consultant_id": id, "slots_written": n})
}

func (h *Handler) ListAvailability(c echo.Context) error {
	id, err := consultantParam(c)
	if err != nil {
		return err
	}
	days, err := h.svc.ListAvailability(c.Request().Context(), id, c.QueryParam("timezone"))
	if err != nil {
		return httpError(err)
	}
	if days == nil {
		days = []DayGroup{}
	}
	return c.JSON(http.StatusOK, days)
}

func (h *Handler) ToggleDayOff(c echo.Context) error {
	id, err := consultantParam(c)
	if err != nil {
		return err
	}
	var req dayOffRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Date == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "date is required")
	}
	n, err := h.svc.ToggleDayOff(c.Request().Context(), id, req.Date, req.DayOff)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"date": req.Date, "day_off": req.DayOff, "slots_updated": n})
}

func (h *Handler) UpdateSlot(c echo.Context) error {
	id, err := consultantParam(c)
	if err != nil {
		return err
	}
	var req slotUpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Date == "" || req.StartTime == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "date and start_time are required")
	}
	ctx := c.Request().Context()
	key, err := h.svc.LocalKey(ctx, id, req.Date, req.StartTime)
	if err != nil {
		return httpError(err)
	}
	if err := h.svc.UpdateSlotOffering(ctx, key, req.IsAvailable); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"start_utc": key.Start, "is_available": req.IsAvailable})
}

func (h *Handler) ListAvailableSlots(c echo.Context) error {
	id, err := consultantParam(c)
	if err != nil {
		return err
	}
	requesterID, err := uuid.Parse(c.QueryParam("requester_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid requester_id")
	}
	date := c.QueryParam("date")
	if date == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "date is required")
	}
	slots, err := h.svc.ListAvailableSlots(c.Request().Context(), id, requesterID, date)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, slots)
}

func consultantParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid consultant id")
	}
	return id, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidEntry), errors.Is(err, timezone.ErrInvalidTime):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, timezone.ErrTimezoneMissing):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "timezone missing: please complete your profile")
	case errors.Is(err, ErrSlotBooked):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrSlotNotFound), errors.Is(err, directory.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
