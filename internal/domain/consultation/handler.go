package consultation

import (
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/dmac/telehealth/pkg/pagination"
)

// Handler serves the consultation routes of one class.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/consultations", h.Book)
	if h.svc.Class().HasSeries() {
		g.POST("/consultations/series", h.BookSeries)
	}
	g.GET("/consultations", h.List)
	g.GET("/consultations/:code", h.Get)
	g.POST("/consultations/:code/reschedule", h.Reschedule)
	g.POST("/consultations/:code/cancel", h.Cancel)
	g.PATCH("/consultations/:code/status", h.UpdateStatus)
}

// Result is the response envelope of every write.
type Result struct {
	Outcome      Outcome       `json:"outcome"`
	Message      string        `json:"message"`
	Consultation *View         `json:"consultation,omitempty"`
	Series       *SeriesResult `json:"series,omitempty"`
	Warnings     []string      `json:"warnings,omitempty"`
}

func respond(c echo.Context, created bool, r Result, err error) error {
	r.Outcome = OutcomeOf(err)
	r.Message = Message(err)
	return c.JSON(HTTPStatus(err, created), r)
}

func (h *Handler) Book(c echo.Context) error {
	var req BookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Book(c.Request().Context(), req)
	if err != nil {
		return respond(c, false, Result{}, err)
	}
	v := res.Consultation.Localize(res.Consultation.UserTimezone)
	return respond(c, true, Result{Consultation: &v, Warnings: res.Warnings}, nil)
}

func (h *Handler) BookSeries(c echo.Context) error {
	var req SeriesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.BookSeries(c.Request().Context(), req)
	if err != nil {
		// A series where no session could be recorded still reports each one.
		return respond(c, false, Result{Series: res}, err)
	}
	return c.JSON(http.StatusCreated, Result{Outcome: OutcomeOK, Message: res.Summary(), Series: res, Warnings: res.Warnings})
}

type rescheduleBody struct {
	Date        string    `json:"date"`
	StartTime   string    `json:"start_time"`
	RequesterID uuid.UUID `json:"requester_id"`
}

func (h *Handler) Reschedule(c echo.Context) error {
	var body rescheduleBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req := RescheduleRequest{Code: c.Param("code"), Date: body.Date, StartTime: body.StartTime, RequesterID: body.RequesterID}
	res, err := h.svc.Reschedule(c.Request().Context(), req)
	if err != nil {
		return respond(c, false, Result{}, err)
	}
	zone := res.Consultation.UserTimezone
	if req.RequesterID == res.Consultation.ConsultantID {
		zone = res.Consultation.ConsultantTimezone
	}
	v := res.Consultation.Localize(zone)
	return respond(c, false, Result{Consultation: &v, Warnings: res.Warnings}, nil)
}

func (h *Handler) Cancel(c echo.Context) error {
	res, err := h.svc.Cancel(c.Request().Context(), c.Param("code"))
	if err != nil {
		return respond(c, false, Result{}, err)
	}
	v := res.Consultation.Localize(res.Consultation.UserTimezone)
	return respond(c, false, Result{Consultation: &v, Warnings: res.Warnings}, nil)
}

type statusBody struct {
	Status *Status `json:"status"`
	Notes  *string `json:"notes"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	var body statusBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req := StatusRequest{Code: c.Param("code"), Status: body.Status, Notes: body.Notes}
	updated, err := h.svc.UpdateStatus(c.Request().Context(), req)
	if err != nil {
		return respond(c, false, Result{}, err)
	}
	v := updated.Localize(updated.UserTimezone)
	return respond(c, false, Result{Consultation: &v}, nil)
}

// Get returns one consultation localized to ?timezone=, to the consultant
// when ?viewer=consultant, or to the user.
func (h *Handler) Get(c echo.Context) error {
	found, err := h.svc.Get(c.Request().Context(), c.Param("code"))
	if err != nil {
		return respond(c, false, Result{}, err)
	}
	v := found.Localize(viewerZone(c, found, c.QueryParam("viewer") == "consultant"))
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) List(c echo.Context) error {
	var f ListFilter
	query := url.Values{}
	if s := c.QueryParam("user_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid user_id")
		}
		f.UserID = &id
		query.Set("user_id", s)
	}
	if s := c.QueryParam("consultant_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid consultant_id")
		}
		f.ConsultantID = &id
		query.Set("consultant_id", s)
	}
	if z := c.QueryParam("timezone"); z != "" {
		query.Set("timezone", z)
	}
	p := pagination.FromContext(c)
	f.Limit, f.Offset = p.Limit, p.Offset

	items, total, err := h.svc.List(c.Request().Context(), f)
	if err != nil {
		return respond(c, false, Result{}, err)
	}
	asConsultant := f.UserID == nil
	views := make([]View, 0, len(items))
	for _, item := range items {
		views = append(views, item.Localize(viewerZone(c, item, asConsultant)))
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(views, total, p).WithLinks(c.Request().URL.Path, query.Encode()))
}

func viewerZone(c echo.Context, con *Consultation, asConsultant bool) string {
	if z := c.QueryParam("timezone"); z != "" {
		return z
	}
	if asConsultant {
		return con.ConsultantTimezone
	}
	return con.UserTimezone
}
