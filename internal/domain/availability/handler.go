package availability

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – every portal role
	readGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleSecretary, auth.RolePatient))
	readGroup.GET("/doctors/:doctorId/schedule", h.GetSchedule)
	readGroup.GET("/doctors/:doctorId/exceptions", h.ListExceptions)
	readGroup.GET("/doctors/:doctorId/slots", h.GetSlots)
	readGroup.POST("/bookings/validate", h.ValidateBooking)
	readGroup.GET("/bookings", h.ListBookings)
	readGroup.GET("/bookings/:id", h.GetBooking)

	// Availability management – doctor, secretary
	manageGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleSecretary))
	manageGroup.PUT("/doctors/:doctorId/schedule", h.SaveSchedule)
	manageGroup.PUT("/doctors/:doctorId/schedule/:weekday", h.SetWeekdayEnabled)
	manageGroup.POST("/doctors/:doctorId/schedule/:weekday/ranges", h.UpsertTimeRange)
	manageGroup.DELETE("/doctors/:doctorId/schedule/:weekday/ranges/:rangeId", h.RemoveTimeRange)
	manageGroup.POST("/doctors/:doctorId/exceptions", h.CreateException)
	manageGroup.POST("/doctors/:doctorId/exceptions/block-range", h.BlockDateRange)
	manageGroup.DELETE("/exceptions/:id", h.DeleteException)
	manageGroup.PATCH("/bookings/:id/status", h.UpdateBookingStatus)

	// Booking creation – patient, secretary
	bookGroup := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleSecretary))
	bookGroup.POST("/bookings", h.CreateBooking)
}

// -- Schedule Handlers --

func (h *Handler) GetSchedule(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	ws, err := h.svc.Schedules.GetWeeklySchedule(c.Request().Context(), doctorID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ws)
}

type saveScheduleRequest struct {
	Days []WeekdaySchedule `json:"days"`
}

func (h *Handler) SaveSchedule(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	var req saveScheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	result, err := h.svc.Schedules.SaveWeeklySchedule(c.Request().Context(), doctorID, req.Days)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(batchStatus(result), result)
}

type weekdayEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *Handler) SetWeekdayEnabled(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	wd, err := weekdayParam(c)
	if err != nil {
		return err
	}
	var req weekdayEnabledRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Enabled == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "enabled is required")
	}
	ws, err := h.svc.Schedules.SetWeekdayEnabled(c.Request().Context(), doctorID, wd, *req.Enabled)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ws)
}

type timeRangeRequest struct {
	ID     uuid.UUID `json:"id"`
	Start  TimeOfDay `json:"start"`
	End    TimeOfDay `json:"end"`
	Active *bool     `json:"active"`
}

func (h *Handler) UpsertTimeRange(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	wd, err := weekdayParam(c)
	if err != nil {
		return err
	}
	var req timeRangeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r := TimeRange{ID: req.ID, Start: req.Start, End: req.End, Active: true}
	if req.Active != nil {
		r.Active = *req.Active
	}
	ws, err := h.svc.Schedules.UpsertTimeRange(c.Request().Context(), doctorID, wd, r)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ws)
}

func (h *Handler) RemoveTimeRange(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	wd, err := weekdayParam(c)
	if err != nil {
		return err
	}
	rangeID, err := uuid.Parse(c.Param("rangeId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid range id")
	}
	ws, err := h.svc.Schedules.RemoveTimeRange(c.Request().Context(), doctorID, wd, rangeID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ws)
}

// -- Exception Handlers --

func (h *Handler) ListExceptions(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	var window *DateRange
	if from, to := c.QueryParam("from"), c.QueryParam("to"); from != "" || to != "" {
		window = &DateRange{}
		if from != "" {
			if window.From, err = ParseDate(from); err != nil {
				return httpError(err)
			}
		}
		if to != "" {
			if window.To, err = ParseDate(to); err != nil {
				return httpError(err)
			}
		}
	}
	items, err := h.svc.Exceptions.ListExceptions(c.Request().Context(), doctorID, window)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Exception{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CreateException(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	var in ExceptionInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.DoctorID = doctorID
	e, err := h.svc.Exceptions.CreateException(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, e)
}

type blockRangeRequest struct {
	From   Date    `json:"from"`
	To     Date    `json:"to"`
	Reason *string `json:"reason,omitempty"`
}

func (h *Handler) BlockDateRange(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	var req blockRangeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	result, err := h.svc.Exceptions.BlockDateRange(c.Request().Context(), doctorID, req.From, req.To, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(batchStatus(result), result)
}

func (h *Handler) DeleteException(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Exceptions.DeleteException(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Slot Handlers --

func (h *Handler) GetSlots(c echo.Context) error {
	doctorID, err := doctorParam(c)
	if err != nil {
		return err
	}
	raw := c.QueryParam("date")
	if raw == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "date is required")
	}
	date, err := ParseDate(raw)
	if err != nil {
		return httpError(err)
	}
	res, err := h.svc.Resolver.Resolve(c.Request().Context(), doctorID, date)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

// -- Booking Handlers --

type validateRequest struct {
	DoctorID uuid.UUID  `json:"doctor_id"`
	Date     Date       `json:"date"`
	Time     *TimeOfDay `json:"time"`
}

// ValidateBooking answers whether a slot is bookable right now. The verdict
// is the payload, so a rejection is still a 200.
func (h *Handler) ValidateBooking(c echo.Context) error {
	var req validateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.DoctorID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "doctor_id is required")
	}
	if req.Date.IsZero() {
		return echo.NewHTTPError(http.StatusBadRequest, "date is required")
	}
	if req.Time == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "time is required")
	}
	verdict, err := h.svc.Validator.ValidateBookingRequest(c.Request().Context(), req.DoctorID, req.Date, *req.Time)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, verdict)
}

func (h *Handler) CreateBooking(c echo.Context) error {
	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()

	// patients may only book for themselves
	if onlyPatient(auth.RolesFromContext(ctx)) {
		self, err := uuid.Parse(auth.UserIDFromContext(ctx))
		if err != nil {
			return echo.NewHTTPError(http.StatusForbidden, "patient identity is not a valid id")
		}
		if req.PatientID != uuid.Nil && req.PatientID != self {
			return echo.NewHTTPError(http.StatusForbidden, "patients may only book for themselves")
		}
		req.PatientID = self
	}

	b, verdict, err := h.svc.Bookings.Book(ctx, req)
	if err != nil {
		return httpError(err)
	}
	if !verdict.Accepted {
		return c.JSON(http.StatusConflict, verdict)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBooking(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	b, err := h.svc.Bookings.GetBooking(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBookings(c echo.Context) error {
	pg := pagination.FromContext(c)
	var filter BookingFilter
	var err error
	if v := c.QueryParam("doctor_id"); v != "" {
		if filter.DoctorID, err = uuid.Parse(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
		}
	}
	if v := c.QueryParam("patient_id"); v != "" {
		if filter.PatientID, err = uuid.Parse(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
	}
	if v := c.QueryParam("date"); v != "" {
		if filter.Date, err = ParseDate(v); err != nil {
			return httpError(err)
		}
	}
	if v := c.QueryParam("status"); v != "" {
		if filter.Status, err = ParseBookingStatus(v); err != nil {
			return httpError(err)
		}
	}
	items, total, err := h.svc.Bookings.ListBookings(c.Request().Context(), filter, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Booking{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateBookingStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	next, err := ParseBookingStatus(req.Status)
	if err != nil {
		return httpError(err)
	}
	b, err := h.svc.Bookings.UpdateStatus(c.Request().Context(), id, next)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

// -- helpers --

func doctorParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("doctorId"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid doctor id")
	}
	return id, nil
}

func weekdayParam(c echo.Context) (Weekday, error) {
	wd, err := ParseWeekday(c.Param("weekday"))
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return wd, nil
}

func httpError(err error) error {
	switch {
	case IsValidation(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// batchStatus is 200 when every unit succeeded, 207 on a partial result and
// 422 when nothing was applied.
func batchStatus(r *BatchResult) int {
	switch {
	case r.Failed == 0:
		return http.StatusOK
	case r.Succeeded > 0:
		return http.StatusMultiStatus
	}
	return http.StatusUnprocessableEntity
}

func onlyPatient(roles []string) bool {
	isPatient := false
	for _, r := range roles {
		switch r {
		case auth.RolePatient:
			isPatient = true
		case auth.RoleAdmin, auth.RoleSecretary, auth.RoleDoctor:
			return false
		}
	}
	return isPatient
}
