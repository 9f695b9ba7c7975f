package echoapi

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/attendance"
)

type attendanceApi struct {
	svc      attendance.Service
	validate *validator.Validate
}

func registerAttendanceAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc attendance.Service, validate *validator.Validate) {
	api := attendanceApi{
		svc:      svc,
		validate: validate,
	}

	ag := g.Group("/attendance", jwt)
	ag.POST("", api.mark)
	ag.GET("", api.query)
	ag.POST("/reset", api.reset, adminMiddleware())
	ag.GET("/summary/:student_id", api.summary, selfOrAdminMiddleware("student_id"))
}

// Handlers

// mark records a student's attendance. Admins mark any student at any time.
// Students mark themselves only, as present and at the server time.
func (api *attendanceApi) mark(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	if !(claims.IsAdmin || claims.IsStudent) {
		return errHttpForbidden
	}

	var data attendance.NewMark
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewMark")
	}
	if !claims.IsAdmin {
		if data.StudentID != "" && data.StudentID != claims.Subject {
			return errHttpForbidden
		}
		data.StudentID = claims.Subject
		data.Timestamp = time.Time{}
		data.Present = nil
	}
	data.MarkedBy = claims.Subject
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	rec, err := api.svc.Mark(ctx.Request().Context(), data)
	attendanceMarks.WithLabelValues(outcomeOf(err)).Inc()
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, rec)
}

func (api *attendanceApi) reset(ctx echo.Context) error {
	var data ResetRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResetRequest")
	}
	filter, err := data.Filter()
	if err != nil {
		return err
	}

	deleted, err := api.svc.Reset(ctx.Request().Context(), filter)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, ResetResponse{Deleted: deleted})
}

// query lists records to admins. Students only see their own.
func (api *attendanceApi) query(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	filter := &attendance.QueryFilter{
		StudentID: core.CleanString(ctx.QueryParam("student_id")),
		PeriodKey: core.CleanString(ctx.QueryParam("period_key")),
	}
	if !claims.IsAdmin {
		if filter.StudentID != "" && filter.StudentID != claims.Subject {
			return errHttpForbidden
		}
		filter.StudentID = claims.Subject
	}
	if g := ctx.QueryParam("granularity"); g != "" {
		if filter.Granularity, err = attendance.ParseGranularity(g); err != nil {
			return core.NewValidationError(err, core.FieldError{Field: "granularity", Error: err.Error()})
		}
	}
	if filter.Present, err = queryBool(ctx, "present"); err != nil {
		return err
	}
	if filter.From, err = queryTime(ctx, "from"); err != nil {
		return err
	}
	if filter.To, err = queryTime(ctx, "to"); err != nil {
		return err
	}

	records, err := api.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying attendance records")
	}
	if records == nil {
		records = []attendance.Record{}
	}
	return ctx.JSON(http.StatusOK, records)
}

func (api *attendanceApi) summary(ctx echo.Context) error {
	sum, err := api.svc.Summary(ctx.Request().Context(), ctx.Param("student_id"))
	if err != nil {
		return errors.Wrap(err, "summarizing attendance")
	}
	return ctx.JSON(http.StatusOK, sum)
}

type (
	// ResetRequest selects the attendance records to delete.
	// Date (YYYY-MM-DD or RFC3339) and Granularity select the period holding Date.
	ResetRequest struct {
		PeriodKey   string     `json:"period_key"`
		Granularity string     `json:"granularity"`
		Date        string     `json:"date"`
		StudentIDs  []string   `json:"student_ids"`
		MarkedFrom  *time.Time `json:"marked_from"`
		MarkedTo    *time.Time `json:"marked_to"`
	}

	ResetResponse struct {
		Deleted int `json:"deleted"`
	}
)

func (rr ResetRequest) Filter() (attendance.ResetFilter, error) {
	filter := attendance.ResetFilter{
		PeriodKey:  core.CleanString(rr.PeriodKey),
		StudentIDs: rr.StudentIDs,
	}
	if rr.Granularity != "" {
		g, err := attendance.ParseGranularity(rr.Granularity)
		if err != nil {
			return attendance.ResetFilter{}, core.NewValidationError(err, core.FieldError{Field: "granularity", Error: err.Error()})
		}
		filter.Granularity = g
	}
	if rr.Date != "" {
		date, err := parseTime("date", rr.Date)
		if err != nil {
			return attendance.ResetFilter{}, err
		}
		filter.Date = date
	}
	if rr.MarkedFrom != nil {
		filter.MarkedFrom = *rr.MarkedFrom
	}
	if rr.MarkedTo != nil {
		filter.MarkedTo = *rr.MarkedTo
	}
	return filter, nil
}
