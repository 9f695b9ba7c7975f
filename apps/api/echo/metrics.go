package echoapi

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// outcome label values
const (
	outcomeCreated   = "created"
	outcomeDuplicate = "duplicate"
	outcomeRejected  = "rejected"
	outcomeFailed    = "failed"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "masomo",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"method", "route", "code"})

	examSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "masomo",
		Name:      "exam_submissions_total",
		Help:      "Exam submissions by outcome.",
	}, []string{"outcome"})

	attendanceMarks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "masomo",
		Name:      "attendance_marks_total",
		Help:      "Attendance marks by outcome.",
	}, []string{"outcome"})
)

func metricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if err := next(ctx); err != nil {
			ctx.Error(err)
		}
		route := ctx.Path()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(ctx.Request().Method, route, strconv.Itoa(ctx.Response().Status)).Inc()
		return nil
	}
}

// outcomeOf labels the result of a create operation.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeCreated
	case isConflict(err):
		return outcomeDuplicate
	case isValidation(err):
		return outcomeRejected
	default:
		return outcomeFailed
	}
}
