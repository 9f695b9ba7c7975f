package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/exam"
)

var errExamNotFoundInCtx = errors.New("exam object not found in echo.Context")

type examApi struct {
	svc      exam.Service
	validate *validator.Validate
}

func registerExamAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc exam.Service, validate *validator.Validate) {
	api := examApi{
		svc:      svc,
		validate: validate,
	}

	eg := g.Group("/exams", jwt)
	eg.POST("", api.create, adminMiddleware())
	eg.GET("", api.query)

	dg := eg.Group("/:id", examMiddleware(api.svc))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, adminMiddleware())
	dg.DELETE("", api.destroy, adminMiddleware())
	dg.POST("/submit", api.submit, studentMiddleware)

	// results outlive their exam: no examMiddleware
	eg.GET("/:id/results", api.queryResults, adminMiddleware())
	eg.GET("/:id/results/:student_id", api.retrieveResult, selfOrAdminMiddleware("student_id"))
}

// Handlers

func (api *examApi) create(ctx echo.Context) error {
	var data exam.NewExam
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewExam")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	ex, err := api.svc.Create(ctx.Request().Context(), data, claims.Subject)
	if err != nil {
		return errors.Wrap(err, "creating exam")
	}
	return ctx.JSON(http.StatusCreated, ex)
}

// query lists all exams to admins, and the active ones (without answer keys) to students.
func (api *examApi) query(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	filter := &exam.QueryFilter{
		Search:  ctx.QueryParam("search"),
		Subject: ctx.QueryParam("subject"),
	}
	if filter.IsActive, err = queryBool(ctx, "is_active"); err != nil {
		return err
	}
	if !claims.IsAdmin {
		filter.IsActive = core.BoolPtr(true)
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	exams, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying exams")
	}

	if !claims.IsAdmin {
		views := make([]exam.StudentExam, 0, len(exams))
		for _, ex := range exams {
			views = append(views, ex.StudentView())
		}
		return ctx.JSON(http.StatusOK, views)
	}
	if exams == nil {
		exams = []exam.Exam{}
	}
	return ctx.JSON(http.StatusOK, exams)
}

func (api *examApi) retrieve(ctx echo.Context) error {
	ex, ok := ctx.Get(contextObjectKey).(exam.Exam)
	if !ok {
		return errors.Wrap(errExamNotFoundInCtx, "retrieving object from context")
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	if claims.IsAdmin {
		return ctx.JSON(http.StatusOK, ex)
	}
	if !ex.IsActive {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, ex.StudentView())
}

func (api *examApi) update(ctx echo.Context) error {
	ex, ok := ctx.Get(contextObjectKey).(exam.Exam)
	if !ok {
		return errors.Wrap(errExamNotFoundInCtx, "retrieving object from context")
	}

	var data exam.UpdateExam
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateExam")
	}
	if err := data.Validate(ex, api.validate); err != nil {
		return err
	}

	ex, err := api.svc.Update(ctx.Request().Context(), ex, data)
	if err != nil {
		return errors.Wrap(err, "updating exam")
	}
	return ctx.JSON(http.StatusOK, ex)
}

func (api *examApi) destroy(ctx echo.Context) error {
	ex, ok := ctx.Get(contextObjectKey).(exam.Exam)
	if !ok {
		return errors.Wrap(errExamNotFoundInCtx, "retrieving object from context")
	}
	if err := api.svc.Delete(ctx.Request().Context(), ex.ID); err != nil {
		return errors.Wrap(err, "deleting exam")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// submit scores the answers of the request student. Each student submits an exam once.
func (api *examApi) submit(ctx echo.Context) error {
	ex, ok := ctx.Get(contextObjectKey).(exam.Exam)
	if !ok {
		return errors.Wrap(errExamNotFoundInCtx, "retrieving object from context")
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	var data SubmitRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SubmitRequest")
	}
	if data.StudentID != "" && data.StudentID != claims.Subject {
		return errHttpForbidden
	}

	res, err := api.svc.Submit(ctx.Request().Context(), exam.Submission{
		ExamID:    ex.ID,
		StudentID: claims.Subject,
		Answers:   data.Answers,
	})
	examSubmissions.WithLabelValues(outcomeOf(err)).Inc()
	if err != nil {
		if errors.Cause(err) == exam.ErrNotFound {
			return errHttpNotFound
		}
		return err
	}
	return ctx.JSON(http.StatusCreated, res)
}

func (api *examApi) queryResults(ctx echo.Context) error {
	results, err := api.svc.QueryResults(ctx.Request().Context(), exam.ResultFilter{ExamID: ctx.Param("id")})
	if err != nil {
		return errors.Wrap(err, "querying results")
	}
	if results == nil {
		results = []exam.Result{}
	}
	return ctx.JSON(http.StatusOK, results)
}

func (api *examApi) retrieveResult(ctx echo.Context) error {
	res, err := api.svc.GetResult(ctx.Request().Context(), ctx.Param("id"), ctx.Param("student_id"))
	if err != nil {
		if errors.Cause(err) == exam.ErrResultNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding result")
	}
	return ctx.JSON(http.StatusOK, res)
}

// examMiddleware loads the `:id` exam into the context.
func examMiddleware(svc exam.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			ex, err := svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
			if err != nil {
				if errors.Cause(err) == exam.ErrNotFound {
					return errHttpNotFound
				}
				return errors.Wrap(err, "finding exam by ID")
			}
			ctx.Set(contextObjectKey, ex)
			return next(ctx)
		}
	}
}

// SubmitRequest holds a student's answers, in question order. null marks an unanswered question.
type SubmitRequest struct {
	StudentID string        `json:"student_id"`
	Answers   []exam.Answer `json:"answers"`
}
