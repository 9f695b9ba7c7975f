package testutil

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/exam"
	"github.com/trezcool/masomo-portal/core/user"
	logsvc "github.com/trezcool/masomo-portal/services/logger"
)

// NewLogger returns a core.Logger that reports nowhere.
func NewLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)
	logger.Enable(false)
	return logger
}

// NewValidator returns a validator with all the app validators registered.
func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	exam.InitValidators(validate, translator)
	return validate, translator
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

// CreateExam creates an exam with one 3-options question per correct index.
func CreateExam(t *testing.T, repo exam.Repository, title string, isActive bool, correct ...int) exam.Exam {
	questions := make([]exam.Question, 0, len(correct))
	for i, c := range correct {
		questions = append(questions, exam.Question{
			Text:               title + " question " + string(rune('1'+i)),
			Options:            []string{"a", "b", "c"},
			CorrectOptionIndex: c,
		})
	}
	now := time.Now().UTC()
	ex, err := repo.CreateExam(context.Background(), exam.Exam{
		Title:           title,
		Subject:         "maths",
		DurationMinutes: 30,
		Questions:       questions,
		IsActive:        isActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		t.Fatalf("CreateExam() failed: %v", err)
	}
	return ex
}
