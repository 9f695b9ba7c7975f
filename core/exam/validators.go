package exam

import (
	"fmt"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-portal/core"
)

var (
	correctIndexTag  = "correctindex"
	correctIndexText = "the correct option index must point to one of the options"

	passingScoreTag  = "passingscore"
	passingScoreText = "the passing score must be between 0 and the number of questions"
)

// InitValidators registers the exam validators and their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	validate.RegisterStructValidation(questionStructValidation, Question{})
	validate.RegisterStructValidation(examStructValidation, NewExam{})
	core.RegisterTranslations(validate, translator,
		core.Translation{Tag: correctIndexTag, Text: correctIndexText},
		core.Translation{Tag: passingScoreTag, Text: passingScoreText},
	)
}

func questionStructValidation(sl validator.StructLevel) {
	q, ok := sl.Current().Interface().(Question)
	if !ok {
		return
	}
	if q.CorrectOptionIndex < 0 || q.CorrectOptionIndex >= len(q.Options) {
		sl.ReportError(q.CorrectOptionIndex, "correct_option_index", "CorrectOptionIndex", correctIndexTag, fmt.Sprint(len(q.Options)))
	}
}

func examStructValidation(sl validator.StructLevel) {
	ne, ok := sl.Current().Interface().(NewExam)
	if !ok {
		return
	}
	if ne.PassingScore != nil && (*ne.PassingScore < 0 || *ne.PassingScore > len(ne.Questions)) {
		sl.ReportError(*ne.PassingScore, "passing_score", "PassingScore", passingScoreTag, fmt.Sprint(len(ne.Questions)))
	}
}
