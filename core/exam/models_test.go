package exam

import (
	"encoding/json"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-portal/core"
)

func TestAnswer_JSON(t *testing.T) {
	var ans []Answer
	require.NoError(t, json.Unmarshal([]byte(`[1, null, 0, -3]`), &ans))
	assert.Equal(t, []Answer{1, Unanswered, 0, Unanswered}, ans)

	data, err := json.Marshal(ans)
	require.NoError(t, err)
	assert.JSONEq(t, `[1, null, 0, null]`, string(data))

	assert.Error(t, json.Unmarshal([]byte(`["a"]`), &ans))
	assert.Error(t, json.Unmarshal([]byte(`[1.5]`), &ans))
}

func TestExam_StudentView(t *testing.T) {
	ex := newTestExam(1, 0, 2)
	view := ex.StudentView()

	assert.Equal(t, ex.ID, view.ID)
	assert.Equal(t, 3, view.TotalQuestions)
	assert.Equal(t, 2, view.PassingScore)
	require.Len(t, view.Questions, 3)

	data, err := json.Marshal(view)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "correct")
}

func newValidate() *validator.Validate {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	InitValidators(validate, translator)
	return validate
}

func fieldTags(err error) map[string]string {
	tags := make(map[string]string)
	var vErrs validator.ValidationErrors
	if errors.As(err, &vErrs) {
		for _, vErr := range vErrs {
			tags[vErr.Field()] = vErr.Tag()
		}
	}
	return tags
}

func TestNewExam_Validate(t *testing.T) {
	validate := newValidate()

	valid := func() NewExam {
		return NewExam{
			Title:           " Algebra ",
			Subject:         "maths",
			DurationMinutes: 30,
			Questions:       newTestExam(1, 0, 2).Questions,
		}
	}
	with := func(f func(ne *NewExam)) NewExam {
		ne := valid()
		f(&ne)
		return ne
	}

	tests := []struct {
		name     string
		ne       NewExam
		wantTags map[string]string
	}{
		{name: "valid", ne: valid(), wantTags: map[string]string{}},
		{name: "valid passing score", ne: with(func(ne *NewExam) { ne.PassingScore = core.IntPtr(3) }), wantTags: map[string]string{}},
		{name: "blank title", ne: with(func(ne *NewExam) { ne.Title = "  " }), wantTags: map[string]string{"title": "required"}},
		{name: "no duration", ne: with(func(ne *NewExam) { ne.DurationMinutes = 0 }), wantTags: map[string]string{"duration_minutes": "gt"}},
		{name: "no questions", ne: with(func(ne *NewExam) { ne.Questions = nil }), wantTags: map[string]string{"questions": "required"}},
		{
			name:     "one option",
			ne:       with(func(ne *NewExam) { ne.Questions = []Question{{Text: "Q", Options: []string{"a"}}} }),
			wantTags: map[string]string{"options": "min"},
		},
		{
			name:     "correct index out of range",
			ne:       with(func(ne *NewExam) { ne.Questions = []Question{{Text: "Q", Options: []string{"a", "b"}, CorrectOptionIndex: 2}} }),
			wantTags: map[string]string{"correct_option_index": correctIndexTag},
		},
		{
			name:     "negative correct index",
			ne:       with(func(ne *NewExam) { ne.Questions = []Question{{Text: "Q", Options: []string{"a", "b"}, CorrectOptionIndex: -1}} }),
			wantTags: map[string]string{"correct_option_index": correctIndexTag},
		},
		{name: "passing score too high", ne: with(func(ne *NewExam) { ne.PassingScore = core.IntPtr(4) }), wantTags: map[string]string{"passing_score": passingScoreTag}},
		{name: "negative passing score", ne: with(func(ne *NewExam) { ne.PassingScore = core.IntPtr(-1) }), wantTags: map[string]string{"passing_score": passingScoreTag}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ne := tt.ne
			assert.Equal(t, tt.wantTags, fieldTags(ne.Validate(validate)))
		})
	}

	ne := valid()
	require.NoError(t, ne.Validate(validate))
	assert.Equal(t, "Algebra", ne.Title)
}

func TestUpdateExam_Validate(t *testing.T) {
	validate := newValidate()

	inactive := newTestExam(1, 0, 2)
	inactive.IsActive = false
	active := newTestExam(1, 0, 2)

	t.Run("active exam content is frozen", func(t *testing.T) {
		ue := UpdateExam{Title: "New title"}
		err := ue.Validate(active, validate)
		assert.True(t, errors.Is(err, ErrExamActive))
	})

	t.Run("active exam can be deactivated", func(t *testing.T) {
		ue := UpdateExam{IsActive: core.BoolPtr(false)}
		require.NoError(t, ue.Validate(active, validate))
		assert.Equal(t, active.Title, ue.Title)
		assert.Equal(t, active.Questions, ue.Questions)
	})

	t.Run("inactive exam keeps unset fields", func(t *testing.T) {
		ue := UpdateExam{Title: " Geometry "}
		require.NoError(t, ue.Validate(inactive, validate))
		assert.Equal(t, "Geometry", ue.Title)
		assert.Equal(t, inactive.Subject, ue.Subject)
		assert.Equal(t, inactive.DurationMinutes, ue.DurationMinutes)
		assert.Equal(t, inactive.Questions, ue.Questions)
	})

	t.Run("merged exam is validated", func(t *testing.T) {
		ue := UpdateExam{PassingScore: core.IntPtr(10)}
		err := ue.Validate(inactive, validate)
		assert.Equal(t, map[string]string{"passing_score": passingScoreTag}, fieldTags(err))
	})
}
