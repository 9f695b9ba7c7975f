package exam

import (
	"bytes"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-portal/core"
)

// Answer is the option index chosen by a student for a question, or Unanswered.
type Answer int

// Unanswered marks a question left blank. It is encoded as JSON null.
const Unanswered Answer = -1

func (a Answer) IsAnswered() bool { return a >= 0 }

func (a Answer) MarshalJSON() ([]byte, error) {
	if !a.IsAnswered() {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(int(a))), nil
}

// UnmarshalJSON decodes null and negative indexes to Unanswered.
func (a *Answer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		*a = Unanswered
		return nil
	}
	i, err := strconv.Atoi(string(data))
	if err != nil {
		return err
	}
	if i < 0 {
		*a = Unanswered
		return nil
	}
	*a = Answer(i)
	return nil
}

type Question struct {
	Text               string   `json:"text" bson:"text" validate:"required,notblank"`
	Options            []string `json:"options" bson:"options" validate:"min=2,dive,notblank"`
	CorrectOptionIndex int      `json:"correct_option_index" bson:"correct_option_index"`
}

type Exam struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Subject         string     `json:"subject"`
	DurationMinutes int        `json:"duration_minutes"`
	Questions       []Question `json:"questions"`
	IsActive        bool       `json:"is_active"`
	PassingScore    *int       `json:"passing_score"` // nil: half of the questions, rounded up
	CreatedBy       string     `json:"created_by"`
	CreatedAt       time.Time  `json:"created_at"` // UTC
	UpdatedAt       time.Time  `json:"updated_at"` // UTC
}

// PassingThreshold is the minimum score needed to pass the exam.
func (ex Exam) PassingThreshold() int {
	if ex.PassingScore != nil {
		return *ex.PassingScore
	}
	return (len(ex.Questions) + 1) / 2
}

// StudentView hides the answer key.
func (ex Exam) StudentView() StudentExam {
	questions := make([]StudentQuestion, 0, len(ex.Questions))
	for _, q := range ex.Questions {
		questions = append(questions, StudentQuestion{Text: q.Text, Options: append([]string(nil), q.Options...)})
	}
	return StudentExam{
		ID:              ex.ID,
		Title:           ex.Title,
		Subject:         ex.Subject,
		DurationMinutes: ex.DurationMinutes,
		Questions:       questions,
		TotalQuestions:  len(ex.Questions),
		PassingScore:    ex.PassingThreshold(),
	}
}

type (
	StudentQuestion struct {
		Text    string   `json:"text"`
		Options []string `json:"options"`
	}

	// StudentExam is an Exam as presented to students.
	StudentExam struct {
		ID              string            `json:"id"`
		Title           string            `json:"title"`
		Subject         string            `json:"subject"`
		DurationMinutes int               `json:"duration_minutes"`
		Questions       []StudentQuestion `json:"questions"`
		TotalQuestions  int               `json:"total_questions"`
		PassingScore    int               `json:"passing_score"`
	}
)

// NewExam contains information needed to create a new Exam.
type NewExam struct {
	Title           string     `json:"title" validate:"required,notblank"`
	Subject         string     `json:"subject" validate:"required,notblank"`
	DurationMinutes int        `json:"duration_minutes" validate:"gt=0"`
	Questions       []Question `json:"questions" validate:"required,min=1,dive"`
	IsActive        bool       `json:"is_active"`
	PassingScore    *int       `json:"passing_score"`
}

func (ne *NewExam) Validate(validate *validator.Validate) error {
	ne.Title = core.CleanString(ne.Title)
	ne.Subject = core.CleanString(ne.Subject)
	for i := range ne.Questions {
		ne.Questions[i].Text = core.CleanString(ne.Questions[i].Text)
	}
	return validate.Struct(ne)
}

// UpdateExam defines what information may be provided to modify an existing Exam.
// Zero fields keep their current value.
type UpdateExam struct {
	Title           string     `json:"title"`
	Subject         string     `json:"subject"`
	DurationMinutes int        `json:"duration_minutes"`
	Questions       []Question `json:"questions"`
	IsActive        *bool      `json:"is_active"`
	PassingScore    *int       `json:"passing_score"`
}

// changesContent reports whether ue modifies anything besides the publish state.
func (ue UpdateExam) changesContent() bool {
	return ue.Title != "" || ue.Subject != "" || ue.DurationMinutes != 0 || ue.Questions != nil || ue.PassingScore != nil
}

// Validate merges ue into orig and validates the outcome like a NewExam.
// The content of an active exam is frozen: it must be deactivated first.
func (ue *UpdateExam) Validate(orig Exam, validate *validator.Validate) error {
	if orig.IsActive && ue.changesContent() {
		return core.NewValidationError(ErrExamActive)
	}

	merged := NewExam{
		Title:           core.CleanString(ue.Title),
		Subject:         core.CleanString(ue.Subject),
		DurationMinutes: ue.DurationMinutes,
		Questions:       ue.Questions,
		PassingScore:    ue.PassingScore,
	}
	if merged.Title == "" {
		merged.Title = orig.Title
	}
	if merged.Subject == "" {
		merged.Subject = orig.Subject
	}
	if merged.DurationMinutes == 0 {
		merged.DurationMinutes = orig.DurationMinutes
	}
	if merged.Questions == nil {
		merged.Questions = orig.Questions
	}
	if merged.PassingScore == nil {
		merged.PassingScore = orig.PassingScore
	}
	if err := merged.Validate(validate); err != nil {
		return err
	}

	ue.Title = merged.Title
	ue.Subject = merged.Subject
	ue.DurationMinutes = merged.DurationMinutes
	ue.Questions = merged.Questions
	ue.PassingScore = merged.PassingScore
	return nil
}

type QueryFilter struct {
	Search   string `query:"search"`
	Subject  string `query:"subject"`
	IsActive *bool  `query:"is_active"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Subject = core.CleanString(qf.Subject)
}

// Submission is a student's set of answers for an exam. Answers are positional.
type Submission struct {
	ExamID    string
	StudentID string
	Answers   []Answer
}

// DetailedQuestion is a value copy of a question at submission time, along with the student's answer.
type DetailedQuestion struct {
	QuestionText  string   `json:"question_text" bson:"question_text"`
	Options       []string `json:"options" bson:"options"`
	CorrectIndex  int      `json:"correct_index" bson:"correct_index"`
	SelectedIndex Answer   `json:"selected_index" bson:"selected_index"`
	IsCorrect     bool     `json:"is_correct" bson:"is_correct"`
}

// Result is the immutable outcome of a Submission. There is at most one per (ExamID, StudentID).
type Result struct {
	ID                string             `json:"id"`
	ExamID            string             `json:"exam_id"`
	StudentID         string             `json:"student_id"`
	Score             int                `json:"score"`
	TotalQuestions    int                `json:"total_questions"`
	Answers           []Answer           `json:"answers"`
	DetailedQuestions []DetailedQuestion `json:"detailed_questions"`
	IsPassed          bool               `json:"is_passed"`
	CompletedAt       time.Time          `json:"completed_at"` // UTC
}

type ResultFilter struct {
	ExamID    string `query:"exam_id"`
	StudentID string `query:"student_id"`
}
