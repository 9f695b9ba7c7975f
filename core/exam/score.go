package exam

// Score grades sub against the answer key of ex.
// Missing trailing answers count as Unanswered and extra answers are ignored.
// A question whose correct index is out of range can never be answered correctly.
// Score does not set Result.ID nor Result.CompletedAt.
func Score(ex Exam, sub Submission) (Result, error) {
	if sub.ExamID != ex.ID {
		return Result{}, ErrExamMismatch
	}
	if len(ex.Questions) == 0 {
		return Result{}, ErrInvalidExam
	}

	res := Result{
		ExamID:            ex.ID,
		StudentID:         sub.StudentID,
		TotalQuestions:    len(ex.Questions),
		Answers:           append([]Answer{}, sub.Answers...),
		DetailedQuestions: make([]DetailedQuestion, 0, len(ex.Questions)),
	}

	for i, q := range ex.Questions {
		answer := Unanswered
		if i < len(sub.Answers) && sub.Answers[i].IsAnswered() {
			answer = sub.Answers[i]
		}
		correct := q.CorrectOptionIndex
		isCorrect := answer.IsAnswered() && correct >= 0 && correct < len(q.Options) && int(answer) == correct
		if isCorrect {
			res.Score++
		}
		res.DetailedQuestions = append(res.DetailedQuestions, DetailedQuestion{
			QuestionText:  q.Text,
			Options:       append([]string(nil), q.Options...),
			CorrectIndex:  correct,
			SelectedIndex: answer,
			IsCorrect:     isCorrect,
		})
	}

	res.IsPassed = res.Score >= ex.PassingThreshold()
	return res, nil
}
