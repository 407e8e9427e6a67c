package scoring

import (
	"errors"

	"github.com/ironsheep/omr-grader/internal/omr"
)

// MaxScore is the top of the normalized scale.
const MaxScore = 10.0

// ErrEmptyAnswerKey is returned alongside a zero report when the key has no
// entries. Grading does not fail; callers record it as a warning.
var ErrEmptyAnswerKey = errors.New("answer key is empty")

// ScoreReport is the graded outcome of one sheet.
type ScoreReport struct {
	// Correct is the raw number of correct answers.
	Correct int `json:"correct"`

	// Graded is the number of questions compared against the key.
	Graded int `json:"graded"`

	// KeySize is the length of the key, the denominator of Score.
	KeySize int `json:"key_size"`

	// Results has one entry per student answer. Answers beyond the key are
	// always false.
	Results []bool `json:"results"`

	// Score is Correct/KeySize on a 0-10 scale.
	Score float64 `json:"score"`
}

// Grade compares answers against key.
//
// A question is correct when the answer equals the key entry and is not
// omr.Unanswered; an Invalid key entry therefore never matches. Only the
// first min(len(answers), len(key)) questions are graded.
//
// With an empty key the report has zero score and all-false results, and
// ErrEmptyAnswerKey is returned with it.
func Grade(answers omr.AnswerVector, key AnswerKey) (*ScoreReport, error) {
	report := &ScoreReport{
		KeySize: len(key),
		Results: make([]bool, len(answers)),
	}
	if len(key) == 0 {
		return report, ErrEmptyAnswerKey
	}

	report.Graded = min(len(answers), len(key))
	for q := 0; q < report.Graded; q++ {
		if answers[q] != omr.Unanswered && answers[q] == key[q] {
			report.Results[q] = true
			report.Correct++
		}
	}

	report.Score = float64(report.Correct) / float64(len(key)) * MaxScore
	return report, nil
}
