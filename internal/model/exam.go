package model

import (
	"fmt"
	"sort"
)

// PrivacyUnsaved labels exams that only live in the browsing session.
const PrivacyUnsaved = "Unsaved"

// RawQuestion is a question as the backend returns it: every candidate
// answer mapped to its confidence.
type RawQuestion struct {
	Question string             `json:"question"`
	Answers  map[string]float64 `json:"answers"`
}

// RawExam is the backend exam payload (GET /api/exam/{id}, task result).
type RawExam struct {
	ID          ID            `json:"id,omitempty"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Privacy     string        `json:"privacy,omitempty"`
	Questions   []RawQuestion `json:"questions"`
	Message     string        `json:"message,omitempty"`
}

// AlternativeAnswer is a lower-confidence candidate answer.
type AlternativeAnswer struct {
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
}

// Question is a parsed question with its best answer pulled out.
type Question struct {
	Question             string              `json:"question"`
	MainAnswer           string              `json:"mainAnswer"`
	MainAnswerConfidence float64             `json:"mainAnswerConfidence"`
	AlternativeAnswers   []AlternativeAnswer `json:"alternativeAnswers"`
}

// Exam is the view model of a generated exam.
type Exam struct {
	ID          string     `json:"id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Privacy     string     `json:"privacy"`
	Questions   []Question `json:"questions"`
}

// ParseExam orders each question's answers by confidence (highest first,
// ties by answer text) and splits off the main answer.
func ParseExam(raw *RawExam) (*Exam, error) {
	if raw == nil {
		return nil, fmt.Errorf("parse exam: empty payload")
	}

	exam := &Exam{
		ID:          raw.ID.String(),
		Title:       raw.Title,
		Description: raw.Description,
		Privacy:     raw.Privacy,
		Questions:   make([]Question, 0, len(raw.Questions)),
	}
	if exam.Privacy == "" {
		exam.Privacy = PrivacyUnsaved
	}

	for i, rq := range raw.Questions {
		if len(rq.Answers) == 0 {
			return nil, fmt.Errorf("parse exam: question %d has no answers", i+1)
		}

		answers := make([]AlternativeAnswer, 0, len(rq.Answers))
		for a, c := range rq.Answers {
			answers = append(answers, AlternativeAnswer{Answer: a, Confidence: c})
		}
		sort.Slice(answers, func(i, j int) bool {
			if answers[i].Confidence != answers[j].Confidence {
				return answers[i].Confidence > answers[j].Confidence
			}
			return answers[i].Answer < answers[j].Answer
		})

		exam.Questions = append(exam.Questions, Question{
			Question:             rq.Question,
			MainAnswer:           answers[0].Answer,
			MainAnswerConfidence: answers[0].Confidence,
			AlternativeAnswers:   answers[1:],
		})
	}

	return exam, nil
}

// IsExam reports whether a payload looks like a finished exam rather than an
// acknowledgement.
func (r *RawExam) IsExam() bool {
	return r.Title != "" || len(r.Questions) > 0
}
