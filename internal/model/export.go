package model

import "time"

// BankExport is the top-level JSON structure for question bank statistics export.
type BankExport struct {
	GeneratedAt  time.Time        `json:"generated_at"`
	NumQuestions int              `json:"num_questions"`
	Professions  []string         `json:"professions"`
	TestTypes    []string         `json:"test_types"`
	Questions    []QuestionResult `json:"questions"`
}

// QuestionResult holds per-question statistics for export.
type QuestionResult struct {
	ID              int64    `json:"id"`
	Content         string   `json:"content"`
	Correct         Option   `json:"correct"`
	Professions     []string `json:"professions"`
	TestTypes       []string `json:"test_types"`
	TotalAttempts   int      `json:"total_attempts"`
	CorrectAttempts int      `json:"correct_attempts"`
	PassRate        float64  `json:"pass_rate"`
}
