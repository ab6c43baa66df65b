package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/quizbank/internal/model"
)

// ExportStats builds an export-ready snapshot of the question bank with
// per-question attempt statistics.
func (s *Store) ExportStats(ctx context.Context) (model.BankExport, error) {
	exp := model.BankExport{GeneratedAt: time.Now().UTC()}

	professions, err := s.ListProfessions(ctx)
	if err != nil {
		return exp, err
	}
	testTypes, err := s.ListTestTypes(ctx)
	if err != nil {
		return exp, err
	}
	questions, err := s.ListQuestions(ctx)
	if err != nil {
		return exp, fmt.Errorf("list questions: %w", err)
	}

	profName := make(map[int64]string, len(professions))
	for _, p := range professions {
		profName[p.ID] = p.Name
		exp.Professions = append(exp.Professions, p.Name)
	}
	typeName := make(map[int64]string, len(testTypes))
	for _, t := range testTypes {
		typeName[t.ID] = t.Name
		exp.TestTypes = append(exp.TestTypes, t.Name)
	}

	for _, q := range questions {
		qr := model.QuestionResult{
			ID:              q.ID,
			Content:         q.Content,
			Correct:         q.Correct,
			TotalAttempts:   q.TotalAttempts,
			CorrectAttempts: q.CorrectAttempts,
			PassRate:        q.PassRate,
		}
		for _, id := range q.ProfessionIDs {
			qr.Professions = append(qr.Professions, profName[id])
		}
		for _, id := range q.TestTypeIDs {
			qr.TestTypes = append(qr.TestTypes, typeName[id])
		}
		exp.Questions = append(exp.Questions, qr)
	}
	exp.NumQuestions = len(exp.Questions)
	return exp, nil
}
