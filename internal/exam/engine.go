package exam

import (
	"context"
	"fmt"
	"log/slog"
)

// StatsRecorder persists the outcome of one answered question.
type StatsRecorder interface {
	RecordOutcome(ctx context.Context, questionID int64, correct bool) error
}

// Engine runs the parts of an exam that touch the question bank.
type Engine struct {
	pools   PoolSource
	stats   StatsRecorder
	sampler *Sampler
}

func NewEngine(pools PoolSource, stats StatsRecorder, sampler *Sampler) *Engine {
	return &Engine{pools: pools, stats: stats, sampler: sampler}
}

// Start draws ExamLength questions tagged with the profession and test type
// and moves the session to testing. On an empty pool the session stays in
// setup and ErrEmptyPool is returned.
func (e *Engine) Start(ctx context.Context, s *Session, professionID, testTypeID int64) error {
	if p := s.Phase(); p != PhaseSetup {
		return fmt.Errorf("start from %s: %w", p, ErrInvalidTransition)
	}
	pool, err := e.pools.FetchByProfessionAndAllTopics(ctx, professionID, []int64{testTypeID})
	if err != nil {
		return fmt.Errorf("fetch pool: %w", err)
	}
	questions, err := e.sampler.Sample(pool, ExamLength)
	if err != nil {
		return err
	}
	if len(pool) < ExamLength {
		slog.Info("small question pool, exam will repeat questions",
			"profession_id", professionID, "test_type_id", testTypeID, "pool", len(pool))
	}
	return s.begin(professionID, testTypeID, questions)
}

// Finish scores the session and records one statistics outcome per position.
// A statistics failure never hides the score: it is logged and counted on
// the returned result.
func (e *Engine) Finish(ctx context.Context, s *Session) (*Result, error) {
	res, outcomes, err := s.finish()
	if err != nil {
		return nil, err
	}

	failures := 0
	for i, o := range outcomes {
		if err := e.stats.RecordOutcome(ctx, o.questionID, o.correct); err != nil {
			failures++
			slog.Warn("failed to record question statistics",
				"position", i+1, "question_id", o.questionID, "error", err)
		}
	}
	if failures > 0 {
		s.setStatsFailures(failures)
		res.StatsFailures = failures
	}
	slog.Info("exam finished",
		"score", res.Score, "total", res.Total, "percent", res.Percent, "stats_failures", failures)
	return res, nil
}

// Pool returns the size of the pool an exam would draw from, for the setup page.
func (e *Engine) Pool(ctx context.Context, professionID, testTypeID int64) (int, error) {
	pool, err := e.pools.FetchByProfessionAndAllTopics(ctx, professionID, []int64{testTypeID})
	if err != nil {
		return 0, err
	}
	return len(pool), nil
}
