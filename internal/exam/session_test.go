package exam

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/quizbank/internal/model"
)

// fakeStats records every outcome it is given.
type fakeStats struct {
	mu       sync.Mutex
	outcomes map[int64][]bool
	calls    int
	failOn   int64
}

func newFakeStats() *fakeStats {
	return &fakeStats{outcomes: map[int64][]bool{}}
}

func (f *fakeStats) RecordOutcome(_ context.Context, id int64, correct bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if id == f.failOn {
		return errors.New("database is locked")
	}
	f.outcomes[id] = append(f.outcomes[id], correct)
	return nil
}

func newStartedSession(t *testing.T, poolSize int) (*Engine, *Session, *fakeStats) {
	t.Helper()
	stats := newFakeStats()
	pools := &fakePools{byTopic: map[int64][]model.Question{7: topicPool(7, poolSize)}}
	e := NewEngine(pools, stats, NewSampler(21))
	s := NewSession()
	require.NoError(t, e.Start(context.Background(), s, 1, 7))
	return e, s, stats
}

func answerAll(t *testing.T, s *Session, opt model.Option) {
	t.Helper()
	for i := range ExamLength {
		require.NoError(t, s.Answer(i, opt))
	}
}

func TestStart(t *testing.T) {
	_, s, _ := newStartedSession(t, 50)
	assert.Equal(t, PhaseTesting, s.Phase())
	v, err := s.Current()
	require.NoError(t, err)
	assert.Equal(t, 1, v.Position)
	assert.Equal(t, ExamLength, v.Total)
	assert.Empty(t, v.Selected)
	answered, total := s.Answered()
	assert.Equal(t, 0, answered)
	assert.Equal(t, ExamLength, total)
}

func TestStartEmptyPoolStaysInSetup(t *testing.T) {
	e := NewEngine(&fakePools{byTopic: map[int64][]model.Question{}}, newFakeStats(), NewSampler(1))
	s := NewSession()
	err := e.Start(context.Background(), s, 1, 7)
	assert.ErrorIs(t, err, ErrEmptyPool)
	assert.Equal(t, PhaseSetup, s.Phase())
}

func TestStartTwiceRejected(t *testing.T) {
	e, s, _ := newStartedSession(t, 50)
	err := e.Start(context.Background(), s, 1, 7)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSmallPoolStillThirtyQuestions(t *testing.T) {
	_, s, _ := newStartedSession(t, 4)
	_, total := s.Answered()
	assert.Equal(t, ExamLength, total)
}

func TestAnswerGapFilling(t *testing.T) {
	_, s, _ := newStartedSession(t, 50)

	require.NoError(t, s.Answer(0, model.OptionA))
	require.NoError(t, s.Skip())
	require.NoError(t, s.Answer(2, model.OptionB))
	v, _ := s.Current()
	assert.Equal(t, 2, v.Position, "cursor should move to first gap (position 1)")

	require.NoError(t, s.Answer(1, model.OptionC))
	v, _ = s.Current()
	assert.Equal(t, 4, v.Position)
}

func TestAnswerValidation(t *testing.T) {
	_, s, _ := newStartedSession(t, 50)
	assert.ErrorIs(t, s.Answer(0, ""), ErrNoAnswer)
	assert.ErrorIs(t, s.Answer(0, "D"), ErrNoAnswer)
	assert.ErrorIs(t, s.Answer(-1, model.OptionA), ErrPositionOutOfRange)
	assert.ErrorIs(t, s.Answer(ExamLength, model.OptionA), ErrPositionOutOfRange)

	fresh := NewSession()
	assert.ErrorIs(t, fresh.Answer(0, model.OptionA), ErrInvalidTransition)
}

func TestAnswerOnlyCurrentPosition(t *testing.T) {
	_, s, _ := newStartedSession(t, 50)
	assert.ErrorIs(t, s.Answer(3, model.OptionA), ErrNotCurrent)
	answered, _ := s.Answered()
	assert.Zero(t, answered, "a rejected answer must not be recorded")

	require.NoError(t, s.Answer(0, model.OptionA))
	assert.ErrorIs(t, s.Answer(0, model.OptionB), ErrNotCurrent, "stale resubmit of the previous question")

	for i := 1; i < ExamLength; i++ {
		require.NoError(t, s.Answer(i, model.OptionA))
	}
	require.NoError(t, s.EnterReview())
	assert.ErrorIs(t, s.Answer(5, model.OptionC), ErrNotCurrent)
	v, _ := s.Current()
	assert.Equal(t, model.OptionA, v.Selected)
}

// A pool smaller than the exam still yields a full exam drawn from it, and
// finishing records one update per position.
func TestSmallPoolEndToEnd(t *testing.T) {
	pool := topicPool(7, 5)
	members := map[int64]bool{}
	for _, q := range pool {
		members[q.ID] = true
	}
	pools := &fakePools{byTopic: map[int64][]model.Question{7: pool}}

	seen := map[int64]bool{}
	for seed := range uint64(20) {
		stats := newFakeStats()
		e := NewEngine(pools, stats, NewSampler(seed))
		s := NewSession()
		require.NoError(t, e.Start(context.Background(), s, 1, 7))

		drawn := map[int64]int{}
		for range ExamLength {
			v, err := s.Current()
			require.NoError(t, err)
			require.True(t, members[v.Question.ID], "question %d is not in the pool", v.Question.ID)
			drawn[v.Question.ID]++
			seen[v.Question.ID] = true
			require.NoError(t, s.Answer(v.Position-1, model.OptionB))
		}

		_, err := e.Finish(context.Background(), s)
		require.NoError(t, err)
		assert.Equal(t, ExamLength, stats.calls)
		recorded := 0
		for id, outs := range stats.outcomes {
			assert.True(t, members[id])
			assert.Len(t, outs, drawn[id], "updates for question %d", id)
			recorded += len(outs)
		}
		assert.Equal(t, ExamLength, recorded)
	}
	assert.Len(t, seen, len(pool), "every pooled question should appear across trials")
}

func TestSkipWrapsWithoutGapFilling(t *testing.T) {
	_, s, _ := newStartedSession(t, 50)
	for range ExamLength - 1 {
		require.NoError(t, s.Skip())
	}
	v, _ := s.Current()
	assert.Equal(t, ExamLength, v.Position)
	require.NoError(t, s.Skip())
	v, _ = s.Current()
	assert.Equal(t, 1, v.Position)

	require.NoError(t, s.Answer(0, model.OptionA))
	require.NoError(t, s.Skip())
	v, _ = s.Current()
	assert.Equal(t, 3, v.Position, "skip advances from the gap-filled cursor")
}

func TestReviewRequiresAllAnswered(t *testing.T) {
	_, s, _ := newStartedSession(t, 50)
	require.NoError(t, s.Answer(0, model.OptionA))
	assert.ErrorIs(t, s.EnterReview(), ErrInvalidTransition)
	assert.Equal(t, PhaseTesting, s.Phase())
}

func TestReviewNavigation(t *testing.T) {
	_, s, _ := newStartedSession(t, 50)
	answerAll(t, s, model.OptionA)
	require.NoError(t, s.EnterReview())
	assert.Equal(t, PhaseReview, s.Phase())

	v, _ := s.Current()
	assert.Equal(t, 1, v.Position)

	require.NoError(t, s.Prev())
	v, _ = s.Current()
	assert.Equal(t, 1, v.Position, "prev clamps at the first question")

	for range ExamLength + 5 {
		require.NoError(t, s.Next())
	}
	v, _ = s.Current()
	assert.Equal(t, ExamLength, v.Position, "next clamps at the last question")

	require.NoError(t, s.Answer(ExamLength-1, model.OptionC))
	v, _ = s.Current()
	assert.Equal(t, ExamLength, v.Position, "review answers do not move the cursor")
	assert.Equal(t, model.OptionC, v.Selected)

	assert.ErrorIs(t, s.Skip(), ErrInvalidTransition)
}

func TestNavigationOutsideReview(t *testing.T) {
	_, s, _ := newStartedSession(t, 50)
	assert.ErrorIs(t, s.Prev(), ErrInvalidTransition)
	assert.ErrorIs(t, s.Next(), ErrInvalidTransition)
}

func TestFinishScoresAndRecordsStats(t *testing.T) {
	e, s, stats := newStartedSession(t, 50)
	// Every question in the pool has B as the correct answer.
	for i := range ExamLength {
		opt := model.OptionB
		if i < 3 {
			opt = model.OptionA
		}
		require.NoError(t, s.Answer(i, opt))
	}

	res, err := e.Finish(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 27, res.Score)
	assert.Equal(t, ExamLength, res.Total)
	assert.Equal(t, 90.0, res.Percent)
	require.Len(t, res.Missed, 3)
	assert.Equal(t, 1, res.Missed[0].Position)
	assert.Equal(t, model.OptionA, res.Missed[0].Given)
	assert.Equal(t, model.OptionB, res.Missed[0].Correct)
	assert.Equal(t, ExamLength, stats.calls)
	assert.Zero(t, res.StatsFailures)

	assert.Equal(t, PhaseFinished, s.Phase())
	assert.Equal(t, res, s.Result())

	_, err = e.Finish(context.Background(), s)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, ExamLength, stats.calls, "second finish must not record again")
}

func TestFinishRecordsRepeatsPerPosition(t *testing.T) {
	e, s, stats := newStartedSession(t, 1)
	answerAll(t, s, model.OptionB)
	res, err := e.Finish(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.Percent)
	assert.Len(t, stats.outcomes[7000], ExamLength)
}

func TestFinishIncompleteRejected(t *testing.T) {
	e, s, stats := newStartedSession(t, 50)
	require.NoError(t, s.Answer(0, model.OptionA))
	_, err := e.Finish(context.Background(), s)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Zero(t, stats.calls)
	assert.Nil(t, s.Result())
}

func TestFinishFromReview(t *testing.T) {
	e, s, _ := newStartedSession(t, 50)
	answerAll(t, s, model.OptionB)
	require.NoError(t, s.EnterReview())
	res, err := e.Finish(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, ExamLength, res.Score)
}

func TestFinishStatsFailureKeepsScore(t *testing.T) {
	e, s, stats := newStartedSession(t, 1)
	stats.failOn = 7000
	answerAll(t, s, model.OptionB)
	res, err := e.Finish(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, ExamLength, res.Score)
	assert.Equal(t, ExamLength, res.StatsFailures)
	assert.Equal(t, ExamLength, s.Result().StatsFailures)
}

func TestConcurrentFinishCountsOnce(t *testing.T) {
	e, s, stats := newStartedSession(t, 50)
	answerAll(t, s, model.OptionB)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Finish(context.Background(), s); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, ExamLength, stats.calls)
}

func TestResetDiscardsWithoutStats(t *testing.T) {
	_, s, stats := newStartedSession(t, 50)
	answerAll(t, s, model.OptionB)
	s.Reset()
	assert.Equal(t, PhaseSetup, s.Phase())
	assert.Zero(t, stats.calls)
	_, err := s.Current()
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	id1, s1 := r.ForUser(1)
	id1again, s1again := r.ForUser(1)
	assert.Equal(t, id1, id1again)
	assert.Same(t, s1, s1again)

	_, s2 := r.ForUser(2)
	assert.NotSame(t, s1, s2)
	assert.Equal(t, 2, r.Len())

	now = now.Add(45 * time.Minute)
	r.ForUser(2)
	assert.Equal(t, 1, r.EvictIdle(30*time.Minute))
	assert.Equal(t, 1, r.Len())

	r.Discard(2)
	assert.Zero(t, r.Len())
}
