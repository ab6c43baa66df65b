package exam

import (
	"fmt"
	"sync"

	"github.com/pavelanni/quizbank/internal/model"
)

// ExamLength is the number of questions in one exam.
const ExamLength = 30

// Phase is the stage an exam session is in.
type Phase int

const (
	PhaseSetup Phase = iota
	PhaseTesting
	PhaseReview
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseSetup:
		return "setup"
	case PhaseTesting:
		return "testing"
	case PhaseReview:
		return "review"
	case PhaseFinished:
		return "finished"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// MissedQuestion is a wrongly answered question on the results page.
type MissedQuestion struct {
	Position int // 1-based
	Question model.Question
	Given    model.Option
	Correct  model.Option
}

// Result is the frozen outcome of a finished exam.
type Result struct {
	Score   int
	Total   int
	Percent float64
	Missed  []MissedQuestion
	// StatsFailures counts positions whose statistics could not be saved.
	StatsFailures int
}

// View is what the exam page shows for the current question.
type View struct {
	Position int // 1-based
	Total    int
	Question model.Question
	Selected model.Option // empty when unanswered
	Answered int
}

// Session is one user's exam in progress. All methods are safe for
// concurrent use; a transition that is not allowed returns
// ErrInvalidTransition and leaves the session unchanged.
type Session struct {
	mu           sync.Mutex
	phase        Phase
	professionID int64
	testTypeID   int64
	questions    []model.Question
	answers      map[int]model.Option
	cursor       int
	result       *Result
}

// NewSession returns a session in setup.
func NewSession() *Session {
	return &Session{answers: make(map[int]model.Option)}
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Selection returns the profession and test type the exam was started with.
func (s *Session) Selection() (professionID, testTypeID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.professionID, s.testTypeID
}

// begin installs a drawn question set. Only valid from setup.
func (s *Session) begin(professionID, testTypeID int64, questions []model.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseSetup {
		return fmt.Errorf("start from %s: %w", s.phase, ErrInvalidTransition)
	}
	s.phase = PhaseTesting
	s.professionID = professionID
	s.testTypeID = testTypeID
	s.questions = questions
	s.answers = make(map[int]model.Option, len(questions))
	s.cursor = 0
	s.result = nil
	return nil
}

// Answer records opt for the 0-based position pos, which must be the
// current one. While testing the cursor then moves to the lowest unanswered
// position; in review it stays put and the previous answer is overwritten.
func (s *Session) Answer(pos int, opt model.Option) error {
	if opt == "" {
		return ErrNoAnswer
	}
	if !opt.Valid() {
		return fmt.Errorf("answer %q: %w", opt, ErrNoAnswer)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseTesting && s.phase != PhaseReview {
		return fmt.Errorf("answer in %s: %w", s.phase, ErrInvalidTransition)
	}
	if pos < 0 || pos >= len(s.questions) {
		return fmt.Errorf("position %d: %w", pos, ErrPositionOutOfRange)
	}
	if pos != s.cursor {
		return fmt.Errorf("position %d, current %d: %w", pos, s.cursor, ErrNotCurrent)
	}
	s.answers[pos] = opt
	if s.phase == PhaseTesting {
		if next, ok := s.firstUnanswered(); ok {
			s.cursor = next
		}
	}
	return nil
}

func (s *Session) firstUnanswered() (int, bool) {
	for i := range s.questions {
		if _, ok := s.answers[i]; !ok {
			return i, true
		}
	}
	return 0, false
}

// Skip moves to the next position, wrapping after the last one. It does not
// look for gaps.
func (s *Session) Skip() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseTesting {
		return fmt.Errorf("skip in %s: %w", s.phase, ErrInvalidTransition)
	}
	s.cursor = (s.cursor + 1) % ExamLength
	return nil
}

// EnterReview switches to review once every question is answered.
func (s *Session) EnterReview() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseTesting || !s.complete() {
		return fmt.Errorf("review in %s with %d/%d answered: %w",
			s.phase, len(s.answers), len(s.questions), ErrInvalidTransition)
	}
	s.phase = PhaseReview
	s.cursor = 0
	return nil
}

// Prev moves back one question in review, stopping at the first.
func (s *Session) Prev() error {
	return s.step(-1)
}

// Next moves forward one question in review, stopping at the last.
func (s *Session) Next() error {
	return s.step(1)
}

func (s *Session) step(delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseReview {
		return fmt.Errorf("navigate in %s: %w", s.phase, ErrInvalidTransition)
	}
	s.cursor = min(max(s.cursor+delta, 0), len(s.questions)-1)
	return nil
}

// Reset discards the exam and returns to setup. No statistics are written.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseSetup
	s.professionID, s.testTypeID = 0, 0
	s.questions = nil
	s.answers = make(map[int]model.Option)
	s.cursor = 0
	s.result = nil
}

func (s *Session) complete() bool {
	return len(s.questions) > 0 && len(s.answers) == len(s.questions)
}

// Current returns the question under the cursor.
func (s *Session) Current() (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseTesting && s.phase != PhaseReview {
		return View{}, fmt.Errorf("view in %s: %w", s.phase, ErrInvalidTransition)
	}
	return View{
		Position: s.cursor + 1,
		Total:    len(s.questions),
		Question: s.questions[s.cursor],
		Selected: s.answers[s.cursor],
		Answered: len(s.answers),
	}, nil
}

// Answered returns the number of answered positions and the exam length.
func (s *Session) Answered() (answered, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.answers), len(s.questions)
}

// Result returns the frozen result, or nil if the exam is not finished.
func (s *Session) Result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return nil
	}
	r := *s.result
	return &r
}

// outcome pairs a drawn question with whether it was answered correctly.
type outcome struct {
	questionID int64
	correct    bool
}

// finish freezes the result and moves to finished. It returns the
// per-position outcomes the caller must persist.
func (s *Session) finish() (*Result, []outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.phase == PhaseTesting && s.complete():
	case s.phase == PhaseReview:
	default:
		return nil, nil, fmt.Errorf("finish in %s with %d/%d answered: %w",
			s.phase, len(s.answers), len(s.questions), ErrInvalidTransition)
	}

	res := &Result{Total: ExamLength}
	outcomes := make([]outcome, len(s.questions))
	for i, q := range s.questions {
		given := s.answers[i]
		ok := given == q.Correct
		outcomes[i] = outcome{questionID: q.ID, correct: ok}
		if ok {
			res.Score++
			continue
		}
		res.Missed = append(res.Missed, MissedQuestion{
			Position: i + 1,
			Question: q,
			Given:    given,
			Correct:  q.Correct,
		})
	}
	res.Percent = model.Round2(float64(res.Score) / float64(ExamLength) * 100)

	s.phase = PhaseFinished
	s.result = res
	r := *res
	return &r, outcomes, nil
}

func (s *Session) setStatsFailures(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil {
		s.result.StatsFailures = n
	}
}
