package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/pavelanni/quizbank/internal/model"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrStatsConflict is returned when a statistics update keeps losing races
// after all retries.
var ErrStatsConflict = errors.New("statistics update conflict")

const (
	statsMaxAttempts = 5
	statsBaseDelay   = 10 * time.Millisecond
	statsMaxDelay    = 200 * time.Millisecond
)

// rowLocks serializes in-process writers of the same question without
// blocking writers of other questions.
type rowLocks [64]sync.Mutex

func (l *rowLocks) lock(id int64) func() {
	m := &l[uint64(id)%uint64(len(l))]
	m.Lock()
	return m.Unlock
}

var errStale = errors.New("stale counters")

// RecordOutcome adds one attempt to a question's counters and recomputes its
// pass rate. The write is guarded by the counters read in the same
// transaction; lost races and busy databases are retried with backoff.
func (s *Store) RecordOutcome(ctx context.Context, questionID int64, correct bool) error {
	unlock := s.locks.lock(questionID)
	defer unlock()

	var err error
	for attempt := range statsMaxAttempts {
		if attempt > 0 {
			delay := statsBackoff(attempt)
			slog.Debug("retrying statistics update",
				"question_id", questionID, "attempt", attempt+1, "delay", delay, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		err = s.recordOutcomeOnce(ctx, questionID, correct)
		if err == nil || !isConflict(err) {
			return err
		}
	}
	return fmt.Errorf("question %d: %w: %v", questionID, ErrStatsConflict, err)
}

func (s *Store) recordOutcomeOnce(ctx context.Context, questionID int64, correct bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var total, right int
	err = tx.QueryRowContext(ctx,
		`SELECT total_attempts, correct_attempts FROM questions WHERE id = ?`, questionID,
	).Scan(&total, &right)
	if err == sql.ErrNoRows {
		return fmt.Errorf("question %d: %w", questionID, ErrNotFound)
	}
	if err != nil {
		return err
	}

	newTotal, newRight := total+1, right
	if correct {
		newRight++
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE questions SET total_attempts = ?, correct_attempts = ?, pass_rate = ?
		 WHERE id = ? AND total_attempts = ? AND correct_attempts = ?`,
		newTotal, newRight, model.PassRate(newRight, newTotal),
		questionID, total, right,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errStale
	}
	return tx.Commit()
}

func isConflict(err error) bool {
	if errors.Is(err, errStale) {
		return true
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	return false
}

// statsBackoff returns an exponential delay with ±20% jitter.
func statsBackoff(attempt int) time.Duration {
	d := statsBaseDelay << (attempt - 1)
	if d > statsMaxDelay {
		d = statsMaxDelay
	}
	jitter := 0.8 + rand.Float64()*0.4
	return time.Duration(float64(d) * jitter)
}
