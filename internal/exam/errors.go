package exam

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyPool means there is nothing to draw from.
	ErrEmptyPool = errors.New("no questions available for this selection")
	// ErrNoTopics is returned when a balanced draw is asked for zero topics.
	ErrNoTopics = errors.New("at least one topic is required")
	// ErrInvalidTransition is returned when an operation is not allowed in
	// the session's current phase.
	ErrInvalidTransition = errors.New("operation not allowed in current phase")
	// ErrNoAnswer is returned when an answer is submitted without an option.
	ErrNoAnswer = errors.New("an answer option is required")
	// ErrPositionOutOfRange is returned for a question position outside the exam.
	ErrPositionOutOfRange = errors.New("question position out of range")
	// ErrNotCurrent is returned when an answer names a position other than
	// the one under the cursor, e.g. from a stale form.
	ErrNotCurrent = errors.New("answer is not for the current question")
)

// InsufficientTopicPoolError reports the topic whose pool was empty during
// a balanced draw.
type InsufficientTopicPoolError struct {
	TopicID int64
}

func (e *InsufficientTopicPoolError) Error() string {
	return fmt.Sprintf("not enough questions in topic %d", e.TopicID)
}

func (e *InsufficientTopicPoolError) Unwrap() error {
	return ErrEmptyPool
}
