package exam

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pavelanni/quizbank/internal/model"
)

// PoolSource provides candidate questions for a draw.
type PoolSource interface {
	FetchByProfessionAndTopic(ctx context.Context, professionID, topicID int64) ([]model.Question, error)
	FetchByProfessionAndAllTopics(ctx context.Context, professionID int64, topicIDs []int64) ([]model.Question, error)
}

// Quotas splits total across m topics: every topic gets total/m and the
// first total%m topics get one more.
func Quotas(total, m int) ([]int, error) {
	if m <= 0 {
		return nil, ErrNoTopics
	}
	if total < 0 {
		return nil, fmt.Errorf("negative total %d", total)
	}
	base, rem := total/m, total%m
	q := make([]int, m)
	for i := range q {
		q[i] = base
		if i < rem {
			q[i]++
		}
	}
	return q, nil
}

// Balancer draws a question set spread evenly over several topics.
type Balancer struct {
	pools   PoolSource
	sampler *Sampler
}

func NewBalancer(pools PoolSource, sampler *Sampler) *Balancer {
	return &Balancer{pools: pools, sampler: sampler}
}

// Balance draws total questions for the profession, split over topicIDs by
// Quotas, and returns them shuffled. A topic with no questions aborts the
// draw with *InsufficientTopicPoolError, even if its quota is zero.
func (b *Balancer) Balance(ctx context.Context, professionID int64, topicIDs []int64, total int) ([]model.Question, error) {
	quotas, err := Quotas(total, len(topicIDs))
	if err != nil {
		return nil, err
	}

	out := make([]model.Question, 0, total)
	for i, topicID := range topicIDs {
		pool, err := b.pools.FetchByProfessionAndTopic(ctx, professionID, topicID)
		if err != nil {
			return nil, fmt.Errorf("fetch topic %d: %w", topicID, err)
		}
		drawn, err := b.sampler.Sample(pool, quotas[i])
		if err != nil {
			return nil, &InsufficientTopicPoolError{TopicID: topicID}
		}
		if len(pool) < quotas[i] {
			slog.Warn("topic pool smaller than quota, drawing with repeats",
				"profession_id", professionID, "topic_id", topicID, "pool", len(pool), "quota", quotas[i])
		}
		out = append(out, drawn...)
	}
	b.sampler.Shuffle(out)
	return out, nil
}
