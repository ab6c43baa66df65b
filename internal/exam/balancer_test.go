package exam

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/quizbank/internal/model"
)

// fakePools serves per-topic pools keyed by topic ID.
type fakePools struct {
	byTopic map[int64][]model.Question
	err     error
	calls   []int64
}

func (f *fakePools) FetchByProfessionAndTopic(_ context.Context, _, topicID int64) ([]model.Question, error) {
	f.calls = append(f.calls, topicID)
	if f.err != nil {
		return nil, f.err
	}
	return f.byTopic[topicID], nil
}

func (f *fakePools) FetchByProfessionAndAllTopics(_ context.Context, _ int64, topicIDs []int64) ([]model.Question, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byTopic[topicIDs[0]], nil
}

func topicPool(topic int64, n int) []model.Question {
	pool := make([]model.Question, n)
	for i := range pool {
		pool[i] = model.Question{ID: topic*1000 + int64(i), TestTypeIDs: []int64{topic}, Correct: model.OptionB}
	}
	return pool
}

func TestQuotas(t *testing.T) {
	tests := []struct {
		total, m int
		want     []int
	}{
		{30, 1, []int{30}},
		{30, 4, []int{8, 8, 7, 7}},
		{10, 3, []int{4, 3, 3}},
		{2, 5, []int{1, 1, 0, 0, 0}},
		{0, 2, []int{0, 0}},
	}
	for _, tt := range tests {
		got, err := Quotas(tt.total, tt.m)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "Quotas(%d, %d)", tt.total, tt.m)
		sum := 0
		for _, q := range got {
			sum += q
		}
		assert.Equal(t, tt.total, sum)
	}

	_, err := Quotas(10, 0)
	assert.ErrorIs(t, err, ErrNoTopics)
}

func TestBalance(t *testing.T) {
	pools := &fakePools{byTopic: map[int64][]model.Question{
		1: topicPool(1, 20),
		2: topicPool(2, 20),
		3: topicPool(3, 2),
	}}
	b := NewBalancer(pools, NewSampler(11))

	got, err := b.Balance(context.Background(), 1, []int64{1, 2, 3}, 10)
	require.NoError(t, err)
	require.Len(t, got, 10)

	perTopic := map[int64]int{}
	for _, q := range got {
		perTopic[q.TestTypeIDs[0]]++
	}
	assert.Equal(t, map[int64]int{1: 4, 2: 3, 3: 3}, perTopic)
	assert.Equal(t, []int64{1, 2, 3}, pools.calls)
}

func TestBalanceEmptyTopicAborts(t *testing.T) {
	pools := &fakePools{byTopic: map[int64][]model.Question{
		1: topicPool(1, 20),
	}}
	b := NewBalancer(pools, NewSampler(1))

	_, err := b.Balance(context.Background(), 1, []int64{1, 2}, 10)
	var ite *InsufficientTopicPoolError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, int64(2), ite.TopicID)
	assert.ErrorIs(t, err, ErrEmptyPool)
}

func TestBalanceEmptyTopicWithZeroQuota(t *testing.T) {
	pools := &fakePools{byTopic: map[int64][]model.Question{
		1: topicPool(1, 20),
	}}
	b := NewBalancer(pools, NewSampler(1))

	_, err := b.Balance(context.Background(), 1, []int64{1, 2}, 1)
	assert.ErrorIs(t, err, ErrEmptyPool)
}

func TestBalanceNoTopics(t *testing.T) {
	b := NewBalancer(&fakePools{}, NewSampler(1))
	_, err := b.Balance(context.Background(), 1, nil, 10)
	assert.ErrorIs(t, err, ErrNoTopics)
}

func TestBalanceFetchError(t *testing.T) {
	boom := errors.New("boom")
	b := NewBalancer(&fakePools{err: boom}, NewSampler(1))
	_, err := b.Balance(context.Background(), 1, []int64{1}, 10)
	assert.ErrorIs(t, err, boom)
}

// The merged draw must be interleaved, not laid out topic by topic.
func TestBalanceShufflesAcrossTopics(t *testing.T) {
	pools := &fakePools{byTopic: map[int64][]model.Question{
		1: topicPool(1, 20),
		2: topicPool(2, 20),
		3: topicPool(3, 20),
	}}
	grouped := 0
	firstTopic := map[int64]int{}
	const seeds = 50
	for seed := range uint64(seeds) {
		b := NewBalancer(pools, NewSampler(seed))
		got, err := b.Balance(context.Background(), 1, []int64{1, 2, 3}, 30)
		require.NoError(t, err)
		require.Len(t, got, 30)

		firstTopic[got[0].TestTypeIDs[0]]++
		inBlocks := true
		for i := 1; i < len(got); i++ {
			if got[i].TestTypeIDs[0] < got[i-1].TestTypeIDs[0] {
				inBlocks = false
				break
			}
		}
		if inBlocks {
			grouped++
		}
	}
	assert.Zero(t, grouped, "draws came out grouped by topic")
	assert.Len(t, firstTopic, 3, "every topic should lead some draw")
}
