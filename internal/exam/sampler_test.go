package exam

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/quizbank/internal/model"
)

func makePool(n int) []model.Question {
	pool := make([]model.Question, n)
	for i := range pool {
		pool[i] = model.Question{ID: int64(i + 1), Correct: model.OptionA}
	}
	return pool
}

func TestSampleEmptyPool(t *testing.T) {
	s := NewSampler(1)
	for _, k := range []int{0, 1, 30} {
		_, err := s.Sample(nil, k)
		assert.ErrorIs(t, err, ErrEmptyPool, "k=%d", k)
	}
}

func TestSampleWithoutReplacement(t *testing.T) {
	s := NewSampler(42)
	pool := makePool(50)
	for range 100 {
		got, err := s.Sample(pool, 30)
		require.NoError(t, err)
		require.Len(t, got, 30)
		seen := map[int64]bool{}
		for _, q := range got {
			assert.False(t, seen[q.ID], "duplicate id %d", q.ID)
			seen[q.ID] = true
		}
	}
	// The input must not be reordered.
	for i, q := range pool {
		assert.Equal(t, int64(i+1), q.ID)
	}
}

func TestSampleExactPoolIsPermutation(t *testing.T) {
	s := NewSampler(7)
	got, err := s.Sample(makePool(30), 30)
	require.NoError(t, err)
	seen := map[int64]bool{}
	for _, q := range got {
		seen[q.ID] = true
	}
	assert.Len(t, seen, 30)
}

func TestSampleWithReplacement(t *testing.T) {
	s := NewSampler(3)
	pool := makePool(5)
	got, err := s.Sample(pool, 30)
	require.NoError(t, err)
	require.Len(t, got, 30)
	for _, q := range got {
		assert.True(t, q.ID >= 1 && q.ID <= 5)
	}
}

func TestSampleUniformity(t *testing.T) {
	s := NewSampler(99)
	pool := makePool(10)
	counts := map[int64]int{}
	const rounds = 20000
	for range rounds {
		got, err := s.Sample(pool, 3)
		require.NoError(t, err)
		for _, q := range got {
			counts[q.ID]++
		}
	}
	want := float64(rounds*3) / 10
	assert.Len(t, counts, 10)
	for id, c := range counts {
		assert.InDelta(t, want, float64(c), want*0.1, "id %d", id)
	}
}

func TestSampleDeterministic(t *testing.T) {
	a, _ := NewSampler(5).Sample(makePool(40), 10)
	b, _ := NewSampler(5).Sample(makePool(40), 10)
	assert.Equal(t, a, b)
}
