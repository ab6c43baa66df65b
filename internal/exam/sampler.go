package exam

import (
	"math/rand/v2"
	"sync"

	"github.com/pavelanni/quizbank/internal/model"
)

// Sampler draws questions uniformly at random. It is safe for concurrent use.
type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSampler returns a sampler with a deterministic seed.
func NewSampler(seed uint64) *Sampler {
	return &Sampler{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewRandomSampler returns a sampler seeded from the runtime's random source.
func NewRandomSampler() *Sampler {
	return NewSampler(rand.Uint64())
}

// Sample returns exactly k questions from pool. When the pool holds at least
// k questions they are distinct; otherwise each is drawn independently, so
// repeats are expected. An empty pool is an error for any k.
func (s *Sampler) Sample(pool []model.Question, k int) ([]model.Question, error) {
	if len(pool) == 0 {
		return nil, ErrEmptyPool
	}
	if k <= 0 {
		return []model.Question{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(pool) >= k {
		// Partial Fisher-Yates over a copy; the caller's slice is untouched.
		cp := make([]model.Question, len(pool))
		copy(cp, pool)
		for i := range k {
			j := i + s.rng.IntN(len(cp)-i)
			cp[i], cp[j] = cp[j], cp[i]
		}
		return cp[:k], nil
	}

	out := make([]model.Question, k)
	for i := range out {
		out[i] = pool[s.rng.IntN(len(pool))]
	}
	return out, nil
}

// Shuffle permutes qs in place.
func (s *Sampler) Shuffle(qs []model.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng.Shuffle(len(qs), func(i, j int) { qs[i], qs[j] = qs[j], qs[i] })
}
