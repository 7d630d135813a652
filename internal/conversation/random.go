package conversation

import (
	"math/rand/v2"
	"sync"
)

// RandomSource picks phrase indexes. Tests supply a fixed source to get
// deterministic replies.
type RandomSource interface {
	// Intn returns a value in [0, n).
	Intn(n int) int
}

type lockedRand struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandomSource returns a goroutine-safe source seeded with seed.
func NewRandomSource(seed uint64) RandomSource {
	return &lockedRand{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (r *lockedRand) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.IntN(n)
}

// FixedSource always returns the same index, clamped to n.
type FixedSource int

// Intn implements RandomSource.
func (f FixedSource) Intn(n int) int {
	if int(f) >= n {
		return n - 1
	}
	if f < 0 {
		return 0
	}
	return int(f)
}

func pick(rnd RandomSource, phrases []string) string {
	return phrases[rnd.Intn(len(phrases))]
}
