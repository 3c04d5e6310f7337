package populator

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/JakeFAU/crawler-frontier/internal/frontier"
)

// Shuffler randomises the order of one cycle's entries so consumers do not
// receive long runs from one host. It is safe for concurrent use.
type Shuffler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewShuffler seeds a Shuffler from the current time.
func NewShuffler() *Shuffler {
	seed := uint64(time.Now().UnixNano())
	return NewSeededShuffler(seed, seed>>1|1)
}

// NewSeededShuffler returns a deterministic Shuffler.
func NewSeededShuffler(seed1, seed2 uint64) *Shuffler {
	return &Shuffler{rng: rand.New(rand.NewPCG(seed1, seed2))}
}

// Shuffle permutes entries in place and returns the same slice.
func (s *Shuffler) Shuffle(entries []frontier.Entry) []frontier.Entry {
	if len(entries) < 2 {
		return entries
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng.Shuffle(len(entries), func(i, j int) {
		entries[i], entries[j] = entries[j], entries[i]
	})
	return entries
}
