package landfall

import (
	"math/rand/v2"
	"sync"
)

// TieBreaker picks one of several cells sharing the maximum value and
// returns its index in cells.
type TieBreaker interface {
	Break(cells []Cell) int
}

// DefaultPerturbation is the magnitude of the random nudge applied to tied
// cells by PerturbTieBreaker.
const DefaultPerturbation = 1e-3

// PerturbTieBreaker adds a uniform nudge in [-m/2, m/2) to each tied value
// and keeps the largest, repeating until a single cell remains. The
// reported value is never the perturbed one.
type PerturbTieBreaker struct {
	Magnitude float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPerturbTieBreaker uses rng, or a randomly seeded source when rng is nil.
func NewPerturbTieBreaker(rng *rand.Rand) *PerturbTieBreaker {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &PerturbTieBreaker{Magnitude: DefaultPerturbation, rng: rng}
}

func (p *PerturbTieBreaker) Break(cells []Cell) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := make([]int, len(cells))
	for k := range idx {
		idx[k] = k
	}
	for len(idx) > 1 {
		best := 0.0
		var next []int
		for n, k := range idx {
			v := cells[k].Value + (p.rng.Float64()-0.5)*p.Magnitude
			switch {
			case n == 0 || v > best:
				best = v
				next = append(next[:0], k)
			case v == best:
				next = append(next, k)
			}
		}
		idx = next
	}
	return idx[0]
}

// LowestIndexTieBreaker picks the first cell in row-major grid order.
type LowestIndexTieBreaker struct{}

func (LowestIndexTieBreaker) Break(cells []Cell) int {
	best := 0
	for k, c := range cells[1:] {
		b := cells[best]
		if c.I < b.I || (c.I == b.I && c.J < b.J) {
			best = k + 1
		}
	}
	return best
}
