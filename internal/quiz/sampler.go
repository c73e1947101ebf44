package quiz

import (
	"math/rand"
	"sort"

	"github.com/pkg/errors"
)

// DefaultWeights is the kind distribution used when none is configured
var DefaultWeights = map[string]int{
	string(Forward):  40,
	string(Reverse):  40,
	string(FreeText): 20,
}

// Sampler draws a Kind from a discrete distribution
type Sampler struct {
	kinds []Kind
	upper []int // cumulative weight, exclusive upper bound per kind
	total int
}

// NewSampler builds a sampler from a {kind: weight} table. Zero weights are
// allowed; at least one weight must be positive.
func NewSampler(weights map[string]int) (*Sampler, error) {
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return kindOrder(Kind(names[i])) < kindOrder(Kind(names[j])) })

	s := &Sampler{}
	for _, name := range names {
		kind := Kind(name)
		if !kind.Valid() {
			return nil, errors.Errorf("unknown quiz kind %q", name)
		}
		w := weights[name]
		if w < 0 {
			return nil, errors.Errorf("negative weight for %s", name)
		}
		if w == 0 {
			continue
		}
		s.total += w
		s.kinds = append(s.kinds, kind)
		s.upper = append(s.upper, s.total)
	}
	if s.total == 0 {
		return nil, errors.New("quiz weights sum to zero")
	}
	return s, nil
}

// Pick draws one kind
func (s *Sampler) Pick(rng *rand.Rand) Kind {
	return s.at(rng.Intn(s.total))
}

// at maps n in [0, total) onto its kind
func (s *Sampler) at(n int) Kind {
	i := sort.SearchInts(s.upper, n+1)
	return s.kinds[i]
}

func kindOrder(k Kind) int {
	switch k {
	case Forward:
		return 0
	case Reverse:
		return 1
	case FreeText:
		return 2
	}
	return 3
}
