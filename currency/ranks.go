package currency

import (
	"context"
	"slices"

	"github.com/onnwee/sound-tender/store"
)

// Rank is a named tier reached at Required points or hours.
type Rank struct {
	Name        string  `json:"name"`
	Required    float64 `json:"required"`
	Group       string  `json:"group"`
	Description string  `json:"description"`
	Color       string  `json:"color"`
}

// SortRanks returns ranks ordered ascending by Required.
func SortRanks(ranks []Rank) []Rank {
	out := slices.Clone(ranks)
	slices.SortStableFunc(out, func(a, b Rank) int {
		switch {
		case a.Required < b.Required:
			return -1
		case a.Required > b.Required:
			return 1
		}
		return 0
	})
	return out
}

// ResolveRank returns the rank with the largest Required not above v.
func ResolveRank(ranks []Rank, v float64) (Rank, bool) {
	var best Rank
	found := false
	for _, r := range ranks {
		if r.Required <= v && (!found || r.Required > best.Required) {
			best, found = r, true
		}
	}
	return best, found
}

// LoadRanks reads data/ranks.json; absent or malformed yields no ranks.
func LoadRanks(ctx context.Context, b store.Backend) ([]Rank, error) {
	var ranks []Rank
	if _, err := store.LoadJSON(ctx, b, store.Ranks, &ranks, func() { ranks = []Rank{} }); err != nil {
		return nil, err
	}
	return SortRanks(ranks), nil
}
