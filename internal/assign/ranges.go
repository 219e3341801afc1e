package assign

import (
	"errors"
	"hash/fnv"
	"sort"

	"ecollect/internal/model"
)

// Range is one company's slice of the cumulative probability line.
// Ranges partition [0,1): company i owns [Lower, Upper).
type Range struct {
	CompanyID string
	Lower     float64
	Upper     float64
}

// ErrZeroRatio aborts a batch: no eligible company carries a positive ratio.
var ErrZeroRatio = errors.New("total assignment ratio is zero")

// BuildRanges normalizes company ratios into a contiguous partition of
// [0,1). Companies are ordered by id so the partition is independent of
// load order; the final upper bound is forced to exactly 1.0 to absorb
// floating-point drift. Zero-ratio companies occupy empty ranges.
func BuildRanges(companies []model.Company) ([]Range, error) {
	sorted := append([]model.Company(nil), companies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	total := 0.0
	for _, c := range sorted {
		if c.Ratio > 0 {
			total += c.Ratio
		}
	}
	if total <= 0 {
		return nil, ErrZeroRatio
	}

	out := make([]Range, 0, len(sorted))
	cum := 0.0
	lastPositive := -1
	for _, c := range sorted {
		r := Range{CompanyID: c.ID, Lower: cum, Upper: cum}
		if c.Ratio > 0 {
			cum += c.Ratio / total
			r.Upper = cum
			lastPositive = len(out)
		}
		out = append(out, r)
	}
	if lastPositive >= 0 {
		out[lastPositive].Upper = 1.0
	}
	return out, nil
}

// StableHashRatio maps an item id deterministically onto [0,1).
func StableHashRatio(itemID string) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(itemID))
	return ratioFromHash(h.Sum64())
}

// ratioFromHash keeps the top 53 bits so the quotient is exact and the
// result stays strictly below 1 for every input. Dividing the full 64-bit
// value by 2^64 would round up to 1.0 near the top of the range.
func ratioFromHash(h uint64) float64 {
	return float64(h>>11) / (1 << 53)
}

// CompanyFor returns the company whose range contains ratio.
func CompanyFor(ranges []Range, ratio float64) (string, bool) {
	for _, r := range ranges {
		if ratio >= r.Lower && ratio < r.Upper {
			return r.CompanyID, true
		}
	}
	// ratio can only escape the partition through float artifacts at 1.0
	for i := len(ranges) - 1; i >= 0; i-- {
		if ranges[i].Upper > ranges[i].Lower {
			return ranges[i].CompanyID, true
		}
	}
	return "", false
}
