package assign

import (
	"errors"
	"math"
	"testing"

	"ecollect/internal/model"
)

func TestBuildRangesPartition(t *testing.T) {
	companies := []model.Company{
		{ID: "c", Ratio: 20},
		{ID: "a", Ratio: 50},
		{ID: "b", Ratio: 30},
	}
	ranges, err := BuildRanges(companies)
	if err != nil {
		t.Fatalf("BuildRanges: %v", err)
	}
	if len(ranges) != 3 {
		t.Fatalf("got %d ranges, want 3", len(ranges))
	}
	// sorted by id regardless of input order
	if ranges[0].CompanyID != "a" || ranges[1].CompanyID != "b" || ranges[2].CompanyID != "c" {
		t.Fatalf("unexpected order: %+v", ranges)
	}
	if ranges[0].Lower != 0 {
		t.Errorf("first lower = %v, want 0", ranges[0].Lower)
	}
	for i := 1; i < len(ranges); i++ {
		if ranges[i].Lower != ranges[i-1].Upper {
			t.Errorf("gap between range %d and %d: %v != %v", i-1, i, ranges[i-1].Upper, ranges[i].Lower)
		}
	}
	if ranges[2].Upper != 1.0 {
		t.Errorf("last upper = %v, want exactly 1.0", ranges[2].Upper)
	}

	// 50/30/20: 0.65 lands in b's slice
	if id, ok := CompanyFor(ranges, 0.65); !ok || id != "b" {
		t.Errorf("CompanyFor(0.65) = %q, %v; want b", id, ok)
	}
	if id, _ := CompanyFor(ranges, 0.0); id != "a" {
		t.Errorf("CompanyFor(0) = %q, want a", id)
	}
}

func TestBuildRangesZeroTotal(t *testing.T) {
	_, err := BuildRanges([]model.Company{{ID: "a"}, {ID: "b", Ratio: -1}})
	if !errors.Is(err, ErrZeroRatio) {
		t.Fatalf("err = %v, want ErrZeroRatio", err)
	}
}

func TestBuildRangesZeroRatioCompanyGetsNothing(t *testing.T) {
	ranges, err := BuildRanges([]model.Company{
		{ID: "a", Ratio: 1},
		{ID: "b", Ratio: 0},
		{ID: "c", Ratio: 1},
	})
	if err != nil {
		t.Fatalf("BuildRanges: %v", err)
	}
	for _, probe := range []float64{0, 0.25, 0.4999, 0.5, 0.75, 0.999999} {
		if id, _ := CompanyFor(ranges, probe); id == "b" {
			t.Errorf("ratio %v mapped to zero-ratio company", probe)
		}
	}
}

func TestStableHashRatio(t *testing.T) {
	ids := []string{"item-1", "item-2", "", "a-very-long-identifier-with-dashes"}
	for _, id := range ids {
		r := StableHashRatio(id)
		if r < 0 || r >= 1 {
			t.Errorf("hash ratio of %q = %v, want [0,1)", id, r)
		}
		if r != StableHashRatio(id) {
			t.Errorf("hash of %q not deterministic", id)
		}
	}
	if StableHashRatio("item-1") == StableHashRatio("item-2") {
		t.Error("distinct ids produced identical ratios")
	}
}

func TestRatioFromHashStaysBelowOne(t *testing.T) {
	cases := []uint64{0, 1, 1 << 53, math.MaxUint64 - 2047, math.MaxUint64}
	for _, h := range cases {
		r := ratioFromHash(h)
		if r < 0 || r >= 1 {
			t.Errorf("ratioFromHash(%d) = %v, want [0,1)", h, r)
		}
	}
	if ratioFromHash(0) != 0 {
		t.Errorf("ratioFromHash(0) = %v, want 0", ratioFromHash(0))
	}
	// hashes within 2^11 of 2^64 used to round to exactly 1.0
	if r := ratioFromHash(math.MaxUint64); r != float64(1<<53-1)/(1<<53) {
		t.Errorf("max hash = %v, want largest double below 1", r)
	}
}

func TestCompanyForUpperEdge(t *testing.T) {
	ranges, _ := BuildRanges([]model.Company{{ID: "a", Ratio: 1}, {ID: "b", Ratio: 1}})
	// values arbitrarily close to 1 still resolve
	if id, ok := CompanyFor(ranges, 0.9999999999999999); !ok || id != "b" {
		t.Errorf("near-1 ratio = %q, %v; want b", id, ok)
	}
}
