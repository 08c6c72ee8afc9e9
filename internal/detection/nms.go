package detection

import (
	"cmp"
	"slices"
)

// IoU returns the intersection over union of two center-format boxes, in [0,1].
// Disjoint or degenerate boxes yield 0.
func IoU(a, b CenterBox) float64 {
	ra, rb := a.Rect(), b.Rect()

	x1 := max(ra.X, rb.X)
	y1 := max(ra.Y, rb.Y)
	x2 := min(ra.X+ra.W, rb.X+rb.W)
	y2 := min(ra.Y+ra.H, rb.Y+rb.H)

	inter := max(0, x2-x1) * max(0, y2-y1)
	union := ra.W*ra.H + rb.W*rb.H - inter
	if !(union > 0) {
		return 0
	}
	return clampUnit(inter / union)
}

// Suppress applies greedy non-maximum suppression. Candidates are ordered by
// confidence, highest first, with ties kept in input order; every later candidate
// overlapping a kept one by more than iouThreshold is dropped.
//
// The result is sorted by confidence and Suppress(Suppress(x, t), t) == Suppress(x, t).
func Suppress(candidates []Candidate, iouThreshold float64) []Candidate {
	if len(candidates) == 0 {
		return nil
	}

	sorted := slices.Clone(candidates)
	slices.SortStableFunc(sorted, func(a, b Candidate) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})

	suppressed := make([]bool, len(sorted))
	kept := make([]Candidate, 0, len(sorted))

	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if !suppressed[j] && IoU(sorted[i].Box, sorted[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}

	return kept
}

// Cap keeps at most limit candidates. Input from Suppress is already ordered by
// confidence, so the highest-confidence candidates survive. limit <= 0 keeps all.
func Cap(candidates []Candidate, limit int) []Candidate {
	if limit <= 0 || len(candidates) <= limit {
		return candidates
	}
	return candidates[:limit]
}
