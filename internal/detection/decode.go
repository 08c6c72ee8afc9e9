package detection

import "math"

// boxRows is the number of leading tensor rows holding cx, cy, w, h
const boxRows = 4

// Decode parses a YOLO output tensor laid out as [4+numClasses, numCandidates],
// candidates as columns: row r, column j lives at r*numCandidates + j.
//
// The candidate count is derived from the tensor length. A length that is not a
// positive multiple of 4+numClasses yields no candidates. For each column the class
// with the highest score wins (ties go to the lowest class id) and the candidate is
// kept when that score is at least threshold.
func Decode(tensor []float32, numClasses int, threshold float64) []Candidate {
	if numClasses <= 0 {
		return nil
	}
	rows := boxRows + numClasses
	if len(tensor) == 0 || len(tensor)%rows != 0 {
		return nil
	}
	return decode(tensor, numClasses, len(tensor)/rows, threshold)
}

// DecodeStrict is Decode with a fixed candidate count; the tensor must have exactly
// numCandidates*(4+numClasses) values.
func DecodeStrict(tensor []float32, numClasses, numCandidates int, threshold float64) []Candidate {
	if numClasses <= 0 || numCandidates <= 0 {
		return nil
	}
	if len(tensor) != numCandidates*(boxRows+numClasses) {
		return nil
	}
	return decode(tensor, numClasses, numCandidates, threshold)
}

func decode(tensor []float32, numClasses, n int, threshold float64) []Candidate {
	var out []Candidate

	for j := range n {
		bestClass := 0
		bestScore := math.Inf(-1)
		for k := range numClasses {
			score := float64(tensor[(boxRows+k)*n+j])
			// strict > keeps the first maximum and never selects NaN
			if score > bestScore {
				bestScore = score
				bestClass = k
			}
		}

		if !(bestScore >= threshold) {
			continue
		}

		out = append(out, Candidate{
			ClassID:    bestClass,
			Confidence: clampUnit(bestScore),
			Box: CenterBox{
				CX: float64(tensor[j]),
				CY: float64(tensor[n+j]),
				W:  max(float64(tensor[2*n+j]), 0),
				H:  max(float64(tensor[3*n+j]), 0),
			},
		})
	}

	return out
}
