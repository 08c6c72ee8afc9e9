// Package detection turns raw YOLO output tensors into labeled, de-duplicated detections.
//
// The pipeline for one frame is Decode -> Suppress -> Cap -> ToDetections. All functions
// are pure and never panic on malformed input; a bad tensor yields no detections.
package detection

import "fmt"

// CenterBox is a bounding box in center format, in model input coordinates
type CenterBox struct {
	CX float64 `json:"cx"`
	CY float64 `json:"cy"`
	W  float64 `json:"w"`
	H  float64 `json:"h"`
}

// Rect is a bounding box in corner format with a top-left origin
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"width"`
	H float64 `json:"height"`
}

// Rect converts the box to corner format. Negative sizes are clamped to zero.
func (b CenterBox) Rect() Rect {
	w := max(b.W, 0)
	h := max(b.H, 0)
	return Rect{
		X: b.CX - w/2,
		Y: b.CY - h/2,
		W: w,
		H: h,
	}
}

// Area returns the box area, zero for degenerate boxes
func (b CenterBox) Area() float64 {
	if b.W <= 0 || b.H <= 0 {
		return 0
	}
	return b.W * b.H
}

// Candidate is a raw detection produced for one tensor column
type Candidate struct {
	ClassID    int
	Confidence float64
	Box        CenterBox
}

// Detection is an accepted, labeled detection. It is never mutated after creation.
type Detection struct {
	ID         string  `json:"id"`
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	BBox       Rect    `json:"bbox"`
}

// String implements fmt.Stringer for log output
func (d Detection) String() string {
	return fmt.Sprintf("%s %s %.2f [%.0f,%.0f %.0fx%.0f]", d.ID, d.ClassName, d.Confidence, d.BBox.X, d.BBox.Y, d.BBox.W, d.BBox.H)
}

// ToDetections labels candidates and assigns session-unique ids, preserving order.
func ToDetections(candidates []Candidate, labels Labels, ids *IDGenerator) []Detection {
	if len(candidates) == 0 {
		return nil
	}
	out := make([]Detection, len(candidates))
	for i, c := range candidates {
		out[i] = Detection{
			ID:         ids.Next(),
			ClassID:    c.ClassID,
			ClassName:  labels.Name(c.ClassID),
			Confidence: clampUnit(c.Confidence),
			BBox:       c.Box.Rect(),
		}
	}
	return out
}

// clampUnit clamps v to [0,1]; NaN becomes 0
func clampUnit(v float64) float64 {
	switch {
	case v != v:
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
