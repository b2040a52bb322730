package models

import "image"

type Detection struct {
	Box        Box     `json:"box"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
}

type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

func (b Box) Width() int  { return b.X2 - b.X1 }
func (b Box) Height() int { return b.Y2 - b.Y1 }

// Valid reports whether the box has positive area. Detectors are expected to
// only produce valid boxes.
func (d Detection) Valid() bool {
	return d.Box.X1 < d.Box.X2 && d.Box.Y1 < d.Box.Y2
}

// CountByClass returns per-class counts in first-seen order.
func CountByClass(dets []Detection) ([]string, map[string]int) {
	order := make([]string, 0)
	counts := make(map[string]int)

	for _, d := range dets {
		if _, ok := counts[d.ClassName]; !ok {
			order = append(order, d.ClassName)
		}
		counts[d.ClassName]++
	}

	return order, counts
}
