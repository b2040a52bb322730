package models

const (
	DefaultConfidenceThreshold = 0.5
	DefaultIoUThreshold        = 0.45
)

// AnnotationSettings is captured once per job. Later edits by the user only
// affect jobs started afterwards.
type AnnotationSettings struct {
	ShowBoxes      bool `json:"show_boxes"`
	ShowLabels     bool `json:"show_labels"`
	ShowConfidence bool `json:"show_confidence"`
	ShowCount      bool `json:"show_count"`

	FrameSkip int `json:"frame_skip"`

	ConfidenceThreshold float64 `json:"confidence_threshold"`
	IoUThreshold        float64 `json:"iou_threshold"`
}

func DefaultAnnotationSettings() AnnotationSettings {
	return AnnotationSettings{
		ShowBoxes:           true,
		ShowLabels:          true,
		ShowConfidence:      true,
		ShowCount:           true,
		FrameSkip:           1,
		ConfidenceThreshold: DefaultConfidenceThreshold,
		IoUThreshold:        DefaultIoUThreshold,
	}
}

func (s AnnotationSettings) Normalize() AnnotationSettings {
	if s.FrameSkip < 1 {
		s.FrameSkip = 1
	}
	s.ConfidenceThreshold = Clamp01(s.ConfidenceThreshold)
	s.IoUThreshold = Clamp01(s.IoUThreshold)
	return s
}

func Clamp01(v float64) float64 {
	switch {
	case v < 0 || v != v:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
