package models

import (
	"image"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

type Kind string

const (
	KindImage Kind = "Image"
	KindVideo Kind = "Video"
)

var (
	ImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff"}
	VideoExtensions = []string{".mp4", ".avi", ".mov", ".mkv", ".flv", ".wmv"}
)

// KindFromPath guesses the media kind by extension. ok is false for unknown
// extensions.
func KindFromPath(path string) (Kind, bool) {
	ext := strings.ToLower(filepath.Ext(path))

	for _, e := range ImageExtensions {
		if e == ext {
			return KindImage, true
		}
	}
	for _, e := range VideoExtensions {
		if e == ext {
			return KindVideo, true
		}
	}

	return "", false
}

type Job struct {
	ID       string
	Source   string
	Kind     Kind
	Settings AnnotationSettings
}

func NewJob(source string, kind Kind, settings AnnotationSettings) Job {
	return Job{
		ID:       uuid.NewString(),
		Source:   source,
		Kind:     kind,
		Settings: settings.Normalize(),
	}
}

// Frame is one emitted pipeline frame. Image is the annotated copy, or the
// source frame itself when it was skipped. Original is kept for display only.
type Frame struct {
	Index      int
	Original   image.Image
	Image      image.Image
	Detections []Detection
}

type Result struct {
	JobID string
	// Source is the media path the job read, used to name exported files.
	Source string
	Kind   Kind
	FPS    float64
	Frames []Frame
}

func (r *Result) Images() []image.Image {
	out := make([]image.Image, 0, len(r.Frames))
	for _, f := range r.Frames {
		out = append(out, f.Image)
	}
	return out
}

func (r *Result) TotalDetections() int {
	n := 0
	for _, f := range r.Frames {
		n += len(f.Detections)
	}
	return n
}
