package capture

import (
	"context"
	"image"

	"aerialvision/internal/models"
)

// FrameSource yields frames in order. Next returns io.EOF once the source is
// exhausted. TotalFrames is a hint for progress and may be 0 when unknown.
type FrameSource interface {
	Next(ctx context.Context) (image.Image, error)
	TotalFrames() int
	FPS() float64
	Close() error
}

// Opener opens the media at path. Failures wrap errs.ErrSourceNotFound or
// errs.ErrSourceUnreadable.
type Opener func(ctx context.Context, path string, kind models.Kind) (FrameSource, error)
