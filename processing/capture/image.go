package capture

import (
	"context"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"aerialvision/internal/errs"
)

// ImageSource is a one-frame source over a still image.
type ImageSource struct {
	img  image.Image
	done bool
}

func NewImageSource(path string) (*ImageSource, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(errs.ErrSourceUnreadable, "%s: %v", path, err)
	}
	return &ImageSource{img: img}, nil
}

func (s *ImageSource) Next(ctx context.Context) (image.Image, error) {
	if s.done || s.img == nil {
		return nil, io.EOF
	}
	s.done = true
	return s.img, nil
}

func (s *ImageSource) TotalFrames() int { return 1 }
func (s *ImageSource) FPS() float64     { return 0 }

func (s *ImageSource) Close() error {
	s.img = nil
	return nil
}
