package capture

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"aerialvision/internal/errs"
	"aerialvision/internal/models"
)

// NewOpener returns the default Opener, backed by imaging for stills and
// ffmpeg for video.
func NewOpener(logger *zap.SugaredLogger) Opener {
	logger = logger.Named("capture")

	return func(ctx context.Context, path string, kind models.Kind) (FrameSource, error) {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errors.Wrap(errs.ErrSourceNotFound, path)
			}
			return nil, errors.Wrapf(errs.ErrSourceUnreadable, "%s: %v", path, err)
		}
		if info.IsDir() {
			return nil, errors.Wrapf(errs.ErrSourceUnreadable, "%s is a directory", path)
		}

		switch kind {
		case models.KindImage:
			return NewImageSource(path)
		case models.KindVideo:
			return NewVideoSource(ctx, path, logger)
		default:
			return nil, errors.Wrap(errs.ErrSourceUnreadable, fmt.Sprintf("unknown media kind %q", kind))
		}
	}
}
