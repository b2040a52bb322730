// Package pipeline turns a media source into annotated frames. Run is the
// synchronous frame loop; Runner executes it off the caller's goroutine.
package pipeline

import (
	"context"
	"image"
	"io"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"aerialvision/internal/errs"
	"aerialvision/internal/models"
	"aerialvision/processing/annotate"
	"aerialvision/processing/capture"
	"aerialvision/processing/detector"
)

// Run processes job to completion on the calling goroutine.
//
// onFrame fires once per frame read, in order, with either the annotated copy
// or the untouched source frame when FrameSkip skipped it. onProgress gets a
// non-decreasing percentage and always ends at 100 on success. isCancelled is
// polled before every read and again after every detector call; a true
// result, or ctx being done, ends the job with errs.ErrCancelled and the frame
// in flight is dropped. Any nil callback is ignored.
//
// Detector thresholds are read as they are during the run; configure them
// before calling Run.
func Run(
	ctx context.Context,
	logger *zap.SugaredLogger,
	job models.Job,
	det detector.Detector,
	open capture.Opener,
	onFrame func(models.Frame),
	onProgress func(int),
	isCancelled func() bool,
) (*models.Result, error) {
	if onFrame == nil {
		onFrame = func(models.Frame) {}
	}
	if onProgress == nil {
		onProgress = func(int) {}
	}
	cancelled := func() bool {
		return ctx.Err() != nil || (isCancelled != nil && isCancelled())
	}

	if cancelled() {
		return nil, errors.Wrap(errs.ErrCancelled, "before start")
	}

	src, err := open(ctx, job.Source, job.Kind)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := src.Close(); err != nil {
			logger.Warnw("close source", "job", job.ID, "error", err)
		}
	}()

	p := &processor{
		job:       job,
		settings:  job.Settings.Normalize(),
		det:       det,
		src:       src,
		onFrame:   onFrame,
		cancelled: cancelled,
		result: &models.Result{
			JobID:  job.ID,
			Source: job.Source,
			Kind:   job.Kind,
			FPS:    src.FPS(),
		},
	}

	if job.Kind == models.KindImage {
		err = p.runImage(ctx, onProgress)
	} else {
		err = p.runVideo(ctx, newProgress(src.TotalFrames(), onProgress))
	}
	if err != nil {
		if cancelled() && !errors.Is(err, errs.ErrCancelled) {
			logger.Debugw("error after stop request", "job", job.ID, "error", err)
			return nil, errors.Wrap(errs.ErrCancelled, err.Error())
		}
		return nil, err
	}

	return p.result, nil
}

type processor struct {
	job       models.Job
	settings  models.AnnotationSettings
	det       detector.Detector
	src       capture.FrameSource
	onFrame   func(models.Frame)
	cancelled func() bool
	result    *models.Result
}

func (p *processor) runImage(ctx context.Context, onProgress func(int)) error {
	img, err := p.src.Next(ctx)
	if err == io.EOF {
		return errors.Wrapf(errs.ErrSourceUnreadable, "%s: no image data", p.job.Source)
	}
	if err != nil {
		return asKind(err, errs.ErrSourceUnreadable, "read image")
	}

	frame, err := p.process(ctx, 1, img)
	if err != nil {
		return err
	}
	if p.cancelled() {
		return errors.Wrap(errs.ErrCancelled, "stopped during detection")
	}

	p.emit(frame)
	onProgress(100)
	return nil
}

func (p *processor) runVideo(ctx context.Context, prog *progress) error {
	for n := 1; ; n++ {
		if p.cancelled() {
			return errors.Wrapf(errs.ErrCancelled, "stopped after %d frames", n-1)
		}

		img, err := p.src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return asKind(err, errs.ErrSourceUnreadable, "read frame %d", n)
		}

		frame := models.Frame{Index: n, Original: img, Image: img, Detections: []models.Detection{}}
		if n%p.settings.FrameSkip == 0 {
			if frame, err = p.process(ctx, n, img); err != nil {
				return err
			}
			if p.cancelled() {
				return errors.Wrapf(errs.ErrCancelled, "stopped during detection on frame %d", n)
			}
		}

		p.emit(frame)
		prog.step(n)
	}

	prog.finish()
	return nil
}

// process detects on img and draws the result onto a copy.
func (p *processor) process(ctx context.Context, n int, img image.Image) (models.Frame, error) {
	dets, err := p.det.Detect(ctx, img)
	if err != nil {
		return models.Frame{}, asKind(err, errs.ErrDetectorFailure, "frame %d", n)
	}
	if dets == nil {
		dets = []models.Detection{}
	}

	return models.Frame{
		Index:      n,
		Original:   img,
		Image:      annotate.Annotate(img, dets, p.settings),
		Detections: dets,
	}, nil
}

func (p *processor) emit(frame models.Frame) {
	p.result.Frames = append(p.result.Frames, frame)
	p.onFrame(frame)
}

// asKind wraps err with kind unless it already carries a category. The cause
// stays reachable through errors.Is.
func asKind(err, kind error, format string, args ...interface{}) error {
	for _, known := range []error{
		errs.ErrSourceNotFound,
		errs.ErrSourceUnreadable,
		errs.ErrDetectorFailure,
		errs.ErrCancelled,
	} {
		if errors.Is(err, known) {
			return errors.Wrapf(err, format, args...)
		}
	}
	return errors.Wrapf(multierr.Combine(kind, err), format, args...)
}

// progress turns frame counts into percentages against a total hint that may
// be zero or wrong.
type progress struct {
	total    int
	last     int
	reported bool
	report   func(int)
}

func newProgress(total int, report func(int)) *progress {
	return &progress{total: total, report: report}
}

func (p *progress) step(n int) {
	pct := 0
	if p.total > 0 {
		pct = n * 100 / p.total
	}
	if pct > 100 {
		pct = 100
	}
	if pct < p.last {
		pct = p.last
	}

	p.last = pct
	p.reported = true
	p.report(pct)
}

func (p *progress) finish() {
	if p.reported && p.last == 100 {
		return
	}
	p.last = 100
	p.reported = true
	p.report(100)
}
