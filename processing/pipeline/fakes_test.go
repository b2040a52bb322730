package pipeline

import (
	"context"
	"image"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"aerialvision/internal/models"
	"aerialvision/processing/capture"
)

func solidFrame(c uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c, c, c, 255
	}
	return img
}

func frames(n int) []image.Image {
	out := make([]image.Image, n)
	for i := range out {
		out[i] = solidFrame(uint8(i * 10))
	}
	return out
}

type sliceSource struct {
	frames []image.Image
	total  int
	pos    int
	failAt int
	closed *atomic.Bool
}

func (s *sliceSource) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.failAt > 0 && s.pos+1 == s.failAt {
		return nil, errors.New("corrupt packet")
	}
	if s.pos >= len(s.frames) {
		return nil, io.EOF
	}
	img := s.frames[s.pos]
	s.pos++
	return img, nil
}

func (s *sliceSource) TotalFrames() int { return s.total }
func (s *sliceSource) FPS() float64     { return 25 }

func (s *sliceSource) Close() error {
	s.closed.Store(true)
	return nil
}

// fakeMedia hands out sliceSources and remembers whether the last one was
// closed.
type fakeMedia struct {
	frames []image.Image
	total  int
	failAt int
	closed *atomic.Bool
	opened *atomic.Int32
}

func newFakeMedia(fr []image.Image) *fakeMedia {
	return &fakeMedia{
		frames: fr,
		total:  len(fr),
		closed: atomic.NewBool(false),
		opened: atomic.NewInt32(0),
	}
}

func (m *fakeMedia) opener() capture.Opener {
	return func(ctx context.Context, path string, kind models.Kind) (capture.FrameSource, error) {
		m.opened.Inc()
		return &sliceSource{
			frames: m.frames,
			total:  m.total,
			failAt: m.failAt,
			closed: m.closed,
		}, nil
	}
}

type fakeDetector struct {
	mu    sync.Mutex
	seen  []image.Image
	dets  []models.Detection
	err   error
	delay time.Duration
	gate  chan struct{}

	// entered counts calls that reached Detect, including ones held at gate
	entered atomic.Int32

	conf, iou float64
}

func (d *fakeDetector) Detect(ctx context.Context, frame image.Image) ([]models.Detection, error) {
	d.entered.Inc()
	if d.gate != nil {
		<-d.gate
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = append(d.seen, frame)
	if d.err != nil {
		return nil, d.err
	}
	return append([]models.Detection(nil), d.dets...), nil
}

func (d *fakeDetector) calls() []image.Image {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]image.Image(nil), d.seen...)
}

func (d *fakeDetector) SetThresholds(conf, iou float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conf, d.iou = models.Clamp01(conf), models.Clamp01(iou)
}

func (d *fakeDetector) Thresholds() (float64, float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conf, d.iou
}

func (d *fakeDetector) Close() error { return nil }

var carDetection = models.Detection{
	Box:        models.Box{X1: 10, Y1: 10, X2: 40, Y2: 30},
	Confidence: 0.9,
	ClassID:    3,
	ClassName:  "car",
}

// recorder collects events from any goroutine.
type recorder struct {
	mu        sync.Mutex
	frames    []models.Frame
	progress  []int
	completed []*models.Result
	cancelled int
	failed    []error
}

func newRecorder() *recorder {
	return &recorder{}
}

func (r *recorder) onFrame(f models.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
}

func (r *recorder) onProgress(p int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, p)
}

func (r *recorder) events() Events {
	return Events{
		OnProgress: r.onProgress,
		OnFrame:    r.onFrame,
		OnCompleted: func(res *models.Result) {
			r.mu.Lock()
			r.completed = append(r.completed, res)
			r.mu.Unlock()
		},
		OnCancelled: func() {
			r.mu.Lock()
			r.cancelled++
			r.mu.Unlock()
		},
		OnFailed: func(err error) {
			r.mu.Lock()
			r.failed = append(r.failed, err)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) counts() (frames, progress, terminal int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames), len(r.progress), len(r.completed) + r.cancelled + len(r.failed)
}
