package detector

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"aerialvision/internal/config"
	"aerialvision/internal/models"
)

// Detector runs inference on a single frame. Thresholds are shared state:
// callers configure them before a job starts and leave them alone while it
// runs.
type Detector interface {
	Detect(ctx context.Context, frame image.Image) ([]models.Detection, error)
	SetThresholds(confidence, iou float64)
	Thresholds() (confidence, iou float64)
	Close() error
}

type thresholds struct {
	mu         sync.RWMutex
	confidence float64
	iou        float64
}

func newThresholds() thresholds {
	return thresholds{
		confidence: models.DefaultConfidenceThreshold,
		iou:        models.DefaultIoUThreshold,
	}
}

// SetThresholds clamps both values to [0,1].
func (t *thresholds) SetThresholds(confidence, iou float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.confidence = models.Clamp01(confidence)
	t.iou = models.Clamp01(iou)
}

func (t *thresholds) Thresholds() (float64, float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.confidence, t.iou
}

// DefaultTimeout bounds one Detect call unless the config sets another.
const DefaultTimeout = 60 * time.Second

func New(cfg config.DetectorConfig, logger *zap.SugaredLogger) (Detector, error) {
	switch cfg.Kind {
	case config.DetectorWebsocket:
		d, err := NewRemoteDetector(cfg.URL, cfg.Classes, logger)
		if err != nil {
			return nil, err
		}
		if cfg.InputSize > 0 {
			d.InputSize = cfg.InputSize
		}
		if t := cfg.CallTimeout(); t > 0 {
			d.Timeout = t
		}
		return d, nil
	case config.DetectorHTTP:
		d := NewHTTPDetector(cfg.URL, cfg.Classes, logger)
		if t := cfg.CallTimeout(); t > 0 {
			d.client.Timeout = t
		}
		return d, nil
	default:
		return nil, errors.Errorf("unknown detector kind: %s", cfg.Kind)
	}
}

// ConfigureFromSettings pushes the job's thresholds into det. It must run
// before the job is started.
func ConfigureFromSettings(det Detector, s models.AnnotationSettings) {
	det.SetThresholds(s.ConfidenceThreshold, s.IoUThreshold)
}

func classID(classes []string, name string) int {
	for i, c := range classes {
		if c == name {
			return i
		}
	}
	return -1
}

func className(classes []string, id int) string {
	if id >= 0 && id < len(classes) {
		return classes[id]
	}
	return ""
}

// keepValid drops malformed boxes and detections under the confidence
// threshold, preserving detector order.
func keepValid(in []models.Detection, minConfidence float64, logger *zap.SugaredLogger) []models.Detection {
	out := make([]models.Detection, 0, len(in))
	for _, d := range in {
		if !d.Valid() {
			logger.Debugw("dropping malformed detection", "box", d.Box, "class", d.ClassName)
			continue
		}
		if d.Confidence < minConfidence {
			continue
		}
		out = append(out, d)
	}
	return out
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, errors.Wrap(err, "jpeg encode")
	}
	return buf.Bytes(), nil
}
