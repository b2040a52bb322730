package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"aerialvision/internal/errs"
	"aerialvision/internal/models"
)

// BoundingBox is the HTTP inference service's detection format, in pixels of
// the uploaded frame.
type BoundingBox struct {
	X      int     `json:"x"`
	Y      int     `json:"y"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Class  string  `json:"class"`
	Conf   float32 `json:"confidence"`
}

// HTTPDetector posts each frame as a multipart upload to an inference
// service.
type HTTPDetector struct {
	thresholds

	inferenceURL string
	classes      []string
	client       *http.Client
	logger       *zap.SugaredLogger
}

func NewHTTPDetector(inferenceURL string, classes []string, logger *zap.SugaredLogger) *HTTPDetector {
	if !strings.Contains(inferenceURL, "://") {
		inferenceURL = "http://" + inferenceURL
	}

	return &HTTPDetector{
		thresholds:   newThresholds(),
		inferenceURL: inferenceURL,
		classes:      classes,
		client:       &http.Client{Timeout: DefaultTimeout},
		logger:       logger.Named("detector"),
	}
}

func (m *HTTPDetector) Detect(ctx context.Context, frame image.Image) ([]models.Detection, error) {
	conf, iou := m.Thresholds()

	imageData, err := encodeJPEG(frame)
	if err != nil {
		return nil, errors.Wrap(errs.ErrDetectorFailure, err.Error())
	}

	body := &bytes.Buffer{}
	contentType, err := writeUpload(body, imageData)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(m.inferenceURL)
	if err != nil {
		return nil, errors.Wrapf(errs.ErrDetectorFailure, "parse url: %v", err)
	}
	q := u.Query()
	q.Set("conf", strconv.FormatFloat(conf, 'f', -1, 64))
	q.Set("iou", strconv.FormatFloat(iou, 'f', -1, 64))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), body)
	if err != nil {
		return nil, errors.Wrapf(errs.ErrDetectorFailure, "create request: %v", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(errs.ErrDetectorFailure, "send request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(errs.ErrDetectorFailure, "inference failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Detections []BoundingBox `json:"detections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Wrapf(errs.ErrDetectorFailure, "decode response: %v", err)
	}

	dets := make([]models.Detection, 0, len(result.Detections))
	for _, bb := range result.Detections {
		dets = append(dets, models.Detection{
			Box:        models.Box{X1: bb.X, Y1: bb.Y, X2: bb.X + bb.Width, Y2: bb.Y + bb.Height},
			Confidence: models.Clamp01(float64(bb.Conf)),
			ClassID:    classID(m.classes, bb.Class),
			ClassName:  bb.Class,
		})
	}

	return keepValid(dets, conf, m.logger), nil
}

// writeUpload writes imageData to w as the "file" part of a multipart form and
// returns the matching content type.
func writeUpload(w io.Writer, imageData []byte) (string, error) {
	writer := multipart.NewWriter(w)

	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return "", errors.Wrapf(errs.ErrDetectorFailure, "create form file: %v", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(imageData)); err != nil {
		return "", errors.Wrapf(errs.ErrDetectorFailure, "copy image data: %v", err)
	}
	if err := writer.Close(); err != nil {
		return "", errors.Wrapf(errs.ErrDetectorFailure, "finish form: %v", err)
	}

	return writer.FormDataContentType(), nil
}

// CheckHealth probes <inference url>/health.
func (m *HTTPDetector) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(m.inferenceURL, "/")+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("ml service unhealthy: %d", resp.StatusCode)
	}

	return nil
}

func (m *HTTPDetector) Close() error {
	m.client.CloseIdleConnections()
	return nil
}
