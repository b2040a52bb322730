package detector

import (
	"context"
	"encoding/json"
	"image"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"aerialvision/internal/errs"
	"aerialvision/internal/models"
)

// DetectionResult is one detection as sent by the detection server. Box is
// [y1, x1, y2, x2] normalized to the frame size.
type DetectionResult struct {
	Label      string    `json:"label"`
	Confidence float32   `json:"confidence"`
	Box        []float32 `json:"box"`
	ClassID    *int      `json:"class_id,omitempty"`
}

type detectParams struct {
	Confidence float64 `json:"confidence"`
	IoU        float64 `json:"iou"`
}

// RemoteDetector talks to a detection server over a websocket. Each Detect
// sends the thresholds as a text message followed by the JPEG frame and waits
// for one JSON reply. A broken connection is dropped and dialled again on the
// next call; a failed call is never retried.
type RemoteDetector struct {
	thresholds

	InputSize uint

	// Timeout bounds each Detect call, connecting included. Zero leaves only
	// the caller's context.
	Timeout time.Duration

	serverURL string
	classes   []string
	logger    *zap.SugaredLogger
	dialer    *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewRemoteDetector(host string, classes []string, logger *zap.SugaredLogger) (*RemoteDetector, error) {
	serverURL, err := websocketURL(host)
	if err != nil {
		return nil, err
	}

	return &RemoteDetector{
		thresholds: newThresholds(),
		InputSize:  640,
		Timeout:    DefaultTimeout,
		serverURL:  serverURL,
		classes:    classes,
		logger:     logger.Named("detector"),
		dialer:     websocket.DefaultDialer,
	}, nil
}

func websocketURL(host string) (string, error) {
	if !strings.Contains(host, "://") {
		u := url.URL{Scheme: "ws", Host: host, Path: "/ws"}
		return u.String(), nil
	}

	u, err := url.Parse(host)
	if err != nil {
		return "", errors.Wrapf(err, "parse detector url %q", host)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", errors.Errorf("unsupported detector url scheme %q", u.Scheme)
	}
	if u.Path == "" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

func (d *RemoteDetector) URL() string {
	return d.serverURL
}

func (d *RemoteDetector) Detect(ctx context.Context, frame image.Image) ([]models.Detection, error) {
	conf, iou := d.Thresholds()

	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	scaled := frame
	if d.InputSize > 0 {
		scaled = resize.Thumbnail(d.InputSize, d.InputSize, frame, resize.Bilinear)
	}
	payload, err := encodeJPEG(scaled)
	if err != nil {
		return nil, errors.Wrap(errs.ErrDetectorFailure, err.Error())
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	conn, err := d.connect(ctx)
	if err != nil {
		return nil, errors.Wrapf(errs.ErrDetectorFailure, "connect %s: %v", d.serverURL, err)
	}

	deadline, _ := ctx.Deadline()
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)

	if err := conn.WriteJSON(detectParams{Confidence: conf, IoU: iou}); err != nil {
		d.dropConn(err)
		return nil, errors.Wrapf(errs.ErrDetectorFailure, "send params: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		d.dropConn(err)
		return nil, errors.Wrapf(errs.ErrDetectorFailure, "send frame: %v", err)
	}

	_, message, err := conn.ReadMessage()
	if err != nil {
		d.dropConn(err)
		return nil, errors.Wrapf(errs.ErrDetectorFailure, "read result: %v", err)
	}

	var results []DetectionResult
	if err := json.Unmarshal(message, &results); err != nil {
		return nil, errors.Wrapf(errs.ErrDetectorFailure, "decode result: %v", err)
	}

	b := frame.Bounds()
	dets := make([]models.Detection, 0, len(results))
	for _, res := range results {
		det, ok := d.toDetection(res, b)
		if !ok {
			d.logger.Debugw("dropping detection with short box", "label", res.Label, "box", res.Box)
			continue
		}
		dets = append(dets, det)
	}

	return keepValid(dets, conf, d.logger), nil
}

func (d *RemoteDetector) toDetection(res DetectionResult, b image.Rectangle) (models.Detection, bool) {
	if len(res.Box) < 4 {
		return models.Detection{}, false
	}

	imgWidth := float64(b.Dx())
	imgHeight := float64(b.Dy())

	y1 := int(models.Clamp01(float64(res.Box[0])) * imgHeight)
	x1 := int(models.Clamp01(float64(res.Box[1])) * imgWidth)
	y2 := int(models.Clamp01(float64(res.Box[2])) * imgHeight)
	x2 := int(models.Clamp01(float64(res.Box[3])) * imgWidth)

	det := models.Detection{
		Box:        models.Box{X1: x1, Y1: y1, X2: x2, Y2: y2},
		Confidence: models.Clamp01(float64(res.Confidence)),
		ClassName:  res.Label,
	}
	if res.ClassID != nil {
		det.ClassID = *res.ClassID
		if det.ClassName == "" {
			det.ClassName = className(d.classes, det.ClassID)
		}
	} else {
		det.ClassID = classID(d.classes, res.Label)
	}

	return det, true
}

func (d *RemoteDetector) connect(ctx context.Context) (*websocket.Conn, error) {
	if d.conn != nil {
		return d.conn, nil
	}

	d.logger.Infow("connecting to detector server", "url", d.serverURL)
	conn, _, err := d.dialer.DialContext(ctx, d.serverURL, nil)
	if err != nil {
		return nil, err
	}
	d.logger.Info("connected to detection server")

	d.conn = conn
	return conn, nil
}

func (d *RemoteDetector) dropConn(cause error) {
	d.logger.Warnw("connection lost", "error", cause)
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
	}
}

func (d *RemoteDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := d.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	err = multierr.Append(err, d.conn.Close())
	d.conn = nil

	return err
}
