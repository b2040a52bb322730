// Package output persists annotated frames as images, videos and detection
// dumps.
package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/draw"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"aerialvision/internal/errs"
	"aerialvision/internal/models"
)

const (
	DefaultSuffix  = "_detected"
	DefaultQuality = 95
	DefaultFPS     = 24.0
	DefaultCodec   = "mp4v"
)

type FrameSink interface {
	WriteImage(img image.Image, path string, quality int) (string, error)
	WriteVideo(ctx context.Context, frames []image.Image, path string, fps float64, codec string) (string, error)
}

type Sink struct {
	logger *zap.SugaredLogger
}

func NewSink(logger *zap.SugaredLogger) *Sink {
	return &Sink{logger: logger.Named("output")}
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(errs.ErrWrite, "create %s: %v", filepath.Dir(path), err)
	}
	return nil
}

// WriteImage saves img in the format implied by the extension of path.
// quality applies to JPEG output.
func (s *Sink) WriteImage(img image.Image, path string, quality int) (string, error) {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	if err := ensureDir(path); err != nil {
		return "", err
	}

	if err := imaging.Save(img, path, imaging.JPEGQuality(quality)); err != nil {
		return "", errors.Wrapf(errs.ErrWrite, "save %s: %v", path, err)
	}

	s.logger.Infow("image saved", "path", path)
	return path, nil
}

// ffmpegCodec maps OpenCV style fourcc codes to ffmpeg encoder names.
func ffmpegCodec(codec string) string {
	switch strings.ToLower(codec) {
	case "", "mp4v", "xvid", "divx":
		return "mpeg4"
	case "avc1", "h264", "x264":
		return "libx264"
	case "mjpg":
		return "mjpeg"
	case "vp80":
		return "libvpx"
	default:
		return codec
	}
}

// WriteVideo encodes frames at fps. All frames must share the size of the
// first one.
func (s *Sink) WriteVideo(ctx context.Context, frames []image.Image, path string, fps float64, codec string) (string, error) {
	if len(frames) == 0 {
		return "", errors.Wrap(errs.ErrWrite, "no frames to save")
	}
	if fps <= 0 {
		fps = DefaultFPS
	}
	if err := ensureDir(path); err != nil {
		return "", err
	}

	size := frames[0].Bounds().Size()
	pr, pw := io.Pipe()
	var stderr bytes.Buffer

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		defer func() { pw.CloseWithError(err) }()

		for i, frame := range frames {
			if frame.Bounds().Size() != size {
				err = errors.Errorf("frame %d is %v, expected %v", i+1, frame.Bounds().Size(), size)
				return err
			}
			if _, err = pw.Write(rawRGBA(frame).Pix); err != nil {
				return errors.Wrapf(err, "write frame %d", i+1)
			}
		}
		return nil
	})

	g.Go(func() error {
		stream := ffmpeg.Input("pipe:", ffmpeg.KwArgs{
			"format":    "rawvideo",
			"pix_fmt":   "rgba",
			"s":         fmt.Sprintf("%dx%d", size.X, size.Y),
			"framerate": fps,
		}).Output(path, ffmpeg.KwArgs{
			"vcodec":  ffmpegCodec(codec),
			"pix_fmt": "yuv420p",
			"vf":      "pad=ceil(iw/2)*2:ceil(ih/2)*2",
		}).OverWriteOutput()
		// the context must be set before WithInput, which stores the pipe in it
		stream.Context = gctx

		err := stream.WithInput(pr).WithErrorOutput(&stderr).Run()
		if err != nil {
			err = errors.Wrapf(err, "ffmpeg: %s", strings.TrimSpace(stderr.String()))
		}
		// unblock the writer if ffmpeg went away early
		pr.CloseWithError(io.ErrClosedPipe)
		return err
	})

	if err := g.Wait(); err != nil {
		os.Remove(path)
		return "", errors.Wrapf(errs.ErrWrite, "encode %s: %v", path, err)
	}

	s.logger.Infow("video saved", "path", path, "frames", len(frames), "fps", fps)
	return path, nil
}

func rawRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) && rgba.Stride == b.Dx()*4 {
		return rgba
	}
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// OutputPath builds <dir>/<input stem><suffix><ext>. An empty dir keeps the
// input's directory, an empty ext keeps the input's extension.
func OutputPath(dir, input, suffix, ext string) string {
	if ext == "" {
		ext = filepath.Ext(input)
	}
	if dir == "" {
		dir = filepath.Dir(input)
	}
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(dir, stem+suffix+ext)
}

// ResultPath names the export of result under dir. Images keep the source
// extension, videos are always written as .mp4.
func ResultPath(dir string, result *models.Result) string {
	ext := ""
	if result.Kind != models.KindImage {
		ext = ".mp4"
	}
	return OutputPath(dir, result.Source, DefaultSuffix, ext)
}

// DetectionsPath is the JSON file written next to an exported result.
func DetectionsPath(resultPath string) string {
	return OutputPath("", resultPath, "", ".json")
}

type frameDetections struct {
	Index      int                `json:"index"`
	Detections []models.Detection `json:"detections"`
}

type detectionsFile struct {
	JobID  string            `json:"job_id"`
	Source string            `json:"source,omitempty"`
	Kind   models.Kind       `json:"kind"`
	FPS    float64           `json:"fps,omitempty"`
	Total  int               `json:"total_detections"`
	Frames []frameDetections `json:"frames"`
}

// WriteDetections dumps the per-frame detections of result as JSON.
func (s *Sink) WriteDetections(result *models.Result, path string) (string, error) {
	if err := ensureDir(path); err != nil {
		return "", err
	}

	out := detectionsFile{
		JobID:  result.JobID,
		Source: result.Source,
		Kind:   result.Kind,
		FPS:    result.FPS,
		Total:  result.TotalDetections(),
		Frames: make([]frameDetections, 0, len(result.Frames)),
	}
	for _, f := range result.Frames {
		out.Frames = append(out.Frames, frameDetections{Index: f.Index, Detections: f.Detections})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", errors.Wrapf(errs.ErrWrite, "encode detections: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrapf(errs.ErrWrite, "write %s: %v", path, err)
	}

	return path, nil
}
