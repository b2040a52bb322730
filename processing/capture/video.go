package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"aerialvision/internal/errs"
)

const bytesPerPixel = 4

// VideoSource decodes a video file with ffmpeg into RGBA frames streamed
// over a pipe.
type VideoSource struct {
	closeOnce sync.Once
	closed    atomic.Bool
	waitOnce  sync.Once
	waitErr   error

	path string
	info VideoInfo

	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr bytes.Buffer

	frameSize int
	read      int

	logger *zap.SugaredLogger
}

func NewVideoSource(ctx context.Context, path string, logger *zap.SugaredLogger) (*VideoSource, error) {
	info, err := ProbeVideo(path)
	if err != nil {
		return nil, errors.Wrapf(errs.ErrSourceUnreadable, "%s: %v", path, err)
	}

	vs := &VideoSource{
		path:      path,
		info:      info,
		frameSize: info.Width * info.Height * bytesPerPixel,
		logger:    logger,
	}

	stream := ffmpeg.Input(path).Output("pipe:", ffmpeg.KwArgs{
		"format":  "rawvideo",
		"pix_fmt": "rgba",
		"s":       fmt.Sprintf("%dx%d", info.Width, info.Height),
	})
	stream.Context = ctx

	vs.cmd = stream.Compile()
	vs.cmd.Stderr = &vs.stderr

	stdout, err := vs.cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrapf(errs.ErrSourceUnreadable, "%s: %v", path, err)
	}
	vs.stdout = stdout

	if err := vs.cmd.Start(); err != nil {
		return nil, errors.Wrapf(errs.ErrSourceUnreadable, "start ffmpeg: %v", err)
	}

	logger.Debugw("video opened", "path", path, "width", info.Width, "height", info.Height,
		"fps", info.FPS, "frames", info.TotalFrames)

	return vs, nil
}

func (vs *VideoSource) Info() VideoInfo  { return vs.info }
func (vs *VideoSource) TotalFrames() int { return vs.info.TotalFrames }
func (vs *VideoSource) FPS() float64     { return vs.info.FPS }
func (vs *VideoSource) FramesRead() int  { return vs.read }

func (vs *VideoSource) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pixelData := make([]byte, vs.frameSize)
	_, err := io.ReadFull(vs.stdout, pixelData)
	switch {
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		werr := vs.wait()
		switch {
		case werr == nil || vs.closed.Load():
			return nil, io.EOF
		case ctx.Err() != nil:
			return nil, ctx.Err()
		}
		// ffmpeg died before the end of the stream
		return nil, errors.Wrapf(errs.ErrSourceUnreadable, "decode %s after %d frames: %v: %s",
			vs.path, vs.read, werr, strings.TrimSpace(vs.stderr.String()))
	case err != nil:
		return nil, errors.Wrapf(errs.ErrSourceUnreadable, "read frame %d: %v", vs.read+1, err)
	}

	vs.read++

	return &image.RGBA{
		Pix:    pixelData,
		Stride: vs.info.Width * bytesPerPixel,
		Rect:   image.Rect(0, 0, vs.info.Width, vs.info.Height),
	}, nil
}

func (vs *VideoSource) wait() error {
	vs.waitOnce.Do(func() {
		vs.waitErr = vs.cmd.Wait()
	})
	return vs.waitErr
}

// Close stops ffmpeg if it is still decoding and releases the pipe.
func (vs *VideoSource) Close() error {
	vs.closeOnce.Do(func() {
		vs.closed.Store(true)
		if vs.cmd != nil && vs.cmd.Process != nil && vs.cmd.ProcessState == nil {
			vs.cmd.Process.Kill()
		}
		vs.wait()
	})
	return nil
}
