package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"aerialvision/internal/config"
	"aerialvision/internal/errs"
	"aerialvision/internal/models"
	"aerialvision/processing/detector"
	"aerialvision/processing/output"
	"aerialvision/processing/pipeline"
)

const (
	flagInput          = "input"
	flagOutput         = "output"
	flagDetectorURL    = "detector-url"
	flagDetectorKind   = "detector-kind"
	flagFrameSkip      = "frame-skip"
	flagConfidence     = "conf"
	flagIoU            = "iou"
	flagShowBoxes      = "boxes"
	flagShowLabels     = "labels"
	flagShowConfidence = "confidence"
	flagShowCount      = "count"
	flagJSON           = "json"
)

func detectCommand() *cli.Command {
	return &cli.Command{
		Name:      "detect",
		Usage:     "run detection on one image or video without the GUI",
		UsageText: "aerialvision detect --input <path> [other options]",
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:     flagInput,
				Aliases:  []string{"i"},
				Required: true,
				Usage:    "image or video to process",
			},
			&cli.PathFlag{
				Name:    flagOutput,
				Aliases: []string{"o"},
				Usage:   "where to write the annotated result, defaults to the output dir",
			},
			&cli.StringFlag{
				Name:  flagDetectorURL,
				Usage: "detector service address",
			},
			&cli.StringFlag{
				Name:  flagDetectorKind,
				Usage: "detector transport: websocket or http",
			},
			&cli.IntFlag{
				Name:  flagFrameSkip,
				Usage: "run detection on every Nth video frame",
			},
			&cli.Float64Flag{
				Name:  flagConfidence,
				Usage: "confidence threshold",
			},
			&cli.Float64Flag{
				Name:  flagIoU,
				Usage: "IoU threshold",
			},
			&cli.BoolFlag{Name: flagShowBoxes, Usage: "draw bounding boxes"},
			&cli.BoolFlag{Name: flagShowLabels, Usage: "draw class labels"},
			&cli.BoolFlag{Name: flagShowConfidence, Usage: "append confidence to labels"},
			&cli.BoolFlag{Name: flagShowCount, Usage: "draw the per-class count panel"},
			&cli.BoolFlag{Name: flagJSON, Usage: "also write detections as JSON next to the output"},
		},
		Action: detectAction,
	}
}

// settingsFromFlags overrides the saved settings with the flags that were
// given explicitly.
func settingsFromFlags(c *cli.Context, s models.AnnotationSettings) models.AnnotationSettings {
	if c.IsSet(flagFrameSkip) {
		s.FrameSkip = c.Int(flagFrameSkip)
	}
	if c.IsSet(flagConfidence) {
		s.ConfidenceThreshold = c.Float64(flagConfidence)
	}
	if c.IsSet(flagIoU) {
		s.IoUThreshold = c.Float64(flagIoU)
	}
	if c.IsSet(flagShowBoxes) {
		s.ShowBoxes = c.Bool(flagShowBoxes)
	}
	if c.IsSet(flagShowLabels) {
		s.ShowLabels = c.Bool(flagShowLabels)
	}
	if c.IsSet(flagShowConfidence) {
		s.ShowConfidence = c.Bool(flagShowConfidence)
	}
	if c.IsSet(flagShowCount) {
		s.ShowCount = c.Bool(flagShowCount)
	}
	return s.Normalize()
}

func detectAction(c *cli.Context) (err error) {
	cfg := config.LoadConfigFile(c.Path(flagConfig))
	if c.IsSet(flagDetectorURL) {
		cfg.SetDetectorURL(c.String(flagDetectorURL))
	}
	if c.IsSet(flagDetectorKind) {
		cfg.SetDetectorKind(config.DetectorKind(c.String(flagDetectorKind)))
	}

	logger := newLogger(cfg)
	defer logger.Sync()

	input := c.Path(flagInput)
	kind, ok := models.KindFromPath(input)
	if !ok {
		return cli.Exit("unsupported media type: "+input, 2)
	}

	det, err := detector.New(cfg.GetDetector(), logger)
	if err != nil {
		return errors.Wrap(err, "create detector")
	}
	defer func() {
		err = multierr.Append(err, det.Close())
	}()

	settings := settingsFromFlags(c, cfg.Snapshot())
	detector.ConfigureFromSettings(det, settings)
	job := models.NewJob(input, kind, settings)

	result, err := runHeadless(c.Context, logger, job, det)
	if err != nil {
		return cli.Exit(errs.Message(err)+": "+err.Error(), 1)
	}

	path, err := writeResult(c.Context, logger, cfg.GetOutput(), c.Path(flagOutput), c.Bool(flagJSON), result)
	if err != nil {
		return cli.Exit(errs.Message(err)+": "+err.Error(), 1)
	}

	logger.Infow("done", "output", path, "frames", len(result.Frames), "detections", result.TotalDetections())
	return nil
}

// runHeadless runs job on a Runner and waits for it. SIGINT and SIGTERM stop
// the job at the next frame.
func runHeadless(ctx context.Context, logger *zap.SugaredLogger, job models.Job, det detector.Detector) (*models.Result, error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		result  *models.Result
		jobErr  error
		lastPct = -1
	)

	runner := pipeline.NewRunner(logger, nil)
	events := pipeline.Events{
		OnProgress: func(p int) {
			if p == 100 || p >= lastPct+10 {
				logger.Infow("progress", "percent", p)
				lastPct = p
			}
		},
		OnCompleted: func(res *models.Result) {
			result = res
		},
		OnCancelled: func() {
			jobErr = errs.ErrCancelled
		},
		OnFailed: func(err error) {
			jobErr = err
		},
	}

	if err := runner.Start(context.Background(), job, det, events); err != nil {
		return nil, err
	}

	finished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			logger.Warn("interrupted, stopping")
			runner.Stop()
		case <-finished:
		}
	}()

	runner.Wait()
	close(finished)

	return result, jobErr
}

func writeResult(
	ctx context.Context,
	logger *zap.SugaredLogger,
	out config.OutputConfig,
	target string,
	withJSON bool,
	result *models.Result,
) (string, error) {
	sink := output.NewSink(logger)

	var (
		path string
		err  error
	)
	if target == "" {
		target = output.ResultPath(out.Dir, result)
	}

	switch result.Kind {
	case models.KindImage:
		path, err = sink.WriteImage(result.Frames[0].Image, target, out.JPEGQuality)
	default:
		fps := result.FPS
		if fps <= 0 {
			fps = out.FPS
		}
		path, err = sink.WriteVideo(ctx, result.Images(), target, fps, out.Codec)
	}
	if err != nil {
		return "", err
	}

	if withJSON {
		if _, err := sink.WriteDetections(result, output.DetectionsPath(path)); err != nil {
			return "", err
		}
	}

	return path, nil
}
