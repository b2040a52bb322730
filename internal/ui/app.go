package ui

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"aerialvision/internal/config"
	"aerialvision/internal/errs"
	"aerialvision/internal/models"
	"aerialvision/internal/ui/cwidget"
	"aerialvision/processing/annotate"
	"aerialvision/processing/detector"
	"aerialvision/processing/output"
	"aerialvision/processing/pipeline"
)

type DetectApp struct {
	fyneApp fyne.App
	mainWin fyne.Window
	logger  *zap.SugaredLogger

	config     *config.Config
	configPath string
	runner     *pipeline.Runner
	sink       *output.Sink

	detMu  sync.Mutex
	det    detector.Detector
	detCfg config.DetectorConfig

	resultMu sync.Mutex
	result   *models.Result

	frameChan chan models.Frame

	pathEntry   *widget.Entry
	startBtn    *widget.Button
	stopBtn     *widget.Button
	exportBtn   *widget.Button
	progressBar *widget.ProgressBar
	statusLabel *widget.Label
	detectLabel *widget.Label
	videoCanvas *canvas.Image
}

func CreateApp(cfg *config.Config, cfgPath string, det detector.Detector, runner *pipeline.Runner, logger *zap.SugaredLogger) *DetectApp {
	a := app.New()
	w := a.NewWindow("Aerial Object Detection")

	w.Resize(fyne.NewSize(1280, 720))

	return &DetectApp{
		fyneApp:    a,
		mainWin:    w,
		logger:     logger.Named("ui"),
		config:     cfg,
		configPath: cfgPath,
		runner:     runner,
		sink:       output.NewSink(logger),
		det:        det,
		detCfg:     cfg.GetDetector(),
		frameChan:  make(chan models.Frame, 1),
	}
}

func (a *DetectApp) Run() {
	settingsLabel := widget.NewLabelWithStyle("Configuration", fyne.TextAlignLeading, fyne.TextStyle{Bold: true})

	a.videoCanvas = canvas.NewImageFromImage(nil)
	a.videoCanvas.FillMode = canvas.ImageFillContain
	a.videoCanvas.SetMinSize(fyne.NewSize(640, 480))

	a.statusLabel = widget.NewLabel("Ready")
	a.detectLabel = widget.NewLabel(a.formatDetections(0, 0))
	a.progressBar = widget.NewProgressBar()

	videoContainer := container.NewBorder(
		container.NewHBox(a.statusLabel, widget.NewSeparator(), a.detectLabel),
		a.progressBar, nil, nil,
		a.videoCanvas,
	)

	a.startBtn = widget.NewButtonWithIcon("Start Detection", theme.MediaPlayIcon(), a.StartProcessing)
	a.stopBtn = widget.NewButtonWithIcon("Stop", theme.MediaStopIcon(), a.StopProcessing)
	a.stopBtn.Disable()
	a.exportBtn = widget.NewButtonWithIcon("Save Result", theme.DocumentSaveIcon(), a.ExportResult)
	a.exportBtn.Disable()

	sidebar := container.NewVBox(
		settingsLabel,
		widget.NewSeparator(),
		a.sourceSettings(),
		widget.NewSeparator(),
		a.annotationSettings(),
		widget.NewSeparator(),
		a.detectorSettings(),
		widget.NewSeparator(),
		container.NewGridWithColumns(2, a.startBtn, a.stopBtn),
		a.exportBtn,
	)

	split := container.NewHSplit(
		container.NewVScroll(container.NewPadded(sidebar)),
		container.NewPadded(videoContainer),
	)
	split.SetOffset(0.3)

	a.mainWin.SetContent(split)

	a.mainWin.SetCloseIntercept(func() {
		a.runner.Stop()
		a.closeDetector()
		a.saveConfig()
		a.mainWin.Close()
	})

	a.mainWin.CenterOnScreen()
	a.mainWin.ShowAndRun()
}

func (a *DetectApp) saveConfig() {
	var err error
	if a.configPath == "" {
		err = a.config.SaveByDefault()
	} else {
		err = a.config.Save(a.configPath)
	}
	if err != nil {
		a.logger.Errorw("save config", "error", err)
	}
}

func (a *DetectApp) sourceSettings() fyne.CanvasObject {
	a.pathEntry = widget.NewEntry()
	a.pathEntry.SetPlaceHolder("/path/to/image.jpg or video.mp4")
	a.pathEntry.SetText(a.config.GetLastPath())
	a.pathEntry.OnChanged = func(s string) {
		a.config.SetLastPath(s)
	}

	fileBtn := widget.NewButtonWithIcon("Open File", theme.FolderOpenIcon(), func() {
		dialog.ShowFileOpen(func(reader fyne.URIReadCloser, err error) {
			if err == nil && reader != nil {
				path := reader.URI().Path()
				reader.Close()
				a.pathEntry.SetText(path)
			}
		}, a.mainWin)
	})

	return container.NewVBox(
		widget.NewLabel("Media Path:"),
		container.NewBorder(nil, nil, nil, fileBtn, a.pathEntry),
	)
}

func (a *DetectApp) annotationSettings() fyne.CanvasObject {
	s := a.config.Snapshot()

	update := func(fn func(*models.AnnotationSettings)) {
		cur := a.config.Snapshot()
		fn(&cur)
		a.config.SetAnnotation(cur)
	}

	boxes := widget.NewCheck("Show boxes", func(v bool) {
		update(func(s *models.AnnotationSettings) { s.ShowBoxes = v })
	})
	boxes.SetChecked(s.ShowBoxes)

	labels := widget.NewCheck("Show labels", func(v bool) {
		update(func(s *models.AnnotationSettings) { s.ShowLabels = v })
	})
	labels.SetChecked(s.ShowLabels)

	conf := widget.NewCheck("Show confidence", func(v bool) {
		update(func(s *models.AnnotationSettings) { s.ShowConfidence = v })
	})
	conf.SetChecked(s.ShowConfidence)

	count := widget.NewCheck("Show count", func(v bool) {
		update(func(s *models.AnnotationSettings) { s.ShowCount = v })
	})
	count.SetChecked(s.ShowCount)

	sideBySide := widget.NewCheck("Side by side", a.config.SetSideBySide)
	sideBySide.SetChecked(a.config.GetSideBySide())

	confLabel := widget.NewLabel(a.formatThreshold("Confidence", s.ConfidenceThreshold))
	confSlider := widget.NewSlider(0, 1)
	confSlider.Step = 0.01
	confSlider.SetValue(s.ConfidenceThreshold)
	confSlider.OnChanged = func(v float64) {
		_, iou := a.config.GetThresholds()
		a.config.SetThresholds(v, iou)
		confLabel.SetText(a.formatThreshold("Confidence", v))
	}

	iouLabel := widget.NewLabel(a.formatThreshold("IoU", s.IoUThreshold))
	iouSlider := widget.NewSlider(0, 1)
	iouSlider.Step = 0.01
	iouSlider.SetValue(s.IoUThreshold)
	iouSlider.OnChanged = func(v float64) {
		c, _ := a.config.GetThresholds()
		a.config.SetThresholds(c, v)
		iouLabel.SetText(a.formatThreshold("IoU", v))
	}

	skipInput := cwidget.NewIntInput(
		"Frame skip",
		"Enter integer",
		s.FrameSkip,
		1,
		a.config.SetFrameSkip,
	)

	return container.NewVBox(
		boxes, labels, conf, count, sideBySide,
		confLabel, confSlider,
		iouLabel, iouSlider,
		skipInput,
	)
}

func (a *DetectApp) detectorSettings() fyne.CanvasObject {
	d := a.config.GetDetector()

	kindSelect := widget.NewSelect(config.DetectorKindsList[:], func(s string) {
		a.config.SetDetectorKind(config.DetectorKind(s))
	})
	kindSelect.SetSelected(string(d.Kind))

	urlEntry := widget.NewEntry()
	urlEntry.SetPlaceHolder(config.DefaultDetectorURL)
	urlEntry.SetText(d.URL)
	urlEntry.OnChanged = a.config.SetDetectorURL

	return container.NewVBox(
		widget.NewLabel("Detector:"),
		kindSelect,
		urlEntry,
	)
}

// currentDetector rebuilds the detector when its settings changed since the
// last job.
func (a *DetectApp) currentDetector() (detector.Detector, error) {
	a.detMu.Lock()
	defer a.detMu.Unlock()

	want := a.config.GetDetector()
	if a.det != nil && want.Kind == a.detCfg.Kind && want.URL == a.detCfg.URL {
		return a.det, nil
	}

	det, err := detector.New(want, a.logger)
	if err != nil {
		return nil, err
	}
	if a.det != nil {
		if err := a.det.Close(); err != nil {
			a.logger.Warnw("close detector", "error", err)
		}
	}
	a.det, a.detCfg = det, want

	return det, nil
}

func (a *DetectApp) closeDetector() {
	a.detMu.Lock()
	defer a.detMu.Unlock()

	if a.det == nil {
		return
	}
	if err := a.det.Close(); err != nil {
		a.logger.Warnw("close detector", "error", err)
	}
	a.det = nil
}

func (a *DetectApp) StartProcessing() {
	path := a.config.GetLastPath()
	kind, ok := models.KindFromPath(path)
	if !ok {
		dialog.ShowError(errors.Errorf("unsupported file type: %q", filepath.Ext(path)), a.mainWin)
		return
	}

	det, err := a.currentDetector()
	if err != nil {
		dialog.ShowError(err, a.mainWin)
		return
	}

	settings := a.config.Snapshot()
	detector.ConfigureFromSettings(det, settings)
	job := models.NewJob(path, kind, settings)

	a.resultMu.Lock()
	a.result = nil
	a.resultMu.Unlock()

	loopDone := make(chan struct{})
	finish := func(msg string) {
		close(loopDone)
		fyne.Do(func() {
			a.statusLabel.SetText(msg)
			a.startBtn.Enable()
			a.stopBtn.Disable()
		})
	}

	events := pipeline.Events{
		OnProgress: func(p int) {
			fyne.Do(func() { a.progressBar.SetValue(float64(p) / 100) })
		},
		OnFrame: a.pushFrame,
		OnCompleted: func(res *models.Result) {
			a.resultMu.Lock()
			a.result = res
			a.resultMu.Unlock()
			finish(errs.Message(nil))
			fyne.Do(a.exportBtn.Enable)
		},
		OnCancelled: func() {
			finish(errs.Message(errs.ErrCancelled))
		},
		OnFailed: func(err error) {
			finish(errs.Message(err))
			fyne.Do(func() { dialog.ShowError(err, a.mainWin) })
		},
	}

	if err := a.runner.Start(context.Background(), job, det, events); err != nil {
		dialog.ShowError(err, a.mainWin)
		return
	}

	a.progressBar.SetValue(0)
	a.statusLabel.SetText("Processing...")
	a.startBtn.Disable()
	a.stopBtn.Enable()
	a.exportBtn.Disable()

	go a.runPlayerLoop(loopDone)
}

func (a *DetectApp) StopProcessing() {
	a.stopBtn.Disable()
	// Stop waits for the in-flight frame
	go a.runner.Stop()
}

// pushFrame keeps only the newest frame for the player loop.
func (a *DetectApp) pushFrame(f models.Frame) {
	select {
	case <-a.frameChan:
	default:
	}
	select {
	case a.frameChan <- f:
	default:
	}
}

func (a *DetectApp) runPlayerLoop(done <-chan struct{}) {
	fps := a.config.GetOutput().FPS
	displayTicker := time.NewTicker(time.Duration(float64(time.Second) / fps))
	defer displayTicker.Stop()

	var lastFrame *models.Frame
	shown := true

	show := func() {
		if lastFrame == nil || shown {
			return
		}
		img := a.displayImage(*lastFrame)
		index, dets := lastFrame.Index, len(lastFrame.Detections)
		shown = true

		fyne.Do(func() {
			a.videoCanvas.Image = img
			a.videoCanvas.Refresh()
			a.detectLabel.SetText(a.formatDetections(index, dets))
		})
	}

	for {
		select {
		case frame := <-a.frameChan:
			lastFrame = &frame
			shown = false

		case <-displayTicker.C:
			show()

		case <-done:
			select {
			case frame := <-a.frameChan:
				lastFrame = &frame
				shown = false
			default:
			}
			show()
			return
		}
	}
}

func (a *DetectApp) displayImage(f models.Frame) image.Image {
	if a.config.GetSideBySide() {
		return annotate.SideBySide(f.Original, f.Image)
	}
	return f.Image
}

func (a *DetectApp) ExportResult() {
	a.resultMu.Lock()
	res := a.result
	a.resultMu.Unlock()

	if res == nil || len(res.Frames) == 0 {
		dialog.ShowInformation("Nothing to save", "Run detection first.", a.mainWin)
		return
	}

	out := a.config.GetOutput()
	a.exportBtn.Disable()

	go func() {
		path, err := a.export(res, out)

		fyne.Do(func() {
			a.exportBtn.Enable()
			if err != nil {
				a.statusLabel.SetText(errs.Message(err))
				dialog.ShowError(err, a.mainWin)
				return
			}
			a.statusLabel.SetText("Saved " + filepath.Base(path))
			dialog.ShowInformation("Saved", path, a.mainWin)
		})
	}()
}

// export names the files after the job that produced res, not the path
// currently in the entry.
func (a *DetectApp) export(res *models.Result, out config.OutputConfig) (string, error) {
	var (
		path   string
		err    error
		target = output.ResultPath(out.Dir, res)
	)

	switch res.Kind {
	case models.KindImage:
		path, err = a.sink.WriteImage(res.Frames[0].Image, target, out.JPEGQuality)
	default:
		fps := res.FPS
		if fps <= 0 {
			fps = out.FPS
		}
		path, err = a.sink.WriteVideo(context.Background(), res.Images(), target, fps, out.Codec)
	}
	if err != nil {
		return "", err
	}

	if _, err := a.sink.WriteDetections(res, output.DetectionsPath(path)); err != nil {
		a.logger.Warnw("save detections", "error", err)
	}

	return path, nil
}

func (a *DetectApp) formatThreshold(name string, v float64) string {
	return fmt.Sprintf("%s threshold: %.2f", name, v)
}

func (a *DetectApp) formatDetections(frame, n int) string {
	return fmt.Sprintf("Frame: %d  Detections: %d", frame, n)
}
