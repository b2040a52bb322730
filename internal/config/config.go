package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"aerialvision/internal/models"
)

type DetectorKind string

const (
	DetectorWebsocket DetectorKind = "websocket"
	DetectorHTTP      DetectorKind = "http"

	DefaultConfigPath  string = "app_settings.json"
	DefaultDetectorURL string = "localhost:8080"
	DefaultOutputDir   string = "outputs"

	DefaultDetectorTimeoutSec = 60
)

var DetectorKindsList = [...]string{
	string(DetectorWebsocket),
	string(DetectorHTTP),
}

// DefaultClasses are the classes of the aerial model, indexed by class id.
var DefaultClasses = []string{
	"awning-tricycle",
	"bicycle",
	"bus",
	"car",
	"ignored regions",
	"motor",
	"others",
	"pedestrian",
	"people",
	"tricycle",
	"truck",
	"van",
}

type DetectorConfig struct {
	Kind      DetectorKind `json:"kind"`
	URL       string       `json:"url"`
	InputSize uint         `json:"input_size"`
	Classes   []string     `json:"classes"`

	// TimeoutSec bounds a single Detect call.
	TimeoutSec float64 `json:"timeout_sec"`
}

func (d DetectorConfig) CallTimeout() time.Duration {
	return time.Duration(d.TimeoutSec * float64(time.Second))
}

type OutputConfig struct {
	Dir         string  `json:"dir"`
	FPS         float64 `json:"fps"`
	Codec       string  `json:"codec"`
	JPEGQuality int     `json:"jpeg_quality"`
}

type LogConfig struct {
	Level string `json:"level"`
	File  string `json:"file"`
}

type Config struct {
	mu sync.RWMutex

	ConfidenceThreshold float64 `json:"confidence_threshold"`
	IoUThreshold        float64 `json:"iou_threshold"`
	ShowBoxes           bool    `json:"show_bboxes"`
	ShowLabels          bool    `json:"show_labels"`
	ShowConfidence      bool    `json:"show_confidence"`
	ShowCount           bool    `json:"show_count"`
	FrameSkip           int     `json:"frame_skip"`
	SideBySide          bool    `json:"side_by_side"`
	LastPath            string  `json:"last_path"`

	Detector DetectorConfig `json:"detector"`
	Output   OutputConfig   `json:"output"`
	Log      LogConfig      `json:"log"`
}

// Snapshot copies the annotation part of the config into a value owned by a
// single job.
func (c *Config) Snapshot() models.AnnotationSettings {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return models.AnnotationSettings{
		ShowBoxes:           c.ShowBoxes,
		ShowLabels:          c.ShowLabels,
		ShowConfidence:      c.ShowConfidence,
		ShowCount:           c.ShowCount,
		FrameSkip:           c.FrameSkip,
		ConfidenceThreshold: c.ConfidenceThreshold,
		IoUThreshold:        c.IoUThreshold,
	}.Normalize()
}

func (c *Config) SetAnnotation(s models.AnnotationSettings) {
	s = s.Normalize()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ShowBoxes = s.ShowBoxes
	c.ShowLabels = s.ShowLabels
	c.ShowConfidence = s.ShowConfidence
	c.ShowCount = s.ShowCount
	c.FrameSkip = s.FrameSkip
	c.ConfidenceThreshold = s.ConfidenceThreshold
	c.IoUThreshold = s.IoUThreshold
}

func (c *Config) GetFrameSkip() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.FrameSkip
}

func (c *Config) SetFrameSkip(n int) {
	if n < 1 {
		n = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FrameSkip = n
}

func (c *Config) GetThresholds() (float64, float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ConfidenceThreshold, c.IoUThreshold
}

func (c *Config) SetThresholds(conf, iou float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ConfidenceThreshold = models.Clamp01(conf)
	c.IoUThreshold = models.Clamp01(iou)
}

func (c *Config) GetSideBySide() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SideBySide
}

func (c *Config) SetSideBySide(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SideBySide = v
}

func (c *Config) GetLastPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.LastPath
}

func (c *Config) SetLastPath(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LastPath = p
}

func (c *Config) GetDetector() DetectorConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d := c.Detector
	d.Classes = append([]string(nil), c.Detector.Classes...)
	return d
}

func (c *Config) SetDetectorKind(k DetectorKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Detector.Kind = k
}

func (c *Config) SetDetectorURL(u string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Detector.URL = u
}

func (c *Config) GetOutput() OutputConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Output
}

func (c *Config) GetLog() LogConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Log
}

// Update replaces every persisted field with the ones from other.
func (c *Config) Update(other *Config) {
	other.mu.RLock()
	defer other.mu.RUnlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ConfidenceThreshold = other.ConfidenceThreshold
	c.IoUThreshold = other.IoUThreshold
	c.ShowBoxes = other.ShowBoxes
	c.ShowLabels = other.ShowLabels
	c.ShowConfidence = other.ShowConfidence
	c.ShowCount = other.ShowCount
	c.FrameSkip = other.FrameSkip
	c.SideBySide = other.SideBySide
	c.LastPath = other.LastPath
	c.Detector = other.Detector
	c.Detector.Classes = append([]string(nil), other.Detector.Classes...)
	c.Output = other.Output
	c.Log = other.Log
}

func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create config dir")
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	c.mu.RLock()
	defer c.mu.RUnlock()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return errors.Wrap(err, "encode config")
	}

	return nil
}

func (c *Config) SaveByDefault() error {
	return c.Save(DefaultConfigPath)
}

// LoadConfigFile reads path over the defaults. A missing or broken file
// leaves the defaults in place. Environment overrides are applied last.
func LoadConfigFile(path string) *Config {
	cfg, err := readConfigFile(path)
	if err != nil {
		cfg = NewDefaultConfig()
		cfg.applyEnv()
		cfg.normalize()
	}
	return cfg
}

// readConfigFile decodes path over the defaults and fails instead of
// falling back when the file is missing or does not decode.
func readConfigFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	cfg := NewDefaultConfig()
	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}

	cfg.applyEnv()
	cfg.normalize()

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := getEnv("DETECTOR_URL", ""); v != "" {
		c.Detector.URL = v
	}
	if v := getEnv("DETECTOR_KIND", ""); v != "" {
		c.Detector.Kind = DetectorKind(strings.ToLower(v))
	}
	if v := getEnv("OUTPUT_DIR", ""); v != "" {
		c.Output.Dir = v
	}
	if v := getEnv("LOG_LEVEL", ""); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) normalize() {
	c.ConfidenceThreshold = models.Clamp01(c.ConfidenceThreshold)
	c.IoUThreshold = models.Clamp01(c.IoUThreshold)
	if c.FrameSkip < 1 {
		c.FrameSkip = 1
	}
	if c.Detector.Kind != DetectorWebsocket && c.Detector.Kind != DetectorHTTP {
		c.Detector.Kind = DetectorWebsocket
	}
	if c.Detector.URL == "" {
		c.Detector.URL = DefaultDetectorURL
	}
	if c.Detector.InputSize == 0 {
		c.Detector.InputSize = 640
	}
	if c.Detector.TimeoutSec <= 0 {
		c.Detector.TimeoutSec = DefaultDetectorTimeoutSec
	}
	if len(c.Detector.Classes) == 0 {
		c.Detector.Classes = append([]string(nil), DefaultClasses...)
	}
	if c.Output.FPS <= 0 {
		c.Output.FPS = 24
	}
	if c.Output.Codec == "" {
		c.Output.Codec = "mp4v"
	}
	if c.Output.JPEGQuality < 1 || c.Output.JPEGQuality > 100 {
		c.Output.JPEGQuality = 95
	}
	if c.Output.Dir == "" {
		c.Output.Dir = DefaultOutputDir
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func NewDefaultConfig() *Config {
	s := models.DefaultAnnotationSettings()

	return &Config{
		ConfidenceThreshold: s.ConfidenceThreshold,
		IoUThreshold:        s.IoUThreshold,
		ShowBoxes:           s.ShowBoxes,
		ShowLabels:          s.ShowLabels,
		ShowConfidence:      s.ShowConfidence,
		ShowCount:           s.ShowCount,
		FrameSkip:           s.FrameSkip,
		SideBySide:          true,
		Detector: DetectorConfig{
			Kind:      DetectorWebsocket,
			URL:       DefaultDetectorURL,
			InputSize:  640,
			Classes:    append([]string(nil), DefaultClasses...),
			TimeoutSec: DefaultDetectorTimeoutSec,
		},
		Output: OutputConfig{
			Dir:         DefaultOutputDir,
			FPS:         24,
			Codec:       "mp4v",
			JPEGQuality: 95,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
