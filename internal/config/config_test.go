package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"aerialvision/internal/models"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg := LoadConfigFile(filepath.Join(t.TempDir(), "nope.json"))

	assert.Equal(t, 0.5, cfg.ConfidenceThreshold)
	assert.Equal(t, 0.45, cfg.IoUThreshold)
	assert.Equal(t, 1, cfg.FrameSkip)
	assert.True(t, cfg.SideBySide)
	assert.Equal(t, DetectorWebsocket, cfg.Detector.Kind)
	assert.Equal(t, 24.0, cfg.Output.FPS)
	assert.Equal(t, "mp4v", cfg.Output.Codec)
	assert.Equal(t, 95, cfg.Output.JPEGQuality)
	assert.Len(t, cfg.Detector.Classes, 12)
	assert.Equal(t, 60*time.Second, cfg.GetDetector().CallTimeout())
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")

	cfg := NewDefaultConfig()
	cfg.SetThresholds(0.7, 0.3)
	cfg.SetFrameSkip(3)
	cfg.SetDetectorKind(DetectorHTTP)
	cfg.SetDetectorURL("http://infer:5000/predict")
	require.NoError(t, cfg.Save(path))

	loaded := LoadConfigFile(path)
	conf, iou := loaded.GetThresholds()
	assert.Equal(t, 0.7, conf)
	assert.Equal(t, 0.3, iou)
	assert.Equal(t, 3, loaded.GetFrameSkip())
	assert.Equal(t, DetectorHTTP, loaded.GetDetector().Kind)
	assert.Equal(t, "http://infer:5000/predict", loaded.GetDetector().URL)
}

func TestReadConfigFileReportsBrokenFile(t *testing.T) {
	dir := t.TempDir()

	_, err := readConfigFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, nil, 0644))
	_, err = readConfigFile(path)
	assert.Error(t, err, "an empty file is a save in progress")

	require.NoError(t, os.WriteFile(path, []byte(`{"frame_skip": 4`), 0644))
	_, err = readConfigFile(path)
	assert.Error(t, err)
}

func TestBrokenFileFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	cfg := LoadConfigFile(path)
	assert.Equal(t, 0.5, cfg.ConfidenceThreshold)
}

func TestLoadNormalizesValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	raw := `{"confidence_threshold": 3, "iou_threshold": -1, "frame_skip": 0, "detector": {"kind": "grpc"}}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))

	cfg := LoadConfigFile(path)
	assert.Equal(t, 1.0, cfg.ConfidenceThreshold)
	assert.Equal(t, 0.0, cfg.IoUThreshold)
	assert.Equal(t, 1, cfg.FrameSkip)
	assert.Equal(t, DetectorWebsocket, cfg.Detector.Kind)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DETECTOR_URL", "detector.local:9000")
	t.Setenv("DETECTOR_KIND", "HTTP")

	cfg := LoadConfigFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Equal(t, "detector.local:9000", cfg.GetDetector().URL)
	assert.Equal(t, DetectorHTTP, cfg.GetDetector().Kind)
}

func TestSnapshotIsDetached(t *testing.T) {
	cfg := NewDefaultConfig()
	snap := cfg.Snapshot()

	cfg.SetAnnotation(models.AnnotationSettings{FrameSkip: 5, ConfidenceThreshold: 0.9})

	assert.Equal(t, 1, snap.FrameSkip)
	assert.True(t, snap.ShowBoxes)
	assert.Equal(t, 5, cfg.Snapshot().FrameSkip)
	assert.False(t, cfg.Snapshot().ShowBoxes)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Save(path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 8)
	done := make(chan error, 1)
	go func() {
		done <- cfg.Watch(ctx, path, zaptest.NewLogger(t).Sugar(), func(*Config) { changed <- struct{}{} })
	}()

	other := NewDefaultConfig()
	other.SetFrameSkip(4)

	// the watcher may not be registered yet on the first write, and a
	// truncating save can be observed before its content lands
	assert.Eventually(t, func() bool {
		_ = other.Save(path)
		select {
		case <-changed:
		case <-time.After(100 * time.Millisecond):
		}
		return cfg.GetFrameSkip() == 4
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return after cancel")
	}
}

func TestWatchKeepsLiveValuesOnBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	cfg := NewDefaultConfig()
	cfg.SetFrameSkip(7)
	cfg.SetLastPath("/data/flight.mp4")
	require.NoError(t, cfg.Save(path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen []int
	)
	done := make(chan error, 1)
	go func() {
		done <- cfg.Watch(ctx, path, zaptest.NewLogger(t).Sugar(), func(c *Config) {
			mu.Lock()
			seen = append(seen, c.GetFrameSkip())
			mu.Unlock()
		})
	}()

	saveSkip := func(n int) {
		other := NewDefaultConfig()
		other.SetFrameSkip(n)
		other.SetLastPath("/data/flight.mp4")
		_ = other.Save(path)
	}

	// wait until the watcher is live
	require.Eventually(t, func() bool {
		saveSkip(8)
		time.Sleep(20 * time.Millisecond)
		return cfg.GetFrameSkip() == 8
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("{half-written"), 0644))

	// events arrive in order, so seeing 9 means the broken write was handled
	require.Eventually(t, func() bool {
		saveSkip(9)
		time.Sleep(20 * time.Millisecond)
		return cfg.GetFrameSkip() == 9
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.NotContains(t, seen, 1, "never reset to defaults")
	mu.Unlock()
	assert.Equal(t, "/data/flight.mp4", cfg.GetLastPath())

	cancel()
	assert.NoError(t, <-done)
}
