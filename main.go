package main

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"aerialvision/internal/config"
	"aerialvision/internal/logging"
	ui "aerialvision/internal/ui"
	"aerialvision/processing/detector"
	"aerialvision/processing/pipeline"
)

const flagConfig = "config"

func main() {
	app := &cli.App{
		Name:  "aerialvision",
		Usage: "detect objects in aerial images and videos",
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Value:   config.DefaultConfigPath,
				Usage:   "load settings from `FILE`",
			},
		},
		Action: guiAction,
		Commands: []*cli.Command{
			{
				Name:   "gui",
				Usage:  "open the desktop front end",
				Action: guiAction,
			},
			detectCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		logging.NewLogger("aerialvision", logging.Options{}).Fatal(err)
	}
}

func newLogger(cfg *config.Config) *zap.SugaredLogger {
	l := cfg.GetLog()
	return logging.NewLogger("aerialvision", logging.Options{Level: l.Level, File: l.File})
}

func guiAction(c *cli.Context) error {
	cfgPath := c.Path(flagConfig)
	cfg := config.LoadConfigFile(cfgPath)

	logger := newLogger(cfg)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	go func() {
		err := cfg.Watch(ctx, cfgPath, logger, func(*config.Config) {
			logger.Infow("settings reloaded", "path", cfgPath)
		})
		if err != nil {
			logger.Warnw("settings watcher stopped", "error", err)
		}
	}()

	det, err := detector.New(cfg.GetDetector(), logger)
	if err != nil {
		return errors.Wrap(err, "create detector")
	}

	runner := pipeline.NewRunner(logger, nil)
	app := ui.CreateApp(cfg, cfgPath, det, runner, logger)
	app.Run()

	return nil
}
