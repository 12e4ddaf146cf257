package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/waldow90/helmet-detection/internal/annotate"
	"github.com/waldow90/helmet-detection/internal/config"
	"github.com/waldow90/helmet-detection/internal/imageio"
	"github.com/waldow90/helmet-detection/internal/infer"
	"github.com/waldow90/helmet-detection/internal/labelmap"
	"github.com/waldow90/helmet-detection/internal/pipeline"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// engineFactory builds the inference engine; tests replace it.
var engineFactory = infer.NewONNXEngine

func newApp() *cli.App {
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Fprintf(c.App.Writer, "helmet-detect %s\n", c.App.Version)
		fmt.Fprintf(c.App.Writer, "  Build time: %s\n", BuildTime)
		fmt.Fprintf(c.App.Writer, "  Git commit: %s\n", GitCommit)
	}

	return &cli.App{
		Name:    "helmet-detect",
		Usage:   "detect safety helmets in a list of images and draw the results",
		Version: Version,
		Flags:   config.Flags(),
		Action:  run,
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "helmet-detect: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := config.FromContext(c)

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Debugw("starting", "version", Version, "build_time", BuildTime, "commit", GitCommit)

	if err := cfg.Validate(); err != nil {
		logger.Errorw("invalid configuration", "error", err)
		return err
	}

	labels, err := labelmap.Load(cfg.LabelMapFile)
	if err != nil {
		logger.Errorw("could not load label map", "file", cfg.LabelMapFile, "error", err)
		return err
	}
	logger.Infow("label map loaded", "file", cfg.LabelMapFile, "labels", labels.Len())

	style := annotate.DefaultStyle()
	if cfg.StyleFile != "" {
		if style, err = annotate.LoadStyle(cfg.StyleFile); err != nil {
			logger.Errorw("could not load style", "file", cfg.StyleFile, "error", err)
			return err
		}
	}
	if err := style.CheckCovers(labels); err != nil {
		logger.Errorw("style does not cover the label map", "file", cfg.StyleFile, "error", err)
		return err
	}

	names, err := imageio.ReadList(cfg.ListPath())
	if err != nil {
		logger.Errorw("could not read image list", "file", cfg.ListPath(), "error", err)
		return err
	}
	logger.Infow("image list read", "file", cfg.ListPath(), "images", len(names))

	engine, err := engineFactory(cfg.ONNX(), logger)
	if err != nil {
		logger.Errorw("could not create inference engine", "error", err)
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warnw("could not release inference engine", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return process(ctx, cfg, engine, labels, annotate.New(style, nil), names, logger)
}

func process(
	ctx context.Context,
	cfg config.Config,
	engine infer.Engine,
	labels *labelmap.LabelMap,
	annotator *annotate.Annotator,
	names []string,
	logger *zap.SugaredLogger,
) error {
	runner := pipeline.New(engine, labels, annotator, imageio.SystemViewer{}, pipeline.Options{
		ImageRoot: cfg.ImageRoot,
		Filter:    cfg.FilterOptions(),
		Workers:   cfg.Workers,
		KeepGoing: cfg.KeepGoing,
		Show:      cfg.Show,
		WriteJSON: cfg.WriteJSON,
		SaveCrops: cfg.SaveCrops,
	}, logger)

	summary, err := runner.Run(ctx, names)
	logger.Infow("done",
		"processed", summary.Processed,
		"failed", summary.Failed,
		"detections", summary.Detections)
	if err != nil {
		logger.Errorw("detection failed", "error", err)
		return err
	}
	return nil
}
