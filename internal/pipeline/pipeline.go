// Package pipeline runs detection over a list of images: load, infer, filter,
// annotate, save.
//
// Images are independent of each other. The label map and style are shared
// read-only, so images may be processed concurrently; the order of results on
// disk does not depend on scheduling.
//
// By default the first failing image stops the batch. With KeepGoing set, each
// failure is logged, the remaining images are still processed, and Run returns
// all failures combined.
package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/waldow90/helmet-detection/internal/annotate"
	"github.com/waldow90/helmet-detection/internal/detect"
	"github.com/waldow90/helmet-detection/internal/imageio"
	"github.com/waldow90/helmet-detection/internal/infer"
	"github.com/waldow90/helmet-detection/internal/labelmap"
)

// Options controls a Runner.
type Options struct {
	// ImageRoot holds the inputs; results are written next to them.
	ImageRoot string

	Filter detect.Options

	// Workers is the number of images processed at once. Values below 1
	// mean 1.
	Workers int

	// KeepGoing isolates per-image failures instead of stopping the batch.
	KeepGoing bool

	// Show opens each result in the viewer after saving.
	Show bool

	// WriteJSON writes <name>_results.json next to each result image.
	WriteJSON bool

	// SaveCrops writes every kept box, cut from the unannotated input.
	SaveCrops bool
}

// Result describes one processed image.
type Result struct {
	Name       string             `json:"name"`
	Input      string             `json:"input"`
	Output     string             `json:"output"`
	Image      imageio.ImageInfo  `json:"image"`
	Detections []detect.Detection `json:"detections"`
	Crops      []string           `json:"crops,omitempty"`
	Elapsed    time.Duration      `json:"-"`
}

// Summary counts the outcome of a Run.
type Summary struct {
	Processed  int
	Failed     int
	Detections int
}

// Runner processes images with a fixed engine, label map and style.
type Runner struct {
	engine    infer.Engine
	labels    *labelmap.LabelMap
	annotator *annotate.Annotator
	viewer    imageio.Viewer
	opts      Options
	logger    *zap.SugaredLogger
}

// New returns a Runner. viewer may be nil when opts.Show is false.
func New(
	engine infer.Engine,
	labels *labelmap.LabelMap,
	annotator *annotate.Annotator,
	viewer imageio.Viewer,
	opts Options,
	logger *zap.SugaredLogger,
) *Runner {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Runner{
		engine:    engine,
		labels:    labels,
		annotator: annotator,
		viewer:    viewer,
		opts:      opts,
		logger:    logger,
	}
}

// ProcessImage runs the whole chain for one basename and writes its results.
func (r *Runner) ProcessImage(ctx context.Context, name string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	inPath := imageio.InputPath(r.opts.ImageRoot, name)
	img, err := imageio.Load(inPath)
	if err != nil {
		return nil, err
	}
	info, err := imageio.Describe(inPath, img)
	if err != nil {
		return nil, err
	}

	raw, err := r.engine.Infer(ctx, img)
	if err != nil {
		return nil, errors.Wrap(err, "inference failed")
	}

	dets, err := detect.Filter(raw, r.labels, r.opts.Filter)
	if err != nil {
		return nil, err
	}

	annotated, err := r.annotator.Annotate(img, dets)
	if err != nil {
		return nil, errors.Wrap(err, "failed to annotate")
	}

	outPath := imageio.ResultPath(r.opts.ImageRoot, name)
	if err := imageio.Save(outPath, annotated); err != nil {
		return nil, err
	}

	var crops []string
	if r.opts.SaveCrops {
		for _, c := range annotate.Crop(img, dets) {
			p := imageio.CropPath(r.opts.ImageRoot, name, c.Index, c.LabelName)
			if err := imageio.Save(p, c.Image); err != nil {
				return nil, err
			}
			crops = append(crops, p)
		}
	}

	res := &Result{
		Name:       name,
		Input:      inPath,
		Output:     outPath,
		Image:      *info,
		Detections: dets,
		Crops:      crops,
		Elapsed:    time.Since(start),
	}

	if r.opts.WriteJSON {
		if err := writeJSON(imageio.ResultJSONPath(r.opts.ImageRoot, name), res); err != nil {
			return nil, err
		}
	}

	if r.opts.Show && r.viewer != nil {
		if err := r.viewer.Show(outPath); err != nil {
			// Display is a convenience; the result is already on disk.
			r.logger.Warnw("could not show result", "image", name, "error", err)
		}
	}

	return res, nil
}

// Run processes every name. It returns the first error in fail-fast mode, or
// every per-image error combined when KeepGoing is set.
func (r *Runner) Run(ctx context.Context, names []string) (Summary, error) {
	var (
		mu      sync.Mutex
		summary Summary
		errs    error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)

	for _, name := range names {
		if gctx.Err() != nil {
			break
		}
		name := name
		g.Go(func() error {
			res, err := r.ProcessImage(gctx, name)
			if err != nil {
				err = errors.Wrapf(err, "image %s", name)
				mu.Lock()
				summary.Failed++
				mu.Unlock()
				if !r.opts.KeepGoing {
					return err
				}
				r.logger.Errorw("image failed", "image", name, "error", err)
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
				return nil
			}

			r.logger.Infow("image done",
				"image", name,
				"detections", len(res.Detections),
				"output", res.Output,
				"elapsed", res.Elapsed)
			for _, d := range res.Detections {
				r.logger.Debugw("detection",
					"image", name,
					"label", d.LabelName,
					"confidence", d.Confidence,
					"box", []float64{d.XMin, d.YMin, d.XMax, d.YMax})
			}

			mu.Lock()
			summary.Processed++
			summary.Detections += len(res.Detections)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return summary, err
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, errs
}

func writeJSON(path string, res *Result) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode results")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write results")
	}
	return nil
}
