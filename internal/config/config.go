// Package config holds the settings of a detection run and their command-line
// flags. Every flag can also be set through a HELMET_* environment variable.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/waldow90/helmet-detection/internal/detect"
	"github.com/waldow90/helmet-detection/internal/infer"
)

// Flag names.
const (
	FlagGPUID        = "gpu_id"
	FlagLabelMapFile = "labelmap_file"
	FlagModelDef     = "model_def"
	FlagModelWeights = "model_weights"
	FlagImageResize  = "image_resize"
	FlagOnnxLibrary  = "onnx_library"
	FlagInputName    = "input_name"
	FlagOutputName   = "output_name"
	FlagImageRoot    = "image_root"
	FlagImageList    = "image_list"
	FlagConfThresh   = "conf_thresh"
	FlagTopN         = "topn"
	FlagStyleFile    = "style_file"
	FlagWorkers      = "workers"
	FlagKeepGoing    = "keep_going"
	FlagShow         = "show"
	FlagJSON         = "json"
	FlagCrops        = "crops"
	FlagLogLevel     = "log_level"
)

// Defaults that are not owned by another package.
const (
	DefaultLabelMapFile = "labelmap_hat.prototxt"
	DefaultModelDef     = "models/pelee/deploy_inference.onnx"
	DefaultImageRoot    = "test_imgs/"
	DefaultListName     = "test.txt"
	DefaultLogLevel     = "info"
)

// Config is the full configuration of a run. It is built once at startup and
// not changed afterwards.
type Config struct {
	GPUID        int
	LabelMapFile string
	ModelDef     string
	ModelWeights string
	ImageResize  int
	OnnxLibrary  string
	InputName    string
	OutputName   string

	ImageRoot string
	ImageList string // empty means <ImageRoot>/test.txt

	ConfThresh float64
	TopN       int

	StyleFile string

	Workers   int
	KeepGoing bool
	Show      bool
	WriteJSON bool
	SaveCrops bool

	LogLevel string
}

func envVar(name string) []string {
	return []string{"HELMET_" + strings.ToUpper(name)}
}

// Flags returns the command-line flags, with defaults.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    FlagGPUID,
			Value:   0,
			Usage:   "CUDA device id; negative runs on the CPU",
			EnvVars: envVar(FlagGPUID),
		},
		&cli.StringFlag{
			Name:    FlagLabelMapFile,
			Value:   DefaultLabelMapFile,
			Usage:   "label map in protobuf text format",
			EnvVars: envVar(FlagLabelMapFile),
		},
		&cli.StringFlag{
			Name:    FlagModelDef,
			Value:   DefaultModelDef,
			Usage:   "network definition (ONNX)",
			EnvVars: envVar(FlagModelDef),
		},
		&cli.StringFlag{
			Name:    FlagModelWeights,
			Usage:   "external weights file referenced by the model; only checked to exist in the model's directory",
			EnvVars: envVar(FlagModelWeights),
		},
		&cli.IntFlag{
			Name:    FlagImageResize,
			Value:   infer.DefaultImageResize,
			Usage:   "square network input size",
			EnvVars: envVar(FlagImageResize),
		},
		&cli.StringFlag{
			Name:    FlagOnnxLibrary,
			Usage:   "path to the onnxruntime shared library",
			EnvVars: envVar(FlagOnnxLibrary),
		},
		&cli.StringFlag{
			Name:    FlagInputName,
			Value:   infer.DefaultInputName,
			Usage:   "graph input tensor name",
			EnvVars: envVar(FlagInputName),
		},
		&cli.StringFlag{
			Name:    FlagOutputName,
			Value:   infer.DefaultOutputName,
			Usage:   "graph detection output tensor name",
			EnvVars: envVar(FlagOutputName),
		},
		&cli.StringFlag{
			Name:    FlagImageRoot,
			Value:   DefaultImageRoot,
			Usage:   "directory holding the images and the image list",
			EnvVars: envVar(FlagImageRoot),
		},
		&cli.StringFlag{
			Name:    FlagImageList,
			Usage:   "image list file (default <image_root>/test.txt)",
			EnvVars: envVar(FlagImageList),
		},
		&cli.Float64Flag{
			Name:    FlagConfThresh,
			Value:   detect.DefaultConfThreshold,
			Usage:   "minimum detection confidence",
			EnvVars: envVar(FlagConfThresh),
		},
		&cli.IntFlag{
			Name:    FlagTopN,
			Value:   detect.DefaultTopN,
			Usage:   "maximum detections drawn per image",
			EnvVars: envVar(FlagTopN),
		},
		&cli.StringFlag{
			Name:    FlagStyleFile,
			Usage:   "JSON file with label colors and tags",
			EnvVars: envVar(FlagStyleFile),
		},
		&cli.IntFlag{
			Name:    FlagWorkers,
			Value:   1,
			Usage:   "images processed concurrently",
			EnvVars: envVar(FlagWorkers),
		},
		&cli.BoolFlag{
			Name:    FlagKeepGoing,
			Usage:   "log failed images and continue instead of stopping",
			EnvVars: envVar(FlagKeepGoing),
		},
		&cli.BoolFlag{
			Name:    FlagShow,
			Usage:   "open each result in the system image viewer",
			EnvVars: envVar(FlagShow),
		},
		&cli.BoolFlag{
			Name:    FlagJSON,
			Usage:   "also write <name>_results.json",
			EnvVars: envVar(FlagJSON),
		},
		&cli.BoolFlag{
			Name:    FlagCrops,
			Usage:   "also write each detection as <name>_crop<k>_<label>.jpg",
			EnvVars: envVar(FlagCrops),
		},
		&cli.StringFlag{
			Name:    FlagLogLevel,
			Value:   DefaultLogLevel,
			Usage:   "debug, info, warn or error",
			EnvVars: envVar(FlagLogLevel),
		},
	}
}

// FromContext reads a Config from parsed flags.
func FromContext(c *cli.Context) Config {
	return Config{
		GPUID:        c.Int(FlagGPUID),
		LabelMapFile: c.String(FlagLabelMapFile),
		ModelDef:     c.String(FlagModelDef),
		ModelWeights: c.String(FlagModelWeights),
		ImageResize:  c.Int(FlagImageResize),
		OnnxLibrary:  c.String(FlagOnnxLibrary),
		InputName:    c.String(FlagInputName),
		OutputName:   c.String(FlagOutputName),
		ImageRoot:    c.String(FlagImageRoot),
		ImageList:    c.String(FlagImageList),
		ConfThresh:   c.Float64(FlagConfThresh),
		TopN:         c.Int(FlagTopN),
		StyleFile:    c.String(FlagStyleFile),
		Workers:      c.Int(FlagWorkers),
		KeepGoing:    c.Bool(FlagKeepGoing),
		Show:         c.Bool(FlagShow),
		WriteJSON:    c.Bool(FlagJSON),
		SaveCrops:    c.Bool(FlagCrops),
		LogLevel:     c.String(FlagLogLevel),
	}
}

// ListPath returns the image list file.
func (c Config) ListPath() string {
	if c.ImageList != "" {
		return c.ImageList
	}
	return filepath.Join(c.ImageRoot, DefaultListName)
}

// FilterOptions returns the detection filter settings.
func (c Config) FilterOptions() detect.Options {
	return detect.Options{ConfThreshold: c.ConfThresh, TopN: c.TopN}
}

// ONNX returns the inference engine settings.
func (c Config) ONNX() infer.ONNXConfig {
	return infer.ONNXConfig{
		ModelPath:         c.ModelDef,
		WeightsPath:       c.ModelWeights,
		SharedLibraryPath: c.OnnxLibrary,
		GPUID:             c.GPUID,
		InputName:         c.InputName,
		OutputName:        c.OutputName,
		Preprocessing:     infer.DefaultPreprocessing(c.ImageResize),
	}
}

// Validate checks values and the presence of input files. The model itself is
// checked by the engine. All problems are reported together.
func (c Config) Validate() error {
	var err error
	if c.ImageResize <= 0 {
		err = multierr.Append(err, errors.Errorf("%s must be positive, got %d", FlagImageResize, c.ImageResize))
	}
	if c.Workers < 1 {
		err = multierr.Append(err, errors.Errorf("%s must be at least 1, got %d", FlagWorkers, c.Workers))
	}
	if optErr := c.FilterOptions().Validate(); optErr != nil {
		err = multierr.Append(err, optErr)
	}
	if c.LabelMapFile == "" {
		err = multierr.Append(err, errors.Errorf("%s is required", FlagLabelMapFile))
	} else if _, statErr := os.Stat(c.LabelMapFile); statErr != nil {
		err = multierr.Append(err, errors.Wrap(statErr, FlagLabelMapFile))
	}
	if _, statErr := os.Stat(c.ListPath()); statErr != nil {
		err = multierr.Append(err, errors.Wrap(statErr, "image list"))
	}
	if c.StyleFile != "" {
		if _, statErr := os.Stat(c.StyleFile); statErr != nil {
			err = multierr.Append(err, errors.Wrap(statErr, FlagStyleFile))
		}
	}
	if _, levelErr := ParseLevel(c.LogLevel); levelErr != nil {
		err = multierr.Append(err, levelErr)
	}
	return err
}
