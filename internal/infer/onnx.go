package infer

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// ONNXConfig configures the ONNX Runtime backend.
type ONNXConfig struct {
	// ModelPath is the ONNX graph.
	ModelPath string

	// WeightsPath optionally names an external-data file holding the graph's
	// initializers. It is only checked for presence: the graph itself names
	// its external data and ONNX Runtime loads it relative to the model, so
	// the file must live in the model's directory.
	WeightsPath string

	// SharedLibraryPath points at libonnxruntime. Empty uses the loader's
	// default search.
	SharedLibraryPath string

	// GPUID selects the CUDA device; negative runs on the CPU.
	GPUID int

	// InputName and OutputName are the graph's image input and detection
	// output tensors.
	InputName  string
	OutputName string

	Preprocessing Preprocessing
}

// Default graph tensor names of the Caffe deploy model.
const (
	DefaultInputName  = "data"
	DefaultOutputName = "detection_out"
)

// Validate checks the config without loading anything.
func (c ONNXConfig) Validate() error {
	if c.ModelPath == "" {
		return errors.New("model path is required")
	}
	if _, err := os.Stat(c.ModelPath); err != nil {
		return errors.Wrap(err, "model definition")
	}
	if c.WeightsPath != "" {
		if _, err := os.Stat(c.WeightsPath); err != nil {
			return errors.Wrap(err, "model weights")
		}
		modelDir, _ := filepath.Abs(filepath.Dir(c.ModelPath))
		weightsDir, _ := filepath.Abs(filepath.Dir(c.WeightsPath))
		if modelDir != weightsDir {
			return errors.Errorf("model weights %s must be in the model directory %s", c.WeightsPath, modelDir)
		}
	}
	if c.InputName == "" || c.OutputName == "" {
		return errors.New("input and output tensor names are required")
	}
	if c.Preprocessing.Size <= 0 {
		return errors.Errorf("image resize must be positive, got %d", c.Preprocessing.Size)
	}
	return nil
}
