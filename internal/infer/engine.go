package infer

import (
	"context"
	"image"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ErrEngineUnavailable is returned by backends that were not compiled in.
var ErrEngineUnavailable = errors.New("inference engine unavailable in this build")

// Engine runs one forward pass per image.
type Engine interface {
	// Infer returns the detector's raw output for img, shaped [1, 1, N, 7].
	Infer(ctx context.Context, img image.Image) (tensor.Tensor, error)

	// Close releases the engine's resources.
	Close() error
}

// EngineFunc adapts a function to Engine. Close is a no-op.
type EngineFunc func(ctx context.Context, img image.Image) (tensor.Tensor, error)

// Infer calls f.
func (f EngineFunc) Infer(ctx context.Context, img image.Image) (tensor.Tensor, error) {
	return f(ctx, img)
}

// Close does nothing.
func (f EngineFunc) Close() error {
	return nil
}

// emptyDetections is what an SSD detection output layer emits when nothing
// clears its internal threshold: a single row of -1.
func emptyDetections() *tensor.Dense {
	return tensor.New(tensor.WithShape(1, 1, 1, 7),
		tensor.WithBacking([]float32{-1, -1, -1, -1, -1, -1, -1}))
}

// denseFromOutput copies a flat backend buffer into a tensor. Outputs with a
// zero dimension are reported as the empty-detections row.
func denseFromOutput(shape []int64, data []float32) (*tensor.Dense, error) {
	dims := make([]int, len(shape))
	size := 1
	for i, d := range shape {
		if d < 0 {
			return nil, errors.Errorf("output has negative dimension in shape %v", shape)
		}
		dims[i] = int(d)
		size *= int(d)
	}
	if size == 0 {
		return emptyDetections(), nil
	}
	if len(data) != size {
		return nil, errors.Errorf("output has %d values, shape %v needs %d", len(data), shape, size)
	}

	backing := make([]float32, size)
	copy(backing, data)
	return tensor.New(tensor.WithShape(dims...), tensor.WithBacking(backing)), nil
}
