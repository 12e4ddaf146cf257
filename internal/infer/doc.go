// Package infer is the boundary to the neural network. Everything the rest of
// the module knows about the detector is the Engine interface: an image goes
// in, the raw multi-box tensor comes out.
//
// # Backends
//
// NewONNXEngine runs an SSD/Pelee graph exported to ONNX through ONNX Runtime.
// It needs cgo and the onnxruntime shared library; builds without cgo get a
// constructor that always fails. Tests use EngineFunc with synthetic tensors
// and never touch a real network.
//
// # Input Transform
//
// Images are prepared the way the Caffe deploy model expects (see
// Preprocessing): resized to a square, laid out channel-first in BGR order,
// mean-subtracted on the 0-255 scale, then multiplied by 0.017.
//
// # Device Selection
//
// The GPU id is part of ONNXConfig and is fixed when the engine is built. A
// negative id runs on the CPU.
package infer
