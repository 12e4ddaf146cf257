//go:build !cgo

package infer

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// NewONNXEngine fails: ONNX Runtime is reached through cgo.
func NewONNXEngine(cfg ONNXConfig, logger *zap.SugaredLogger) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return nil, errors.Wrap(ErrEngineUnavailable, "onnxruntime requires cgo")
}
