//go:build cgo

package infer

import (
	"context"
	"image"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
	"gorgonia.org/tensor"
)

// onnxEngine owns one ONNX Runtime session. The session is not safe for
// concurrent Run calls, so Infer serializes on mu.
type onnxEngine struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	pre     Preprocessing
	logger  *zap.SugaredLogger
}

// NewONNXEngine initializes ONNX Runtime and loads the model. Only one engine
// may exist per process: the runtime environment is global and Close tears it
// down.
func NewONNXEngine(cfg ONNXConfig, logger *zap.SugaredLogger) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.SharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize onnxruntime")
	}

	session, err := newSession(cfg)
	if err != nil {
		_ = ort.DestroyEnvironment()
		return nil, err
	}

	logger.Infow("model loaded",
		"model", cfg.ModelPath,
		"weights", cfg.WeightsPath,
		"gpu_id", cfg.GPUID,
		"input", cfg.InputName,
		"output", cfg.OutputName,
		"image_resize", cfg.Preprocessing.Size)

	return &onnxEngine{session: session, pre: cfg.Preprocessing, logger: logger}, nil
}

func newSession(cfg ONNXConfig) (*ort.DynamicAdvancedSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating session options")
	}
	defer options.Destroy()

	if cfg.GPUID >= 0 {
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, errors.Wrap(err, "error creating CUDA options")
		}
		defer cuda.Destroy()

		if err := cuda.Update(map[string]string{"device_id": strconv.Itoa(cfg.GPUID)}); err != nil {
			return nil, errors.Wrapf(err, "error selecting GPU %d", cfg.GPUID)
		}
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return nil, errors.Wrap(err, "error enabling CUDA")
		}
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName}, []string{cfg.OutputName}, options)
	if err != nil {
		return nil, errors.Wrap(err, "error creating session")
	}
	return session, nil
}

func (e *onnxEngine) Infer(ctx context.Context, img image.Image) (tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	size := int64(e.pre.Size)
	input, err := ort.NewTensor(ort.NewShape(1, 3, size, size), e.pre.Apply(img))
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}
	defer input.Destroy()

	// A nil output is allocated by the runtime, since N varies per image.
	outputs := []ort.ArbitraryTensor{nil}
	e.mu.Lock()
	err = e.session.Run([]ort.ArbitraryTensor{input}, outputs)
	e.mu.Unlock()
	if err != nil {
		return nil, errors.Wrap(err, "model inference")
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, errors.Errorf("unexpected output type %T", outputs[0])
	}
	return denseFromOutput(out.GetShape(), out.GetData())
}

func (e *onnxEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if envErr := ort.DestroyEnvironment(); envErr != nil && err == nil {
		err = envErr
	}
	return err
}
