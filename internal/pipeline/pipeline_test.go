package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"gorgonia.org/tensor"

	"github.com/waldow90/helmet-detection/internal/annotate"
	"github.com/waldow90/helmet-detection/internal/detect"
	"github.com/waldow90/helmet-detection/internal/imageio"
	"github.com/waldow90/helmet-detection/internal/infer"
	"github.com/waldow90/helmet-detection/internal/labelmap"
)

type recordingViewer struct {
	mu    sync.Mutex
	shown []string
}

func (v *recordingViewer) Show(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.shown = append(v.shown, path)
	return nil
}

// fixedEngine always returns the same raw rows.
func fixedEngine(rows ...float32) infer.Engine {
	return infer.EngineFunc(func(ctx context.Context, img image.Image) (tensor.Tensor, error) {
		backing := append([]float32(nil), rows...)
		return tensor.New(tensor.WithShape(1, 1, len(rows)/detect.RowWidth, detect.RowWidth), tensor.WithBacking(backing)), nil
	})
}

// writeImages creates solid gray JPEG inputs under a fresh root.
func writeImages(t *testing.T, names ...string) string {
	t.Helper()
	root := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 80, 60))
	for y := 0; y < 60; y++ {
		for x := 0; x < 80; x++ {
			img.Set(x, y, color.RGBA{128, 128, 128, 255})
		}
	}
	for _, n := range names {
		if err := imageio.Save(imageio.InputPath(root, n), img); err != nil {
			t.Fatalf("failed to write %s: %v", n, err)
		}
	}
	return root
}

func testLabels(t *testing.T) *labelmap.LabelMap {
	t.Helper()
	m, err := labelmap.New([]labelmap.Item{
		{Label: 1, DisplayName: "yellow"},
		{Label: 2, DisplayName: "red"},
	})
	if err != nil {
		t.Fatalf("failed to build label map: %v", err)
	}
	return m
}

func newRunner(t *testing.T, engine infer.Engine, viewer imageio.Viewer, opts Options) *Runner {
	t.Helper()
	face := func() (font.Face, error) { return basicfont.Face7x13, nil }
	return New(engine, testLabels(t), annotate.New(annotate.DefaultStyle(), face), viewer, opts, zap.NewNop().Sugar())
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

var twoBoxes = []float32{
	0, 1, 0.9, 0.1, 0.2, 0.4, 0.6,
	0, 2, 0.1, 0.5, 0.5, 0.9, 0.9,
	0, 2, 0.7, 0.5, 0.5, 0.9, 0.9,
}

func TestProcessImage(t *testing.T) {
	root := writeImages(t, "000001")
	viewer := &recordingViewer{}
	r := newRunner(t, fixedEngine(twoBoxes...), viewer, Options{
		ImageRoot: root,
		Filter:    detect.DefaultOptions(),
		Show:      true,
		WriteJSON: true,
	})

	res, err := r.ProcessImage(context.Background(), "000001")
	if err != nil {
		t.Fatalf("ProcessImage failed: %v", err)
	}

	if len(res.Detections) != 2 {
		t.Fatalf("detections: got %d, want 2", len(res.Detections))
	}
	if res.Detections[0].LabelName != "yellow" || res.Detections[1].LabelName != "red" {
		t.Errorf("labels: got %q, %q", res.Detections[0].LabelName, res.Detections[1].LabelName)
	}
	if res.Image.Width != 80 || res.Image.Height != 60 {
		t.Errorf("image: got %dx%d, want 80x60", res.Image.Width, res.Image.Height)
	}

	out := filepath.Join(root, "000001_results.jpg")
	if res.Output != out || !exists(out) {
		t.Errorf("result image %s not written", out)
	}
	written, err := imageio.Load(out)
	if err != nil {
		t.Fatalf("result not decodable: %v", err)
	}
	if written.Bounds() != image.Rect(0, 0, 80, 60) {
		t.Errorf("result bounds: got %v", written.Bounds())
	}

	data, err := os.ReadFile(filepath.Join(root, "000001_results.json"))
	if err != nil {
		t.Fatalf("JSON results not written: %v", err)
	}
	var decoded Result
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("JSON results invalid: %v", err)
	}
	if len(decoded.Detections) != 2 || decoded.Name != "000001" {
		t.Errorf("JSON results: got %+v", decoded)
	}

	if len(viewer.shown) != 1 || viewer.shown[0] != out {
		t.Errorf("viewer: got %v, want [%s]", viewer.shown, out)
	}
}

func TestProcessImage_SaveCrops(t *testing.T) {
	root := writeImages(t, "a")
	r := newRunner(t, fixedEngine(twoBoxes...), nil, Options{
		ImageRoot: root,
		Filter:    detect.DefaultOptions(),
		SaveCrops: true,
	})

	res, err := r.ProcessImage(context.Background(), "a")
	if err != nil {
		t.Fatalf("ProcessImage failed: %v", err)
	}

	want := []string{
		filepath.Join(root, "a_crop0_yellow.jpg"),
		filepath.Join(root, "a_crop1_red.jpg"),
	}
	if len(res.Crops) != len(want) {
		t.Fatalf("crops: got %v, want %v", res.Crops, want)
	}
	for i, p := range want {
		if res.Crops[i] != p || !exists(p) {
			t.Errorf("crop %d: got %q, want %q on disk", i, res.Crops[i], p)
		}
	}

	// Box 0 spans x 8..32, y 12..36 of the 80x60 input.
	crop, err := imageio.Load(want[0])
	if err != nil {
		t.Fatalf("crop not decodable: %v", err)
	}
	if b := crop.Bounds(); b.Dx() != 25 || b.Dy() != 25 {
		t.Errorf("crop size: got %dx%d, want 25x25", b.Dx(), b.Dy())
	}
}

func TestProcessImage_MissingImage(t *testing.T) {
	root := writeImages(t)
	r := newRunner(t, fixedEngine(twoBoxes...), nil, Options{ImageRoot: root, Filter: detect.DefaultOptions()})

	if _, err := r.ProcessImage(context.Background(), "nope"); err == nil {
		t.Error("expected error for missing image")
	}
}

func TestProcessImage_UnknownLabel(t *testing.T) {
	root := writeImages(t, "a")
	r := newRunner(t, fixedEngine(0, 99, 0.9, 0, 0, 1, 1), nil, Options{ImageRoot: root, Filter: detect.DefaultOptions()})

	_, err := r.ProcessImage(context.Background(), "a")
	if !errors.Is(err, labelmap.ErrUnknownLabel) {
		t.Errorf("expected lookup error, got %v", err)
	}
	if exists(filepath.Join(root, "a_results.jpg")) {
		t.Error("result written despite lookup error")
	}
}

func TestProcessImage_EngineError(t *testing.T) {
	root := writeImages(t, "a")
	boom := errors.New("device lost")
	engine := infer.EngineFunc(func(ctx context.Context, img image.Image) (tensor.Tensor, error) {
		return nil, boom
	})
	r := newRunner(t, engine, nil, Options{ImageRoot: root, Filter: detect.DefaultOptions()})

	if _, err := r.ProcessImage(context.Background(), "a"); !errors.Is(err, boom) {
		t.Errorf("expected engine error, got %v", err)
	}
}

func TestRun_FailFast(t *testing.T) {
	root := writeImages(t, "a", "c")
	r := newRunner(t, fixedEngine(twoBoxes...), nil, Options{ImageRoot: root, Filter: detect.DefaultOptions(), Workers: 1})

	summary, err := r.Run(context.Background(), []string{"a", "missing", "c"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "missing") {
		t.Errorf("error should name the failing image: %v", err)
	}
	if !exists(filepath.Join(root, "a_results.jpg")) {
		t.Error("image before the failure was not processed")
	}
	if exists(filepath.Join(root, "c_results.jpg")) {
		t.Error("image after the failure was processed")
	}
	if summary.Processed != 1 {
		t.Errorf("Processed: got %d, want 1", summary.Processed)
	}
}

func TestRun_KeepGoing(t *testing.T) {
	root := writeImages(t, "a", "c")
	r := newRunner(t, fixedEngine(twoBoxes...), nil, Options{
		ImageRoot: root,
		Filter:    detect.DefaultOptions(),
		Workers:   1,
		KeepGoing: true,
	})

	summary, err := r.Run(context.Background(), []string{"a", "missing", "c", "gone"})
	if err == nil {
		t.Fatal("expected combined error")
	}
	if got := len(multierr.Errors(err)); got != 2 {
		t.Errorf("got %d errors, want 2: %v", got, err)
	}
	for _, n := range []string{"a", "c"} {
		if !exists(filepath.Join(root, n+"_results.jpg")) {
			t.Errorf("%s not processed", n)
		}
	}

	want := Summary{Processed: 2, Failed: 2, Detections: 4}
	if summary != want {
		t.Errorf("summary: got %+v, want %+v", summary, want)
	}
}

func TestRun_Parallel(t *testing.T) {
	names := []string{"1", "2", "3", "4", "5"}
	root := writeImages(t, names...)
	r := newRunner(t, fixedEngine(twoBoxes...), nil, Options{ImageRoot: root, Filter: detect.DefaultOptions(), Workers: 3})

	summary, err := r.Run(context.Background(), names)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Processed != len(names) || summary.Detections != 2*len(names) {
		t.Errorf("summary: got %+v", summary)
	}
	for _, n := range names {
		if !exists(imageio.ResultPath(root, n)) {
			t.Errorf("%s not processed", n)
		}
	}
}

func TestRun_Cancelled(t *testing.T) {
	root := writeImages(t, "a")
	r := newRunner(t, fixedEngine(twoBoxes...), nil, Options{ImageRoot: root, Filter: detect.DefaultOptions()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Run(ctx, []string{"a"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if exists(filepath.Join(root, "a_results.jpg")) {
		t.Error("image processed after cancellation")
	}
}
