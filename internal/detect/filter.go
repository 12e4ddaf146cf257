package detect

import (
	"math"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/waldow90/helmet-detection/internal/labelmap"
)

// RowWidth is the number of values per raw detection row.
const RowWidth = 7

// Column offsets within a raw row.
const (
	colBatch = iota
	colLabel
	colConf
	colXMin
	colYMin
	colXMax
	colYMax
)

var (
	// ErrMalformedTensor reports a raw output tensor that does not have the
	// [1, 1, N, 7] (or [N, 7]) layout.
	ErrMalformedTensor = errors.New("malformed detection tensor")

	// ErrInvalidOptions reports filter options outside their valid range.
	ErrInvalidOptions = errors.New("invalid filter options")
)

// Default filter settings.
const (
	DefaultConfThreshold = 0.2
	DefaultTopN          = 20
)

// Detection is a single kept box with its resolved label.
type Detection struct {
	XMin float64 `json:"xmin"` // Normalized left edge (0-1)
	YMin float64 `json:"ymin"` // Normalized top edge (0-1)
	XMax float64 `json:"xmax"` // Normalized right edge (0-1)
	YMax float64 `json:"ymax"` // Normalized bottom edge (0-1)

	LabelID    int     `json:"label_id"`
	LabelName  string  `json:"label_name"`
	Confidence float64 `json:"confidence"`
}

// Options controls Filter.
type Options struct {
	// ConfThreshold is the minimum confidence (inclusive) for a row to be kept.
	ConfThreshold float64

	// TopN caps the number of detections returned. Zero returns nothing.
	TopN int
}

// DefaultOptions returns a threshold of 0.2 and a cap of 20 detections.
func DefaultOptions() Options {
	return Options{ConfThreshold: DefaultConfThreshold, TopN: DefaultTopN}
}

// Validate checks the option ranges.
func (o Options) Validate() error {
	if o.TopN < 0 {
		return errors.Wrapf(ErrInvalidOptions, "topn must be >= 0, got %d", o.TopN)
	}
	if math.IsNaN(o.ConfThreshold) {
		return errors.Wrap(ErrInvalidOptions, "confidence threshold is NaN")
	}
	return nil
}

// Filter converts one raw output tensor into at most opts.TopN detections.
//
// Rows with confidence >= opts.ConfThreshold are kept in their original order,
// every kept label id is resolved through labels, and the result is truncated
// to the first opts.TopN rows. Any error discards the whole result.
//
// Parameters:
//   - raw: detector output for one image, shaped [1, 1, N, 7] or [N, 7], with
//     float32 or float64 elements. Each row is
//     [batch, label, confidence, xmin, ymin, xmax, ymax].
//   - labels: label map used to name every kept row.
//   - opts: threshold and cap; see Options.Validate.
//
// Returns:
//   - []Detection: The kept detections, possibly empty, with coordinates left
//     normalized to 0-1.
//   - error: Non-nil on any of the cases below; no partial result is returned.
//
// # Errors
//
//   - ErrInvalidOptions when opts is out of range.
//   - ErrMalformedTensor for a nil tensor, a batch or channel dimension other
//     than 1, a row width other than 7, or an unsupported element type.
//   - labelmap.ErrUnknownLabel when a kept row's label is not an integer id in
//     labels.
func Filter(raw tensor.Tensor, labels *labelmap.LabelMap, opts Options) ([]Detection, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if labels == nil {
		return nil, errors.New("label map is nil")
	}

	rows, err := readRows(raw)
	if err != nil {
		return nil, err
	}

	kept := make([][RowWidth]float64, 0, len(rows))
	for _, row := range rows {
		if row[colConf] >= opts.ConfThreshold {
			kept = append(kept, row)
		}
	}

	ids := make([]int, len(kept))
	for i, row := range kept {
		id, err := labelID(row[colLabel])
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}

	// Every kept id is resolved, even those past TopN, so a mismatched label
	// map is reported regardless of where the bad row falls.
	names, err := labels.Names(ids)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve detection labels")
	}

	n := len(kept)
	if opts.TopN < n {
		n = opts.TopN
	}

	out := make([]Detection, n)
	for i := 0; i < n; i++ {
		row := kept[i]
		out[i] = Detection{
			XMin:       row[colXMin],
			YMin:       row[colYMin],
			XMax:       row[colXMax],
			YMax:       row[colYMax],
			LabelID:    ids[i],
			LabelName:  names[i],
			Confidence: row[colConf],
		}
	}
	return out, nil
}

// labelID converts the float label column to an id. A non-integral value cannot
// name a label map entry and is reported as a lookup failure.
func labelID(v float64) (int, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
		return 0, errors.Wrapf(labelmap.ErrUnknownLabel, "label value %v is not an integer id", v)
	}
	return int(v), nil
}

// readRows extracts the rows of a single-image [1, 1, N, 7] or [N, 7] tensor.
func readRows(raw tensor.Tensor) ([][RowWidth]float64, error) {
	if raw == nil {
		return nil, errors.Wrap(ErrMalformedTensor, "tensor is nil")
	}

	shape := raw.Shape()
	var n int
	var coords func(i, k int) []int
	switch len(shape) {
	case 4:
		if shape[0] != 1 || shape[1] != 1 || shape[3] != RowWidth {
			return nil, errors.Wrapf(ErrMalformedTensor, "shape %v, want [1 1 N %d]", shape, RowWidth)
		}
		n = shape[2]
		coords = func(i, k int) []int { return []int{0, 0, i, k} }
	case 2:
		if shape[1] != RowWidth {
			return nil, errors.Wrapf(ErrMalformedTensor, "shape %v, want [N %d]", shape, RowWidth)
		}
		n = shape[0]
		coords = func(i, k int) []int { return []int{i, k} }
	default:
		return nil, errors.Wrapf(ErrMalformedTensor, "rank %d, want 4", len(shape))
	}

	rows := make([][RowWidth]float64, n)
	for i := 0; i < n; i++ {
		for k := 0; k < RowWidth; k++ {
			v, err := raw.At(coords(i, k)...)
			if err != nil {
				return nil, errors.Wrapf(ErrMalformedTensor, "row %d col %d: %v", i, k, err)
			}
			f, err := toFloat(v)
			if err != nil {
				return nil, err
			}
			rows[i][k] = f
		}
	}
	return rows, nil
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	default:
		return 0, errors.Wrapf(ErrMalformedTensor, "unsupported element type %T", v)
	}
}
