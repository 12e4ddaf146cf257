// Package labelmap loads the detector's label definition: the mapping from the
// numeric class ids the network emits to human-readable display names.
//
// The on-disk format is the Caffe LabelMap message in protobuf text format:
//
//	item {
//	  name: "yellow"
//	  label: 1
//	  display_name: "yellow"
//	}
//
// A LabelMap is built once at startup and is read-only afterwards, so it can be
// shared between goroutines without locking.
package labelmap

import (
	"fmt"
	"os"
	"sort"

	"github.com/pkg/errors"
)

// ErrUnknownLabel is matched (via errors.Is) by every failed id lookup.
var ErrUnknownLabel = errors.New("label id not in label map")

// UnknownLabelError reports a class id with no entry in the label map. It
// usually means the label map file does not belong to the loaded model.
type UnknownLabelError struct {
	ID int
}

func (e *UnknownLabelError) Error() string {
	return fmt.Sprintf("label id %d not in label map", e.ID)
}

// Unwrap lets errors.Is match ErrUnknownLabel.
func (e *UnknownLabelError) Unwrap() error {
	return ErrUnknownLabel
}

// BackgroundID is the class id SSD reserves for background. The detector never
// emits it as a detection.
const BackgroundID = 0

// Item is one entry of a label map.
type Item struct {
	Name        string `json:"name"`
	Label       int    `json:"label"`
	DisplayName string `json:"display_name"`
}

// LabelMap resolves class ids to display names.
type LabelMap struct {
	items []Item
	byID  map[int]string
}

// New builds a LabelMap from items. When an id appears more than once the
// first entry wins, matching a front-to-back scan of the file.
func New(items []Item) (*LabelMap, error) {
	if len(items) == 0 {
		return nil, errors.New("label map has no items")
	}
	m := &LabelMap{
		items: make([]Item, len(items)),
		byID:  make(map[int]string, len(items)),
	}
	copy(m.items, items)
	for _, it := range items {
		if _, seen := m.byID[it.Label]; seen {
			continue
		}
		m.byID[it.Label] = it.DisplayName
	}
	return m, nil
}

// Load reads and parses a label map file.
func Load(path string) (*LabelMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read label map")
	}
	m, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "label map %s", path)
	}
	return m, nil
}

// Names resolves each id in order. A single unknown id fails the whole call and
// no partial result is returned. Callers with one id pass a one-element slice.
func (m *LabelMap) Names(ids []int) ([]string, error) {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		name, ok := m.byID[id]
		if !ok {
			return nil, &UnknownLabelError{ID: id}
		}
		names = append(names, name)
	}
	return names, nil
}

// Len returns the number of distinct ids.
func (m *LabelMap) Len() int {
	return len(m.byID)
}

// IDs returns the distinct ids in ascending order.
func (m *LabelMap) IDs() []int {
	ids := make([]int, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Items returns a copy of the entries in file order.
func (m *LabelMap) Items() []Item {
	out := make([]Item, len(m.items))
	copy(out, m.items)
	return out
}
