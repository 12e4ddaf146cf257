package annotate

import (
	"encoding/json"
	"image/color"
	"os"
	"strconv"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/waldow90/helmet-detection/internal/labelmap"
)

// StyleTable maps label ids to box colors and label names to the short tag
// printed in front of the confidence.
type StyleTable struct {
	Colors map[int]color.RGBA
	Tags   map[string]string
}

// DefaultStyle returns the helmet color scheme.
func DefaultStyle() StyleTable {
	return StyleTable{
		Colors: map[int]color.RGBA{
			1: {R: 255, G: 255, B: 0, A: 255},
			2: {R: 255, G: 0, B: 0, A: 255},
			3: {R: 0, G: 0, B: 255, A: 255},
			4: {R: 255, G: 255, B: 255, A: 255},
			5: {R: 0, G: 255, B: 0, A: 255},
		},
		Tags: map[string]string{
			"yellow": "Y",
			"red":    "R",
			"blue":   "B",
			"white":  "W",
			"none":   "N",
		},
	}
}

// Color returns the box color for a label id.
func (s StyleTable) Color(labelID int) (color.RGBA, error) {
	c, ok := s.Colors[labelID]
	if !ok {
		return color.RGBA{}, errors.Errorf("no color for label id %d", labelID)
	}
	return c, nil
}

// Tag returns the short tag for a label name.
func (s StyleTable) Tag(labelName string) (string, error) {
	tag, ok := s.Tags[labelName]
	if !ok {
		return "", errors.Errorf("no tag for label %q", labelName)
	}
	return tag, nil
}

// CheckCovers reports every label the detector can emit that the style cannot
// draw: an id without a color, or a display name without a tag. The background
// id is skipped.
//
// Run it once after loading both tables so a mismatched style file fails at
// startup rather than on the first detection.
//
// # Errors
//
// All gaps are returned together, combined with multierr.
func (s StyleTable) CheckCovers(labels *labelmap.LabelMap) error {
	var ids []int
	for _, id := range labels.IDs() {
		if id != labelmap.BackgroundID {
			ids = append(ids, id)
		}
	}
	names, err := labels.Names(ids)
	if err != nil {
		return err
	}

	var errs error
	for i, id := range ids {
		if _, err := s.Color(id); err != nil {
			errs = multierr.Append(errs, err)
		}
		if _, err := s.Tag(names[i]); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// styleFile is the JSON form of a StyleTable:
//
//	{
//	  "colors": {"1": "#FFFF00", "2": "#FF0000"},
//	  "tags":   {"yellow": "Y", "red": "R"}
//	}
type styleFile struct {
	Colors map[string]string `json:"colors"`
	Tags   map[string]string `json:"tags"`
}

// LoadStyle reads a StyleTable from a JSON file.
func LoadStyle(path string) (StyleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return StyleTable{}, errors.Wrap(err, "failed to read style file")
	}
	style, err := ParseStyle(data)
	if err != nil {
		return StyleTable{}, errors.Wrapf(err, "style file %s", path)
	}
	return style, nil
}

// ParseStyle decodes the JSON form of a StyleTable. Colors are "#RRGGBB" hex
// keyed by label id; tags are keyed by display name. Both objects must be
// non-empty.
func ParseStyle(data []byte) (StyleTable, error) {
	var f styleFile
	if err := json.Unmarshal(data, &f); err != nil {
		return StyleTable{}, errors.Wrap(err, "failed to parse style")
	}
	if len(f.Colors) == 0 {
		return StyleTable{}, errors.New("style has no colors")
	}
	if len(f.Tags) == 0 {
		return StyleTable{}, errors.New("style has no tags")
	}

	style := StyleTable{
		Colors: make(map[int]color.RGBA, len(f.Colors)),
		Tags:   make(map[string]string, len(f.Tags)),
	}
	for key, hex := range f.Colors {
		id, err := strconv.Atoi(key)
		if err != nil {
			return StyleTable{}, errors.Errorf("color key %q is not a label id", key)
		}
		c, err := colorful.Hex(hex)
		if err != nil {
			return StyleTable{}, errors.Wrapf(err, "label %d", id)
		}
		r, g, b := c.RGB255()
		style.Colors[id] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	for name, tag := range f.Tags {
		style.Tags[name] = tag
	}
	return style, nil
}
