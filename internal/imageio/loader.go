package imageio

import (
	"bufio"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/pkg/errors"
)

// Suffixes of the files derived from an image basename.
const (
	InputExt         = ".jpg"
	ResultSuffix     = "_results.jpg"
	ResultJSONSuffix = "_results.json"
)

// JPEGQuality is used for annotated results.
const JPEGQuality = 95

// ReadList reads image basenames from a list file, one per line. Surrounding
// whitespace is trimmed and blank lines are skipped.
func ReadList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open image list")
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read image list")
	}
	return names, nil
}

// InputPath returns <root>/<name>.jpg.
func InputPath(root, name string) string {
	return filepath.Join(root, name+InputExt)
}

// ResultPath returns <root>/<name>_results.jpg.
func ResultPath(root, name string) string {
	return filepath.Join(root, name+ResultSuffix)
}

// ResultJSONPath returns <root>/<name>_results.json.
func ResultJSONPath(root, name string) string {
	return filepath.Join(root, name+ResultJSONSuffix)
}

// CropPath returns <root>/<name>_crop<index>_<label>.jpg. Path separators in
// label are replaced with "_" so the file always lands directly in root.
func CropPath(root, name string, index int, label string) string {
	safe := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == filepath.Separator {
			return '_'
		}
		return r
	}, label)
	return filepath.Join(root, fmt.Sprintf("%s_crop%d_%s%s", name, index, safe, InputExt))
}

// Load decodes an image file.
func Load(path string) (image.Image, error) {
	img, err := imgio.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load image %s", path)
	}
	return img, nil
}

// Save encodes img to path, as PNG when the path ends in ".png" and as JPEG
// otherwise.
func Save(path string, img image.Image) error {
	encoder := imgio.JPEGEncoder(JPEGQuality)
	if strings.EqualFold(filepath.Ext(path), ".png") {
		encoder = imgio.PNGEncoder()
	}
	if err := imgio.Save(path, img, encoder); err != nil {
		return errors.Wrapf(err, "failed to save image %s", path)
	}
	return nil
}

// ImageInfo describes a loaded input image.
type ImageInfo struct {
	// Width is the image width in pixels.
	Width int `json:"width"`

	// Height is the image height in pixels.
	Height int `json:"height"`

	// Format is "jpeg", "png" or "unknown", judged by file extension.
	Format string `json:"format"`

	// FileSizeBytes is the size of the file on disk.
	FileSizeBytes int64 `json:"file_size_bytes"`
}

// Describe returns metadata about an image already decoded from path.
func Describe(path string, img image.Image) (*ImageInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to stat file")
	}

	format := "unknown"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		format = "jpeg"
	case ".png":
		format = "png"
	}

	bounds := img.Bounds()
	return &ImageInfo{
		Width:         bounds.Dx(),
		Height:        bounds.Dy(),
		Format:        format,
		FileSizeBytes: stat.Size(),
	}, nil
}
