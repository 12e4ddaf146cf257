package annotate

import (
	"image"

	"github.com/disintegration/imaging"

	"github.com/waldow90/helmet-detection/internal/detect"
)

// CropResult is one detection cut out of the source image.
type CropResult struct {
	// Index is the detection's position in the kept list.
	Index     int
	LabelName string
	Region    image.Rectangle
	Image     *image.NRGBA
}

// Crop cuts the pixel box of each detection out of img.
//
// Parameters:
//   - img: The unannotated source image. It is not modified.
//   - dets: Detections with normalized coordinates.
//
// Returns:
//   - []CropResult: One entry per detection that overlaps the image, in input
//     order. Index keeps the detection's position so skipped boxes leave gaps.
//
// # Region
//
// The region matches the drawn box, corners inclusive, clamped to the image
// bounds. Detections that fall entirely outside the image are skipped.
func Crop(img image.Image, dets []detect.Detection) []CropResult {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	var crops []CropResult
	for i, det := range dets {
		box := Denormalize(det, w, h)
		region := image.Rect(box.Min.X, box.Min.Y, box.Max.X+1, box.Max.Y+1).
			Add(bounds.Min).
			Intersect(bounds)
		if region.Empty() {
			continue
		}
		crops = append(crops, CropResult{
			Index:     i,
			LabelName: det.LabelName,
			Region:    region,
			Image:     imaging.Crop(img, region),
		})
	}
	return crops
}
