// Package imageio handles the files around a detection run: the image list,
// decoding inputs, encoding annotated results and optionally handing them to
// the desktop image viewer.
//
// # File Layout
//
// A run works inside one image root directory:
//
//	<root>/test.txt               one basename per line, no extension
//	<root>/<name>.jpg             input image
//	<root>/<name>_results.jpg     annotated output
//	<root>/<name>_results.json    detections (optional)
//	<root>/<name>_crop<k>_<label>.jpg  one detection cut from the input (optional)
//
// # Formats
//
// Inputs may be JPEG or PNG (decoders are registered by bild's imgio). Results
// are written as JPEG at quality 95 unless the target path ends in ".png".
package imageio
