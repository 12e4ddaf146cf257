// Package detect turns the raw multi-box output of an SSD-style detector into
// labeled detections.
//
// # Raw Output Layout
//
// The detector emits one row per candidate box, seven values per row:
//
//	[batch_idx, label_id, confidence, xmin, ymin, xmax, ymax]
//
// Rows arrive in a tensor shaped [1, 1, N, 7] (a plain [N, 7] matrix is also
// accepted). Coordinates are normalized to [0,1] relative to the input image.
// Row order is whatever the detector produced; it is not guaranteed to be
// sorted by confidence.
//
// # Filtering
//
// Filter keeps rows whose confidence is at least the threshold, in their
// original order, resolves every kept label id through a label map, and
// truncates to the first TopN rows. Coordinates are copied verbatim; turning
// them into pixels is left to the renderer.
//
// # Error Handling
//
// Both error classes are fatal to the call and no partial result is returned:
//   - ErrMalformedTensor for a wrong rank, a wrong column count or an
//     unsupported element type
//   - a label lookup error (matching labelmap.ErrUnknownLabel) when a kept row
//     names an id the label map does not define
package detect
