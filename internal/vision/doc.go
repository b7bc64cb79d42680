// Package vision provides the raster operations the calibration engine is
// built on: blur, morphology, edge detection, external contour extraction,
// polygon approximation and perspective warping.
//
// The operations are exposed through the Primitives interface so the engine
// never depends on a particular image-processing backend. Two backends exist:
//
//   - Native: pure Go, built on disintegration/imaging (blur), bild
//     (thresholding), paulmach/orb (polygon measures and Douglas-Peucker)
//     and gonum (homography solve). Morphology is a separable rectangular
//     min/max filter. Always available.
//   - OpenCV: gocv bindings, compiled only with the "gocv" build tag.
//
// # Rasters
//
// All rasters are *image.Gray. Functions accept rasters whose bounds do not
// start at the origin but always return rasters anchored at (0,0).
//
// # Resource handling
//
// Every primitive owns the intermediate buffers it creates and releases them
// before returning, on success and on failure. Callers only ever hold Go
// values; no backend handle escapes a call.
package vision
