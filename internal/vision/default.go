//go:build !gocv

package vision

// Available reports whether the binary was built with the gocv tag.
const Available = false

// Default returns the preferred backend for this build.
func Default() Primitives { return NewNative() }
